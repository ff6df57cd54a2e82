package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gabriel-vasile/mimetype"

	"github.com/starford/masail/internal/apperr"
	"github.com/starford/masail/internal/client"
	"github.com/starford/masail/internal/routes"
)

const (
	// DefaultAcceptedMIME is the only document type the backend ingests.
	DefaultAcceptedMIME = "application/pdf"

	msgInvalidFile  = "Please select a valid PDF file"
	msgNoFile       = "Please select a file to upload"
	msgUploadFailed = "Failed to upload document"
)

// UploadAPI is what the upload view calls.
type UploadAPI interface {
	Upload(ctx context.Context, f client.UploadFile, progress client.ProgressFunc) error
}

// Selection is a locally validated file waiting to be uploaded.
type Selection struct {
	Path     string `json:"-"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MIMEType string `json:"mime_type"`
}

// UploadState is a snapshot of the upload view.
type UploadState struct {
	Selection *Selection `json:"selection,omitempty"`
	Progress  int        `json:"progress"`
	Status    Status     `json:"status"`
	Error     string     `json:"error,omitempty"`
}

// Upload is the single-file upload view. Only one upload runs at a time.
type Upload struct {
	api      UploadAPI
	accepted string
	log      *slog.Logger

	mu       sync.Mutex
	sel      *Selection
	progress int
	status   Status
	errMsg   string
	running  bool
}

// NewUpload creates an upload view accepting files of the given MIME type.
func NewUpload(api UploadAPI, accepted string, logger *slog.Logger) *Upload {
	if accepted == "" {
		accepted = DefaultAcceptedMIME
	}
	return &Upload{api: api, accepted: accepted, log: logger.With("view", "upload"), status: StatusIdle}
}

// Select validates the file at path by content sniffing. A file of the
// wrong type clears the selection and sets a visible error; nothing is
// sent over the network.
func (u *Upload) Select(path string) (UploadState, error) {
	info, err := os.Stat(path)
	if err != nil {
		return u.reject(msgNoFile, fmt.Errorf("%w: %w", apperr.ErrNoFile, err))
	}
	if info.IsDir() {
		return u.reject(msgNoFile, fmt.Errorf("%s is a directory: %w", path, apperr.ErrNoFile))
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return u.reject(msgInvalidFile, fmt.Errorf("detect %s: %w", path, err))
	}
	if !mt.Is(u.accepted) {
		u.log.Warn("rejected file type", slog.String("path", path), slog.String("mime", mt.String()))
		return u.reject(msgInvalidFile, fmt.Errorf("%s is %s: %w", filepath.Base(path), mt.String(), apperr.ErrInvalidFileType))
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	u.sel = &Selection{Path: path, Name: filepath.Base(path), Size: info.Size(), MIMEType: u.accepted}
	u.errMsg = ""
	u.progress = 0
	return u.stateLocked(), nil
}

func (u *Upload) reject(msg string, err error) (UploadState, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sel = nil
	u.errMsg = msg
	return u.stateLocked(), viewErr(msg, err)
}

// Clear drops the current selection and any error.
func (u *Upload) Clear() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.running {
		return
	}
	u.sel = nil
	u.errMsg = ""
	u.progress = 0
	u.status = StatusIdle
}

// Deselect drops the current selection but keeps the status and any
// visible error of the last attempt.
func (u *Upload) Deselect() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.running {
		return
	}
	u.sel = nil
}

// Submit uploads the selected file. onProgress (optional) observes the
// percentages, which never decrease and reach 100 only on success. On
// success it returns the route to navigate to next.
func (u *Upload) Submit(ctx context.Context, onProgress client.ProgressFunc) (string, error) {
	u.mu.Lock()
	if u.running {
		u.mu.Unlock()
		return "", fmt.Errorf("upload: %w", apperr.ErrInFlight)
	}
	if u.sel == nil {
		u.errMsg = msgNoFile
		u.mu.Unlock()
		return "", viewErr(msgNoFile, apperr.ErrNoFile)
	}
	sel := *u.sel
	u.running = true
	u.status = StatusPending
	u.progress = 0
	u.errMsg = ""
	u.mu.Unlock()

	err := u.send(ctx, sel, onProgress)

	u.mu.Lock()
	defer u.mu.Unlock()
	u.running = false
	if err != nil {
		msg := client.Detail(err)
		if msg == "" {
			msg = msgUploadFailed
		}
		u.log.Error("upload failed", slog.String("file", sel.Name), slog.String("error", err.Error()))
		u.status = StatusError
		u.errMsg = msg
		u.progress = 0
		return "", viewErr(msg, err)
	}
	u.log.Info("document uploaded", slog.String("file", sel.Name), slog.Int64("size", sel.Size))
	u.status = StatusSuccess
	u.sel = nil
	return routes.Admin, nil
}

func (u *Upload) send(ctx context.Context, sel Selection, onProgress client.ProgressFunc) error {
	f, err := os.Open(sel.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %w", apperr.ErrNoFile, err)
		}
		return fmt.Errorf("open %s: %w", sel.Path, err)
	}
	defer f.Close()

	return u.api.Upload(ctx, client.UploadFile{
		Name:        sel.Name,
		ContentType: sel.MIMEType,
		Size:        sel.Size,
		Body:        f,
	}, func(pct int) {
		u.mu.Lock()
		if pct > u.progress {
			u.progress = pct
		}
		u.mu.Unlock()
		if onProgress != nil {
			onProgress(pct)
		}
	})
}

// State returns a snapshot of the view.
func (u *Upload) State() UploadState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stateLocked()
}

func (u *Upload) stateLocked() UploadState {
	st := UploadState{Progress: u.progress, Status: u.status, Error: u.errMsg}
	if u.sel != nil {
		s := *u.sel
		st.Selection = &s
	}
	return st
}
