package orchestrator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/starford/masail/internal/models"
)

const msgDocumentFailed = "Error loading document. Please try again later."

// DocumentAPI is what the document view calls.
type DocumentAPI interface {
	Document(ctx context.Context, id int) (*models.Document, error)
}

// DocumentState is a snapshot of the document view.
type DocumentState struct {
	Document *models.Document `json:"document,omitempty"`
	Status   Status           `json:"status"`
	Error    string           `json:"error,omitempty"`
}

// DocumentView loads a single document by id.
type DocumentView struct {
	api DocumentAPI
	log *slog.Logger

	mu     sync.Mutex
	doc    *models.Document
	status Status
	errMsg string
	seq    uint64
}

// NewDocumentView creates a document view.
func NewDocumentView(api DocumentAPI, logger *slog.Logger) *DocumentView {
	return &DocumentView{api: api, log: logger.With("view", "document"), status: StatusIdle}
}

// Load fetches document id. A newer Load supersedes an older one.
func (v *DocumentView) Load(ctx context.Context, id int) (*models.Document, error) {
	v.mu.Lock()
	v.seq++
	seq := v.seq
	v.status = StatusPending
	v.errMsg = ""
	v.mu.Unlock()

	doc, err := v.api.Document(ctx, id)

	v.mu.Lock()
	defer v.mu.Unlock()
	if seq != v.seq {
		return nil, ErrSuperseded
	}
	if err != nil {
		v.log.Error("load document failed", slog.Int("id", id), slog.String("error", err.Error()))
		v.doc = nil
		v.status = StatusError
		v.errMsg = msgDocumentFailed
		return nil, viewErr(msgDocumentFailed, err)
	}
	v.doc = doc
	v.status = StatusSuccess
	return doc, nil
}

// State returns a snapshot of the view.
func (v *DocumentView) State() DocumentState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return DocumentState{Document: v.doc, Status: v.status, Error: v.errMsg}
}
