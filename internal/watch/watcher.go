// Package watch uploads documents dropped into a local directory.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/masail/internal/apperr"
	"github.com/starford/masail/internal/checksum"
	"github.com/starford/masail/internal/client"
	"github.com/starford/masail/internal/gate"
	"github.com/starford/masail/internal/orchestrator"
	"github.com/starford/masail/internal/storage"
)

const (
	debounceDelay = 200 * time.Millisecond
	ledgerPrefix  = "upload:"
)

// Uploader is the upload view the watcher drives.
type Uploader interface {
	Select(path string) (orchestrator.UploadState, error)
	Submit(ctx context.Context, onProgress client.ProgressFunc) (string, error)
}

// ProgressCallback is called with upload progress of a dropped file.
type ProgressCallback func(file string, percent int)

// Watch starts an fsnotify watcher on dir and uploads each new or changed
// file once its writes have settled, until ctx is cancelled.
//
// Uploads only happen while the session is authenticated. Files whose
// content was already uploaded (tracked by checksum in ledger) are skipped,
// as are files of a type the uploader rejects.
func Watch(ctx context.Context, dir string, up Uploader, sessions gate.SessionSource, ledger storage.Provider, logger *slog.Logger, cb ProgressCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, dir); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("dir", dir))

	ready := make(chan string, 64)
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	schedule := func(path string) {
		if t, ok := timers[path]; ok {
			t.Reset(debounceDelay)
			return
		}
		timers[path] = time.AfterFunc(debounceDelay, func() {
			select {
			case ready <- path:
			case <-ctx.Done():
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("watcher: stopped")
			return nil

		case path := <-ready:
			delete(timers, path)
			process(ctx, path, up, sessions, ledger, logger, cb)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					continue
				}
			}
			if ignored(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				schedule(ev.Name)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func process(ctx context.Context, path string, up Uploader, sessions gate.SessionSource, ledger storage.Provider, logger *slog.Logger, cb ProgressCallback) {
	log := logger.With(slog.String("path", path))

	if err := gate.Require(ctx, sessions); err != nil {
		log.Warn("watcher: not logged in, skipping")
		return
	}

	sum, err := checksum.SumFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn("watcher: checksum failed", slog.String("error", err.Error()))
		}
		return
	}
	if prev, err := ledger.Get(ledgerPrefix + sum); err == nil {
		log.Debug("watcher: already uploaded", slog.String("as", prev))
		return
	} else if !errors.Is(err, apperr.ErrNotFound) {
		log.Warn("watcher: ledger read failed", slog.String("error", err.Error()))
	}

	if _, err := up.Select(path); err != nil {
		log.Info("watcher: skipped", slog.String("reason", orchestrator.Message(err)))
		return
	}

	name := filepath.Base(path)
	var progress client.ProgressFunc
	if cb != nil {
		progress = func(pct int) { cb(name, pct) }
	}
	if _, err := up.Submit(ctx, progress); err != nil {
		log.Error("watcher: upload failed", slog.String("error", orchestrator.Message(err)))
		return
	}
	if err := ledger.Set(ledgerPrefix+sum, name); err != nil {
		log.Warn("watcher: ledger write failed", slog.String("error", err.Error()))
	}
	log.Info("watcher: uploaded", slog.String("checksum", sum))
}

// ignored filters hidden files and editor or partial-download leftovers.
func ignored(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") ||
		strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".part") ||
		strings.HasSuffix(base, ".crdownload")
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
