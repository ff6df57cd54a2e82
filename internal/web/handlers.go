package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/masail/internal/apperr"
	"github.com/starford/masail/internal/client"
	"github.com/starford/masail/internal/models"
	"github.com/starford/masail/internal/orchestrator"
	"github.com/starford/masail/internal/routes"
)

const (
	msgLoginFailed   = "Login failed"
	msgTokenRetained = "Logged out, but the stored session could not be removed and may return on restart"
)

// Live handles GET /health/live.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /health/ready. It reports ready once the initial
// session check has settled.
func (h *Handler) Ready(w http.ResponseWriter, _ *http.Request) {
	select {
	case <-h.sessions.Settled():
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	default:
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
	}
}

// SearchView handles GET /. It returns the current search state and the
// filter vocabulary; no search is issued.
func (h *Handler) SearchView(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"search": h.views.Search.State()}
	facets, err := h.views.Search.LoadFacets(r.Context())
	if err != nil {
		resp["facetsError"] = orchestrator.Message(err)
	} else {
		resp["facets"] = facets
	}
	writeJSON(w, http.StatusOK, resp)
}

// SubmitSearch handles POST /. The body carries the criteria.
func (h *Handler) SubmitSearch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var c orchestrator.Criteria
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	h.views.Search.SetCriteria(c)
	st, err := h.views.Search.Submit(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, st)
	case errors.Is(err, orchestrator.ErrSuperseded):
		writeJSON(w, http.StatusConflict, errorBody("superseded by a newer search"))
	case errors.Is(err, apperr.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, st)
	default:
		writeJSON(w, http.StatusBadGateway, st)
	}
}

// DocumentView handles GET /document/{id}.
func (h *Handler) DocumentView(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid document id"))
		return
	}
	doc, err := h.views.Document.Load(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, doc)
	case errors.Is(err, orchestrator.ErrSuperseded):
		writeJSON(w, http.StatusConflict, errorBody("superseded by a newer request"))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody(orchestrator.Message(err)))
	default:
		writeJSON(w, http.StatusBadGateway, errorBody(orchestrator.Message(err)))
	}
}

// Login handles POST /admin/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var creds models.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := h.sessions.Login(r.Context(), creds); err != nil {
		if errors.Is(err, apperr.ErrInvalidInput) {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
		msg := client.Detail(err)
		if msg == "" {
			msg = msgLoginFailed
		}
		writeJSON(w, http.StatusUnauthorized, errorBody(msg))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":  h.sessions.Snapshot(),
		"redirect": routes.Admin,
	})
}

// Logout handles POST /admin/logout. The in-memory session is always
// cleared even if the persisted token could not be removed.
func (h *Handler) Logout(w http.ResponseWriter, _ *http.Request) {
	err := h.sessions.Logout()
	body := map[string]any{
		"session":  h.sessions.Snapshot(),
		"redirect": routes.Login,
	}
	if err != nil {
		h.log.Error("logout: remove persisted token", slog.String("error", err.Error()))
		body["warning"] = msgTokenRetained
	}
	writeJSON(w, http.StatusOK, body)
}

// Dashboard handles GET /admin.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	st, err := h.views.Dashboard.Load(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, st)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ApprovalQueue handles GET /admin/approval.
func (h *Handler) ApprovalQueue(w http.ResponseWriter, r *http.Request) {
	st, err := h.views.Approval.Fetch(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, st)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Decide handles POST /admin/approval/{id} with body {"approved": bool}.
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid document id"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req models.ApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	st, err := h.views.Approval.Decide(r.Context(), id, req.Approved)
	switch {
	case err == nil:
		if h.events != nil {
			h.events.PublishDecision(id, req.Approved)
		}
		writeJSON(w, http.StatusOK, st)
	case errors.Is(err, apperr.ErrInFlight):
		writeJSON(w, http.StatusConflict, errorBody("decision already in progress"))
	default:
		writeJSON(w, http.StatusBadGateway, st)
	}
}

// UploadView handles GET /admin/upload.
func (h *Handler) UploadView(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.views.Upload.State())
}

// Upload handles multipart POST /admin/upload with a "file" field. The part
// is spooled to a temp file, validated by content and then forwarded.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if !h.uploadMu.TryLock() {
		writeJSON(w, http.StatusConflict, errorBody("an upload is already in progress"))
		return
	}
	defer h.uploadMu.Unlock()

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.views.Upload.Clear()
		_, submitErr := h.views.Upload.Submit(r.Context(), nil)
		writeJSON(w, http.StatusBadRequest, errorBody(orchestrator.Message(submitErr)))
		return
	}
	defer file.Close()

	dir, err := os.MkdirTemp("", "masail-upload-*")
	if err != nil {
		h.log.Error("upload: create temp dir", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	defer os.RemoveAll(dir)
	// The spooled file does not outlive this request.
	defer h.views.Upload.Deselect()

	name := filepath.Base(header.Filename)
	if name == "." || name == string(filepath.Separator) {
		name = "upload"
	}
	path := filepath.Join(dir, name)
	if err := spool(path, file); err != nil {
		h.log.Error("upload: spool", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	if _, err := h.views.Upload.Select(path); err != nil {
		writeJSON(w, http.StatusUnsupportedMediaType, errorBody(orchestrator.Message(err)))
		return
	}

	next, err := h.views.Upload.Submit(r.Context(), func(pct int) {
		if h.events != nil {
			h.events.PublishProgress(name, pct)
		}
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, map[string]any{
			"upload":   h.views.Upload.State(),
			"redirect": next,
		})
	case errors.Is(err, apperr.ErrInFlight):
		writeJSON(w, http.StatusConflict, errorBody("an upload is already in progress"))
	default:
		writeJSON(w, http.StatusBadGateway, errorBody(orchestrator.Message(err)))
	}
}

func spool(path string, src io.Reader) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
