// Package testutil provides an in-process fake of the Bahtsul Masail API
// and other shared test helpers.
package testutil

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/starford/masail/internal/models"
	"github.com/starford/masail/internal/storage"
)

// Call is one request observed by the fake API.
type Call struct {
	Method string
	Path   string
	Auth   string
	Body   []byte
}

// Upload is a file received by the fake upload endpoint.
type Upload struct {
	Filename    string
	ContentType string
	Size        int
}

// FakeAPI serves the REST surface the client talks to, backed by in-memory fixtures.
type FakeAPI struct {
	Server *httptest.Server

	Username string
	Password string
	Token    string
	User     models.User

	mu         sync.Mutex
	documents  []models.Document
	madhabs    []models.Madhab
	categories []models.Category
	pending    []models.PendingDocument
	stats      string
	published  map[int]string
	calls      []Call
	uploads    []Upload
	failures   map[string]failure

	// BeforeSearch, if set, runs before a search is answered (it may block).
	BeforeSearch func(models.SearchRequest)
}

type failure struct {
	status int
	detail string
}

// NewFakeAPI starts a fake API with a small fixture set. It is closed on test cleanup.
func NewFakeAPI(t *testing.T) *FakeAPI {
	t.Helper()
	f := &FakeAPI{
		Username: "admin",
		Password: "secret",
		Token:    "tok-admin",
		User:     models.User{ID: 1, Username: "admin", Role: "admin"},
		madhabs: []models.Madhab{
			{ID: 1, Name: "Hanafi"}, {ID: 2, Name: "Maliki"},
			{ID: 3, Name: "Shafi'i"}, {ID: 4, Name: "Hanbali"},
		},
		categories: []models.Category{
			{ID: 1, Name: "Ibadah"}, {ID: 2, Name: "Muamalah"},
		},
		failures: map[string]failure{},
	}
	f.documents = []models.Document{
		{
			DocumentSummary: models.DocumentSummary{
				ID: 1, Title: "Zakat Profesi", Question: "Apakah zakat profesi wajib?",
				Madhabs: []models.Madhab{f.madhabs[2]}, Categories: []models.Category{f.categories[0]},
			},
			Answer: "Wajib menurut sebagian ulama.",
		},
		{
			DocumentSummary: models.DocumentSummary{
				ID: 2, Title: "Jual Beli Online", Question: "Bagaimana hukum jual beli online?",
				Madhabs: []models.Madhab{f.madhabs[0]}, Categories: []models.Category{f.categories[1]},
			},
			Answer:   "Sah dengan syarat.",
			Mushoheh: "KH. Fulan",
		},
	}
	f.pending = []models.PendingDocument{
		{ID: 10, Title: "Shalat Jumat Online", Question: "q10", Answer: "a10"},
		{ID: 11, Title: "Zakat Saham", Question: "q11", Answer: "a11"},
		{ID: 12, Title: "Wakaf Uang", Question: "q12", Answer: "a12"},
	}
	// Timestamps are sent the way the backend serializes naive datetimes.
	f.published = map[int]string{2: "2024-03-01T10:20:30.123456"}
	f.stats = `{"totalDocuments":2,"pendingApprovals":3,"recentUploads":[` +
		`{"title":"Wakaf Uang","uploadDate":"2024-03-01T10:20:30.123456","status":"pending"}]}`

	f.Server = httptest.NewServer(f.router())
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the fake's base URL.
func (f *FakeAPI) URL() string { return f.Server.URL }

// Fail makes requests to path answer status with detail until cleared with status 0.
func (f *FakeAPI) Fail(path string, status int, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status == 0 {
		delete(f.failures, path)
		return
	}
	f.failures[path] = failure{status: status, detail: detail}
}

// Calls returns a copy of the observed requests.
func (f *FakeAPI) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns the observed requests to path.
func (f *FakeAPI) CallsTo(path string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

// Uploads returns the files received so far.
func (f *FakeAPI) Uploads() []Upload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Upload(nil), f.uploads...)
}

// PendingIDs returns the ids still pending on the server side.
func (f *FakeAPI) PendingIDs() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]int, len(f.pending))
	for i, p := range f.pending {
		ids[i] = p.ID
	}
	return ids
}

func (f *FakeAPI) router() http.Handler {
	r := chi.NewRouter()
	r.Use(f.record)
	r.Post("/api/auth/login", f.login)
	r.Get("/api/auth/me", f.authed(f.me))
	r.Post("/api/documents/search", f.search)
	r.Get("/api/documents/{id}", f.document)
	r.Get("/api/madhabs", func(w http.ResponseWriter, _ *http.Request) { writeJSON(w, http.StatusOK, f.madhabs) })
	r.Get("/api/categories", func(w http.ResponseWriter, _ *http.Request) { writeJSON(w, http.StatusOK, f.categories) })
	r.Get("/admin/stats", f.authed(func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, f.stats)
	}))
	r.Get("/admin/pending-documents", f.authed(func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, http.StatusOK, f.pending)
	}))
	r.Post("/admin/documents/{id}/approve", f.authed(f.approve))
	r.Post("/admin/upload", f.authed(f.upload))
	return r
}

// record logs every call and applies injected failures.
func (f *FakeAPI) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
			body, _ = io.ReadAll(r.Body)
			r.Body = io.NopCloser(strings.NewReader(string(body)))
		}
		f.mu.Lock()
		f.calls = append(f.calls, Call{Method: r.Method, Path: r.URL.Path, Auth: r.Header.Get("Authorization"), Body: body})
		fail, failing := f.failures[r.URL.Path]
		f.mu.Unlock()
		if failing {
			if fail.detail == "" {
				w.WriteHeader(fail.status)
				return
			}
			writeJSON(w, fail.status, map[string]string{"detail": fail.detail})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeAPI) authed(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+f.Token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Could not validate credentials"})
			return
		}
		h(w, r)
	}
}

func (f *FakeAPI) login(w http.ResponseWriter, r *http.Request) {
	var creds models.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": []map[string]string{{"msg": "invalid body"}}})
		return
	}
	if creds.Username != f.Username || creds.Password != f.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Incorrect username or password"})
		return
	}
	writeJSON(w, http.StatusOK, models.LoginResponse{AccessToken: f.Token, TokenType: "bearer", User: &f.User})
}

func (f *FakeAPI) me(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, f.User)
}

func (f *FakeAPI) search(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid body"})
		return
	}
	if f.BeforeSearch != nil {
		f.BeforeSearch(req)
	}
	q := strings.ToLower(req.Query)
	out := []models.DocumentSummary{}
	for _, d := range f.documents {
		if q != "" && !strings.Contains(strings.ToLower(d.Title+" "+d.Question+" "+d.Answer), q) {
			continue
		}
		if len(req.MadhabIDs) > 0 && !hasFacet(d.Madhabs, req.MadhabIDs) {
			continue
		}
		if len(req.CategoryIDs) > 0 && !hasFacet(d.Categories, req.CategoryIDs) {
			continue
		}
		out = append(out, d.DocumentSummary)
	}
	writeJSON(w, http.StatusOK, out)
}

func hasFacet(facets []models.Facet, ids []int) bool {
	for _, f := range facets {
		for _, id := range ids {
			if f.ID == id {
				return true
			}
		}
	}
	return false
}

func (f *FakeAPI) document(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))
	for _, d := range f.documents {
		if d.ID == id {
			writeJSON(w, http.StatusOK, f.documentBody(d))
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Document not found"})
}

func (f *FakeAPI) documentBody(d models.Document) any {
	date, ok := f.published[d.ID]
	if !ok {
		return d
	}
	data, _ := json.Marshal(d)
	var body map[string]any
	_ = json.Unmarshal(data, &body)
	body["publication_date"] = date
	return body
}

func (f *FakeAPI) approve(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))
	var req models.ApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid body"})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.pending {
		if p.ID == id {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			writeJSON(w, http.StatusOK, map[string]any{"id": id, "approved": req.Approved})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Document not found"})
}

func (f *FakeAPI) upload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "missing file"})
		return
	}
	defer file.Close()
	data, _ := io.ReadAll(file)
	ct := header.Header.Get("Content-Type")
	if ct != "application/pdf" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Only PDF files are allowed"})
		return
	}
	f.mu.Lock()
	f.uploads = append(f.uploads, Upload{Filename: header.Filename, ContentType: ct, Size: len(data)})
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"filename": header.Filename, "status": "pending"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// TestStorage returns a file-backed token store in a temp directory.
func TestStorage(t *testing.T) storage.Provider {
	t.Helper()
	p, err := storage.NewFS(filepath.Join(t.TempDir(), "client.json"))
	if err != nil {
		t.Fatal(err)
	}
	return p
}

// Logger returns a logger that discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// PDF is a minimal byte sequence detected as application/pdf.
var PDF = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")
