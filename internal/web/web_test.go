package web

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/masail/internal/client"
	"github.com/starford/masail/internal/endpoint"
	"github.com/starford/masail/internal/orchestrator"
	"github.com/starford/masail/internal/routes"
	"github.com/starford/masail/internal/session"
	"github.com/starford/masail/internal/sse"
	"github.com/starford/masail/internal/testutil"
)

type testEnv struct {
	api    *testutil.FakeAPI
	store  *session.Store
	broker *sse.Broker
	router http.Handler
}

// newTestEnv wires a router over a fake API. The session check has not run.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	api := testutil.NewFakeAPI(t)
	reg, err := endpoint.New(api.URL())
	require.NoError(t, err)

	log := testutil.Logger()
	base := client.New(reg, client.WithLogger(log))
	store := session.New(base, testutil.TestStorage(t), session.WithLogger(log))
	t.Cleanup(func() { _ = store.Close() })
	authed := base.WithTokens(store)

	broker := sse.NewBroker(time.Millisecond)
	t.Cleanup(broker.Close)

	views := Views{
		Search:    orchestrator.NewSearch(authed, time.Minute, log),
		Document:  orchestrator.NewDocumentView(authed, log),
		Approval:  orchestrator.NewApproval(authed, log),
		Dashboard: orchestrator.NewDashboard(authed, log),
		Upload:    orchestrator.NewUpload(authed, orchestrator.DefaultAcceptedMIME, log),
	}
	return &testEnv{api: api, store: store, broker: broker, router: NewRouter(store, views, broker, log)}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) login(t *testing.T) {
	t.Helper()
	e.store.CheckSession(context.Background())
	w := e.do(t, http.MethodPost, routes.Login, `{"username":"admin","password":"secret"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/health/live", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, e.do(t, http.MethodGet, "/health/ready", "").Code)

	e.store.CheckSession(context.Background())
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/health/ready", "").Code)
}

func TestSearchView_NoSearchIssued(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, routes.Search, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[struct {
		Search orchestrator.SearchState `json:"search"`
		Facets orchestrator.Facets      `json:"facets"`
	}](t, w)
	assert.Equal(t, orchestrator.StatusIdle, body.Search.Status)
	assert.Len(t, body.Facets.Madhabs, 4)
	assert.Empty(t, e.api.CallsTo("/api/documents/search"))
}

func TestSubmitSearch(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, routes.Search, `{"query":"zakat"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	st := decode[orchestrator.SearchState](t, w)
	require.Len(t, st.Results, 1)
	assert.Equal(t, 1, st.Results[0].ID)

	calls := e.api.CallsTo("/api/documents/search")
	require.Len(t, calls, 1)
	assert.JSONEq(t, `{"query":"zakat","madhab_ids":[],"category_ids":[]}`, string(calls[0].Body))
}

func TestSubmitSearch_BackendFailure(t *testing.T) {
	e := newTestEnv(t)
	e.api.Fail("/api/documents/search", http.StatusInternalServerError, "")

	w := e.do(t, http.MethodPost, routes.Search, `{"query":"zakat"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	st := decode[orchestrator.SearchState](t, w)
	assert.Equal(t, "Failed to search documents", st.Error)
}

func TestDocumentView(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, routes.DocumentPath(1), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Zakat Profesi")

	w = e.do(t, http.MethodGet, routes.DocumentPath(42), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Error loading document. Please try again later.")

	w = e.do(t, http.MethodGet, "/document/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdmin_RedirectsWhenLoggedOut(t *testing.T) {
	e := newTestEnv(t)
	e.store.CheckSession(context.Background())

	for _, path := range []string{routes.Admin, routes.Approval, routes.Upload} {
		w := e.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusSeeOther, w.Code, path)
		assert.Equal(t, routes.Login, w.Header().Get("Location"), path)
	}
	assert.Empty(t, e.api.CallsTo("/admin/stats"))
}

func TestAdmin_DefersUntilSessionSettles(t *testing.T) {
	e := newTestEnv(t)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		w := httptest.NewRecorder()
		e.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, routes.Admin, nil))
		done <- w
	}()

	select {
	case <-done:
		t.Fatal("request answered before the session settled")
	case <-time.After(50 * time.Millisecond):
	}

	e.store.CheckSession(context.Background())
	select {
	case w := <-done:
		assert.Equal(t, http.StatusSeeOther, w.Code)
	case <-time.After(time.Second):
		t.Fatal("request not answered after the session settled")
	}
}

func TestLoginThenDashboard(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	w := e.do(t, http.MethodGet, routes.Admin, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	st := decode[orchestrator.DashboardState](t, w)
	assert.Equal(t, 2, st.Stats.TotalDocuments)
	assert.Equal(t, 3, st.Stats.PendingApprovals)
}

func TestLogin_WrongPassword(t *testing.T) {
	e := newTestEnv(t)
	e.store.CheckSession(context.Background())

	w := e.do(t, http.MethodPost, routes.Login, `{"username":"admin","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Incorrect username or password")
	assert.False(t, e.store.Snapshot().IsAuthenticated)

	w = e.do(t, http.MethodPost, routes.Login, `{"username":"","password":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogout(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	w := e.do(t, http.MethodPost, "/admin/logout", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"redirect":"/admin/login"`)

	w = e.do(t, http.MethodGet, routes.Admin, "")
	assert.Equal(t, http.StatusSeeOther, w.Code)
}

func TestApproval_DecidePublishesEvent(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)
	events := e.broker.Subscribe()
	defer e.broker.Unsubscribe(events)

	w := e.do(t, http.MethodGet, routes.Approval, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[orchestrator.ApprovalState](t, w).Items, 3)

	w = e.do(t, http.MethodPost, routes.Approval+"/11", `{"approved":false}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	st := decode[orchestrator.ApprovalState](t, w)
	require.Len(t, st.Items, 2)
	assert.Equal(t, 10, st.Items[0].ID)
	assert.Equal(t, 12, st.Items[1].ID)

	select {
	case msg := <-events:
		assert.Contains(t, string(msg), "event: document.rejected")
		assert.Contains(t, string(msg), `{"id":11}`)
	case <-time.After(time.Second):
		t.Fatal("no decision event")
	}
}

func multipartBody(t *testing.T, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (e *testEnv) upload(t *testing.T, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, filename, data)
	req := httptest.NewRequest(http.MethodPost, routes.Upload, body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestUpload_PDF(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)
	events := e.broker.Subscribe()
	defer e.broker.Unsubscribe(events)

	w := e.upload(t, "fatwa.pdf", testutil.PDF)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"redirect":"/admin"`)

	ups := e.api.Uploads()
	require.Len(t, ups, 1)
	assert.Equal(t, "fatwa.pdf", ups[0].Filename)
	assert.Equal(t, "application/pdf", ups[0].ContentType)

	deadline := time.After(time.Second)
	for {
		select {
		case msg := <-events:
			if strings.Contains(string(msg), `"percent":100`) {
				return
			}
		case <-deadline:
			t.Fatal("final progress event not delivered")
		}
	}
}

func TestUpload_RejectsNonPDF(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	w := e.upload(t, "notes.pdf", []byte("just some text"))
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	assert.Contains(t, w.Body.String(), "Please select a valid PDF file")
	assert.Empty(t, e.api.CallsTo("/admin/upload"))
}

func TestUpload_ServerDetail(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)
	e.api.Fail("/admin/upload", http.StatusBadRequest, "Duplicate document")

	w := e.upload(t, "fatwa.pdf", testutil.PDF)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "Duplicate document")

	// The spooled temp file is gone, so the view must not still offer it.
	w = e.do(t, http.MethodGet, routes.Upload, "")
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[orchestrator.UploadState](t, w)
	assert.Nil(t, st.Selection)
	assert.Equal(t, orchestrator.StatusError, st.Status)
	assert.Equal(t, "Duplicate document", st.Error)
}
