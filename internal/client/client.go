// Package client is the HTTP transport for the Bahtsul Masail REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/masail/internal/apperr"
	"github.com/starford/masail/internal/endpoint"
	"github.com/starford/masail/internal/models"
)

const defaultTimeout = 30 * time.Second

// TokenSource yields the current bearer token, or "" when there is none.
type TokenSource interface {
	Token() string
}

// APIError is a non-2xx response from the API.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Detail)
}

// Detail returns the server-provided error detail carried by err, if any.
func Detail(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Detail
	}
	return ""
}

// Client issues requests against the endpoints of a Registry.
type Client struct {
	endpoints  *endpoint.Registry
	httpClient *http.Client
	tokens     TokenSource
	log        *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a Client for the given registry.
func New(endpoints *endpoint.Registry, opts ...Option) *Client {
	c := &Client{
		endpoints:  endpoints,
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "client")
	return c
}

// WithTokens returns a copy of c that authenticates admin calls with ts.
func (c *Client) WithTokens(ts TokenSource) *Client {
	cp := *c
	cp.tokens = ts
	return &cp
}

// Endpoints returns the registry the client was built with.
func (c *Client) Endpoints() *endpoint.Registry { return c.endpoints }

func (c *Client) bearer() (string, error) {
	if c.tokens == nil {
		return "", apperr.ErrUnauthenticated
	}
	tok := c.tokens.Token()
	if tok == "" {
		return "", apperr.ErrUnauthenticated
	}
	return tok, nil
}

// do sends a request and decodes a JSON response into out (if non-nil).
func (c *Client) do(ctx context.Context, method, url, token string, body any, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encode body: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return fmt.Errorf("client: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, token, out)
}

func (c *Client) send(req *http.Request, token string, out any) error {
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.ErrorContext(req.Context(), "request failed",
			slog.String("method", req.Method),
			slog.String("url", req.URL.String()),
			slog.String("request_id", reqID),
			slog.String("error", err.Error()))
		return fmt.Errorf("client: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	c.log.DebugContext(req.Context(), "request done",
		slog.String("method", req.Method),
		slog.String("url", req.URL.String()),
		slog.String("request_id", reqID),
		slog.Int("status", resp.StatusCode),
		slog.Duration("took", time.Since(start)))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("client: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Detail: parseDetail(data)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("client: decode json: %w", err)
	}
	return nil
}

// parseDetail extracts FastAPI's "detail" field, which is either a string
// or a list of validation errors with a "msg" each.
func parseDetail(data []byte) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	if len(body.Detail) == 0 {
		return body.Error
	}
	var s string
	if err := json.Unmarshal(body.Detail, &s); err == nil {
		return s
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(body.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, creds models.Credentials) (*models.LoginResponse, error) {
	var out models.LoginResponse
	if err := c.do(ctx, http.MethodPost, c.endpoints.Login(), "", creds, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("client: login response has no access_token")
	}
	return &out, nil
}

// Me validates token and returns the identity it belongs to.
func (c *Client) Me(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, apperr.ErrUnauthenticated
	}
	var out models.User
	if err := c.do(ctx, http.MethodGet, c.endpoints.Me(), token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Search posts a search request.
func (c *Client) Search(ctx context.Context, req models.SearchRequest) ([]models.DocumentSummary, error) {
	if req.MadhabIDs == nil {
		req.MadhabIDs = []int{}
	}
	if req.CategoryIDs == nil {
		req.CategoryIDs = []int{}
	}
	var out []models.DocumentSummary
	if err := c.do(ctx, http.MethodPost, c.endpoints.Search(), "", req, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.DocumentSummary{}
	}
	return out, nil
}

// Document fetches a single document. A 404 maps to apperr.ErrNotFound.
func (c *Client) Document(ctx context.Context, id int) (*models.Document, error) {
	var out models.Document
	err := c.do(ctx, http.MethodGet, c.endpoints.Document(id), "", nil, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil, fmt.Errorf("document %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Madhabs lists the madhab facets.
func (c *Client) Madhabs(ctx context.Context) ([]models.Madhab, error) {
	var out []models.Madhab
	if err := c.do(ctx, http.MethodGet, c.endpoints.Madhabs(), "", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Categories lists the category facets.
func (c *Client) Categories(ctx context.Context) ([]models.Category, error) {
	var out []models.Category
	if err := c.do(ctx, http.MethodGet, c.endpoints.Categories(), "", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Stats fetches the admin dashboard aggregates.
func (c *Client) Stats(ctx context.Context) (*models.Stats, error) {
	tok, err := c.bearer()
	if err != nil {
		return nil, err
	}
	var out models.Stats
	if err := c.do(ctx, http.MethodGet, c.endpoints.AdminStats(), tok, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PendingDocuments lists documents awaiting approval.
func (c *Client) PendingDocuments(ctx context.Context) ([]models.PendingDocument, error) {
	tok, err := c.bearer()
	if err != nil {
		return nil, err
	}
	var out []models.PendingDocument
	if err := c.do(ctx, http.MethodGet, c.endpoints.PendingDocuments(), tok, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.PendingDocument{}
	}
	return out, nil
}

// Approve records an approve (true) or reject (false) decision.
func (c *Client) Approve(ctx context.Context, id int, approved bool) error {
	tok, err := c.bearer()
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, c.endpoints.ApproveDocument(id), tok,
		models.ApprovalRequest{Approved: approved}, nil)
}
