// Package endpoint builds fully-qualified API URLs from a configured base address.
package endpoint

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "http://localhost:8000"

// Registry maps logical API operations to URLs. It is immutable after New.
type Registry struct {
	base string
}

// New validates baseURL and returns a Registry. A malformed base URL is a
// configuration error and is only ever reported here.
func New(baseURL string) (*Registry, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("endpoint: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("endpoint: base url %q must use http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("endpoint: base url %q has no host", baseURL)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return nil, fmt.Errorf("endpoint: base url %q must not carry a query or fragment", baseURL)
	}
	return &Registry{base: strings.TrimRight(baseURL, "/")}, nil
}

// Base returns the normalised base URL.
func (r *Registry) Base() string { return r.base }

func (r *Registry) join(parts ...string) string {
	return r.base + "/" + strings.Join(parts, "/")
}

func id(v int) string { return url.PathEscape(strconv.Itoa(v)) }

// Auth.

func (r *Registry) Login() string { return r.join("api", "auth", "login") }
func (r *Registry) Me() string    { return r.join("api", "auth", "me") }

// Public documents and facets.

func (r *Registry) Documents() string         { return r.join("api", "documents") }
func (r *Registry) Search() string            { return r.join("api", "documents", "search") }
func (r *Registry) Document(docID int) string { return r.join("api", "documents", id(docID)) }
func (r *Registry) Madhabs() string           { return r.join("api", "madhabs") }
func (r *Registry) Categories() string        { return r.join("api", "categories") }

// Admin.

func (r *Registry) AdminStats() string       { return r.join("admin", "stats") }
func (r *Registry) PendingDocuments() string { return r.join("admin", "pending-documents") }
func (r *Registry) ApproveDocument(docID int) string {
	return r.join("admin", "documents", id(docID), "approve")
}
func (r *Registry) AdminUpload() string { return r.join("admin", "upload") }

// Document processing endpoints. The client only names these; the
// processing itself lives on the server.

func (r *Registry) DocumentUpload() string { return r.join("api", "documents", "upload") }
func (r *Registry) BatchUpload() string    { return r.join("api", "documents", "batch-upload") }
func (r *Registry) Analyze(docID int) string {
	return r.join("api", "documents", id(docID), "analyze")
}
func (r *Registry) ExtractReferences(docID int) string {
	return r.join("api", "documents", id(docID), "extract-references")
}
func (r *Registry) SuggestClassifications(docID int) string {
	return r.join("api", "documents", id(docID), "suggest-classifications")
}
