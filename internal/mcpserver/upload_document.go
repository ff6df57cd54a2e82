package mcpserver

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/masail/internal/gate"
	"github.com/starford/masail/internal/orchestrator"
)

const maxDocumentSize = 50 << 20 // 50 MB

var safeFilenameRe = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// uploadDocument submits a PDF for moderation. source is a local path, a
// base64 data URI or an http(s) URL.
func (s *Server) uploadDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.upload == nil || s.sessions == nil {
		return mcp.NewToolResultError("uploads are not available"), nil
	}
	source, err := req.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	filename := req.GetString("filename", "")

	if err := gate.Require(ctx, s.sessions); err != nil {
		return mcp.NewToolResultError("not logged in: run 'masail login' first"), nil
	}

	filePath := source
	if strings.HasPrefix(source, "data:") || strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		var data []byte
		if strings.HasPrefix(source, "data:") {
			data, err = decodeDataURI(source)
		} else {
			data, err = fetchHTTP(ctx, source)
		}
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if filename == "" {
			filename = filenameFromURL(source)
		}

		dir, err := os.MkdirTemp("", "masail-mcp-*")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to stage document: %v", err)), nil
		}
		defer os.RemoveAll(dir)
		filePath = filepath.Join(dir, sanitizeFilename(filename))
		if err := os.WriteFile(filePath, data, 0o600); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to stage document: %v", err)), nil
		}
	}

	s.uploadMu.Lock()
	defer s.uploadMu.Unlock()

	st, err := s.upload.Select(filePath)
	if err != nil {
		return mcp.NewToolResultError(orchestrator.Message(err)), nil
	}
	if _, err := s.upload.Submit(ctx, nil); err != nil {
		return mcp.NewToolResultError(orchestrator.Message(err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("uploaded: %s (pending approval)", st.Selection.Name)), nil
}

// decodeDataURI parses a data:[<mediatype>];base64,<data> URI.
func decodeDataURI(uri string) ([]byte, error) {
	rest := strings.TrimPrefix(uri, "data:")
	commaIdx := strings.Index(rest, ",")
	if commaIdx < 0 {
		return nil, fmt.Errorf("invalid data URI: missing comma separator")
	}

	meta := rest[:commaIdx]
	encoded := rest[commaIdx+1:]

	if !strings.Contains(meta, ";base64") {
		return nil, fmt.Errorf("only base64 data URIs are supported")
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 data: %w", err)
		}
	}
	if len(data) > maxDocumentSize {
		return nil, fmt.Errorf("file too large: %d bytes (max %d)", len(data), maxDocumentSize)
	}
	return data, nil
}

// fetchHTTP downloads a document from an HTTP/HTTPS URL with security checks.
func fetchHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s (only http/https)", parsed.Scheme)
	}

	if err := checkBlockedHost(parsed.Hostname()); err != nil {
		return nil, err
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects (max 5)")
			}
			return checkBlockedHost(req.URL.Hostname())
		},
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body failed: %w", err)
	}
	if len(data) > maxDocumentSize {
		return nil, fmt.Errorf("file too large: exceeds %d bytes", maxDocumentSize)
	}
	return data, nil
}

// checkBlockedHost rejects loopback and cloud metadata addresses.
func checkBlockedHost(host string) error {
	if host == "metadata.google.internal" {
		return fmt.Errorf("blocked host: %s", host)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ips, lookupErr := net.LookupIP(host)
		if lookupErr != nil || len(ips) == 0 {
			return nil //nolint:nilerr // let http.Client handle DNS failures
		}
		ip = ips[0]
	}

	if ip.IsLoopback() {
		return fmt.Errorf("blocked host: loopback address %s", host)
	}
	// AWS/GCP/Azure metadata endpoint.
	if ip.Equal(net.ParseIP("169.254.169.254")) {
		return fmt.Errorf("blocked host: cloud metadata address %s", host)
	}
	return nil
}

// filenameFromURL takes the last path segment of a URL, falling back to a UUID.
func filenameFromURL(rawURL string) string {
	if !strings.HasPrefix(rawURL, "data:") {
		if parsed, err := url.Parse(rawURL); err == nil {
			base := path.Base(parsed.Path)
			if base != "" && base != "." && base != "/" && strings.Contains(base, ".") {
				return base
			}
		}
	}
	return uuid.New().String() + ".pdf"
}

// sanitizeFilename strips path separators and unsafe characters.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = safeFilenameRe.ReplaceAllString(name, "_")
	if name == "" || name == "." || name == "_" {
		name = uuid.New().String() + ".pdf"
	}
	return name
}
