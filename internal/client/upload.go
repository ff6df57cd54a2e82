package client

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
)

// ProgressFunc receives upload progress as a percentage in [0, 100].
type ProgressFunc func(percent int)

// UploadFile is the file part of an upload request.
type UploadFile struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// progressReader reports strictly increasing percentages of total as
// bytes are read through it.
type progressReader struct {
	r     io.Reader
	total int64
	read  int64
	last  int
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		p.report()
	}
	return n, err
}

func (p *progressReader) report() {
	if p.fn == nil || p.total <= 0 {
		return
	}
	// 100 is reserved for finish, after the server accepted the file.
	pct := int(p.read * 100 / p.total)
	if pct > 99 {
		pct = 99
	}
	if pct > p.last {
		p.last = pct
		p.fn(pct)
	}
}

func (p *progressReader) finish() {
	if p.fn != nil && p.last < 100 {
		p.last = 100
		p.fn(100)
	}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Upload streams f as the "file" field of a multipart request to the admin
// upload endpoint. progress (optional) is invoked from a single goroutine
// at a time and reaches 100 only when the server accepted the upload.
func (c *Client) Upload(ctx context.Context, f UploadFile, progress ProgressFunc) error {
	tok, err := c.bearer()
	if err != nil {
		return err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	body := &progressReader{r: f.Body, total: f.Size, fn: progress}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(f.Name)))
		if f.ContentType != "" {
			h.Set("Content-Type", f.ContentType)
		}
		part, err := mw.CreatePart(h)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, body); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoints.AdminUpload(), pr)
	if err != nil {
		pr.Close()
		<-done
		return fmt.Errorf("client: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	err = c.send(req, tok, nil)
	// Unblock the writer if the server answered before reading everything.
	pr.CloseWithError(io.ErrClosedPipe)
	<-done
	if err != nil {
		return err
	}
	body.finish()
	return nil
}
