// Package models defines the domain types exchanged with the Bahtsul Masail API.
package models

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Facet is a classification value attached to a document (a madhab or a category).
type Facet struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Madhab is a school of jurisprudence used as a search facet.
type Madhab = Facet

// Category is a topical classification used as a search facet.
type Category = Facet

// DocumentSummary is a search or listing hit.
type DocumentSummary struct {
	ID         int        `json:"id"`
	Title      string     `json:"title"`
	Question   string     `json:"question"`
	Madhabs    []Madhab   `json:"madhabs"`
	Categories []Category `json:"categories"`
}

// Document is the full record returned by the detail endpoint.
// Every field beyond the summary may be absent.
type Document struct {
	DocumentSummary
	Answer              string `json:"answer,omitempty"`
	Prolog              string `json:"prolog,omitempty"`
	Mushoheh            string `json:"mushoheh,omitempty"`
	SourceDocument      string `json:"source_document,omitempty"`
	HistoricalContext   string `json:"historical_context,omitempty"`
	GeographicalContext string `json:"geographical_context,omitempty"`
	PublicationDate     *Date  `json:"publication_date,omitempty"`
}

// Date decodes a calendar date ("2020-06-15"), an RFC 3339 timestamp or a
// timestamp without offset ("2024-03-01T10:20:30.123456"), read as UTC.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

var dateLayouts = []string{dateLayout, time.RFC3339Nano, "2006-01-02T15:04:05.999999999"}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		return nil
	}
	var err error
	for _, layout := range dateLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			d.Time = t
			return nil
		}
	}
	return fmt.Errorf("models: parse date %q: %w", s, err)
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Format(dateLayout) + `"`), nil
}

// PendingDocument is an item of the approval queue. Its status is implicitly "pending".
type PendingDocument struct {
	ID       int    `json:"id"`
	Title    string `json:"title"`
	Question string `json:"question"`
	Answer   string `json:"answer,omitempty"`
	Mushoheh string `json:"mushoheh,omitempty"`
}

// RecentUpload is a dashboard entry.
type RecentUpload struct {
	Title      string `json:"title"`
	UploadDate *Date  `json:"uploadDate"`
	Status     string `json:"status"`
}

// Stats holds the admin dashboard aggregates.
type Stats struct {
	TotalDocuments   int            `json:"totalDocuments"`
	PendingApprovals int            `json:"pendingApprovals"`
	RecentUploads    []RecentUpload `json:"recentUploads"`
}

// User is the identity returned by the auth endpoints.
type User struct {
	ID       int    `json:"id,omitempty"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
}

// Credentials is the login request body.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the body returned by a successful login.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	User        *User  `json:"user"`
}

// SearchRequest is the search endpoint body. The id slices are always
// serialized as arrays, never null.
type SearchRequest struct {
	Query       string     `json:"query"`
	MadhabIDs   []int      `json:"madhab_ids"`
	CategoryIDs []int      `json:"category_ids"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
}

// ApprovalRequest is the approve/reject body.
type ApprovalRequest struct {
	Approved bool `json:"approved"`
}

// QuestionPreviewLen is the number of characters of a question shown in result lists.
const QuestionPreviewLen = 200

// Preview returns the question cut to QuestionPreviewLen runes with a trailing ellipsis.
func (d DocumentSummary) Preview() string {
	return Truncate(d.Question, QuestionPreviewLen)
}

// Truncate shortens s to at most n runes, appending "..." when cut.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	var b strings.Builder
	i := 0
	for _, r := range s {
		if i == n {
			break
		}
		b.WriteRune(r)
		i++
	}
	b.WriteString("...")
	return b.String()
}
