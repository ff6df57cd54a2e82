// Package render prints view state for the terminal.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/starford/masail/internal/models"
	"github.com/starford/masail/internal/orchestrator"
	"github.com/starford/masail/internal/session"
)

const noResultsHint = "No results found. Try different keywords or filters."

var (
	title = color.New(color.FgCyan, color.Bold)
	label = color.New(color.FgYellow)
	dim   = color.New(color.Faint)
	ok    = color.New(color.FgGreen)
	bad   = color.New(color.FgRed, color.Bold)
	warn  = color.New(color.FgYellow, color.Bold)
)

// Search prints search results, or the no-results hint when it applies.
func Search(w io.Writer, st orchestrator.SearchState) {
	if st.NoResults() {
		dim.Fprintln(w, noResultsHint)
		return
	}
	for i, d := range st.Results {
		if i > 0 {
			fmt.Fprintln(w)
		}
		title.Fprintf(w, "[%d] %s\n", d.ID, d.Title)
		fmt.Fprintln(w, d.Preview())
		facets(w, "Madhab", d.Madhabs)
		facets(w, "Category", d.Categories)
	}
}

func facets(w io.Writer, name string, fs []models.Facet) {
	if len(fs) == 0 {
		return
	}
	names := make([]string, len(fs))
	for i, f := range fs {
		names[i] = f.Name
	}
	label.Fprintf(w, "%s: ", name)
	fmt.Fprintln(w, strings.Join(names, ", "))
}

// Document prints a full ruling. Absent sections are skipped.
func Document(w io.Writer, d *models.Document) {
	title.Fprintln(w, d.Title)
	if d.PublicationDate != nil {
		dim.Fprintln(w, d.PublicationDate.Format("2 January 2006"))
	}
	facets(w, "Madhab", d.Madhabs)
	facets(w, "Category", d.Categories)

	section := func(name, body string) {
		if body == "" {
			return
		}
		fmt.Fprintln(w)
		label.Fprintln(w, name)
		fmt.Fprintln(w, body)
	}
	section("Prolog", d.Prolog)
	section("Question", d.Question)
	section("Answer", d.Answer)
	section("Mushoheh", d.Mushoheh)
	section("Source", d.SourceDocument)
	section("Historical context", d.HistoricalContext)
	section("Geographical context", d.GeographicalContext)
}

// Facets prints an id/name table.
func Facets(w io.Writer, fs []models.Facet) {
	for _, f := range fs {
		label.Fprintf(w, "%4d  ", f.ID)
		fmt.Fprint(w, f.Name)
		if f.Description != "" {
			dim.Fprintf(w, "  %s", f.Description)
		}
		fmt.Fprintln(w)
	}
}

// Dashboard prints the admin aggregates.
func Dashboard(w io.Writer, st orchestrator.DashboardState) {
	label.Fprint(w, "Total documents:   ")
	fmt.Fprintln(w, st.Stats.TotalDocuments)
	label.Fprint(w, "Pending approvals: ")
	fmt.Fprintln(w, st.Stats.PendingApprovals)
	if len(st.Stats.RecentUploads) == 0 {
		return
	}
	fmt.Fprintln(w)
	title.Fprintln(w, "Recent uploads")
	for _, u := range st.Stats.RecentUploads {
		if u.UploadDate != nil {
			fmt.Fprintf(w, "%s  ", u.UploadDate.Format("2006-01-02"))
		}
		fmt.Fprintf(w, "%s  ", u.Title)
		dim.Fprintln(w, u.Status)
	}
}

// Pending prints the moderation queue.
func Pending(w io.Writer, st orchestrator.ApprovalState) {
	if len(st.Items) == 0 {
		dim.Fprintln(w, "No documents pending approval")
		return
	}
	for _, d := range st.Items {
		title.Fprintf(w, "[%d] %s\n", d.ID, d.Title)
		fmt.Fprintln(w, models.Truncate(d.Question, models.QuestionPreviewLen))
	}
}

// Session prints who is logged in.
func Session(w io.Writer, s session.Session) {
	if !s.IsAuthenticated || s.User == nil {
		dim.Fprintln(w, "Not logged in")
		return
	}
	ok.Fprint(w, "Logged in as ")
	fmt.Fprint(w, s.User.Username)
	if s.User.Role != "" {
		dim.Fprintf(w, " (%s)", s.User.Role)
	}
	fmt.Fprintln(w)
	if !s.ExpiresAt.IsZero() {
		dim.Fprintf(w, "Token expires %s\n", s.ExpiresAt.Local().Format("2006-01-02 15:04"))
	}
}

// Progress prints an upload progress line, overwriting the previous one.
func Progress(w io.Writer, file string, pct int) {
	fmt.Fprintf(w, "\r%s %3d%%", file, pct)
	if pct >= 100 {
		fmt.Fprintln(w)
	}
}

// Success prints a confirmation line.
func Success(w io.Writer, format string, args ...any) {
	ok.Fprintf(w, format+"\n", args...)
}

// Warning prints a highlighted warning line.
func Warning(w io.Writer, format string, args ...any) {
	warn.Fprintf(w, format+"\n", args...)
}

// Error prints the user-visible message carried by err.
func Error(w io.Writer, err error) {
	bad.Fprintln(w, orchestrator.Message(err))
}
