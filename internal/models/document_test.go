package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 200); got != "short" {
		t.Errorf("Truncate short = %q", got)
	}
	long := strings.Repeat("a", 250)
	got := Truncate(long, 200)
	if len(got) != 203 || !strings.HasSuffix(got, "...") {
		t.Errorf("Truncate long len = %d, got suffix %q", len(got), got[len(got)-3:])
	}
	// Multi-byte runes are counted as characters.
	arabic := strings.Repeat("ز", 5)
	if got := Truncate(arabic, 3); got != "ززز..." {
		t.Errorf("Truncate runes = %q", got)
	}
}

func TestSearchRequest_EmptyFiltersAreArrays(t *testing.T) {
	req := SearchRequest{Query: "zakat", MadhabIDs: []int{}, CategoryIDs: []int{}}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"query":"zakat","madhab_ids":[],"category_ids":[]}`
	if string(data) != want {
		t.Errorf("body = %s, want %s", data, want)
	}
}

func TestDocument_OptionalFieldsAbsent(t *testing.T) {
	var doc Document
	if err := json.Unmarshal([]byte(`{"id":7,"title":"Zakat","question":"q?","madhabs":[],"categories":[]}`), &doc); err != nil {
		t.Fatal(err)
	}
	if doc.ID != 7 || doc.Title != "Zakat" {
		t.Errorf("summary fields not decoded: %+v", doc.DocumentSummary)
	}
	if doc.Answer != "" || doc.PublicationDate != nil {
		t.Errorf("optional fields should be empty: %+v", doc)
	}
}

func TestDate_Formats(t *testing.T) {
	var doc Document
	if err := json.Unmarshal([]byte(`{"id":1,"publication_date":"2020-06-15"}`), &doc); err != nil {
		t.Fatalf("calendar date: %v", err)
	}
	if doc.PublicationDate == nil || doc.PublicationDate.Year() != 2020 || doc.PublicationDate.Day() != 15 {
		t.Errorf("PublicationDate = %v", doc.PublicationDate)
	}
	doc = Document{}
	if err := json.Unmarshal([]byte(`{"id":1,"publication_date":"2021-01-02T10:00:00Z"}`), &doc); err != nil {
		t.Fatalf("timestamp: %v", err)
	}
	if doc.PublicationDate.Month() != 1 || doc.PublicationDate.Day() != 2 {
		t.Errorf("PublicationDate = %v", doc.PublicationDate)
	}
	if err := json.Unmarshal([]byte(`{"publication_date":"yesterday"}`), &doc); err == nil {
		t.Error("expected error for malformed date")
	}
}

func TestDate_TimestampWithoutOffset(t *testing.T) {
	var doc Document
	if err := json.Unmarshal([]byte(`{"id":1,"publication_date":"2024-03-01T10:20:30.123456"}`), &doc); err != nil {
		t.Fatalf("naive timestamp: %v", err)
	}
	if doc.PublicationDate == nil || doc.PublicationDate.Year() != 2024 || doc.PublicationDate.Hour() != 10 {
		t.Errorf("PublicationDate = %v", doc.PublicationDate)
	}
	if doc.PublicationDate.Location() != time.UTC {
		t.Errorf("location = %v, want UTC", doc.PublicationDate.Location())
	}
}

func TestStats_NaiveUploadDate(t *testing.T) {
	var st Stats
	body := `{"totalDocuments":2,"pendingApprovals":1,"recentUploads":[{"title":"Zakat","uploadDate":"2024-03-01T10:20:30","status":"pending"}]}`
	if err := json.Unmarshal([]byte(body), &st); err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(st.RecentUploads) != 1 || st.RecentUploads[0].UploadDate == nil {
		t.Fatalf("recent uploads = %+v", st.RecentUploads)
	}
	if got := st.RecentUploads[0].UploadDate.Format("2006-01-02"); got != "2024-03-01" {
		t.Errorf("upload date = %s", got)
	}
}
