// Package resumes holds the structured resume produced by the ingestion pipeline
// and the storage it is persisted to.
package resumes

import (
	"fmt"
	"strings"
	"time"

	"resume-ingest/internal/shared/telemetry"
)

// ProcessedResume is the structured result for one uploaded file. Every field is
// always present when serialised; empty values are "" or [].
type ProcessedResume struct {
	Name                 string      `json:"name"`
	Contact              Contact     `json:"contact"`
	Summary              string      `json:"summary"`
	WorkHistory          []WorkItem  `json:"workHistory"`
	Education            []Education `json:"education"`
	Skills               []string    `json:"skills"`
	Source               Source      `json:"source"`
	ProcessingDurationMs int64       `json:"processingDurationMs"`
	ProcessedAt          time.Time   `json:"processedAt"`
}

type Contact struct {
	Email    string   `json:"email"`
	Phone    string   `json:"phone"`
	Location string   `json:"location"`
	Links    []string `json:"links"`
}

type WorkItem struct {
	Company     string   `json:"company"`
	Title       string   `json:"title"`
	Location    string   `json:"location"`
	StartDate   string   `json:"startDate"`
	EndDate     string   `json:"endDate"`
	Description string   `json:"description"`
	Highlights  []string `json:"highlights"`
}

type Education struct {
	Institution string `json:"institution"`
	Degree      string `json:"degree"`
	Field       string `json:"field"`
	StartDate   string `json:"startDate"`
	EndDate     string `json:"endDate"`
}

// Source is the provenance of a processed resume.
type Source struct {
	FileName    string `json:"fileName"`
	MimeType    string `json:"mimeType"`
	PageCount   int    `json:"pageCount"`
	ContentHash string `json:"contentHash"`
}

// Normalize trims strings, drops blank list entries, canonicalises dates and
// replaces nil slices with empty ones. It is safe to call more than once.
func (r *ProcessedResume) Normalize() {
	r.Name = clean(r.Name)
	r.Summary = strings.TrimSpace(r.Summary)
	r.Contact.Email = strings.ToLower(clean(r.Contact.Email))
	r.Contact.Phone = clean(r.Contact.Phone)
	r.Contact.Location = clean(r.Contact.Location)
	r.Contact.Links = cleanList(r.Contact.Links)
	r.Skills = dedupe(cleanList(r.Skills))

	var dropped []string
	date := func(field, value string) string {
		out, ok := normalizeDate(value)
		if !ok {
			dropped = append(dropped, fmt.Sprintf("%s=%q", field, clean(value)))
		}
		return out
	}

	work := make([]WorkItem, 0, len(r.WorkHistory))
	for i, w := range r.WorkHistory {
		w.Company = clean(w.Company)
		w.Title = clean(w.Title)
		w.Location = clean(w.Location)
		w.StartDate = date(fmt.Sprintf("workHistory[%d].startDate", i), w.StartDate)
		w.EndDate = date(fmt.Sprintf("workHistory[%d].endDate", i), w.EndDate)
		w.Description = strings.TrimSpace(w.Description)
		w.Highlights = cleanList(w.Highlights)
		if w.Company == "" && w.Title == "" && w.Description == "" && len(w.Highlights) == 0 {
			continue
		}
		work = append(work, w)
	}
	r.WorkHistory = work

	edu := make([]Education, 0, len(r.Education))
	for i, e := range r.Education {
		e.Institution = clean(e.Institution)
		e.Degree = clean(e.Degree)
		e.Field = clean(e.Field)
		e.StartDate = date(fmt.Sprintf("education[%d].startDate", i), e.StartDate)
		e.EndDate = date(fmt.Sprintf("education[%d].endDate", i), e.EndDate)
		if e.Institution == "" && e.Degree == "" && e.Field == "" {
			continue
		}
		edu = append(edu, e)
	}
	r.Education = edu

	r.Source.FileName = strings.TrimSpace(r.Source.FileName)
	r.Source.MimeType = strings.TrimSpace(r.Source.MimeType)

	if len(dropped) > 0 {
		telemetry.Warn("resume.dates_dropped", map[string]any{
			"file_name": r.Source.FileName,
			"fields":    dropped,
		})
	}
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = clean(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}

var dateLayouts = []struct {
	layout string
	out    string
}{
	{"2006-01-02", "2006-01-02"},
	{"2006-01", "2006-01"},
	{"2006/01", "2006-01"},
	{"01/2006", "2006-01"},
	{"1/2006", "2006-01"},
	{"Jan 2006", "2006-01"},
	{"January 2006", "2006-01"},
	{"Jan. 2006", "2006-01"},
	{"2006", "2006"},
}

// normalizeDate maps common resume date spellings to YYYY, YYYY-MM or
// YYYY-MM-DD. Spellings it cannot place on a calendar come back blank with
// ok false.
func normalizeDate(s string) (out string, ok bool) {
	s = clean(s)
	switch strings.ToLower(s) {
	case "":
		return "", true
	case "present", "current", "now", "today", "ongoing":
		return DatePresent, true
	}
	for _, l := range dateLayouts {
		if t, err := time.Parse(l.layout, s); err == nil {
			return t.Format(l.out), true
		}
	}
	return "", false
}

// DatePresent marks an ongoing role or course.
const DatePresent = "present"
