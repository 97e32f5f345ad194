package resumes

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

// FieldError is one validation problem.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError reports a resume that cannot be persisted. It is never retried.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Reason)
	}
	return "invalid resume: " + strings.Join(parts, "; ")
}

var datePattern = regexp.MustCompile(`^\d{4}(-(0[1-9]|1[0-2])(-(0[1-9]|[12]\d|3[01]))?)?$`)

// Validate checks a normalised resume. It returns *ValidationError on failure.
func (r ProcessedResume) Validate() error {
	var errs []FieldError
	add := func(field, format string, args ...any) {
		errs = append(errs, FieldError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if r.Contact.Links == nil || r.WorkHistory == nil || r.Education == nil || r.Skills == nil {
		add("resume", "list fields must be present")
	}
	for i, w := range r.WorkHistory {
		if w.Highlights == nil {
			add(fmt.Sprintf("workHistory[%d].highlights", i), "must be present")
		}
	}

	if !r.meaningful() {
		add("resume", "no name, contact details, work history, education or skills found")
	}
	if r.Contact.Email != "" {
		if addr, err := mail.ParseAddress(r.Contact.Email); err != nil || addr.Address != r.Contact.Email {
			add("contact.email", "malformed email %q", r.Contact.Email)
		}
	}
	for i, w := range r.WorkHistory {
		checkDate(add, fmt.Sprintf("workHistory[%d].startDate", i), w.StartDate)
		checkDate(add, fmt.Sprintf("workHistory[%d].endDate", i), w.EndDate)
	}
	for i, e := range r.Education {
		checkDate(add, fmt.Sprintf("education[%d].startDate", i), e.StartDate)
		checkDate(add, fmt.Sprintf("education[%d].endDate", i), e.EndDate)
	}
	if r.Source.ContentHash == "" {
		add("source.contentHash", "required")
	}
	if r.Source.FileName == "" {
		add("source.fileName", "required")
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

func (r ProcessedResume) meaningful() bool {
	return r.Name != "" ||
		r.Contact.Email != "" ||
		r.Contact.Phone != "" ||
		len(r.WorkHistory) > 0 ||
		len(r.Education) > 0 ||
		len(r.Skills) > 0
}

func checkDate(add func(string, string, ...any), field, value string) {
	if value == "" || value == DatePresent {
		return
	}
	if !datePattern.MatchString(value) {
		add(field, "unrecognised date %q", value)
	}
}
