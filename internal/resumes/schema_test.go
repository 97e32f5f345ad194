package resumes

import (
	"errors"
	"testing"
)

func TestDecodeStructured(t *testing.T) {
	raw := []byte(`{
		"name": "Jane Doe",
		"contact": {"email": "jane@example.com", "phone": null, "location": "Berlin", "links": []},
		"summary": null,
		"workHistory": [{"company": "Acme", "title": "Engineer", "startDate": "2020-01", "endDate": "present", "highlights": ["Shipped"]}],
		"education": [],
		"skills": ["Go"]
	}`)
	r, err := DecodeStructured(raw)
	if err != nil {
		t.Fatalf("DecodeStructured: %v", err)
	}
	if r.Name != "Jane Doe" || r.Contact.Location != "Berlin" || r.Contact.Phone != "" {
		t.Fatalf("unexpected resume %+v", r)
	}
	if len(r.WorkHistory) != 1 || r.WorkHistory[0].Highlights[0] != "Shipped" {
		t.Fatalf("unexpected work history %+v", r.WorkHistory)
	}
}

func TestDecodeStructuredRejectsWrongShape(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `Jane Doe`},
		{name: "array", raw: `[]`},
		{name: "missing keys", raw: `{"name": "Jane"}`},
		{name: "skills not list", raw: `{"name":"Jane","contact":{},"summary":"","workHistory":[],"education":[],"skills":"Go, SQL"}`},
		{name: "work item not object", raw: `{"name":"Jane","contact":{},"summary":"","workHistory":["Acme"],"education":[],"skills":[]}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeStructured([]byte(tt.raw))
			if !errors.Is(err, ErrSchemaMismatch) {
				t.Fatalf("expected ErrSchemaMismatch, got %v", err)
			}
		})
	}
}
