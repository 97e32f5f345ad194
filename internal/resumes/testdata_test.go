package resumes

import "time"

// sparseResume has explicit empty values in every optional position.
func sparseResume(hash string) ProcessedResume {
	r := ProcessedResume{
		Name:    "Jane Doe",
		Contact: Contact{Email: "jane@example.com"},
		WorkHistory: []WorkItem{{
			Company: "Acme",
			Title:   "Engineer",
		}},
		Source: Source{
			FileName:    "jane.pdf",
			MimeType:    "application/pdf",
			PageCount:   1,
			ContentHash: hash,
		},
		ProcessingDurationMs: 1200,
		ProcessedAt:          time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	r.Normalize()
	return r
}
