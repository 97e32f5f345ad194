package resumes

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed structured_schema.json
var structuredSchema []byte

// ErrSchemaMismatch is returned when model output does not have the resume shape.
var ErrSchemaMismatch = errors.New("structured output does not match resume schema")

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("schema.json", bytes.NewReader(structuredSchema)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("schema.json")
	})
	return compiledSchema, schemaErr
}

// DecodeStructured validates raw structuring output against the resume schema and
// decodes it. Provenance fields are left for the caller to fill.
func DecodeStructured(raw []byte) (ProcessedResume, error) {
	s, err := schema()
	if err != nil {
		return ProcessedResume{}, fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ProcessedResume{}, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	if err := s.Validate(v); err != nil {
		return ProcessedResume{}, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}

	// JSON null leaves string fields empty, so no pointer fields are needed.
	var out structuredPayload
	if err := json.Unmarshal(raw, &out); err != nil {
		return ProcessedResume{}, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	return ProcessedResume{
		Name:        out.Name,
		Contact:     out.Contact,
		Summary:     out.Summary,
		WorkHistory: out.WorkHistory,
		Education:   out.Education,
		Skills:      out.Skills,
	}, nil
}

// structuredPayload is the model-owned part of ProcessedResume.
type structuredPayload struct {
	Name        string      `json:"name"`
	Contact     Contact     `json:"contact"`
	Summary     string      `json:"summary"`
	WorkHistory []WorkItem  `json:"workHistory"`
	Education   []Education `json:"education"`
	Skills      []string    `json:"skills"`
}
