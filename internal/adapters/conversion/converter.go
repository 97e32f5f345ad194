// Package conversion renders uploaded documents into ordered page images.
package conversion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ledongthuc/pdf"

	"resume-ingest/internal/adapters"
)

const adapterName = "conversion"

// Converter turns a PDF/DOC/DOCX document into page images in page order.
type Converter interface {
	ConvertToImages(ctx context.Context, doc adapters.Document) ([]adapters.PageImage, error)
}

// PDFPageCount opens data with the pure-Go PDF reader and returns its page count.
// Structural failures are permanent corrupt_input errors.
func PDFPageCount(data []byte) (n int, err error) {
	if len(data) == 0 {
		return 0, adapters.Permanent(adapterName, adapters.CodeCorruptInput, errors.New("empty pdf"))
	}
	// The reader panics on some malformed trailers.
	defer func() {
		if r := recover(); r != nil {
			n = 0
			err = adapters.Permanent(adapterName, adapters.CodeCorruptInput, fmt.Errorf("pdf parse: %v", r))
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, adapters.Permanent(adapterName, adapters.CodeCorruptInput, fmt.Errorf("pdf parse: %w", err))
	}
	n = reader.NumPage()
	if n <= 0 {
		return 0, adapters.Permanent(adapterName, adapters.CodeCorruptInput, errors.New("pdf has no pages"))
	}
	return n, nil
}

// OrderPages sorts pages by PageNumber and rejects duplicate or missing numbers.
func OrderPages(pages []adapters.PageImage) ([]adapters.PageImage, error) {
	if len(pages) == 0 {
		return nil, adapters.Permanent(adapterName, adapters.CodeMalformedOutput, errors.New("conversion returned no pages"))
	}
	ordered := append([]adapters.PageImage(nil), pages...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].PageNumber < ordered[j].PageNumber
	})
	for i, p := range ordered {
		if p.PageNumber != i+1 {
			return nil, adapters.Permanent(adapterName, adapters.CodeMalformedOutput,
				fmt.Errorf("page sequence broken at position %d (page number %d)", i+1, p.PageNumber))
		}
		if len(p.Data) == 0 {
			return nil, adapters.Permanent(adapterName, adapters.CodeMalformedOutput,
				fmt.Errorf("page %d has no image data", p.PageNumber))
		}
	}
	return ordered, nil
}
