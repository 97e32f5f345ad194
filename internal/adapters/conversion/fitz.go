package conversion

import (
	"bytes"
	"context"
	"fmt"
	"image/png"

	"github.com/gen2brain/go-fitz"

	"resume-ingest/internal/adapters"
)

// FitzConverter renders PDFs locally with MuPDF. Word documents need the remote
// conversion service.
type FitzConverter struct {
	dpi float64
}

// NewFitzConverter returns a local converter rendering at dpi (150 when unset).
func NewFitzConverter(dpi int) *FitzConverter {
	if dpi <= 0 {
		dpi = 150
	}
	return &FitzConverter{dpi: float64(dpi)}
}

func (c *FitzConverter) ConvertToImages(ctx context.Context, doc adapters.Document) ([]adapters.PageImage, error) {
	if doc.MimeType != adapters.MimePDF {
		return nil, adapters.Permanent(adapterName, adapters.CodeUnsupportedFormat,
			fmt.Errorf("local converter cannot render %s", doc.MimeType))
	}
	if _, err := PDFPageCount(doc.Data); err != nil {
		return nil, err
	}

	d, err := fitz.NewFromMemory(doc.Data)
	if err != nil {
		return nil, adapters.Permanent(adapterName, adapters.CodeCorruptInput, fmt.Errorf("open pdf: %w", err))
	}
	defer d.Close()

	count := d.NumPage()
	pages := make([]adapters.PageImage, 0, count)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, adapters.FromTransport(adapterName, err)
		}
		img, err := d.ImageDPI(i, c.dpi)
		if err != nil {
			return nil, adapters.Permanent(adapterName, adapters.CodeCorruptInput, fmt.Errorf("render page %d: %w", i+1, err))
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode page %d: %w", i+1, err)
		}
		bounds := img.Bounds()
		pages = append(pages, adapters.PageImage{
			PageNumber: i + 1,
			MimeType:   adapters.MimePNG,
			Data:       buf.Bytes(),
			Width:      bounds.Dx(),
			Height:     bounds.Dy(),
		})
	}
	return OrderPages(pages)
}
