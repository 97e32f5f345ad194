package adapters

import (
	"archive/zip"
	"bytes"
	"path/filepath"
	"strings"
)

const (
	MimePDF  = "application/pdf"
	MimeDOC  = "application/msword"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimePNG  = "image/png"
	MimeJPEG = "image/jpeg"
	MimeWEBP = "image/webp"
	MimeGIF  = "image/gif"
)

var oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// NeedsConversion reports whether mime must be rendered to page images before extraction.
func NeedsConversion(mime string) bool {
	switch normalize(mime) {
	case MimePDF, MimeDOC, MimeDOCX:
		return true
	default:
		return false
	}
}

// IsImage reports whether mime is an image the extraction adapter accepts directly.
func IsImage(mime string) bool {
	switch normalize(mime) {
	case MimePNG, MimeJPEG, MimeWEBP, MimeGIF:
		return true
	default:
		return false
	}
}

// Supported reports whether the pipeline can ingest mime at all.
func Supported(mime string) bool {
	return NeedsConversion(mime) || IsImage(mime)
}

// ResolveMime picks the effective mime type of an upload from the client-declared
// type, the sniffed type and the file content. Content wins over declarations.
func ResolveMime(declared, sniffed, fileName string, data []byte) string {
	s := normalize(sniffed)
	switch {
	case s == MimePDF || IsImage(s):
		return s
	case s == "application/zip":
		if isDOCX(data) {
			return MimeDOCX
		}
		return s
	case bytes.HasPrefix(data, oleMagic):
		return MimeDOC
	}

	d := normalize(declared)
	if Supported(d) {
		return d
	}
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return MimePDF
	case ".docx":
		return MimeDOCX
	case ".doc":
		return MimeDOC
	}
	if s != "" {
		return s
	}
	return d
}

func normalize(mime string) string {
	clean := strings.ToLower(strings.TrimSpace(strings.Split(mime, ";")[0]))
	if clean == "image/jpg" {
		return MimeJPEG
	}
	return clean
}

func isDOCX(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false
	}
	for _, f := range zr.File {
		if strings.ReplaceAll(f.Name, "\\", "/") == "word/document.xml" {
			return true
		}
	}
	return false
}
