package adapters

// Document is an uploaded source file handed to the conversion adapter.
type Document struct {
	Name     string
	MimeType string
	Data     []byte
}

// PageImage is one rendered page. PageNumber is 1-based and defines document order.
type PageImage struct {
	PageNumber int
	MimeType   string
	Data       []byte
	Width      int
	Height     int
}
