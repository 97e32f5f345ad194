package object

import (
	"context"
	"errors"
	"io"
)

// ErrInvalidKey is returned for storage keys that escape the store root.
var ErrInvalidKey = errors.New("invalid storage key")

// ObjectStore stages uploaded files for the duration of a batch.
type ObjectStore interface {
	// Save writes r under namespace and returns the key, byte size and sniffed mime type.
	Save(ctx context.Context, namespace string, fileName string, r io.Reader) (storageKey string, sizeBytes int64, mimeType string, err error)
	Open(ctx context.Context, storageKey string) (io.ReadCloser, error)
	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, storageKey string) error
}
