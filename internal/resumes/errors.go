package resumes

import "errors"

var (
	// ErrNotFound indicates the resume does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates the resume belongs to another user.
	ErrForbidden = errors.New("forbidden")
)
