package fsutil

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every file-access operation. Callers wrap these with
// context and check them with errors.Is; the HTTP layer maps each one to a
// status code:
//
//	ErrInvalidInput (ErrInvalidFilename) -> 400
//	ErrForbidden (ErrPathTraversal)      -> 403
//	ErrNotFound                          -> 404
//	ErrTooLarge                          -> 413
//	ErrRead, ErrWrite, ErrInternal       -> 500
var (
	// ErrInvalidInput is a missing or malformed client argument.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidFilename is a client filename that is empty after sanitization.
	ErrInvalidFilename = fmt.Errorf("invalid filename: %w", ErrInvalidInput)

	// ErrForbidden is returned for any request the root does not authorize.
	ErrForbidden = errors.New("forbidden")

	// ErrPathTraversal is a resolution that escapes the root, via "..",
	// an absolute path or a symlink.
	ErrPathTraversal = fmt.Errorf("path traversal: %w", ErrForbidden)

	// ErrNotFound is a resolved target (or the root itself) that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTooLarge is an upload body over the configured limit.
	ErrTooLarge = errors.New("too large")

	ErrRead     = errors.New("read error")
	ErrWrite    = errors.New("write error")
	ErrInternal = errors.New("internal error")
)
