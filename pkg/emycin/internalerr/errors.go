package internalerr

import "errors"

// Sentinel errors for common cases
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrDeclaration      = errors.New("invalid declaration")
	ErrCircular         = errors.New("circular rule dependency")
	ErrStoreUnavailable = errors.New("store unavailable")
)
