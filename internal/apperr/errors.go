package apperr

import "errors"

var (
	ErrNotFound  = errors.New("not found")
	ErrAmbiguous = errors.New("ambiguous")
	ErrNoRoot    = errors.New("notes root unavailable")
)
