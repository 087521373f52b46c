package dispatch

import "errors"

// Registration errors
var (
	ErrProcedureRegistered = errors.New("procedure already registered")
	ErrProcedureNotFound   = errors.New("procedure not found")
	ErrInvalidProcedure    = errors.New("invalid procedure")
)
