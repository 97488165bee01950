package services

import "errors"

// Errors returned by the services. Handlers map them to HTTP status codes.
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotFound         = errors.New("not found")
	ErrParentNotFound   = errors.New("parent comment not found")
	ErrForbidden        = errors.New("forbidden")
	ErrConflict         = errors.New("conflict")
	ErrAlreadyProcessed = errors.New("request already processed")
)
