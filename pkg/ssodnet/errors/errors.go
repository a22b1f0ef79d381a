package errors

import (
	"fmt"
)

var ErrNotFound = fmt.Errorf("not found")
var ErrUnavailable = fmt.Errorf("service unavailable")
var ErrMalformedDocument = fmt.Errorf("malformed document")
var ErrMissingCatalogue = fmt.Errorf("missing catalogue")
var ErrVersionMismatch = fmt.Errorf("version mismatch")
var ErrRequest = fmt.Errorf("request error")
var ErrBadResponse = fmt.Errorf("bad response")
var ErrInternal = fmt.Errorf("internal error")

type ssoError struct {
	msg    string
	target error
}

func (e ssoError) Error() string        { return e.msg }
func (e ssoError) Is(target error) bool { return target == e.target }

func NewNotFoundError(msg string) error {
	return &ssoError{
		msg:    msg,
		target: ErrNotFound,
	}
}

func NewUnavailableError(msg string) error {
	return &ssoError{
		msg:    msg,
		target: ErrUnavailable,
	}
}

func NewMalformedDocumentError(msg string) error {
	return &ssoError{
		msg:    msg,
		target: ErrMalformedDocument,
	}
}

func NewMissingCatalogueError(msg string) error {
	return &ssoError{
		msg:    msg,
		target: ErrMissingCatalogue,
	}
}

func NewVersionMismatchError(msg string) error {
	return &ssoError{
		msg:    msg,
		target: ErrVersionMismatch,
	}
}
