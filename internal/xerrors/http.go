package xerrors

import (
	"errors"
	"net/http"
)

// CodeBadCSRFToken marks errors raised by the CSRF stage.
const CodeBadCSRFToken = "EBADCSRFTOKEN"

// HTTPError is an error that knows which response status it should produce.
// Code is a stable machine-readable identifier (e.g. EBADCSRFTOKEN).
type HTTPError struct {
	Status int
	Code   string
	Msg    string
	Err    error
}

func (e *HTTPError) Error() string {
	switch {
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	case e.Status != 0:
		return http.StatusText(e.Status)
	}
	return http.StatusText(http.StatusInternalServerError)
}

func (e *HTTPError) Unwrap() error { return e.Err }

// NewHTTP builds an HTTPError with the default status text as message.
func NewHTTP(status int) *HTTPError {
	return &HTTPError{Status: status, Msg: http.StatusText(status)}
}

// NotFound is the error the catch-all stage forwards for unmatched requests.
func NotFound() *HTTPError { return NewHTTP(http.StatusNotFound) }

// WithStatus attaches a status to err, keeping err as the cause.
func WithStatus(err error, status int, code string) error {
	if err == nil {
		return nil
	}
	return &HTTPError{Status: status, Code: code, Err: err}
}

// StatusCode returns the status carried anywhere in err's chain, or 500.
// Statuses outside the 4xx/5xx range are treated as absent.
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) && he.Status >= 400 && he.Status <= 599 {
		return he.Status
	}
	return http.StatusInternalServerError
}

// Code returns the machine code carried in err's chain, if any.
func Code(err error) string {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return ""
}
