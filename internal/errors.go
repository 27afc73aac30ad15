package internal

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError is returned when a server replies with a status the caller did
// not ask for.
type HTTPError struct {
	Code int
	// Body holds at most the first KiB of the response body.
	Body string
	Err  error
}

func HTTPErrorf(code int, format string, a ...interface{}) *HTTPError {
	return &HTTPError{Code: code, Err: fmt.Errorf(format, a...)}
}

func (err *HTTPError) Error() string {
	s := fmt.Sprintf("%v %v", err.Code, http.StatusText(err.Code))
	if err.Err != nil {
		return fmt.Sprintf("%v: %v", s, err.Err)
	}
	return s
}

func (err *HTTPError) Unwrap() error {
	return err.Err
}

// DAVError returns the DAV:error element sent along with the status, if any.
func (err *HTTPError) DAVError() *Error {
	var davErr *Error
	if errors.As(err.Err, &davErr) {
		return davErr
	}
	return nil
}

// HTTPErrorCode returns the status code carried by err, or 0 when err does
// not wrap an *HTTPError.
func HTTPErrorCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}
	return 0
}

// IsNotFound reports whether err denotes a missing resource or property.
func IsNotFound(err error) bool {
	return HTTPErrorCode(err) == http.StatusNotFound
}
