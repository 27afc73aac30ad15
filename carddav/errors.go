package carddav

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/icloudmcp/go-webdav/internal"
)

var (
	// ErrNotFound is returned when the contact does not exist.
	ErrNotFound = errors.New("carddav: contact not found")
	// ErrConflict is returned when a conditional write or delete fails
	// because the contact changed on the server.
	ErrConflict = errors.New("carddav: contact changed on the server")
	// ErrTimeout is returned when an exchange exceeds the configured timeout.
	ErrTimeout = errors.New("carddav: request timed out")
	// ErrETagRequired is returned by Update for a contact without ETag.
	ErrETagRequired = errors.New("carddav: update requires the contact's ETag")
	// ErrForeignResource is returned for a URI outside the address book.
	ErrForeignResource = errors.New("carddav: URI is outside the address book")

	errNoAddressBook = errors.New("no address book in home set")
)

// DirectoryError is returned when the server rejects a request with a status
// that has no dedicated error.
type DirectoryError struct {
	StatusCode int
	// Body holds the start of the response body.
	Body string

	err error
}

func (err *DirectoryError) Error() string {
	return fmt.Sprintf("carddav: server replied %v %v", err.StatusCode, http.StatusText(err.StatusCode))
}

func (err *DirectoryError) Unwrap() error {
	return err.err
}

// DiscoveryStep names a step of address book discovery.
type DiscoveryStep string

const (
	StepPrincipal   DiscoveryStep = "current-user-principal"
	StepHomeSet     DiscoveryStep = "addressbook-home-set"
	StepAddressBook DiscoveryStep = "addressbook"
)

// DiscoveryError is returned when the address book could not be located.
type DiscoveryError struct {
	Step DiscoveryStep
	Err  error
}

func (err *DiscoveryError) Error() string {
	return fmt.Sprintf("carddav: discovery failed at %v: %v", err.Step, err.Err)
}

func (err *DiscoveryError) Unwrap() error {
	return err.Err
}

// CodecError is returned when a vCard body cannot be parsed.
type CodecError struct {
	// Line is the 1-based physical line the faulty content line starts on.
	Line int
	Err  error
}

func (err *CodecError) Error() string {
	return fmt.Sprintf("carddav: malformed vCard at line %v: %v", err.Line, err.Err)
}

func (err *CodecError) Unwrap() error {
	return err.Err
}

// mapError translates a transport error into the error returned to callers.
// onNotFound and onPrecondition, when non-nil, replace 404 and 412 replies.
func mapError(ctx context.Context, err error, onNotFound, onPrecondition error) error {
	if err == nil {
		return nil
	}
	if ctxErr := contextError(ctx); ctxErr != nil {
		return ctxErr
	}
	if isTimeout(err) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var httpErr *internal.HTTPError
	if !errors.As(err, &httpErr) {
		return err
	}
	switch {
	case httpErr.Code == http.StatusNotFound && onNotFound != nil:
		return onNotFound
	case httpErr.Code == http.StatusPreconditionFailed && onPrecondition != nil:
		return onPrecondition
	}
	return &DirectoryError{StatusCode: httpErr.Code, Body: httpErr.Body, err: httpErr}
}

// contextError returns the error of a done ctx. An expired deadline also
// matches ErrTimeout.
func contextError(ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

func isTimeout(err error) bool {
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isUnsupportedReport reports whether a failed addressbook-query REPORT
// indicates that the server can't run the query, as opposed to a transient
// or authorization failure.
func isUnsupportedReport(err error) bool {
	var httpErr *internal.HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}

	switch httpErr.Code {
	case http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusUnsupportedMediaType, http.StatusNotImplemented:
		return true
	case http.StatusBadRequest, http.StatusForbidden, http.StatusConflict, http.StatusUnprocessableEntity:
		davErr := httpErr.DAVError()
		if davErr == nil {
			return false
		}
		for _, cond := range davErr.Conditions() {
			if strings.HasPrefix(cond.Local, "supported-") {
				return true
			}
		}
	}
	return false
}
