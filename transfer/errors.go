package transfer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Usage errors are local precondition violations. They are never retried and
// never involve the server.
var (
	// ErrUploadFinished is returned when a request is prepared on an upload
	// that already reached a terminal state.
	ErrUploadFinished = errors.New("upload can only be used once")

	// ErrAlreadyInitiated is returned when Initiate is called twice.
	ErrAlreadyInitiated = errors.New("upload has already been initiated")

	// ErrNotInitiated is returned when a chunk is prepared before Initiate.
	ErrNotInitiated = errors.New("upload has not been initiated, call Initiate() first")

	// ErrInvalidState is returned while an upload is in the invalid state.
	// Call Recover() to re-synchronize with the server.
	ErrInvalidState = errors.New("upload is in an invalid state, call Recover() to restore it")

	// ErrStreamState is returned when the stream position disagrees with the
	// upload's byte bookkeeping. The engine never silently re-seeks.
	ErrStreamState = errors.New("bytes stream is in unexpected state")

	// ErrStreamExhausted is returned when a chunk is requested but the stream
	// has no content remaining.
	ErrStreamExhausted = errors.New("stream is already exhausted, there is no content remaining")
)

// InvalidResponseError reports a response outside the protocol's accepted
// shape for a call: an unexpected status code, or a reply missing required
// protocol state such as a range header or a checksum field.
type InvalidResponseError struct {
	Response *Response
	Reason   string
	Expected []int
}

// NewInvalidResponse builds an InvalidResponseError for resp. The expected
// status codes may be empty when the violation is not about the status line.
func NewInvalidResponse(resp *Response, reason string, expected ...int) *InvalidResponseError {
	return &InvalidResponseError{Response: resp, Reason: reason, Expected: expected}
}

func (e *InvalidResponseError) Error() string {
	if len(e.Expected) == 0 {
		return fmt.Sprintf("invalid response (HTTP %d): %s", e.Response.StatusCode, e.Reason)
	}
	expected := make([]string, len(e.Expected))
	for i, code := range e.Expected {
		expected[i] = strconv.Itoa(code)
	}
	return fmt.Sprintf("invalid response: %s, got HTTP %d, expected one of %s",
		e.Reason, e.Response.StatusCode, strings.Join(expected, ", "))
}

// DataCorruptionError reports a checksum mismatch on a finished transfer.
// Retrying cannot fix corrupted data: the whole transfer must be restarted
// from zero, not resumed.
type DataCorruptionError struct {
	Response *Response
	Checksum Checksum
	Local    string
	Remote   string
}

func (e *DataCorruptionError) Error() string {
	return fmt.Sprintf("checksum mismatch: locally computed %s digest %s does not match server-reported %s",
		strings.ToUpper(string(e.Checksum)), e.Local, e.Remote)
}
