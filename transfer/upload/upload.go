// Package upload implements the client-driven upload state machines of the
// transfer protocol: single-shot, multipart (MIME) and chunked resumable
// variants. The package only renders wire requests and interprets responses;
// all network I/O happens in the caller-supplied transport.
package upload

import (
	"net/http"

	"github.com/bitrise-io/go-transferutils/transfer"
)

const jsonContentType = "application/json; charset=UTF-8"

// Base carries the state shared by every upload variant.
type Base struct {
	uploadURL string
	headers   map[string]string
	finished  bool
}

func newBase(uploadURL string, headers map[string]string) Base {
	return Base{uploadURL: uploadURL, headers: headers}
}

// UploadURL returns the destination the upload was bound to.
func (b *Base) UploadURL() string {
	return b.uploadURL
}

// Finished reports whether the upload reached a terminal state. A finished
// upload cannot issue further requests.
func (b *Base) Finished() bool {
	return b.finished
}

// ProcessResponse interprets the server's reply to a single-shot upload.
// Any 2xx status finishes the upload successfully. Any other status also
// finishes it: a failed single-shot upload is never reissued for the same
// object, the caller must construct a new upload.
func (b *Base) ProcessResponse(resp *transfer.Response) error {
	b.finished = true
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return transfer.NewInvalidResponse(resp, "unexpected status", http.StatusOK)
	}
	return nil
}

// mergedHeaders copies the caller-supplied headers and applies the
// protocol-injected ones on top. The caller's map is left untouched.
func (b *Base) mergedHeaders(extra map[string]string) map[string]string {
	merged := make(map[string]string, len(b.headers)+len(extra))
	for key, value := range b.headers {
		merged[key] = value
	}
	for key, value := range extra {
		merged[key] = value
	}
	return merged
}
