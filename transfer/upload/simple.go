package upload

import (
	"net/http"

	"github.com/bitrise-io/go-transferutils/transfer"
)

// SimpleUpload transmits an object's content in a single request, with no
// metadata envelope.
type SimpleUpload struct {
	Base
}

// NewSimpleUpload binds a single-shot upload to its destination URL.
func NewSimpleUpload(uploadURL string, headers map[string]string) *SimpleUpload {
	return &SimpleUpload{Base: newBase(uploadURL, headers)}
}

// PrepareRequest renders the single POST carrying the whole object.
func (u *SimpleUpload) PrepareRequest(data []byte, contentType string) (transfer.Request, error) {
	if u.finished {
		return transfer.Request{}, transfer.ErrUploadFinished
	}
	return transfer.Request{
		Method: http.MethodPost,
		URL:    u.uploadURL,
		Header: u.mergedHeaders(map[string]string{"content-type": contentType}),
		Body:   data,
	}, nil
}
