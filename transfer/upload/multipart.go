package upload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"

	"github.com/bitrise-io/go-transferutils/transfer"
)

// MultipartUpload transmits object metadata and content together in one
// MIME multipart request: a JSON metadata part followed by a content part.
type MultipartUpload struct {
	Base
	checksum transfer.Checksum
	boundary func() string
}

// NewMultipartUpload binds a multipart upload to its destination URL.
// With a checksum configured, the digest of the full content is computed
// eagerly and injected into the metadata before transmission.
func NewMultipartUpload(uploadURL string, headers map[string]string, checksum transfer.Checksum) (*MultipartUpload, error) {
	resolved, err := checksum.Resolve()
	if err != nil {
		return nil, err
	}
	return &MultipartUpload{
		Base:     newBase(uploadURL, headers),
		checksum: resolved,
		boundary: RandomBoundary,
	}, nil
}

// SetBoundaryFunc overrides the MIME boundary generator. The boundary only
// needs to not collide with the payload; tests supply a fixed value.
func (u *MultipartUpload) SetBoundaryFunc(fn func() string) {
	u.boundary = fn
}

// PrepareRequest renders the multipart POST. A configured checksum is
// computed over the entire data buffer and overwrites any caller-supplied
// value under the same metadata key.
func (u *MultipartUpload) PrepareRequest(data []byte, metadata map[string]interface{}, contentType string) (transfer.Request, error) {
	if u.finished {
		return transfer.Request{}, transfer.ErrUploadFinished
	}

	if u.checksum != transfer.ChecksumNone {
		acc, err := transfer.NewAccumulator(u.checksum)
		if err != nil {
			return transfer.Request{}, err
		}
		if err := acc.Update(0, data); err != nil {
			return transfer.Request{}, err
		}
		withDigest := make(map[string]interface{}, len(metadata)+1)
		for key, value := range metadata {
			withDigest[key] = value
		}
		withDigest[u.checksum.MetadataKey()] = acc.Digest()
		metadata = withDigest
	}

	boundary := u.boundary()
	payload, err := buildMultipartBody(data, metadata, contentType, boundary)
	if err != nil {
		return transfer.Request{}, err
	}
	return transfer.Request{
		Method: http.MethodPost,
		URL:    u.uploadURL,
		Header: u.mergedHeaders(map[string]string{
			"content-type": fmt.Sprintf("multipart/related; boundary=%q", boundary),
		}),
		Body: payload,
	}, nil
}

// RandomBoundary generates a MIME boundary of the form
// "===============<19-digit-number>==".
func RandomBoundary() string {
	return fmt.Sprintf("===============%019d==", rand.Int63())
}

func buildMultipartBody(data []byte, metadata map[string]interface{}, contentType, boundary string) ([]byte, error) {
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode object metadata: %w", err)
	}

	var body bytes.Buffer
	fmt.Fprintf(&body, "--%s\r\ncontent-type: %s\r\n\r\n", boundary, jsonContentType)
	body.Write(encoded)
	fmt.Fprintf(&body, "\r\n--%s\r\ncontent-type: %s\r\n\r\n", boundary, contentType)
	body.Write(data)
	fmt.Fprintf(&body, "\r\n--%s--", boundary)
	return body.Bytes(), nil
}
