// Package xmlmpu implements the S3-style XML multipart upload protocol: an
// object is split into independently uploaded parts, each acknowledged with
// an ETag, combined by a finalize call that lists every part in order.
package xmlmpu

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/bitrise-io/go-transferutils/transfer"
)

const (
	initiateQuery      = "?uploads"
	partQueryTemplate  = "?partNumber=%d&uploadId=%s"
	finalQueryTemplate = "?uploadId=%s"
)

// Container tracks the server-side state of one multipart upload: the
// upload ID assigned at initiation and the ETags of finished parts.
type Container struct {
	uploadURL string
	filename  string
	headers   map[string]string
	uploadID  string
	finished  bool

	mu    sync.Mutex
	parts map[int]string
}

// NewContainer binds a multipart upload to its destination URL and the
// local source file. The upload ID is unknown until Initiate.
func NewContainer(uploadURL, filename string, headers map[string]string) *Container {
	return &Container{
		uploadURL: uploadURL,
		filename:  filename,
		headers:   headers,
		parts:     map[int]string{},
	}
}

// NewContainerWithID restores a container for an already-initiated upload,
// e.g. to finalize or cancel it from a fresh process.
func NewContainerWithID(uploadURL, filename string, headers map[string]string, uploadID string) *Container {
	container := NewContainer(uploadURL, filename, headers)
	container.uploadID = uploadID
	return container
}

// UploadID returns the server-assigned upload ID, empty before initiation.
func (c *Container) UploadID() string {
	return c.uploadID
}

// Filename returns the local source file of the upload.
func (c *Container) Filename() string {
	return c.filename
}

// Finished reports whether the upload has been finalized.
func (c *Container) Finished() bool {
	return c.finished
}

// RegisterPart records a finished part's ETag. Safe for concurrent use:
// parts report completion from parallel workers.
func (c *Container) RegisterPart(partNumber int, etag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parts[partNumber] = etag
}

// PrepareInitiateRequest renders the POST that opens the multipart upload.
func (c *Container) PrepareInitiateRequest(contentType string) (transfer.Request, error) {
	if c.uploadID != "" {
		return transfer.Request{}, transfer.ErrAlreadyInitiated
	}
	headers := copyHeaders(c.headers)
	headers["content-type"] = contentType
	return transfer.Request{
		Method: http.MethodPost,
		URL:    c.uploadURL + initiateQuery,
		Header: headers,
	}, nil
}

// ProcessInitiateResponse parses the upload ID out of the XML reply.
func (c *Container) ProcessInitiateResponse(resp *transfer.Response) error {
	if !statusOK(resp.StatusCode) {
		return transfer.NewInvalidResponse(resp, "unexpected status for initiate", http.StatusOK)
	}
	var result struct {
		XMLName  xml.Name `xml:"InitiateMultipartUploadResult"`
		UploadID string   `xml:"UploadId"`
	}
	if err := xml.Unmarshal(resp.Body, &result); err != nil {
		return transfer.NewInvalidResponse(resp, fmt.Sprintf("malformed initiate response body: %v", err))
	}
	if result.UploadID == "" {
		return transfer.NewInvalidResponse(resp, "initiate response had no upload ID")
	}
	c.uploadID = result.UploadID
	return nil
}

type completedPart struct {
	PartNumber int    `xml:"PartNumber"`
	ETag       string `xml:"ETag"`
}

type completeMultipartUpload struct {
	XMLName xml.Name        `xml:"CompleteMultipartUpload"`
	Parts   []completedPart `xml:"Part"`
}

// PrepareFinalizeRequest renders the POST that combines the uploaded parts
// into the final object. Parts are listed in numeric part-number order no
// matter the order they were registered in.
func (c *Container) PrepareFinalizeRequest() (transfer.Request, error) {
	if c.uploadID == "" {
		return transfer.Request{}, transfer.ErrNotInitiated
	}

	c.mu.Lock()
	numbers := make([]int, 0, len(c.parts))
	for number := range c.parts {
		numbers = append(numbers, number)
	}
	sort.Ints(numbers)
	payload := completeMultipartUpload{Parts: make([]completedPart, 0, len(numbers))}
	for _, number := range numbers {
		payload.Parts = append(payload.Parts, completedPart{PartNumber: number, ETag: c.parts[number]})
	}
	c.mu.Unlock()

	body, err := xml.Marshal(payload)
	if err != nil {
		return transfer.Request{}, fmt.Errorf("encode completion body: %w", err)
	}
	return transfer.Request{
		Method: http.MethodPost,
		URL:    c.uploadURL + fmt.Sprintf(finalQueryTemplate, c.uploadID),
		Header: copyHeaders(c.headers),
		Body:   body,
	}, nil
}

// ProcessFinalizeResponse marks the upload finished on success.
func (c *Container) ProcessFinalizeResponse(resp *transfer.Response) error {
	if !statusOK(resp.StatusCode) {
		return transfer.NewInvalidResponse(resp, "unexpected status for finalize", http.StatusOK)
	}
	c.finished = true
	return nil
}

// PrepareCancelRequest renders the DELETE that aborts the multipart upload
// and discards its parts server-side.
func (c *Container) PrepareCancelRequest() (transfer.Request, error) {
	if c.uploadID == "" {
		return transfer.Request{}, transfer.ErrNotInitiated
	}
	return transfer.Request{
		Method: http.MethodDelete,
		URL:    c.uploadURL + fmt.Sprintf(finalQueryTemplate, c.uploadID),
		Header: copyHeaders(c.headers),
	}, nil
}

// ProcessCancelResponse accepts any 2xx; the documented reply is 204.
func (c *Container) ProcessCancelResponse(resp *transfer.Response) error {
	if !statusOK(resp.StatusCode) {
		return transfer.NewInvalidResponse(resp, "unexpected status for cancel", http.StatusNoContent)
	}
	return nil
}

func statusOK(status int) bool {
	return status >= 200 && status < 300
}

func copyHeaders(headers map[string]string) map[string]string {
	copied := make(map[string]string, len(headers))
	for key, value := range headers {
		copied[key] = value
	}
	return copied
}
