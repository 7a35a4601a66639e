package network

import (
	"context"
	"fmt"

	"github.com/bitrise-io/go-transferutils/transfer"
	"github.com/bitrise-io/go-transferutils/transfer/upload"
	"github.com/bitrise-io/go-utils/v2/log"
)

// SimpleUploadParams describe a one-shot upload of an in-memory payload.
type SimpleUploadParams struct {
	UploadURL   string
	Headers     map[string]string
	Data        []byte
	ContentType string
}

// UploadSimple sends the payload in a single request.
func UploadSimple(ctx context.Context, transport transfer.Transport, params SimpleUploadParams, logger log.Logger) error {
	simple := upload.NewSimpleUpload(params.UploadURL, params.Headers)

	req, err := simple.PrepareRequest(params.Data, params.ContentType)
	if err != nil {
		return err
	}

	logger.Debugf("Uploading %d bytes in a single request", len(params.Data))
	resp, err := transport.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("simple upload: %w", err)
	}
	return simple.ProcessResponse(resp)
}

// MultipartUploadParams describe a one-shot upload of a payload together
// with its object metadata.
type MultipartUploadParams struct {
	UploadURL   string
	Headers     map[string]string
	Data        []byte
	Metadata    map[string]interface{}
	ContentType string
	Checksum    transfer.Checksum
}

// UploadMultipart sends the payload and its metadata as a single
// multipart/related request.
func UploadMultipart(ctx context.Context, transport transfer.Transport, params MultipartUploadParams, logger log.Logger) error {
	multipart, err := upload.NewMultipartUpload(params.UploadURL, params.Headers, params.Checksum)
	if err != nil {
		return err
	}

	req, err := multipart.PrepareRequest(params.Data, params.Metadata, params.ContentType)
	if err != nil {
		return err
	}

	logger.Debugf("Uploading %d bytes with metadata in a single multipart request", len(params.Data))
	resp, err := transport.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("multipart upload: %w", err)
	}
	return multipart.ProcessResponse(resp)
}
