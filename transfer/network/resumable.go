package network

import (
	"context"
	"fmt"
	"io"

	"github.com/bitrise-io/go-transferutils/transfer"
	"github.com/bitrise-io/go-transferutils/transfer/upload"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// ResumableUploader drives a resumable upload session over a transport:
// one initiate call, then chunk transmissions until the object is done,
// with recovery when the session state is lost mid-transfer.
type ResumableUploader struct {
	transport transfer.Transport
	upload    *upload.ResumableUpload
	logger    log.Logger
}

// NewResumableUploader wraps a resumable upload state machine with the
// transport that will carry its requests.
func NewResumableUploader(transport transfer.Transport, up *upload.ResumableUpload, logger log.Logger) *ResumableUploader {
	return &ResumableUploader{
		transport: transport,
		upload:    up,
		logger:    logger,
	}
}

// InitiateParams carry the inputs of the session-opening request.
type InitiateParams struct {
	Stream      io.ReadSeeker
	Metadata    map[string]interface{}
	ContentType string
	TotalBytes  int64
	StreamFinal bool
}

// Initiate opens the upload session and stores the session URL for the
// chunk requests that follow.
func (u *ResumableUploader) Initiate(ctx context.Context, params InitiateParams) error {
	req, err := u.upload.PrepareInitiateRequest(params.Stream, params.Metadata, params.ContentType, params.TotalBytes, params.StreamFinal)
	if err != nil {
		return err
	}
	resp, err := u.transport.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("initiate resumable upload: %w", err)
	}
	if err := u.upload.ProcessInitiateResponse(resp); err != nil {
		return err
	}
	u.logger.Debugf("Resumable upload session: %s", u.upload.ResumableURL())
	return nil
}

// TransmitNextChunk sends the next chunk of the stream and advances the
// session state from the reply.
func (u *ResumableUploader) TransmitNextChunk(ctx context.Context) error {
	req, err := u.upload.PrepareChunkRequest()
	if err != nil {
		return err
	}
	resp, err := u.transport.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("transmit chunk: %w", err)
	}
	return u.upload.ProcessChunkResponse(resp, int64(len(req.Body)))
}

// Recover re-synchronizes an invalid session with the bytes the server
// already has, so transmission can continue.
func (u *ResumableUploader) Recover(ctx context.Context) error {
	req := u.upload.PrepareRecoverRequest()
	resp, err := u.transport.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("recover resumable upload: %w", err)
	}
	if err := u.upload.ProcessRecoverResponse(resp); err != nil {
		return err
	}
	u.logger.Debugf("Recovered resumable upload at byte %d", u.upload.BytesUploaded())
	return nil
}

// Upload initiates the session and transmits chunks until the upload
// finishes. An invalidated session is recovered and the chunk retried, up
// to maxRecoveries times per session.
func (u *ResumableUploader) Upload(ctx context.Context, params InitiateParams) error {
	const maxRecoveries = 3

	if err := u.Initiate(ctx, params); err != nil {
		return err
	}

	recoveries := 0
	for !u.upload.Finished() {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := u.TransmitNextChunk(ctx)
		if err == nil {
			u.logger.Debugf("Uploaded %s of %s",
				units.HumanSize(float64(u.upload.BytesUploaded())), totalLabel(u.upload.TotalBytes()))
			if err := u.resyncStream(params.Stream); err != nil {
				return err
			}
			continue
		}

		if !u.upload.Invalid() || recoveries >= maxRecoveries {
			return err
		}
		recoveries++
		u.logger.Warnf("Chunk transmission failed, recovering session (%d/%d): %s", recoveries, maxRecoveries, err)
		if recoverErr := u.Recover(ctx); recoverErr != nil {
			return fmt.Errorf("recover after failed chunk: %w", recoverErr)
		}
	}
	return nil
}

// resyncStream rewinds the stream to the server-accepted byte count after
// a partial acceptance. The state machine requires the stream position to
// match its bookkeeping and never re-seeks on its own.
func (u *ResumableUploader) resyncStream(stream io.ReadSeeker) error {
	if u.upload.Finished() {
		return nil
	}
	position, err := stream.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("stream position: %w", err)
	}
	accepted := u.upload.BytesUploaded()
	if position == accepted {
		return nil
	}
	u.logger.Debugf("Server accepted %d of %d streamed bytes, rewinding", accepted, position)
	if _, err := stream.Seek(accepted, io.SeekStart); err != nil {
		return fmt.Errorf("seek stream to %d: %w", accepted, err)
	}
	return nil
}

func totalLabel(totalBytes int64) string {
	if totalBytes == transfer.UnknownTotal {
		return "unknown total"
	}
	return units.HumanSize(float64(totalBytes))
}
