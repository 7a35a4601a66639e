package xmlmpu

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/bitrise-io/go-transferutils/transfer"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// Coordinator drives a whole multipart upload: it initiates the upload,
// fans the parts out to parallel workers with per-part retry, finalizes on
// success and cancels server-side state on failure.
type Coordinator struct {
	config    Config
	transport transfer.Transport
	logger    log.Logger
}

// NewCoordinator creates a coordinator using the given transport for all
// requests of the upload.
func NewCoordinator(config Config, transport transfer.Transport, logger log.Logger) *Coordinator {
	return &Coordinator{
		config:    config,
		transport: transport,
		logger:    logger,
	}
}

type partResult struct {
	partNumber int
	err        error
}

// Upload transfers the whole file behind the container as a multipart
// upload and returns only after the object is finalized. On any part or
// finalize failure the upload is cancelled before the error is returned.
func (c *Coordinator) Upload(ctx context.Context, container *Container, contentType string) error {
	info, err := os.Stat(container.Filename())
	if err != nil {
		return fmt.Errorf("stat source file: %w", err)
	}
	totalSize := info.Size()

	if err := c.initiate(ctx, container, contentType); err != nil {
		return err
	}

	parts := c.splitParts(container, totalSize)
	c.logger.Infof("Uploading %s as %d part(s) of up to %s",
		units.HumanSize(float64(totalSize)), len(parts), units.HumanSize(float64(c.config.PartSize)))

	if err := c.uploadParts(ctx, parts); err != nil {
		if cancelErr := c.cancel(ctx, container); cancelErr != nil {
			c.logger.Warnf("Failed to cancel multipart upload %s: %s", container.UploadID(), cancelErr)
		}
		return err
	}

	if err := c.finalize(ctx, container); err != nil {
		if cancelErr := c.cancel(ctx, container); cancelErr != nil {
			c.logger.Warnf("Failed to cancel multipart upload %s: %s", container.UploadID(), cancelErr)
		}
		return err
	}
	return nil
}

func (c *Coordinator) initiate(ctx context.Context, container *Container, contentType string) error {
	req, err := container.PrepareInitiateRequest(contentType)
	if err != nil {
		return err
	}
	resp, err := c.transport.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("initiate multipart upload: %w", err)
	}
	if err := container.ProcessInitiateResponse(resp); err != nil {
		return err
	}
	c.logger.Debugf("Initiated multipart upload %s", container.UploadID())
	return nil
}

func (c *Coordinator) splitParts(container *Container, totalSize int64) []*Part {
	var parts []*Part
	partNumber := 1
	for start := int64(0); start < totalSize; start += c.config.PartSize {
		end := start + c.config.PartSize
		if end > totalSize {
			end = totalSize
		}
		parts = append(parts, NewPart(container, partNumber, start, end, c.config.Checksum))
		partNumber++
	}
	if len(parts) == 0 {
		// Zero-byte file still needs one (empty) part to finalize.
		parts = append(parts, NewPart(container, 1, 0, 0, c.config.Checksum))
	}
	return parts
}

func (c *Coordinator) uploadParts(ctx context.Context, parts []*Part) error {
	resultChan := make(chan partResult, len(parts))
	semaphore := make(chan struct{}, c.config.Concurrency)

	for _, part := range parts {
		go func(part *Part) {
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			resultChan <- partResult{
				partNumber: part.PartNumber(),
				err:        c.uploadPartWithRetry(ctx, part, len(parts)),
			}
		}(part)
	}

	completed := 0
	for completed < len(parts) {
		select {
		case <-ctx.Done():
			return fmt.Errorf("upload cancelled while waiting for parts: %w", ctx.Err())
		case result := <-resultChan:
			completed++
			if result.err != nil {
				return fmt.Errorf("part %d failed after %d attempt(s): %w",
					result.partNumber, c.config.MaxRetryPerPart+1, result.err)
			}
		}
	}
	return nil
}

func (c *Coordinator) uploadPartWithRetry(ctx context.Context, part *Part, totalParts int) error {
	return retry.Times(c.config.MaxRetryPerPart).Wait(c.config.RetryWait).TryWithAbort(func(attempt uint) (error, bool) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("part %d upload cancelled: %w", part.PartNumber(), err), true
		}

		c.logger.Debugf("Uploading part %d/%d (attempt %d/%d)",
			part.PartNumber(), totalParts, attempt+1, c.config.MaxRetryPerPart+1)

		req, err := part.PrepareRequest()
		if err != nil {
			return err, true
		}
		resp, err := c.transport.Do(ctx, req)
		if err != nil {
			return fmt.Errorf("part %d upload: %w", part.PartNumber(), err), false
		}
		if err := part.ProcessResponse(resp); err != nil {
			var corruption *transfer.DataCorruptionError
			if errors.As(err, &corruption) {
				return err, true
			}
			return err, false
		}
		return nil, false
	})
}

func (c *Coordinator) finalize(ctx context.Context, container *Container) error {
	req, err := container.PrepareFinalizeRequest()
	if err != nil {
		return err
	}
	resp, err := c.transport.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("finalize multipart upload: %w", err)
	}
	return container.ProcessFinalizeResponse(resp)
}

func (c *Coordinator) cancel(ctx context.Context, container *Container) error {
	req, err := container.PrepareCancelRequest()
	if err != nil {
		return err
	}
	resp, err := c.transport.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("cancel multipart upload: %w", err)
	}
	return container.ProcessCancelResponse(resp)
}
