package xmlmpu

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/bitrise-io/go-transferutils/transfer"
)

// Part uploads one byte range of the source file within a multipart upload.
// Part numbers start at 1 and determine the assembly order of the object.
type Part struct {
	container   *Container
	partNumber  int
	start       int64
	end         int64
	checksum    transfer.Checksum
	localDigest string
	etag        string
	finished    bool
}

// NewPart describes the [start, end) byte range of the container's file as
// part partNumber. The checksum kind selects end-to-end validation of the
// part body; ChecksumNone disables it.
func NewPart(container *Container, partNumber int, start, end int64, checksum transfer.Checksum) *Part {
	return &Part{
		container:  container,
		partNumber: partNumber,
		start:      start,
		end:        end,
		checksum:   checksum,
	}
}

// PartNumber returns the 1-based part index.
func (p *Part) PartNumber() int {
	return p.partNumber
}

// ETag returns the server-assigned entity tag, empty until the part upload
// succeeded.
func (p *Part) ETag() string {
	return p.etag
}

// Finished reports whether the part has been uploaded and acknowledged.
func (p *Part) Finished() bool {
	return p.finished
}

// PrepareRequest reads the part's byte range from the source file and
// renders its PUT request. The local checksum of the range is computed
// here so ProcessResponse can compare without re-reading the file.
func (p *Part) PrepareRequest() (transfer.Request, error) {
	if p.finished {
		return transfer.Request{}, transfer.ErrUploadFinished
	}
	if p.container.UploadID() == "" {
		return transfer.Request{}, transfer.ErrNotInitiated
	}

	file, err := os.Open(p.container.Filename())
	if err != nil {
		return transfer.Request{}, fmt.Errorf("open source file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.NewSectionReader(file, p.start, p.end-p.start))
	if err != nil {
		return transfer.Request{}, fmt.Errorf("read part %d range [%d, %d): %w", p.partNumber, p.start, p.end, err)
	}

	accumulator, err := transfer.NewAccumulator(p.checksum)
	if err != nil {
		return transfer.Request{}, err
	}
	if accumulator != nil {
		if err := accumulator.Update(0, data); err != nil {
			return transfer.Request{}, err
		}
		p.checksum = accumulator.Kind()
		p.localDigest = accumulator.Digest()
	}

	return transfer.Request{
		Method: http.MethodPut,
		URL:    p.container.uploadURL + fmt.Sprintf(partQueryTemplate, p.partNumber, p.container.UploadID()),
		Header: copyHeaders(p.container.headers),
		Body:   data,
	}, nil
}

// ProcessResponse validates the part upload reply, verifies the part body
// checksum when the server echoed one, captures the ETag and registers the
// part with the container. A success response without a checksum header is
// accepted as-is.
func (p *Part) ProcessResponse(resp *transfer.Response) error {
	if !statusOK(resp.StatusCode) {
		return transfer.NewInvalidResponse(resp, "unexpected status for part upload", http.StatusOK)
	}

	if p.checksum != transfer.ChecksumNone {
		if err := p.validateChecksum(resp); err != nil {
			return err
		}
	}

	etag := resp.Header.Get("etag")
	if etag == "" {
		return transfer.NewInvalidResponse(resp, "part upload response had no etag header")
	}
	p.etag = etag
	p.finished = true
	p.container.RegisterPart(p.partNumber, etag)
	return nil
}

func (p *Part) validateChecksum(resp *transfer.Response) error {
	header := resp.Header.Get(transfer.HashHeader)
	if header == "" {
		return nil
	}
	remote, err := transfer.ParseHashHeader(header, p.checksum, resp)
	if err != nil {
		return err
	}
	if remote == "" {
		return nil
	}
	if p.localDigest != remote {
		return &transfer.DataCorruptionError{
			Response: resp,
			Checksum: p.checksum,
			Local:    p.localDigest,
			Remote:   remote,
		}
	}
	return nil
}
