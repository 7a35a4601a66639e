package upload

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bitrise-io/go-transferutils/transfer"
)

// ResumableUpload uploads an object in sequential byte-range chunks. The
// server reports how many bytes it has durably received, so a transfer can
// resume after a failure without resending accepted bytes.
//
// A ResumableUpload is not safe for concurrent use: chunk and checksum
// bookkeeping is mutated in place with no internal synchronization.
type ResumableUpload struct {
	Base
	chunkSize     int
	checksum      transfer.Checksum
	accumulator   *transfer.Accumulator
	stream        io.ReadSeeker
	contentType   string
	totalBytes    int64
	bytesUploaded int64
	resumableURL  string
	invalid       bool
}

// NewResumableUpload binds a resumable upload to its destination URL.
// chunkSize must be a positive multiple of 256 KiB.
func NewResumableUpload(uploadURL string, chunkSize int, headers map[string]string, checksum transfer.Checksum) (*ResumableUpload, error) {
	if chunkSize <= 0 || chunkSize%transfer.UploadChunkGranularity != 0 {
		return nil, fmt.Errorf("chunk size %d is not a positive multiple of %d bytes", chunkSize, transfer.UploadChunkGranularity)
	}
	resolved, err := checksum.Resolve()
	if err != nil {
		return nil, err
	}
	return &ResumableUpload{
		Base:       newBase(uploadURL, headers),
		chunkSize:  chunkSize,
		checksum:   resolved,
		totalBytes: transfer.UnknownTotal,
	}, nil
}

// ChunkSize returns the configured chunk size in bytes.
func (u *ResumableUpload) ChunkSize() int {
	return u.chunkSize
}

// ResumableURL returns the session URL assigned by the server, empty until
// the upload has been initiated.
func (u *ResumableUpload) ResumableURL() string {
	return u.resumableURL
}

// BytesUploaded returns how many bytes the server has accepted so far.
func (u *ResumableUpload) BytesUploaded() int64 {
	return u.bytesUploaded
}

// BytesChecksummed returns how many leading stream bytes have been hashed.
func (u *ResumableUpload) BytesChecksummed() int64 {
	return u.accumulator.Offset()
}

// TotalBytes returns the stream size, or transfer.UnknownTotal while it has
// not been determined.
func (u *ResumableUpload) TotalBytes() int64 {
	return u.totalBytes
}

// Invalid reports whether the upload lost sync with the server. While
// invalid, chunk requests fail until Recover() succeeds.
func (u *ResumableUpload) Invalid() bool {
	return u.invalid
}

// PrepareInitiateRequest renders the POST that opens the upload session.
// Pass totalBytes as transfer.UnknownTotal to have the size inferred from
// the stream when streamFinal is true, or left unknown when it is false
// (the stream is still being written to).
func (u *ResumableUpload) PrepareInitiateRequest(stream io.ReadSeeker, metadata map[string]interface{}, contentType string, totalBytes int64, streamFinal bool) (transfer.Request, error) {
	if u.resumableURL != "" {
		return transfer.Request{}, transfer.ErrAlreadyInitiated
	}

	if totalBytes == transfer.UnknownTotal && streamFinal {
		position, err := stream.Seek(0, io.SeekCurrent)
		if err != nil {
			return transfer.Request{}, fmt.Errorf("stream position: %w", err)
		}
		if position != 0 {
			return transfer.Request{}, fmt.Errorf("%w: stream must be at its beginning to infer the total size, position is %d", transfer.ErrStreamState, position)
		}
		totalBytes, err = transfer.TotalBytes(stream)
		if err != nil {
			return transfer.Request{}, fmt.Errorf("determine stream size: %w", err)
		}
	}

	u.stream = stream
	u.contentType = contentType
	u.totalBytes = totalBytes

	body, err := json.Marshal(metadata)
	if err != nil {
		return transfer.Request{}, fmt.Errorf("encode object metadata: %w", err)
	}

	extra := map[string]string{
		"content-type":          jsonContentType,
		"x-upload-content-type": contentType,
	}
	if hasSignedQuery(u.uploadURL) {
		// Signed URLs reject headers beyond the signed set: the raw content
		// type replaces the JSON envelope's, and only the length upload
		// header survives.
		extra = map[string]string{"content-type": contentType}
	}
	if totalBytes != transfer.UnknownTotal {
		extra["x-upload-content-length"] = strconv.FormatInt(totalBytes, 10)
	}

	return transfer.Request{
		Method: http.MethodPost,
		URL:    u.uploadURL,
		Header: u.mergedHeaders(extra),
		Body:   body,
	}, nil
}

// ProcessInitiateResponse records the session URL from the Location header.
func (u *ResumableUpload) ProcessInitiateResponse(resp *transfer.Response) error {
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return transfer.NewInvalidResponse(resp, "unexpected status for initiate", http.StatusOK, http.StatusCreated)
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return transfer.NewInvalidResponse(resp, "response had no location header")
	}
	u.resumableURL = location
	return nil
}

// PrepareChunkRequest renders the PUT for the next chunk of the stream and
// folds the chunk's bytes into the running checksum. The stream must be
// positioned exactly at the number of bytes already uploaded.
func (u *ResumableUpload) PrepareChunkRequest() (transfer.Request, error) {
	if u.finished {
		return transfer.Request{}, transfer.ErrUploadFinished
	}
	if u.invalid {
		return transfer.Request{}, transfer.ErrInvalidState
	}
	if u.resumableURL == "" {
		return transfer.Request{}, transfer.ErrNotInitiated
	}
	position, err := u.stream.Seek(0, io.SeekCurrent)
	if err != nil {
		return transfer.Request{}, fmt.Errorf("stream position: %w", err)
	}
	if position != u.bytesUploaded {
		return transfer.Request{}, fmt.Errorf("%w: stream is at byte %d, but %d bytes have been uploaded", transfer.ErrStreamState, position, u.bytesUploaded)
	}

	chunk, err := transfer.NextChunk(u.stream, u.chunkSize, u.totalBytes)
	if err != nil {
		return transfer.Request{}, err
	}
	if err := u.updateChecksum(chunk); err != nil {
		return transfer.Request{}, err
	}

	return transfer.Request{
		Method: http.MethodPut,
		URL:    u.resumableURL,
		Header: u.mergedHeaders(map[string]string{
			"content-type":  u.contentType,
			"content-range": chunk.ContentRange,
		}),
		Body: chunk.Data,
	}, nil
}

// ProcessChunkResponse interprets the server's reply to a chunk PUT.
// bytesSent is the length of the chunk body that was transmitted.
//
// A 200/201 means the final chunk was accepted: the object size is parsed
// from the body and must account for every byte accepted so far plus the
// final chunk, the upload finishes and the checksum is validated. A 308
// means a partial chunk was accepted and the range header reports how far.
// Anything else, or a 308 without a parseable range header, is a protocol
// violation that puts the upload into the invalid state.
func (u *ResumableUpload) ProcessChunkResponse(resp *transfer.Response, bytesSent int64) error {
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		size, err := objectSize(resp.Body)
		if err != nil {
			return transfer.NewInvalidResponse(resp, fmt.Sprintf("response body had no object size: %v", err))
		}
		if size != u.bytesUploaded+bytesSent {
			u.invalid = true
			return transfer.NewInvalidResponse(resp,
				fmt.Sprintf("object size %d does not match %d accepted plus %d sent bytes", size, u.bytesUploaded, bytesSent))
		}
		u.bytesUploaded = size
		u.finished = true
		return u.validateChecksum(resp)
	case http.StatusPermanentRedirect:
		rangeHeader := resp.Header.Get("Range")
		if rangeHeader == "" {
			u.invalid = true
			return transfer.NewInvalidResponse(resp, "response headers must contain the range header")
		}
		end, ok := parseByteRange(rangeHeader)
		if !ok {
			u.invalid = true
			return transfer.NewInvalidResponse(resp, fmt.Sprintf("unexpected range header %q, expected bytes=0-{end}", rangeHeader))
		}
		u.bytesUploaded = end + 1
		return nil
	default:
		u.invalid = true
		return transfer.NewInvalidResponse(resp, "unexpected status for chunk",
			http.StatusOK, http.StatusPermanentRedirect)
	}
}

// PrepareRecoverRequest renders the idempotent range probe asking the
// server how many bytes it has durably received. It is valid in any state.
// The upload's own custom headers are deliberately excluded: only the
// synthetic range-probe header is sent.
func (u *ResumableUpload) PrepareRecoverRequest() transfer.Request {
	return transfer.Request{
		Method: http.MethodPut,
		URL:    u.resumableURL,
		Header: map[string]string{"content-range": "bytes */*"},
	}
}

// ProcessRecoverResponse re-synchronizes local byte bookkeeping with the
// server's authoritative view and clears the invalid state. A 308 without a
// range header means the server has received nothing: the upload restarts
// from byte zero.
func (u *ResumableUpload) ProcessRecoverResponse(resp *transfer.Response) error {
	if resp.StatusCode != http.StatusPermanentRedirect {
		return transfer.NewInvalidResponse(resp, "unexpected status for recover", http.StatusPermanentRedirect)
	}
	var next int64
	if rangeHeader := resp.Header.Get("Range"); rangeHeader != "" {
		end, ok := parseByteRange(rangeHeader)
		if !ok {
			return transfer.NewInvalidResponse(resp, fmt.Sprintf("unexpected range header %q, expected bytes=0-{end}", rangeHeader))
		}
		next = end + 1
	}
	if _, err := u.stream.Seek(next, io.SeekStart); err != nil {
		return fmt.Errorf("seek stream to %d: %w", next, err)
	}
	u.bytesUploaded = next
	u.invalid = false
	return nil
}

func (u *ResumableUpload) updateChecksum(chunk transfer.Chunk) error {
	if u.checksum == transfer.ChecksumNone {
		return nil
	}
	if u.accumulator == nil {
		accumulator, err := transfer.NewAccumulator(u.checksum)
		if err != nil {
			return err
		}
		u.accumulator = accumulator
	}
	return u.accumulator.Update(chunk.Start, chunk.Data)
}

// validateChecksum compares the locally accumulated digest against the one
// the server reports in the finished object's metadata. The server must
// report a digest for the configured algorithm; its absence is a protocol
// violation, a mismatch is data corruption.
func (u *ResumableUpload) validateChecksum(resp *transfer.Response) error {
	if u.checksum == transfer.ChecksumNone {
		return nil
	}
	if u.accumulator == nil {
		accumulator, err := transfer.NewAccumulator(u.checksum)
		if err != nil {
			return err
		}
		u.accumulator = accumulator
	}

	var metadata struct {
		MD5    string `json:"md5Hash"`
		CRC32C string `json:"crc32c"`
	}
	_ = json.Unmarshal(resp.Body, &metadata)
	remote := metadata.CRC32C
	if u.checksum == transfer.ChecksumMD5 {
		remote = metadata.MD5
	}
	if remote == "" {
		return transfer.NewInvalidResponse(resp,
			fmt.Sprintf("object metadata had no appropriate checksum in field %q", u.checksum.MetadataKey()))
	}
	local := u.accumulator.Digest()
	if remote != local {
		return &transfer.DataCorruptionError{Response: resp, Checksum: u.checksum, Local: local, Remote: remote}
	}
	return nil
}

func objectSize(body []byte) (int64, error) {
	var metadata struct {
		Size json.Number `json:"size"`
	}
	if err := json.Unmarshal(body, &metadata); err != nil {
		return 0, err
	}
	if metadata.Size == "" {
		return 0, fmt.Errorf("missing size field")
	}
	return metadata.Size.Int64()
}

func parseByteRange(value string) (int64, bool) {
	const prefix = "bytes=0-"
	if !strings.HasPrefix(value, prefix) {
		return 0, false
	}
	end, err := strconv.ParseInt(value[len(prefix):], 10, 64)
	if err != nil || end < 0 {
		return 0, false
	}
	return end, true
}

func hasSignedQuery(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	for key := range parsed.Query() {
		if strings.EqualFold(key, "x-goog-signature") {
			return true
		}
	}
	return false
}
