package transfer

import (
	"errors"
	"fmt"
	"io"
)

// UploadChunkGranularity is the granularity required by the resumable
// protocol: every chunk except the final one must be a multiple of 256 KiB.
const UploadChunkGranularity = 256 * 1024

// UnknownTotal marks a stream whose total size has not been determined.
const UnknownTotal int64 = -1

// Chunk is a bounded byte-range slice of a source stream together with its
// content-range descriptor.
type Chunk struct {
	Start        int64
	Data         []byte
	ContentRange string
}

// NextChunk reads up to chunkSize bytes from the stream's current position
// and describes the range they cover. Pass UnknownTotal when the stream size
// is not known; a short read then makes the total known retroactively and
// the content range reports it. Repeated calls partition the stream into
// contiguous, non-overlapping ranges.
func NextChunk(stream io.ReadSeeker, chunkSize int, totalBytes int64) (Chunk, error) {
	start, err := stream.Seek(0, io.SeekCurrent)
	if err != nil {
		return Chunk{}, fmt.Errorf("stream position: %w", err)
	}

	if totalBytes == 0 {
		probe := make([]byte, chunkSize)
		n, err := stream.Read(probe)
		if err != nil && err != io.EOF {
			return Chunk{}, fmt.Errorf("read chunk: %w", err)
		}
		if n > 0 {
			return Chunk{}, errors.New("stream specified as empty, but produced non-empty content")
		}
		return Chunk{ContentRange: "bytes */0"}, nil
	}

	size := chunkSize
	if totalBytes != UnknownTotal {
		remaining := totalBytes - start
		if remaining < 0 {
			remaining = 0
		}
		if remaining < int64(size) {
			size = int(remaining)
		}
	}

	data := make([]byte, size)
	n, err := io.ReadFull(stream, data)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return Chunk{}, fmt.Errorf("read chunk: %w", err)
	}
	data = data[:n]

	if n == 0 {
		if totalBytes == UnknownTotal {
			// The previous chunk drained the stream exactly: the total is
			// now known and the final chunk is empty.
			return Chunk{Start: start, ContentRange: fmt.Sprintf("bytes */%d", start)}, nil
		}
		return Chunk{}, ErrStreamExhausted
	}

	end := start + int64(n) - 1
	if totalBytes == UnknownTotal && n < chunkSize {
		totalBytes = start + int64(n)
	}
	return Chunk{Start: start, Data: data, ContentRange: ContentRange(start, end, totalBytes)}, nil
}

// ContentRange renders "bytes {start}-{end}/{total}", with "*" standing in
// for an unknown total.
func ContentRange(start, end, total int64) string {
	if total == UnknownTotal {
		return fmt.Sprintf("bytes %d-%d/*", start, end)
	}
	return fmt.Sprintf("bytes %d-%d/%d", start, end, total)
}

// TotalBytes reports the stream's size by seeking to the end and back. The
// current position is preserved and no data is consumed.
func TotalBytes(stream io.ReadSeeker) (int64, error) {
	current, err := stream.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("stream position: %w", err)
	}
	size, err := stream.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("seek stream end: %w", err)
	}
	if _, err := stream.Seek(current, io.SeekStart); err != nil {
		return 0, fmt.Errorf("restore stream position: %w", err)
	}
	return size, nil
}
