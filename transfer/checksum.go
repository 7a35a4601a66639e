package transfer

import (
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"hash"
	"hash/crc32"
	"strings"
)

// HashHeader is the response header carrying server-side digests for XML
// flows, as comma-separated "label=base64digest" entries.
const HashHeader = "x-goog-hash"

// Checksum selects the integrity algorithm of a transfer.
type Checksum string

const (
	// ChecksumNone disables integrity checking.
	ChecksumNone Checksum = ""
	// ChecksumMD5 verifies transfers with MD5.
	ChecksumMD5 Checksum = "md5"
	// ChecksumCRC32C verifies transfers with CRC32C (Castagnoli).
	ChecksumCRC32C Checksum = "crc32c"
	// ChecksumAuto resolves to ChecksumCRC32C.
	ChecksumAuto Checksum = "auto"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Resolve maps ChecksumAuto onto the concrete default algorithm and rejects
// unknown values.
func (c Checksum) Resolve() (Checksum, error) {
	switch c {
	case ChecksumNone, ChecksumMD5, ChecksumCRC32C:
		return c, nil
	case ChecksumAuto:
		return ChecksumCRC32C, nil
	default:
		return ChecksumNone, fmt.Errorf("unsupported checksum type: %q", string(c))
	}
}

// MetadataKey returns the object-metadata field that carries the server's
// digest for the algorithm.
func (c Checksum) MetadataKey() string {
	if c == ChecksumMD5 {
		return "md5Hash"
	}
	return "crc32c"
}

// Accumulator computes a running MD5 or CRC32C digest over a byte stream.
// It tolerates stream rewinds: bytes before the accumulated offset are never
// hashed twice, so a rewind-and-replay after a failed chunk leaves the
// digest intact.
type Accumulator struct {
	kind   Checksum
	hash   hash.Hash
	offset int64
}

// NewAccumulator builds an accumulator for the given algorithm.
// ChecksumNone yields a nil accumulator, on which Update is a no-op.
func NewAccumulator(kind Checksum) (*Accumulator, error) {
	resolved, err := kind.Resolve()
	if err != nil {
		return nil, err
	}
	switch resolved {
	case ChecksumNone:
		return nil, nil
	case ChecksumMD5:
		return &Accumulator{kind: resolved, hash: md5.New()}, nil
	default:
		return &Accumulator{kind: resolved, hash: crc32.New(castagnoli)}, nil
	}
}

// Kind returns the resolved algorithm.
func (a *Accumulator) Kind() Checksum {
	if a == nil {
		return ChecksumNone
	}
	return a.kind
}

// Offset returns how many leading bytes of the stream have been hashed.
func (a *Accumulator) Offset() int64 {
	if a == nil {
		return 0
	}
	return a.offset
}

// Update hashes the portion of data that has not been accumulated yet.
// start is the stream offset of data[0]; when the stream was rewound, the
// already-hashed prefix of data is skipped. A start beyond the accumulated
// offset means bytes were skipped and is a stream state error.
func (a *Accumulator) Update(start int64, data []byte) error {
	if a == nil {
		return nil
	}
	if start > a.offset {
		return fmt.Errorf("%w: %d bytes checksummed, but chunk starts at %d", ErrStreamState, a.offset, start)
	}
	skip := a.offset - start
	if skip >= int64(len(data)) {
		return nil
	}
	a.hash.Write(data[skip:]) // hash.Hash never errors
	a.offset = start + int64(len(data))
	return nil
}

// Digest returns the base64 encoding of the accumulated digest.
func (a *Accumulator) Digest() string {
	return base64.StdEncoding.EncodeToString(a.hash.Sum(nil))
}

// ParseHashHeader extracts the digest for label from an x-goog-hash style
// value, e.g. "crc32c=n03x6A==,md5=Ojk9c3dhfxgoKVVHYwFbHQ==". A missing
// label yields the empty string. Multiple entries for one label are a
// protocol violation.
func ParseHashHeader(value string, label Checksum, resp *Response) (string, error) {
	if value == "" {
		return "", nil
	}
	var matches []string
	for _, entry := range strings.Split(value, ",") {
		pair := strings.SplitN(strings.TrimSpace(entry), "=", 2)
		if len(pair) != 2 {
			continue
		}
		if pair[0] == string(label) {
			matches = append(matches, pair[1])
		}
	}
	switch len(matches) {
	case 0:
		return "", nil
	case 1:
		return matches[0], nil
	default:
		return "", NewInvalidResponse(resp,
			fmt.Sprintf("header %q had multiple %s entries: %q", HashHeader, label, value))
	}
}
