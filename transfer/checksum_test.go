package transfer

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const knownData = "All of the data goes in a stream."

func TestChecksumResolve(t *testing.T) {
	resolved, err := ChecksumAuto.Resolve()
	require.NoError(t, err)
	assert.Equal(t, ChecksumCRC32C, resolved)

	_, err = Checksum("sha9000").Resolve()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sha9000")
}

func TestChecksumMetadataKey(t *testing.T) {
	assert.Equal(t, "md5Hash", ChecksumMD5.MetadataKey())
	assert.Equal(t, "crc32c", ChecksumCRC32C.MetadataKey())
}

func TestAccumulator_KnownDigests(t *testing.T) {
	tests := []struct {
		name   string
		kind   Checksum
		digest string
	}{
		{name: "md5", kind: ChecksumMD5, digest: "GRvfKbqr5klAOwLkxgIf8w=="},
		{name: "crc32c", kind: ChecksumCRC32C, digest: "Qg8thA=="},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc, err := NewAccumulator(tt.kind)
			require.NoError(t, err)
			require.NoError(t, acc.Update(0, []byte(knownData)))
			assert.Equal(t, tt.digest, acc.Digest())
			assert.Equal(t, int64(len(knownData)), acc.Offset())
		})
	}
}

func TestAccumulator_RewindDoesNotDoubleHash(t *testing.T) {
	acc, err := NewAccumulator(ChecksumCRC32C)
	require.NoError(t, err)

	data := []byte(knownData)
	require.NoError(t, acc.Update(0, data[:16]))
	// Replay from the beginning after a simulated failed chunk: only the
	// unseen suffix may be hashed.
	require.NoError(t, acc.Update(0, data))

	assert.Equal(t, "Qg8thA==", acc.Digest())
	assert.Equal(t, int64(len(data)), acc.Offset())
}

func TestAccumulator_FullyReplayedChunkIsNoOp(t *testing.T) {
	acc, err := NewAccumulator(ChecksumMD5)
	require.NoError(t, err)

	data := []byte(knownData)
	require.NoError(t, acc.Update(0, data))
	require.NoError(t, acc.Update(0, data[:8]))

	assert.Equal(t, "GRvfKbqr5klAOwLkxgIf8w==", acc.Digest())
}

func TestAccumulator_GapIsStreamStateError(t *testing.T) {
	acc, err := NewAccumulator(ChecksumCRC32C)
	require.NoError(t, err)
	require.NoError(t, acc.Update(0, []byte("0123")))

	err = acc.Update(10, []byte("abcd"))
	assert.ErrorIs(t, err, ErrStreamState)
}

func TestAccumulator_NoneIsNil(t *testing.T) {
	acc, err := NewAccumulator(ChecksumNone)
	require.NoError(t, err)
	require.Nil(t, acc)

	assert.Equal(t, ChecksumNone, acc.Kind())
	assert.Equal(t, int64(0), acc.Offset())
	assert.NoError(t, acc.Update(0, []byte("ignored")))
}

func TestParseHashHeader(t *testing.T) {
	resp := &Response{StatusCode: http.StatusOK}

	value, err := ParseHashHeader("crc32c=n03x6A==,md5=Ojk9c3dhfxgoKVVHYwFbHQ==", ChecksumCRC32C, resp)
	require.NoError(t, err)
	assert.Equal(t, "n03x6A==", value)

	value, err = ParseHashHeader("crc32c=n03x6A==", ChecksumMD5, resp)
	require.NoError(t, err)
	assert.Empty(t, value)

	_, err = ParseHashHeader("crc32c=aaaa,crc32c=bbbb", ChecksumCRC32C, resp)
	require.Error(t, err)
	var invalid *InvalidResponseError
	assert.ErrorAs(t, err, &invalid)
}

func TestParseHashHeader_KeepsBase64Padding(t *testing.T) {
	// Digest values are base64 and contain "=": only the first separator
	// splits the label from the value.
	resp := &Response{StatusCode: http.StatusOK}
	value, err := ParseHashHeader("md5=GRvfKbqr5klAOwLkxgIf8w==", ChecksumMD5, resp)
	require.NoError(t, err)
	assert.Equal(t, "GRvfKbqr5klAOwLkxgIf8w==", value)
}
