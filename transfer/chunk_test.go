package transfer

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextChunk_PartitionsStream(t *testing.T) {
	stream := bytes.NewReader([]byte("0123456789"))

	first, err := NextChunk(stream, 4, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), first.Start)
	assert.Equal(t, []byte("0123"), first.Data)
	assert.Equal(t, "bytes 0-3/10", first.ContentRange)

	second, err := NextChunk(stream, 4, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(4), second.Start)
	assert.Equal(t, []byte("4567"), second.Data)
	assert.Equal(t, "bytes 4-7/10", second.ContentRange)

	last, err := NextChunk(stream, 4, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(8), last.Start)
	assert.Equal(t, []byte("89"), last.Data)
	assert.Equal(t, "bytes 8-9/10", last.ContentRange)
}

func TestNextChunk_KnownTotalCapsRead(t *testing.T) {
	// Declared total is shorter than the stream: bytes past it stay unread.
	stream := bytes.NewReader([]byte("0123456789extra"))

	chunk, err := NextChunk(stream, 100, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789"), chunk.Data)
	assert.Equal(t, "bytes 0-9/10", chunk.ContentRange)
}

func TestNextChunk_UnknownTotal(t *testing.T) {
	stream := bytes.NewReader([]byte("0123456789"))

	full, err := NextChunk(stream, 4, UnknownTotal)
	require.NoError(t, err)
	assert.Equal(t, "bytes 0-3/*", full.ContentRange)

	_, err = NextChunk(stream, 4, UnknownTotal)
	require.NoError(t, err)

	// The short read makes the total known retroactively.
	short, err := NextChunk(stream, 4, UnknownTotal)
	require.NoError(t, err)
	assert.Equal(t, []byte("89"), short.Data)
	assert.Equal(t, "bytes 8-9/10", short.ContentRange)
}

func TestNextChunk_UnknownTotalExactDrain(t *testing.T) {
	stream := bytes.NewReader([]byte("01234567"))

	_, err := NextChunk(stream, 8, UnknownTotal)
	require.NoError(t, err)

	// The previous chunk consumed the stream exactly, so the next call
	// produces the empty finalizer chunk.
	final, err := NextChunk(stream, 8, UnknownTotal)
	require.NoError(t, err)
	assert.Empty(t, final.Data)
	assert.Equal(t, "bytes */8", final.ContentRange)
}

func TestNextChunk_EmptyDeclaredStream(t *testing.T) {
	chunk, err := NextChunk(bytes.NewReader(nil), 4, 0)
	require.NoError(t, err)
	assert.Empty(t, chunk.Data)
	assert.Equal(t, "bytes */0", chunk.ContentRange)
}

func TestNextChunk_EmptyDeclaredStreamWithContent(t *testing.T) {
	_, err := NextChunk(bytes.NewReader([]byte("surprise")), 4, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-empty content")
}

func TestNextChunk_ExhaustedKnownTotal(t *testing.T) {
	stream := bytes.NewReader([]byte("0123"))
	_, err := NextChunk(stream, 4, 4)
	require.NoError(t, err)

	_, err = NextChunk(stream, 4, 4)
	assert.ErrorIs(t, err, ErrStreamExhausted)
}

func TestContentRange(t *testing.T) {
	assert.Equal(t, "bytes 0-3/10", ContentRange(0, 3, 10))
	assert.Equal(t, "bytes 4-7/*", ContentRange(4, 7, UnknownTotal))
}

func TestTotalBytes_PreservesPosition(t *testing.T) {
	stream := bytes.NewReader([]byte("0123456789"))
	_, err := stream.Seek(3, io.SeekStart)
	require.NoError(t, err)

	size, err := TotalBytes(stream)
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)

	position, err := stream.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(3), position)
}
