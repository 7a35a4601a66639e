package upload

import (
	"net/http"
	"regexp"
	"testing"

	"github.com/bitrise-io/go-transferutils/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedBoundary(value string) func() string {
	return func() string { return value }
}

func TestMultipartUpload_PrepareRequest(t *testing.T) {
	multipart, err := NewMultipartUpload("https://storage.example.com/upload", nil, transfer.ChecksumNone)
	require.NoError(t, err)
	multipart.SetBoundaryFunc(fixedBoundary("==0=="))

	req, err := multipart.PrepareRequest([]byte("Hi"), map[string]interface{}{"name": "hi.txt"}, "text/plain")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, `multipart/related; boundary="==0=="`, req.Header["content-type"])

	expected := "--==0==\r\n" +
		"content-type: application/json; charset=UTF-8\r\n" +
		"\r\n" +
		`{"name":"hi.txt"}` + "\r\n" +
		"--==0==\r\n" +
		"content-type: text/plain\r\n" +
		"\r\n" +
		"Hi\r\n" +
		"--==0==--"
	assert.Equal(t, expected, string(req.Body))
}

func TestMultipartUpload_ChecksumOverwritesMetadata(t *testing.T) {
	multipart, err := NewMultipartUpload("https://storage.example.com/upload", nil, transfer.ChecksumMD5)
	require.NoError(t, err)
	multipart.SetBoundaryFunc(fixedBoundary("==0=="))

	metadata := map[string]interface{}{"name": "hi.txt", "md5Hash": "bogus"}
	req, err := multipart.PrepareRequest([]byte("Hi"), metadata, "text/plain")
	require.NoError(t, err)

	assert.Contains(t, string(req.Body), `"md5Hash":"waUpj5Oeh+j5YqXt/CBpGA=="`)
	assert.NotContains(t, string(req.Body), "bogus")
	// The caller's metadata map is left untouched.
	assert.Equal(t, "bogus", metadata["md5Hash"])
}

func TestMultipartUpload_AutoChecksumIsCRC32C(t *testing.T) {
	multipart, err := NewMultipartUpload("https://storage.example.com/upload", nil, transfer.ChecksumAuto)
	require.NoError(t, err)
	multipart.SetBoundaryFunc(fixedBoundary("==0=="))

	req, err := multipart.PrepareRequest([]byte("Hi"), nil, "text/plain")
	require.NoError(t, err)
	assert.Contains(t, string(req.Body), `"crc32c":"ihY6wA=="`)
}

func TestMultipartUpload_RejectsUnknownChecksum(t *testing.T) {
	_, err := NewMultipartUpload("https://storage.example.com/upload", nil, transfer.Checksum("sha9000"))
	require.Error(t, err)
}

func TestRandomBoundary_Format(t *testing.T) {
	pattern := regexp.MustCompile(`^===============\d{19}==$`)
	assert.Regexp(t, pattern, RandomBoundary())
}

func TestMultipartUpload_FinishedRejectsReuse(t *testing.T) {
	multipart, err := NewMultipartUpload("https://storage.example.com/upload", nil, transfer.ChecksumNone)
	require.NoError(t, err)

	require.NoError(t, multipart.ProcessResponse(&transfer.Response{StatusCode: http.StatusOK}))
	_, err = multipart.PrepareRequest([]byte("Hi"), nil, "text/plain")
	assert.ErrorIs(t, err, transfer.ErrUploadFinished)
}
