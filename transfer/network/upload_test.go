package network

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bitrise-io/go-transferutils/transfer"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadSimple(t *testing.T) {
	var receivedContentType, receivedBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedContentType = r.Header.Get("content-type")
		body, _ := io.ReadAll(r.Body)
		receivedBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := UploadSimple(context.Background(), NewClient(log.NewLogger()), SimpleUploadParams{
		UploadURL:   server.URL,
		Data:        []byte("payload"),
		ContentType: "text/plain",
	}, log.NewLogger())
	require.NoError(t, err)

	assert.Equal(t, "text/plain", receivedContentType)
	assert.Equal(t, "payload", receivedBody)
}

func TestUploadSimple_ServerRejects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	err := UploadSimple(context.Background(), NewClient(log.NewLogger()), SimpleUploadParams{
		UploadURL:   server.URL,
		Data:        []byte("payload"),
		ContentType: "text/plain",
	}, log.NewLogger())

	var invalid *transfer.InvalidResponseError
	require.ErrorAs(t, err, &invalid)
}

func TestUploadMultipart(t *testing.T) {
	var receivedContentType, receivedBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedContentType = r.Header.Get("content-type")
		body, _ := io.ReadAll(r.Body)
		receivedBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := UploadMultipart(context.Background(), NewClient(log.NewLogger()), MultipartUploadParams{
		UploadURL:   server.URL,
		Data:        []byte("Hi"),
		Metadata:    map[string]interface{}{"name": "hi.txt"},
		ContentType: "text/plain",
		Checksum:    transfer.ChecksumMD5,
	}, log.NewLogger())
	require.NoError(t, err)

	assert.Contains(t, receivedContentType, "multipart/related; boundary=")
	assert.Contains(t, receivedBody, `"name":"hi.txt"`)
	assert.Contains(t, receivedBody, `"md5Hash":"waUpj5Oeh+j5YqXt/CBpGA=="`)
	assert.Contains(t, receivedBody, "\r\n\r\nHi\r\n")
}
