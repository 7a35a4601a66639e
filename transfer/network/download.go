package network

import (
	"context"
	"fmt"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/melbahja/got"
)

// DownloadParams describe fetching an object to a local file.
type DownloadParams struct {
	URL          string
	Headers      map[string]string
	DownloadPath string
}

// Download fetches the object behind the URL into the destination file,
// using ranged parallel chunks where the server supports them.
func Download(ctx context.Context, client *Client, params DownloadParams, logger log.Logger) error {
	if params.URL == "" {
		return fmt.Errorf("download URL is empty")
	}

	downloader := got.New()
	downloader.Client = client.StandardClient()

	download := got.NewDownload(ctx, params.URL, params.DownloadPath)
	for key, value := range params.Headers {
		download.Header = append(download.Header, got.GotHeader{Key: key, Value: value})
	}

	logger.Debugf("Downloading %s to %s", params.URL, params.DownloadPath)
	if err := downloader.Do(download); err != nil {
		return fmt.Errorf("download %s: %w", params.URL, err)
	}
	return nil
}
