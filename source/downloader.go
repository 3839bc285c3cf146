package source

import (
	"context"
	"io"
	"net/http"

	"github.com/bitrise-io/go-utils/v2/filedownloader"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/melbahja/got"
)

// ParallelDownloader streams remote inputs with a single retrying request and downloads whole files
// in parallel ranges when the server supports them.
type ParallelDownloader struct {
	streamer filedownloader.Downloader
	client   *http.Client
	logger   log.Logger
}

// NewParallelDownloader ...
func NewParallelDownloader(logger log.Logger) *ParallelDownloader {
	retryableHTTPClient := retryhttp.NewClient(logger)
	retryableHTTPClient.CheckRetry = func(ctx context.Context, resp *http.Response, downloadErr error) (bool, error) {
		retry, err := retryablehttp.DefaultRetryPolicy(ctx, resp, downloadErr)
		logger.Debugf("CheckRetry: retry=%v ; err=%+v ; downloadErr=%+v", retry, err, downloadErr)
		return retry, err
	}

	return &ParallelDownloader{
		streamer: filedownloader.NewDownloader(logger),
		client:   retryableHTTPClient.StandardClient(),
		logger:   logger,
	}
}

// Get returns the remote content as a stream.
func (d *ParallelDownloader) Get(ctx context.Context, source string) (io.ReadCloser, error) {
	return d.streamer.Get(ctx, source)
}

// Download writes the remote content to destination.
func (d *ParallelDownloader) Download(ctx context.Context, destination, source string) error {
	downloader := got.New()
	downloader.Client = d.client

	d.logger.Debugf("Downloading %s to %s", source, destination)
	return downloader.Do(got.NewDownload(ctx, source, destination))
}
