package source

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-utils/v2/fileutil"
	"github.com/bitrise-io/go-utils/v2/pathutil"
)

const fileScheme = "file://"

// FileProvider resolves a single input to its content. An input is a local path (optionally with the
// `file://` scheme) or an http(s) URL.
// Downloads are retried by the Downloader.
type FileProvider interface {
	// LocalPath returns the absolute local path of the input.
	// Remote inputs are downloaded to a temporary directory first.
	LocalPath(ctx context.Context, input string) (string, error)

	// Contents returns a streaming reader for the input. Remote content is not stored locally.
	// The caller is responsible for closing the returned io.ReadCloser.
	Contents(ctx context.Context, input string) (io.ReadCloser, error)
}

// Downloader fetches remote inputs.
type Downloader interface {
	Get(ctx context.Context, source string) (io.ReadCloser, error)
	Download(ctx context.Context, destination, source string) error
}

type fileProvider struct {
	downloader   Downloader
	fileManager  fileutil.FileManager
	pathProvider pathutil.PathProvider
	pathModifier pathutil.PathModifier
}

// NewFileProvider ...
func NewFileProvider(downloader Downloader, fileManager fileutil.FileManager, pathProvider pathutil.PathProvider, pathModifier pathutil.PathModifier) FileProvider {
	return &fileProvider{
		downloader:   downloader,
		fileManager:  fileManager,
		pathProvider: pathProvider,
		pathModifier: pathModifier,
	}
}

// IsRemote reports whether the input is fetched over http(s).
func IsRemote(input string) bool {
	return strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://")
}

func (f *fileProvider) LocalPath(ctx context.Context, input string) (string, error) {
	if !IsRemote(input) {
		return f.localPath(input)
	}

	return f.downloadToTempDir(ctx, input)
}

func (f *fileProvider) Contents(ctx context.Context, input string) (io.ReadCloser, error) {
	if !IsRemote(input) {
		pth, err := f.localPath(input)
		if err != nil {
			return nil, err
		}

		return f.fileManager.Open(pth)
	}

	return f.downloader.Get(ctx, input)
}

// localPath removes the file:// prefix and returns the absolute path with ~ and env vars expanded.
func (f *fileProvider) localPath(input string) (string, error) {
	pth := strings.TrimPrefix(input, fileScheme)
	return f.pathModifier.AbsPath(pth)
}

func (f *fileProvider) downloadToTempDir(ctx context.Context, rawURL string) (string, error) {
	tmpDir, err := f.pathProvider.CreateTempDir("glacier-backup")
	if err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}

	name, err := FileNameFromURL(rawURL)
	if err != nil {
		_ = f.fileManager.RemoveAll(tmpDir)
		return "", fmt.Errorf("failed to extract filename from URL %s: %w", rawURL, err)
	}

	localPath := filepath.Join(tmpDir, name)
	if err := f.downloader.Download(ctx, localPath, rawURL); err != nil {
		_ = f.fileManager.RemoveAll(tmpDir)
		return "", fmt.Errorf("failed to download file from %s: %w", rawURL, err)
	}

	return localPath, nil
}

// FileNameFromURL returns the last element of the URL path.
func FileNameFromURL(rawURL string) (string, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	return filepath.Base(parsedURL.Path), nil
}
