package source

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/fileutil"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParallelDownloader(t *testing.T) {
	content := bytes.Repeat([]byte("glacier"), 512*1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "site.tar", time.Now(), bytes.NewReader(content))
	}))
	defer server.Close()

	downloader := NewParallelDownloader(log.NewLogger())

	t.Run("download", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "site.tar")
		require.NoError(t, downloader.Download(context.Background(), dest, server.URL+"/site.tar"))

		got, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, content, got)
	})

	t.Run("stream", func(t *testing.T) {
		reader, err := downloader.Get(context.Background(), server.URL+"/site.tar")
		require.NoError(t, err)
		defer func() { require.NoError(t, reader.Close()) }()

		got, err := io.ReadAll(reader)
		require.NoError(t, err)
		assert.Equal(t, content, got)
	})

	t.Run("as file provider", func(t *testing.T) {
		provider := NewFileProvider(downloader, fileutil.NewFileManager(), pathutil.NewPathProvider(), pathutil.NewPathModifier())

		localPath, err := provider.LocalPath(context.Background(), server.URL+"/exports/site.tar")
		require.NoError(t, err)
		assert.Equal(t, "site.tar", filepath.Base(localPath))

		got, err := os.ReadFile(localPath)
		require.NoError(t, err)
		assert.Equal(t, content, got)
	})
}
