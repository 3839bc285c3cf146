package source

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/bitrise-io/go-utils/v2/filedownloader"
	"github.com/bitrise-io/go-utils/v2/fileutil"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRealFileProvider() FileProvider {
	return NewFileProvider(
		filedownloader.NewDownloader(log.NewLogger()),
		fileutil.NewFileManager(),
		pathutil.NewPathProvider(),
		pathutil.NewPathModifier(),
	)
}

func TestFileProvider_LocalPath(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "dump.sql")
	require.NoError(t, os.WriteFile(testFile, []byte("content"), 0644))

	provider := setupRealFileProvider()

	for _, input := range []string{testFile, "file://" + testFile} {
		localPath, err := provider.LocalPath(context.Background(), input)
		require.NoError(t, err)
		assert.Equal(t, testFile, localPath)
	}
}

func TestFileProvider_LocalPath_RelativePath(t *testing.T) {
	tmpDir := t.TempDir()
	origDir, err := os.Getwd()
	require.NoError(t, err)
	defer func() { require.NoError(t, os.Chdir(origDir)) }()
	require.NoError(t, os.Chdir(tmpDir))

	relPath := "relative/dump.sql"
	require.NoError(t, os.MkdirAll(filepath.Dir(relPath), 0755))
	require.NoError(t, os.WriteFile(relPath, []byte("content"), 0644))

	localPath, err := setupRealFileProvider().LocalPath(context.Background(), relPath)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(localPath), "should return absolute path")
	assert.Contains(t, localPath, "relative/dump.sql")
}

func TestFileProvider_LocalPath_HTTPUrl(t *testing.T) {
	expectedContent := []byte("downloaded content")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/exports/db.sql", r.URL.Path)
		_, err := w.Write(expectedContent)
		require.NoError(t, err)
	}))
	defer server.Close()

	localPath, err := setupRealFileProvider().LocalPath(context.Background(), server.URL+"/exports/db.sql")
	require.NoError(t, err)
	assert.Equal(t, "db.sql", filepath.Base(localPath))

	content, err := os.ReadFile(localPath)
	require.NoError(t, err)
	assert.Equal(t, expectedContent, content)
}

func TestFileProvider_LocalPath_HTTPUrl_404Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	localPath, err := setupRealFileProvider().LocalPath(context.Background(), server.URL+"/notfound.txt")
	require.Error(t, err)
	assert.Empty(t, localPath)
	assert.Contains(t, err.Error(), "status code 404")
}

func TestFileProvider_Contents_LocalFile(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "test.txt")
	require.NoError(t, os.WriteFile(testFile, []byte("local file content"), 0644))

	reader, err := setupRealFileProvider().Contents(context.Background(), "file://"+testFile)
	require.NoError(t, err)
	defer func() { require.NoError(t, reader.Close()) }()

	content, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "local file content", string(content))
}

func TestFileProvider_Contents_HTTPUrl_Streaming(t *testing.T) {
	largeContent := make([]byte, 1024*1024)
	for i := range largeContent {
		largeContent[i] = byte(i % 256)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := w.Write(largeContent)
		require.NoError(t, err)
	}))
	defer server.Close()

	reader, err := setupRealFileProvider().Contents(context.Background(), server.URL+"/large.bin")
	require.NoError(t, err)
	defer func() { require.NoError(t, reader.Close()) }()

	content, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, largeContent, content)
}

func TestFileProvider_Contents_FileNotFound(t *testing.T) {
	reader, err := setupRealFileProvider().Contents(context.Background(), "/nonexistent/file.txt")
	require.Error(t, err)
	assert.Nil(t, reader)
	assert.Contains(t, err.Error(), "no such file or directory")
}

func TestFileNameFromURL(t *testing.T) {
	name, err := FileNameFromURL("https://example.com/exports/2024/db.tar?sig=abc")
	require.NoError(t, err)
	assert.Equal(t, "db.tar", name)
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("https://example.com/a"))
	assert.True(t, IsRemote("http://example.com/a"))
	assert.False(t, IsRemote("file:///tmp/a"))
	assert.False(t, IsRemote("/tmp/a"))
	assert.False(t, IsRemote("-"))
}
