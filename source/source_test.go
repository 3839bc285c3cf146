package source

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDependencyChecker struct {
	available bool
}

func (c fakeDependencyChecker) CheckDependencies() bool {
	return c.available
}

func newTestOpener(haveTar bool, stdin io.Reader) *Opener {
	logger := log.NewLogger()
	return NewOpener(
		logger,
		env.NewRepository(),
		setupRealFileProvider(),
		fakeDependencyChecker{available: haveTar},
		pathutil.NewPathModifier(),
		pathutil.NewPathChecker(),
		stdin,
	)
}

// createTree creates:
// <root>/logs/a.log, <root>/logs/b.log, <root>/logs/nested/c.txt, <root>/empty/
func createTree(t *testing.T) string {
	root := t.TempDir()
	files := map[string]string{
		"logs/a.log":        "first log",
		"logs/b.log":        "second log",
		"logs/nested/c.txt": strings.Repeat("c", 5000),
	}
	for name, content := range files {
		pth := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(pth), 0755))
		require.NoError(t, os.WriteFile(pth, []byte(content), 0644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0755))
	return root
}

func readTar(t *testing.T, r io.Reader) map[string]string {
	entries := map[string]string{}
	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		entries[header.Name] = string(content)
	}
	return entries
}

func readZip(t *testing.T, data []byte) map[string]string {
	entries := map[string]string{}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	for _, file := range zr.File {
		rc, err := file.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		entries[file.Name] = string(content)
	}
	return entries
}

func TestParseFileType(t *testing.T) {
	for value, want := range map[string]FileType{"": None, "none": None, "TAR": Tar, "zip": Zip} {
		got, err := ParseFileType(value)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseFileType("7z")
	assert.Error(t, err)
}

func TestOpen_SingleFile(t *testing.T) {
	pth := filepath.Join(t.TempDir(), "db.sql")
	require.NoError(t, os.WriteFile(pth, []byte("dump"), 0644))

	src, err := newTestOpener(false, nil).Open(context.Background(), []string{pth}, None)
	require.NoError(t, err)
	defer func() { require.NoError(t, src.Close()) }()

	content, err := io.ReadAll(src)
	require.NoError(t, err)
	assert.Equal(t, "dump", string(content))
	assert.Equal(t, ".sql", src.Extension)
}

func TestOpen_Stdin(t *testing.T) {
	src, err := newTestOpener(false, strings.NewReader("piped")).Open(context.Background(), []string{Stdin}, None)
	require.NoError(t, err)

	content, err := io.ReadAll(src)
	require.NoError(t, err)
	assert.Equal(t, "piped", string(content))
	assert.Empty(t, src.Extension)
}

func TestOpen_RemoteFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := w.Write([]byte("remote"))
		require.NoError(t, err)
	}))
	defer server.Close()

	src, err := newTestOpener(false, nil).Open(context.Background(), []string{server.URL + "/exports/site.tar"}, None)
	require.NoError(t, err)
	defer func() { require.NoError(t, src.Close()) }()

	content, err := io.ReadAll(src)
	require.NoError(t, err)
	assert.Equal(t, "remote", string(content))
	assert.Equal(t, ".tar", src.Extension)
}

func TestOpen_NoneRejectsDirectoriesAndMultipleInputs(t *testing.T) {
	root := createTree(t)
	opener := newTestOpener(false, nil)

	_, err := opener.Open(context.Background(), []string{filepath.Join(root, "logs")}, None)
	assert.ErrorContains(t, err, "is a directory")

	_, err = opener.Open(context.Background(), []string{filepath.Join(root, "logs", "a.log"), filepath.Join(root, "logs", "b.log")}, None)
	assert.ErrorContains(t, err, "exactly one input")

	_, err = opener.Open(context.Background(), nil, None)
	assert.ErrorIs(t, err, ErrNothingToUpload)
}

func TestOpen_TarWithGoLib(t *testing.T) {
	root := createTree(t)

	src, err := newTestOpener(false, nil).Open(context.Background(), []string{filepath.Join(root, "logs")}, Tar)
	require.NoError(t, err)
	defer func() { require.NoError(t, src.Close()) }()
	assert.Equal(t, ".tar", src.Extension)

	entries := readTar(t, src)
	assert.Equal(t, "first log", entries[filepath.Join(root, "logs", "a.log")])
	assert.Equal(t, "second log", entries[filepath.Join(root, "logs", "b.log")])
	assert.Equal(t, strings.Repeat("c", 5000), entries[filepath.Join(root, "logs", "nested", "c.txt")])
	assert.Contains(t, entries, filepath.Join(root, "logs", "nested")+"/")
}

func TestOpen_TarOfRemoteFileRemovesDownloadOnClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := w.Write([]byte("remote export"))
		require.NoError(t, err)
	}))
	defer server.Close()

	src, err := newTestOpener(false, nil).Open(context.Background(), []string{server.URL + "/exports/site.sql"}, Tar)
	require.NoError(t, err)

	entries := readTar(t, src)
	require.Len(t, entries, 1)
	var downloaded string
	for name, content := range entries {
		downloaded = name
		assert.Equal(t, "remote export", content)
	}
	assert.Equal(t, "site.sql", filepath.Base(downloaded))
	assert.DirExists(t, filepath.Dir(downloaded))

	require.NoError(t, src.Close())
	assert.NoDirExists(t, filepath.Dir(downloaded))
}

func TestOpen_ArchiveFailureRemovesDownloads(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := w.Write([]byte("remote export"))
		require.NoError(t, err)
	}))
	defer server.Close()

	tmpRoot := t.TempDir()
	t.Setenv("TMPDIR", tmpRoot)

	_, err := newTestOpener(false, nil).Open(context.Background(), []string{server.URL + "/exports/site.sql", Stdin}, Tar)
	require.Error(t, err)

	left, err := os.ReadDir(tmpRoot)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestOpen_TarWithBinary(t *testing.T) {
	if _, err := exec.LookPath("tar"); err != nil {
		t.Skip("tar is not installed")
	}
	root := createTree(t)

	src, err := newTestOpener(true, nil).Open(context.Background(), []string{filepath.Join(root, "logs", "a.log")}, Tar)
	require.NoError(t, err)
	defer func() { require.NoError(t, src.Close()) }()

	entries := readTar(t, src)
	require.Len(t, entries, 1)
	for name, content := range entries {
		assert.True(t, strings.HasSuffix(name, "logs/a.log"), name)
		assert.Equal(t, "first log", content)
	}
}

func TestOpen_TarWithGlobPattern(t *testing.T) {
	root := createTree(t)

	src, err := newTestOpener(false, nil).Open(context.Background(), []string{filepath.Join(root, "**", "*.log")}, Tar)
	require.NoError(t, err)
	defer func() { require.NoError(t, src.Close()) }()

	entries := readTar(t, src)
	var names []string
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		filepath.Join(root, "logs", "a.log"),
		filepath.Join(root, "logs", "b.log"),
	}, names)
}

func TestOpen_Zip(t *testing.T) {
	root := createTree(t)

	src, err := newTestOpener(false, nil).Open(context.Background(), []string{filepath.Join(root, "logs")}, Zip)
	require.NoError(t, err)
	defer func() { require.NoError(t, src.Close()) }()
	assert.Equal(t, ".zip", src.Extension)

	data, err := io.ReadAll(src)
	require.NoError(t, err)

	entries := readZip(t, data)
	assert.Equal(t, "first log", entries["logs/a.log"])
	assert.Equal(t, strings.Repeat("c", 5000), entries["logs/nested/c.txt"])
	assert.Contains(t, entries, "logs/nested/")
}

func TestOpen_ArchiveOfEmptyPaths(t *testing.T) {
	root := createTree(t)
	opener := newTestOpener(false, nil)

	_, err := opener.Open(context.Background(), []string{filepath.Join(root, "empty"), filepath.Join(root, "missing")}, Tar)
	assert.ErrorIs(t, err, ErrNothingToUpload)

	_, err = opener.Open(context.Background(), []string{filepath.Join(root, "*.nothing")}, Zip)
	assert.ErrorIs(t, err, ErrNothingToUpload)

	_, err = opener.Open(context.Background(), []string{Stdin}, Tar)
	assert.ErrorContains(t, err, "stdin")
}

func TestSource_Stream(t *testing.T) {
	src := &Source{ReadCloser: io.NopCloser(strings.NewReader("streamed content"))}
	stream := src.Stream()

	var got []byte
	for {
		buf, err := stream.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, buf...)
	}
	assert.Equal(t, "streamed content", string(got))
}

func TestAreAllPathsEmpty(t *testing.T) {
	root := createTree(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dir_with_dir_child", "nested_empty_dir"), 0700))

	tests := []struct {
		name         string
		includePaths []string
		want         bool
	}{
		{name: "single empty dir", includePaths: []string{filepath.Join(root, "empty")}, want: true},
		{name: "file", includePaths: []string{filepath.Join(root, "logs", "a.log")}, want: false},
		{name: "empty dir within dir", includePaths: []string{filepath.Join(root, "dir_with_dir_child")}, want: false},
		{name: "empty and non-empty dirs", includePaths: []string{filepath.Join(root, "empty"), filepath.Join(root, "logs")}, want: false},
		{name: "nonexistent dir", includePaths: []string{filepath.Join(root, "this doesn't exist")}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AreAllPathsEmpty(tt.includePaths))
		})
	}
}
