// Package source turns the command line inputs of an upload into a single byte stream.
//
// An input is a local file, `-` for stdin or an http(s) URL. With the tar and zip file types any
// number of files and directories (glob patterns allowed) are archived on the fly.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/glacier-backup/chunker"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bmatcuk/doublestar/v4"
)

// FileType selects how the inputs are packed into the uploaded stream.
type FileType string

// File types.
const (
	None FileType = "none"
	Tar  FileType = "tar"
	Zip  FileType = "zip"
)

// Stdin is the input naming the standard input.
const Stdin = "-"

// ErrNothingToUpload is returned when the inputs resolve to no content.
var ErrNothingToUpload = errors.New("nothing to upload")

// ParseFileType ...
func ParseFileType(value string) (FileType, error) {
	switch FileType(strings.ToLower(value)) {
	case "", None:
		return None, nil
	case Tar:
		return Tar, nil
	case Zip:
		return Zip, nil
	default:
		return "", fmt.Errorf("unsupported file type: %s (none, tar or zip)", value)
	}
}

// Source is an open input.
type Source struct {
	io.ReadCloser
	// Extension of the content, including the leading dot; empty when unknown.
	Extension string
	// Name is a human readable name of the content.
	Name string

	// tempDirs hold downloaded inputs and are removed on Close.
	tempDirs []string
}

// Close closes the content and removes the downloaded inputs.
func (s *Source) Close() error {
	var errs []error
	if s.ReadCloser != nil {
		if err := s.ReadCloser.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := removeAll(s.tempDirs); err != nil {
		errs = append(errs, err)
	}
	s.tempDirs = nil
	return errors.Join(errs...)
}

func removeAll(dirs []string) error {
	var errs []error
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", dir, err))
		}
	}
	return errors.Join(errs...)
}

// Stream returns the content as a ByteStream.
func (s *Source) Stream() chunker.ByteStream {
	return chunker.NewReaderStream(s, chunker.DefaultReadSize)
}

// Opener opens inputs.
type Opener struct {
	logger       log.Logger
	files        FileProvider
	archiver     *Archiver
	pathModifier pathutil.PathModifier
	pathChecker  pathutil.PathChecker
	stdin        io.Reader
}

// NewOpener ...
func NewOpener(
	logger log.Logger,
	envRepo env.Repository,
	files FileProvider,
	archiveDependencyChecker ArchiveDependencyChecker,
	pathModifier pathutil.PathModifier,
	pathChecker pathutil.PathChecker,
	stdin io.Reader,
) *Opener {
	return &Opener{
		logger:       logger,
		files:        files,
		archiver:     NewArchiver(logger, envRepo, archiveDependencyChecker),
		pathModifier: pathModifier,
		pathChecker:  pathChecker,
		stdin:        stdin,
	}
}

// Open resolves inputs according to fileType. With None exactly one input is accepted.
func (o *Opener) Open(ctx context.Context, inputs []string, fileType FileType) (*Source, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: no input given", ErrNothingToUpload)
	}

	switch fileType {
	case None:
		if len(inputs) != 1 {
			return nil, fmt.Errorf("exactly one input can be uploaded without archiving, got %d (use the tar or zip file type)", len(inputs))
		}
		return o.openSingle(ctx, inputs[0])
	case Tar, Zip:
		return o.openArchive(ctx, inputs, fileType)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", fileType)
	}
}

func (o *Opener) openSingle(ctx context.Context, input string) (*Source, error) {
	if input == Stdin {
		return &Source{ReadCloser: io.NopCloser(o.stdin), Name: "stdin"}, nil
	}

	if IsRemote(input) {
		name, err := FileNameFromURL(input)
		if err != nil {
			return nil, err
		}
		reader, err := o.files.Contents(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", input, err)
		}
		return &Source{ReadCloser: reader, Extension: path.Ext(name), Name: input}, nil
	}

	pth, err := o.files.LocalPath(ctx, input)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(pth)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", input, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory (use the tar or zip file type)", input)
	}

	reader, err := o.files.Contents(ctx, pth)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", input, err)
	}
	return &Source{ReadCloser: reader, Extension: filepath.Ext(pth), Name: pth}, nil
}

func (o *Opener) openArchive(ctx context.Context, inputs []string, fileType FileType) (src *Source, err error) {
	var local, tempDirs []string
	defer func() {
		if err == nil {
			return
		}
		if removeErr := removeAll(tempDirs); removeErr != nil {
			o.logger.Warnf("Failed to clean up the downloaded inputs: %s", removeErr)
		}
	}()

	for _, input := range inputs {
		if input == Stdin {
			return nil, fmt.Errorf("stdin can not be archived, use the none file type")
		}
		if !IsRemote(input) {
			local = append(local, strings.TrimPrefix(input, fileScheme))
			continue
		}

		o.logger.Printf("Downloading %s", input)
		pth, err := o.files.LocalPath(ctx, input)
		if err != nil {
			return nil, err
		}
		tempDirs = append(tempDirs, filepath.Dir(pth))
		local = append(local, pth)
	}

	includePaths, err := o.evaluatePaths(local)
	if err != nil {
		return nil, err
	}
	if len(includePaths) == 0 || AreAllPathsEmpty(includePaths) {
		return nil, fmt.Errorf("%w: the included paths are empty or missing", ErrNothingToUpload)
	}

	for _, pth := range includePaths {
		o.logger.Debugf("- %s", pth)
	}

	if fileType == Zip {
		return &Source{ReadCloser: o.archiver.Zip(includePaths), Extension: ".zip", Name: "zip archive", tempDirs: tempDirs}, nil
	}
	return &Source{ReadCloser: o.archiver.Tar(includePaths), Extension: ".tar", Name: "tar archive", tempDirs: tempDirs}, nil
}

// evaluatePaths expands glob patterns and returns the absolute paths that exist.
func (o *Opener) evaluatePaths(paths []string) ([]string, error) {
	var expandedPaths []string
	for _, pth := range paths {
		if !strings.Contains(pth, "*") {
			expandedPaths = append(expandedPaths, pth)
			continue
		}

		base, pattern := doublestar.SplitPattern(pth)
		absBase, err := o.pathModifier.AbsPath(base) // resolves ~/ and expands any envs
		if err != nil {
			return nil, err
		}
		matches, err := doublestar.Glob(os.DirFS(absBase), pattern, doublestar.WithNoFollow())
		if err != nil {
			return nil, fmt.Errorf("invalid path pattern %s: %w", pth, err)
		}
		if len(matches) == 0 {
			o.logger.Warnf("No match for path pattern: %s", pth)
			continue
		}

		for _, match := range matches {
			expandedPaths = append(expandedPaths, filepath.Join(absBase, match))
		}
	}

	var finalPaths []string
	for _, pth := range expandedPaths {
		absPath, err := o.pathModifier.AbsPath(pth)
		if err != nil {
			o.logger.Warnf("Failed to parse path %s, error: %s", pth, err)
			continue
		}

		exists, err := o.pathChecker.IsPathExists(absPath)
		if err != nil {
			o.logger.Warnf("Failed to check path %s, error: %s", absPath, err)
		}
		if !exists {
			o.logger.Warnf("Path doesn't exist: %s", pth)
			continue
		}

		finalPaths = append(finalPaths, absPath)
	}

	return finalPaths, nil
}
