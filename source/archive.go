package source

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

// ArchiveDependencyChecker ...
type ArchiveDependencyChecker interface {
	CheckDependencies() bool
}

// DependencyChecker looks up the tar binary.
type DependencyChecker struct {
	logger  log.Logger
	envRepo env.Repository
}

// NewDependencyChecker ...
func NewDependencyChecker(logger log.Logger, envRepo env.Repository) *DependencyChecker {
	return &DependencyChecker{
		logger:  logger,
		envRepo: envRepo,
	}
}

// CheckDependencies ...
func (dc *DependencyChecker) CheckDependencies() bool {
	cmd := command.NewFactory(dc.envRepo).Create("which", []string{"tar"}, nil)
	dc.logger.Debugf("$ %s", cmd.PrintableCommandArgs())

	_, err := cmd.RunAndReturnTrimmedCombinedOutput()
	return err == nil
}

// Archiver streams tar and zip archives of the included paths. Nothing is written to disk.
type Archiver struct {
	logger                   log.Logger
	envRepo                  env.Repository
	archiveDependencyChecker ArchiveDependencyChecker
}

// NewArchiver ...
func NewArchiver(logger log.Logger, envRepo env.Repository, archiveDependencyChecker ArchiveDependencyChecker) *Archiver {
	return &Archiver{
		logger:                   logger,
		envRepo:                  envRepo,
		archiveDependencyChecker: archiveDependencyChecker,
	}
}

// Tar returns a stream of an uncompressed tar archive of includePaths (absolute paths).
// A failure while archiving surfaces as a read error on the returned stream.
func (a *Archiver) Tar(includePaths []string) io.ReadCloser {
	pr, pw := io.Pipe()

	if a.archiveDependencyChecker.CheckDependencies() {
		a.logger.Infof("Using installed tar binary")
		go func() {
			pw.CloseWithError(a.tarWithBinary(pw, includePaths))
		}()
		return pr
	}

	a.logger.Infof("Falling back to native implementation of tar.")
	go func() {
		pw.CloseWithError(tarWithGoLib(pw, includePaths))
	}()
	return pr
}

// Zip returns a stream of a zip archive of includePaths (absolute paths).
func (a *Archiver) Zip(includePaths []string) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(zipWithGoLib(pw, includePaths))
	}()
	return pr
}

func (a *Archiver) tarWithBinary(w io.Writer, includePaths []string) error {
	/*
		tar arguments:
		-P: Alias for --absolute-paths in BSD tar and --absolute-names in GNU tar (runs on both Linux and macOS)
		-c: Create archive
		-f -: Write the archive to stdout
	*/
	tarArgs := []string{
		"-P",
		"-c",
		"-f", "-",
	}
	tarArgs = append(tarArgs, includePaths...)

	var stderr bytes.Buffer
	cmd := command.NewFactory(a.envRepo).Create("tar", tarArgs, &command.Opts{
		Stdout: w,
		Stderr: &stderr,
	})
	a.logger.Debugf("$ %s", cmd.PrintableCommandArgs())

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("command failed with exit status %d (%s):\n%w", exitErr.ExitCode(), cmd.PrintableCommandArgs(), errors.New(stderr.String()))
		}
		return fmt.Errorf("executing command failed (%s): %w", cmd.PrintableCommandArgs(), err)
	}

	return nil
}

func tarWithGoLib(w io.Writer, includePaths []string) error {
	tw := tar.NewWriter(w)

	for _, p := range includePaths {
		// walk through every file in the folder
		err := filepath.Walk(filepath.Clean(p), func(file string, fi os.FileInfo, e error) error {
			if e != nil {
				return e
			}

			var link string
			if fi.Mode()&os.ModeSymlink != 0 {
				var err error
				if link, err = os.Readlink(file); err != nil {
					return fmt.Errorf("read symlink: %w", err)
				}
			}

			header, err := tar.FileInfoHeader(fi, link)
			if err != nil {
				return fmt.Errorf("create file info header: %w", err)
			}
			header.Name = filepath.Clean(file)
			if fi.IsDir() {
				header.Name += "/"
			}

			if err := tw.WriteHeader(header); err != nil {
				return fmt.Errorf("write tar file header: %w", err)
			}

			// nothing more to do for non-regular files or directories
			if !fi.Mode().IsRegular() {
				return nil
			}

			return copyFile(tw, file)
		})
		if err != nil {
			return fmt.Errorf("iterate on files: %w", err)
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar writer: %w", err)
	}
	return nil
}

func zipWithGoLib(w io.Writer, includePaths []string) error {
	zw := zip.NewWriter(w)

	for _, p := range includePaths {
		root := filepath.Clean(p)
		base := filepath.Dir(root)

		err := filepath.Walk(root, func(file string, fi os.FileInfo, e error) error {
			if e != nil {
				return e
			}
			if fi.Mode()&os.ModeSymlink != 0 {
				// zip has no portable symlink entry
				return nil
			}

			header, err := zip.FileInfoHeader(fi)
			if err != nil {
				return fmt.Errorf("create file info header: %w", err)
			}
			name, err := filepath.Rel(base, file)
			if err != nil {
				return err
			}
			header.Name = filepath.ToSlash(name)
			if fi.IsDir() {
				header.Name += "/"
			} else {
				header.Method = zip.Store
			}

			entry, err := zw.CreateHeader(header)
			if err != nil {
				return fmt.Errorf("write zip file header: %w", err)
			}
			if !fi.Mode().IsRegular() {
				return nil
			}

			return copyFile(entry, file)
		})
		if err != nil {
			return fmt.Errorf("iterate on files: %w", err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zip writer: %w", err)
	}
	return nil
}

func copyFile(w io.Writer, pth string) error {
	data, err := os.Open(pth)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	if _, err := io.Copy(w, data); err != nil {
		_ = data.Close()
		return fmt.Errorf("copy %s: %w", pth, err)
	}
	// close right away, deferring would keep every file of the walk open
	if err := data.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	return nil
}

// AreAllPathsEmpty checks if the provided paths are all nonexistent files or empty directories
func AreAllPathsEmpty(includePaths []string) bool {
	for _, path := range includePaths {
		fileInfo, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			continue
		}

		if !fileInfo.IsDir() {
			return false
		}

		dir, err := os.Open(path)
		if err != nil {
			continue
		}
		_, err = dir.Readdirnames(1) // query only 1 child
		_ = dir.Close()
		if err == nil {
			return false
		}
	}

	return true
}
