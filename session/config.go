package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/bitrise-io/glacier-backup/partuploader"
	"github.com/docker/go-units"
)

// Part size limits of the multipart protocol.
const (
	MinPartSize = 1 * units.MiB
	MaxPartSize = 4096 * units.MiB

	DefaultPartSize     = 16 * units.MiB
	DefaultAbortTimeout = 30 * time.Second
)

// Config of an Uploader.
type Config struct {
	VaultID     string
	Region      string
	PartSize    int64
	DryRun      bool
	Description string

	// AbortTimeout bounds the AbortSession call made after a failure.
	AbortTimeout time.Duration
	Transfer     partuploader.Config
}

// DefaultConfig ...
func DefaultConfig() Config {
	return Config{
		PartSize:     DefaultPartSize,
		AbortTimeout: DefaultAbortTimeout,
		Transfer:     partuploader.DefaultConfig(),
	}
}

// Validate ...
func (c Config) Validate() error {
	if c.VaultID == "" {
		return fmt.Errorf("%w: vault is not set", ErrInvalidConfig)
	}
	if c.Region == "" {
		return fmt.Errorf("%w: region is not set", ErrInvalidConfig)
	}
	if err := ValidatePartSize(c.PartSize); err != nil {
		return err
	}
	if c.AbortTimeout < 0 {
		return fmt.Errorf("%w: negative abort timeout: %s", ErrInvalidConfig, c.AbortTimeout)
	}
	return nil
}

// ValidatePartSize checks that size is a power of two between 1 MiB and 4096 MiB.
func ValidatePartSize(size int64) error {
	if size < MinPartSize || size > MaxPartSize {
		return fmt.Errorf("%w: part size %d is out of range [%s, %s]",
			ErrInvalidConfig, size, units.BytesSize(MinPartSize), units.BytesSize(MaxPartSize))
	}
	if size&(size-1) != 0 {
		return fmt.Errorf("%w: part size %d is not a power of two", ErrInvalidConfig, size)
	}
	return nil
}

// DefaultDescription returns the archive description used when none is configured: the
// upload date followed by the extension of the uploaded content (".tar", ".zip", ".sql", ...).
func DefaultDescription(now time.Time, ext string) string {
	return now.Format("2006-01-02") + ext
}

// Errors returned by Upload. A failure after the remote session was created always wraps ErrAborted
// together with the error describing the cause.
var (
	ErrInvalidConfig       = errors.New("invalid upload configuration")
	ErrTransmission        = errors.New("part transmission failed")
	ErrChecksumUnavailable = errors.New("tree hash unavailable")
	ErrCompletionRejected  = errors.New("completion rejected")
	ErrAborted             = errors.New("upload aborted")
)
