// Package config assembles the upload configuration from command line flags, GLACIER_* environment
// variables, the settings file and the defaults, in this order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bitrise-io/glacier-backup/envconf"
	"github.com/bitrise-io/glacier-backup/glacier"
	"github.com/bitrise-io/glacier-backup/partuploader"
	"github.com/bitrise-io/glacier-backup/s3archive"
	"github.com/bitrise-io/glacier-backup/session"
	"github.com/bitrise-io/glacier-backup/source"
	"github.com/docker/go-units"
)

// Backend selects the archive store.
type Backend string

// Backends.
const (
	BackendGlacier Backend = "glacier"
	BackendS3      Backend = "s3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config of an upload.
type Config struct {
	Region          string         `env:"GLACIER_REGION"`
	Vault           string         `env:"GLACIER_VAULT"`
	Backend         Backend        `env:"GLACIER_BACKEND,opt[glacier,s3,'']"`
	StorageClass    string         `env:"GLACIER_STORAGE_CLASS"`
	PartSize        int64          `env:"GLACIER_PART_SIZE,size"`
	DryRun          bool           `env:"GLACIER_DRY_RUN"`
	Concurrency     int            `env:"GLACIER_CONCURRENCY"`
	MaxRetries      int            `env:"GLACIER_MAX_RETRIES"`
	TransmitTimeout time.Duration  `env:"GLACIER_TRANSMIT_TIMEOUT"`
	FileType        string         `env:"GLACIER_FILE_TYPE,opt[none,tar,zip,'']"`
	Description     string         `env:"GLACIER_DESCRIPTION"`
	AccessKeyID     envconf.Secret `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey envconf.Secret `env:"AWS_SECRET_ACCESS_KEY"`
	Verbose         bool
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	transfer := partuploader.DefaultConfig()
	return Config{
		Backend:         BackendGlacier,
		PartSize:        session.DefaultPartSize,
		Concurrency:     transfer.Concurrency,
		MaxRetries:      transfer.MaxRetryPerPart,
		TransmitTimeout: transfer.TransmitTimeout,
		FileType:        string(source.None),
	}
}

// Validate ...
func (c Config) Validate() error {
	var errs []string
	if c.Region == "" {
		errs = append(errs, "region is not set")
	}
	if c.Vault == "" {
		errs = append(errs, "vault is not set")
	}
	if err := session.ValidatePartSize(c.PartSize); err != nil {
		errs = append(errs, err.Error())
	}
	switch c.Backend {
	case BackendGlacier:
	case BackendS3:
		if c.PartSize < s3archive.MinPartSize {
			errs = append(errs, fmt.Sprintf("part size %s is below the s3 minimum %s",
				units.BytesSize(float64(c.PartSize)), units.BytesSize(s3archive.MinPartSize)))
		}
		if _, err := s3archive.ParseStorageClass(c.StorageClass); err != nil {
			errs = append(errs, err.Error())
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown backend: %s (glacier or s3)", c.Backend))
	}
	if _, err := source.ParseFileType(c.FileType); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Concurrency < 0 {
		errs = append(errs, fmt.Sprintf("negative concurrency: %d", c.Concurrency))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Sprintf("negative max retries: %d", c.MaxRetries))
	}
	if c.TransmitTimeout < 0 {
		errs = append(errs, fmt.Sprintf("negative transmit timeout: %s", c.TransmitTimeout))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n- %s", ErrInvalid, strings.Join(errs, "\n- "))
	}
	return nil
}

// SessionConfig returns the configuration of the upload session.
func (c Config) SessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.VaultID = c.Vault
	cfg.Region = c.Region
	cfg.PartSize = c.PartSize
	cfg.DryRun = c.DryRun
	cfg.Description = c.Description
	if c.Concurrency > 0 {
		cfg.Transfer.Concurrency = c.Concurrency
	}
	if c.MaxRetries > 0 {
		cfg.Transfer.MaxRetryPerPart = c.MaxRetries
	}
	cfg.Transfer.TransmitTimeout = c.TransmitTimeout
	return cfg
}

// GlacierParams ...
func (c Config) GlacierParams() glacier.Params {
	return glacier.Params{
		Region:          c.Region,
		AccessKeyID:     string(c.AccessKeyID),
		SecretAccessKey: string(c.SecretAccessKey),
	}
}

// S3Params ...
func (c Config) S3Params() s3archive.Params {
	return s3archive.Params{
		Region:          c.Region,
		AccessKeyID:     string(c.AccessKeyID),
		SecretAccessKey: string(c.SecretAccessKey),
		StorageClass:    c.StorageClass,
	}
}

// SourceFileType ...
func (c Config) SourceFileType() (source.FileType, error) {
	return source.ParseFileType(c.FileType)
}
