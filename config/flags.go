package config

import (
	"fmt"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/pflag"
)

// Flag names.
const (
	FlagSettings        = "settings"
	FlagRegion          = "region"
	FlagVault           = "vault"
	FlagBackend         = "backend"
	FlagStorageClass    = "storage-class"
	FlagPartSize        = "part-size"
	FlagDryRun          = "dry-run"
	FlagConcurrency     = "concurrency"
	FlagMaxRetries      = "max-retries"
	FlagTransmitTimeout = "transmit-timeout"
	FlagFileType        = "file-type"
	FlagDescription     = "description"
	FlagOutput          = "output"
	FlagVerbose         = "verbose"
)

// NewFlagSet defines the configuration flags. Only flags set on the command line override the
// other sources, the defaults shown in the usage are informational.
func NewFlagSet(name string) *pflag.FlagSet {
	def := Default()
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false

	fs.String(FlagSettings, DefaultSettingsPath, "settings file")
	fs.String(FlagRegion, "", "AWS region")
	fs.String(FlagVault, "", "vault name, the bucket name with the s3 backend")
	fs.String(FlagBackend, string(def.Backend), "archive store: glacier or s3")
	fs.String(FlagStorageClass, "", "storage class of the s3 backend: GLACIER, DEEP_ARCHIVE or GLACIER_IR")
	fs.String(FlagPartSize, units.BytesSize(float64(def.PartSize)), "part size, a power of two between 1MiB and 4GiB")
	fs.Bool(FlagDryRun, false, "chunk and hash the input without contacting AWS")
	fs.Int(FlagConcurrency, def.Concurrency, "number of parts transmitted in parallel")
	fs.Int(FlagMaxRetries, def.MaxRetries, "transmission attempts per part")
	fs.Duration(FlagTransmitTimeout, def.TransmitTimeout, "timeout of a single part transmission, 0 disables it")
	fs.String(FlagFileType, def.FileType, "packing of the inputs: none, tar or zip")
	fs.String(FlagDescription, "", "archive description, defaults to the date and the extension of the input")
	fs.String(FlagOutput, "", "also write the upload result to this file")
	fs.BoolP(FlagVerbose, "v", false, "enable debug logging")

	return fs
}

func applyFlags(fs *pflag.FlagSet, c *Config) error {
	var err error
	visit := func(f *pflag.Flag) {
		if err != nil {
			return
		}
		err = applyFlag(fs, f.Name, c)
	}
	fs.Visit(visit)
	return err
}

func applyFlag(fs *pflag.FlagSet, name string, c *Config) error {
	var err error
	switch name {
	case FlagRegion:
		c.Region, err = fs.GetString(name)
	case FlagVault:
		c.Vault, err = fs.GetString(name)
	case FlagBackend:
		var backend string
		backend, err = fs.GetString(name)
		c.Backend = Backend(backend)
	case FlagStorageClass:
		c.StorageClass, err = fs.GetString(name)
	case FlagPartSize:
		var value string
		if value, err = fs.GetString(name); err == nil {
			c.PartSize, err = units.RAMInBytes(value)
		}
	case FlagDryRun:
		c.DryRun, err = fs.GetBool(name)
	case FlagConcurrency:
		c.Concurrency, err = fs.GetInt(name)
	case FlagMaxRetries:
		c.MaxRetries, err = fs.GetInt(name)
	case FlagTransmitTimeout:
		var timeout time.Duration
		timeout, err = fs.GetDuration(name)
		c.TransmitTimeout = timeout
	case FlagFileType:
		c.FileType, err = fs.GetString(name)
	case FlagDescription:
		c.Description, err = fs.GetString(name)
	case FlagVerbose:
		c.Verbose, err = fs.GetBool(name)
	}
	if err != nil {
		return fmt.Errorf("--%s: %w", name, err)
	}
	return nil
}
