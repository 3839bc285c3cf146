package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitrise-io/glacier-backup/config"
	"github.com/bitrise-io/glacier-backup/envconf"
	"github.com/bitrise-io/glacier-backup/glacier"
	"github.com/bitrise-io/glacier-backup/s3archive"
	"github.com/bitrise-io/glacier-backup/session"
	"github.com/bitrise-io/glacier-backup/source"
	"github.com/bitrise-io/glacier-backup/treehash"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/fileutil"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/docker/go-units"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// ExitCode is the process exit status.
type ExitCode int

// Exit codes.
const (
	Success ExitCode = iota
	UploadFailed
	SetupFailed
	CmdLineOptionError
	NotImplemented
)

const usage = `Usage:
  glacier-backup [flags] upload <path|-|https://url>...
  glacier-backup [flags] checksum <path|->
  glacier-backup download | delete | list    (not implemented)

Flags:
`

// StoreFactory creates the archive store of the configured backend.
type StoreFactory func(ctx context.Context, cfg config.Config, logger log.Logger) (session.Store, error)

type app struct {
	logger   log.Logger
	envRepo  env.Repository
	stdin    io.Reader
	stdout   io.Writer
	stderr   io.Writer
	newStore StoreFactory
	now      func() time.Time
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := app{
		logger:   log.NewLogger(),
		envRepo:  env.NewRepository(),
		stdin:    os.Stdin,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		newStore: newStore,
		now:      time.Now,
	}
	code := a.run(ctx, os.Args[1:])
	stop()
	os.Exit(int(code))
}

func (a app) run(ctx context.Context, args []string) ExitCode {
	fs := config.NewFlagSet("glacier-backup")
	fs.SetOutput(a.stderr)
	fs.Usage = func() {
		_, _ = fmt.Fprint(a.stderr, usage)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return Success
		}
		return CmdLineOptionError
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return CmdLineOptionError
	}

	if verbose, err := fs.GetBool(config.FlagVerbose); err == nil {
		a.logger.EnableDebugLog(verbose)
	}

	command, inputs := fs.Arg(0), fs.Args()[1:]
	switch command {
	case "upload":
		return a.upload(ctx, fs, inputs)
	case "checksum":
		return a.checksum(ctx, fs, inputs)
	case "download", "delete", "list":
		a.logger.Errorf("%s is not implemented yet", command)
		return NotImplemented
	default:
		a.logger.Errorf("Unknown command: %s", command)
		fs.Usage()
		return CmdLineOptionError
	}
}

func (a app) upload(ctx context.Context, fs *pflag.FlagSet, inputs []string) ExitCode {
	if len(inputs) == 0 {
		a.logger.Errorf("Nothing to upload: pass a path, - for stdin or an URL")
		return CmdLineOptionError
	}

	cfg, err := config.NewLoader(a.envRepo, pathutil.NewPathModifier(), a.logger).Load(fs)
	if err != nil {
		a.logger.Errorf("%s", err)
		return CmdLineOptionError
	}
	a.logger.Println()
	a.logger.Printf("%s", envconf.String(cfg))

	fileType, err := cfg.SourceFileType()
	if err != nil {
		a.logger.Errorf("%s", err)
		return CmdLineOptionError
	}

	src, err := a.opener().Open(ctx, inputs, fileType)
	if err != nil {
		a.logger.Errorf("Failed to open input: %s", err)
		return SetupFailed
	}
	defer func() {
		if err := src.Close(); err != nil {
			a.logger.Warnf("Failed to close %s: %s", src.Name, err)
		}
	}()

	var store session.Store
	if !cfg.DryRun {
		store, err = a.newStore(ctx, cfg, a.logger)
		if err != nil {
			a.logger.Errorf("Failed to set up the %s store: %s", cfg.Backend, err)
			return SetupFailed
		}
	}

	sessionConfig := cfg.SessionConfig()
	if sessionConfig.Description == "" {
		sessionConfig.Description = session.DefaultDescription(a.now(), src.Extension)
	}

	uploader, err := session.New(store, sessionConfig, a.logger)
	if err != nil {
		a.logger.Errorf("%s", err)
		return SetupFailed
	}

	a.logger.Println()
	a.logger.Infof("Uploading %s", src.Name)
	result, err := uploader.Upload(ctx, src.Stream())
	if err != nil {
		a.logger.Errorf("Upload failed: %s", err)
		return UploadFailed
	}

	output, err := fs.GetString(config.FlagOutput)
	if err != nil {
		return CmdLineOptionError
	}
	if err := a.printResult(result, output); err != nil {
		a.logger.Warnf("Failed to write the result: %s", err)
	}
	return Success
}

func (a app) checksum(ctx context.Context, fs *pflag.FlagSet, inputs []string) ExitCode {
	if len(inputs) != 1 {
		a.logger.Errorf("checksum takes exactly one input")
		return CmdLineOptionError
	}
	fileTypeValue, err := fs.GetString(config.FlagFileType)
	if err != nil {
		return CmdLineOptionError
	}
	fileType, err := source.ParseFileType(fileTypeValue)
	if err != nil {
		a.logger.Errorf("%s", err)
		return CmdLineOptionError
	}

	src, err := a.opener().Open(ctx, inputs, fileType)
	if err != nil {
		a.logger.Errorf("Failed to open input: %s", err)
		return SetupFailed
	}
	defer func() {
		if err := src.Close(); err != nil {
			a.logger.Warnf("Failed to close %s: %s", src.Name, err)
		}
	}()

	w := treehash.NewWriter()
	size, err := io.Copy(w, src)
	if err != nil {
		a.logger.Errorf("Failed to read %s: %s", src.Name, err)
		return SetupFailed
	}
	sum, err := w.SumHex()
	if errors.Is(err, treehash.ErrNoBlocks) {
		a.logger.Errorf("%s is empty, there is nothing to hash", src.Name)
		return SetupFailed
	}
	if err != nil {
		a.logger.Errorf("Failed to compute the tree hash of %s: %s", src.Name, err)
		return SetupFailed
	}

	a.logger.Debugf("%s read from %s", units.HumanSizeWithPrecision(float64(size), 3), src.Name)
	_, _ = fmt.Fprintln(a.stdout, sum)
	return Success
}

func (a app) opener() *source.Opener {
	files := source.NewFileProvider(
		source.NewParallelDownloader(a.logger),
		fileutil.NewFileManager(),
		pathutil.NewPathProvider(),
		pathutil.NewPathModifier(),
	)
	return source.NewOpener(
		a.logger,
		a.envRepo,
		files,
		source.NewDependencyChecker(a.logger, a.envRepo),
		pathutil.NewPathModifier(),
		pathutil.NewPathChecker(),
		a.stdin,
	)
}

type resultOutput struct {
	ArchiveID string `yaml:"archive_id"`
	Checksum  string `yaml:"checksum"`
	UploadID  string `yaml:"upload_id"`
	Location  string `yaml:"location,omitempty"`
	Size      int64  `yaml:"size"`
	Parts     int    `yaml:"parts"`
	Duration  string `yaml:"duration"`
}

// printResult writes the result to stdout and, if pth is set, to the file at pth.
func (a app) printResult(result *session.Result, pth string) error {
	data, err := yaml.Marshal(resultOutput{
		ArchiveID: result.ArchiveID,
		Checksum:  result.Checksum,
		UploadID:  result.SessionID,
		Location:  result.Location,
		Size:      result.Size,
		Parts:     result.Parts,
		Duration:  result.Duration.Round(time.Millisecond).String(),
	})
	if err != nil {
		return err
	}
	if _, err := a.stdout.Write(data); err != nil {
		return err
	}
	if pth == "" {
		return nil
	}

	absPath, err := pathutil.NewPathModifier().AbsPath(pth)
	if err != nil {
		return err
	}
	if err := fileutil.NewFileManager().WriteBytes(absPath, data); err != nil {
		return fmt.Errorf("write %s: %w", absPath, err)
	}
	a.logger.Donef("Result written to %s", absPath)
	return nil
}

func newStore(ctx context.Context, cfg config.Config, logger log.Logger) (session.Store, error) {
	switch cfg.Backend {
	case config.BackendS3:
		return s3archive.NewStore(ctx, cfg.S3Params(), logger)
	case config.BackendGlacier:
		return glacier.NewStore(ctx, cfg.GlacierParams(), logger)
	default:
		return nil, fmt.Errorf("unknown backend: %s", cfg.Backend)
	}
}
