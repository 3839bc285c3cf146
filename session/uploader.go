package session

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/bitrise-io/glacier-backup/chunker"
	"github.com/bitrise-io/glacier-backup/partuploader"
	"github.com/bitrise-io/glacier-backup/pool"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// RetryClassifier is implemented by stores that can tell transient failures from permanent ones.
type RetryClassifier interface {
	IsRetryable(err error) bool
}

// Uploader uploads byte streams as multipart archives.
type Uploader struct {
	store  Store
	config Config
	logger log.Logger
}

// New creates an Uploader. store may be nil in dry-run mode.
func New(store Store, config Config, logger log.Logger) (*Uploader, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.DryRun {
		store = NewDryRunStore(config.Region, logger)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: no archive store", ErrInvalidConfig)
	}
	if config.AbortTimeout == 0 {
		config.AbortTimeout = DefaultAbortTimeout
	}
	if config.Transfer.IsRetryable == nil {
		if classifier, ok := store.(RetryClassifier); ok {
			config.Transfer.IsRetryable = classifier.IsRetryable
		}
	}

	return &Uploader{
		store:  store,
		config: config,
		logger: logger,
	}, nil
}

// Upload reads stream to its end and stores it as a single archive.
// On success the archive id and the tree hash of the whole stream are returned. On failure the
// multipart upload, if it was created, has been aborted.
func (u *Uploader) Upload(ctx context.Context, stream chunker.ByteStream) (*Result, error) {
	description := u.config.Description
	if description == "" {
		description = DefaultDescription(time.Now(), "")
	}

	sess := newSession(u.config)

	u.logger.Printf("Initiating upload of %s to vault %s (%s parts)",
		description, sess.VaultID, units.BytesSize(float64(sess.PartSize)))

	info, err := u.store.CreateSession(ctx, sess.VaultID, description, sess.PartSize)
	if err != nil {
		return nil, fmt.Errorf("initiate upload: %w", err)
	}
	sess.ID = info.ID
	sess.Location = info.Location
	u.logger.Infof("Upload ID: %s", sess.ID)
	u.logger.Debugf("Location: %s", sess.Location)

	if err := sess.transition(PartLoop); err != nil {
		return nil, u.abort(ctx, sess, err)
	}

	size, err := u.transferParts(ctx, sess, stream)
	if err != nil {
		return nil, u.abort(ctx, sess, err)
	}

	if err := sess.transition(Completing); err != nil {
		return nil, u.abort(ctx, sess, err)
	}

	checksum, err := sess.hashes.SumHex()
	if err != nil {
		return nil, u.abort(ctx, sess, fmt.Errorf("%w: %w", ErrChecksumUnavailable, err))
	}
	if transmitted := sess.BytesTransmitted(); transmitted != size {
		return nil, u.abort(ctx, sess, fmt.Errorf("%w: %d bytes transmitted, %d bytes read", ErrTransmission, transmitted, size))
	}

	u.logger.Printf("Completing upload %s: %d parts, %s, checksum %s",
		sess.ID, sess.PartsTransmitted(), units.HumanSizeWithPrecision(float64(size), 3), checksum)

	archiveID, err := u.store.CompleteSession(ctx, sess.ID, size, checksum)
	if err != nil {
		return nil, u.abort(ctx, sess, fmt.Errorf("%w: %w", ErrCompletionRejected, err))
	}
	if err := sess.transition(Completed); err != nil {
		return nil, err
	}

	took := time.Since(sess.startedAt)
	u.logger.Donef("Archive %s uploaded in %s", archiveID, took.Round(time.Second))

	return &Result{
		ArchiveID: archiveID,
		Checksum:  checksum,
		SessionID: sess.ID,
		Location:  sess.Location,
		Size:      size,
		Parts:     sess.PartsTransmitted(),
		Duration:  took,
	}, nil
}

// transferParts chunks and hashes the stream in order and hands every part to the part
// uploader. It returns once every submitted part finished.
func (u *Uploader) transferParts(ctx context.Context, sess *Session, stream chunker.ByteStream) (int64, error) {
	buffers := pool.NewPartBuffers(sess.PartSize)
	c := chunker.New()

	transmit := func(ctx context.Context, part partuploader.Part) error {
		return u.store.TransmitPart(ctx, sess.ID, part.Start, part.End(), part.Data)
	}
	transfer := partuploader.New(ctx, u.config.Transfer, transmit, u.logger)

	loopErr := func() error {
		var offset int64
		for index := 0; ; index++ {
			if err := ctx.Err(); err != nil {
				return err
			}

			buf := buffers.Get()
			result, err := c.NextPart(stream, sess.PartSize, buf)
			if err != nil {
				buffers.Put(buf)
				return fmt.Errorf("read part %d: %w", index, err)
			}
			if result == chunker.Exhausted {
				buffers.Put(buf)
				return nil
			}

			part := partuploader.Part{Index: index, Start: offset, Data: buf.Bytes()}
			if err := sess.hashes.AddPart(part.Data); err != nil {
				buffers.Put(buf)
				return fmt.Errorf("hash %s: %w", part, err)
			}
			offset += part.Size()

			if sess.DryRun {
				u.logger.Debugf("DRY RUN: %s (%s)", part, result)
				sess.recordTransmitted(part.Size())
				buffers.Put(buf)
				continue
			}

			if err := transfer.Submit(part, u.partDone(sess, buffers, buf)); err != nil {
				return fmt.Errorf("%w: %w", ErrTransmission, err)
			}
		}
	}()

	// Parts in flight are drained before anything else happens to the session.
	transferErr := transfer.Wait()

	stats := transfer.Stats()
	u.logger.TDebugf("Transmitted %d parts (%d retries), average %s per part",
		stats.FinishedCount(), stats.Retries(), stats.Average().Round(time.Millisecond))

	if loopErr != nil {
		return 0, loopErr
	}
	if transferErr != nil {
		return 0, fmt.Errorf("%w: %w", ErrTransmission, transferErr)
	}
	if err := c.Verify(); err != nil {
		return 0, err
	}
	if outstanding := buffers.Outstanding(); outstanding != 0 {
		u.logger.Warnf("%d part buffers were not released", outstanding)
	}

	return c.Written(), nil
}

func (u *Uploader) partDone(sess *Session, buffers *pool.PartBuffers, buf *bytes.Buffer) partuploader.DoneFunc {
	return func(part partuploader.Part, err error) {
		defer buffers.Put(buf)

		if err != nil {
			u.logger.Errorf("Upload %s: %s (bytes %d-%d) failed: %s", sess.ID, part, part.Start, part.End(), err)
			return
		}
		sess.recordTransmitted(part.Size())
	}
}

// abort moves the session to Aborted and discards the remote multipart upload. The abort request
// outlives the cancellation of ctx but is bounded by AbortTimeout.
func (u *Uploader) abort(ctx context.Context, sess *Session, cause error) error {
	if err := sess.transition(Aborted); err != nil {
		return fmt.Errorf("%w: %w", err, cause)
	}

	u.logger.Errorf("Upload %s failed: %s", sess.ID, cause)
	u.logger.Warnf("Aborting upload %s", sess.ID)

	abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), u.config.AbortTimeout)
	defer cancel()

	if err := u.store.AbortSession(abortCtx, sess.ID); err != nil {
		u.logger.Errorf("Failed to abort upload %s: %s", sess.ID, err)
		return fmt.Errorf("%w: %w (abort failed: %v)", ErrAborted, cause, err)
	}

	u.logger.Warnf("Upload %s aborted", sess.ID)
	return fmt.Errorf("%w: %w", ErrAborted, cause)
}
