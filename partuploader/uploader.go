package partuploader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
)

// ErrStopped is returned by Submit once the uploader stopped accepting parts.
var ErrStopped = errors.New("part uploader stopped")

// errAttemptInterrupted marks an attempt cancelled by its own timeout or by hung detection while
// the upload itself is still running. Such attempts are retried regardless of IsRetryable.
var errAttemptInterrupted = errors.New("transmission attempt interrupted")

// Uploader transmits parts with bounded parallelism, retry and hung detection.
// The first part that fails for good stops the uploader: parts in flight are cancelled and
// further submissions are rejected.
type Uploader struct {
	config   Config
	transmit TransmitFunc
	logger   log.Logger
	stats    *Stats

	ctx    context.Context
	cancel context.CancelFunc
	slots  chan struct{}
	wg     sync.WaitGroup

	mu  sync.Mutex
	err error
}

// New creates a new Uploader. Cancelling ctx stops every transmission in flight.
func New(ctx context.Context, config Config, transmit TransmitFunc, logger log.Logger) *Uploader {
	config = config.withDefaults()
	ctx, cancel := context.WithCancel(ctx)

	return &Uploader{
		config:   config,
		transmit: transmit,
		logger:   logger,
		stats:    NewStats(),
		ctx:      ctx,
		cancel:   cancel,
		slots:    make(chan struct{}, config.Concurrency),
	}
}

// Submit schedules the transmission of a part. It blocks while all workers are busy.
// done is called exactly once: when the transmission finished, or right away if the part
// could not be scheduled, in which case the returned error is the reason.
func (u *Uploader) Submit(part Part, done DoneFunc) error {
	if err := u.Err(); err != nil {
		done(part, err)
		return err
	}

	select {
	case <-u.ctx.Done():
		err := u.stopReason()
		done(part, err)
		return err
	case u.slots <- struct{}{}:
	}

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		defer func() { <-u.slots }()

		err := u.transmitWithRetry(part)
		if err != nil {
			u.fail(err)
		}
		done(part, err)
	}()

	return nil
}

// Wait blocks until every submitted part finished and returns the first failure, if any.
func (u *Uploader) Wait() error {
	u.wg.Wait()
	u.cancel()
	return u.Err()
}

// Err returns the failure that stopped the uploader, or nil.
func (u *Uploader) Err() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.err
}

// Stats returns the transmission statistics.
func (u *Uploader) Stats() *Stats {
	return u.stats
}

func (u *Uploader) fail(err error) {
	u.mu.Lock()
	if u.err == nil {
		u.err = err
	}
	u.mu.Unlock()
	u.cancel()
}

func (u *Uploader) stopReason() error {
	if err := u.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStopped, u.ctx.Err())
}

func (u *Uploader) transmitWithRetry(part Part) error {
	var transmitErr error

	for attempt := 0; attempt < u.config.MaxRetryPerPart; attempt++ {
		if err := u.ctx.Err(); err != nil {
			return fmt.Errorf("%s cancelled: %w", part, err)
		}

		u.logger.Debugf("Transmitting %s (attempt %d/%d) [finished=%d] [avg=%v]",
			part, attempt+1, u.config.MaxRetryPerPart,
			u.stats.FinishedCount(), u.stats.Average().Round(time.Second))

		start := time.Now()
		transmitErr = u.transmitOnce(part, start, attempt)
		if transmitErr == nil {
			took := time.Since(start)
			u.stats.Update(took, part.Size())
			u.logger.Infof("Transmitted %s in %v", part, took.Round(time.Millisecond))
			return nil
		}

		if u.ctx.Err() != nil {
			return fmt.Errorf("%s cancelled: %w", part, transmitErr)
		}
		interrupted := errors.Is(transmitErr, errAttemptInterrupted)
		if !interrupted && u.config.IsRetryable != nil && !u.config.IsRetryable(transmitErr) {
			u.logger.Errorf("Transmission of %s failed with a non-retryable error: %s", part, transmitErr)
			return fmt.Errorf("transmit %s: %w", part, transmitErr)
		}
		if attempt == u.config.MaxRetryPerPart-1 {
			break
		}

		backoff := u.config.backoff(attempt)
		u.stats.AddRetry()
		u.logger.Warnf("Transmission of %s attempt %d failed: %s, retrying after %v", part, attempt+1, transmitErr, backoff)

		select {
		case <-u.ctx.Done():
			return fmt.Errorf("%s cancelled: %w", part, transmitErr)
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("transmit %s failed after %d attempts: %w", part, u.config.MaxRetryPerPart, transmitErr)
}

func (u *Uploader) transmitOnce(part Part, start time.Time, attempt int) error {
	var (
		attemptCtx context.Context
		cancel     context.CancelFunc
	)
	if u.config.TransmitTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(u.ctx, u.config.TransmitTimeout)
	} else {
		attemptCtx, cancel = context.WithCancel(u.ctx)
	}
	defer cancel()

	// The last attempt is never cancelled as hung.
	if attempt < u.config.MaxRetryPerPart-1 && u.config.HungThreshold > 0 {
		go u.detectHungTransmission(attemptCtx, cancel, start, part)
	}

	err := u.transmit(attemptCtx, part)
	if err != nil && attemptCtx.Err() != nil && u.ctx.Err() == nil {
		return fmt.Errorf("%w: %w", errAttemptInterrupted, err)
	}
	return err
}

func (u *Uploader) detectHungTransmission(ctx context.Context, cancel context.CancelFunc, start time.Time, part Part) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if u.stats.FinishedCount() > 0 {
				elapsed := time.Since(start)
				avg := u.stats.Average()
				if elapsed-avg > u.config.HungThreshold {
					u.logger.Warnf("Found hung transmission (%s); cancelling request after %s (avg: %s)",
						part, elapsed.Round(time.Second), avg.Round(time.Second))
					cancel()
					return
				}
			}
		}
	}
}
