package session

import (
	"context"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// SessionInfo identifies a multipart upload opened on the remote store.
type SessionInfo struct {
	ID       string
	Location string
}

// Store is the remote archive store driven by the Uploader.
//
//go:generate mockery --name Store --output mocks
type Store interface {
	// CreateSession opens a multipart upload in the given vault.
	CreateSession(ctx context.Context, vaultID, description string, partSize int64) (SessionInfo, error)
	// TransmitPart uploads the inclusive byte range [start, end] of the archive.
	TransmitPart(ctx context.Context, sessionID string, start, end int64, body []byte) error
	// CompleteSession assembles the archive and returns its permanent identifier.
	// The store rejects the request if totalBytes or the hex tree hash do not match what it received.
	CompleteSession(ctx context.Context, sessionID string, totalBytes int64, checksum string) (string, error)
	// AbortSession discards the multipart upload and every part received for it.
	AbortSession(ctx context.Context, sessionID string) error
}

// Placeholders returned by the DryRunStore.
const (
	DryRunUploadID  = "DRY_RUN_UPLOAD_ID"
	DryRunLocation  = "DRY_RUN_LOCATION"
	DryRunArchiveID = "DRY_RUN_ARCHIVE_ID"
)

// DryRunStore is a local stand-in for a remote store. It never contacts anything and answers
// every call with deterministic placeholders.
type DryRunStore struct {
	Region string
	logger log.Logger
}

// NewDryRunStore ...
func NewDryRunStore(region string, logger log.Logger) *DryRunStore {
	return &DryRunStore{Region: region, logger: logger}
}

// CreateSession ...
func (s *DryRunStore) CreateSession(_ context.Context, vaultID, description string, partSize int64) (SessionInfo, error) {
	s.logger.Printf("DRY RUN: Uploading %s to vault %s in %s region with %s parts",
		description, vaultID, s.Region, units.BytesSize(float64(partSize)))
	return SessionInfo{ID: DryRunUploadID, Location: DryRunLocation}, nil
}

// TransmitPart ...
func (s *DryRunStore) TransmitPart(_ context.Context, sessionID string, start, end int64, _ []byte) error {
	s.logger.Debugf("DRY RUN: Pretending to transmit bytes %d-%d of %s", start, end, sessionID)
	return nil
}

// CompleteSession ...
func (s *DryRunStore) CompleteSession(_ context.Context, sessionID string, totalBytes int64, checksum string) (string, error) {
	s.logger.Printf("DRY RUN: Completing %s with %d bytes, checksum %s", sessionID, totalBytes, checksum)
	return DryRunArchiveID, nil
}

// AbortSession ...
func (s *DryRunStore) AbortSession(_ context.Context, sessionID string) error {
	s.logger.Printf("DRY RUN: Aborting %s", sessionID)
	return nil
}
