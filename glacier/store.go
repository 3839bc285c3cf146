// Package glacier implements the archive store on top of the Amazon S3 Glacier vault multipart upload API.
package glacier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glacier"
	"github.com/aws/aws-sdk-go-v2/service/glacier/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/glacier-backup/internal/awsconfig"
	"github.com/bitrise-io/glacier-backup/session"
	"github.com/bitrise-io/glacier-backup/treehash"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
)

// The account owning the vault; "-" selects the account of the credentials.
const accountID = "-"

const (
	numControlRetries = 3
	controlRetryWait  = 5 * time.Second
)

// ErrChecksumMismatch is returned when Glacier computed a different tree hash for a part than the one sent.
var ErrChecksumMismatch = errors.New("part checksum mismatch")

// API is the subset of the Glacier client used by the Store.
type API interface {
	InitiateMultipartUpload(ctx context.Context, params *glacier.InitiateMultipartUploadInput, optFns ...func(*glacier.Options)) (*glacier.InitiateMultipartUploadOutput, error)
	UploadMultipartPart(ctx context.Context, params *glacier.UploadMultipartPartInput, optFns ...func(*glacier.Options)) (*glacier.UploadMultipartPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *glacier.CompleteMultipartUploadInput, optFns ...func(*glacier.Options)) (*glacier.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *glacier.AbortMultipartUploadInput, optFns ...func(*glacier.Options)) (*glacier.AbortMultipartUploadOutput, error)
}

// Params ...
type Params struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Store uploads archives into Glacier vaults.
type Store struct {
	client    API
	logger    log.Logger
	retryWait time.Duration

	mu     sync.Mutex
	vaults map[string]string
}

// NewStore creates a Store with a client for the given region.
func NewStore(ctx context.Context, params Params, logger log.Logger) (*Store, error) {
	cfg, err := awsconfig.Load(ctx, awsconfig.Params{
		Region:          params.Region,
		AccessKeyID:     params.AccessKeyID,
		SecretAccessKey: params.SecretAccessKey,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	return NewStoreWithClient(glacier.NewFromConfig(cfg), logger), nil
}

// NewStoreWithClient ...
func NewStoreWithClient(client API, logger log.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		retryWait: controlRetryWait,
		vaults:    map[string]string{},
	}
}

// CreateSession initiates a multipart upload in the vault.
func (s *Store) CreateSession(ctx context.Context, vaultID, description string, partSize int64) (session.SessionInfo, error) {
	var info session.SessionInfo
	err := s.withRetry(func() error {
		output, err := s.client.InitiateMultipartUpload(ctx, &glacier.InitiateMultipartUploadInput{
			AccountId:          aws.String(accountID),
			VaultName:          aws.String(vaultID),
			ArchiveDescription: aws.String(description),
			PartSize:           aws.String(strconv.FormatInt(partSize, 10)),
		})
		if err != nil {
			return fmt.Errorf("initiate multipart upload: %w", err)
		}
		if output.UploadId == nil {
			return fmt.Errorf("initiate multipart upload: no upload id in response")
		}

		info = session.SessionInfo{
			ID:       aws.ToString(output.UploadId),
			Location: aws.ToString(output.Location),
		}
		return nil
	})
	if err != nil {
		return session.SessionInfo{}, err
	}

	s.mu.Lock()
	s.vaults[info.ID] = vaultID
	s.mu.Unlock()

	return info, nil
}

// TransmitPart uploads a single part together with its tree hash.
// It is not retried here, retries are driven by the caller.
func (s *Store) TransmitPart(ctx context.Context, sessionID string, start, end int64, body []byte) error {
	vault, err := s.vault(sessionID)
	if err != nil {
		return err
	}

	checksum, err := treehash.Compute(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("compute part checksum: %w", err)
	}

	output, err := s.client.UploadMultipartPart(ctx, &glacier.UploadMultipartPartInput{
		AccountId: aws.String(accountID),
		VaultName: aws.String(vault),
		UploadId:  aws.String(sessionID),
		Range:     aws.String(ContentRange(start, end)),
		Checksum:  aws.String(checksum),
		Body:      bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("upload part %s: %w", ContentRange(start, end), err)
	}
	if output.Checksum != nil && *output.Checksum != checksum {
		return fmt.Errorf("%w: bytes %d-%d: sent %s, received %s", ErrChecksumMismatch, start, end, checksum, *output.Checksum)
	}

	return nil
}

// CompleteSession assembles the uploaded parts into an archive.
func (s *Store) CompleteSession(ctx context.Context, sessionID string, totalBytes int64, checksum string) (string, error) {
	vault, err := s.vault(sessionID)
	if err != nil {
		return "", err
	}

	var archiveID string
	err = s.withRetry(func() error {
		output, err := s.client.CompleteMultipartUpload(ctx, &glacier.CompleteMultipartUploadInput{
			AccountId:   aws.String(accountID),
			VaultName:   aws.String(vault),
			UploadId:    aws.String(sessionID),
			ArchiveSize: aws.String(strconv.FormatInt(totalBytes, 10)),
			Checksum:    aws.String(checksum),
		})
		if err != nil {
			return fmt.Errorf("complete multipart upload: %w", err)
		}

		archiveID = aws.ToString(output.ArchiveId)
		s.logger.Debugf("Archive location: %s", aws.ToString(output.Location))
		return nil
	})
	if err != nil {
		return "", err
	}

	s.forget(sessionID)
	return archiveID, nil
}

// AbortSession ...
func (s *Store) AbortSession(ctx context.Context, sessionID string) error {
	vault, err := s.vault(sessionID)
	if err != nil {
		return err
	}

	err = s.withRetry(func() error {
		_, err := s.client.AbortMultipartUpload(ctx, &glacier.AbortMultipartUploadInput{
			AccountId: aws.String(accountID),
			VaultName: aws.String(vault),
			UploadId:  aws.String(sessionID),
		})
		if err != nil {
			var notFound *types.ResourceNotFoundException
			if errors.As(err, &notFound) {
				s.logger.Warnf("Multipart upload %s no longer exists", sessionID)
				return nil
			}
			return fmt.Errorf("abort multipart upload: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.forget(sessionID)
	return nil
}

// IsRetryable tells whether a failed Glacier request may succeed when sent again.
func (s *Store) IsRetryable(err error) bool {
	return IsRetryable(err)
}

// IsRetryable ...
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrChecksumMismatch) {
		return false
	}

	var apiError smithy.APIError
	if errors.As(err, &apiError) {
		switch apiError.(type) {
		case *types.InvalidParameterValueException,
			*types.MissingParameterValueException,
			*types.ResourceNotFoundException,
			*types.PolicyEnforcedException:
			return false
		case *types.RequestTimeoutException,
			*types.ServiceUnavailableException,
			*types.LimitExceededException:
			return true
		}
		return apiError.ErrorFault() != smithy.FaultClient
	}

	return true
}

// ContentRange formats the inclusive byte range of a part the way Glacier expects it.
func ContentRange(start, end int64) string {
	return fmt.Sprintf("bytes %d-%d/*", start, end)
}

func (s *Store) withRetry(action func() error) error {
	return retry.Times(numControlRetries).Wait(s.retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		if attempt > 0 {
			s.logger.Debugf("Retrying (attempt %d)", attempt+1)
		}
		err := action()
		if err == nil {
			return nil, true
		}
		if !IsRetryable(err) {
			return err, true
		}
		s.logger.Warnf("%s", err)
		return err, false
	})
}

func (s *Store) vault(sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vault, ok := s.vaults[sessionID]
	if !ok {
		return "", fmt.Errorf("unknown upload id: %s", sessionID)
	}
	return vault, nil
}

func (s *Store) forget(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vaults, sessionID)
}
