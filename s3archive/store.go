// Package s3archive implements the archive store as an S3 multipart upload into an archival storage class.
//
// The vault id is the bucket name and the archive description becomes the object key. The tree
// hash of the archive is attached to the object as a tag once the upload completed.
package s3archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/glacier-backup/internal/awsconfig"
	"github.com/bitrise-io/glacier-backup/session"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// MinPartSize is the smallest part S3 accepts for any part but the last.
const MinPartSize = 5 * units.MiB

// ChecksumTag is the object tag holding the hex tree hash of the archive.
const ChecksumTag = "tree-hash-sha256"

const (
	numControlRetries = 3
	controlRetryWait  = 5 * time.Second
)

var (
	// ErrPartTooSmall ...
	ErrPartTooSmall = errors.New("part size is below the S3 minimum")
	// ErrWrongRegion is returned when the bucket is not in the configured region.
	ErrWrongRegion = errors.New("bucket region mismatch")
	// ErrSizeMismatch is returned on completion when the announced archive size differs from the bytes received.
	ErrSizeMismatch = errors.New("archive size mismatch")
)

// API is the subset of the S3 client used by the Store.
type API interface {
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	PutObjectTagging(ctx context.Context, params *s3.PutObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.PutObjectTaggingOutput, error)
	manager.HeadBucketAPIClient
}

// Params ...
type Params struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	StorageClass    string
	KeyPrefix       string
}

// Store uploads archives as S3 objects.
type Store struct {
	client       API
	region       string
	storageClass types.StorageClass
	keyPrefix    string
	logger       log.Logger
	retryWait    time.Duration

	mu      sync.Mutex
	uploads map[string]*upload
}

type upload struct {
	bucket   string
	key      string
	partSize int64

	mu    sync.Mutex
	parts map[int32]types.CompletedPart
	bytes int64
}

// NewStore creates a Store with a client for the given region.
func NewStore(ctx context.Context, params Params, logger log.Logger) (*Store, error) {
	storageClass, err := ParseStorageClass(params.StorageClass)
	if err != nil {
		return nil, err
	}

	cfg, err := awsconfig.Load(ctx, awsconfig.Params{
		Region:          params.Region,
		AccessKeyID:     params.AccessKeyID,
		SecretAccessKey: params.SecretAccessKey,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	store := NewStoreWithClient(s3.NewFromConfig(cfg), storageClass, params.KeyPrefix, logger)
	store.region = params.Region
	return store, nil
}

// NewStoreWithClient ...
func NewStoreWithClient(client API, storageClass types.StorageClass, keyPrefix string, logger log.Logger) *Store {
	return &Store{
		client:       client,
		storageClass: storageClass,
		keyPrefix:    keyPrefix,
		logger:       logger,
		retryWait:    controlRetryWait,
		uploads:      map[string]*upload{},
	}
}

// ParseStorageClass accepts the archival storage classes. An empty value selects GLACIER.
func ParseStorageClass(value string) (types.StorageClass, error) {
	switch strings.ToUpper(value) {
	case "", string(types.StorageClassGlacier):
		return types.StorageClassGlacier, nil
	case string(types.StorageClassDeepArchive):
		return types.StorageClassDeepArchive, nil
	case string(types.StorageClassGlacierIr):
		return types.StorageClassGlacierIr, nil
	default:
		return "", fmt.Errorf("unsupported storage class: %s (GLACIER, DEEP_ARCHIVE or GLACIER_IR)", value)
	}
}

// CreateSession starts a multipart upload of the object <prefix><description> in the bucket vaultID.
func (s *Store) CreateSession(ctx context.Context, vaultID, description string, partSize int64) (session.SessionInfo, error) {
	if partSize < MinPartSize {
		return session.SessionInfo{}, fmt.Errorf("%w: %s < %s",
			ErrPartTooSmall, units.BytesSize(float64(partSize)), units.BytesSize(MinPartSize))
	}

	if err := s.checkBucket(ctx, vaultID); err != nil {
		return session.SessionInfo{}, err
	}

	key := s.keyPrefix + description
	var uploadID string
	err := s.withRetry(func() error {
		output, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket:            aws.String(vaultID),
			Key:               aws.String(key),
			StorageClass:      s.storageClass,
			ContentType:       aws.String("application/octet-stream"),
			ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
		})
		if err != nil {
			return fmt.Errorf("create multipart upload: %w", err)
		}
		if output.UploadId == nil {
			return fmt.Errorf("create multipart upload: no upload id in response")
		}
		uploadID = aws.ToString(output.UploadId)
		return nil
	})
	if err != nil {
		return session.SessionInfo{}, err
	}

	s.mu.Lock()
	s.uploads[uploadID] = &upload{
		bucket:   vaultID,
		key:      key,
		partSize: partSize,
		parts:    map[int32]types.CompletedPart{},
	}
	s.mu.Unlock()

	return session.SessionInfo{ID: uploadID, Location: fmt.Sprintf("s3://%s/%s", vaultID, key)}, nil
}

// checkBucket fails when the bucket is missing or lives in another region than the client's.
func (s *Store) checkBucket(ctx context.Context, bucket string) error {
	region, err := manager.GetBucketRegion(ctx, s.client, bucket)
	if err != nil {
		return fmt.Errorf("bucket %s: %w", bucket, err)
	}
	if region != "" && s.region != "" && region != s.region {
		return fmt.Errorf("%w: bucket %s is in %s, not in %s", ErrWrongRegion, bucket, region, s.region)
	}
	s.logger.Debugf("Bucket %s region: %s", bucket, region)
	return nil
}

// TransmitPart uploads the part starting at start. The S3 part number is derived from the offset.
func (s *Store) TransmitPart(ctx context.Context, sessionID string, start, end int64, body []byte) error {
	u, err := s.upload(sessionID)
	if err != nil {
		return err
	}
	if start%u.partSize != 0 {
		return fmt.Errorf("part offset %d is not aligned to the part size %d", start, u.partSize)
	}
	if size := end - start + 1; size != int64(len(body)) {
		return fmt.Errorf("range %d-%d does not match the body length %d", start, end, len(body))
	}

	partNumber := int32(start/u.partSize) + 1
	output, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:            aws.String(u.bucket),
		Key:               aws.String(u.key),
		UploadId:          aws.String(sessionID),
		PartNumber:        aws.Int32(partNumber),
		ContentLength:     aws.Int64(int64(len(body))),
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
		Body:              bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("upload part %d: %w", partNumber, err)
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.parts[partNumber]; !ok {
		u.bytes += int64(len(body))
	}
	u.parts[partNumber] = types.CompletedPart{
		ETag:           output.ETag,
		ChecksumSHA256: output.ChecksumSHA256,
		PartNumber:     aws.Int32(partNumber),
	}

	return nil
}

// CompleteSession assembles the object and tags it with the tree hash. The returned archive id is the object URL.
func (s *Store) CompleteSession(ctx context.Context, sessionID string, totalBytes int64, checksum string) (string, error) {
	u, err := s.upload(sessionID)
	if err != nil {
		return "", err
	}

	parts, received := u.completedParts()
	if received != totalBytes {
		return "", fmt.Errorf("%w: %d bytes announced, %d bytes received", ErrSizeMismatch, totalBytes, received)
	}

	err = s.withRetry(func() error {
		_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          aws.String(u.bucket),
			Key:             aws.String(u.key),
			UploadId:        aws.String(sessionID),
			MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
		})
		if err != nil {
			return fmt.Errorf("complete multipart upload: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	s.forget(sessionID)

	err = s.withRetry(func() error {
		_, err := s.client.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
			Bucket: aws.String(u.bucket),
			Key:    aws.String(u.key),
			Tagging: &types.Tagging{TagSet: []types.Tag{
				{Key: aws.String(ChecksumTag), Value: aws.String(checksum)},
			}},
		})
		if err != nil {
			return fmt.Errorf("tag object: %w", err)
		}
		return nil
	})
	if err != nil {
		// The object exists at this point, a missing tag does not invalidate it.
		s.logger.Warnf("Failed to attach the checksum to s3://%s/%s: %s", u.bucket, u.key, err)
	}

	return fmt.Sprintf("s3://%s/%s", u.bucket, u.key), nil
}

// AbortSession ...
func (s *Store) AbortSession(ctx context.Context, sessionID string) error {
	u, err := s.upload(sessionID)
	if err != nil {
		return err
	}

	err = s.withRetry(func() error {
		_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(u.bucket),
			Key:      aws.String(u.key),
			UploadId: aws.String(sessionID),
		})
		if err != nil {
			var noSuchUpload *types.NoSuchUpload
			if errors.As(err, &noSuchUpload) {
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

// IsRetryable ...
func (s *Store) IsRetryable(err error) bool {
	return IsRetryable(err)
}

// IsRetryable tells whether a failed S3 request may succeed when sent again.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrSizeMismatch) || errors.Is(err, ErrPartTooSmall) {
		return false
	}

	var apiError smithy.APIError
	if errors.As(err, &apiError) {
		switch apiError.(type) {
		case *types.NoSuchUpload, *types.NoSuchBucket, *types.NoSuchKey:
			return false
		}
		switch apiError.ErrorCode() {
		case "RequestTimeout", "SlowDown", "InternalError", "ServiceUnavailable":
			return true
		}
		return apiError.ErrorFault() != smithy.FaultClient
	}

	return true
}

func (u *upload) completedParts() ([]types.CompletedPart, int64) {
	u.mu.Lock()
	defer u.mu.Unlock()

	parts := make([]types.CompletedPart, 0, len(u.parts))
	for _, part := range u.parts {
		parts = append(parts, part)
	}
	sort.Slice(parts, func(i, j int) bool {
		return aws.ToInt32(parts[i].PartNumber) < aws.ToInt32(parts[j].PartNumber)
	})

	return parts, u.bytes
}

func (s *Store) withRetry(action func() error) error {
	return retry.Times(numControlRetries).Wait(s.retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		err := action()
		if err == nil {
			return nil, true
		}
		if !IsRetryable(err) {
			return err, true
		}
		s.logger.Warnf("%s (attempt %d)", err, attempt+1)
		return err, false
	})
}

func (s *Store) upload(sessionID string) (*upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.uploads[sessionID]
	if !ok {
		return nil, fmt.Errorf("unknown upload id: %s", sessionID)
	}
	return u, nil
}

func (s *Store) forget(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.uploads, sessionID)
}
