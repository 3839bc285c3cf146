// Package awsconfig loads the AWS configuration shared by the archive stores.
package awsconfig

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// Params ...
type Params struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// MaxHTTPRetries overrides the retry count of the HTTP transport when positive.
	MaxHTTPRetries int
}

// Load returns an aws.Config for the given region. Static credentials are used when both keys
// are set, otherwise the default credential chain (environment, shared config, instance role).
//
// Requests go through a retrying HTTP client, so the SDK's own retryer is disabled.
func Load(ctx context.Context, params Params, logger log.Logger) (aws.Config, error) {
	if params.Region == "" {
		return aws.Config{}, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(params.Region),
		config.WithHTTPClient(NewHTTPClient(params.MaxHTTPRetries, logger)),
		config.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	}

	if params.AccessKeyID != "" && params.SecretAccessKey != "" {
		logger.Debugf("Using static AWS credentials")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(params.AccessKeyID, params.SecretAccessKey, "")))
	} else {
		logger.Debugf("AWS credentials not defined, loading credentials from environment...")
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load config, %w", err)
	}

	return cfg, nil
}

// NewHTTPClient returns a standard client backed by a retrying transport that logs its retry decisions.
func NewHTTPClient(maxRetries int, logger log.Logger) *http.Client {
	client := retryhttp.NewClient(logger)
	if maxRetries > 0 {
		client.RetryMax = maxRetries
	}
	client.CheckRetry = checkRetry(logger)

	return client.StandardClient()
}

func checkRetry(logger log.Logger) retryablehttp.CheckRetry {
	return func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		retry, checkErr := retryablehttp.DefaultRetryPolicy(ctx, resp, err)
		if retry {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			logger.Debugf("Retrying AWS request: status=%d ; err=%v", status, err)
		}
		return retry, checkErr
	}
}
