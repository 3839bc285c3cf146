package awsconfig

import (
	"context"
	"net/http"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingRegion(t *testing.T) {
	_, err := Load(context.Background(), Params{}, log.NewLogger())
	assert.EqualError(t, err, "region must not be empty")
}

func TestLoad_StaticCredentials(t *testing.T) {
	cfg, err := Load(context.Background(), Params{
		Region:          "eu-central-1",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
	}, log.NewLogger())
	require.NoError(t, err)

	assert.Equal(t, "eu-central-1", cfg.Region)
	assert.NotNil(t, cfg.HTTPClient)

	creds, err := cfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIDEXAMPLE", creds.AccessKeyID)
	assert.Equal(t, "secret", creds.SecretAccessKey)
}

func TestCheckRetry(t *testing.T) {
	check := checkRetry(log.NewLogger())

	retry, err := check(context.Background(), &http.Response{StatusCode: http.StatusServiceUnavailable}, nil)
	require.NoError(t, err)
	assert.True(t, retry)

	retry, err = check(context.Background(), &http.Response{StatusCode: http.StatusOK}, nil)
	require.NoError(t, err)
	assert.False(t, retry)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	retry, err = check(ctx, nil, nil)
	assert.False(t, retry)
	assert.ErrorIs(t, err, context.Canceled)
}
