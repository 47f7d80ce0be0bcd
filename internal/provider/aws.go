package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/smithy-go"

	"healthai/internal/domain"
)

// AWSOptions selects region and credentials. Empty credentials fall back to
// the default chain (environment, shared config, instance role).
type AWSOptions struct {
	Region          string
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// LoadAWSConfig builds an aws.Config. SDK-level retries are disabled: retry
// policy belongs to the caller.
func LoadAWSConfig(ctx context.Context, opts AWSOptions) (aws.Config, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRetryMaxAttempts(1),
	}
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("%w: load AWS config: %v", domain.ErrInvalidConfiguration, err)
	}
	return cfg, nil
}

// MapAWSError classifies an AWS SDK error by its API error code.
func MapAWSError(backend string, err error, unavailable error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException", "ServiceQuotaExceededException", "SlowDown":
			return fmt.Errorf("%s: %w: %w", backend, &RateLimitError{Backend: backend}, err)
		case "ValidationException":
			return fmt.Errorf("%w: %s: %v", domain.ErrInvalidInput, backend, err)
		case "NoSuchBucket", "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %s: %v", domain.ErrNotFound, backend, err)
		}
	}
	return fmt.Errorf("%w: %s: %v", unavailable, backend, err)
}
