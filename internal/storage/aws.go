package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/smithy-go"

	"github.com/TheMichaelB/safe/internal/models"
)

// loadAWSConfig builds an SDK config bound to the safe's own credentials.
// Ambient credentials from the environment or ~/.aws are never used.
func loadAWSConfig(ctx context.Context, desc *models.SafeDescriptor, region string) (aws.Config, error) {
	if desc.AccessKey == "" || desc.SecretKey == "" {
		return aws.Config{}, fmt.Errorf("safe %q has no access credentials", desc.Name)
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(desc.AccessKey, desc.SecretKey, ""),
		),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}

	return cfg, nil
}

// isAPIErrorCode reports whether err carries one of the given service codes.
func isAPIErrorCode(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, code := range codes {
		if apiErr.ErrorCode() == code {
			return true
		}
	}
	return false
}
