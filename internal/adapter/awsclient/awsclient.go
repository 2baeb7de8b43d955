// Package awsclient holds what the AWS-backed adapters share: loading the
// SDK configuration and classifying SDK errors for the orchestrator's
// retry policy.
package awsclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/smithy-go"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

// Load reads the default AWS configuration chain for region.
func Load(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading aws config: %w", err)
	}
	return cfg, nil
}

// retryable client-fault codes: throttling, not rejection.
var retryable = map[string]bool{
	"ThrottlingException":      true,
	"TooManyRequestsException": true,
	"LimitExceededException":   true,
	"RequestTimeout":           true,
}

// Classify marks client-side rejections as terminal for step. Server
// faults, throttling and transport errors stay retryable.
func Classify(step string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorFault() == smithy.FaultClient && !retryable[apiErr.ErrorCode()] {
		return domain.Terminal(step, err)
	}
	return err
}

// IsCode reports whether err is an AWS API error with the given code.
func IsCode(err error, code string) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == code
}
