package mainconfig

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/missedcall-booking/internal/config"
)

// LoadAWSConfig builds the SDK config shared by the API and the outbound
// worker. Static keys win over the default chain when both are set.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}
	key, secret := strings.TrimSpace(cfg.AWSAccessKeyID), strings.TrimSpace(cfg.AWSSecretAccessKey)
	if key != "" && secret != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(key, secret, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("mainconfig: load aws config: %w", err)
	}
	return awsCfg, nil
}

// NewSQSClient points the client at AWS_ENDPOINT_OVERRIDE when set (LocalStack).
func NewSQSClient(awsCfg aws.Config, cfg *appconfig.Config) *sqs.Client {
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if endpoint := endpointOverride(cfg); endpoint != nil {
			o.BaseEndpoint = endpoint
		}
	})
}

// NewSESClient points the client at AWS_ENDPOINT_OVERRIDE when set (LocalStack).
func NewSESClient(awsCfg aws.Config, cfg *appconfig.Config) *sesv2.Client {
	return sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
		if endpoint := endpointOverride(cfg); endpoint != nil {
			o.BaseEndpoint = endpoint
		}
	})
}

func endpointOverride(cfg *appconfig.Config) *string {
	endpoint := strings.TrimSpace(cfg.AWSEndpointOverride)
	if endpoint == "" {
		return nil
	}
	return aws.String(endpoint)
}
