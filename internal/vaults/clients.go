package vaults

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/systmms/stagevault/internal/logging"
	"github.com/systmms/stagevault/pkg/vault"
)

// AWSSettings are the driver settings shared by the AWS adapters.
type AWSSettings struct {
	Region          string
	Profile         string
	AssumeRole      string
	Endpoint        string // Optional custom endpoint for LocalStack or testing
	AccessKeyID     string
	SecretAccessKey string
}

// AWSSettingsFrom reads the AWS settings of a binding.
func AWSSettingsFrom(b vault.Binding) AWSSettings {
	return AWSSettings{
		Region:          b.Setting("region"),
		Profile:         b.Setting("profile"),
		AssumeRole:      b.Setting("assume_role"),
		Endpoint:        b.Setting("endpoint"),
		AccessKeyID:     b.Setting("access_key_id"),
		SecretAccessKey: b.Setting("secret_access_key"),
	}
}

func (s AWSSettings) cacheKey() string {
	return strings.Join([]string{s.Region, s.Profile, s.AssumeRole, s.Endpoint, s.AccessKeyID}, "|")
}

// ConfigLoader loads an AWS configuration. Tests replace it to avoid
// touching the environment.
type ConfigLoader func(ctx context.Context, s AWSSettings) (aws.Config, error)

// ClientFactory hands out one SDK client per distinct backend configuration.
// Every Vault built from the same settings shares the client, regardless of
// stage.
type ClientFactory struct {
	load   ConfigLoader
	logger *logging.Logger

	mu      sync.Mutex
	configs map[string]aws.Config
	ssm     map[string]*ssm.Client
	sm      map[string]*secretsmanager.Client
}

// NewClientFactory creates a factory that loads configuration with
// LoadAWSConfig.
func NewClientFactory(logger *logging.Logger) *ClientFactory {
	return NewClientFactoryWithLoader(LoadAWSConfig, logger)
}

// NewClientFactoryWithLoader creates a factory with a custom loader.
func NewClientFactoryWithLoader(load ConfigLoader, logger *logging.Logger) *ClientFactory {
	if logger == nil {
		logger = logging.Discard()
	}
	return &ClientFactory{
		load:    load,
		logger:  logger,
		configs: make(map[string]aws.Config),
		ssm:     make(map[string]*ssm.Client),
		sm:      make(map[string]*secretsmanager.Client),
	}
}

// SSM returns the Parameter Store client for s.
func (f *ClientFactory) SSM(ctx context.Context, s AWSSettings) (*ssm.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := s.cacheKey()
	if c, ok := f.ssm[key]; ok {
		return c, nil
	}
	cfg, err := f.configLocked(ctx, s)
	if err != nil {
		return nil, err
	}

	var opts []func(*ssm.Options)
	if s.Endpoint != "" {
		endpoint := s.Endpoint
		opts = append(opts, func(o *ssm.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	c := ssm.NewFromConfig(cfg, opts...)
	f.ssm[key] = c
	return c, nil
}

// SecretsManager returns the Secrets Manager client for s.
func (f *ClientFactory) SecretsManager(ctx context.Context, s AWSSettings) (*secretsmanager.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := s.cacheKey()
	if c, ok := f.sm[key]; ok {
		return c, nil
	}
	cfg, err := f.configLocked(ctx, s)
	if err != nil {
		return nil, err
	}

	var opts []func(*secretsmanager.Options)
	if s.Endpoint != "" {
		endpoint := s.Endpoint
		opts = append(opts, func(o *secretsmanager.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	c := secretsmanager.NewFromConfig(cfg, opts...)
	f.sm[key] = c
	return c, nil
}

func (f *ClientFactory) configLocked(ctx context.Context, s AWSSettings) (aws.Config, error) {
	key := s.cacheKey()
	if cfg, ok := f.configs[key]; ok {
		return cfg, nil
	}

	f.logger.Debug("Loading AWS config (region=%q profile=%q)", s.Region, s.Profile)
	cfg, err := f.load(ctx, s)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	f.configs[key] = cfg
	return cfg, nil
}

// LoadAWSConfig loads the default AWS configuration chain, narrowed by
// region, profile and static credentials, and wraps the credentials in an
// assumed role when one is configured.
func LoadAWSConfig(ctx context.Context, s AWSSettings) (aws.Config, error) {
	var configOpts []func(*awsconfig.LoadOptions) error

	if s.Region != "" {
		configOpts = append(configOpts, awsconfig.WithRegion(s.Region))
	}
	if s.Profile != "" {
		configOpts = append(configOpts, awsconfig.WithSharedConfigProfile(s.Profile))
	}
	// Use static credentials if provided (for LocalStack/testing)
	if s.AccessKeyID != "" && s.SecretAccessKey != "" {
		configOpts = append(configOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.AccessKeyID, s.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return aws.Config{}, err
	}

	if s.AssumeRole != "" {
		stsClient := sts.NewFromConfig(cfg)
		cfg.Credentials = aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(stsClient, s.AssumeRole,
			func(o *stscreds.AssumeRoleOptions) {
				o.RoleSessionName = "stagevault"
			}))
	}

	return cfg, nil
}
