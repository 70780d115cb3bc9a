package vaults

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/systmms/stagevault/internal/logging"
	"github.com/systmms/stagevault/pkg/filter"
	"github.com/systmms/stagevault/pkg/secret"
	"github.com/systmms/stagevault/pkg/vault"
)

// DriverSSM selects the Parameter Store adapter.
const DriverSSM = "aws.ssm"

// SSMClientAPI defines the Parameter Store operations the adapter needs.
// This allows for fakes in tests.
type SSMClientAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
	DeleteParameter(ctx context.Context, params *ssm.DeleteParameterInput, optFns ...func(*ssm.Options)) (*ssm.DeleteParameterOutput, error)
	GetParametersByPath(ctx context.Context, params *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error)
	GetParameterHistory(ctx context.Context, params *ssm.GetParameterHistoryInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterHistoryOutput, error)
}

var ssmErrors = errorTable{
	"ParameterNotFound":           kindNotFound,
	"ParameterVersionNotFound":    kindNotFound,
	"AccessDeniedException":       kindAccessDenied,
	"UnrecognizedClientException": kindAccessDenied,
	"ExpiredTokenException":       kindAccessDenied,
	"InvalidSignatureException":   kindAccessDenied,
	"MissingAuthenticationToken":  kindAccessDenied,
}

// SSMVault is the versioned key-value parameter backend: one string value
// per path, with a linear integer version per path.
type SSMVault struct {
	binding vault.Binding
	client  SSMClientAPI
	logger  *logging.Logger
}

// SSMOption is a functional option for configuring SSM vaults
type SSMOption func(*SSMVault)

// WithSSMClient sets a custom SSM client (for testing)
func WithSSMClient(client SSMClientAPI) SSMOption {
	return func(v *SSMVault) {
		v.client = client
	}
}

// WithSSMLogger sets the logger
func WithSSMLogger(logger *logging.Logger) SSMOption {
	return func(v *SSMVault) {
		v.logger = logger
	}
}

// NewSSMVault creates a Parameter Store vault. The client comes from
// clients unless one is injected with WithSSMClient.
func NewSSMVault(ctx context.Context, b vault.Binding, clients *ClientFactory, opts ...SSMOption) (*SSMVault, error) {
	v := &SSMVault{binding: b, logger: logging.Discard()}
	for _, opt := range opts {
		opt(v)
	}

	if v.client == nil {
		if clients == nil {
			return nil, fmt.Errorf("vault %s: no SSM client available", b.Name)
		}
		client, err := clients.SSM(ctx, AWSSettingsFrom(b))
		if err != nil {
			return nil, fmt.Errorf("failed to create SSM client: %w", err)
		}
		v.client = client
	}

	return v, nil
}

// Name returns the vault name
func (v *SSMVault) Name() string { return v.binding.Name }

// Stage returns the bound stage
func (v *SSMVault) Stage() string { return v.binding.Stage }

// ForStage returns a copy bound to stage that shares the client
func (v *SSMVault) ForStage(stage string) vault.Vault {
	clone := *v
	clone.binding = v.binding.WithStage(stage)
	return &clone
}

// Format returns the logical path for key, without the leading "/" SSM
// requires on hierarchical names.
func (v *SSMVault) Format(key string) string {
	return v.binding.Format(key)
}

// parameterName qualifies a formatted path for the wire. Hierarchical names
// must start with "/"; flat names must not.
func parameterName(path string) string {
	if strings.Contains(path, "/") {
		return "/" + path
	}
	return path
}

func (v *SSMVault) op(op, key, path string) opError {
	return opError{binding: v.binding, op: op, key: key, path: path}
}

// Get fetches and decrypts one parameter
func (v *SSMVault) Get(ctx context.Context, key string) (secret.Secret, error) {
	name := parameterName(v.Format(key))
	v.logger.Debug("Fetching parameter from SSM: %s", logging.Secret(name))

	out, err := v.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return secret.Secret{}, translate(v.op("get", key, name), err, ssmErrors.classify)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return secret.Secret{}, v.op("get", key, name).notFound()
	}

	return v.toSecret(key, out.Parameter), nil
}

func (v *SSMVault) toSecret(key string, p *types.Parameter) secret.Secret {
	return secret.Secret{
		Key:      key,
		Value:    aws.ToString(p.Value),
		Secure:   p.Type == types.ParameterTypeSecureString,
		Stage:    v.binding.Stage,
		Revision: int(p.Version),
		Path:     aws.ToString(p.Name),
		Vault:    v,
	}
}

// Set writes the parameter with Overwrite so create and update are one call,
// then re-reads it for the authoritative version.
func (v *SSMVault) Set(ctx context.Context, key, value string, secure bool) (secret.Secret, error) {
	name := parameterName(v.Format(key))

	paramType := types.ParameterTypeString
	if secure {
		paramType = types.ParameterTypeSecureString
	}

	_, err := v.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(name),
		Value:     aws.String(value),
		Type:      paramType,
		Overwrite: aws.Bool(true),
	}, noRetrySSM)
	if err != nil {
		return secret.Secret{}, translate(v.op("set", key, name), err, ssmErrors.classify)
	}

	return v.Get(ctx, key)
}

// Delete removes the parameter and its history
func (v *SSMVault) Delete(ctx context.Context, key string) error {
	name := parameterName(v.Format(key))

	_, err := v.client.DeleteParameter(ctx, &ssm.DeleteParameterInput{
		Name: aws.String(name),
	}, noRetrySSM)
	return translate(v.op("delete", key, name), err, ssmErrors.classify)
}

// List enumerates every parameter under the stage path, recursively.
// Parameters are read with decryption; when a page is refused because one
// SecureString cannot be decrypted, the page is read again without
// decryption and its SecureStrings are fetched one by one, skipping those
// that stay unreadable.
func (v *SSMVault) List(ctx context.Context) (*secret.Collection, error) {
	base := v.Format("")
	path := "/" + base
	prefix := path
	if base != "" {
		prefix += "/"
	}
	oe := v.op("list", "", path)

	out := secret.NewCollection()
	input := &ssm.GetParametersByPathInput{
		Path:           aws.String(path),
		Recursive:      aws.Bool(true),
		WithDecryption: aws.Bool(true),
	}

	for {
		page, err := v.client.GetParametersByPath(ctx, input)
		if err != nil && aws.ToBool(input.WithDecryption) && vault.IsAccessDenied(translate(oe, err, ssmErrors.classify)) {
			v.logger.Debug("Decryption denied under %s, reading parameters individually", logging.Secret(path))
			input.WithDecryption = aws.Bool(false)
			page, err = v.client.GetParametersByPath(ctx, input)
		}
		if err != nil {
			return nil, translate(oe, err, ssmErrors.classify)
		}

		for i := range page.Parameters {
			p := page.Parameters[i]
			if p.Name == nil || p.Value == nil {
				continue
			}
			key := strings.TrimPrefix(aws.ToString(p.Name), prefix)
			if !aws.ToBool(input.WithDecryption) && p.Type == types.ParameterTypeSecureString {
				s, err := v.Get(ctx, key)
				if err != nil {
					if ctxErr := ctx.Err(); ctxErr != nil {
						return nil, translate(oe, ctxErr, ssmErrors.classify)
					}
					v.logger.Debug("Skipping unreadable parameter %s: %v", logging.Secret(aws.ToString(p.Name)), err)
					continue
				}
				out.Add(s)
				continue
			}
			out.Add(v.toSecret(key, &p))
		}

		if page.NextToken == nil || *page.NextToken == "" {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, translate(oe, err, ssmErrors.classify)
		}
		input.NextToken = page.NextToken
	}

	v.logger.Debug("Listed %d parameters from %s", out.Len(), v.binding.Name)
	return out.SortByKey(), nil
}

// History returns the parameter's version history
func (v *SSMVault) History(ctx context.Context, key string, filters filter.Collection, limit int) (*secret.HistoryCollection, error) {
	name := parameterName(v.Format(key))
	oe := v.op("history", key, name)

	all := secret.NewHistoryCollection()
	input := &ssm.GetParameterHistoryInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
		MaxResults:     aws.Int32(50),
	}

	for {
		page, err := v.client.GetParameterHistory(ctx, input)
		if err != nil {
			return nil, translate(oe, err, ssmErrors.classify)
		}

		for _, p := range page.Parameters {
			all.Add(ssmHistoryEntry(key, p))
		}

		if page.NextToken == nil || *page.NextToken == "" {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, translate(oe, err, ssmErrors.classify)
		}
		input.NextToken = page.NextToken
	}

	if all.Len() == 0 {
		return nil, oe.notFound()
	}
	return vault.ApplyHistory(all, filters, limit), nil
}

func ssmHistoryEntry(key string, p types.ParameterHistory) secret.HistoryEntry {
	policies := make([]string, 0, len(p.Policies))
	for _, pol := range p.Policies {
		if pol.PolicyText != nil {
			policies = append(policies, *pol.PolicyText)
		}
	}

	return secret.HistoryEntry{
		Key:              key,
		Value:            aws.ToString(p.Value),
		Version:          int(p.Version),
		LastModifiedDate: p.LastModifiedDate,
		LastModifiedUser: aws.ToString(p.LastModifiedUser),
		DataType:         aws.ToString(p.DataType),
		Labels:           p.Labels,
		Policies:         strings.Join(policies, "\n"),
		Description:      aws.ToString(p.Description),
		Secure:           p.Type == types.ParameterTypeSecureString,
	}
}

// noRetrySSM disables SDK retries on mutating calls.
func noRetrySSM(o *ssm.Options) {
	o.RetryMaxAttempts = 1
}
