package vaults

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/systmms/stagevault/internal/logging"
	"github.com/systmms/stagevault/pkg/filter"
	"github.com/systmms/stagevault/pkg/secret"
	"github.com/systmms/stagevault/pkg/vault"
)

// DriverSecretsManager selects the Secrets Manager adapter.
const DriverSecretsManager = "aws.secretsmanager"

// SecretsManagerClientAPI defines the Secrets Manager operations the adapter
// needs. This allows for fakes in tests.
type SecretsManagerClientAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error)
	ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error)
	ListSecretVersionIds(ctx context.Context, params *secretsmanager.ListSecretVersionIdsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretVersionIdsOutput, error)
}

var secretsManagerErrors = errorTable{
	"ResourceNotFoundException":   kindNotFound,
	"AccessDeniedException":       kindAccessDenied,
	"UnrecognizedClientException": kindAccessDenied,
	"ExpiredTokenException":       kindAccessDenied,
	"InvalidSignatureException":   kindAccessDenied,
	"MissingAuthenticationToken":  kindAccessDenied,
}

// classifySecretsManager treats secrets scheduled for deletion as absent.
// The backend reports them as InvalidRequestException.
func classifySecretsManager(code, message string) errorKind {
	if code == "InvalidRequestException" && strings.Contains(strings.ToLower(message), "marked for deletion") {
		return kindNotFound
	}
	return secretsManagerErrors.classify(code, message)
}

// SecretsManagerVault is the managed structured-secret backend. Secrets are
// named blobs with opaque version IDs; the adapter turns them into integer
// revisions by ordering versions by creation date.
type SecretsManagerVault struct {
	binding vault.Binding
	client  SecretsManagerClientAPI
	logger  *logging.Logger
}

// SecretsManagerOption is a functional option for configuring Secrets Manager vaults
type SecretsManagerOption func(*SecretsManagerVault)

// WithSecretsManagerClient sets a custom Secrets Manager client (for testing)
func WithSecretsManagerClient(client SecretsManagerClientAPI) SecretsManagerOption {
	return func(v *SecretsManagerVault) {
		v.client = client
	}
}

// WithSecretsManagerLogger sets the logger
func WithSecretsManagerLogger(logger *logging.Logger) SecretsManagerOption {
	return func(v *SecretsManagerVault) {
		v.logger = logger
	}
}

// NewSecretsManagerVault creates a Secrets Manager vault
func NewSecretsManagerVault(ctx context.Context, b vault.Binding, clients *ClientFactory, opts ...SecretsManagerOption) (*SecretsManagerVault, error) {
	v := &SecretsManagerVault{binding: b, logger: logging.Discard()}
	for _, opt := range opts {
		opt(v)
	}

	if v.client == nil {
		if clients == nil {
			return nil, fmt.Errorf("vault %s: no Secrets Manager client available", b.Name)
		}
		client, err := clients.SecretsManager(ctx, AWSSettingsFrom(b))
		if err != nil {
			return nil, fmt.Errorf("failed to create Secrets Manager client: %w", err)
		}
		v.client = client
	}

	return v, nil
}

// Name returns the vault name
func (v *SecretsManagerVault) Name() string { return v.binding.Name }

// Stage returns the bound stage
func (v *SecretsManagerVault) Stage() string { return v.binding.Stage }

// ForStage returns a copy bound to stage that shares the client
func (v *SecretsManagerVault) ForStage(stage string) vault.Vault {
	clone := *v
	clone.binding = v.binding.WithStage(stage)
	return &clone
}

// Format returns the secret name for key
func (v *SecretsManagerVault) Format(key string) string {
	return v.binding.Format(key)
}

func (v *SecretsManagerVault) op(op, key, path string) opError {
	return opError{binding: v.binding, op: op, key: key, path: path}
}

// Get fetches the current version of a secret
func (v *SecretsManagerVault) Get(ctx context.Context, key string) (secret.Secret, error) {
	name := v.Format(key)
	oe := v.op("get", key, name)
	v.logger.Debug("Fetching secret from Secrets Manager: %s", logging.Secret(name))

	out, err := v.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return secret.Secret{}, translate(oe, err, classifySecretsManager)
	}

	versions, err := v.versions(ctx, oe)
	if err != nil {
		return secret.Secret{}, err
	}

	return secret.Secret{
		Key:      key,
		Value:    secretValueString(out.SecretString, out.SecretBinary),
		Secure:   true,
		Stage:    v.binding.Stage,
		Revision: revisionOf(versions, aws.ToString(out.VersionId)),
		Path:     name,
		Vault:    v,
	}, nil
}

// Set creates the secret when it does not exist and stores a new version
// otherwise. The backend separates the two, so existence is probed first.
func (v *SecretsManagerVault) Set(ctx context.Context, key, value string, _ bool) (secret.Secret, error) {
	name := v.Format(key)
	oe := v.op("set", key, name)

	_, err := v.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(name),
	})
	switch {
	case err == nil:
		var versions []types.SecretVersionsListEntry
		if versions, err = v.versions(ctx, oe); err != nil {
			return secret.Secret{}, err
		}
		next := 1
		if revs := revisions(versions); len(revs) > 0 {
			next = revs[len(revs)-1] + 1
		}
		_, err = v.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
			SecretId:           aws.String(name),
			SecretString:       aws.String(value),
			ClientRequestToken: aws.String(versionToken(next)),
		}, noRetrySecretsManager)
	case vault.IsNotFound(translate(oe, err, classifySecretsManager)):
		v.logger.Debug("Creating secret %s", logging.Secret(name))
		_, err = v.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
			Name:               aws.String(name),
			SecretString:       aws.String(value),
			ClientRequestToken: aws.String(versionToken(1)),
		}, noRetrySecretsManager)
	}
	if err != nil {
		return secret.Secret{}, translate(oe, err, classifySecretsManager)
	}

	return v.Get(ctx, key)
}

// Delete removes the secret without a recovery window
func (v *SecretsManagerVault) Delete(ctx context.Context, key string) error {
	name := v.Format(key)

	_, err := v.client.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:                   aws.String(name),
		ForceDeleteWithoutRecovery: aws.Bool(true),
	}, noRetrySecretsManager)
	return translate(v.op("delete", key, name), err, classifySecretsManager)
}

// List enumerates secrets whose name starts with the stage prefix. Secrets
// whose value cannot be read are skipped.
func (v *SecretsManagerVault) List(ctx context.Context) (*secret.Collection, error) {
	base := v.Format("")
	prefix := base
	if prefix != "" {
		prefix += "/"
	}
	oe := v.op("list", "", base)

	input := &secretsmanager.ListSecretsInput{}
	if prefix != "" {
		input.Filters = []types.Filter{{
			Key:    types.FilterNameStringTypeName,
			Values: []string{prefix},
		}}
	}

	var names []string
	for {
		page, err := v.client.ListSecrets(ctx, input)
		if err != nil {
			return nil, translate(oe, err, classifySecretsManager)
		}
		for _, entry := range page.SecretList {
			name := aws.ToString(entry.Name)
			if entry.DeletedDate != nil || !strings.HasPrefix(name, prefix) {
				continue
			}
			names = append(names, name)
		}

		if page.NextToken == nil || *page.NextToken == "" {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, translate(oe, err, classifySecretsManager)
		}
		input.NextToken = page.NextToken
	}

	out := secret.NewCollection()
	for _, name := range names {
		key := strings.TrimPrefix(name, prefix)
		s, err := v.Get(ctx, key)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, translate(oe, ctxErr, classifySecretsManager)
			}
			v.logger.Debug("Skipping unreadable secret %s: %v", logging.Secret(name), err)
			continue
		}
		out.Add(s)
	}

	return out.SortByKey(), nil
}

// History returns every retained version of the secret, including
// deprecated ones.
func (v *SecretsManagerVault) History(ctx context.Context, key string, filters filter.Collection, limit int) (*secret.HistoryCollection, error) {
	name := v.Format(key)
	oe := v.op("history", key, name)

	versions, err := v.versions(ctx, oe)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, oe.notFound()
	}

	revs := revisions(versions)
	all := secret.NewHistoryCollection()
	for i, ver := range versions {
		out, err := v.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
			SecretId:  aws.String(name),
			VersionId: ver.VersionId,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, translate(oe, ctxErr, classifySecretsManager)
			}
			v.logger.Debug("Skipping unreadable version %s of %s", aws.ToString(ver.VersionId), logging.Secret(name))
			continue
		}

		dataType := "text"
		if out.SecretString == nil && out.SecretBinary != nil {
			dataType = "binary"
		}
		all.Add(secret.HistoryEntry{
			Key:              key,
			Value:            secretValueString(out.SecretString, out.SecretBinary),
			Version:          revs[i],
			LastModifiedDate: ver.CreatedDate,
			DataType:         dataType,
			Labels:           ver.VersionStages,
			Secure:           true,
		})
	}

	return vault.ApplyHistory(all, filters, limit), nil
}

// versions lists every version of the secret, oldest first.
func (v *SecretsManagerVault) versions(ctx context.Context, oe opError) ([]types.SecretVersionsListEntry, error) {
	input := &secretsmanager.ListSecretVersionIdsInput{
		SecretId:          aws.String(oe.path),
		IncludeDeprecated: aws.Bool(true),
	}

	var versions []types.SecretVersionsListEntry
	for {
		page, err := v.client.ListSecretVersionIds(ctx, input)
		if err != nil {
			return nil, translate(oe, err, classifySecretsManager)
		}
		versions = append(versions, page.Versions...)

		if page.NextToken == nil || *page.NextToken == "" {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, translate(oe, err, classifySecretsManager)
		}
		input.NextToken = page.NextToken
	}

	sort.SliceStable(versions, func(i, j int) bool {
		a, b := versions[i].CreatedDate, versions[j].CreatedDate
		if a == nil || b == nil {
			return a == nil && b != nil
		}
		return a.Before(*b)
	})
	return versions, nil
}

// versionTokenPrefix marks version IDs written by this adapter. The ID
// carries the revision so that it survives the backend pruning old versions.
const versionTokenPrefix = "stagevault-r"

// versionToken builds a ClientRequestToken (32 to 64 characters) for rev.
func versionToken(rev int) string {
	suffix := make([]byte, 8)
	_, _ = rand.Read(suffix)
	return fmt.Sprintf("%s%012d-%s", versionTokenPrefix, rev, hex.EncodeToString(suffix))
}

// tokenRevision extracts the revision from a version ID built by
// versionToken, or returns 0.
func tokenRevision(versionID string) int {
	rest, ok := strings.CutPrefix(versionID, versionTokenPrefix)
	if !ok {
		return 0
	}
	digits, _, ok := strings.Cut(rest, "-")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// revisions numbers versions, oldest first. A version written by this
// adapter keeps the revision embedded in its ID; any other version gets one
// more than its predecessor, so the numbering never decreases.
func revisions(versions []types.SecretVersionsListEntry) []int {
	out := make([]int, len(versions))
	prev := 0
	for i, ver := range versions {
		rev := prev + 1
		if embedded := tokenRevision(aws.ToString(ver.VersionId)); embedded > rev {
			rev = embedded
		}
		out[i] = rev
		prev = rev
	}
	return out
}

// revisionOf is the revision of versionID. Unknown IDs get the newest
// revision.
func revisionOf(versions []types.SecretVersionsListEntry, versionID string) int {
	revs := revisions(versions)
	for i, ver := range versions {
		if aws.ToString(ver.VersionId) == versionID {
			return revs[i]
		}
	}
	if len(revs) == 0 {
		return 1
	}
	return revs[len(revs)-1]
}

func secretValueString(s *string, b []byte) string {
	if s != nil {
		return *s
	}
	return string(b)
}

// noRetrySecretsManager disables SDK retries on mutating calls.
func noRetrySecretsManager(o *secretsmanager.Options) {
	o.RetryMaxAttempts = 1
}
