package fakes

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/smithy-go"
)

// AccessDenied returns the error AWS services send for IAM denials.
func AccessDenied(action string) error {
	return &smithy.GenericAPIError{
		Code:    "AccessDeniedException",
		Message: fmt.Sprintf("User is not authorized to perform: %s", action),
	}
}

// Throttled returns the error AWS services send when rate limited.
func Throttled() error {
	return &smithy.GenericAPIError{Code: "ThrottlingException", Message: "Rate exceeded"}
}

// clock hands out strictly increasing timestamps.
type clock struct {
	base time.Time
	tick int
}

func (c *clock) next() time.Time {
	c.tick++
	return c.base.Add(time.Duration(c.tick) * time.Second)
}

func defaultClock() clock {
	return clock{base: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func pageBounds(token *string, total, size int) (start, end int, next *string) {
	if token != nil {
		start, _ = strconv.Atoi(*token)
	}
	if start > total {
		start = total
	}
	end = total
	if size > 0 && start+size < total {
		end = start + size
		next = aws.String(strconv.Itoa(end))
	}
	return start, end, next
}

// FakeSSMClient is a stateful in-memory Parameter Store.
type FakeSSMClient struct {
	mu sync.Mutex

	// Parameters maps names to their versions, oldest first
	Parameters map[string][]ssmtypes.ParameterHistory
	// Errors maps parameter names (or list paths) to errors to return
	Errors map[string]error
	// DecryptDenied lists SecureString parameters whose KMS key the caller
	// cannot use; reading them with decryption is refused
	DecryptDenied map[string]bool
	// PageSize bounds GetParametersByPath and GetParameterHistory pages
	PageSize int
	// Calls counts calls per operation
	Calls map[string]int
	// RetryMaxAttempts records the retry setting each operation was called with
	RetryMaxAttempts map[string]int
	// GetParametersByPathFunc allows custom behavior for GetParametersByPath
	GetParametersByPathFunc func(ctx context.Context, params *ssm.GetParametersByPathInput) (*ssm.GetParametersByPathOutput, error)

	clock clock
}

// NewFakeSSMClient creates an empty fake
func NewFakeSSMClient() *FakeSSMClient {
	return &FakeSSMClient{
		Parameters:       make(map[string][]ssmtypes.ParameterHistory),
		Errors:           make(map[string]error),
		DecryptDenied:    make(map[string]bool),
		Calls:            make(map[string]int),
		RetryMaxAttempts: make(map[string]int),
		clock:            defaultClock(),
	}
}

// AddParameter appends a version of name directly, bypassing PutParameter
func (f *FakeSSMClient) AddParameter(name, value string, secure bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendLocked(name, value, secure, nil)
}

// AddError configures the fake to return err for a name or list path
func (f *FakeSSMClient) AddError(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[name] = err
}

// CallCount returns how many times op was called
func (f *FakeSSMClient) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[op]
}

func (f *FakeSSMClient) record(op string, optFns []func(*ssm.Options)) {
	f.Calls[op]++
	var o ssm.Options
	for _, fn := range optFns {
		fn(&o)
	}
	f.RetryMaxAttempts[op] = o.RetryMaxAttempts
}

func (f *FakeSSMClient) appendLocked(name, value string, secure bool, description *string) ssmtypes.ParameterHistory {
	paramType := ssmtypes.ParameterTypeString
	if secure {
		paramType = ssmtypes.ParameterTypeSecureString
	}
	versions := f.Parameters[name]
	modified := f.clock.next()
	p := ssmtypes.ParameterHistory{
		Name:             aws.String(name),
		Value:            aws.String(value),
		Type:             paramType,
		Version:          int64(len(versions) + 1),
		LastModifiedDate: &modified,
		LastModifiedUser: aws.String("arn:aws:iam::123456789012:user/tester"),
		DataType:         aws.String("text"),
		Description:      description,
	}
	if n := len(versions); n > 0 {
		p.Version = versions[n-1].Version + 1
	}
	f.Parameters[name] = append(versions, p)
	return p
}

// ciphertext stands in for the encrypted blob SSM returns for a SecureString
// read without decryption
const ciphertext = "AQICAHh-encrypted"

func (f *FakeSSMClient) decryptDeniedLocked(p ssmtypes.Parameter) bool {
	return p.Type == ssmtypes.ParameterTypeSecureString && f.DecryptDenied[aws.ToString(p.Name)]
}

func parameterNotFound(name string) error {
	return &ssmtypes.ParameterNotFound{Message: aws.String(fmt.Sprintf("Parameter %s not found.", name))}
}

func toParameter(p ssmtypes.ParameterHistory) ssmtypes.Parameter {
	return ssmtypes.Parameter{
		Name:             p.Name,
		Value:            p.Value,
		Type:             p.Type,
		Version:          p.Version,
		LastModifiedDate: p.LastModifiedDate,
		DataType:         p.DataType,
	}
}

// GetParameter returns the latest version
func (f *FakeSSMClient) GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetParameter", optFns)

	name := aws.ToString(params.Name)
	if err, ok := f.Errors[name]; ok {
		return nil, err
	}
	versions := f.Parameters[name]
	if len(versions) == 0 {
		return nil, parameterNotFound(name)
	}
	p := toParameter(versions[len(versions)-1])
	if f.decryptDeniedLocked(p) {
		if aws.ToBool(params.WithDecryption) {
			return nil, AccessDenied("kms:Decrypt")
		}
		p.Value = aws.String(ciphertext)
	}
	return &ssm.GetParameterOutput{Parameter: &p}, nil
}

// PutParameter appends a version
func (f *FakeSSMClient) PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("PutParameter", optFns)

	name := aws.ToString(params.Name)
	if err, ok := f.Errors[name]; ok {
		return nil, err
	}
	if len(f.Parameters[name]) > 0 && !aws.ToBool(params.Overwrite) {
		return nil, &ssmtypes.ParameterAlreadyExists{Message: aws.String("The parameter already exists.")}
	}
	p := f.appendLocked(name, aws.ToString(params.Value), params.Type == ssmtypes.ParameterTypeSecureString, params.Description)
	return &ssm.PutParameterOutput{Version: p.Version, Tier: ssmtypes.ParameterTierStandard}, nil
}

// DeleteParameter removes a parameter and its history
func (f *FakeSSMClient) DeleteParameter(ctx context.Context, params *ssm.DeleteParameterInput, optFns ...func(*ssm.Options)) (*ssm.DeleteParameterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteParameter", optFns)

	name := aws.ToString(params.Name)
	if err, ok := f.Errors[name]; ok {
		return nil, err
	}
	if len(f.Parameters[name]) == 0 {
		return nil, parameterNotFound(name)
	}
	delete(f.Parameters, name)
	return &ssm.DeleteParameterOutput{}, nil
}

// GetParametersByPath lists parameters under a path, in name order
func (f *FakeSSMClient) GetParametersByPath(ctx context.Context, params *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error) {
	if f.GetParametersByPathFunc != nil {
		f.mu.Lock()
		f.record("GetParametersByPath", optFns)
		f.mu.Unlock()
		return f.GetParametersByPathFunc(ctx, params)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetParametersByPath", optFns)

	path := aws.ToString(params.Path)
	if err, ok := f.Errors[path]; ok {
		return nil, err
	}
	prefix := strings.TrimSuffix(path, "/") + "/"

	var names []string
	for name, versions := range f.Parameters {
		if len(versions) == 0 {
			continue
		}
		rel, ok := strings.CutPrefix(name, prefix)
		if !ok {
			if path != "/" {
				continue
			}
			rel = name
		}
		if !aws.ToBool(params.Recursive) && strings.Contains(rel, "/") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	start, end, next := pageBounds(params.NextToken, len(names), f.PageSize)
	out := &ssm.GetParametersByPathOutput{NextToken: next}
	for _, name := range names[start:end] {
		versions := f.Parameters[name]
		p := toParameter(versions[len(versions)-1])
		if f.decryptDeniedLocked(p) {
			if aws.ToBool(params.WithDecryption) {
				return nil, AccessDenied("kms:Decrypt")
			}
			p.Value = aws.String(ciphertext)
		}
		out.Parameters = append(out.Parameters, p)
	}
	return out, nil
}

// GetParameterHistory returns every version, oldest first
func (f *FakeSSMClient) GetParameterHistory(ctx context.Context, params *ssm.GetParameterHistoryInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterHistoryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetParameterHistory", optFns)

	name := aws.ToString(params.Name)
	if err, ok := f.Errors[name]; ok {
		return nil, err
	}
	versions := f.Parameters[name]
	if len(versions) == 0 {
		return nil, parameterNotFound(name)
	}

	size := f.PageSize
	if params.MaxResults != nil && (size == 0 || int(*params.MaxResults) < size) {
		size = int(*params.MaxResults)
	}
	start, end, next := pageBounds(params.NextToken, len(versions), size)
	return &ssm.GetParameterHistoryOutput{
		Parameters: append([]ssmtypes.ParameterHistory(nil), versions[start:end]...),
		NextToken:  next,
	}, nil
}

// FakeSecretVersion is one stored version of a fake secret
type FakeSecretVersion struct {
	ID      string
	Value   *string
	Binary  []byte
	Created time.Time
	Stages  []string
}

// FakeSecret is a fake Secrets Manager secret
type FakeSecret struct {
	Versions    []*FakeSecretVersion
	DeletedDate *time.Time
}

func (s *FakeSecret) current() *FakeSecretVersion {
	for _, v := range s.Versions {
		for _, stage := range v.Stages {
			if stage == "AWSCURRENT" {
				return v
			}
		}
	}
	return nil
}

// FakeSecretsManagerClient is a stateful in-memory Secrets Manager
type FakeSecretsManagerClient struct {
	mu sync.Mutex

	// Secrets maps secret names to their data
	Secrets map[string]*FakeSecret
	// Errors maps secret names to errors to return
	Errors map[string]error
	// ValueErrors maps secret names to errors returned only by GetSecretValue
	ValueErrors map[string]error
	// PageSize bounds ListSecrets and ListSecretVersionIds pages
	PageSize int
	// Calls counts calls per operation
	Calls map[string]int
	// RetryMaxAttempts records the retry setting each operation was called with
	RetryMaxAttempts map[string]int

	clock   clock
	counter int
}

// NewFakeSecretsManagerClient creates an empty fake
func NewFakeSecretsManagerClient() *FakeSecretsManagerClient {
	return &FakeSecretsManagerClient{
		Secrets:          make(map[string]*FakeSecret),
		Errors:           make(map[string]error),
		ValueErrors:      make(map[string]error),
		Calls:            make(map[string]int),
		RetryMaxAttempts: make(map[string]int),
		clock:            defaultClock(),
	}
}

// AddSecretString creates name or stores a new version of it
func (f *FakeSecretsManagerClient) AddSecretString(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putLocked(name, aws.String(value), nil, "")
}

// AddSecretBinary creates name or stores a new binary version of it
func (f *FakeSecretsManagerClient) AddSecretBinary(name string, value []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putLocked(name, nil, value, "")
}

// MarkForDeletion schedules name for deletion, as DeleteSecret with a
// recovery window would
func (f *FakeSecretsManagerClient) MarkForDeletion(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.Secrets[name]; ok {
		deleted := f.clock.next()
		s.DeletedDate = &deleted
	}
}

// PruneVersions drops all but the newest keep versions of name, as the
// backend does once a secret accumulates too many deprecated versions
func (f *FakeSecretsManagerClient) PruneVersions(name string, keep int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.Secrets[name]; ok && len(s.Versions) > keep {
		s.Versions = append([]*FakeSecretVersion(nil), s.Versions[len(s.Versions)-keep:]...)
	}
}

// AddError configures the fake to return err for every call on name
func (f *FakeSecretsManagerClient) AddError(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[name] = err
}

// CallCount returns how many times op was called
func (f *FakeSecretsManagerClient) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[op]
}

func (f *FakeSecretsManagerClient) record(op string, optFns []func(*secretsmanager.Options)) {
	f.Calls[op]++
	var o secretsmanager.Options
	for _, fn := range optFns {
		fn(&o)
	}
	f.RetryMaxAttempts[op] = o.RetryMaxAttempts
}

func (f *FakeSecretsManagerClient) putLocked(name string, value *string, binary []byte, token string) *FakeSecretVersion {
	s, ok := f.Secrets[name]
	if !ok {
		s = &FakeSecret{}
		f.Secrets[name] = s
	}

	for _, v := range s.Versions {
		v.Stages = removeStage(v.Stages, "AWSPREVIOUS")
	}
	if cur := s.current(); cur != nil {
		cur.Stages = append(removeStage(cur.Stages, "AWSCURRENT"), "AWSPREVIOUS")
	}

	f.counter++
	id := token
	if id == "" {
		id = fmt.Sprintf("%08x-0000-4000-8000-%012x", f.counter*7919, f.counter)
	}
	v := &FakeSecretVersion{
		ID:      id,
		Value:   value,
		Binary:  binary,
		Created: f.clock.next(),
		Stages:  []string{"AWSCURRENT"},
	}
	s.Versions = append(s.Versions, v)
	return v
}

func removeStage(stages []string, stage string) []string {
	out := stages[:0:0]
	for _, s := range stages {
		if s != stage {
			out = append(out, s)
		}
	}
	return out
}

func resourceNotFound() error {
	return &smtypes.ResourceNotFoundException{
		Message: aws.String("Secrets Manager can't find the specified secret."),
	}
}

func markedForDeletion() error {
	return &smtypes.InvalidRequestException{
		Message: aws.String("You can't perform this operation on the secret because it was marked for deletion."),
	}
}

func (f *FakeSecretsManagerClient) lookupLocked(name string) (*FakeSecret, error) {
	if err, ok := f.Errors[name]; ok {
		return nil, err
	}
	s, ok := f.Secrets[name]
	if !ok {
		return nil, resourceNotFound()
	}
	return s, nil
}

// GetSecretValue returns the AWSCURRENT version or the requested one
func (f *FakeSecretsManagerClient) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetSecretValue", optFns)

	name := aws.ToString(params.SecretId)
	s, err := f.lookupLocked(name)
	if err != nil {
		return nil, err
	}
	if err, ok := f.ValueErrors[name]; ok {
		return nil, err
	}
	if s.DeletedDate != nil {
		return nil, markedForDeletion()
	}

	var v *FakeSecretVersion
	if id := aws.ToString(params.VersionId); id != "" {
		for _, candidate := range s.Versions {
			if candidate.ID == id {
				v = candidate
			}
		}
	} else {
		v = s.current()
	}
	if v == nil {
		return nil, resourceNotFound()
	}

	created := v.Created
	return &secretsmanager.GetSecretValueOutput{
		ARN:           aws.String(fmt.Sprintf("arn:aws:secretsmanager:us-east-1:123456789012:secret:%s", name)),
		Name:          aws.String(name),
		SecretString:  v.Value,
		SecretBinary:  v.Binary,
		VersionId:     aws.String(v.ID),
		VersionStages: append([]string(nil), v.Stages...),
		CreatedDate:   &created,
	}, nil
}

// DescribeSecret reports metadata for an existing secret
func (f *FakeSecretsManagerClient) DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DescribeSecret", optFns)

	name := aws.ToString(params.SecretId)
	s, err := f.lookupLocked(name)
	if err != nil {
		return nil, err
	}

	stages := make(map[string][]string, len(s.Versions))
	for _, v := range s.Versions {
		stages[v.ID] = append([]string(nil), v.Stages...)
	}
	return &secretsmanager.DescribeSecretOutput{
		Name:               aws.String(name),
		DeletedDate:        s.DeletedDate,
		VersionIdsToStages: stages,
	}, nil
}

// CreateSecret creates a secret with its first version
func (f *FakeSecretsManagerClient) CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateSecret", optFns)

	name := aws.ToString(params.Name)
	if err, ok := f.Errors[name]; ok {
		return nil, err
	}
	if _, exists := f.Secrets[name]; exists {
		return nil, &smtypes.ResourceExistsException{
			Message: aws.String(fmt.Sprintf("The operation failed because the secret %s already exists.", name)),
		}
	}
	v := f.putLocked(name, params.SecretString, params.SecretBinary, aws.ToString(params.ClientRequestToken))
	return &secretsmanager.CreateSecretOutput{Name: aws.String(name), VersionId: aws.String(v.ID)}, nil
}

// PutSecretValue stores a new version of an existing secret
func (f *FakeSecretsManagerClient) PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("PutSecretValue", optFns)

	name := aws.ToString(params.SecretId)
	s, err := f.lookupLocked(name)
	if err != nil {
		return nil, err
	}
	if s.DeletedDate != nil {
		return nil, markedForDeletion()
	}
	v := f.putLocked(name, params.SecretString, params.SecretBinary, aws.ToString(params.ClientRequestToken))
	return &secretsmanager.PutSecretValueOutput{Name: aws.String(name), VersionId: aws.String(v.ID)}, nil
}

// DeleteSecret removes a secret, immediately when ForceDeleteWithoutRecovery
// is set and by marking it otherwise
func (f *FakeSecretsManagerClient) DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteSecret", optFns)

	name := aws.ToString(params.SecretId)
	s, err := f.lookupLocked(name)
	if err != nil {
		return nil, err
	}
	deleted := f.clock.next()
	if aws.ToBool(params.ForceDeleteWithoutRecovery) {
		delete(f.Secrets, name)
	} else {
		s.DeletedDate = &deleted
	}
	return &secretsmanager.DeleteSecretOutput{Name: aws.String(name), DeletionDate: &deleted}, nil
}

// ListSecrets lists secrets in name order, honoring name prefix filters
func (f *FakeSecretsManagerClient) ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListSecrets", optFns)

	var prefixes []string
	for _, filter := range params.Filters {
		if filter.Key == smtypes.FilterNameStringTypeName {
			prefixes = append(prefixes, filter.Values...)
		}
	}
	for _, p := range prefixes {
		if err, ok := f.Errors[p]; ok {
			return nil, err
		}
	}

	var names []string
	for name := range f.Secrets {
		if len(prefixes) == 0 || hasAnyPrefix(name, prefixes) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	start, end, next := pageBounds(params.NextToken, len(names), f.PageSize)
	out := &secretsmanager.ListSecretsOutput{NextToken: next}
	for _, name := range names[start:end] {
		s := f.Secrets[name]
		stages := make(map[string][]string, len(s.Versions))
		for _, v := range s.Versions {
			stages[v.ID] = append([]string(nil), v.Stages...)
		}
		out.SecretList = append(out.SecretList, smtypes.SecretListEntry{
			Name:                   aws.String(name),
			DeletedDate:            s.DeletedDate,
			SecretVersionsToStages: stages,
		})
	}
	return out, nil
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// ListSecretVersionIds lists versions in creation order
func (f *FakeSecretsManagerClient) ListSecretVersionIds(ctx context.Context, params *secretsmanager.ListSecretVersionIdsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretVersionIdsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListSecretVersionIds", optFns)

	name := aws.ToString(params.SecretId)
	s, err := f.lookupLocked(name)
	if err != nil {
		return nil, err
	}

	var versions []smtypes.SecretVersionsListEntry
	for _, v := range s.Versions {
		if len(v.Stages) == 0 && !aws.ToBool(params.IncludeDeprecated) {
			continue
		}
		created := v.Created
		versions = append(versions, smtypes.SecretVersionsListEntry{
			VersionId:     aws.String(v.ID),
			VersionStages: append([]string(nil), v.Stages...),
			CreatedDate:   &created,
		})
	}

	start, end, next := pageBounds(params.NextToken, len(versions), f.PageSize)
	return &secretsmanager.ListSecretVersionIdsOutput{
		Name:      aws.String(name),
		Versions:  versions[start:end],
		NextToken: next,
	}, nil
}
