package cache

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"

	dserrors "github.com/systmms/stagevault/internal/errors"
	"github.com/systmms/stagevault/internal/secure"
)

// Key source kinds accepted in configuration.
const (
	SourceKeyring = "keyring"
	SourceEnv     = "env"
)

const (
	// KeyringService and KeyringUser name the OS keyring entry.
	KeyringService = "stagevault"
	KeyringUser    = "cache-key"

	generatedKeySize = 32
)

// KeySource supplies the material snapshots are encrypted with.
type KeySource interface {
	Key() (*secure.Key, error)
}

// KeyringSource reads the material from the OS keyring. When Generate is set
// and no entry exists, a random key is created and stored.
type KeyringSource struct {
	Service  string
	User     string
	Generate bool
}

// Key implements KeySource
func (s KeyringSource) Key() (*secure.Key, error) {
	service, user := s.Service, s.User
	if service == "" {
		service = KeyringService
	}
	if user == "" {
		user = KeyringUser
	}

	material, err := keyring.Get(service, user)
	switch {
	case err == nil:
	case errors.Is(err, keyring.ErrNotFound) && s.Generate:
		material, err = generateMaterial()
		if err != nil {
			return nil, err
		}
		if err := keyring.Set(service, user, material); err != nil {
			return nil, fmt.Errorf("cache: failed to store key in keyring: %w", err)
		}
	case errors.Is(err, keyring.ErrNotFound):
		return nil, dserrors.UserError{
			Message:    "No cache key found in the OS keyring",
			Details:    fmt.Sprintf("service %q, user %q", service, user),
			Suggestion: "Run 'stagevault cache pull' once to create a key, or set STAGEVAULT_CACHE_KEY",
		}
	default:
		return nil, dserrors.UserError{
			Message:    "Unable to read the cache key from the OS keyring",
			Suggestion: "Set cache.key_source to env and provide STAGEVAULT_CACHE_KEY on headless systems",
			Err:        err,
		}
	}

	return secure.NewKeyFromString(material)
}

// StaticSource uses material supplied directly, usually from the
// STAGEVAULT_CACHE_KEY environment variable.
type StaticSource struct {
	Material string
}

// Key implements KeySource
func (s StaticSource) Key() (*secure.Key, error) {
	if strings.TrimSpace(s.Material) == "" {
		return nil, dserrors.ConfigError{
			Field:      "cache.key_source",
			Message:    "key source is env but STAGEVAULT_CACHE_KEY is empty",
			Suggestion: "Export STAGEVAULT_CACHE_KEY or switch cache.key_source to keyring",
		}
	}
	return secure.NewKeyFromString(s.Material)
}

// NewKeySource picks a KeySource for kind. Keyring sources generate a key
// on first use when generate is set.
func NewKeySource(kind, envMaterial string, generate bool) (KeySource, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", SourceKeyring:
		return KeyringSource{Generate: generate}, nil
	case SourceEnv:
		return StaticSource{Material: envMaterial}, nil
	default:
		return nil, dserrors.ConfigError{
			Field:      "cache.key_source",
			Value:      kind,
			Message:    "unknown key source",
			Suggestion: "Use one of: keyring, env",
		}
	}
}

func generateMaterial() (string, error) {
	raw := make([]byte, generatedKeySize)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("cache: failed to generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
