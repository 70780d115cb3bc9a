// Package config loads stagevault.yaml.
//
// The file is validated against an embedded JSON schema before it is
// decoded, then completed with defaults. Config implements the vault
// registry's configuration source.
package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/systmms/stagevault/internal/cache"
	dserrors "github.com/systmms/stagevault/internal/errors"
	"github.com/systmms/stagevault/internal/logging"
	"github.com/systmms/stagevault/internal/template"
	"github.com/systmms/stagevault/pkg/vault"
)

// DefaultPath is the configuration file looked up when none is given.
const DefaultPath = "stagevault.yaml"

// CurrentVersion is the only supported configuration version.
const CurrentVersion = 1

//go:embed schema.json
var schemaJSON []byte

// Config holds the runtime configuration
type Config struct {
	Path       string
	Logger     *logging.Logger
	Env        Env
	Definition *Definition
}

// Definition is the stagevault.yaml structure
type Definition struct {
	Version      int                    `yaml:"version" json:"version"`
	Namespace    string                 `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	PathFormat   string                 `yaml:"path_format,omitempty" json:"path_format,omitempty"`
	DefaultVault string                 `yaml:"default_vault,omitempty" json:"default_vault,omitempty"`
	DefaultStage string                 `yaml:"default_stage,omitempty" json:"default_stage,omitempty"`
	Stages       []string               `yaml:"stages" json:"stages"`
	Missing      string                 `yaml:"missing,omitempty" json:"missing,omitempty"`
	Overlay      OverlayConfig          `yaml:"overlay,omitempty" json:"overlay,omitempty"`
	Concurrency  int                    `yaml:"concurrency,omitempty" json:"concurrency,omitempty"`
	Defaults     map[string]interface{} `yaml:"defaults,omitempty" json:"defaults,omitempty"`
	Vaults       map[string]VaultConfig `yaml:"vaults" json:"vaults"`
	Cache        CacheConfig            `yaml:"cache,omitempty" json:"cache,omitempty"`
}

// OverlayConfig controls stage overlay templates. Overlays are enabled
// unless Enabled is explicitly false.
type OverlayConfig struct {
	Enabled   *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Extension string `yaml:"extension,omitempty" json:"extension,omitempty"`
}

// VaultConfig holds the configuration of one named vault
type VaultConfig struct {
	Driver    string                 `yaml:"driver" json:"driver"`
	Prefix    string                 `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Namespace string                 `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	TimeoutMs int                    `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
	Settings  map[string]interface{} `yaml:"settings,omitempty" json:"settings,omitempty"`
}

// CacheConfig configures the encrypted local cache
type CacheConfig struct {
	Dir       string       `yaml:"dir,omitempty" json:"dir,omitempty"`
	KeySource string       `yaml:"key_source,omitempty" json:"key_source,omitempty"`
	Argon2    Argon2Config `yaml:"argon2,omitempty" json:"argon2,omitempty"`
}

// Argon2Config tunes cache key derivation
type Argon2Config struct {
	Time      uint32 `yaml:"time,omitempty" json:"time,omitempty"`
	MemoryKiB uint32 `yaml:"memory_kib,omitempty" json:"memory_kib,omitempty"`
	Threads   uint8  `yaml:"threads,omitempty" json:"threads,omitempty"`
}

func defaultDefinition() Definition {
	return Definition{
		Missing:     template.MissingFail.String(),
		Overlay:     OverlayConfig{Extension: template.DefaultOverlayExtension},
		Concurrency: 4,
		Cache: CacheConfig{
			KeySource: cache.SourceKeyring,
			Argon2: Argon2Config{
				Time:      cache.DefaultParams.Time,
				MemoryKiB: cache.DefaultParams.Memory,
				Threads:   cache.DefaultParams.Threads,
			},
		},
	}
}

// Load reads, validates and decodes the configuration file
func (c *Config) Load() error {
	if c.Logger == nil {
		c.Logger = logging.Discard()
	}

	data, err := os.ReadFile(c.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return dserrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "Create " + DefaultPath + " or point STAGEVAULT_CONFIG at an existing file",
			}
		}
		return dserrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	def, err := Parse(data)
	if err != nil {
		return err
	}

	c.Logger.Debug("Loaded configuration from %s (%d vaults, %d stages)", c.Path, len(def.Vaults), len(def.Stages))
	c.Definition = def
	return nil
}

// Parse validates and decodes a configuration document.
func Parse(data []byte) (*Definition, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, dserrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}
	if raw == nil {
		return nil, dserrors.ConfigError{
			Message:    "configuration file is empty",
			Suggestion: "Declare at least version, stages and vaults",
		}
	}

	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, dserrors.ConfigError{
			Message:    "configuration does not match the expected structure",
			Suggestion: err.Error(),
		}
	}

	if err := mergo.Merge(&def, defaultDefinition()); err != nil {
		return nil, fmt.Errorf("failed to apply configuration defaults: %w", err)
	}

	if err := def.validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func validateSchema(raw interface{}) error {
	document, err := json.Marshal(raw)
	if err != nil {
		return dserrors.ConfigError{
			Message:    "configuration cannot be represented as JSON",
			Suggestion: "Use string keys for every mapping",
		}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(document),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var messages []string
	for _, desc := range result.Errors() {
		messages = append(messages, desc.String())
	}
	sort.Strings(messages)
	return dserrors.ConfigError{
		Field:      result.Errors()[0].Field(),
		Message:    "schema validation failed:\n  - " + strings.Join(messages, "\n  - "),
		Suggestion: "Compare your file against the documented stagevault.yaml layout",
	}
}

func (d *Definition) validate() error {
	if d.DefaultVault != "" {
		if _, ok := d.Vaults[d.DefaultVault]; !ok {
			return dserrors.ConfigError{
				Field:      "default_vault",
				Value:      d.DefaultVault,
				Message:    "default vault is not declared under vaults",
				Suggestion: "Declared vaults: " + strings.Join(d.VaultNames(), ", "),
			}
		}
	}
	if d.DefaultStage != "" && !d.HasStage(d.DefaultStage) {
		return dserrors.ConfigError{
			Field:      "default_stage",
			Value:      d.DefaultStage,
			Message:    "default stage is not listed under stages",
			Suggestion: "Stages: " + strings.Join(d.Stages, ", "),
		}
	}
	return nil
}

// VaultNames returns the declared vault names, sorted.
func (d *Definition) VaultNames() []string {
	names := make([]string, 0, len(d.Vaults))
	for name := range d.Vaults {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasStage reports whether stage is declared.
func (d *Definition) HasStage(stage string) bool {
	for _, s := range d.Stages {
		if s == stage {
			return true
		}
	}
	return false
}

func (c *Config) definition() *Definition {
	if c.Definition == nil {
		return &Definition{}
	}
	return c.Definition
}

// Stages returns the declared stages in file order.
func (c *Config) Stages() []string {
	return append([]string(nil), c.definition().Stages...)
}

// VaultNames returns the declared vault names, sorted.
func (c *Config) VaultNames() []string {
	return c.definition().VaultNames()
}

// VaultBinding returns the stage-independent binding for the vault called
// name. Top-level defaults fill settings the vault leaves unset.
func (c *Config) VaultBinding(name string) (vault.Binding, error) {
	def := c.definition()
	vc, ok := def.Vaults[name]
	if !ok {
		suggestion := "Add the vault to the 'vaults:' section of " + DefaultPath
		if names := def.VaultNames(); len(names) > 0 {
			suggestion = fmt.Sprintf("Available vaults: %s", strings.Join(names, ", "))
		}
		return vault.Binding{}, dserrors.ConfigError{
			Field:      "vaults",
			Value:      name,
			Message:    "vault not found in configuration",
			Suggestion: suggestion,
		}
	}

	settings := make(map[string]interface{}, len(vc.Settings)+len(def.Defaults))
	for k, v := range vc.Settings {
		settings[k] = v
	}
	if len(def.Defaults) > 0 {
		if err := mergo.Merge(&settings, def.Defaults); err != nil {
			return vault.Binding{}, fmt.Errorf("failed to merge default settings into vault %s: %w", name, err)
		}
	}

	namespace := vc.Namespace
	if namespace == "" {
		namespace = def.Namespace
	}

	return vault.Binding{
		Name:      name,
		Driver:    vc.Driver,
		Namespace: namespace,
		Prefix:    vc.Prefix,
		Settings:  settings,
		Timeout:   time.Duration(vc.TimeoutMs) * time.Millisecond,
	}, nil
}

// PathFormatter returns the formatter configured by path_format, or nil when
// vaults use the default prefix/namespace/stage/key layout.
func (c *Config) PathFormatter() vault.Formatter {
	pattern := c.definition().PathFormat
	if pattern == "" {
		return nil
	}
	return vault.PatternFormatter(pattern)
}

// ResolveStage picks the stage for a command: the explicit value, then
// STAGEVAULT_STAGE, then default_stage, then the first declared stage.
// The result must be a declared stage.
func (c *Config) ResolveStage(explicit string) (string, error) {
	def := c.definition()
	stage := explicit
	for _, candidate := range []string{c.Env.Stage, def.DefaultStage} {
		if stage != "" {
			break
		}
		stage = candidate
	}
	if stage == "" && len(def.Stages) > 0 {
		stage = def.Stages[0]
	}
	if err := c.CheckStage(stage); err != nil {
		return "", err
	}
	return stage, nil
}

// CheckStage rejects stages that are not declared.
func (c *Config) CheckStage(stage string) error {
	def := c.definition()
	if def.HasStage(stage) {
		return nil
	}
	return dserrors.UserError{
		Message:    fmt.Sprintf("Unknown stage %q", stage),
		Suggestion: "Use one of: " + strings.Join(def.Stages, ", "),
	}
}

// MissingStrategy returns the configured missing-secret strategy.
func (c *Config) MissingStrategy() (template.MissingSecretStrategy, error) {
	return template.ParseMissingSecretStrategy(c.definition().Missing)
}

// TemplateLoader returns a loader honoring the overlay settings.
func (c *Config) TemplateLoader() template.Loader {
	o := c.definition().Overlay
	return template.Loader{
		Overlay:   o.Enabled == nil || *o.Enabled,
		Extension: o.Extension,
	}
}

// Concurrency is the worker pool size for diff and resolution.
func (c *Config) Concurrency() int {
	return c.definition().Concurrency
}

// CacheDir returns the cache directory with a leading ~ expanded.
func (c *Config) CacheDir() string {
	dir := c.definition().Cache.Dir
	if dir == "" {
		return cache.DefaultDir()
	}
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(dir, "~"))
		}
	}
	return dir
}

// CacheParams returns the Argon2id parameters for the cache.
func (c *Config) CacheParams() cache.Params {
	a := c.definition().Cache.Argon2
	return cache.Params{Time: a.Time, Memory: a.MemoryKiB, Threads: a.Threads}
}

// CacheKeySource returns the configured cache key source. Keyring sources
// create a key on first use when generate is set.
func (c *Config) CacheKeySource(generate bool) (cache.KeySource, error) {
	return cache.NewKeySource(c.definition().Cache.KeySource, c.Env.CacheKey, generate)
}
