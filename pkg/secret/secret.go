// Package secret defines the value objects stagevault moves between vaults,
// templates and the diff engine.
//
// A Secret is a resolved value read from (or written to) one vault bound to
// one stage. A HistoryEntry is a single historical version of a secret as
// reported by the backend. Both are plain values: collections copy them on
// the way in and on the way out, so callers can never mutate a secret that
// another collection still holds.
//
// # Ownership
//
// Secret.Vault is a lookup relation back to the vault the secret came from.
// It is used to re-resolve formatting (the fully-qualified backend path) and
// to name the vault in output. It never implies lifetime control: vaults are
// stateless gateways and hold no secret state themselves.
package secret

import "time"

// Owner is the vault a secret was read from or written to.
//
// Every vault.Vault satisfies Owner. The interface lives here so the data
// model does not depend on the vault contract.
type Owner interface {
	// Name returns the configured vault name (the template slug).
	Name() string

	// Stage returns the stage the vault is bound to.
	Stage() string

	// Format maps a logical key to the backend's fully-qualified path.
	Format(key string) string
}

// Secret is a resolved secret bound to a vault and a stage.
//
// Example:
//
//	s := secret.Secret{
//	    Key:      "DB_PASSWORD",
//	    Value:    "hunter2",
//	    Secure:   true,
//	    Stage:    "production",
//	    Revision: 3,
//	    Path:     "/myapp/production/DB_PASSWORD",
//	}
type Secret struct {
	// Key is the logical key, case-sensitive and unique within a vault+stage.
	Key string `json:"key" yaml:"key"`

	// Value is the plaintext value. It may be empty but is always set once
	// the secret has been resolved.
	Value string `json:"value" yaml:"value"`

	// EncryptedValue holds backend ciphertext for backends that store it
	// separately from the access-control flag. Empty otherwise.
	EncryptedValue string `json:"encrypted_value,omitempty" yaml:"encrypted_value,omitempty"`

	// Secure reports whether the backend enforces encryption at rest and in
	// transit for this entry.
	Secure bool `json:"secure" yaml:"secure"`

	// Stage is the stage the secret was read from.
	Stage string `json:"stage" yaml:"stage"`

	// Revision is a positive, backend-defined ordinal that only increases
	// across successive writes to the same path.
	Revision int `json:"revision" yaml:"revision"`

	// Path is the fully-qualified backend identifier.
	Path string `json:"path" yaml:"path"`

	// Vault is the vault this secret belongs to. Nil for secrets built by
	// hand that were never read from a vault.
	Vault Owner `json:"-" yaml:"-"`
}

// VaultName returns the owning vault's name, or "" when the secret has no owner.
func (s Secret) VaultName() string {
	if s.Vault == nil {
		return ""
	}
	return s.Vault.Name()
}

// FormattedPath re-resolves the backend path through the owning vault.
// Falls back to the recorded Path when the secret has no owner.
func (s Secret) FormattedPath() string {
	if s.Vault == nil {
		return s.Path
	}
	return s.Vault.Format(s.Key)
}

// HistoryEntry is one historical version of a secret.
type HistoryEntry struct {
	Key              string     `json:"key" yaml:"key"`
	Value            string     `json:"value" yaml:"value"`
	Version          int        `json:"version" yaml:"version"`
	LastModifiedDate *time.Time `json:"last_modified_date,omitempty" yaml:"last_modified_date,omitempty"`
	LastModifiedUser string     `json:"last_modified_user,omitempty" yaml:"last_modified_user,omitempty"`
	DataType         string     `json:"data_type,omitempty" yaml:"data_type,omitempty"`
	Labels           []string   `json:"labels,omitempty" yaml:"labels,omitempty"`
	Policies         string     `json:"policies,omitempty" yaml:"policies,omitempty"`
	Description      string     `json:"description,omitempty" yaml:"description,omitempty"`
	Secure           bool       `json:"secure" yaml:"secure"`
}

// clone returns a copy that shares no slices or pointers with e.
func (e HistoryEntry) clone() HistoryEntry {
	if e.LastModifiedDate != nil {
		t := *e.LastModifiedDate
		e.LastModifiedDate = &t
	}
	if e.Labels != nil {
		e.Labels = append([]string(nil), e.Labels...)
	}
	return e
}
