package cache

import (
	"context"
	"fmt"

	"github.com/systmms/stagevault/internal/secure"
	"github.com/systmms/stagevault/pkg/vault"
)

// Pull lists v and stores the result as the snapshot for its name and
// stage. It returns the entry written and the number of secrets cached.
func (s *Store) Pull(ctx context.Context, v vault.Vault, key *secure.Key) (Entry, int, error) {
	list, err := v.List(ctx)
	if err != nil {
		return Entry{}, 0, fmt.Errorf("failed to list vault %s (stage %s): %w", v.Name(), v.Stage(), err)
	}
	values := list.ToMap()
	entry, err := s.Save(v.Name(), v.Stage(), values, key)
	if err != nil {
		return Entry{}, 0, err
	}
	return entry, len(values), nil
}
