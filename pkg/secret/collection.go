package secret

import (
	"sort"
	"strings"
)

// Collection is an ordered set of secrets.
//
// Collections own their elements by value. Add copies the secret in, All
// copies the secrets out, and every narrowing operation (Search, Filter,
// Take) returns a new collection.
type Collection struct {
	items []Secret
}

// NewCollection creates a collection holding copies of secrets, in order.
func NewCollection(secrets ...Secret) *Collection {
	c := &Collection{items: make([]Secret, 0, len(secrets))}
	c.items = append(c.items, secrets...)
	return c
}

// Add appends a copy of s.
func (c *Collection) Add(s Secret) {
	c.items = append(c.items, s)
}

// Len returns the number of secrets.
func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.items)
}

// All returns a copy of the secrets in collection order.
func (c *Collection) All() []Secret {
	if c == nil {
		return nil
	}
	return append([]Secret(nil), c.items...)
}

// Get returns the first secret with the given key.
func (c *Collection) Get(key string) (Secret, bool) {
	if c == nil {
		return Secret{}, false
	}
	for _, s := range c.items {
		if s.Key == key {
			return s, true
		}
	}
	return Secret{}, false
}

// Keys returns the keys in collection order.
func (c *Collection) Keys() []string {
	keys := make([]string, 0, c.Len())
	for _, s := range c.All() {
		keys = append(keys, s.Key)
	}
	return keys
}

// SortByKey orders the collection by key, ascending and case-sensitive.
// The sort is stable and happens in place; c is returned for chaining.
func (c *Collection) SortByKey() *Collection {
	sort.SliceStable(c.items, func(i, j int) bool {
		return c.items[i].Key < c.items[j].Key
	})
	return c
}

// Search returns the secrets whose key or value contains term.
func (c *Collection) Search(term string) *Collection {
	return c.Filter(func(s Secret) bool {
		return strings.Contains(s.Key, term) || strings.Contains(s.Value, term)
	})
}

// Filter returns the secrets for which keep returns true.
func (c *Collection) Filter(keep func(Secret) bool) *Collection {
	out := NewCollection()
	for _, s := range c.All() {
		if keep(s) {
			out.Add(s)
		}
	}
	return out
}

// Take returns at most the first n secrets. A non-positive n returns all.
func (c *Collection) Take(n int) *Collection {
	items := c.All()
	if n > 0 && n < len(items) {
		items = items[:n]
	}
	return NewCollection(items...)
}

// ToMap returns key/value pairs. Later duplicates win.
func (c *Collection) ToMap() map[string]string {
	out := make(map[string]string, c.Len())
	for _, s := range c.All() {
		out[s.Key] = s.Value
	}
	return out
}

// HistoryCollection is an ordered set of history entries for one key.
type HistoryCollection struct {
	items []HistoryEntry
}

// NewHistoryCollection creates a collection holding copies of entries.
func NewHistoryCollection(entries ...HistoryEntry) *HistoryCollection {
	h := &HistoryCollection{items: make([]HistoryEntry, 0, len(entries))}
	for _, e := range entries {
		h.Add(e)
	}
	return h
}

// Add appends a copy of e.
func (h *HistoryCollection) Add(e HistoryEntry) {
	h.items = append(h.items, e.clone())
}

// Len returns the number of entries.
func (h *HistoryCollection) Len() int {
	if h == nil {
		return 0
	}
	return len(h.items)
}

// All returns copies of the entries in collection order.
func (h *HistoryCollection) All() []HistoryEntry {
	if h == nil {
		return nil
	}
	out := make([]HistoryEntry, len(h.items))
	for i, e := range h.items {
		out[i] = e.clone()
	}
	return out
}

// Versions returns the version numbers in collection order.
func (h *HistoryCollection) Versions() []int {
	versions := make([]int, 0, h.Len())
	for _, e := range h.All() {
		versions = append(versions, e.Version)
	}
	return versions
}

// SortByVersionDesc orders entries by version, newest first, in place.
func (h *HistoryCollection) SortByVersionDesc() *HistoryCollection {
	sort.SliceStable(h.items, func(i, j int) bool {
		return h.items[i].Version > h.items[j].Version
	})
	return h
}

// Filter returns the entries for which keep returns true.
func (h *HistoryCollection) Filter(keep func(HistoryEntry) bool) *HistoryCollection {
	out := NewHistoryCollection()
	for _, e := range h.All() {
		if keep(e) {
			out.Add(e)
		}
	}
	return out
}

// Take returns at most the first n entries. A non-positive n returns all.
func (h *HistoryCollection) Take(n int) *HistoryCollection {
	items := h.All()
	if n > 0 && n < len(items) {
		items = items[:n]
	}
	return NewHistoryCollection(items...)
}
