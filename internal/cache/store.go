package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/systmms/stagevault/internal/secure"
)

const fileExt = ".svc"

// ErrNoSnapshot is returned by Load when nothing was cached for a pair.
var ErrNoSnapshot = errors.New("cache: no snapshot")

// Entry describes one cached snapshot.
type Entry struct {
	Vault   string
	Stage   string
	Path    string
	Updated time.Time
}

// Store keeps one encrypted snapshot file per (vault, stage) under dir.
type Store struct {
	dir     string
	service *Service
	mu      sync.RWMutex
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string, service *Service) *Store {
	if service == nil {
		service = NewService(DefaultParams)
	}
	return &Store{dir: dir, service: service}
}

// DefaultDir returns the cache directory used when none is configured.
func DefaultDir() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "stagevault")
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "stagevault")
	}
	return filepath.Join(os.TempDir(), "stagevault")
}

// Dir is the directory snapshots are written to.
func (s *Store) Dir() string {
	return s.dir
}

// Save encrypts values and replaces the snapshot for (vaultName, stage).
func (s *Store) Save(vaultName, stage string, values map[string]string, key *secure.Key) (Entry, error) {
	blob, err := s.service.Encrypt(values, key)
	if err != nil {
		return Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return Entry{}, fmt.Errorf("failed to create cache directory: %w", err)
	}

	path := s.path(vaultName, stage)
	tmp, err := os.CreateTemp(s.dir, ".snapshot-*")
	if err != nil {
		return Entry{}, fmt.Errorf("failed to create cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return Entry{}, fmt.Errorf("failed to set cache file mode: %w", err)
	}
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return Entry{}, fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Entry{}, fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return Entry{}, fmt.Errorf("failed to replace cache file: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to stat cache file: %w", err)
	}
	return Entry{Vault: vaultName, Stage: stage, Path: path, Updated: info.ModTime()}, nil
}

// Load decrypts the snapshot for (vaultName, stage).
func (s *Store) Load(vaultName, stage string, key *secure.Key) (map[string]string, Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := s.path(vaultName, stage)
	blob, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, Entry{}, fmt.Errorf("%w for vault %s (stage %s)", ErrNoSnapshot, vaultName, stage)
		}
		return nil, Entry{}, fmt.Errorf("failed to read cache file: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, Entry{}, fmt.Errorf("failed to stat cache file: %w", err)
	}

	values, err := s.service.Decrypt(blob, key)
	if err != nil {
		return nil, Entry{}, err
	}
	return values, Entry{Vault: vaultName, Stage: stage, Path: path, Updated: info.ModTime()}, nil
}

// Remove deletes the snapshot for (vaultName, stage). Removing a snapshot
// that does not exist is not an error.
func (s *Store) Remove(vaultName, stage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(vaultName, stage)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove cache file: %w", err)
	}
	return nil
}

// Entries lists the cached snapshots ordered by vault then stage.
func (s *Store) Entries() ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}

	entries := []Entry{}
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != fileExt {
			continue
		}
		vaultName, stage, ok := splitFilename(file.Name())
		if !ok {
			continue
		}
		info, err := file.Info()
		if err != nil {
			continue // removed while listing
		}
		entries = append(entries, Entry{
			Vault:   vaultName,
			Stage:   stage,
			Path:    filepath.Join(s.dir, file.Name()),
			Updated: info.ModTime(),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Vault != entries[j].Vault {
			return entries[i].Vault < entries[j].Vault
		}
		return entries[i].Stage < entries[j].Stage
	})
	return entries, nil
}

func (s *Store) path(vaultName, stage string) string {
	return filepath.Join(s.dir, sanitizeFilename(vaultName)+"@"+sanitizeFilename(stage)+fileExt)
}

func splitFilename(name string) (string, string, bool) {
	base := strings.TrimSuffix(name, fileExt)
	vaultName, stage, ok := strings.Cut(base, "@")
	if !ok || vaultName == "" || stage == "" {
		return "", "", false
	}
	return vaultName, stage, true
}

// sanitizeFilename keeps names safe for any filesystem. '@' separates the
// vault from the stage so it is replaced as well.
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "-",
		"\\", "-",
		":", "-",
		"*", "-",
		"?", "-",
		"\"", "-",
		"<", "-",
		">", "-",
		"|", "-",
		"@", "-",
		" ", "_",
	)
	return replacer.Replace(name)
}
