// Package secure keeps key material out of ordinary heap memory.
//
// Material is sealed in a memguard enclave (encrypted in memory and locked
// against swapping) and only decrypted for the duration of a callback:
//
//	key, err := secure.NewKey(raw)
//	if err != nil {
//	    return err
//	}
//	defer key.Destroy()
//
//	err = key.Use(func(b []byte) error {
//	    return doSomething(b)
//	})
//
// It does not protect against an attacker with access to the running process.
package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrDestroyed is returned when a destroyed Key is used.
var ErrDestroyed = errors.New("secure: key material has been destroyed")

// ErrEmpty is returned when a Key is created from zero bytes.
var ErrEmpty = errors.New("secure: key material is empty")

// Key holds sealed key material.
type Key struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave
	destroyed bool
}

// NewKey seals data into an enclave. memguard wipes data in the process, so
// callers must not rely on it afterwards.
func NewKey(data []byte) (*Key, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	return &Key{enclave: memguard.NewEnclave(data)}, nil
}

// NewKeyFromString seals a copy of s.
func NewKeyFromString(s string) (*Key, error) {
	return NewKey([]byte(s))
}

// Use decrypts the material into a locked buffer, passes its bytes to fn and
// wipes the buffer once fn returns. fn must not retain the slice.
func (k *Key) Use(fn func([]byte) error) error {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.destroyed {
		return ErrDestroyed
	}

	locked, err := k.enclave.Open()
	if err != nil {
		return err
	}
	defer locked.Destroy()

	return fn(locked.Bytes())
}

// Size is the length of the sealed material.
func (k *Key) Size() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.destroyed {
		return 0
	}
	return k.enclave.Size()
}

// Destroy drops the enclave. Safe to call more than once.
func (k *Key) Destroy() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.destroyed = true
	k.enclave = nil
}

// Purge wipes every memguard buffer in the process. Call it on exit.
func Purge() {
	memguard.Purge()
}
