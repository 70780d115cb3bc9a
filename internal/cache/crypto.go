// Package cache stores encrypted snapshots of vault contents on local disk.
//
// A snapshot is the key/value map of one (vault, stage) pair. Snapshots are
// sealed with AES-256-GCM under a key derived from caller supplied material
// with Argon2id; the blob carries its own salt and derivation parameters so
// it can be opened after the configured parameters change.
package cache

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"

	"github.com/systmms/stagevault/internal/secure"
)

const (
	saltSize  = 16
	nonceSize = 12
	keySize   = 32

	// magic + time + memory + threads
	paramsSize = 4 + 4 + 4 + 1
	headerSize = paramsSize + saltSize + nonceSize

	// Upper bounds accepted when reading a blob header.
	maxTime    = 16
	maxMemory  = 1 << 20 // KiB
	maxThreads = 64
)

var magic = []byte("SVC1")

// ErrDecrypt is returned for any blob that cannot be opened, whether the
// key is wrong or the data is damaged.
var ErrDecrypt = errors.New("cache: unable to decrypt snapshot (wrong key or corrupted data)")

// Params tunes the Argon2id key derivation. Memory is in KiB.
type Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
}

// DefaultParams follow the OWASP recommendation for Argon2id.
var DefaultParams = Params{Time: 1, Memory: 64 * 1024, Threads: 4}

func (p Params) valid() bool {
	return p.Time > 0 && p.Time <= maxTime &&
		p.Threads > 0 && p.Threads <= maxThreads &&
		p.Memory >= 8*uint32(p.Threads) && p.Memory <= maxMemory
}

// Service encrypts and decrypts snapshots.
type Service struct {
	params Params
	rand   io.Reader
}

// NewService returns a Service deriving keys with p. Zero fields take the
// default value.
func NewService(p Params) *Service {
	if p.Time == 0 {
		p.Time = DefaultParams.Time
	}
	if p.Memory == 0 {
		p.Memory = DefaultParams.Memory
	}
	if p.Threads == 0 {
		p.Threads = DefaultParams.Threads
	}
	return &Service{params: p, rand: rand.Reader}
}

// Encrypt seals values under key.
//
// Layout: magic | time | memory | threads | salt | nonce | ciphertext.
// Everything before the ciphertext is authenticated as additional data.
func (s *Service) Encrypt(values map[string]string, key *secure.Key) ([]byte, error) {
	if !s.params.valid() {
		return nil, fmt.Errorf("cache: invalid key derivation parameters %+v", s.params)
	}

	plaintext, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("cache: failed to encode snapshot: %w", err)
	}

	header := make([]byte, headerSize)
	copy(header, magic)
	binary.BigEndian.PutUint32(header[4:], s.params.Time)
	binary.BigEndian.PutUint32(header[8:], s.params.Memory)
	header[12] = s.params.Threads
	if _, err := io.ReadFull(s.rand, header[paramsSize:]); err != nil {
		return nil, fmt.Errorf("cache: failed to read random bytes: %w", err)
	}
	salt := header[paramsSize : paramsSize+saltSize]
	nonce := header[paramsSize+saltSize:]

	gcm, err := deriveAEAD(key, salt, s.params)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(header, nonce, plaintext, header), nil
}

// Decrypt opens a blob produced by Encrypt. It never returns partial data.
func (s *Service) Decrypt(blob []byte, key *secure.Key) (map[string]string, error) {
	if len(blob) < headerSize || !bytes.Equal(blob[:len(magic)], magic) {
		return nil, ErrDecrypt
	}

	header := blob[:headerSize]
	p := Params{
		Time:    binary.BigEndian.Uint32(header[4:]),
		Memory:  binary.BigEndian.Uint32(header[8:]),
		Threads: header[12],
	}
	if !p.valid() {
		return nil, ErrDecrypt
	}
	salt := header[paramsSize : paramsSize+saltSize]
	nonce := header[paramsSize+saltSize:]

	gcm, err := deriveAEAD(key, salt, p)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, blob[headerSize:], header)
	if err != nil {
		return nil, ErrDecrypt
	}

	var values map[string]string
	if err := json.Unmarshal(plaintext, &values); err != nil {
		return nil, ErrDecrypt
	}
	if values == nil {
		values = map[string]string{}
	}
	return values, nil
}

func deriveAEAD(key *secure.Key, salt []byte, p Params) (cipher.AEAD, error) {
	if key == nil {
		return nil, errors.New("cache: no key material")
	}

	var gcm cipher.AEAD
	err := key.Use(func(material []byte) error {
		derived := argon2.IDKey(material, salt, p.Time, p.Memory, p.Threads, keySize)
		defer clear(derived)

		block, err := aes.NewCipher(derived)
		if err != nil {
			return err
		}
		gcm, err = cipher.NewGCM(block)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("cache: failed to derive key: %w", err)
	}
	return gcm, nil
}
