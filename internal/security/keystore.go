package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Key storage constants.
const (
	MinKeyLength            = 32
	DefaultRotationInterval = 100

	// EnvHMACKey names the environment variable consulted first by
	// LoadFromSources.
	EnvHMACKey = "SUSPENSE_HMAC_KEY"
)

// Key storage errors.
var (
	ErrNoKey        = errors.New("security: no key set")
	ErrKeyTooShort  = fmt.Errorf("security: key shorter than %d bytes", MinKeyLength)
	ErrKeyCorrupted = errors.New("security: key checksum mismatch")
	ErrNoKeySource  = errors.New("security: no HMAC key source available")
)

// noCopy may be embedded into structs which must not be copied after first
// use. go vet's copylocks check reports violations.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// KeyStorage holds one HMAC key without keeping it in plaintext.
//
// The key is stored as key XOR maskA XOR maskB. Both masks are regenerated
// after every rotationInterval reads of the key, so a memory dump taken at
// one point cannot be paired with masks captured at another. A CRC32 of the
// plaintext detects corruption of the masked buffer.
//
// KeyStorage must only be handled by pointer. ClearKey overwrites every
// buffer before releasing it.
type KeyStorage struct {
	noCopy noCopy

	mu               sync.Mutex
	masked           []byte
	maskA            []byte
	maskB            []byte
	checksum         uint32
	accesses         int
	rotationInterval int
	rotations        int
}

// KeyOption configures a KeyStorage.
type KeyOption func(*KeyStorage)

// WithRotationInterval sets how many key reads trigger a mask rotation.
// Values < 1 are ignored.
func WithRotationInterval(n int) KeyOption {
	return func(k *KeyStorage) {
		if n > 0 {
			k.rotationInterval = n
		}
	}
}

// NewKeyStorage creates an empty key storage.
func NewKeyStorage(opts ...KeyOption) *KeyStorage {
	k := &KeyStorage{rotationInterval: DefaultRotationInterval}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// SetKey replaces the stored key with a masked copy of key.
// The caller keeps ownership of key and should zero it afterwards.
func (k *KeyStorage) SetKey(key []byte) error {
	if len(key) == 0 {
		return ErrNoKey
	}
	maskA, err := randomBytes(len(key))
	if err != nil {
		return err
	}
	maskB, err := randomBytes(len(key))
	if err != nil {
		SecureZero(maskA)
		return err
	}
	masked := make([]byte, len(key))
	for i := range key {
		masked[i] = key[i] ^ maskA[i] ^ maskB[i]
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.clearLocked()
	k.masked, k.maskA, k.maskB = masked, maskA, maskB
	k.checksum = crc32.ChecksumIEEE(key)
	k.accesses = 0
	return nil
}

// GetKey returns a plaintext copy of the key. The caller must SecureZero
// it when done.
func (k *KeyStorage) GetKey() ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.unmaskLocked()
}

// HasKey reports whether a key is set.
func (k *KeyStorage) HasKey() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.masked) > 0
}

// ClearKey zeroes and drops all key material.
func (k *KeyStorage) ClearKey() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.clearLocked()
}

// Rotate regenerates both masks without changing the key.
func (k *KeyStorage) Rotate() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.masked) == 0 {
		return ErrNoKey
	}
	return k.rotateLocked()
}

// Rotations returns how many times the masks have been regenerated.
func (k *KeyStorage) Rotations() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.rotations
}

// GenerateNewKey replaces the key with length random bytes.
func (k *KeyStorage) GenerateNewKey(length int) error {
	if length < MinKeyLength {
		return ErrKeyTooShort
	}
	key, err := randomBytes(length)
	if err != nil {
		return err
	}
	defer SecureZero(key)
	return k.SetKey(key)
}

// GenerateHMAC returns the hex HMAC-SHA256 of data.
func (k *KeyStorage) GenerateHMAC(data []byte) (string, error) {
	sum, err := k.sum(data)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}

// VerifyHMAC reports whether sig is the hex HMAC-SHA256 of data.
// Comparison is constant time. Malformed signatures and a missing key
// verify as false.
func (k *KeyStorage) VerifyHMAC(data []byte, sig string) bool {
	want, err := hex.DecodeString(sig)
	if err != nil || len(want) != sha256.Size {
		return false
	}
	got, err := k.sum(data)
	if err != nil {
		return false
	}
	return hmac.Equal(got, want)
}

// LoadFromSources sets the key from the first available source:
// the SUSPENSE_HMAC_KEY environment variable (text), cfgKey (hex), then
// keyFile (hex or text). A short environment key is skipped. A cfgKey that
// is not hex or decodes to fewer than MinKeyLength bytes is an error.
func (k *KeyStorage) LoadFromSources(cfgKey, keyFile string) (string, error) {
	if v, ok := os.LookupEnv(EnvHMACKey); ok && len(v) >= MinKeyLength {
		return "env", k.SetKey([]byte(v))
	}
	if v, ok := os.LookupEnv(EnvHMACKey); ok && v != "" {
		slog.Warn("ignoring short HMAC key from environment",
			"event", "hmac_key_rejected", "source", EnvHMACKey, "length", len(v))
	}
	if cfgKey != "" {
		raw, err := hex.DecodeString(cfgKey)
		if err != nil {
			return "", fmt.Errorf("config key: %w", err)
		}
		defer SecureZero(raw)
		if len(raw) < MinKeyLength {
			return "", fmt.Errorf("config key: %w", ErrKeyTooShort)
		}
		return "config", k.SetKey(raw)
	}
	if keyFile != "" {
		raw, err := os.ReadFile(keyFile)
		if err != nil {
			return "", fmt.Errorf("read key file: %w", err)
		}
		defer SecureZero(raw)
		text := strings.TrimSpace(string(raw))
		if decoded, err := hex.DecodeString(text); err == nil && len(decoded) >= MinKeyLength {
			defer SecureZero(decoded)
			return "file", k.SetKey(decoded)
		}
		if len(text) >= MinKeyLength {
			return "file", k.SetKey([]byte(text))
		}
		return "", fmt.Errorf("key file %s: %w", keyFile, ErrKeyTooShort)
	}
	return "", ErrNoKeySource
}

func (k *KeyStorage) sum(data []byte) ([]byte, error) {
	k.mu.Lock()
	key, err := k.unmaskLocked()
	k.mu.Unlock()
	if err != nil {
		return nil, err
	}
	defer SecureZero(key)

	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil), nil
}

// Caller must hold k.mu.
func (k *KeyStorage) unmaskLocked() ([]byte, error) {
	if len(k.masked) == 0 {
		return nil, ErrNoKey
	}
	key := make([]byte, len(k.masked))
	for i := range k.masked {
		key[i] = k.masked[i] ^ k.maskA[i] ^ k.maskB[i]
	}
	if crc32.ChecksumIEEE(key) != k.checksum {
		SecureZero(key)
		slog.Error("key storage corrupted", "event", "key_checksum_mismatch")
		return nil, ErrKeyCorrupted
	}

	k.accesses++
	if k.accesses >= k.rotationInterval {
		if err := k.rotateLocked(); err != nil {
			SecureZero(key)
			return nil, err
		}
	}
	return key, nil
}

// rotateLocked re-masks the key with fresh random masks. Caller must hold k.mu.
func (k *KeyStorage) rotateLocked() error {
	n := len(k.masked)
	newA, err := randomBytes(n)
	if err != nil {
		return err
	}
	newB, err := randomBytes(n)
	if err != nil {
		SecureZero(newA)
		return err
	}
	for i := 0; i < n; i++ {
		// masked' = key ^ newA ^ newB, without materializing key
		k.masked[i] ^= k.maskA[i] ^ k.maskB[i] ^ newA[i] ^ newB[i]
	}
	SecureZero(k.maskA)
	SecureZero(k.maskB)
	k.maskA, k.maskB = newA, newB
	k.accesses = 0
	k.rotations++
	return nil
}

// Caller must hold k.mu.
func (k *KeyStorage) clearLocked() {
	SecureZero(k.masked)
	SecureZero(k.maskA)
	SecureZero(k.maskB)
	k.masked, k.maskA, k.maskB = nil, nil, nil
	k.checksum = 0
	k.accesses = 0
}

// SecureZero overwrites b with zeros.
func SecureZero(b []byte) {
	clear(b)
}

// randReader supplies masks and generated keys.
var randReader io.Reader = rand.Reader

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(randReader, b); err != nil {
		return nil, fmt.Errorf("security: read random: %w", err)
	}
	return b, nil
}
