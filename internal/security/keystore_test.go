package security

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func TestKeyStorage_GetAfterSet(t *testing.T) {
	ks := NewKeyStorage()
	require.NoError(t, ks.SetKey(testKey()))

	got, err := ks.GetKey()
	require.NoError(t, err)
	assert.Equal(t, testKey(), got)
	assert.True(t, ks.HasKey())
}

func TestKeyStorage_MaskedInMemory(t *testing.T) {
	ks := NewKeyStorage()
	require.NoError(t, ks.SetKey(testKey()))

	ks.mu.Lock()
	defer ks.mu.Unlock()
	assert.False(t, bytes.Equal(ks.masked, testKey()), "key is not stored in plaintext")
}

func TestKeyStorage_RotationPreservesKey(t *testing.T) {
	ks := NewKeyStorage(WithRotationInterval(2))
	require.NoError(t, ks.SetKey(testKey()))

	for i := 0; i < 5; i++ {
		got, err := ks.GetKey()
		require.NoError(t, err)
		assert.Equal(t, testKey(), got)
	}
	assert.Equal(t, 2, ks.Rotations())

	require.NoError(t, ks.Rotate())
	got, err := ks.GetKey()
	require.NoError(t, err)
	assert.Equal(t, testKey(), got)
}

func TestKeyStorage_ClearKey(t *testing.T) {
	ks := NewKeyStorage()
	require.NoError(t, ks.SetKey(testKey()))
	ks.ClearKey()

	assert.False(t, ks.HasKey())
	_, err := ks.GetKey()
	assert.ErrorIs(t, err, ErrNoKey)
	_, err = ks.GenerateHMAC([]byte("x"))
	assert.ErrorIs(t, err, ErrNoKey)
	assert.ErrorIs(t, ks.Rotate(), ErrNoKey)
}

func TestKeyStorage_HMACRoundTrip(t *testing.T) {
	ks := NewKeyStorage()
	require.NoError(t, ks.GenerateNewKey(32))

	inputs := [][]byte{nil, []byte(""), []byte("AK74|1|0|N"), bytes.Repeat([]byte{0xff}, 4096)}
	for _, data := range inputs {
		sig, err := ks.GenerateHMAC(data)
		require.NoError(t, err)
		assert.Len(t, sig, 64)
		assert.True(t, ks.VerifyHMAC(data, sig))
	}
}

func TestKeyStorage_TamperedSignatureFails(t *testing.T) {
	ks := NewKeyStorage()
	require.NoError(t, ks.SetKey(testKey()))

	data := []byte("payload")
	sig, err := ks.GenerateHMAC(data)
	require.NoError(t, err)

	for i := range sig {
		tampered := []byte(sig)
		if tampered[i] == '0' {
			tampered[i] = '1'
		} else {
			tampered[i] = '0'
		}
		assert.False(t, ks.VerifyHMAC(data, string(tampered)), "tampered at %d", i)
	}
	assert.False(t, ks.VerifyHMAC(data, "not-hex"))
	assert.False(t, ks.VerifyHMAC(data, sig[:32]))
	assert.False(t, ks.VerifyHMAC([]byte("payloaD"), sig))
}

func TestKeyStorage_GenerateNewKeyMinimumLength(t *testing.T) {
	ks := NewKeyStorage()
	assert.ErrorIs(t, ks.GenerateNewKey(16), ErrKeyTooShort)
	assert.False(t, ks.HasKey())

	require.NoError(t, ks.GenerateNewKey(64))
	key, err := ks.GetKey()
	require.NoError(t, err)
	assert.Len(t, key, 64)
}

func TestKeyStorage_SetEmptyKey(t *testing.T) {
	ks := NewKeyStorage()
	assert.Error(t, ks.SetKey(nil))
}

func TestSecureZero(t *testing.T) {
	b := []byte{1, 2, 3}
	SecureZero(b)
	assert.Equal(t, []byte{0, 0, 0}, b)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestKeyStorage_SetKeyFailureKeepsPreviousKey(t *testing.T) {
	ks := NewKeyStorage()
	require.NoError(t, ks.SetKey(testKey()))

	orig := randReader
	randReader = failingReader{}
	t.Cleanup(func() { randReader = orig })

	err := ks.SetKey(bytes.Repeat([]byte{0x11}, MinKeyLength))
	require.Error(t, err)

	randReader = orig
	assert.True(t, ks.HasKey())
	key, err := ks.GetKey()
	require.NoError(t, err)
	assert.Equal(t, testKey(), key)
}

func TestLoadFromSources_Precedence(t *testing.T) {
	cfgKey := strings.Repeat("ab", MinKeyLength)
	envKey := "env-key-env-key-env-key-env-key-env"
	keyFile := filepath.Join(t.TempDir(), "hmac.key")
	require.NoError(t, os.WriteFile(keyFile, []byte(strings.Repeat("cd", MinKeyLength)+"\n"), 0o600))

	t.Run("env wins", func(t *testing.T) {
		t.Setenv(EnvHMACKey, envKey)
		ks := NewKeyStorage()
		src, err := ks.LoadFromSources(cfgKey, keyFile)
		require.NoError(t, err)
		assert.Equal(t, "env", src)
		key, _ := ks.GetKey()
		assert.Equal(t, envKey, string(key))
	})

	t.Run("short env falls through to config", func(t *testing.T) {
		t.Setenv(EnvHMACKey, "short")
		ks := NewKeyStorage()
		src, err := ks.LoadFromSources(cfgKey, keyFile)
		require.NoError(t, err)
		assert.Equal(t, "config", src)
		key, _ := ks.GetKey()
		assert.Equal(t, bytes.Repeat([]byte{0xab}, MinKeyLength), key)
	})

	t.Run("config beats file", func(t *testing.T) {
		t.Setenv(EnvHMACKey, "")
		ks := NewKeyStorage()
		src, err := ks.LoadFromSources(cfgKey, keyFile)
		require.NoError(t, err)
		assert.Equal(t, "config", src)
	})

	t.Run("hex key file", func(t *testing.T) {
		t.Setenv(EnvHMACKey, "")
		ks := NewKeyStorage()
		src, err := ks.LoadFromSources("", keyFile)
		require.NoError(t, err)
		assert.Equal(t, "file", src)
		key, _ := ks.GetKey()
		assert.Equal(t, bytes.Repeat([]byte{0xcd}, MinKeyLength), key)
	})

	t.Run("bad config key", func(t *testing.T) {
		t.Setenv(EnvHMACKey, "")
		_, err := NewKeyStorage().LoadFromSources("not-hex", keyFile)
		assert.Error(t, err)
		_, err = NewKeyStorage().LoadFromSources("0011", keyFile)
		assert.ErrorIs(t, err, ErrKeyTooShort)
	})

	t.Run("nothing available", func(t *testing.T) {
		t.Setenv(EnvHMACKey, "")
		ks := NewKeyStorage()
		_, err := ks.LoadFromSources("", "")
		assert.ErrorIs(t, err, ErrNoKeySource)
	})
}
