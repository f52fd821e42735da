package security

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *CryptoManager {
	t.Helper()

	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	cm, err := NewCryptoManager(kp, []byte("test-secret"), time.Hour)
	require.NoError(t, err)
	return cm
}

func TestSignAndVerify(t *testing.T) {
	cm := newTestManager(t)
	message := []byte("proof digest")

	sig, err := cm.Sign(message)
	require.NoError(t, err)

	assert.True(t, cm.Verify(cm.PublicKey(), message, sig))
	assert.False(t, cm.Verify(cm.PublicKey(), []byte("tampered"), sig))
	assert.False(t, cm.Verify([]byte("short key"), message, sig))

	other := newTestManager(t)
	assert.False(t, cm.Verify(other.PublicKey(), message, sig))
}

func TestEncryptDecrypt(t *testing.T) {
	cm := newTestManager(t)
	plaintext := []byte("sensitive key material")

	sealed, err := cm.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)

	opened, err := cm.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)

	t.Run("TamperedCiphertext", func(t *testing.T) {
		sealed[len(sealed)-1] ^= 0xff
		_, err := cm.Decrypt(sealed)
		assert.Error(t, err)
	})

	t.Run("TooShort", func(t *testing.T) {
		_, err := cm.Decrypt([]byte("x"))
		assert.Error(t, err)
	})
}

func TestKeyFileRoundTrip(t *testing.T) {
	cm := newTestManager(t)
	original := cm.PublicKey()

	path := filepath.Join(t.TempDir(), "node.key")
	require.NoError(t, cm.SaveKeyFile(path))

	// A manager sharing the secret can recover the key pair
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	other, err := NewCryptoManager(kp, []byte("test-secret"), time.Hour)
	require.NoError(t, err)

	require.NoError(t, other.LoadKeyFile(path))
	assert.Equal(t, original, other.PublicKey())

	// A manager with a different secret cannot
	wrong, err := NewCryptoManager(kp, []byte("wrong-secret"), time.Hour)
	require.NoError(t, err)
	assert.Error(t, wrong.LoadKeyFile(path))
}

func TestOperatorTokens(t *testing.T) {
	cm := newTestManager(t)

	token, err := cm.IssueOperatorToken("alice", "admin")
	require.NoError(t, err)
	assert.NotEmpty(t, token.Value)

	claims, err := cm.ValidateOperatorToken(token.Value)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Operator)
	assert.Equal(t, "admin", claims.Role)

	t.Run("WrongSecret", func(t *testing.T) {
		kp, err := GenerateKeyPair()
		require.NoError(t, err)
		other, err := NewCryptoManager(kp, []byte("other-secret"), time.Hour)
		require.NoError(t, err)

		_, err = other.ValidateOperatorToken(token.Value)
		assert.Error(t, err)
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := cm.ValidateOperatorToken("not-a-token")
		assert.Error(t, err)
	})
}

func TestHashData(t *testing.T) {
	cm := newTestManager(t)

	h := cm.HashData([]byte("data"))
	assert.Len(t, h, 64)
	assert.Equal(t, h, cm.HashData([]byte("data")))
	assert.NotEqual(t, h, cm.HashData([]byte("other")))
}

func TestDeriveKey(t *testing.T) {
	salt, err := GenerateSalt()
	require.NoError(t, err)
	assert.Len(t, salt, saltLength)

	k1 := DeriveKey([]byte("password"), salt)
	k2 := DeriveKey([]byte("password"), salt)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, keyLength)

	other, err := GenerateSalt()
	require.NoError(t, err)
	assert.NotEqual(t, k1, DeriveKey([]byte("password"), other))
}
