package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// Key derivation parameters
	pbkdfIterations = 100000
	saltLength      = 32
	keyLength       = 32

	tokenIssuer = "compute_consensus"
)

// KeyPair holds a validator's signing keys
type KeyPair struct {
	PublicKey  []byte
	PrivateKey []byte
	Algorithm  string
	Created    time.Time
}

// OperatorClaims are the JWT claims minted for node operators accessing the
// reporting surface
type OperatorClaims struct {
	Operator string `json:"operator"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Token is an issued operator token
type Token struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// CryptoManager manages the node's signing keys, key-file encryption, and
// operator tokens
type CryptoManager struct {
	activeKeyPair *KeyPair
	aead          cipher.AEAD
	jwtSecret     []byte
	tokenExpiry   time.Duration
}

// NewCryptoManager creates a crypto manager around an existing key pair. The
// secret drives both token signing and key-file encryption.
func NewCryptoManager(keyPair *KeyPair, secret []byte, tokenExpiry time.Duration) (*CryptoManager, error) {
	aead, err := newAEAD(deriveCipherKey(secret))
	if err != nil {
		return nil, fmt.Errorf("initializing cipher: %w", err)
	}

	return &CryptoManager{
		activeKeyPair: keyPair,
		aead:          aead,
		jwtSecret:     secret,
		tokenExpiry:   tokenExpiry,
	}, nil
}

// GenerateKeyPair creates a new Ed25519 key pair
func GenerateKeyPair() (*KeyPair, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating key pair: %w", err)
	}

	return &KeyPair{
		PublicKey:  publicKey,
		PrivateKey: privateKey,
		Algorithm:  "Ed25519",
		Created:    time.Now(),
	}, nil
}

// Sign creates a signature over data with the active private key
func (cm *CryptoManager) Sign(data []byte) ([]byte, error) {
	if len(cm.activeKeyPair.PrivateKey) == 0 {
		return nil, fmt.Errorf("private key not available")
	}
	return ed25519.Sign(cm.activeKeyPair.PrivateKey, data), nil
}

// Verify checks an Ed25519 signature. Satisfies the consensus engine's
// signature verifier interface.
func (cm *CryptoManager) Verify(publicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(publicKey, message, signature)
}

// PublicKey returns the active public key
func (cm *CryptoManager) PublicKey() []byte {
	return cm.activeKeyPair.PublicKey
}

// ExportPublicKey returns the active public key base64-encoded
func (cm *CryptoManager) ExportPublicKey() string {
	return base64.StdEncoding.EncodeToString(cm.activeKeyPair.PublicKey)
}

// Encrypt seals data with AES-GCM, prepending the nonce
func (cm *CryptoManager) Encrypt(data []byte) ([]byte, error) {
	nonce := make([]byte, cm.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return cm.aead.Seal(nonce, nonce, data, nil), nil
}

// Decrypt opens AES-GCM sealed data
func (cm *CryptoManager) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := cm.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := cm.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting data: %w", err)
	}
	return plaintext, nil
}

// SaveKeyFile persists the active key pair to disk, encrypted
func (cm *CryptoManager) SaveKeyFile(path string) error {
	payload, err := json.Marshal(cm.activeKeyPair)
	if err != nil {
		return fmt.Errorf("encoding key pair: %w", err)
	}

	sealed, err := cm.Encrypt(payload)
	if err != nil {
		return fmt.Errorf("sealing key pair: %w", err)
	}

	if err := os.WriteFile(path, sealed, 0600); err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}
	return nil
}

// LoadKeyFile reads and decrypts a key pair from disk and makes it active
func (cm *CryptoManager) LoadKeyFile(path string) error {
	sealed, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading key file: %w", err)
	}

	payload, err := cm.Decrypt(sealed)
	if err != nil {
		return fmt.Errorf("unsealing key pair: %w", err)
	}

	kp := &KeyPair{}
	if err := json.Unmarshal(payload, kp); err != nil {
		return fmt.Errorf("decoding key pair: %w", err)
	}

	cm.activeKeyPair = kp
	return nil
}

// IssueOperatorToken mints a JWT for an operator identity
func (cm *CryptoManager) IssueOperatorToken(operator, role string) (*Token, error) {
	now := time.Now()
	claims := &OperatorClaims{
		Operator: operator,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   operator,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cm.tokenExpiry)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cm.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("signing token: %w", err)
	}

	return &Token{
		Value:     signed,
		IssuedAt:  now,
		ExpiresAt: now.Add(cm.tokenExpiry),
	}, nil
}

// ValidateOperatorToken parses and verifies an operator token
func (cm *CryptoManager) ValidateOperatorToken(tokenString string) (*OperatorClaims, error) {
	claims := &OperatorClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return cm.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	if !token.Valid || claims.Issuer != tokenIssuer {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}

// HashData returns the hex-encoded sha256 of data
func (cm *CryptoManager) HashData(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// DeriveKey derives an encryption key from a password and salt
func DeriveKey(password, salt []byte) []byte {
	return pbkdf2.Key(password, salt, pbkdfIterations, keyLength, sha256.New)
}

// GenerateSalt generates a random salt for key derivation
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// deriveCipherKey stretches an arbitrary-length secret to an AES-256 key. The
// fixed salt keeps derivation deterministic across restarts; the secret
// itself is the confidential input.
func deriveCipherKey(secret []byte) []byte {
	return pbkdf2.Key(secret, []byte(tokenIssuer), pbkdfIterations, keyLength, sha256.New)
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}
