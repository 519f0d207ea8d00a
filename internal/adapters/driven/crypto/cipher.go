package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
	"github.com/custodia-labs/integration-gateway/internal/core/ports/driven"
)

// Ensure Cipher implements CredentialCipher
var _ driven.CredentialCipher = (*Cipher)(nil)

const (
	// envelopeVersion is the version of the envelope format.
	// This allows future format changes while maintaining backward compatibility.
	envelopeVersion = 1

	// algorithmAES256GCM is the only algorithm currently written.
	algorithmAES256GCM = "aes-256-gcm"

	// ivSize is the AES-GCM nonce size (12 bytes is standard)
	ivSize = 12

	// tagSize is the GCM authentication tag size
	tagSize = 16

	// keySize is the required key size for AES-256
	keySize = 32
)

// scrypt parameters for passphrase-derived keys. The salt is fixed so the
// same passphrase always yields the same key across restarts.
var (
	passphraseSalt = []byte("salt")
	scryptN        = 16384
	scryptR        = 8
	scryptP        = 1
)

// ErrInvalidKeySize is returned when a raw key is not 32 bytes.
var ErrInvalidKeySize = errors.New("encryption key must be 32 bytes")

// Envelope is the stored, self-describing form of an encrypted value.
type Envelope struct {
	Version    int    `json:"version"`
	Algorithm  string `json:"algorithm"`
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
	AuthTag    string `json:"authTag,omitempty"`
}

// Cipher seals credentials with AES-256-GCM. A Cipher without a key can
// still decode legacy values but refuses to encrypt.
type Cipher struct {
	gcm cipher.AEAD
}

// NewCipher creates a cipher from configured key material. Empty material
// yields a decode-only cipher.
func NewCipher(material string) (*Cipher, error) {
	if material == "" {
		return &Cipher{}, nil
	}
	key, err := DeriveKey(material)
	if err != nil {
		return nil, err
	}
	return NewCipherWithKey(key)
}

// NewCipherWithKey creates a cipher from a raw 32-byte key.
func NewCipherWithKey(key []byte) (*Cipher, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &Cipher{gcm: gcm}, nil
}

// DeriveKey turns key material into a 32-byte key. Hex or base64 encodings
// of 32 bytes, or exactly 32 raw bytes, are used as-is; anything else is
// treated as a passphrase and run through scrypt.
func DeriveKey(material string) ([]byte, error) {
	if len(material) == hex.EncodedLen(keySize) {
		if key, err := hex.DecodeString(material); err == nil {
			return key, nil
		}
	}
	if key, err := base64.StdEncoding.DecodeString(material); err == nil && len(key) == keySize {
		return key, nil
	}
	if len(material) == keySize {
		return []byte(material), nil
	}
	key, err := scrypt.Key([]byte(material), passphraseSalt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// CanEncrypt reports whether a key is configured.
func (c *Cipher) CanEncrypt() bool {
	return c.gcm != nil
}

// Encrypt JSON-marshals value and seals it under a fresh random IV.
func (c *Cipher) Encrypt(value any) (string, error) {
	if c.gcm == nil {
		return "", domain.ErrEncryptionKeyMissing
	}

	plaintext, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	sealed := c.gcm.Seal(nil, iv, plaintext, nil)
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	env := Envelope{
		Version:    envelopeVersion,
		Algorithm:  algorithmAES256GCM,
		IV:         base64.StdEncoding.EncodeToString(iv),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		AuthTag:    base64.StdEncoding.EncodeToString(tag),
	}
	out, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return string(out), nil
}

// Decrypt opens stored into value. Legacy values are decoded without a key.
func (c *Cipher) Decrypt(stored string, value any) error {
	env, ok, err := parseEnvelope(stored)
	if err != nil {
		return err
	}
	if !ok {
		return decodeLegacy(stored, value)
	}

	plaintext, err := c.open(env)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(plaintext, value); err != nil {
		return &domain.DecryptionError{Reason: "decrypted payload is not valid JSON"}
	}
	return nil
}

// EncryptString encrypts a simple string value.
func (c *Cipher) EncryptString(s string) (string, error) {
	return c.Encrypt(s)
}

// DecryptString decrypts a stored value to a string.
func (c *Cipher) DecryptString(stored string) (string, error) {
	var s string
	if err := c.Decrypt(stored, &s); err != nil {
		return "", err
	}
	return s, nil
}

// IsLegacy reports whether stored predates envelope encryption.
func (c *Cipher) IsLegacy(stored string) bool {
	_, ok, _ := parseEnvelope(stored)
	return !ok
}

func (c *Cipher) open(env *Envelope) ([]byte, error) {
	if c.gcm == nil {
		return nil, &domain.DecryptionError{Reason: "no encryption key configured"}
	}
	if env.Version != envelopeVersion {
		return nil, &domain.DecryptionError{Reason: fmt.Sprintf("unsupported envelope version %d", env.Version)}
	}
	if env.Algorithm != algorithmAES256GCM {
		return nil, &domain.DecryptionError{Reason: fmt.Sprintf("unsupported algorithm %q", env.Algorithm)}
	}

	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil || len(iv) != ivSize {
		return nil, &domain.DecryptionError{Reason: "malformed iv"}
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, &domain.DecryptionError{Reason: "malformed ciphertext"}
	}
	tag, err := base64.StdEncoding.DecodeString(env.AuthTag)
	if err != nil || len(tag) != tagSize {
		return nil, &domain.DecryptionError{Reason: "malformed auth tag"}
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := c.gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, &domain.DecryptionError{Reason: "authentication tag mismatch"}
	}
	return plaintext, nil
}

// envelopeKeys are the fields that mark a stored value as an envelope.
var envelopeKeys = []string{"version", "algorithm", "iv", "ciphertext", "authTag"}

// parseEnvelope recognizes an envelope by any of its fields. A value that
// looks like an envelope but does not decode as one is malformed, never legacy.
func parseEnvelope(stored string) (*Envelope, bool, error) {
	trimmed := strings.TrimSpace(stored)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return nil, false, nil
	}
	found := false
	for _, k := range envelopeKeys {
		if _, ok := fields[k]; ok {
			found = true
			break
		}
	}
	if !found {
		return nil, false, nil
	}
	var env Envelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return nil, true, &domain.DecryptionError{Reason: "malformed envelope"}
	}
	return &env, true, nil
}

// decodeLegacy handles values written before envelopes existed: either the
// JSON plaintext verbatim or base64 of that JSON. A bare string that is
// neither is taken verbatim.
func decodeLegacy(stored string, value any) error {
	if stored == "" {
		return &domain.DecryptionError{Reason: "empty value"}
	}
	if err := json.Unmarshal([]byte(stored), value); err == nil {
		return nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(stored); err == nil {
		if err := json.Unmarshal(decoded, value); err == nil {
			return nil
		}
	}
	if s, ok := value.(*string); ok {
		*s = stored
		return nil
	}
	return &domain.DecryptionError{Reason: "unrecognized legacy encoding"}
}
