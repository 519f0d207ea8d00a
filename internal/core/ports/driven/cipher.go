package driven

// CredentialCipher seals credential values into serialized envelopes.
type CredentialCipher interface {
	// Encrypt JSON-marshals value and seals it with a fresh IV.
	// Returns domain.ErrEncryptionKeyMissing if no key is configured.
	Encrypt(value any) (string, error)

	// Decrypt opens an envelope (or decodes a legacy value) into value.
	// Failures wrap domain.ErrDecryption.
	Decrypt(stored string, value any) error

	// EncryptString seals a plain string.
	EncryptString(s string) (string, error)

	// DecryptString opens a sealed string.
	DecryptString(stored string) (string, error)

	// IsLegacy reports whether stored is a pre-envelope value.
	IsLegacy(stored string) bool

	// CanEncrypt reports whether a key is configured.
	CanEncrypt() bool
}
