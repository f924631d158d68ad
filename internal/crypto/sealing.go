package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	aerrors "github.com/aegisflow/aegis/pkg/errors"
)

// SealedSecret is the at-rest representation handed back from
// store_secret: nonce and ciphertext are both base64-encoded so the
// whole thing round-trips through JSON and a text column unchanged.
type SealedSecret struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KMS simulates an in-process key-management service: it holds a
// single master key in memory and seals/opens secrets with it. A real
// deployment would swap this for a call to a managed KMS; the sealing
// format (chacha20poly1305, random 12-byte nonce per seal) stays the
// same either way so callers never notice the difference.
type KMS struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
	}
}

// NewKMS builds a KMS from a 32-byte master key. Generate one with
// NewMasterKey and load it from the environment/secret store in
// production; a fresh random key is fine for tests.
func NewKMS(masterKey []byte) (*KMS, error) {
	aead, err := chacha20poly1305.New(masterKey)
	if err != nil {
		return nil, aerrors.Wrap(err, "crypto.NewKMS", aerrors.KindInternal, "invalid master key")
	}
	return &KMS{aead: aead}, nil
}

// NewMasterKey generates a random chacha20poly1305 key suitable for
// NewKMS.
func NewMasterKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, aerrors.Wrap(err, "crypto.NewMasterKey", aerrors.KindInternal, "failed to read random bytes")
	}
	return key, nil
}

// Seal encrypts plaintext under the KMS's master key, binding it to
// associatedData (typically "incident_id:secret_name") so a sealed
// blob cannot be copied onto a different secret's record.
func (k *KMS) Seal(plaintext, associatedData []byte) (SealedSecret, error) {
	nonce := make([]byte, k.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return SealedSecret{}, aerrors.Wrap(err, "KMS.Seal", aerrors.KindInternal, "failed to read random nonce")
	}
	ciphertext := k.aead.Seal(nil, nonce, plaintext, associatedData)
	return SealedSecret{
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// Open decrypts a SealedSecret previously produced by Seal. It fails
// with KindCorruption if associatedData doesn't match what the secret
// was sealed with, or if the ciphertext has been tampered with.
func (k *KMS) Open(sealed SealedSecret, associatedData []byte) ([]byte, error) {
	nonce, err := base64.StdEncoding.DecodeString(sealed.Nonce)
	if err != nil {
		return nil, aerrors.Wrap(err, "KMS.Open", aerrors.KindCorruption, "malformed nonce")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(sealed.Ciphertext)
	if err != nil {
		return nil, aerrors.Wrap(err, "KMS.Open", aerrors.KindCorruption, "malformed ciphertext")
	}
	plaintext, err := k.aead.Open(nil, nonce, ciphertext, associatedData)
	if err != nil {
		return nil, aerrors.Wrap(err, "KMS.Open", aerrors.KindCorruption, "secret failed authentication, possible tampering")
	}
	return plaintext, nil
}
