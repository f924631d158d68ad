// Package crypto provides the two cryptographic primitives the rest
// of the module needs: ed25519 signing/verification backing
// AgentCertificate-based message authentication (spec.md §4.2, §4.4),
// and a chacha20poly1305 sealing box for secrets at rest (§4.9's
// secrets interface).
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"

	aerrors "github.com/aegisflow/aegis/pkg/errors"
)

// KeyPair is an agent's signing identity: PublicKey is published on
// its AgentCertificate, PrivateKey never leaves the process that
// generated it.
type KeyPair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh ed25519 key pair for a new
// AgentCertificate.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, aerrors.Wrap(err, "crypto.GenerateKeyPair", aerrors.KindInternal, "key generation failed")
	}
	return KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// Sign signs digest (typically the SHA256 digest of a canonical
// message body) with the agent's private key.
func Sign(priv ed25519.PrivateKey, digest []byte) []byte {
	return ed25519.Sign(priv, digest)
}

// Verify reports whether signature is a valid ed25519 signature of
// digest under pub. Isolated/revoked agents are rejected by the
// caller checking certificate status first — Verify only checks
// cryptographic validity.
func Verify(pub ed25519.PublicKey, digest, signature []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, digest, signature)
}
