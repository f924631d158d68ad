package external

import (
	"context"
	"crypto/ed25519"
	"sync"

	"github.com/google/uuid"

	"github.com/aegisflow/aegis/internal/crypto"
	aerrors "github.com/aegisflow/aegis/pkg/errors"
)

// Secrets is the KMS boundary spec.md §6 names: generate_keypair,
// sign, verify, store_secret, rotate. "Private keys never leave the
// provider" — Sign takes a handle, never the raw private key, and
// GenerateKeypair returns only the public half alongside the handle.
type Secrets interface {
	GenerateKeypair(ctx context.Context) (publicKey ed25519.PublicKey, handle string, err error)
	Sign(ctx context.Context, handle string, digest []byte) ([]byte, error)
	Verify(ctx context.Context, publicKey ed25519.PublicKey, digest, signature []byte) bool
	StoreSecret(ctx context.Context, name string, plaintext []byte) (handle string, err error)
	Rotate(ctx context.Context, handle string) (newHandle string, err error)
}

// KMSProvider is the production Secrets implementation: signing keys
// and sealed secrets both live in an in-process registry keyed by an
// opaque uuid handle, sealed at rest with crypto.KMS's
// chacha20poly1305 box. "Production-shaped" here means the real
// cryptography this module owns end to end (ed25519 signing,
// authenticated sealing) rather than a managed-KMS API call, which
// spec.md's non-goal on per-cloud SDK bindings excludes; a deployment
// that needs an actual external KMS swaps this provider for one that
// calls it, behind the same interface.
type KMSProvider struct {
	kms *crypto.KMS

	mu      sync.Mutex
	signing map[string]ed25519.PrivateKey
	sealed  map[string]sealedEntry
}

// sealedEntry pairs a SealedSecret with the associated data it was
// bound to, so Rotate can re-open it correctly.
type sealedEntry struct {
	name   string
	secret crypto.SealedSecret
}

// NewKMSProvider builds a KMSProvider sealing secrets under masterKey
// (see crypto.NewMasterKey — generate once and load from the
// environment in production; a fresh key per process is fine for the
// CLI's diagnostic mode and tests).
func NewKMSProvider(masterKey []byte) (*KMSProvider, error) {
	kms, err := crypto.NewKMS(masterKey)
	if err != nil {
		return nil, err
	}
	return &KMSProvider{
		kms:     kms,
		signing: make(map[string]ed25519.PrivateKey),
		sealed:  make(map[string]sealedEntry),
	}, nil
}

// GenerateKeypair satisfies Secrets.
func (p *KMSProvider) GenerateKeypair(_ context.Context) (ed25519.PublicKey, string, error) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, "", err
	}
	handle := uuid.NewString()

	p.mu.Lock()
	p.signing[handle] = kp.PrivateKey
	p.mu.Unlock()

	return kp.PublicKey, handle, nil
}

// Sign satisfies Secrets; the private key never leaves this function.
func (p *KMSProvider) Sign(_ context.Context, handle string, digest []byte) ([]byte, error) {
	p.mu.Lock()
	priv, ok := p.signing[handle]
	p.mu.Unlock()
	if !ok {
		return nil, aerrors.New("external.KMSProvider.Sign", aerrors.KindValidation, "unknown signing handle")
	}
	return crypto.Sign(priv, digest), nil
}

// Verify satisfies Secrets.
func (p *KMSProvider) Verify(_ context.Context, publicKey ed25519.PublicKey, digest, signature []byte) bool {
	return crypto.Verify(publicKey, digest, signature)
}

// StoreSecret seals plaintext under the provider's master key and
// registers it behind a fresh handle.
func (p *KMSProvider) StoreSecret(_ context.Context, name string, plaintext []byte) (string, error) {
	handle := uuid.NewString()
	sealed, err := p.kms.Seal(plaintext, []byte(name))
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.sealed[handle] = sealedEntry{name: name, secret: sealed}
	p.mu.Unlock()

	return handle, nil
}

// Rotate re-seals the secret at handle under a fresh internal
// generation: since crypto.KMS seals with a random nonce per call,
// rotation re-encrypts the same plaintext and replaces the stored
// ciphertext, invalidating the prior one under a new handle so a
// caller that cached the old handle can't read stale material.
func (p *KMSProvider) Rotate(ctx context.Context, handle string) (string, error) {
	p.mu.Lock()
	entry, ok := p.sealed[handle]
	p.mu.Unlock()
	if !ok {
		return "", aerrors.New("external.KMSProvider.Rotate", aerrors.KindValidation, "unknown secret handle")
	}

	plaintext, err := p.kms.Open(entry.secret, []byte(entry.name))
	if err != nil {
		return "", err
	}
	newHandle, err := p.StoreSecret(ctx, entry.name, plaintext)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	delete(p.sealed, handle)
	p.mu.Unlock()

	return newHandle, nil
}
