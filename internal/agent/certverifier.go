package agent

import (
	"fmt"
	"sync"

	"github.com/aegisflow/aegis/internal/consensus"
	"github.com/aegisflow/aegis/internal/crypto"
)

// CertVerifier implements consensus.Verifier: it looks up the sender's
// active Certificate and checks the message's signature against its
// public key. Kept in internal/agent (not internal/consensus) so the
// Consensus Engine's only dependency stays the narrow Verifier
// interface, per spec.md §9's star-topology redesign — the engine never
// imports internal/crypto or internal/agent directly.
type CertVerifier struct {
	mu    sync.RWMutex
	certs map[string]Certificate // agent_id -> active certificate
}

// NewCertVerifier builds an empty verifier; certificates are added via
// SetCertificate as they're issued/rotated.
func NewCertVerifier() *CertVerifier {
	return &CertVerifier{certs: make(map[string]Certificate)}
}

// SetCertificate registers or replaces the active certificate for an
// agent_id.
func (v *CertVerifier) SetCertificate(c Certificate) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.certs[c.AgentID] = c
}

// Verify checks msg.Signature against senderID's active public key. A
// revoked/expired/unknown certificate fails verification.
func (v *CertVerifier) Verify(senderID string, msg consensus.ConsensusMessage) bool {
	v.mu.RLock()
	cert, ok := v.certs[senderID]
	v.mu.RUnlock()
	if !ok || cert.Status != CertActive {
		return false
	}

	signed := fmt.Sprintf("%s:%d:%d:%s", msg.Type, msg.View, msg.Sequence, msg.Digest)
	return crypto.Verify(cert.PublicKey, []byte(signed), msg.Signature)
}
