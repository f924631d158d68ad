// Package chain implements the hash-chaining scheme shared by the
// event store and the audit log: every record's integrity_hash covers
// its own content, and its previous_hash pins it to the record before
// it, so a reader can detect both tampering (hash mismatch) and
// deletion (sequence gap) by walking the chain once.
package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// ZeroHash is the previous_hash of the first record in any chain.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Canonicalize produces the deterministic JSON encoding a payload
// hashes against: sorted keys, no indentation. encoding/json already
// sorts map keys; struct field order is fixed by the struct
// definition, which is why every hashed payload is passed in as a
// map[string]any rather than an arbitrary struct.
func Canonicalize(payload map[string]any) ([]byte, error) {
	return json.Marshal(payload)
}

// IntegrityHash computes the chained hash for one record:
//
//	SHA256(subjectID || recordType || canonical(payload) || timestampRFC3339)
//
// subjectID is the incident_id (event store) or the stream name (audit
// log); recordType is the event_type or audit action name.
func IntegrityHash(subjectID, recordType string, payload map[string]any, timestampRFC3339 string) (string, error) {
	canon, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(subjectID))
	h.Write([]byte(recordType))
	h.Write(canon)
	h.Write([]byte(timestampRFC3339))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Link is the minimal shape a chain-verifiable record must expose.
type Link struct {
	Sequence      uint64
	IntegrityHash string
	PreviousHash  string
}

// VerifyChain walks links in ascending sequence order, checking that
// sequence numbers are contiguous starting at 1 and that every
// previous_hash matches the integrity_hash of the record before it.
// It returns the sequence number of the first broken link, or 0 if the
// chain is intact. This only checks linkage between records; callers
// must separately recompute each record's IntegrityHash from its own
// stored content and compare it to the stored value to catch a record
// mutated in place without its hash columns being touched.
func VerifyChain(links []Link) (brokenAt uint64, ok bool) {
	expectedPrev := ZeroHash
	var expectedSeq uint64 = 1

	for _, l := range links {
		if l.Sequence != expectedSeq {
			return l.Sequence, false
		}
		if l.PreviousHash != expectedPrev {
			return l.Sequence, false
		}
		expectedPrev = l.IntegrityHash
		expectedSeq++
	}
	return 0, true
}
