package audit

import (
	"context"
	"time"

	"github.com/aegisflow/aegis/internal/chain"
	aerrors "github.com/aegisflow/aegis/pkg/errors"
)

// VerifyChain walks streamName's events between start and end
// (inclusive, both sides; end=0 means "through the latest record"),
// failing on the first hash mismatch or sequence gap — the audit-log
// counterpart of eventstore.Store.VerifyIntegrity, reusing the same
// internal/chain.VerifyChain walk instead of re-deriving it.
func (s *Store) VerifyChain(ctx context.Context, streamName string, start, end uint64) (brokenAt uint64, ok bool, err error) {
	if start == 0 {
		start = 1
	}
	limit := 0
	if end > 0 {
		if end < start {
			return 0, false, aerrors.New("audit.VerifyChain", aerrors.KindValidation, "end precedes start")
		}
		limit = int(end-start) + 1
	} else {
		limit = 1 << 20 // effectively unbounded; List still clamps to 2000 per page below.
	}

	var links []chain.Link
	from := start
	for {
		page, lerr := s.List(ctx, streamName, from, 2000)
		if lerr != nil {
			return 0, false, lerr
		}
		if len(page) == 0 {
			break
		}
		for _, ev := range page {
			if end > 0 && ev.Sequence > end {
				break
			}
			payload := map[string]any{
				"action": ev.Action, "actor": ev.Actor, "target": ev.Target, "result": ev.Result, "detail": ev.Detail,
			}
			expected, herr := chain.IntegrityHash(streamName, ev.Action, payload, ev.Timestamp.Format(time.RFC3339))
			if herr != nil {
				return 0, false, aerrors.Wrap(herr, "audit.VerifyChain", aerrors.KindInternal, "hash computation failed")
			}
			if expected != ev.IntegrityHash {
				return ev.Sequence, false, nil
			}
			links = append(links, chain.Link{
				Sequence:      ev.Sequence,
				IntegrityHash: ev.IntegrityHash,
				PreviousHash:  ev.PreviousHash,
			})
		}
		last := page[len(page)-1]
		if len(page) < 2000 || (end > 0 && last.Sequence >= end) {
			break
		}
		from = last.Sequence + 1
		if len(links) >= limit {
			break
		}
	}

	brokenAt, ok = verifyLinks(links, start == 1)
	return brokenAt, ok, nil
}

// verifyLinks checks contiguous sequencing and hash linkage across
// links, which are assumed already sorted ascending by sequence.
// fromGenesis=true additionally requires the chain start at sequence 1
// with internal/chain.ZeroHash as the first previous_hash (the full
// walk internal/chain.VerifyChain performs); fromGenesis=false only
// checks internal consistency of the given slice — contiguity and
// hash linkage — without asserting it traces back to genesis, which
// is what a partial [start,end] range can actually promise.
func verifyLinks(links []chain.Link, fromGenesis bool) (uint64, bool) {
	if len(links) == 0 {
		return 0, true
	}
	if fromGenesis {
		return chain.VerifyChain(links)
	}

	expectedPrev := links[0].PreviousHash
	expectedSeq := links[0].Sequence
	for _, l := range links {
		if l.Sequence != expectedSeq || l.PreviousHash != expectedPrev {
			return l.Sequence, false
		}
		expectedPrev = l.IntegrityHash
		expectedSeq++
	}
	return 0, true
}
