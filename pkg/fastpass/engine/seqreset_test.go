package engine

import "testing"

func partialOf(full uint64) uint64 {
	return full & (epochModulus - 1)
}

// TestResetWindow exercises scenario S3 from spec.md §8 literally.
func TestResetWindow(t *testing.T) {
	const now = uint64(1_000_000_000_000)
	const resetWindowNs = uint64(1_000_000_000)

	srs := newSequenceResetState(0)

	firstFull := now + 4*100_000_000
	outcome, full := srs.classify(partialOf(firstFull), now, resetWindowNs)
	if outcome != resetAccepted {
		t.Fatalf("first reset outcome = %v, want resetAccepted", outcome)
	}
	if full != firstFull {
		t.Fatalf("reconstructed full = %d, want %d", full, firstFull)
	}
	srs.lastResetTime = full
	srs.inSync = true

	olderFull := now - 4*100_000_000
	outcome, _ = srs.classify(partialOf(olderFull), now, resetWindowNs)
	if outcome != resetOutdated {
		t.Fatalf("older-within-window reset outcome = %v, want resetOutdated", outcome)
	}

	tooFarFull := now + 10*1_000_000_000
	outcome, _ = srs.classify(partialOf(tooFarFull), now, resetWindowNs)
	if outcome != resetOutOfWindow {
		t.Fatalf("far-future reset outcome = %v, want resetOutOfWindow", outcome)
	}
}

// TestResetIdempotence exercises invariant 6 from spec.md §8.
func TestResetIdempotence(t *testing.T) {
	const now = uint64(5_000_000_000)
	const resetWindowNs = uint64(1_000_000_000)

	srs := newSequenceResetState(0)
	full := now

	outcome, got := srs.classify(partialOf(full), now, resetWindowNs)
	if outcome != resetAccepted {
		t.Fatalf("first apply outcome = %v, want resetAccepted", outcome)
	}
	srs.lastResetTime = got
	srs.inSync = true
	nextSeqno := deriveNextSeqno(got)

	outcome, got2 := srs.classify(partialOf(full), now, resetWindowNs)
	if outcome != resetRedundant {
		t.Fatalf("second apply outcome = %v, want resetRedundant", outcome)
	}
	if got2 != got {
		t.Fatalf("reconstructed epoch changed between applies: %d != %d", got2, got)
	}
	if deriveNextSeqno(got2) != nextSeqno {
		t.Fatalf("derived next_seqno changed between applies")
	}
	if !srs.inSync {
		t.Fatalf("in_sync should remain true after redundant reset")
	}
}

func TestReconstructEpochRoundTrip(t *testing.T) {
	now := uint64(1 << 40)
	for _, delta := range []int64{0, 1, -1, 1 << 30, -(1 << 30)} {
		full := uint64(int64(now) + delta)
		got := reconstructEpoch(partialOf(full), now)
		if got != full {
			t.Fatalf("reconstructEpoch(partialOf(%d), %d) = %d, want %d", full, now, got, full)
		}
	}
}
