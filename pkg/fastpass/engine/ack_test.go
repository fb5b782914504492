package engine

import "testing"

// TestRecoverAckSeqnoCrossEpoch exercises scenario S6 from spec.md §8.
func TestRecoverAckSeqnoCrossEpoch(t *testing.T) {
	const nextSeqno = uint64(0x0001_0005)

	if got := recoverAckSeqno(0x0001, nextSeqno); got != 0x0001_0001 {
		t.Fatalf("recoverAckSeqno(0x0001) = %#x, want %#x", got, uint64(0x0001_0001))
	}
	if got := recoverAckSeqno(0xFFFF, nextSeqno); got != 0x0000_FFFF {
		t.Fatalf("recoverAckSeqno(0xFFFF) = %#x, want %#x", got, uint64(0x0000_FFFF))
	}
}

func TestDecodeAckTooEarly(t *testing.T) {
	const w = 16
	ow := newOutstandingWindow(w, 1000)
	for i := 0; i < 16; i++ {
		ow.add(&PktDesc{SentTimestamp: uint64(i)})
	}
	// ack_seq names a seqno well below next_seqno-W.
	var acked []uint64
	result := ow.decodeAck(0, uint16(500), func(pd *PktDesc) { acked = append(acked, pd.Seqno) })
	if !result.tooEarly {
		t.Fatalf("expected tooEarly for a seqno below the window")
	}
	if len(acked) != 0 {
		t.Fatalf("no callback should fire for a too-early ack, got %v", acked)
	}
}

func TestDecodeAckSimplePositive(t *testing.T) {
	const w = 128
	ow := newOutstandingWindow(w, 0)
	for i := 0; i < 32; i++ {
		ow.add(&PktDesc{SentTimestamp: uint64(i)})
	}
	// next_seqno is 32; cur recovered from ack_seq=31 is 31, a single ack on cur
	// with no further runs (ack_runlen == 0 after the implicit nibble).
	var acked []uint64
	result := ow.decodeAck(0, uint16(31), func(pd *PktDesc) { acked = append(acked, pd.Seqno) })
	if result.positiveAcks != 1 || len(acked) != 1 || acked[0] != 31 {
		t.Fatalf("decodeAck = %+v acked=%v, want single ack of 31", result, acked)
	}
	if ow.isUnacked(31) {
		t.Fatalf("seqno 31 should have been popped")
	}
	if !ow.isUnacked(30) {
		t.Fatalf("seqno 30 should remain unacked")
	}
}

// TestDecodeAckMultiRun hand-verifies the §4.3 run-decode algorithm across a
// positive run, a one-seqno gap, and a second positive run.
func TestDecodeAckMultiRun(t *testing.T) {
	const w = 128
	ow := newOutstandingWindow(w, 72) // window will cover [72, 199] once filled to 200
	for s := uint64(72); s < 200; s++ {
		ow.add(&PktDesc{SentTimestamp: s})
	}
	if ow.nextSeqno != 200 {
		t.Fatalf("setup error: nextSeqno = %d, want 200", ow.nextSeqno)
	}

	const ackRunlen = uint32(0x0212_0000)
	const ackSeq = uint16(199)

	var acked []uint64
	result := ow.decodeAck(ackRunlen, ackSeq, func(pd *PktDesc) { acked = append(acked, pd.Seqno) })

	want := []uint64{199, 198, 197, 195, 194}
	if result.positiveAcks != len(want) {
		t.Fatalf("positiveAcks = %d, want %d (acked=%v)", result.positiveAcks, len(want), acked)
	}
	for i, s := range want {
		if acked[i] != s {
			t.Fatalf("acked[%d] = %d, want %d (full=%v)", i, acked[i], s, acked)
		}
	}
	if !ow.isUnacked(196) {
		t.Fatalf("seqno 196 should remain unacked (the skipped gap)")
	}
	if !ow.isUnacked(193) {
		t.Fatalf("seqno 193 should remain unacked (below the second run)")
	}
	if got := ow.earliestUnacked(); got != 72 {
		t.Fatalf("earliestUnacked = %d, want 72", got)
	}
}
