package engine

// AreqEntry is one (destination, timeslot-count) pair inside an A-REQ payload.
// Opaque to the reliability engine beyond framing (§3).
type AreqEntry struct {
	SrcDstKey uint16
	Tslots    uint16
}

// MaxAreqEntries is the wire limit on the number of AreqEntry values a single
// datagram may carry (n_areq ≤ 63, §3 — the count is packed into a 6-bit field).
const MaxAreqEntries = 63

// PktDesc is one transmitted (or about-to-be-transmitted) datagram descriptor,
// owned by the Outstanding Window once committed (§3).
type PktDesc struct {
	Seqno          uint64
	SentTimestamp  uint64
	SendReset      bool
	ResetTimestamp uint64
	Areq           []AreqEntry
}
