package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Callbacks is the engine's dependency on its surrounding scheduler (§6).
// All methods are invoked with the engine lock held; implementations must
// not call back into the engine.
type Callbacks interface {
	HandleAck(pd *PktDesc)
	HandleNegAck(pd *PktDesc)
	HandleReset()
	HandleAlloc(baseTslot uint16, dsts []uint16, slotBytes []byte)
}

// Transport is the engine's dependency on the datagram layer (§6). The
// engine calls SendDatagram; the transport calls DeliverDatagram on receipt.
type Transport interface {
	SendDatagram(ctx context.Context, buf []byte) error
}

// Stats records the §7 error-and-drop statistics. Passing nil disables
// counting.
type Stats interface {
	IncTooShortPacket()
	IncUnknownPayloadType()
	IncIncompletePayload()
	IncTooEarlyAck()
	IncOutOfWindowReset()
	IncOutdatedReset()
	IncRedundantReset()
	IncFallOff()
	IncSendFailure()
	IncAllocFailure()
}

// noopStats discards every count, so the engine never needs a nil check.
type noopStats struct{}

func (noopStats) IncTooShortPacket()      {}
func (noopStats) IncUnknownPayloadType()  {}
func (noopStats) IncIncompletePayload()   {}
func (noopStats) IncTooEarlyAck()         {}
func (noopStats) IncOutOfWindowReset()    {}
func (noopStats) IncOutdatedReset()       {}
func (noopStats) IncRedundantReset()      {}
func (noopStats) IncFallOff()             {}
func (noopStats) IncSendFailure()         {}
func (noopStats) IncAllocFailure()        {}

// nowFunc is overridable in tests; production uses wall-clock time in Unix
// nanoseconds, which carries no monotonic reading.
type nowFunc func() uint64

func realNow() uint64 { return uint64(time.Now().UnixNano()) }

// Engine is the single-peer protocol engine of §2: one object composing OW,
// SRS, AD, RT, and FCD behind one serializing lock.
type Engine struct {
	// id correlates this engine's log lines across a process that may bind
	// more than one peer over its lifetime.
	id  string
	cfg Config

	mu        sync.Mutex
	ow        *outstandingWindow
	srs       *sequenceResetState
	rt        *retransmitTimer
	earliest  uint64
	transport Transport
	stats     Stats
	now       nowFunc

	detached int32 // atomic; 1 once torn down, per §9's handle-detach pattern
	cb       Callbacks
}

// New constructs an Engine anchored on a fresh epoch taken from now().
func New(cfg Config, transport Transport, cb Callbacks, stats Stats) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if stats == nil {
		stats = noopStats{}
	}
	e := &Engine{
		id:        uuid.NewString(),
		cfg:       cfg,
		transport: transport,
		cb:        cb,
		stats:     stats,
		now:       realNow,
	}
	epoch := e.now()
	e.srs = newSequenceResetState(epoch)
	e.ow = newOutstandingWindow(cfg.WindowLen, deriveNextSeqno(epoch))
	e.rt = newRetransmitTimer(e.onTimerFire)
	return e, nil
}

// handle returns the active Callbacks, or nil once detached (§9).
func (e *Engine) handle() Callbacks {
	if atomic.LoadInt32(&e.detached) == 1 {
		return nil
	}
	return e.cb
}

// Close runs the §5 teardown sequence: detach the upper-layer handle so
// callbacks become no-ops, cancel the timer and wait for in-flight deferred
// work, then release every outstanding descriptor directly.
func (e *Engine) Close() {
	atomic.StoreInt32(&e.detached, 1)
	e.rt.stop()
	e.mu.Lock()
	e.ow.reset()
	e.mu.Unlock()
}

// PrepareToSend implements §4.5's prepare_to_send: it evicts a descriptor
// that has aged off the window before the caller is handed a fresh seqno.
func (e *Engine) PrepareToSend(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prepareToSendLocked(ctx)
}

func (e *Engine) prepareToSendLocked(ctx context.Context) {
	evictSeqno := e.ow.nextSeqno - uint64(e.ow.length)
	if e.ow.nextSeqno < uint64(e.ow.length) || !e.ow.isUnacked(evictSeqno) {
		return
	}
	pd := e.ow.pop(evictSeqno)
	e.stats.IncFallOff()
	if cb := e.handle(); cb != nil {
		cb.HandleNegAck(pd)
	}
	e.rearmLocked(ctx)
}

// CommitPacket implements §4.5's commit_packet: stamps pd with a fresh
// seqno and the current reset state, adds it to OW, and arms the timer if
// this is the first outstanding descriptor.
func (e *Engine) CommitPacket(ctx context.Context, pd *PktDesc) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(pd.Areq) > MaxAreqEntries {
		pd.Areq = pd.Areq[:MaxAreqEntries]
	}
	pd.SentTimestamp = e.now()
	pd.SendReset = !e.srs.inSync
	pd.ResetTimestamp = e.srs.lastResetTime
	e.ow.add(pd)
	if e.ow.numUnacked == 1 {
		e.armLocked(ctx, pd.SentTimestamp+uint64(e.cfg.SendTimeoutNs), pd.Seqno, false)
	}
}

// SendPacket implements §4.5's send_packet: encodes pd, fills the checksum,
// and hands the datagram to the transport.
func (e *Engine) SendPacket(ctx context.Context, pd *PktDesc) error {
	buf := encodeDatagram(pd)
	sum := onesComplementChecksum(checksumSeed(pd.Seqno, len(buf)), buf)
	buf[2] = byte(sum >> 8)
	buf[3] = byte(sum)
	if err := e.transport.SendDatagram(ctx, buf); err != nil {
		e.stats.IncSendFailure()
		return errors.Wrap(err, "sending fastpass datagram")
	}
	return nil
}

// DeliverDatagram is the Transport-facing entry point: it is invoked by the
// transport on receipt of an inbound datagram (§5 receive path, §6).
func (e *Engine) DeliverDatagram(ctx context.Context, buf []byte) {
	if _, _, err := decodeHeader(buf); err != nil {
		e.stats.IncTooShortPacket()
		return
	}
	payloads, unknown, truncated := decodePayloads(buf)
	if unknown {
		e.stats.IncUnknownPayloadType()
	}
	if truncated {
		e.stats.IncIncompletePayload()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, p := range payloads {
		switch {
		case p.reset != nil:
			e.applyResetLocked(ctx, p.reset.partial)
		case p.ack != nil:
			e.applyAckLocked(ctx, p.ack.ackRunlen, p.ack.ackSeq)
		case p.alloc != nil:
			if cb := e.handle(); cb != nil {
				cb.HandleAlloc(p.alloc.baseTslot, p.alloc.dsts, p.alloc.slotBytes)
			}
		}
	}
}

func (e *Engine) applyAckLocked(ctx context.Context, ackRunlen uint32, ackSeq uint16) {
	cb := e.handle()
	result := e.ow.decodeAck(ackRunlen, ackSeq, func(pd *PktDesc) {
		if cb != nil {
			cb.HandleAck(pd)
		}
	})
	if result.tooEarly {
		e.stats.IncTooEarlyAck()
	}
	if result.positiveAcks > 0 {
		e.rearmLocked(ctx)
	}
}

func (e *Engine) applyResetLocked(ctx context.Context, partial uint64) {
	now := e.now()
	outcome, full := e.srs.classify(partial, now, uint64(e.cfg.ResetWindowNs))
	switch outcome {
	case resetSyncedOnly:
		e.srs.inSync = true
	case resetRedundant:
		e.stats.IncRedundantReset()
	case resetOutOfWindow:
		e.stats.IncOutOfWindowReset()
	case resetOutdated:
		e.stats.IncOutdatedReset()
	case resetAccepted:
		e.doProtoResetLocked(ctx, full)
	}
}

// doProtoResetLocked implements §4.2 step 5's do_proto_reset: clear OW,
// adopt the new epoch, derive a fresh next_seqno, and notify the scheduler.
func (e *Engine) doProtoResetLocked(ctx context.Context, full uint64) {
	dlog.Debugf(ctx, "fastpass engine %s: accepting reset, new epoch=%d evicting %d unacked", e.id, full, e.ow.numUnacked)
	freed := e.ow.reset()
	cb := e.handle()
	for _, pd := range freed {
		if cb != nil {
			cb.HandleNegAck(pd)
		}
	}
	e.srs.lastResetTime = full
	e.ow = newOutstandingWindow(e.cfg.WindowLen, deriveNextSeqno(full))
	e.srs.inSync = true
	if cb != nil {
		cb.HandleReset()
	}
	e.disarmLocked(false)
}

// armLocked arms the timer at the given absolute deadline (nanoseconds since
// the Unix epoch, matching e.now()) for the descriptor at seqno. selfFire
// must be true only when called from onTimerFire's own tail (see
// retransmitTimer.rearmAfterFire); every other caller passes false.
func (e *Engine) armLocked(ctx context.Context, deadlineNs uint64, seqno uint64, selfFire bool) {
	e.earliest = seqno
	dl := time.Unix(0, int64(deadlineNs))
	if selfFire {
		e.rt.rearmAfterFire(ctx, dl, true)
	} else {
		e.rt.rearm(ctx, dl, true)
	}
}

func (e *Engine) disarmLocked(selfFire bool) {
	if selfFire {
		e.rt.rearmAfterFire(context.Background(), time.Time{}, false)
	} else {
		e.rt.rearm(context.Background(), time.Time{}, false)
	}
}

// rearmLocked implements §4.4's rearm: disarm if OW is empty, else arm at
// earliest_unacked's deadline. Always called from outside onTimerFire.
func (e *Engine) rearmLocked(ctx context.Context) {
	if e.ow.empty() {
		e.disarmLocked(false)
		return
	}
	s := e.ow.earliestUnacked()
	pd := e.ow.bins[e.ow.pos(s)]
	e.armLocked(ctx, pd.SentTimestamp+uint64(e.cfg.SendTimeoutNs), s, false)
}

// onTimerFire is the RT deferred-work callback of §4.4/§9: it runs with no
// lock held (time.AfterFunc's own goroutine), takes the engine lock, and
// walks OW for every descriptor past its deadline. Its own re-arm at the
// tail must unconditionally install a fresh timer rather than going through
// the guarded rearm used elsewhere: Stop on the timer that is, right now,
// running this very callback always reports false, which would otherwise
// make the re-arm a permanent no-op once any fire ever happened while
// descriptors remained outstanding.
func (e *Engine) onTimerFire(ctx context.Context) {
	if e.handle() == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ow.empty() {
		e.disarmLocked(true)
		return
	}

	now := e.now()
	s := e.earliest
	for {
		s = e.ow.earliestUnackedHint(s)
		pd := e.ow.bins[e.ow.pos(s)]
		if pd.SentTimestamp+uint64(e.cfg.SendTimeoutNs) > now {
			break
		}
		e.ow.pop(s)
		if cb := e.handle(); cb != nil {
			cb.HandleNegAck(pd)
		}
		if e.ow.empty() {
			break
		}
	}

	if e.ow.empty() {
		e.disarmLocked(true)
		return
	}
	pd := e.ow.bins[e.ow.pos(s)]
	e.armLocked(ctx, pd.SentTimestamp+uint64(e.cfg.SendTimeoutNs), s, true)
}
