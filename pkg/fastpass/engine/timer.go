package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/datawire/dlib/derror"
	"github.com/datawire/dlib/dlog"
)

// retransmitTimer is the RT of §4.4: exactly one scheduled deadline exists at
// any moment. Firing is split, following §9's "timer callback re-entrancy"
// note and the teacher's processResends/tunWriteUnlocked pattern: a
// restricted-context callback (here, a real time.Timer firing on its own
// goroutine) only enqueues deferred work; the deferred work is what takes the
// engine lock and performs §4.4's scan.
type retransmitTimer struct {
	timer   *time.Timer
	running int32 // number of fire callbacks currently executing
	fire    func(ctx context.Context)
}

func newRetransmitTimer(fire func(ctx context.Context)) *retransmitTimer {
	return &retransmitTimer{fire: fire}
}

// schedule builds the fire closure shared by rearm and rearmAfterFire: the
// running count that stop waits on, panic containment, and the call into
// fire. A fire that starts while an earlier one is still returning is not
// dropped; it waits for the engine lock inside fire like any other.
func (rt *retransmitTimer) schedule(ctx context.Context, d time.Duration) *time.Timer {
	return time.AfterFunc(d, func() {
		atomic.AddInt32(&rt.running, 1)
		defer atomic.AddInt32(&rt.running, -1)
		defer func() {
			if r := recover(); r != nil {
				dlog.Errorf(ctx, "%+v", derror.PanicToError(r))
			}
		}()
		rt.fire(ctx)
	})
}

// rearm implements §4.4's arming rule for callers outside the firing
// goroutine (send/ack/reset paths). It must be called with the engine lock
// held; the caller computes deadline from ow, earliestUnacked and
// sendTimeoutNs under that lock and passes it in. If
// rt.timer has already fired and its deferred work is mid-flight (or queued)
// on another goroutine, Stop returns false and this is a deliberate no-op:
// that in-flight fire holds the same engine lock this caller is holding, so
// it cannot actually be concurrent with this call -- the only way rearm
// observes a fired-but-unprocessed timer is during the window before that
// goroutine has rearmed via rearmAfterFire, and it is about to do so itself.
func (rt *retransmitTimer) rearm(ctx context.Context, deadline time.Time, armed bool) {
	if rt.timer != nil {
		if !rt.timer.Stop() {
			return
		}
	}
	if !armed {
		rt.timer = nil
		return
	}
	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	rt.timer = rt.schedule(ctx, d)
}

// rearmAfterFire is rearm's counterpart for the tail of the fire callback
// itself (§4.4/§9's "the deferred work re-arms on its way out"). It is
// called from inside that same callback, so rt.timer is always the timer
// that is currently firing: time.Timer.Stop on it will always report false
// (already expired), which would make the guarded rearm above permanently
// skip scheduling a replacement. rearmAfterFire instead unconditionally
// installs a fresh timer (or leaves the RT disarmed), since nothing else can
// be racing this call -- the engine lock is held for the callback's entire
// duration, including this rearm.
func (rt *retransmitTimer) rearmAfterFire(ctx context.Context, deadline time.Time, armed bool) {
	if !armed {
		rt.timer = nil
		return
	}
	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	rt.timer = rt.schedule(ctx, d)
}

// stop cancels any scheduled deadline and waits for in-flight deferred work
// to quiesce, per the teardown sequence of §5.
func (rt *retransmitTimer) stop() {
	if rt.timer != nil {
		rt.timer.Stop()
	}
	for atomic.LoadInt32(&rt.running) != 0 {
		time.Sleep(time.Millisecond)
	}
}
