// Package stats defines the Prometheus counters that back the engine's §7
// error-and-drop statistics and provides a single Collector implementing
// engine.Stats.
package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tooShortPacket = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fastpass_too_short_packet_total",
		Help: "Inbound datagrams dropped for being shorter than the 4-byte header.",
	})
	unknownPayloadType = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fastpass_unknown_payload_type_total",
		Help: "Inbound datagrams with an unrecognized payload type nibble.",
	})
	incompletePayload = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fastpass_incomplete_payload_total",
		Help: "Inbound payloads truncated before their fixed or declared length.",
	})
	tooEarlyAck = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fastpass_too_early_ack_total",
		Help: "ACKs naming a sequence number below the outstanding window.",
	})
	outOfWindowReset = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fastpass_out_of_window_reset_total",
		Help: "RESETs whose reconstructed epoch fell outside the acceptance window.",
	})
	outdatedReset = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fastpass_outdated_reset_total",
		Help: "RESETs older than the currently agreed epoch, ignored.",
	})
	redundantReset = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fastpass_redundant_reset_total",
		Help: "RESETs matching the currently agreed epoch while already in sync.",
	})
	fallOff = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fastpass_fall_off_total",
		Help: "Descriptors evicted from the outstanding window before being acked.",
	})
	sendFailure = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fastpass_send_failure_total",
		Help: "Transport send_datagram failures.",
	})
	allocFailure = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fastpass_alloc_failure_total",
		Help: "Descriptor-allocation failures on the send path.",
	})
)

// Collector implements engine.Stats against the package-level counters
// above. It carries no state of its own; its methods exist only to satisfy
// the engine's Stats interface without engine importing prometheus directly.
type Collector struct{}

func New() *Collector { return &Collector{} }

func (*Collector) IncTooShortPacket()     { tooShortPacket.Inc() }
func (*Collector) IncUnknownPayloadType() { unknownPayloadType.Inc() }
func (*Collector) IncIncompletePayload()  { incompletePayload.Inc() }
func (*Collector) IncTooEarlyAck()        { tooEarlyAck.Inc() }
func (*Collector) IncOutOfWindowReset()   { outOfWindowReset.Inc() }
func (*Collector) IncOutdatedReset()      { outdatedReset.Inc() }
func (*Collector) IncRedundantReset()     { redundantReset.Inc() }
func (*Collector) IncFallOff()            { fallOff.Inc() }
func (*Collector) IncSendFailure()        { sendFailure.Inc() }
func (*Collector) IncAllocFailure()       { allocFailure.Inc() }
