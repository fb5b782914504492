// Command fastpassctl sends a single synthetic allocation request to a
// FastPass peer and prints whatever ACKs and ALLOCs come back, for manual
// exercise of the wire protocol without a full scheduler attached.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/spf13/cobra"

	"github.com/fastpass-project/fastpass/internal/stats"
	"github.com/fastpass-project/fastpass/internal/transport"
	"github.com/fastpass-project/fastpass/pkg/fastpass/engine"
)

func main() {
	if err := Command().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func Command() *cobra.Command {
	var peerAddr string
	var peerPort uint16
	var dst uint16
	var tslots uint16
	var wait time.Duration

	c := &cobra.Command{
		Use:   "fastpassctl",
		Short: "Send a synthetic A-REQ to a FastPass peer and print the response",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), peerAddr, peerPort, dst, tslots, wait)
		},
	}
	c.Flags().StringVar(&peerAddr, "peer-addr", "", "peer IP address (required)")
	c.Flags().Uint16Var(&peerPort, "peer-port", 9281, "peer UDP port")
	c.Flags().Uint16Var(&dst, "dst", 1, "destination key for the synthetic A-REQ entry")
	c.Flags().Uint16Var(&tslots, "tslots", 1, "requested timeslot count")
	c.Flags().DurationVar(&wait, "wait", 2*time.Second, "how long to wait for a response before exiting")
	_ = c.MarkFlagRequired("peer-addr")
	return c
}

type printingCallbacks struct {
	ctx context.Context
}

func (p printingCallbacks) HandleAck(pd *engine.PktDesc) {
	dlog.Infof(p.ctx, "ack: seqno=%d", pd.Seqno)
}

func (p printingCallbacks) HandleNegAck(pd *engine.PktDesc) {
	dlog.Infof(p.ctx, "neg-ack: seqno=%d", pd.Seqno)
}

func (p printingCallbacks) HandleReset() {
	dlog.Infof(p.ctx, "reset acknowledged")
}

func (p printingCallbacks) HandleAlloc(baseTslot uint16, dsts []uint16, slotBytes []byte) {
	dlog.Infof(p.ctx, "alloc: base_tslot=%d dsts=%v slots=%x", baseTslot, dsts, slotBytes)
}

func run(ctx context.Context, peerAddr string, peerPort, dst, tslots uint16, wait time.Duration) error {
	cfg := engine.Config{
		SendTimeoutNs: int64(500 * time.Millisecond),
		ResetWindowNs: int64(time.Second),
		WindowLen:     128,
		PeerAddr:      peerAddr,
		PeerPort:      peerPort,
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	udp, err := transport.DialUDP(peerAddr, peerPort)
	if err != nil {
		return err
	}
	defer udp.Close()

	eng, err := engine.New(cfg, udp, printingCallbacks{ctx: ctx}, stats.New())
	if err != nil {
		return err
	}
	defer eng.Close()

	recvCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	go udp.Serve(recvCtx, eng)

	eng.PrepareToSend(ctx)
	pd := &engine.PktDesc{Areq: []engine.AreqEntry{{SrcDstKey: dst, Tslots: tslots}}}
	eng.CommitPacket(ctx, pd)
	if err := eng.SendPacket(ctx, pd); err != nil {
		return err
	}

	<-recvCtx.Done()
	return nil
}
