// Package transport provides the datagram transport the engine is bound to
// through its Transport and DeliverDatagram contract (§6). It assumes
// IP-level routing and framing-external checksumming are handled here, not
// in the engine.
package transport

import (
	"context"
	"net"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/pkg/errors"
)

// Receiver is the subset of engine.Engine the transport drives on receipt.
type Receiver interface {
	DeliverDatagram(ctx context.Context, buf []byte)
}

// UDP is the default transport: a single connected UDP socket to the peer.
// It grounds send_datagram/deliver_datagram directly in net.UDPConn, which
// is the one place in this module where no pack library improves on the
// standard library's own socket primitive (see DESIGN.md).
type UDP struct {
	conn *net.UDPConn
}

// DialUDP connects a UDP socket to (peerAddr, peerPort); the engine has
// exactly one peer per §1's non-goals, so a connected socket is sufficient.
func DialUDP(peerAddr string, peerPort uint16) (*UDP, error) {
	raddr := &net.UDPAddr{IP: net.ParseIP(peerAddr), Port: int(peerPort)}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing fastpass peer %s:%d", peerAddr, peerPort)
	}
	return &UDP{conn: conn}, nil
}

func (u *UDP) SendDatagram(ctx context.Context, buf []byte) error {
	_, err := u.conn.Write(buf)
	if err != nil {
		return errors.Wrap(err, "writing fastpass datagram")
	}
	return nil
}

func (u *UDP) Close() error {
	return u.conn.Close()
}

// Serve reads datagrams off the socket and hands each to recv until ctx is
// canceled, the way the teacher wires a long-running goroutine into a
// dgroup.Group rather than managing its own done channel.
func (u *UDP) Serve(ctx context.Context, recv Receiver) error {
	buf := make([]byte, 65535)
	for ctx.Err() == nil {
		n, err := u.conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "reading fastpass datagram")
		}
		recv.DeliverDatagram(ctx, buf[:n])
	}
	return nil
}

// Run registers Serve in g under the "fastpass-recv" goroutine name,
// matching the teacher's dgroup-managed-goroutine convention.
func Run(ctx context.Context, g *dgroup.Group, u *UDP, recv Receiver) {
	g.Go("fastpass-recv", func(ctx context.Context) error {
		dlog.Infof(ctx, "fastpass transport listening")
		return u.Serve(ctx, recv)
	})
}
