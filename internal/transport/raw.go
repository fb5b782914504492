//go:build linux

package transport

import (
	"context"
	"net"

	"github.com/fastpass-project/fastpass/pkg/fastpass/engine"
	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// fastpassIPProto is the protocol number this transport dials out on; it is
// the same IPPROTO_FASTPASS value the engine's wire codec folds into its
// checksum pseudo-header (§4.5), so the two are kept as one constant rather
// than two numbers that could drift apart.
const fastpassIPProto = engine.IPProtoFastpass

// Raw is the raw-IP transport variant (§6's peer_addr/peer_port binding
// without a UDP port, for deployments that terminate FastPass directly on
// IPPROTO_FASTPASS rather than multiplexing through UDP). It grounds the
// engine's checksum pseudo-header in a real IP_HDRINCL socket rather than
// reimplementing IP framing.
type Raw struct {
	raw  *ipv4.RawConn
	peer net.IP
}

// DialRaw opens an IP_HDRINCL raw socket listening on every local IPv4
// address; peerAddr is the destination of every SendDatagram.
func DialRaw(peerAddr string) (*Raw, error) {
	peer := net.ParseIP(peerAddr)
	if peer == nil {
		return nil, errors.Errorf("invalid peer address %q", peerAddr)
	}

	pc, err := net.ListenPacket("ip4:"+itoa(fastpassIPProto), "0.0.0.0")
	if err != nil {
		return nil, errors.Wrap(err, "opening raw fastpass socket")
	}
	if ipConn, ok := pc.(*net.IPConn); ok {
		sc, err := ipConn.SyscallConn()
		if err == nil {
			var sockErr error
			if err := sc.Control(func(fd uintptr) { sockErr = setReuseAddr(int(fd)) }); err == nil {
				_ = sockErr // best-effort: a platform refusing SO_REUSEADDR still works for a single bind
			}
		}
	}
	raw, err := ipv4.NewRawConn(pc)
	if err != nil {
		pc.Close()
		return nil, errors.Wrap(err, "wrapping raw fastpass socket")
	}
	return &Raw{raw: raw, peer: peer}, nil
}

// itoa avoids pulling in strconv for a single constant-width conversion.
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [3]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func (r *Raw) SendDatagram(ctx context.Context, buf []byte) error {
	hdr := &ipv4.Header{
		Version:  ipv4.Version,
		Len:      ipv4.HeaderLen,
		TotalLen: ipv4.HeaderLen + len(buf),
		TTL:      64,
		Protocol: fastpassIPProto,
		Dst:      r.peer,
	}
	if err := r.raw.WriteTo(hdr, buf, nil); err != nil {
		return errors.Wrap(err, "writing raw fastpass datagram")
	}
	return nil
}

func (r *Raw) Close() error {
	return r.raw.Close()
}

// Serve reads raw FastPass datagrams (stripping the IP header, left to the
// kernel/ipv4.RawConn to parse) and hands the IP payload to recv.
func (r *Raw) Serve(ctx context.Context, recv Receiver) error {
	buf := make([]byte, 65535)
	for ctx.Err() == nil {
		_, payload, _, err := r.raw.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "reading raw fastpass datagram")
		}
		recv.DeliverDatagram(ctx, payload)
	}
	return nil
}

// setReuseAddr is exercised by deployments that rebind the raw socket across
// process restarts without waiting out the kernel's TIME_WAIT-equivalent
// hold on a raw IP protocol listener.
func setReuseAddr(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
}
