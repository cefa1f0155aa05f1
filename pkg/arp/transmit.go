package arp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/mdlayher/packet"

	"github.com/veesix-networks/linkd/pkg/ethernet"
	"github.com/veesix-networks/linkd/pkg/logger"
)

// Transmitter writes a complete Ethernet frame on a named link.
type Transmitter interface {
	Transmit(ctx context.Context, ifname string, frame []byte) error
}

// RawTransmitter sends frames through an AF_PACKET raw socket bound to the
// ARP EtherType. A socket is opened per frame; announcements are rare.
type RawTransmitter struct{}

// Transmit refuses anything that does not decode as an ARP frame and sends
// it to the frame's own destination address.
func (RawTransmitter) Transmit(ctx context.Context, ifname string, frame []byte) error {
	hdr, p, err := ParseFrame(frame)
	if err != nil {
		return fmt.Errorf("malformed frame for %q: %w", ifname, err)
	}

	ifi, err := net.InterfaceByName(ifname)
	if err != nil {
		return fmt.Errorf("lookup %q: %w", ifname, err)
	}

	conn, err := packet.Listen(ifi, packet.Raw, int(ethernet.EtherTypeARP), nil)
	if err != nil {
		return fmt.Errorf("open raw socket on %q: %w", ifname, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}

	if _, err := conn.WriteTo(frame, &packet.Addr{HardwareAddr: hdr.Dst}); err != nil {
		return fmt.Errorf("write frame on %q: %w", ifname, err)
	}
	logger.Get(logger.ARP).Debug("Transmitted ARP frame", "interface", ifname,
		"op", p.Operation, "sender", p.SenderIP.String(), "target", p.TargetIP.String())
	return nil
}

// Send builds one ARP frame from the caller's fields and transmits it.
func Send(ctx context.Context, tx Transmitter, ifname string, op uint16,
	senderMAC net.HardwareAddr, senderIP net.IP, targetMAC net.HardwareAddr, targetIP net.IP) error {

	frame, err := BuildFrame(targetMAC, senderMAC, &Packet{
		Operation: op,
		SenderMAC: senderMAC,
		SenderIP:  senderIP,
		TargetMAC: targetMAC,
		TargetIP:  targetIP,
	})
	if err != nil {
		return err
	}
	return tx.Transmit(ctx, ifname, frame)
}

const (
	DefaultAnnounceCount    = 3
	DefaultAnnounceInterval = time.Second
)

// Announcer broadcasts gratuitous ARP requests.
type Announcer struct {
	Transmitter Transmitter
	Count       int
	Interval    time.Duration

	logger *slog.Logger
}

func NewAnnouncer(tx Transmitter) *Announcer {
	return &Announcer{
		Transmitter: tx,
		Count:       DefaultAnnounceCount,
		Interval:    DefaultAnnounceInterval,
		logger:      logger.Get(logger.ARP),
	}
}

// Announce sends Count broadcast requests for ip from mac, Interval apart.
// It returns the number of frames sent.
func (a *Announcer) Announce(ctx context.Context, ifname string, mac net.HardwareAddr, ip net.IP) (int, error) {
	log := a.logger
	if log == nil {
		log = logger.Get(logger.ARP)
	}

	sent := 0
	for i := 0; i < a.Count; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return sent, ctx.Err()
			case <-time.After(a.Interval):
			}
		}

		if err := Send(ctx, a.Transmitter, ifname, OpRequest, mac, ip, ethernet.Broadcast, ip); err != nil {
			return sent, fmt.Errorf("gratuitous ARP %d/%d on %q: %w", i+1, a.Count, ifname, err)
		}
		sent++
		log.Debug("Sent gratuitous ARP", "interface", ifname, "ip", ip.String(), "seq", sent)
	}

	log.Info("Announced address", "interface", ifname, "ip", ip.String(), "frames", sent)
	return sent, nil
}
