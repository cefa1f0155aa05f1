package arp

import (
	"fmt"
	"net"

	"github.com/veesix-networks/linkd/pkg/ethernet"
)

// BuildFrame returns the 42-byte Ethernet frame carrying p. The frame is
// not padded to the Ethernet minimum; the kernel pads on transmit.
func BuildFrame(dst, src net.HardwareAddr, p *Packet) ([]byte, error) {
	payload, err := p.Marshal()
	if err != nil {
		return nil, err
	}

	hdr := ethernet.Header{Dst: dst, Src: src, EtherType: ethernet.EtherTypeARP}
	frame := hdr.AppendTo(make([]byte, 0, FrameLen))
	return append(frame, payload...), nil
}

// ParseFrame splits an Ethernet frame into its header and ARP payload.
func ParseFrame(frame []byte) (*ethernet.Header, *Packet, error) {
	hdr, err := ethernet.ParseHeader(frame)
	if err != nil {
		return nil, nil, err
	}
	if hdr.EtherType != ethernet.EtherTypeARP {
		return nil, nil, fmt.Errorf("not an ARP frame: ethertype %#04x", hdr.EtherType)
	}

	p, err := Parse(frame[ethernet.HeaderLen:])
	if err != nil {
		return nil, nil, err
	}
	return hdr, p, nil
}
