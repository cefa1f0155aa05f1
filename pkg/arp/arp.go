package arp

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	OpRequest uint16 = 1
	OpReply   uint16 = 2
)

const (
	PacketLen = 28
	FrameLen  = 14 + PacketLen
)

// Packet is an Ethernet/IPv4 ARP message.
type Packet struct {
	Operation uint16
	SenderMAC net.HardwareAddr
	SenderIP  net.IP
	TargetMAC net.HardwareAddr
	TargetIP  net.IP
}

// Parse decodes a bare ARP payload. Only Ethernet/IPv4 messages are
// accepted.
func Parse(data []byte) (*Packet, error) {
	if len(data) < PacketLen {
		return nil, fmt.Errorf("packet too short: %d bytes", len(data))
	}

	var l layers.ARP
	if err := l.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("decode ARP: %w", err)
	}
	if l.AddrType != layers.LinkTypeEthernet || l.Protocol != layers.EthernetTypeIPv4 ||
		l.HwAddressSize != 6 || l.ProtAddressSize != 4 {
		return nil, fmt.Errorf("unsupported ARP format: htype %d ptype %#04x", l.AddrType, uint16(l.Protocol))
	}

	return &Packet{
		Operation: l.Operation,
		SenderMAC: net.HardwareAddr(clone(l.SourceHwAddress)),
		SenderIP:  net.IP(clone(l.SourceProtAddress)),
		TargetMAC: net.HardwareAddr(clone(l.DstHwAddress)),
		TargetIP:  net.IP(clone(l.DstProtAddress)),
	}, nil
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}

// Marshal encodes the 28-byte payload.
func (p *Packet) Marshal() ([]byte, error) {
	senderIP := p.SenderIP.To4()
	targetIP := p.TargetIP.To4()
	if senderIP == nil || targetIP == nil {
		return nil, fmt.Errorf("ARP addresses must be IPv4: sender %s, target %s", p.SenderIP, p.TargetIP)
	}
	if len(p.SenderMAC) != 6 || len(p.TargetMAC) != 6 {
		return nil, fmt.Errorf("ARP hardware addresses must be 6 bytes: sender %s, target %s", p.SenderMAC, p.TargetMAC)
	}

	l := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         p.Operation,
		SourceHwAddress:   []byte(p.SenderMAC),
		SourceProtAddress: []byte(senderIP),
		DstHwAddress:      []byte(p.TargetMAC),
		DstProtAddress:    []byte(targetIP),
	}

	buf := gopacket.NewSerializeBuffer()
	if err := l.SerializeTo(buf, gopacket.SerializeOptions{}); err != nil {
		return nil, fmt.Errorf("serialize ARP: %w", err)
	}

	return buf.Bytes(), nil
}
