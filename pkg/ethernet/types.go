package ethernet

import (
	"encoding/binary"
	"fmt"
	"net"
)

const (
	EtherTypeIPv4 uint16 = 0x0800
	EtherTypeARP  uint16 = 0x0806
	EtherTypeVLAN uint16 = 0x8100
	EtherTypeIPv6 uint16 = 0x86DD
)

const HeaderLen = 14

var Broadcast = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// Header is an untagged Ethernet II header.
type Header struct {
	Dst       net.HardwareAddr
	Src       net.HardwareAddr
	EtherType uint16
}

// AppendTo appends the 14 header bytes to b. Short addresses are zero padded.
func (h *Header) AppendTo(b []byte) []byte {
	var buf [HeaderLen]byte
	copy(buf[0:6], h.Dst)
	copy(buf[6:12], h.Src)
	binary.BigEndian.PutUint16(buf[12:14], h.EtherType)
	return append(b, buf[:]...)
}

func (h *Header) Marshal() []byte {
	return h.AppendTo(make([]byte, 0, HeaderLen))
}

func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderLen {
		return nil, fmt.Errorf("frame too short: %d bytes", len(data))
	}

	h := &Header{
		Dst:       make(net.HardwareAddr, 6),
		Src:       make(net.HardwareAddr, 6),
		EtherType: binary.BigEndian.Uint16(data[12:14]),
	}
	copy(h.Dst, data[0:6])
	copy(h.Src, data[6:12])
	return h, nil
}
