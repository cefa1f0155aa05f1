package failover

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/go-ping/ping"
)

const (
	defaultPingTimeout = time.Second
	pingPayloadSize    = 8
)

// ICMPPinger sends a single ICMP echo over a raw socket.
type ICMPPinger struct {
	Timeout time.Duration
}

func (p ICMPPinger) Ping(ctx context.Context, ip net.IP) error {
	pinger, err := ping.NewPinger(ip.String())
	if err != nil {
		return fmt.Errorf("create pinger: %w", err)
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}

	pinger.SetPrivileged(true)
	pinger.Count = 1
	pinger.Size = pingPayloadSize
	pinger.Timeout = timeout

	stop := context.AfterFunc(ctx, pinger.Stop)
	defer stop()

	if err := pinger.Run(); err != nil {
		return fmt.Errorf("ping %s: %w", ip, err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if stats := pinger.Statistics(); stats.PacketsRecv == 0 {
		return fmt.Errorf("ping %s: no reply within %s", ip, timeout)
	}
	return nil
}
