package control

import (
	"context"
	"fmt"
	"io"
	"net"
)

// Send delivers one command and waits until the daemon has handled it and
// closed the connection.
func Send(ctx context.Context, socket, command string) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", socket)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", socket, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if _, err := io.WriteString(conn, command); err != nil {
		return fmt.Errorf("send %q: %w", command, err)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		if err := uc.CloseWrite(); err != nil {
			return fmt.Errorf("close write: %w", err)
		}
	}

	if _, err := io.Copy(io.Discard, conn); err != nil {
		return fmt.Errorf("wait for %q: %w", command, err)
	}
	return nil
}
