package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// lineClient keeps a TCP connection to a serial-to-network bridge (ser2net,
// socat, an ESP32 forwarding the USB stream) and hands each connection to a
// line consumer, reconnecting after failures.
type lineClient struct {
	addr           string
	reconnectDelay time.Duration
	dialTimeout    time.Duration
}

type stateFunc func(state, status, lastErr string)

func (c *lineClient) run(ctx context.Context, setState stateFunc, consume func(r io.Reader) error) {
	dialer := &net.Dialer{Timeout: c.dialTimeout}

	for {
		if ctx.Err() != nil {
			return
		}

		setState(StateConnecting, "Connecting to "+c.addr, "")
		conn, err := dialer.DialContext(ctx, "tcp", c.addr)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			setState(StateError, fmt.Sprintf("ERROR: Could not connect to %s: %v", c.addr, err), err.Error())
			if !sleepCtx(ctx, c.reconnectDelay) {
				return
			}
			continue
		}

		setState(StateConnected, "Connected to "+c.addr, "")

		// Closing the conn is the only way to unblock a pending read.
		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		err = consume(conn)
		stop()
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		if err == nil || errors.Is(err, net.ErrClosed) {
			err = io.EOF
		}
		setState(StateDisconnected, fmt.Sprintf("Read error from %s: %v", c.addr, err), err.Error())

		if !sleepCtx(ctx, c.reconnectDelay) {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
