// Package udp forwards published sensor batches as JSON datagrams for
// external plotting tools.
package udp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync/atomic"
	"time"

	"fingerviz/internal/ingest"
)

// errLogEvery bounds how often send failures are logged.
const errLogEvery = 10 * time.Second

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)
type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

type Broadcaster struct {
	dest string
	conn udpConn

	sent   atomic.Uint64
	failed atomic.Uint64

	now        func() time.Time
	lastErrLog time.Time
}

func NewBroadcaster(dest string) (*Broadcaster, error) {
	return newBroadcaster(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	})
}

func newBroadcaster(dest string, resolve resolveFunc, dial dialFunc) (*Broadcaster, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}

	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}

	return &Broadcaster{
		dest: dest,
		conn: conn,
		now:  time.Now,
	}, nil
}

func (b *Broadcaster) Dest() string { return b.dest }

func (b *Broadcaster) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	_, err := b.conn.Write(payload)
	return err
}

// Stats returns datagrams sent and failed since creation.
func (b *Broadcaster) Stats() (sent, failed uint64) {
	return b.sent.Load(), b.failed.Load()
}

// Run sends every batch published on hub until ctx ends.
func (b *Broadcaster) Run(ctx context.Context, hub *ingest.Hub) error {
	if hub == nil {
		return fmt.Errorf("hub is nil")
	}
	id, ch := hub.Subscribe(32)
	defer hub.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-ch:
			if !ok {
				return nil
			}
			b.forward(batch)
		}
	}
}

func (b *Broadcaster) forward(batch ingest.Batch) {
	if len(batch.Updates) == 0 {
		return
	}
	payload, err := json.Marshal(batch)
	if err != nil {
		b.failed.Add(1)
		return
	}
	if err := b.Send(payload); err != nil {
		b.failed.Add(1)
		now := b.now()
		if b.lastErrLog.IsZero() || now.Sub(b.lastErrLog) >= errLogEvery {
			b.lastErrLog = now
			log.Printf("udp send to %s failed: %v (failed_total=%d)", b.dest, err, b.failed.Load())
		}
		return
	}
	b.sent.Add(1)
}

func (b *Broadcaster) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}
