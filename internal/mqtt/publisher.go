// Package mqtt publishes sensor updates to an MQTT broker, one message per
// finger per batch under <prefix>/sensor/<n>.
package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"fingerviz/internal/ingest"
	"fingerviz/internal/sensor"
)

type Config struct {
	// Broker is a URL: mqtt://host:1883, tcp://host:1883 or mqtts://host:8883.
	Broker      string
	TopicPrefix string
	// ClientID defaults to fingerviz-<random>.
	ClientID       string
	QoS            byte
	KeepAlive      time.Duration
	ReconnectDelay time.Duration
}

// Message is the JSON body published for one finger.
type Message struct {
	Sensor  int     `json:"sensor"`
	Name    string  `json:"name"`
	AtUTC   string  `json:"at_utc"`
	XMM     float64 `json:"x_mm"`
	YMM     float64 `json:"y_mm"`
	ZMM     float64 `json:"z_mm"`
	ForceG  float64 `json:"force_g"`
	HasLoad bool    `json:"has_load"`
}

type Snapshot struct {
	Broker         string `json:"broker"`
	ClientID       string `json:"client_id"`
	Connected      bool   `json:"connected"`
	PublishedTotal uint64 `json:"published_total"`
	DroppedTotal   uint64 `json:"dropped_total"`
	LastError      string `json:"last_error,omitempty"`
}

type connProvider func(ctx context.Context) (net.Conn, error)

type Publisher struct {
	cfg  Config
	dial connProvider

	mu      sync.Mutex
	client  *paho.Client
	lastErr string

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewClientID returns a broker-safe client id (at most 23 bytes).
func NewClientID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "fingerviz-" + id[len(id)-12:]
}

func New(cfg Config) (*Publisher, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.Broker))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid broker url %q", cfg.Broker)
	}
	dial, err := dialerFor(u)
	if err != nil {
		return nil, err
	}
	cfg.TopicPrefix = strings.TrimRight(cfg.TopicPrefix, "/")
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "fingerviz"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = NewClientID()
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 30 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	return &Publisher{cfg: cfg, dial: dial}, nil
}

func dialerFor(u *url.URL) (connProvider, error) {
	host := u.Host
	switch strings.ToLower(u.Scheme) {
	case "mqtt", "tcp":
		if u.Port() == "" {
			host = net.JoinHostPort(u.Hostname(), "1883")
		}
		return func(ctx context.Context) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", host)
		}, nil
	case "mqtts", "ssl", "tls":
		if u.Port() == "" {
			host = net.JoinHostPort(u.Hostname(), "8883")
		}
		serverName := u.Hostname()
		return func(ctx context.Context) (net.Conn, error) {
			d := tls.Dialer{Config: &tls.Config{ServerName: serverName, MinVersion: tls.VersionTLS12}}
			return d.DialContext(ctx, "tcp", host)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}
}

// Topic returns the topic for sensor index idx (0-based); topics use the
// 1-based sensor number.
func Topic(prefix string, idx int) string {
	return fmt.Sprintf("%s/sensor/%d", prefix, idx+1)
}

func Payload(at time.Time, u sensor.Update) ([]byte, error) {
	return json.Marshal(Message{
		Sensor:  u.Index + 1,
		Name:    sensor.Name(u.Index),
		AtUTC:   at.UTC().Format(time.RFC3339Nano),
		XMM:     u.Sample.XMM,
		YMM:     u.Sample.YMM,
		ZMM:     u.Sample.ZMM,
		ForceG:  u.Sample.ForceG,
		HasLoad: u.Sample.HasLoad,
	})
}

func (p *Publisher) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		Broker:         p.cfg.Broker,
		ClientID:       p.cfg.ClientID,
		Connected:      p.client != nil,
		PublishedTotal: p.published.Load(),
		DroppedTotal:   p.dropped.Load(),
		LastError:      p.lastErr,
	}
}

// Run keeps a broker session alive and publishes every batch from hub until
// ctx ends. Batches arriving while disconnected are dropped.
func (p *Publisher) Run(ctx context.Context, hub *ingest.Hub) error {
	if hub == nil {
		return fmt.Errorf("hub is nil")
	}
	id, ch := hub.Subscribe(32)
	defer hub.Unsubscribe(id)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.connectLoop(ctx)
	}()
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-ch:
			if !ok {
				return nil
			}
			p.publishBatch(ctx, batch)
		}
	}
}

func (p *Publisher) currentClient() *paho.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}

func (p *Publisher) setClient(c *paho.Client, lastErr string) {
	p.mu.Lock()
	p.client = c
	if lastErr != "" {
		p.lastErr = lastErr
	} else if c != nil {
		p.lastErr = ""
	}
	p.mu.Unlock()
}

func (p *Publisher) publishBatch(ctx context.Context, batch ingest.Batch) {
	c := p.currentClient()
	if c == nil {
		p.dropped.Add(uint64(len(batch.Updates)))
		return
	}
	for _, u := range batch.Updates {
		body, err := Payload(batch.At, u)
		if err != nil {
			p.dropped.Add(1)
			continue
		}
		pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, err = c.Publish(pubCtx, &paho.Publish{
			Topic:   Topic(p.cfg.TopicPrefix, u.Index),
			QoS:     p.cfg.QoS,
			Payload: body,
		})
		cancel()
		if err != nil {
			p.dropped.Add(1)
			continue
		}
		p.published.Add(1)
	}
}

func (p *Publisher) connectLoop(ctx context.Context) {
	loggedFailure := false
	for ctx.Err() == nil {
		c, lost, err := p.connect(ctx)
		if err != nil {
			p.setClient(nil, err.Error())
			if !loggedFailure {
				log.Printf("mqtt connect to %s failed: %v (retrying every %s)", p.cfg.Broker, err, p.cfg.ReconnectDelay)
				loggedFailure = true
			}
			if !sleepCtx(ctx, p.cfg.ReconnectDelay) {
				return
			}
			continue
		}
		loggedFailure = false
		log.Printf("mqtt connected broker=%s client_id=%s", p.cfg.Broker, p.cfg.ClientID)

		select {
		case <-ctx.Done():
			_ = c.Disconnect(&paho.Disconnect{ReasonCode: 0})
			p.setClient(nil, "")
			return
		case <-lost:
			p.setClient(nil, "connection lost")
			log.Printf("mqtt connection to %s lost", p.cfg.Broker)
		}
		if !sleepCtx(ctx, p.cfg.ReconnectDelay) {
			return
		}
	}
}

// connect dials and performs the CONNECT handshake. The returned channel is
// closed when the session ends.
func (p *Publisher) connect(ctx context.Context) (*paho.Client, <-chan struct{}, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := p.dial(dialCtx)
	if err != nil {
		return nil, nil, err
	}

	lost := make(chan struct{})
	var once sync.Once
	signal := func() { once.Do(func() { close(lost) }) }

	c := paho.NewClient(paho.ClientConfig{
		ClientID: p.cfg.ClientID,
		Conn:     conn,
		OnClientError: func(err error) {
			p.setClient(nil, err.Error())
			signal()
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			signal()
		},
	})

	ack, err := c.Connect(dialCtx, &paho.Connect{
		ClientID:   p.cfg.ClientID,
		KeepAlive:  uint16(p.cfg.KeepAlive / time.Second),
		CleanStart: true,
	})
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if ack != nil && ack.ReasonCode >= 0x80 {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("broker refused connection: reason 0x%02x", ack.ReasonCode)
	}
	p.setClient(c, "")
	return c, lost, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
