// Package natsbridge mirrors in-process bus traffic onto NATS subjects so
// dashboards and recorders can follow the swarm from outside the process.
package natsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"btc-agent-swarm/internal/bus"
	"btc-agent-swarm/internal/logger"
)

const DefaultSubjectPrefix = "swarm"

// Publisher is the subset of *nats.Conn the bridge uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Bridge publishes every bus message as JSON on <prefix>.<type>.
type Bridge struct {
	pub    Publisher
	prefix string
	conn   *nats.Conn

	mu     sync.Mutex
	unsub  func()
	failed int64
}

// Connect dials NATS with unlimited reconnects.
func Connect(ctx context.Context, url, prefix string) (*Bridge, error) {
	nc, err := nats.Connect(url,
		nats.Name("btc-agent-swarm"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn(ctx, "NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info(ctx, "NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	b := New(nc, prefix)
	b.conn = nc
	logger.Info(ctx, "Connected to NATS", "url", nc.ConnectedUrl(), "prefix", b.prefix)
	return b, nil
}

func New(pub Publisher, prefix string) *Bridge {
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Bridge{pub: pub, prefix: prefix}
}

func (b *Bridge) Subject(t bus.MessageType) string {
	return b.prefix + "." + string(t)
}

// Attach starts mirroring messages from mb. Calling it twice is a no-op.
func (b *Bridge) Attach(mb *bus.Bus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unsub != nil {
		return
	}
	b.unsub = mb.SubscribeAll(b.forward)
}

func (b *Bridge) forward(ctx context.Context, m bus.Message) {
	data, err := json.Marshal(m)
	if err == nil {
		err = b.pub.Publish(b.Subject(m.Type), data)
	}
	if err != nil {
		b.mu.Lock()
		b.failed++
		b.mu.Unlock()
		logger.Debug(ctx, "NATS mirror publish failed", "message_id", m.ID, "type", m.Type, "error", err)
	}
}

// Failed reports how many messages could not be mirrored.
func (b *Bridge) Failed() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failed
}

// Close detaches from the bus and drains the connection if the bridge owns it.
func (b *Bridge) Close() error {
	b.mu.Lock()
	unsub := b.unsub
	b.unsub = nil
	b.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	if b.conn != nil {
		return b.conn.Drain()
	}
	return nil
}
