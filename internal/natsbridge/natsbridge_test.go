package natsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btc-agent-swarm/internal/bus"
	"btc-agent-swarm/internal/types"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject: subject, data: data})
	return nil
}

func TestBridgeMirrorsMessages(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	mb := bus.New(bus.Config{})
	br := New(pub, "swarm.test.")
	br.Attach(mb)
	br.Attach(mb)

	mb.Broadcast(ctx, "risk-manager", bus.TypeAlert, bus.TopicStopTrading, bus.AlertPayload{Alert: types.Alert{Kind: types.AlertStopTrading}})
	mb.SendTo(ctx, "chat", []string{"researcher"}, bus.TypeChat, bus.TopicChat, bus.ChatRequest{Query: "news?"})

	require.Len(t, pub.msgs, 2)
	assert.Equal(t, "swarm.test.alert", pub.msgs[0].subject)
	assert.Equal(t, "swarm.test.chat", pub.msgs[1].subject)

	var decoded struct {
		Sender  string `json:"sender"`
		Topic   string `json:"topic"`
		Payload struct {
			Alert types.Alert `json:"alert"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(pub.msgs[0].data, &decoded))
	assert.Equal(t, "risk-manager", decoded.Sender)
	assert.Equal(t, types.AlertStopTrading, decoded.Payload.Alert.Kind)

	require.NoError(t, br.Close())
	mb.Broadcast(ctx, "x", bus.TypeAnalysis, "t", nil)
	assert.Len(t, pub.msgs, 2)
}

func TestBridgeCountsFailures(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats down")}
	mb := bus.New(bus.Config{})
	br := New(pub, "")
	br.Attach(mb)

	mb.Broadcast(context.Background(), "x", bus.TypeAnalysis, "t", nil)
	assert.Equal(t, int64(1), br.Failed())
	assert.Equal(t, "swarm.analysis", br.Subject(bus.TypeAnalysis))
}
