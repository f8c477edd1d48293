package bus

import (
	"context"
	"sync"
	"time"
)

// Collector gathers messages matching a predicate until a target count is
// reached. Register it before sending the message that triggers replies.
type Collector struct {
	mu     sync.Mutex
	msgs   []Message
	want   int
	done   chan struct{}
	closed bool
	unsub  func()
}

// Collect subscribes to every message and keeps those accepted by match.
func (b *Bus) Collect(match func(Message) bool, want int) *Collector {
	c := &Collector{want: want, done: make(chan struct{})}
	c.unsub = b.SubscribeAll(func(_ context.Context, m Message) {
		if !match(m) {
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return
		}
		c.msgs = append(c.msgs, m)
		if c.want > 0 && len(c.msgs) >= c.want {
			c.closed = true
			close(c.done)
		}
	})
	return c
}

// Wait blocks until the target count, the timeout or ctx cancellation,
// whichever comes first, and returns what arrived. A short result is not
// an error.
func (c *Collector) Wait(ctx context.Context, timeout time.Duration) []Message {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.done:
	case <-timer.C:
	case <-ctx.Done():
	}
	c.unsub()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return append([]Message(nil), c.msgs...)
}

// RepliesTo matches responses to the message with the given id.
func RepliesTo(id string) func(Message) bool {
	return func(m Message) bool { return m.ReplyTo == id }
}
