package bus

import "sort"

// Query filters message history. Zero-valued fields match anything.
type Query struct {
	Type   MessageType
	Sender string
	Topic  string
	Limit  int
}

// Query returns matching history, newest first.
func (b *Bus) Query(q Query) []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Message
	for i := len(b.history) - 1; i >= 0; i-- {
		m := b.history[i]
		if q.Type != "" && m.Type != q.Type {
			continue
		}
		if q.Sender != "" && m.Sender != q.Sender {
			continue
		}
		if q.Topic != "" && m.Topic != q.Topic {
			continue
		}
		out = append(out, m)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out
}

// Thread returns rootID and every transitive reply to it, oldest first.
func (b *Bus) Thread(rootID string) []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	byID := make(map[string]Message, len(b.history))
	children := make(map[string][]string)
	for _, m := range b.history {
		byID[m.ID] = m
		if m.ReplyTo != "" {
			children[m.ReplyTo] = append(children[m.ReplyTo], m.ID)
		}
	}

	var out []Message
	seen := make(map[string]bool)
	var walk func(id string)
	walk = func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
		for _, c := range children[id] {
			walk(c)
		}
	}
	walk(rootID)

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (b *Bus) HistoryLen() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.history)
}
