package chat

import (
	"container/list"
	"time"
)

type Entry struct {
	Role      string    `json:"role"`
	AgentID   string    `json:"agent_id,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type Session struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
	Messages   []Entry   `json:"messages"`
}

func (s *Session) clone() Session {
	c := *s
	c.Messages = append([]Entry(nil), s.Messages...)
	return c
}

// sessionStore is an LRU of sessions with an idle TTL. Not safe for
// concurrent use; the router serializes access.
type sessionStore struct {
	ttl   time.Duration
	max   int
	order *list.List
	items map[string]*list.Element
}

func newSessionStore(ttl time.Duration, max int) *sessionStore {
	return &sessionStore{ttl: ttl, max: max, order: list.New(), items: map[string]*list.Element{}}
}

func (s *sessionStore) expired(sess *Session, now time.Time) bool {
	return s.ttl > 0 && now.Sub(sess.LastActive) > s.ttl
}

// get returns a live session and marks it most recently used.
func (s *sessionStore) get(id string, now time.Time) (*Session, bool) {
	el, ok := s.items[id]
	if !ok {
		return nil, false
	}
	sess := el.Value.(*Session)
	if s.expired(sess, now) {
		s.remove(el)
		return nil, false
	}
	s.order.MoveToFront(el)
	return sess, true
}

func (s *sessionStore) add(sess *Session) {
	s.items[sess.ID] = s.order.PushFront(sess)
	for s.max > 0 && s.order.Len() > s.max {
		s.remove(s.order.Back())
	}
}

func (s *sessionStore) remove(el *list.Element) {
	s.order.Remove(el)
	delete(s.items, el.Value.(*Session).ID)
}

// prune drops idle sessions from the cold end and returns how many went.
func (s *sessionStore) prune(now time.Time) int {
	n := 0
	for el := s.order.Back(); el != nil; {
		prev := el.Prev()
		if s.expired(el.Value.(*Session), now) {
			s.remove(el)
			n++
		}
		el = prev
	}
	return n
}

func (s *sessionStore) len() int { return s.order.Len() }
