// Package logfan fans live build-log records from worker upload sockets
// out to viewer subscriptions, keyed by worker hostname.
package logfan

import "sync"

// ReplayDepth is how many recent records a new subscriber receives
// before live messages.
const ReplayDepth = 1000

// subscriberBuffer bounds the per-subscriber queue. A subscriber that
// falls this far behind starts losing records rather than stalling the
// producer.
const subscriberBuffer = 256

// Hub routes log records from producers to subscribers per hostname.
type Hub struct {
	mu       sync.Mutex
	channels map[string]*channel
}

type channel struct {
	// replay is a ring of the most recent records.
	replay [][]byte
	start  int
	count  int

	subs map[*Subscription]struct{}
}

// Subscription is a viewer's attachment to one hostname's log stream.
type Subscription struct {
	hub      *Hub
	hostname string
	ch       chan []byte
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{channels: make(map[string]*channel)}
}

func (h *Hub) channelLocked(hostname string) *channel {
	c, ok := h.channels[hostname]
	if !ok {
		c = &channel{
			replay: make([][]byte, ReplayDepth),
			subs:   make(map[*Subscription]struct{}),
		}
		h.channels[hostname] = c
	}
	return c
}

// Publish appends a record to the hostname's stream. Records keep
// producer order; slow subscribers lose records instead of blocking.
func (h *Hub) Publish(hostname string, record []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := h.channelLocked(hostname)

	idx := (c.start + c.count) % ReplayDepth
	if c.count == ReplayDepth {
		c.start = (c.start + 1) % ReplayDepth
	} else {
		c.count++
	}
	c.replay[idx] = record

	for s := range c.subs {
		select {
		case s.ch <- record:
		default:
		}
	}
}

// Subscribe attaches to a hostname's stream. The returned channel first
// yields the replay window, then live records.
func (h *Hub) Subscribe(hostname string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := h.channelLocked(hostname)
	s := &Subscription{
		hub:      h,
		hostname: hostname,
		ch:       make(chan []byte, ReplayDepth+subscriberBuffer),
	}
	for i := 0; i < c.count; i++ {
		s.ch <- c.replay[(c.start+i)%ReplayDepth]
	}
	c.subs[s] = struct{}{}
	return s
}

// Ch is the record stream.
func (s *Subscription) Ch() <-chan []byte {
	return s.ch
}

// Close detaches the subscription.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()

	if c, ok := s.hub.channels[s.hostname]; ok {
		delete(c.subs, s)
	}
	close(s.ch)
}
