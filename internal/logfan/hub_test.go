package logfan

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, s *Subscription, n int) []string {
	t.Helper()
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		select {
		case rec := <-s.Ch():
			out = append(out, string(rec))
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d records", i)
		}
	}
	return out
}

func TestPublishSubscribeOrder(t *testing.T) {
	h := NewHub()
	s := h.Subscribe("builder-01")
	defer s.Close()

	h.Publish("builder-01", []byte("one"))
	h.Publish("builder-01", []byte("two"))
	h.Publish("builder-01", []byte("three"))

	assert.Equal(t, []string{"one", "two", "three"}, collect(t, s, 3))
}

func TestReplayOnAttach(t *testing.T) {
	h := NewHub()
	h.Publish("builder-01", []byte("early"))
	h.Publish("builder-01", []byte("late"))

	s := h.Subscribe("builder-01")
	defer s.Close()
	assert.Equal(t, []string{"early", "late"}, collect(t, s, 2))
}

func TestReplayBounded(t *testing.T) {
	h := NewHub()
	for i := 0; i < ReplayDepth+10; i++ {
		h.Publish("builder-01", []byte(fmt.Sprintf("line %d", i)))
	}

	s := h.Subscribe("builder-01")
	defer s.Close()

	got := collect(t, s, ReplayDepth)
	require.Len(t, got, ReplayDepth)
	assert.Equal(t, "line 10", got[0])
	assert.Equal(t, fmt.Sprintf("line %d", ReplayDepth+9), got[ReplayDepth-1])
}

func TestHostnamesIsolated(t *testing.T) {
	h := NewHub()
	s := h.Subscribe("builder-01")
	defer s.Close()

	h.Publish("builder-02", []byte("other"))
	h.Publish("builder-01", []byte("mine"))

	assert.Equal(t, []string{"mine"}, collect(t, s, 1))
}

func TestClosedSubscriptionStopsReceiving(t *testing.T) {
	h := NewHub()
	s := h.Subscribe("builder-01")
	s.Close()

	// Publishing after close must not panic or deliver.
	h.Publish("builder-01", []byte("after"))

	_, open := <-s.Ch()
	assert.False(t, open)
}
