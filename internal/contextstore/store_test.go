package contextstore

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nestor/internal/agent/ports"
)

func newTestStore() *Store {
	return New(16, 3, time.Hour, nil)
}

func TestGetCreatesOnFirstTouch(t *testing.T) {
	s := newTestStore()
	assert.Zero(t, s.Len())
	first := s.Get("alice")
	assert.Equal(t, 1, s.Len())
	assert.Same(t, first, s.Get("alice"), "second touch returns the same session")
}

func TestAppendBoundedFIFO(t *testing.T) {
	s := newTestStore()
	for i := 0; i < 5; i++ {
		s.AppendExchange("alice", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i), nil)
	}
	exchanges := s.Exchanges("alice")
	require.Len(t, exchanges, 3, "capacity evicts the oldest")
	assert.Equal(t, "q2", exchanges[0].UserText)
	assert.Equal(t, "q4", exchanges[2].UserText)
}

func TestTimestampsMonotone(t *testing.T) {
	s := newTestStore()
	for i := 0; i < 3; i++ {
		s.AppendExchange("alice", "q", "a", nil)
	}
	exchanges := s.Exchanges("alice")
	for i := 1; i < len(exchanges); i++ {
		assert.True(t, exchanges[i].Timestamp.After(exchanges[i-1].Timestamp))
	}
}

func TestFormatHistory(t *testing.T) {
	s := newTestStore()
	s.AppendExchange("alice", "quelle heure est-il", "Il est midi.", nil)
	s.AppendExchange("alice", "capitale de la France", "Paris.", []ActionRecord{
		{Tool: "recall_knowledge", Status: ports.ObservationSuccess},
	})

	messages := s.FormatHistory("alice", 10)
	require.Len(t, messages, 4)
	assert.Equal(t, ports.Message{Role: "user", Content: "quelle heure est-il"}, messages[0])
	assert.Equal(t, "assistant", messages[1].Role)
	assert.Contains(t, messages[3].Content, "recall_knowledge")
}

func TestFormatHistoryWindow(t *testing.T) {
	s := New(16, 50, time.Hour, nil)
	for i := 0; i < 10; i++ {
		s.AppendExchange("alice", fmt.Sprintf("q%d", i), "a", nil)
	}
	messages := s.FormatHistory("alice", 2)
	require.Len(t, messages, 4, "two exchanges, two messages each")
	assert.Equal(t, "q8", messages[0].Content)
	assert.Equal(t, "q9", messages[2].Content)
}

func TestVariables(t *testing.T) {
	s := newTestStore()
	s.SetVariable("alice", "city", "Paris")
	v, ok := s.GetVariable("alice", "city")
	require.True(t, ok)
	assert.Equal(t, "Paris", v)

	_, ok = s.GetVariable("alice", "missing")
	assert.False(t, ok)
	_, ok = s.GetVariable("bob", "city")
	assert.False(t, ok, "scratchpads are per principal")
}

func TestClear(t *testing.T) {
	s := newTestStore()
	s.AppendExchange("alice", "q", "a", nil)
	s.SetVariable("alice", "k", 1)
	s.Clear("alice")

	assert.Empty(t, s.Exchanges("alice"))
	_, ok := s.GetVariable("alice", "k")
	assert.False(t, ok)
}

func TestStats(t *testing.T) {
	s := newTestStore()
	s.AppendExchange("alice", "q", "a", nil)
	s.SetVariable("alice", "k", 1)

	st := s.Stats("alice")
	assert.Equal(t, "alice", st.Principal)
	assert.Equal(t, 1, st.ExchangeCount)
	assert.Equal(t, 1, st.VariableCount)
	assert.False(t, st.LastExchange.IsZero())
}

func TestConcurrentAppendsSamePrincipal(t *testing.T) {
	s := New(16, 200, time.Hour, nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				s.AppendExchange("alice", "q", "a", nil)
			}
		}()
	}
	wg.Wait()

	exchanges := s.Exchanges("alice")
	require.Len(t, exchanges, 160)
	for i := 1; i < len(exchanges); i++ {
		assert.True(t, exchanges[i].Timestamp.After(exchanges[i-1].Timestamp), "appends serialize")
	}
}

func TestIdleTTLEviction(t *testing.T) {
	s := New(16, 50, 30*time.Millisecond, nil)
	s.AppendExchange("alice", "q", "a", nil)
	require.Len(t, s.Exchanges("alice"), 1)

	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, s.Exchanges("alice"), "idle session was evicted and recreated empty")
}
