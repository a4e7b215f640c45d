// Package contextstore keeps per-principal conversation state: a bounded
// FIFO of exchanges plus a free-form scratchpad. State is process-local;
// durability is a collaborator concern.
package contextstore

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"nestor/internal/agent/ports"
	"nestor/internal/logging"
)

// ActionRecord is the per-exchange trace of one invoked tool.
type ActionRecord struct {
	Tool      string                  `json:"tool"`
	Arguments map[string]any          `json:"arguments,omitempty"`
	Status    ports.ObservationStatus `json:"status"`
}

// Exchange is one completed user/assistant turn.
type Exchange struct {
	Timestamp     time.Time      `json:"ts"`
	UserText      string         `json:"user_text"`
	AssistantText string         `json:"assistant_text"`
	Actions       []ActionRecord `json:"actions,omitempty"`
}

// Session owns one principal's history. All access goes through its mutex so
// appends stay serialized and timestamps monotone.
type Session struct {
	mu        sync.Mutex
	principal string
	createdAt time.Time
	exchanges []Exchange
	variables map[string]any
	capacity  int
}

// SessionStats is the read-only snapshot returned by Stats.
type SessionStats struct {
	Principal     string    `json:"principal"`
	CreatedAt     time.Time `json:"created_at"`
	ExchangeCount int       `json:"exchange_count"`
	VariableCount int       `json:"variable_count"`
	LastExchange  time.Time `json:"last_exchange,omitempty"`
}

// Store maps principals to sessions. Sessions idle past the TTL are evicted
// wholesale; there is no global lock across principals beyond the map itself.
type Store struct {
	sessions *lru.LRU[string, *Session]
	capacity int
	logger   logging.Logger
	mu       sync.Mutex // guards create-on-first-touch
}

// New creates a store holding up to maxSessions sessions of exchangeCap
// exchanges each, evicted after idleTTL without access.
func New(maxSessions, exchangeCap int, idleTTL time.Duration, logger logging.Logger) *Store {
	if maxSessions <= 0 {
		maxSessions = 1024
	}
	if exchangeCap <= 0 {
		exchangeCap = 50
	}
	if idleTTL <= 0 {
		idleTTL = 24 * time.Hour
	}
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Store{capacity: exchangeCap, logger: logger}
	s.sessions = lru.NewLRU(maxSessions, func(principal string, _ *Session) {
		logger.Debug("Evicted session for %s", principal)
	}, idleTTL)
	return s
}

// Get returns the principal's session, creating it on first touch.
func (s *Store) Get(principal string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions.Get(principal); ok {
		// Re-add so the TTL measures idleness, not age.
		s.sessions.Add(principal, session)
		return session
	}
	session := &Session{
		principal: principal,
		createdAt: time.Now(),
		variables: make(map[string]any),
		capacity:  s.capacity,
	}
	s.sessions.Add(principal, session)
	s.logger.Debug("Created session for %s", principal)
	return session
}

// AppendExchange records a completed turn for the principal.
func (s *Store) AppendExchange(principal, userText, assistantText string, actions []ActionRecord) {
	s.Get(principal).append(userText, assistantText, actions)
}

// FormatHistory returns up to maxExchanges of the principal's history as
// role-tagged messages, newest last, ready for a planner prompt.
func (s *Store) FormatHistory(principal string, maxExchanges int) []ports.Message {
	return s.Get(principal).formatHistory(maxExchanges)
}

// SetVariable stores a scratchpad value on the principal's session.
func (s *Store) SetVariable(principal, key string, value any) {
	session := s.Get(principal)
	session.mu.Lock()
	session.variables[key] = value
	session.mu.Unlock()
}

// GetVariable reads a scratchpad value.
func (s *Store) GetVariable(principal, key string) (any, bool) {
	session := s.Get(principal)
	session.mu.Lock()
	defer session.mu.Unlock()
	value, ok := session.variables[key]
	return value, ok
}

// Clear drops the principal's session entirely.
func (s *Store) Clear(principal string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions.Remove(principal)
	s.logger.Debug("Cleared session for %s", principal)
}

// Stats snapshots the principal's session counters.
func (s *Store) Stats(principal string) SessionStats {
	return s.Get(principal).stats()
}

// Exchanges returns a copy of the principal's history, oldest first.
func (s *Store) Exchanges(principal string) []Exchange {
	session := s.Get(principal)
	session.mu.Lock()
	defer session.mu.Unlock()
	out := make([]Exchange, len(session.exchanges))
	copy(out, session.exchanges)
	return out
}

// Len reports how many sessions are live.
func (s *Store) Len() int {
	return s.sessions.Len()
}

func (sess *Session) append(userText, assistantText string, actions []ActionRecord) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	ts := time.Now()
	// Timestamps within a session are monotone even if the clock steps back.
	if n := len(sess.exchanges); n > 0 && !ts.After(sess.exchanges[n-1].Timestamp) {
		ts = sess.exchanges[n-1].Timestamp.Add(time.Nanosecond)
	}
	sess.exchanges = append(sess.exchanges, Exchange{
		Timestamp:     ts,
		UserText:      userText,
		AssistantText: assistantText,
		Actions:       actions,
	})
	if len(sess.exchanges) > sess.capacity {
		sess.exchanges = sess.exchanges[len(sess.exchanges)-sess.capacity:]
	}
}

func (sess *Session) formatHistory(maxExchanges int) []ports.Message {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	exchanges := sess.exchanges
	if maxExchanges > 0 && len(exchanges) > maxExchanges {
		exchanges = exchanges[len(exchanges)-maxExchanges:]
	}

	messages := make([]ports.Message, 0, len(exchanges)*2)
	for _, ex := range exchanges {
		messages = append(messages, ports.Message{Role: "user", Content: ex.UserText})
		content := ex.AssistantText
		if len(ex.Actions) > 0 {
			content = fmt.Sprintf("%s (tools used: %s)", content, joinActionNames(ex.Actions))
		}
		messages = append(messages, ports.Message{Role: "assistant", Content: content})
	}
	return messages
}

func (sess *Session) stats() SessionStats {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	st := SessionStats{
		Principal:     sess.principal,
		CreatedAt:     sess.createdAt,
		ExchangeCount: len(sess.exchanges),
		VariableCount: len(sess.variables),
	}
	if n := len(sess.exchanges); n > 0 {
		st.LastExchange = sess.exchanges[n-1].Timestamp
	}
	return st
}

func joinActionNames(actions []ActionRecord) string {
	names := ""
	for i, a := range actions {
		if i > 0 {
			names += ", "
		}
		names += a.Tool
	}
	return names
}
