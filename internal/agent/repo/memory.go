package repo

import (
	"context"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/toleds/rag-bot/internal/agent/model"
	logx "github.com/toleds/rag-bot/pkg/logger"
)

type memThread struct {
	thread   model.Thread
	lastSeen time.Time
}

// MemorySessionMemory keeps threads in process memory. History grows without
// bound unless an idle TTL is configured, in which case a janitor goroutine
// evicts threads untouched for longer than ttl.
type MemorySessionMemory struct {
	mu      sync.Mutex
	threads map[string]*memThread
	ttl     time.Duration
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemorySessionMemory creates the store. ttl <= 0 disables eviction.
func NewMemorySessionMemory(ttl time.Duration) *MemorySessionMemory {
	m := &MemorySessionMemory{
		threads: make(map[string]*memThread),
		ttl:     ttl,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if ttl > 0 {
		go m.janitor(janitorInterval(ttl))
	}
	return m
}

func janitorInterval(ttl time.Duration) time.Duration {
	interval := ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

// thread returns the user's thread, creating it; callers hold mu.
func (m *MemorySessionMemory) thread(userID string) *memThread {
	t, ok := m.threads[userID]
	if !ok {
		t = &memThread{thread: model.Thread{ID: uuid.NewString(), UserID: userID}}
		m.threads[userID] = t
		logx.Debug().Str("userID", userID).Str("threadID", t.thread.ID).Msg("Created session thread")
	}
	t.lastSeen = m.now()
	return t
}

func (m *MemorySessionMemory) GetOrCreateThread(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thread(normalizeUser(userID)).thread.ID, nil
}

func (m *MemorySessionMemory) Append(_ context.Context, userID, question, answer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.thread(normalizeUser(userID))
	t.thread.Turns = append(t.thread.Turns, model.Turn{Question: question, Answer: answer})
	return nil
}

func (m *MemorySessionMemory) RawHistory(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[normalizeUser(userID)]
	if !ok {
		return model.NoHistoryPlaceholder, nil
	}
	return renderTurns(t.thread.Turns), nil
}

func (m *MemorySessionMemory) AppendMessages(_ context.Context, userID string, messages ...*schema.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.thread(normalizeUser(userID))
	for _, msg := range messages {
		if msg != nil {
			t.thread.Messages = append(t.thread.Messages, msg)
		}
	}
	return nil
}

func (m *MemorySessionMemory) LoadMessages(_ context.Context, userID string) ([]*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[normalizeUser(userID)]
	if !ok {
		return []*schema.Message{}, nil
	}
	out := make([]*schema.Message, len(t.thread.Messages))
	copy(out, t.thread.Messages)
	return out, nil
}

func (m *MemorySessionMemory) Clear(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, normalizeUser(userID))
	return nil
}

// Evict removes threads idle for longer than the TTL and returns how many were removed.
func (m *MemorySessionMemory) Evict() int {
	if m.ttl <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.ttl)

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, t := range m.threads {
		if t.lastSeen.Before(cutoff) {
			delete(m.threads, id)
			n++
		}
	}
	return n
}

// Close stops the janitor.
func (m *MemorySessionMemory) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	return nil
}

func (m *MemorySessionMemory) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if n := m.Evict(); n > 0 {
				logx.Debug().Int("evicted", n).Msg("Evicted idle session threads")
			}
		}
	}
}

var _ model.SessionMemory = (*MemorySessionMemory)(nil)
