// Package repo holds the session memory backends.
package repo

import (
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/toleds/rag-bot/internal/agent/model"
)

// Backend selects where session threads live.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendRedis  Backend = "redis"
)

// ParseBackend validates a configured backend name.
func ParseBackend(v string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(v))); b {
	case BackendMemory, BackendRedis:
		return b, nil
	case "":
		return BackendMemory, nil
	default:
		return "", fmt.Errorf("unsupported memory backend %q", v)
	}
}

// NewSessionMemory builds the selected backend. rdb is required for BackendRedis.
func NewSessionMemory(backend Backend, ttl time.Duration, rdb redis.Cmdable) (model.SessionMemory, error) {
	switch backend {
	case BackendMemory, "":
		return NewMemorySessionMemory(ttl), nil
	case BackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("redis memory backend requires a redis client")
		}
		return NewRedisSessionMemory(rdb, ttl), nil
	default:
		return nil, fmt.Errorf("unsupported memory backend %q", backend)
	}
}

// renderTurns joins turns as "Question: q Answer: a" separated by " | ".
func renderTurns(turns []model.Turn) string {
	if len(turns) == 0 {
		return model.NoHistoryPlaceholder
	}
	parts := make([]string, len(turns))
	for i, t := range turns {
		parts[i] = fmt.Sprintf("Question: %s Answer: %s", t.Question, t.Answer)
	}
	return strings.Join(parts, " | ")
}
