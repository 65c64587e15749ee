package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/toleds/rag-bot/internal/agent/model"
	errx "github.com/toleds/rag-bot/internal/core/error"
	logx "github.com/toleds/rag-bot/pkg/logger"
)

// RedisSessionMemory keeps each user's thread in Redis lists. Keys expire
// after ttl of inactivity when ttl > 0.
type RedisSessionMemory struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisSessionMemory(rdb redis.Cmdable, ttl time.Duration) *RedisSessionMemory {
	return &RedisSessionMemory{rdb: rdb, ttl: ttl}
}

func (r *RedisSessionMemory) threadKey(userID string) string {
	return fmt.Sprintf("session:%s:thread", userID)
}

func (r *RedisSessionMemory) turnsKey(userID string) string {
	return fmt.Sprintf("session:%s:turns", userID)
}

func (r *RedisSessionMemory) messagesKey(userID string) string {
	return fmt.Sprintf("session:%s:messages", userID)
}

func (r *RedisSessionMemory) GetOrCreateThread(ctx context.Context, userID string) (string, error) {
	userID = normalizeUser(userID)
	key := r.threadKey(userID)

	// SETNX makes concurrent first access agree on one id
	candidate := uuid.NewString()
	if err := r.rdb.SetNX(ctx, key, candidate, r.ttl).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to create thread in redis")
		return "", errx.WrapRedis(err)
	}
	id, err := r.rdb.Get(ctx, key).Result()
	if err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to read thread id from redis")
		return "", errx.WrapRedis(err)
	}
	r.touch(ctx, key)
	return id, nil
}

func (r *RedisSessionMemory) Append(ctx context.Context, userID, question, answer string) error {
	userID = normalizeUser(userID)
	if _, err := r.GetOrCreateThread(ctx, userID); err != nil {
		return err
	}
	b, err := json.Marshal(model.Turn{Question: question, Answer: answer})
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}
	return r.push(ctx, r.turnsKey(userID), b)
}

func (r *RedisSessionMemory) RawHistory(ctx context.Context, userID string) (string, error) {
	userID = normalizeUser(userID)
	key := r.turnsKey(userID)

	rows, err := r.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		logx.Error().Err(err).Str("key", key).Msg("failed to load turns from redis")
		return "", errx.WrapRedis(err)
	}

	turns := make([]model.Turn, 0, len(rows))
	for i, s := range rows {
		var t model.Turn
		if err := json.Unmarshal([]byte(s), &t); err != nil {
			logx.Error().Err(err).Str("userID", userID).Int("index", i).Msg("failed to unmarshal turn")
			return "", fmt.Errorf("unmarshal turn at index %d: %w", i, err)
		}
		turns = append(turns, t)
	}
	return renderTurns(turns), nil
}

func (r *RedisSessionMemory) AppendMessages(ctx context.Context, userID string, messages ...*schema.Message) error {
	userID = normalizeUser(userID)
	if _, err := r.GetOrCreateThread(ctx, userID); err != nil {
		return err
	}
	key := r.messagesKey(userID)
	for _, m := range messages {
		if m == nil {
			continue
		}
		b, err := json.Marshal(m)
		if err != nil {
			logx.Error().Err(err).Str("userID", userID).Msg("failed to marshal message")
			return fmt.Errorf("marshal message: %w", err)
		}
		if err := r.push(ctx, key, b); err != nil {
			return err
		}
	}
	return nil
}

func (r *RedisSessionMemory) LoadMessages(ctx context.Context, userID string) ([]*schema.Message, error) {
	userID = normalizeUser(userID)
	key := r.messagesKey(userID)

	rows, err := r.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*schema.Message{}, nil
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to load messages from redis")
		return nil, errx.WrapRedis(err)
	}

	msgs := make([]*schema.Message, 0, len(rows))
	for i, s := range rows {
		var m schema.Message
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			logx.Error().Err(err).Str("userID", userID).Int("index", i).Msg("failed to unmarshal message")
			return nil, fmt.Errorf("unmarshal message at index %d: %w", i, err)
		}
		msgs = append(msgs, &m)
	}
	return msgs, nil
}

func (r *RedisSessionMemory) Clear(ctx context.Context, userID string) error {
	userID = normalizeUser(userID)
	keys := []string{r.threadKey(userID), r.turnsKey(userID), r.messagesKey(userID)}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		logx.Error().Err(err).Strs("keys", keys).Msg("failed to delete session from redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisSessionMemory) push(ctx context.Context, key string, value []byte) error {
	if err := r.rdb.RPush(ctx, key, value).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to push to redis")
		return errx.WrapRedis(err)
	}
	r.touch(ctx, key)
	return nil
}

// touch extends the TTL on activity.
func (r *RedisSessionMemory) touch(ctx context.Context, key string) {
	if r.ttl <= 0 {
		return
	}
	if ok, err := r.rdb.Expire(ctx, key, r.ttl).Result(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to set expire")
	} else if !ok {
		logx.Warn().Str("key", key).Dur("ttl", r.ttl).Msg("failed to set TTL on session key")
	}
}

func normalizeUser(userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return model.AnonymousUser
	}
	return userID
}

var _ model.SessionMemory = (*RedisSessionMemory)(nil)
