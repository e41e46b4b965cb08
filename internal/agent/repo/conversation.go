package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Chative-core-poc-v1/cafebot/internal/agent/model"
	errx "github.com/Chative-core-poc-v1/cafebot/internal/core/error"
	logx "github.com/Chative-core-poc-v1/cafebot/pkg/logger"
)

const (
	fieldHumanHandling   = "human_handling"
	fieldUpdatedAt       = "updated_at"
	fieldEscalationCount = "escalation_count"
	fieldLastEscalation  = "last_escalation"

	// maxEscalations bounds the per-conversation escalation log.
	maxEscalations = 50
)

// RedisConversationRepository keeps turns in a list and the handling status in a hash,
// both expiring ttl after the last write.
type RedisConversationRepository struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisConversationRepository(rdb redis.Cmdable, prefix string, ttl time.Duration) *RedisConversationRepository {
	return &RedisConversationRepository{rdb: rdb, prefix: prefix, ttl: ttl, now: time.Now}
}

func (r *RedisConversationRepository) key(conversationID, kind string) string {
	if r.prefix == "" {
		return fmt.Sprintf("conversation:%s:%s", conversationID, kind)
	}
	return fmt.Sprintf("%s:conversation:%s:%s", r.prefix, conversationID, kind)
}

func (r *RedisConversationRepository) turnsKey(conversationID string) string {
	return r.key(conversationID, "turns")
}

func (r *RedisConversationRepository) statusKey(conversationID string) string {
	return r.key(conversationID, "status")
}

func (r *RedisConversationRepository) escalationsKey(conversationID string) string {
	return r.key(conversationID, "escalations")
}

// touch extends the TTL on a key.
func (r *RedisConversationRepository) touch(ctx context.Context, key string) error {
	if r.ttl <= 0 {
		return nil
	}
	ok, err := r.rdb.Expire(ctx, key, r.ttl).Result()
	if err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to set expire")
		return errx.WrapRedis(err)
	}
	if !ok {
		logx.Warn().Str("key", key).Dur("ttl", r.ttl).Msg("failed to set TTL on conversation key")
	}
	return nil
}

func (r *RedisConversationRepository) AppendTurn(ctx context.Context, conversationID string, turn model.Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = r.now().UTC()
	}
	b, err := json.Marshal(turn)
	if err != nil {
		logx.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to marshal turn")
		return fmt.Errorf("marshal turn: %w", err)
	}
	key := r.turnsKey(conversationID)

	if err := r.rdb.RPush(ctx, key, b).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to push turn to redis")
		return errx.WrapRedis(err)
	}
	return r.touch(ctx, key)
}

func (r *RedisConversationRepository) LoadHistory(ctx context.Context, conversationID string, limit int) ([]model.Turn, error) {
	key := r.turnsKey(conversationID)
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}

	rows, err := r.rdb.LRange(ctx, key, start, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []model.Turn{}, nil
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to load conversation history from redis")
		return nil, errx.WrapRedis(err)
	}

	turns := make([]model.Turn, 0, len(rows))
	for i, s := range rows {
		var t model.Turn
		if err := json.Unmarshal([]byte(s), &t); err != nil {
			// skip corrupt entries
			logx.Warn().Err(err).Str("conversation_id", conversationID).Int("index", i).Msg("skipping unreadable turn")
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func (r *RedisConversationRepository) ClearHistory(ctx context.Context, conversationID string) error {
	keys := []string{r.turnsKey(conversationID), r.escalationsKey(conversationID)}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		logx.Error().Err(err).Strs("keys", keys).Msg("failed to delete conversation history from redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisConversationRepository) GetTurnCount(ctx context.Context, conversationID string) (int, error) {
	key := r.turnsKey(conversationID)
	n, err := r.rdb.LLen(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to get turn count from redis")
		return 0, errx.WrapRedis(err)
	}
	return int(n), nil
}

func (r *RedisConversationRepository) IsHumanHandling(ctx context.Context, conversationID string) (bool, error) {
	key := r.statusKey(conversationID)
	v, err := r.rdb.HGet(ctx, key, fieldHumanHandling).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to read handling status from redis")
		return false, errx.WrapRedis(err)
	}
	on, err := strconv.ParseBool(v)
	if err != nil {
		logx.Warn().Str("key", key).Str("value", v).Msg("unreadable handling status, treating as bot handling")
		return false, nil
	}
	return on, nil
}

func (r *RedisConversationRepository) SetHumanHandling(ctx context.Context, conversationID string, on bool) error {
	key := r.statusKey(conversationID)
	err := r.rdb.HSet(ctx, key,
		fieldHumanHandling, strconv.FormatBool(on),
		fieldUpdatedAt, r.now().UTC().Format(time.RFC3339),
	).Err()
	if err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to write handling status to redis")
		return errx.WrapRedis(err)
	}
	logx.Info().Str("conversation_id", conversationID).Bool("human_handling", on).Msg("handling status updated")
	return r.touch(ctx, key)
}

// RecordEscalation appends to the escalation log and updates the status hash in one
// transaction. It does not switch the conversation to human handling; an operator does.
func (r *RedisConversationRepository) RecordEscalation(ctx context.Context, conversationID string, e model.Escalation) error {
	if e.At.IsZero() {
		e.At = r.now().UTC()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal escalation: %w", err)
	}
	logKey := r.escalationsKey(conversationID)
	statusKey := r.statusKey(conversationID)

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, logKey, b)
		pipe.LTrim(ctx, logKey, -maxEscalations, -1)
		pipe.HIncrBy(ctx, statusKey, fieldEscalationCount, 1)
		pipe.HSet(ctx, statusKey, fieldLastEscalation, string(b), fieldUpdatedAt, e.At.Format(time.RFC3339))
		if r.ttl > 0 {
			pipe.Expire(ctx, logKey, r.ttl)
			pipe.Expire(ctx, statusKey, r.ttl)
		}
		return nil
	})
	if err != nil {
		logx.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to record escalation")
		return errx.WrapRedis(err)
	}
	return nil
}

// Escalations returns the recorded escalations, oldest first.
func (r *RedisConversationRepository) Escalations(ctx context.Context, conversationID string) ([]model.Escalation, error) {
	rows, err := r.rdb.LRange(ctx, r.escalationsKey(conversationID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, errx.WrapRedis(err)
	}
	out := make([]model.Escalation, 0, len(rows))
	for _, s := range rows {
		var e model.Escalation
		if err := json.Unmarshal([]byte(s), &e); err == nil {
			out = append(out, e)
		}
	}
	return out, nil
}

var _ model.MemoryRepository = (*RedisConversationRepository)(nil)
