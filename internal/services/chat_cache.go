package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AnshRaj112/circles-backend/internal/models"
	"github.com/AnshRaj112/circles-backend/pkg/log"
)

const (
	chatRecentKeyPrefix = "chat:pair:"
	chatRecentKeySuffix = ":recent"
	chatGenKeySuffix    = ":gen"
	chatRecentMaxLen    = defaultHistoryLimit
	chatCacheTimeout    = 2 * time.Second
)

// chatRecentKey is order-independent: (a, b) and (b, a) share one entry.
func chatRecentKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return chatRecentKeyPrefix + a + ":" + b + chatRecentKeySuffix
}

var errStaleWarm = errors.New("history cache generation changed")

func chatGenKey(a, b string) string {
	return strings.TrimSuffix(chatRecentKey(a, b), chatRecentKeySuffix) + chatGenKeySuffix
}

// RedisHistoryCache keeps the recent history of each pair as a Redis list, newest at the head.
type RedisHistoryCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisHistoryCache(client *redis.Client, ttl time.Duration) *RedisHistoryCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisHistoryCache{client: client, ttl: ttl}
}

// Get returns the cached history oldest-first. A miss or a Redis failure is (nil, false).
func (c *RedisHistoryCache) Get(ctx context.Context, a, b string) ([]models.ChatMessage, bool) {
	ctx, cancel := context.WithTimeout(ctx, chatCacheTimeout)
	defer cancel()

	raw, err := c.client.LRange(ctx, chatRecentKey(a, b), 0, -1).Result()
	if err != nil || len(raw) == 0 {
		return nil, false
	}

	msgs := make([]models.ChatMessage, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var m models.ChatMessage
		if json.Unmarshal([]byte(raw[i]), &m) != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, true
}

// Generation returns the pair's write counter. Every Push and Invalidate bumps
// it, so a reader that loads from the store after reading it can tell whether
// a write raced with the load.
func (c *RedisHistoryCache) Generation(ctx context.Context, a, b string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, chatCacheTimeout)
	defer cancel()

	gen, err := c.client.Get(ctx, chatGenKey(a, b)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Warm replaces the cached history with msgs (oldest-first), but only while the
// pair's generation still equals gen. It reports whether the entry was written.
func (c *RedisHistoryCache) Warm(ctx context.Context, a, b string, gen int64, msgs []models.ChatMessage) bool {
	if len(msgs) == 0 {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, chatCacheTimeout)
	defer cancel()

	key, genKey := chatRecentKey(a, b), chatGenKey(a, b)
	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return errStaleWarm
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			for i := len(msgs) - 1; i >= 0; i-- {
				data, err := json.Marshal(msgs[i])
				if err != nil {
					continue
				}
				pipe.RPush(ctx, key, data)
			}
			pipe.LTrim(ctx, key, 0, chatRecentMaxLen-1)
			pipe.Expire(ctx, key, c.ttl)
			return nil
		})
		return err
	}, genKey)

	switch {
	case err == nil:
		return true
	case errors.Is(err, errStaleWarm), errors.Is(err, redis.TxFailedErr):
		log.Ctx(ctx).Debug().Str("key", key).Msg("chat cache warm skipped, concurrent write")
	default:
		log.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("chat cache warm failed")
	}
	return false
}

// Push prepends msg to an already warm entry. A cold entry stays cold so a
// partial list is never served as the full history.
func (c *RedisHistoryCache) Push(ctx context.Context, msg models.ChatMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, chatCacheTimeout)
	defer cancel()

	key, genKey := chatRecentKey(msg.SenderID, msg.ReceiverID), chatGenKey(msg.SenderID, msg.ReceiverID)
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, genKey)
	pipe.Expire(ctx, genKey, c.ttl)
	pipe.LPushX(ctx, key, data)
	pipe.LTrim(ctx, key, 0, chatRecentMaxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("chat cache push failed")
	}
}

// Invalidate drops the pair's entry; the next read warms it from the message store.
func (c *RedisHistoryCache) Invalidate(ctx context.Context, a, b string) {
	ctx, cancel := context.WithTimeout(ctx, chatCacheTimeout)
	defer cancel()

	key, genKey := chatRecentKey(a, b), chatGenKey(a, b)
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, genKey)
	pipe.Expire(ctx, genKey, c.ttl)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("chat cache invalidate failed")
	}
}
