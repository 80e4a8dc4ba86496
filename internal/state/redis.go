package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mediabot/internal/domain"
)

const keyPrefix = "mediabot:conv:"

// RedisStore keeps conversation state in Redis so several gateway processes
// can share it. Lists give per-key atomic append and trim.
type RedisStore struct {
	rdb  *redis.Client
	opts Options
	ttl  time.Duration
}

type RedisConfig struct {
	URL     string
	Options Options
	// TTL expires idle conversations; 0 keeps them forever.
	TTL time.Duration
}

// NewRedisStore parses the URL and pings the server.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.DialTimeout = 5 * time.Second

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStoreFromClient(rdb, cfg.Options, cfg.TTL), nil
}

func NewRedisStoreFromClient(rdb *redis.Client, opts Options, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, opts: opts.withDefaults(), ttl: ttl}
}

func imagesKey(id string) string  { return keyPrefix + id + ":images" }
func historyKey(id string) string { return keyPrefix + id + ":history" }
func replyKey(id string) string   { return keyPrefix + id + ":reply" }

func (s *RedisStore) AppendImage(ctx context.Context, id string, img domain.DecodedImage) (int, error) {
	data, err := json.Marshal(img)
	if err != nil {
		return 0, fmt.Errorf("marshal image: %w", err)
	}
	key := imagesKey(id)
	var push *redis.IntCmd
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		push = p.RPush(ctx, key, data)
		if s.ttl > 0 {
			p.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("append image: %w", err)
	}
	return int(push.Val()), nil
}

func (s *RedisStore) SnapshotImages(ctx context.Context, id string) ([]domain.DecodedImage, error) {
	raw, err := s.rdb.LRange(ctx, imagesKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load images: %w", err)
	}
	out := make([]domain.DecodedImage, 0, len(raw))
	for _, r := range raw {
		var img domain.DecodedImage
		if err := json.Unmarshal([]byte(r), &img); err != nil {
			return nil, fmt.Errorf("unmarshal image: %w", err)
		}
		out = append(out, img)
	}
	return out, nil
}

func (s *RedisStore) ClearImages(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, imagesKey(id)).Err(); err != nil {
		return fmt.Errorf("clear images: %w", err)
	}
	return nil
}

func (s *RedisStore) AppendHistoryTurn(ctx context.Context, id string, turn domain.Turn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}
	key := historyKey(id)
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, data)
		p.LTrim(ctx, key, int64(-s.opts.HistoryLimit), -1)
		if s.ttl > 0 {
			p.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (s *RedisStore) SnapshotHistory(ctx context.Context, id string) ([]domain.Turn, error) {
	raw, err := s.rdb.LRange(ctx, historyKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	out := make([]domain.Turn, 0, len(raw))
	for _, r := range raw {
		var t domain.Turn
		if err := json.Unmarshal([]byte(r), &t); err != nil {
			return nil, fmt.Errorf("unmarshal turn: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

// TryBeginReply uses the key's own expiry as the cooldown clock, so now is
// only recorded for inspection.
func (s *RedisStore) TryBeginReply(ctx context.Context, id string, now time.Time) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, replyKey(id), now.UnixMilli(), s.opts.ReplyCooldown).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("reply cooldown: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) Close() error { return s.rdb.Close() }
