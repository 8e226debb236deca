// Package session owns the signed-in identity: sign-up, sign-in, sign-out,
// token refresh and password resets, with token revocations and live
// sessions kept in Redis.
package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps revoked token ids until their natural expiry and a
// per-uid sorted set of live token ids scored by expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "orderdesk:", now: time.Now}
}

func (s *RedisStore) revokedKey(jti string) string { return s.prefix + "revoked:" + jti }
func (s *RedisStore) sessionsKey(uid string) string { return s.prefix + "sessions:" + uid }

// SaveSession registers a live token id for uid.
func (s *RedisStore) SaveSession(ctx context.Context, uid, jti string, expiresAt time.Time) error {
	key := s.sessionsKey(uid)
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(expiresAt.Unix()), Member: jti})
	pipe.ExpireAt(ctx, key, s.latestExpiry(ctx, key, expiresAt))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// latestExpiry keeps the set alive as long as its longest-lived member.
func (s *RedisStore) latestExpiry(ctx context.Context, key string, candidate time.Time) time.Time {
	top, err := s.client.ZRevRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil || len(top) == 0 {
		return candidate
	}
	if latest := time.Unix(int64(top[0].Score), 0); latest.After(candidate) {
		return latest
	}
	return candidate
}

// RemoveSession drops jti from the live set of uid and returns how many
// unexpired sessions remain.
func (s *RedisStore) RemoveSession(ctx context.Context, uid, jti string) (int, error) {
	key := s.sessionsKey(uid)
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, key, jti)
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(s.now().Unix(), 10))
	remaining := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("remove session: %w", err)
	}
	return int(remaining.Val()), nil
}

// ActiveSessions counts unexpired sessions of uid.
func (s *RedisStore) ActiveSessions(ctx context.Context, uid string) (int, error) {
	n, err := s.client.ZCount(ctx, s.sessionsKey(uid), "("+strconv.FormatInt(s.now().Unix(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return int(n), nil
}

// RevokeToken marks jti revoked until expiresAt, after which the token
// fails validation on its own.
func (s *RedisStore) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.revokedKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (s *RedisStore) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, s.revokedKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
