// ABOUTME: Redis-backed SessionStore for deployments running several web replicas
// ABOUTME: Sessions are sealed JSON values with a TTL plus a sorted set indexed by access expiry

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	redisSessionPrefix = "platform:session:"
	redisExpiryIndex   = "platform:sessions:access_expiry"
)

// RedisSessionStore implements SessionStore on Redis
type RedisSessionStore struct {
	rdb    *redis.Client
	sealer *Sealer
	logger *slog.Logger
}

// RedisOptions configures the Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// redisSession is the stored form of a Session
type redisSession struct {
	ID            string         `json:"id"`
	Subject       string         `json:"sub"`
	AccessToken   string         `json:"at"`
	RefreshToken  string         `json:"rt"`
	IDToken       string         `json:"it"`
	AccessExpiry  time.Time      `json:"at_exp"`
	RefreshExpiry time.Time      `json:"rt_exp"`
	Profile       map[string]any `json:"profile,omitempty"`
	CreatedAt     time.Time      `json:"created"`
	UpdatedAt     time.Time      `json:"updated"`
	ExpiresAt     time.Time      `json:"expires"`
}

// NewRedisSessionStore connects to Redis and verifies the connection with PING.
func NewRedisSessionStore(ctx context.Context, opts RedisOptions, sealer *Sealer) (*RedisSessionStore, error) {
	if sealer == nil {
		return nil, ErrSealerRequired
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	logger := slog.Default().With("component", "store")
	logger.Info("Redis session store initialized", "addr", opts.Addr, "db", opts.DB)

	return &RedisSessionStore{rdb: rdb, sealer: sealer, logger: logger}, nil
}

// SaveSession writes the sealed session with a TTL matching its hard lifetime.
func (r *RedisSessionStore) SaveSession(ctx context.Context, sess *Session) error {
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return r.DeleteSession(ctx, sess.ID)
	}

	access, refresh, idToken, err := r.sealer.sealTokens(sess)
	if err != nil {
		return err
	}

	data, err := json.Marshal(redisSession{
		ID:            sess.ID,
		Subject:       sess.Subject,
		AccessToken:   access,
		RefreshToken:  refresh,
		IDToken:       idToken,
		AccessExpiry:  sess.AccessExpiry,
		RefreshExpiry: sess.RefreshExpiry,
		Profile:       sess.Profile,
		CreatedAt:     sess.CreatedAt,
		UpdatedAt:     sess.UpdatedAt,
		ExpiresAt:     sess.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, redisSessionPrefix+sess.ID, data, ttl)
	if sess.RefreshToken != "" {
		pipe.ZAdd(ctx, redisExpiryIndex, &redis.Z{
			Score:  float64(sess.AccessExpiry.Unix()),
			Member: sess.ID,
		})
	} else {
		pipe.ZRem(ctx, redisExpiryIndex, sess.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// GetSession loads and unseals a session.
func (r *RedisSessionStore) GetSession(ctx context.Context, id string) (*Session, error) {
	data, err := r.rdb.Get(ctx, redisSessionPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}

	var rs redisSession
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("unmarshaling session: %w", err)
	}

	sess := &Session{
		ID:            rs.ID,
		Subject:       rs.Subject,
		AccessExpiry:  rs.AccessExpiry,
		RefreshExpiry: rs.RefreshExpiry,
		Profile:       rs.Profile,
		CreatedAt:     rs.CreatedAt,
		UpdatedAt:     rs.UpdatedAt,
		ExpiresAt:     rs.ExpiresAt,
	}
	if err := r.sealer.openTokens(sess, rs.AccessToken, rs.RefreshToken, rs.IDToken); err != nil {
		return nil, err
	}
	if !sess.ExpiresAt.After(time.Now()) {
		return nil, ErrNotFound
	}
	return sess, nil
}

// DeleteSession removes the session value and its index entry.
func (r *RedisSessionStore) DeleteSession(ctx context.Context, id string) error {
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, redisSessionPrefix+id)
	pipe.ZRem(ctx, redisExpiryIndex, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// ListSessionsExpiringBefore reads the expiry index. Index entries whose
// session value has already expired are dropped.
func (r *RedisSessionStore) ListSessionsExpiringBefore(ctx context.Context, before time.Time) ([]*Session, error) {
	ids, err := r.rdb.ZRangeByScore(ctx, redisExpiryIndex, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("querying expiry index: %w", err)
	}

	now := time.Now()
	var out []*Session
	for _, id := range ids {
		sess, err := r.GetSession(ctx, id)
		if errors.Is(err, ErrNotFound) {
			if err := r.rdb.ZRem(ctx, redisExpiryIndex, id).Err(); err != nil {
				r.logger.Warn("pruning expiry index", "error", err)
			}
			continue
		}
		if err != nil {
			r.logger.Warn("skipping unreadable session", "error", err)
			continue
		}
		if refreshable(sess, before, now) {
			out = append(out, sess)
		}
	}
	return out, nil
}

// DeleteExpiredSessions prunes index entries whose values Redis has expired.
// Session values themselves expire through their TTL.
func (r *RedisSessionStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	ids, err := r.rdb.ZRange(ctx, redisExpiryIndex, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("reading expiry index: %w", err)
	}

	var n int64
	for _, id := range ids {
		exists, err := r.rdb.Exists(ctx, redisSessionPrefix+id).Result()
		if err != nil {
			return n, fmt.Errorf("checking session: %w", err)
		}
		if exists == 0 {
			if err := r.rdb.ZRem(ctx, redisExpiryIndex, id).Err(); err != nil {
				return n, fmt.Errorf("pruning index: %w", err)
			}
			n++
		}
	}
	return n, nil
}

// Close closes the Redis client
func (r *RedisSessionStore) Close() error {
	return r.rdb.Close()
}

var _ SessionStore = (*RedisSessionStore)(nil)
