package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/spooler/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// Registry implements ports.SessionRegistry using Redis.
// Records are stored as JSON strings under prefix+id; the sorted set prefix+"index"
// indexes them by expiry.
//
// With a TTL, a record disappears ttl after its last Save. Sessions that may last
// longer must be saved again while they run (see spooler.WithRegistryRefresh).
type Registry struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// Option configures the Registry.
type Option func(*Registry)

// WithTTL sets the expiration of session records.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		r.ttl = ttl
	}
}

// WithPrefix sets the key prefix for session records.
func WithPrefix(prefix string) Option {
	return func(r *Registry) {
		r.prefix = prefix
	}
}

// New connects to the Redis server at address.
func New(address, password string, db int, opts ...Option) *Registry {
	return NewFromClient(backend.NewClient(&backend.Options{Addr: address, Password: password, DB: db}), opts...)
}

// NewFromClient creates a registry on an existing client. Records never expire unless WithTTL is given.
func NewFromClient(client *backend.Client, opts ...Option) *Registry {
	r := &Registry{client: client, prefix: "spooler:session:"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TTL returns the expiration of session records, zero when they never expire.
func (r *Registry) TTL() time.Duration {
	return r.ttl
}

func (r *Registry) key(sessionID string) string { return r.prefix + sessionID }
func (r *Registry) indexKey() string { return r.prefix + "index" }

// Save records the session.
func (r *Registry) Save(ctx context.Context, rec domain.SessionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}

	// Score = expiry. Without a TTL, use a date far enough in the future.
	score := float64(time.Now().Add(r.ttl).Unix())
	if r.ttl == 0 {
		score = 4102444800 // 2100-01-01
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, r.key(rec.ID), data, r.ttl)
	pipe.ZAdd(ctx, r.indexKey(), backend.Z{
		Score:  score,
		Member: rec.ID,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// Delete removes the session.
func (r *Registry) Delete(ctx context.Context, sessionID string) error {
	pipe := r.client.Pipeline()
	pipe.Del(ctx, r.key(sessionID))
	pipe.ZRem(ctx, r.indexKey(), sessionID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	return nil
}

// Get returns a single session record.
// Returns domain.ErrSessionNotFound if the session does not exist (or has expired).
func (r *Registry) Get(ctx context.Context, sessionID string) (domain.SessionRecord, error) {
	val, err := r.client.Get(ctx, r.key(sessionID)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return domain.SessionRecord{}, domain.ErrSessionNotFound
		}
		return domain.SessionRecord{}, fmt.Errorf("failed to get from redis: %w", err)
	}

	var rec domain.SessionRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return domain.SessionRecord{}, fmt.Errorf("failed to unmarshal session record: %w", err)
	}
	return rec, nil
}

// List returns active sessions, pruning expired entries from the index first.
func (r *Registry) List(ctx context.Context) ([]domain.SessionRecord, error) {
	now := float64(time.Now().Unix())
	err := r.client.ZRemRangeByScore(ctx, r.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to prune expired sessions: %w", err)
	}

	ids, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	out := make([]domain.SessionRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := r.Get(ctx, id)
		if errors.Is(err, domain.ErrSessionNotFound) {
			continue // expired between ZRANGE and GET
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close closes the redis client.
func (r *Registry) Close() error {
	return r.client.Close()
}
