package knowledge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	drepo "PredPulse/internal/domain/repository"
)

// Option configures the store.
type Option func(*options)

type options struct {
	password string
	db       int
	prefix   string
}

// WithPassword sets the Redis password.
func WithPassword(p string) Option {
	return func(o *options) { o.password = p }
}

// WithDB selects the Redis database.
func WithDB(db int) Option {
	return func(o *options) { o.db = db }
}

// WithKeyPrefix namespaces all lookups.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// Store implements a KnowledgeStore backed by Redis.
type Store struct {
	client *redis.Client
	prefix string
}

// New connects to Redis and verifies the connection.
func New(addr string, opts ...Option) (drepo.KnowledgeStore, error) {
	o := &options{prefix: "predpulse"}
	for _, opt := range opts {
		opt(o)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: o.password,
		DB:       o.db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("knowledge redis ping: %w", err)
	}

	return &Store{client: client, prefix: o.prefix}, nil
}

// Lookup fetches one enrichment value. A missing key maps to ErrNotFound so
// callers can treat absence as non-fatal.
func (s *Store) Lookup(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, s.prefix+":"+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", drepo.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("knowledge lookup %s: %w", key, err)
	}
	return v, nil
}

// Close releases the Redis connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

var _ drepo.KnowledgeStore = (*Store)(nil)
