// Package cache wraps a ledger.RecordStore with a Redis read-through cache.
//
// Reads are served from Redis when present and filled on a miss. Writes and
// deletes go to the backing store first and then drop the cached copy.
// Lists are not cached. Any Redis failure degrades to the backing store and
// is logged.
//
// Every write bumps a per-path generation. A fill only lands when the
// generation it started from is still current, so a read that fetched a
// record before a concurrent write cannot put the older copy back after
// the write dropped it. Generations are per process: several processes
// sharing one Redis still rely on the TTL.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/linebook/collection-ledger/ledger"
)

const DefaultTTL = 10 * time.Minute

type Store struct {
	next   ledger.RecordStore
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger

	mu   sync.Mutex
	gens map[string]uint64
}

var _ ledger.RecordStore = (*Store)(nil)

type Options struct {
	Prefix string
	TTL    time.Duration
	Logger *zap.Logger
}

// New wraps next. A nil client disables caching.
func New(next ledger.RecordStore, client *redis.Client, opts Options) *Store {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Prefix == "" {
		opts.Prefix = "ledger:"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Store{
		next:   next,
		client: client,
		prefix: opts.Prefix,
		ttl:    opts.TTL,
		logger: opts.Logger,
		gens:   make(map[string]uint64),
	}
}

// Connect builds a client and pings it. On failure it returns nil so the
// caller can run without a cache.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func (s *Store) key(path string) string { return s.prefix + path }

func (s *Store) Read(ctx context.Context, path string) ([]byte, error) {
	if s.client != nil {
		data, err := s.client.Get(ctx, s.key(path)).Bytes()
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("cache read failed", zap.String("path", path), zap.Error(err))
		}
	}

	gen := s.generation(path)
	data, err := s.next.Read(ctx, path)
	if err != nil || data == nil || s.client == nil {
		return data, err
	}
	s.fill(ctx, path, data, gen)
	return data, nil
}

func (s *Store) generation(path string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gens[path]
}

// fill caches data read at generation gen. It holds mu across the Set so
// an invalidation either sees the filled key and drops it, or bumps the
// generation first and the fill is skipped.
func (s *Store) fill(ctx context.Context, path string, data []byte, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gens[path] != gen {
		return
	}
	if err := s.client.Set(ctx, s.key(path), data, s.ttl).Err(); err != nil {
		s.logger.Warn("cache fill failed", zap.String("path", path), zap.Error(err))
	}
}

func (s *Store) Write(ctx context.Context, path string, data []byte) error {
	if err := s.next.Write(ctx, path, data); err != nil {
		return err
	}
	s.invalidate(ctx, path)
	return nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if err := s.next.Delete(ctx, path); err != nil {
		return err
	}
	s.invalidate(ctx, path)
	return nil
}

func (s *Store) List(ctx context.Context, dir string) ([]string, error) {
	return s.next.List(ctx, dir)
}

func (s *Store) invalidate(ctx context.Context, path string) {
	if s.client == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gens[path]++
	if err := s.client.Del(ctx, s.key(path)).Err(); err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("path", path), zap.Error(err))
	}
}
