package services

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// CounterStore is an atomic fixed-window counter. Incr returns the
// count for the key's current window, starting a new window when the
// previous one has elapsed. The increment-and-read must be a single
// atomic step against concurrent callers on the same key.
type CounterStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimiter is a coarse fixed-window request guard, independent of
// the daily quota. Bursts at window boundaries are accepted as a known
// limitation of the fixed-window scheme.
type RateLimiter struct {
	store CounterStore
	log   *slog.Logger
}

func NewRateLimiter(store CounterStore, log *slog.Logger) *RateLimiter {
	if log == nil {
		log = slog.Default()
	}
	return &RateLimiter{store: store, log: log}
}

// Allow counts one hit for key and reports whether it fits the limit.
// Premium callers bypass without counting. A store failure allows the
// request and logs a warning: the limiter protects downstream AI calls,
// it is not the transaction of record.
func (l *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration, bypass bool) bool {
	if bypass {
		return true
	}
	count, err := l.store.Incr(ctx, key, window)
	if err != nil {
		l.log.Warn("rate limit store unavailable, allowing request", "key", key, "error", err)
		return true
	}
	return count <= int64(limit)
}

// ---------------------------------------------------------------------------
// Redis-backed store (primary)
// ---------------------------------------------------------------------------

// RedisCounterStore counts with INCR and sets the window TTL on the
// first hit. INCR is atomic server-side, so concurrent increments on
// the same key are linearized by Redis.
type RedisCounterStore struct {
	client *redis.Client
}

func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

func (s *RedisCounterStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	rkey := "rl:" + hashKey(key)
	count, err := s.client.Incr(ctx, rkey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, rkey, window).Err(); err != nil {
			return 0, fmt.Errorf("redis expire: %w", err)
		}
	}
	return count, nil
}

// ---------------------------------------------------------------------------
// File-backed store (single-process fallback)
// ---------------------------------------------------------------------------

// FileCounterStore keeps per-key JSON counter files under dir. The
// process mutex makes it safe within one process only; counts are
// approximate when several processes share the directory. Use the
// Redis store wherever a shared store is available.
type FileCounterStore struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

func NewFileCounterStore(dir string) *FileCounterStore {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "gospod_rl")
	}
	return &FileCounterStore{dir: dir, now: time.Now}
}

type fileCounter struct {
	Count int64 `json:"count"`
	Start int64 `json:"start"`
}

func (s *FileCounterStore) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o775); err != nil {
		return 0, fmt.Errorf("create counter dir: %w", err)
	}
	path := filepath.Join(s.dir, hashKey(key)+".json")
	now := s.now().Unix()

	data := fileCounter{Count: 1, Start: now}
	if raw, err := os.ReadFile(path); err == nil {
		var prev fileCounter
		if json.Unmarshal(raw, &prev) == nil && prev.Start > 0 {
			if now-prev.Start <= int64(window.Seconds()) {
				data = fileCounter{Count: prev.Count + 1, Start: prev.Start}
			}
		}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(path, raw, 0o664); err != nil {
		return 0, fmt.Errorf("write counter file: %w", err)
	}
	return data.Count, nil
}

func hashKey(key string) string {
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}
