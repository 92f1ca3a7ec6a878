package traffic

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Store mirrors the pass-through list outside the process.
type Store interface {
	Add(ctx context.Context, pattern string) error
	Remove(ctx context.Context, pattern string) error
	Members(ctx context.Context) ([]string, error)
}

// RedisStore keeps pass-through patterns in a Redis set.
type RedisStore struct {
	rdb *redis.Client
	key string
}

// NewRedisStore connects lazily to addr; patterns live in the set key.
func NewRedisStore(addr, key string) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		MaxRetries:   1,
	})
	return &RedisStore{rdb: rdb, key: key}
}

func (s *RedisStore) Add(ctx context.Context, pattern string) error {
	if err := s.rdb.SAdd(ctx, s.key, pattern).Err(); err != nil {
		return fmt.Errorf("traffic: redis sadd %q: %w", s.key, err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, pattern string) error {
	if err := s.rdb.SRem(ctx, s.key, pattern).Err(); err != nil {
		return fmt.Errorf("traffic: redis srem %q: %w", s.key, err)
	}
	return nil
}

func (s *RedisStore) Members(ctx context.Context) ([]string, error) {
	m, err := s.rdb.SMembers(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("traffic: redis smembers %q: %w", s.key, err)
	}
	sort.Strings(m)
	return m, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the connection pool.
func (s *RedisStore) Close() error { return s.rdb.Close() }

// ─── Pass-through list ────────────────────────────────────────────────────────

// PassList is the live list of host patterns whose CONNECT tunnels bypass
// interception.  It is safe for concurrent use.
type PassList struct {
	mu       sync.RWMutex
	patterns []string
	compiled []*regexp.Regexp
}

// NewPassList returns a list seeded with patterns.  Invalid patterns are
// reported and skipped.
func NewPassList(patterns ...string) (*PassList, error) {
	l := &PassList{}
	var firstErr error
	for _, p := range patterns {
		if _, err := l.Add(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return l, firstErr
}

// FromSuffixes converts host suffixes such as ".example.com" into
// pass-through patterns.
func FromSuffixes(suffixes []string) []string {
	out := make([]string, 0, len(suffixes))
	for _, s := range suffixes {
		s = trimDot(s)
		if s != "" {
			out = append(out, PassthroughPattern(s))
		}
	}
	return out
}

// Add appends pattern if absent and reports whether it was added.
func (l *PassList) Add(pattern string) (bool, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Errorf("traffic: pass-through pattern %q: %w", pattern, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.patterns {
		if p == pattern {
			return false, nil
		}
	}
	l.patterns = append(l.patterns, pattern)
	l.compiled = append(l.compiled, re)
	return true, nil
}

// Remove deletes pattern and reports whether it was present.
func (l *PassList) Remove(pattern string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, p := range l.patterns {
		if p == pattern {
			l.patterns = append(l.patterns[:i], l.patterns[i+1:]...)
			l.compiled = append(l.compiled[:i], l.compiled[i+1:]...)
			return true
		}
	}
	return false
}

// Contains reports whether pattern is listed.
func (l *PassList) Contains(pattern string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, p := range l.patterns {
		if p == pattern {
			return true
		}
	}
	return false
}

// Match reports whether host matches any pattern.
func (l *PassList) Match(host string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, re := range l.compiled {
		if re.MatchString(host) {
			return true
		}
	}
	return false
}

// Patterns returns a copy of the list.
func (l *PassList) Patterns() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.patterns...)
}

func trimDot(s string) string {
	for len(s) > 0 && s[0] == '.' {
		s = s[1:]
	}
	return s
}
