package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"entitlement-api/pkg/logging"

	"github.com/redis/go-redis/v9"
)

// SubmissionLimiter caps receipt submissions per user in a fixed window.
type SubmissionLimiter interface {
	Allow(ctx context.Context, userID string) (bool, error)
}

// RedisSubmissionLimiter shares its counters across instances.
type RedisSubmissionLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

func NewRedisSubmissionLimiter(client *redis.Client, limit int, window time.Duration) *RedisSubmissionLimiter {
	return &RedisSubmissionLimiter{client: client, limit: limit, window: window}
}

func (r *RedisSubmissionLimiter) Allow(ctx context.Context, userID string) (bool, error) {
	key := fmt.Sprintf("receipt_rate:%s", userID)

	pipe := r.client.TxPipeline()
	count := pipe.Incr(ctx, key)
	// NX keeps the window anchored at the first submission.
	pipe.ExpireNX(ctx, key, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to count receipt submissions: %w", err)
	}

	return count.Val() <= int64(r.limit), nil
}

type submissionWindow struct {
	count   int
	resetAt time.Time
}

// MemorySubmissionLimiter keeps counters in process. It is used when Redis is not configured.
type MemorySubmissionLimiter struct {
	limit   int
	window  time.Duration
	now     func() time.Time
	windows map[string]*submissionWindow
	mutex   sync.Mutex
	stop    chan struct{}
}

func NewMemorySubmissionLimiter(limit int, window time.Duration) *MemorySubmissionLimiter {
	return &MemorySubmissionLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		windows: make(map[string]*submissionWindow),
		stop:    make(chan struct{}),
	}
}

func (m *MemorySubmissionLimiter) Allow(_ context.Context, userID string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.now()
	w, ok := m.windows[userID]
	if !ok || !now.Before(w.resetAt) {
		w = &submissionWindow{resetAt: now.Add(m.window)}
		m.windows[userID] = w
	}
	w.count++

	return w.count <= m.limit, nil
}

// StartCleanup drops expired windows every interval until Stop is called.
func (m *MemorySubmissionLimiter) StartCleanup(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.cleanup()
			case <-m.stop:
				return
			}
		}
	}()
}

func (m *MemorySubmissionLimiter) cleanup() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.now()
	initial := len(m.windows)
	for userID, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, userID)
		}
	}

	if removed := initial - len(m.windows); removed > 0 {
		logging.Debugf("Submission limiter cleanup: removed %d expired windows, remaining: %d", removed, len(m.windows))
	}
}

func (m *MemorySubmissionLimiter) Stop() {
	close(m.stop)
}
