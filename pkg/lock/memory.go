package lock

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Locker. Each held key owns a channel that is
// closed on release so waiters wake up. TTLs expire abandoned leases.
type Memory struct {
	mu   sync.Mutex
	held map[string]*memoryLease
}

func NewMemory() *Memory {
	return &Memory{held: map[string]*memoryLease{}}
}

type memoryLease struct {
	m       *Memory
	key     string
	done    chan struct{}
	timer   *time.Timer
	release sync.Once
}

func (m *Memory) TryLock(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return nil, ErrLocked
	}
	return m.acquire(key, ttl), nil
}

func (m *Memory) Lock(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	for {
		m.mu.Lock()
		cur, ok := m.held[key]
		if !ok {
			l := m.acquire(key, ttl)
			m.mu.Unlock()
			return l, nil
		}
		wait := cur.done
		m.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// acquire must be called with m.mu held.
func (m *Memory) acquire(key string, ttl time.Duration) *memoryLease {
	l := &memoryLease{m: m, key: key, done: make(chan struct{})}
	if ttl > 0 {
		l.timer = time.AfterFunc(ttl, func() { _ = l.Release(context.Background()) })
	}
	m.held[key] = l
	return l
}

func (l *memoryLease) Release(context.Context) error {
	l.release.Do(func() {
		if l.timer != nil {
			l.timer.Stop()
		}
		l.m.mu.Lock()
		if l.m.held[l.key] == l {
			delete(l.m.held, l.key)
		}
		l.m.mu.Unlock()
		close(l.done)
	})
	return nil
}
