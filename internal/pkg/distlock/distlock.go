// Package distlock provides a best-effort mutual exclusion primitive shared
// by every worker process, so that only one host sweeps due enrollments at a
// time.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/drip-engine/internal/pkg/logger"
)

var log = logger.With("component", "distlock")

// ErrNotHeld is returned when releasing or extending a lock this instance
// does not own.
var ErrNotHeld = errors.New("lock not held")

// DistLock is the interface for distributed locking. A single instance must
// not be shared between goroutines that contend for it.
type DistLock interface {
	// Acquire tries to take the lock without blocking.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lock up if this instance still owns it.
	Release(ctx context.Context) error
}

// Extender is implemented by locks that expire unless renewed. Do keeps
// such a lock alive for as long as its callback runs.
type Extender interface {
	Extend(ctx context.Context, ttl time.Duration) error
	TTL() time.Duration
}

// NewLock creates a lock using Redis when a client is configured and
// PostgreSQL advisory locks otherwise.
func NewLock(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) DistLock {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	return NewPGAdvisoryLock(db, key)
}

// Do runs fn while holding l. It returns false without calling fn when the
// lock is taken by someone else. An expiring lock is renewed every third of
// its TTL; if a renewal finds the lock gone, fn's context is cancelled.
func Do(ctx context.Context, l DistLock, fn func(ctx context.Context) error) (bool, error) {
	ok, err := l.Acquire(ctx)
	if err != nil || !ok {
		return false, err
	}
	defer func() {
		// Release on a fresh context so a cancelled sweep still frees the lock.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.Release(rctx)
	}()

	fnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if e, ok := l.(Extender); ok && e.TTL() > 0 {
		done := make(chan struct{})
		go func() {
			defer close(done)
			heartbeat(fnCtx, e, cancel)
		}()
		// Stop the heartbeat before the deferred Release runs.
		defer func() {
			cancel()
			<-done
		}()
	}
	return true, fn(fnCtx)
}

func heartbeat(ctx context.Context, e Extender, lost context.CancelFunc) {
	ttl := e.TTL()
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Extend(ctx, ttl); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn("lock renewal failed, cancelling holder", "error", err)
				lost()
				return
			}
		}
	}
}

// PGAdvisoryLock implements DistLock with pg_try_advisory_lock. Advisory
// locks belong to a database session, so the lock pins one pooled
// connection from Acquire until Release.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64

	mu   sync.Mutex
	conn *sql.Conn
}

// NewPGAdvisoryLock derives a stable lock ID from key.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return false, nil
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("advisory lock conn: %w", err)
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("advisory lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return ErrNotHeld
	}
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	l.conn.Close()
	l.conn = nil
	return err
}
