// Package health provides readiness checks for the stores the API depends on.
package health

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// DefaultCheckTimeout bounds a single dependency check.
const DefaultCheckTimeout = 2 * time.Second

// Checker reports whether a dependency is reachable.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

// HealthCheck implements Checker.
func (f CheckerFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// DBChecker pings a SQL database.
type DBChecker struct {
	db *sql.DB
}

// NewDBChecker creates a new database health checker.
func NewDBChecker(db *sql.DB) *DBChecker {
	return &DBChecker{db: db}
}

// HealthCheck implements Checker.
func (d *DBChecker) HealthCheck(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// RedisChecker sends PING to Redis.
type RedisChecker struct {
	client *redis.Client
}

// NewRedisChecker creates a new Redis health checker.
func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

// HealthCheck implements Checker.
func (r *RedisChecker) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Result is the outcome of one named check.
type Result struct {
	Name     string
	Err      error
	Duration time.Duration
}

// RunAll runs every checker concurrently, each bounded by timeout, and
// returns one result per name. A zero timeout uses DefaultCheckTimeout.
func RunAll(ctx context.Context, checkers map[string]Checker, timeout time.Duration) map[string]Result {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}

	var (
		mu  sync.Mutex
		out = make(map[string]Result, len(checkers))
		g   errgroup.Group
	)
	for name, c := range checkers {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			err := c.HealthCheck(checkCtx)
			res := Result{Name: name, Err: err, Duration: time.Since(start)}

			mu.Lock()
			out[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
