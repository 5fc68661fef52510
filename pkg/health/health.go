package health

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const checkTimeout = 5 * time.Second

// CheckFunc returns nil while the dependency answers.
type CheckFunc func(ctx context.Context) error

type check struct {
	name     string
	critical bool
	checkFn  CheckFunc
}

type Health struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

type CheckResult struct {
	Status    Status        `json:"status"`
	Critical  bool          `json:"critical"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ns"`
	Timestamp time.Time     `json:"timestamp"`
}

// CheckerRegistry runs every registered check in parallel. A failing critical
// check makes the whole service unhealthy, any other failure only degrades it.
type CheckerRegistry struct {
	mu     sync.RWMutex
	checks []check
}

func NewCheckerRegistry() *CheckerRegistry {
	return &CheckerRegistry{}
}

func (r *CheckerRegistry) Register(name string, critical bool, checkFn CheckFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks = append(r.checks, check{name: name, critical: critical, checkFn: checkFn})
}

func (r *CheckerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.checks))
	for _, c := range r.checks {
		names = append(names, c.name)
	}
	sort.Strings(names)
	return names
}

func (r *CheckerRegistry) Check(ctx context.Context) Health {
	r.mu.RLock()
	checks := append([]check(nil), r.checks...)
	r.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range checks {
		g.Go(func() error {
			results[i] = run(gctx, c)
			return nil
		})
	}
	_ = g.Wait()

	h := Health{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	for i, c := range checks {
		res := results[i]
		h.Checks[c.name] = res
		switch {
		case res.Status == StatusHealthy:
		case c.critical:
			h.Status = StatusUnhealthy
		case h.Status == StatusHealthy:
			h.Status = StatusDegraded
		}
	}
	return h
}

func run(ctx context.Context, c check) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	err := c.checkFn(ctx)
	res := CheckResult{
		Status:    StatusHealthy,
		Critical:  c.critical,
		Latency:   time.Since(start),
		Timestamp: time.Now(),
	}
	if err != nil {
		res.Status = StatusUnhealthy
		res.Message = err.Error()
	}
	return res
}

func PostgreSQL(db *sql.DB) CheckFunc {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}

func Redis(client *redis.Client) CheckFunc {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

func MongoDB(client *mongo.Client) CheckFunc {
	return func(ctx context.Context) error {
		return client.Ping(ctx, nil)
	}
}

var errBusStopped = errors.New("message server is not running")

// Bus takes a state func rather than the server so this package stays free
// of internal imports.
func Bus(running func() bool) CheckFunc {
	return func(context.Context) error {
		if !running() {
			return errBusStopped
		}
		return nil
	}
}
