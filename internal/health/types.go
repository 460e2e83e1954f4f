package health

import (
	"context"
	"time"
)

// HealthStatus represents the health state of a dependency
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
	StatusCooldown  HealthStatus = "cooldown"
	StatusUnknown   HealthStatus = "unknown"
)

// DependencyHealth tracks the health of a single external dependency
// (database, Redis, the oracle backends, the vector index)
type DependencyHealth struct {
	Name          string       `json:"name"`
	Critical      bool         `json:"critical"` // Critical dependencies fail readiness; optional ones only degrade it
	Status        HealthStatus `json:"status"`
	LastChecked   time.Time    `json:"last_checked"`
	LastSuccessAt time.Time    `json:"last_success_at"`
	FailureCount  int          `json:"failure_count"`
	LastError     string       `json:"last_error,omitempty"`
	CooldownUntil time.Time    `json:"cooldown_until,omitempty"`
	LatencyMs     int64        `json:"latency_ms"`
}

// Checker probes one dependency. Checks must be cheap; they run on every
// readiness poll and on the periodic background sweep.
type Checker interface {
	Name() string
	Critical() bool
	Check(ctx context.Context) error
}

// FuncChecker adapts a plain function into a Checker so callers can register
// probes without defining a type per dependency
type FuncChecker struct {
	name     string
	critical bool
	fn       func(ctx context.Context) error
}

// NewChecker wraps a probe function as a named Checker
func NewChecker(name string, critical bool, fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, critical: critical, fn: fn}
}

func (c *FuncChecker) Name() string   { return c.name }
func (c *FuncChecker) Critical() bool { return c.critical }

func (c *FuncChecker) Check(ctx context.Context) error {
	return c.fn(ctx)
}
