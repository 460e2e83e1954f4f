package health

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

const (
	defaultFailureThreshold = 3
	defaultCooldownDuration = 1 * time.Hour
	defaultCheckTimeout     = 5 * time.Second
)

// Service manages health tracking for all external dependencies
type Service struct {
	mu               sync.RWMutex
	entries          map[string]*DependencyHealth
	checkers         map[string]Checker
	failureThreshold int
	cooldownDuration time.Duration
}

// NewService creates a new health service
func NewService(failureThreshold int, cooldownDuration time.Duration) *Service {
	if failureThreshold <= 0 {
		failureThreshold = defaultFailureThreshold
	}
	if cooldownDuration <= 0 {
		cooldownDuration = defaultCooldownDuration
	}

	return &Service{
		entries:          make(map[string]*DependencyHealth),
		checkers:         make(map[string]Checker),
		failureThreshold: failureThreshold,
		cooldownDuration: cooldownDuration,
	}
}

// Register adds a dependency and its checker to the registry
func (s *Service) Register(checker Checker) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := checker.Name()
	s.checkers[name] = checker
	if _, exists := s.entries[name]; !exists {
		s.entries[name] = &DependencyHealth{
			Name:     name,
			Critical: checker.Critical(),
			Status:   StatusUnknown,
		}
		log.Printf("[HEALTH] Registered dependency %s (critical=%v)", name, checker.Critical())
	}
}

// CheckOne runs a single dependency's probe and records the outcome.
// Quota-style errors put the dependency into cooldown instead of counting
// toward the unhealthy threshold.
func (s *Service) CheckOne(ctx context.Context, name string) error {
	s.mu.RLock()
	checker, hasChecker := s.checkers[name]
	_, exists := s.entries[name]
	s.mu.RUnlock()

	if !exists || !hasChecker {
		return fmt.Errorf("dependency not registered: %s", name)
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultCheckTimeout)
	defer cancel()

	start := time.Now()
	err := checker.Check(checkCtx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		if IsQuotaError(0, err.Error()) {
			s.SetCooldown(name, ParseCooldownDuration(0, err.Error()), err.Error())
		} else {
			s.MarkUnhealthy(name, err.Error())
		}
		return err
	}

	s.MarkHealthy(name, latency)
	return nil
}

// CheckAll probes every registered dependency and returns the first error
// from a critical one (nil when all critical dependencies pass)
func (s *Service) CheckAll(ctx context.Context) error {
	s.mu.RLock()
	names := make([]string, 0, len(s.checkers))
	for name := range s.checkers {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)

	var firstCritical error
	for _, name := range names {
		err := s.CheckOne(ctx, name)
		if err != nil && firstCritical == nil {
			s.mu.RLock()
			critical := s.entries[name].Critical
			s.mu.RUnlock()
			if critical {
				firstCritical = fmt.Errorf("%s: %w", name, err)
			}
		}
	}
	return firstCritical
}

// RunPeriodic re-probes all dependencies on an interval until the context
// is cancelled. Meant to run as a background goroutine from main.
func (s *Service) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.CheckAll(ctx); err != nil {
				log.Printf("[HEALTH] Periodic check: %v", err)
			}
		}
	}
}

// MarkHealthy records a successful probe or request
func (s *Service) MarkHealthy(name string, latencyMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, exists := s.entries[name]
	if !exists {
		return
	}

	wasUnhealthy := h.Status == StatusUnhealthy || h.Status == StatusCooldown
	h.Status = StatusHealthy
	h.FailureCount = 0
	h.LastError = ""
	h.LastSuccessAt = time.Now()
	h.LastChecked = time.Now()
	h.CooldownUntil = time.Time{}
	h.LatencyMs = latencyMs

	if wasUnhealthy {
		log.Printf("[HEALTH] Dependency %s recovered - now healthy", name)
	}
}

// MarkUnhealthy records a failure. After reaching the threshold, the
// dependency is marked unhealthy.
func (s *Service) MarkUnhealthy(name string, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, exists := s.entries[name]
	if !exists {
		return
	}

	h.FailureCount++
	h.LastError = errMsg
	h.LastChecked = time.Now()

	if h.FailureCount >= s.failureThreshold {
		h.Status = StatusUnhealthy
		log.Printf("[HEALTH] Dependency %s marked UNHEALTHY after %d failures: %s",
			name, h.FailureCount, truncateStr(errMsg, 200))
	} else {
		log.Printf("[HEALTH] Dependency %s failure %d/%d: %s",
			name, h.FailureCount, s.failureThreshold, truncateStr(errMsg, 200))
	}
}

// SetCooldown puts a dependency into cooldown (typically after a quota error).
// During cooldown the dependency is reported degraded rather than failed.
func (s *Service) SetCooldown(name string, duration time.Duration, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, exists := s.entries[name]
	if !exists {
		return
	}

	h.Status = StatusCooldown
	h.LastError = reason
	h.CooldownUntil = time.Now().Add(duration)
	h.LastChecked = time.Now()

	log.Printf("[HEALTH] Dependency %s in COOLDOWN until %s (reason: %s)",
		name, h.CooldownUntil.Format(time.RFC3339), truncateStr(reason, 100))
}

// IsHealthy reports whether a dependency is currently usable. Unknown
// dependencies are assumed healthy; cooldown counts as usable once expired.
func (s *Service) IsHealthy(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, exists := s.entries[name]
	if !exists {
		return true
	}

	switch h.Status {
	case StatusUnhealthy:
		return false
	case StatusCooldown:
		return time.Now().After(h.CooldownUntil)
	default:
		return true
	}
}

// Snapshot returns the current state of every dependency, sorted by name
func (s *Service) Snapshot() []DependencyHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]DependencyHealth, 0, len(s.entries))
	for _, h := range s.entries {
		result = append(result, *h)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Overall collapses the registry into one status: unhealthy when any
// critical dependency is down, degraded when anything else is off-nominal,
// healthy otherwise.
func (s *Service) Overall() HealthStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	overall := StatusHealthy
	for _, h := range s.entries {
		switch h.Status {
		case StatusUnhealthy:
			if h.Critical {
				return StatusUnhealthy
			}
			overall = StatusCooldown // degraded
		case StatusCooldown:
			if now.Before(h.CooldownUntil) {
				overall = StatusCooldown
			}
		}
	}
	return overall
}

// GetStatus returns a health summary for the status endpoint
func (s *Service) GetStatus() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	stats := map[string]int{"healthy": 0, "unhealthy": 0, "cooldown": 0, "unknown": 0}
	for _, h := range s.entries {
		switch h.Status {
		case StatusHealthy:
			stats["healthy"]++
		case StatusUnhealthy:
			stats["unhealthy"]++
		case StatusCooldown:
			if now.After(h.CooldownUntil) {
				stats["unknown"]++
			} else {
				stats["cooldown"]++
			}
		default:
			stats["unknown"]++
		}
	}

	return map[string]interface{}{
		"total":  len(s.entries),
		"counts": stats,
	}
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
