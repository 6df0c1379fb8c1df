/*
Copyright 2025 Pulp Health Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package breaker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pulphealth/pulp/internal/store"
)

// ServiceState is the breaker's view of one upstream dependency.
type ServiceState string

const (
	StateHealthy  ServiceState = "healthy"
	StateDegraded ServiceState = "degraded"
)

const (
	// DefaultFailureThreshold is how many consecutive failures flip a
	// service to degraded.
	DefaultFailureThreshold = 3

	// DefaultDegradedTTL bounds how long a silent service stays degraded.
	// The backing key expires after this window, so a dependency that
	// stops being called heals on its own instead of being locked out
	// forever.
	DefaultDegradedTTL = time.Hour
)

// Health is the stored record for one service. Entries are created lazily
// on first failure and removed entirely on success.
type Health struct {
	Status              ServiceState `json:"status"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastFailureAt       *time.Time   `json:"last_failure_at"`
	DegradedSince       *time.Time   `json:"degraded_since"`
}

// Monitor tracks per-service failure streaks in the shared store so every
// instance sees the same breaker state. The monitor itself must never take
// the system down: if the store is unreachable it reports every service
// healthy and lets calls through.
type Monitor struct {
	store     store.Store
	threshold int
	ttl       time.Duration
	now       func() time.Time
}

// Option tunes a Monitor.
type Option func(*Monitor)

func WithThreshold(n int) Option {
	return func(m *Monitor) { m.threshold = n }
}

func WithDegradedTTL(d time.Duration) Option {
	return func(m *Monitor) { m.ttl = d }
}

// WithClock injects the time source, used by tests to freeze timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

func NewMonitor(s store.Store, opts ...Option) *Monitor {
	m := &Monitor{
		store:     s,
		threshold: DefaultFailureThreshold,
		ttl:       DefaultDegradedTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func healthKey(service string) string {
	return fmt.Sprintf("health:%s", service)
}

// RecordFailure bumps the failure streak for a service and degrades it
// once the streak reaches the threshold. Store errors are logged and
// swallowed; a broken breaker must not break the call path.
func (m *Monitor) RecordFailure(ctx context.Context, service string) {
	health, err := m.load(ctx, service)
	if err != nil {
		logrus.Warnf("breaker: failed to load health for %s: %v", service, err)
		return
	}

	now := m.now()
	health.ConsecutiveFailures++
	health.LastFailureAt = &now
	if health.ConsecutiveFailures >= m.threshold && health.DegradedSince == nil {
		health.Status = StateDegraded
		health.DegradedSince = &now
		logrus.Warnf("breaker: %s degraded after %d consecutive failures", service, health.ConsecutiveFailures)
	}

	if err := m.save(ctx, service, health); err != nil {
		logrus.Warnf("breaker: failed to save health for %s: %v", service, err)
	}
}

// RecordSuccess resets a service to healthy by dropping its record.
func (m *Monitor) RecordSuccess(ctx context.Context, service string) {
	if err := m.store.Delete(ctx, healthKey(service)); err != nil {
		logrus.Warnf("breaker: failed to reset health for %s: %v", service, err)
	}
}

// Status reports the current breaker state for a service. Missing entries
// and store failures both read as healthy (fail open).
func (m *Monitor) Status(ctx context.Context, service string) Health {
	health, err := m.load(ctx, service)
	if err != nil {
		logrus.Warnf("breaker: failed to load health for %s, assuming healthy: %v", service, err)
		return Health{Status: StateHealthy}
	}
	return health
}

// IsDegraded is a convenience wrapper for the orchestrator's short-circuit
// check.
func (m *Monitor) IsDegraded(ctx context.Context, service string) bool {
	return m.Status(ctx, service).Status == StateDegraded
}

func (m *Monitor) load(ctx context.Context, service string) (Health, error) {
	raw, err := m.store.Get(ctx, healthKey(service))
	if err != nil {
		return Health{}, err
	}
	if raw == "" {
		return Health{Status: StateHealthy}, nil
	}

	var health Health
	if err := json.Unmarshal([]byte(raw), &health); err != nil {
		return Health{}, err
	}
	return health, nil
}

func (m *Monitor) save(ctx context.Context, service string, health Health) error {
	raw, err := json.Marshal(health)
	if err != nil {
		return err
	}
	// Every write refreshes the TTL, so the record only survives while
	// failures keep arriving.
	return m.store.Set(ctx, healthKey(service), string(raw), m.ttl)
}
