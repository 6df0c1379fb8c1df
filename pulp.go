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

package pulp

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/pulphealth/pulp/config"
	"github.com/pulphealth/pulp/internal/breaker"
	"github.com/pulphealth/pulp/internal/notification"
	"github.com/pulphealth/pulp/internal/ratelimit"
	redis_db "github.com/pulphealth/pulp/internal/redis-db"
	"github.com/pulphealth/pulp/internal/sealedbox"
	"github.com/pulphealth/pulp/internal/store"
	"github.com/pulphealth/pulp/provider"
)

// Pulp wires the verification core together: eligibility providers in
// fallback order, the circuit breaker and retry queue protecting them,
// the per-instance schedule cache, and the PMS adapter for write-backs.
type Pulp struct {
	redis        redis.UniversalClient
	store        store.Store
	monitor      *breaker.Monitor
	queue        *RetryQueue
	orchestrator *Orchestrator
	cache        *ScheduleCache
	normalizer   *Normalizer
	triager      *Triager
	providers    []provider.EligibilityProvider
	pms          *provider.PMSClient
	assistant    provider.Assistant
	limiter      ratelimit.Limiter
	verifyLimit  int
}

// NewPulp initializes the core from the loaded configuration. Providers
// are tried in the order given; the first is the primary for breaker
// purposes. An empty encryption key leaves the retry queue fail-closed
// rather than disabling encryption.
func NewPulp(providers ...provider.EligibilityProvider) (*Pulp, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", cnf.Redis.Dns)}, false)
	if err != nil {
		return nil, err
	}
	sharedStore := store.NewRedisStore(redisClient.Client())

	var box *sealedbox.Box
	if cnf.Encryption.Key != "" {
		box, err = sealedbox.New(cnf.Encryption.Key)
		if err != nil {
			return nil, err
		}
	} else {
		logrus.Warn("no encryption key configured, verification retries will be rejected")
	}

	monitor := breaker.NewMonitor(sharedStore,
		breaker.WithThreshold(*cnf.Breaker.FailureThreshold),
		breaker.WithDegradedTTL(time.Duration(*cnf.Breaker.DegradedTTLMin)*time.Minute))

	queue := NewRetryQueue(sharedStore, box,
		WithMaxAttempts(*cnf.RetryQueue.MaxAttempts),
		WithBatchSize(*cnf.RetryQueue.BatchSize),
		WithEntryTTL(time.Duration(*cnf.RetryQueue.TTLHours)*time.Hour))

	limiter := ratelimit.NewFallbackLimiter(
		ratelimit.NewStoreLimiter(sharedStore), ratelimit.NewLocalLimiter())

	cache := NewScheduleCache(
		WithMaxCacheEntries(*cnf.ScheduleCache.MaxPatients),
		WithSweepInterval(time.Duration(*cnf.ScheduleCache.SweepIntervalSec)*time.Second))

	notification.RegisterWebhookSender(processWebhook)

	p := &Pulp{
		redis:        redisClient.Client(),
		store:        sharedStore,
		monitor:      monitor,
		queue:        queue,
		orchestrator: NewOrchestrator(monitor, queue),
		cache:        cache,
		normalizer:   NewNormalizer(),
		triager:      NewTriager(),
		providers:    providers,
		pms:          provider.NewPMSClient(cnf.PMS),
		assistant:    provider.NewHTTPAssistant(cnf.Assistant),
		limiter:      limiter,
		verifyLimit:  cnf.Clearinghouse.MaxRequestsPerMinute,
	}
	return p, nil
}

// ScheduleCache exposes the per-instance cache so the server can run
// its sweeper and the API can serve day views from it.
func (p *Pulp) ScheduleCache() *ScheduleCache {
	return p.cache
}

// ServiceHealth reports the breaker's view of one upstream service.
func (p *Pulp) ServiceHealth(ctx context.Context, service string) breaker.Health {
	return p.monitor.Status(ctx, service)
}
