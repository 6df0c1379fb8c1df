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

	"github.com/sirupsen/logrus"

	"github.com/pulphealth/pulp/internal/breaker"
)

// SystemOutage is the typed outcome returned when a service and all of its
// fallbacks are exhausted. Callers handle it as a normal result; nothing in
// the verification path panics over an upstream being down.
type SystemOutage struct {
	Service     string `json:"service"`
	Message     string `json:"message"`
	RetryQueued bool   `json:"retry_queued"`
}

// FallbackFunc is one attempt at producing a result, primary or fallback.
type FallbackFunc func(ctx context.Context) (interface{}, error)

// retryEnqueuer is what the orchestrator needs from the retry queue. Kept
// as a small interface so the orchestrator can run without a queue in
// tests and read-only paths.
type retryEnqueuer interface {
	Enqueue(ctx context.Context, practiceID string, payload map[string]interface{}, cause error) error
}

// FallbackRequest carries the identity of the call being protected and
// what to persist if everything fails.
type FallbackRequest struct {
	Service    string
	PracticeID string
	// RetryPayload, when non-nil, is enqueued for later replay if the
	// primary and every fallback fail.
	RetryPayload map[string]interface{}
}

// Orchestrator routes calls through the circuit breaker and a fallback
// chain. A degraded service is skipped outright rather than piling more
// timeouts onto a known-bad dependency.
type Orchestrator struct {
	monitor *breaker.Monitor
	queue   retryEnqueuer
}

// NewOrchestrator builds an orchestrator. queue may be nil, in which case
// exhaustion never enqueues a retry.
func NewOrchestrator(monitor *breaker.Monitor, queue retryEnqueuer) *Orchestrator {
	return &Orchestrator{monitor: monitor, queue: queue}
}

// WithFallback executes primary under breaker control, then the fallbacks
// in order. Only the primary call moves the breaker: a fallback succeeding
// does not mark the primary service healthy, and a fallback failing does
// not count against it. Exhaustion returns a SystemOutage, never an error.
func (o *Orchestrator) WithFallback(ctx context.Context, req FallbackRequest, primary FallbackFunc, fallbacks ...FallbackFunc) (interface{}, *SystemOutage) {
	var lastErr error

	if o.monitor.IsDegraded(ctx, req.Service) {
		logrus.Warnf("service %s is degraded, skipping primary call", req.Service)
		lastErr = fmt.Errorf("service %s is degraded", req.Service)
	} else {
		result, err := primary(ctx)
		if err == nil {
			o.monitor.RecordSuccess(ctx, req.Service)
			return result, nil
		}
		o.monitor.RecordFailure(ctx, req.Service)
		logrus.WithError(err).Warnf("primary call to %s failed, trying %d fallback(s)", req.Service, len(fallbacks))
		lastErr = err
	}

	for i, fb := range fallbacks {
		result, err := fb(ctx)
		if err == nil {
			return result, nil
		}
		logrus.WithError(err).Warnf("fallback %d for %s failed", i+1, req.Service)
		lastErr = err
	}

	outage := &SystemOutage{
		Service: req.Service,
		Message: fmt.Sprintf("%s is unavailable and all fallbacks failed: %v", req.Service, lastErr),
	}
	if o.queue != nil && req.RetryPayload != nil {
		if err := o.queue.Enqueue(ctx, req.PracticeID, req.RetryPayload, lastErr); err != nil {
			logrus.WithError(err).Errorf("failed to enqueue retry for practice %s", req.PracticeID)
		} else {
			outage.RetryQueued = true
		}
	}
	return nil, outage
}
