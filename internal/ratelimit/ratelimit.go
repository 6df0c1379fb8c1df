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

package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pulphealth/pulp/internal/store"
)

// Result is the admission decision for one request.
type Result struct {
	Allowed    bool          `json:"allowed"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"retry_after"`
}

// Limiter caps request rates per key over a bucketed window. Both backends
// below satisfy the same contract and share one test suite.
type Limiter interface {
	Check(ctx context.Context, key string, maxRequests int, window time.Duration) (Result, error)
}

// StoreLimiter counts in the shared store with an atomic increment; the
// first write in a window sets the TTL, so the bucket resets itself.
// Correct across any number of instances.
type StoreLimiter struct {
	store store.Store
}

func NewStoreLimiter(s store.Store) *StoreLimiter {
	return &StoreLimiter{store: s}
}

func (l *StoreLimiter) Check(ctx context.Context, key string, maxRequests int, window time.Duration) (Result, error) {
	bucket := fmt.Sprintf("ratelimit:%s", key)

	count, err := l.store.Incr(ctx, bucket)
	if err != nil {
		return Result{}, err
	}
	if count == 1 {
		if _, err := l.store.Expire(ctx, bucket, window); err != nil {
			return Result{}, err
		}
	}

	remaining := maxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}

	if count <= int64(maxRequests) {
		return Result{Allowed: true, Remaining: remaining}, nil
	}

	retryAfter, err := l.store.PTTL(ctx, bucket)
	if err != nil || retryAfter < 0 {
		retryAfter = window
	}
	return Result{Allowed: false, Remaining: 0, RetryAfter: retryAfter}, nil
}

// LocalLimiter keeps per-key buckets in process memory. It only sees the
// traffic of its own instance, which is good enough when the shared store
// is down; limiting degrades, it does not disappear.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*localBucket
	now     func() time.Time
}

type localBucket struct {
	count       int
	windowStart time.Time
}

func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{
		buckets: make(map[string]*localBucket),
		now:     time.Now,
	}
}

// NewLocalLimiterWithClock injects the time source for tests.
func NewLocalLimiterWithClock(now func() time.Time) *LocalLimiter {
	l := NewLocalLimiter()
	l.now = now
	return l
}

func (l *LocalLimiter) Check(_ context.Context, key string, maxRequests int, window time.Duration) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok || now.Sub(b.windowStart) >= window {
		b = &localBucket{windowStart: now}
		l.buckets[key] = b
	}

	b.count++

	remaining := maxRequests - b.count
	if remaining < 0 {
		remaining = 0
	}

	if b.count <= maxRequests {
		return Result{Allowed: true, Remaining: remaining}, nil
	}
	return Result{
		Allowed:    false,
		Remaining:  0,
		RetryAfter: b.windowStart.Add(window).Sub(now),
	}, nil
}

// FallbackLimiter prefers the shared counter and drops to the local
// approximation when the store errors. It never returns an error itself.
type FallbackLimiter struct {
	shared Limiter
	local  Limiter
}

func NewFallbackLimiter(shared, local Limiter) *FallbackLimiter {
	return &FallbackLimiter{shared: shared, local: local}
}

func (l *FallbackLimiter) Check(ctx context.Context, key string, maxRequests int, window time.Duration) (Result, error) {
	res, err := l.shared.Check(ctx, key, maxRequests, window)
	if err == nil {
		return res, nil
	}
	logrus.Warnf("ratelimit: shared counter unavailable, using local window: %v", err)
	return l.local.Check(ctx, key, maxRequests, window)
}
