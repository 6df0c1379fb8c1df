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
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pulphealth/pulp/internal/notification"
	"github.com/pulphealth/pulp/internal/sealedbox"
	"github.com/pulphealth/pulp/internal/store"
)

const (
	// DefaultMaxAttempts before an entry dead-letters.
	DefaultMaxAttempts = 3
	// DefaultBatchSize caps how many entries one drain pass may return.
	DefaultBatchSize = 10
	// DefaultEntryTTL is the absolute lifetime of a queue entry. PHI never
	// outlives it, reviewed or not.
	DefaultEntryTTL = 24 * time.Hour

	pendingListKey = "retry:pending"
	deadListKey    = "retry:dead"
	entryKeyPrefix = "retry:entry:"
)

// retryBackoff is the fixed schedule: attempt 0 fires 5 minutes after
// enqueue, attempt 1 after 15, attempt 2 after 45.
var retryBackoff = [DefaultMaxAttempts]time.Duration{
	5 * time.Minute,
	15 * time.Minute,
	45 * time.Minute,
}

// RetryEntry is one failed verification awaiting replay. The payload holds
// whatever the caller needs to repeat the request, which includes PHI, so
// entries only ever touch the shared store sealed.
type RetryEntry struct {
	ID            string                 `json:"id"`
	PracticeID    string                 `json:"practice_id"`
	Payload       map[string]interface{} `json:"payload"`
	Attempts      int                    `json:"attempts"`
	LastError     string                 `json:"last_error"`
	EnqueuedAt    time.Time              `json:"enqueued_at"`
	NextAttemptAt time.Time              `json:"next_attempt_at"`
}

// RetryQueue persists failed verifications for later replay. Entries are
// AES-GCM sealed before they reach the store and carry an absolute TTL; a
// queue built without key material refuses to enqueue rather than writing
// plaintext.
type RetryQueue struct {
	store       store.Store
	box         *sealedbox.Box
	maxAttempts int
	batchSize   int
	ttl         time.Duration
	now         func() time.Time
}

// QueueOption configures a RetryQueue.
type QueueOption func(*RetryQueue)

func WithMaxAttempts(n int) QueueOption {
	return func(q *RetryQueue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

func WithBatchSize(n int) QueueOption {
	return func(q *RetryQueue) {
		if n > 0 {
			q.batchSize = n
		}
	}
}

func WithEntryTTL(d time.Duration) QueueOption {
	return func(q *RetryQueue) {
		if d > 0 {
			q.ttl = d
		}
	}
}

// WithQueueClock injects the clock for backoff and TTL math in tests.
func WithQueueClock(now func() time.Time) QueueOption {
	return func(q *RetryQueue) { q.now = now }
}

// NewRetryQueue builds a queue over the shared store. box may be nil when
// no encryption key is configured; every enqueue then fails closed.
func NewRetryQueue(s store.Store, box *sealedbox.Box, opts ...QueueOption) *RetryQueue {
	q := &RetryQueue{
		store:       s,
		box:         box,
		maxAttempts: DefaultMaxAttempts,
		batchSize:   DefaultBatchSize,
		ttl:         DefaultEntryTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue seals and stores a new entry scheduled for the first backoff
// slot. Without a sealed box the entry is rejected, never written bare.
func (q *RetryQueue) Enqueue(ctx context.Context, practiceID string, payload map[string]interface{}, cause error) error {
	if q.box == nil {
		return sealedbox.ErrNoKey
	}

	now := q.now()
	entry := RetryEntry{
		ID:            "rty_" + uuid.New().String(),
		PracticeID:    practiceID,
		Payload:       payload,
		Attempts:      0,
		EnqueuedAt:    now,
		NextAttemptAt: now.Add(retryBackoff[0]),
	}
	if cause != nil {
		entry.LastError = cause.Error()
	}

	if err := q.writeEntry(ctx, entry, q.ttl); err != nil {
		return err
	}
	if err := q.store.ListPush(ctx, pendingListKey, entry.ID); err != nil {
		return errors.Wrap(err, "failed to register retry entry")
	}
	logrus.Infof("enqueued verification retry %s for practice %s, next attempt at %s",
		entry.ID, practiceID, entry.NextAttemptAt.Format(time.RFC3339))
	return nil
}

// DequeueReady returns up to limit entries whose backoff has elapsed,
// oldest first. Entries whose TTL expired under them are dropped from the
// pending list as they are encountered.
func (q *RetryQueue) DequeueReady(ctx context.Context, limit int) ([]RetryEntry, error) {
	if q.box == nil {
		// A keyless instance must not drain entries written by keyed
		// ones. Dropping them from the pending list would lose them.
		return nil, sealedbox.ErrNoKey
	}
	if limit <= 0 || limit > q.batchSize {
		limit = q.batchSize
	}

	ids, err := q.store.ListRange(ctx, pendingListKey, 0, -1)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read retry queue")
	}

	now := q.now()
	ready := make([]RetryEntry, 0, limit)
	for _, id := range ids {
		if len(ready) == limit {
			break
		}
		entry, ok := q.readEntry(ctx, id)
		if !ok {
			// TTL fired; nothing left to replay.
			_ = q.store.ListRemove(ctx, pendingListKey, id)
			continue
		}
		if !entry.NextAttemptAt.After(now) {
			ready = append(ready, entry)
		}
	}
	return ready, nil
}

// Complete removes a successfully replayed entry.
func (q *RetryQueue) Complete(ctx context.Context, entry RetryEntry) error {
	if err := q.store.ListRemove(ctx, pendingListKey, entry.ID); err != nil {
		return err
	}
	return q.store.Delete(ctx, entryKey(entry.ID))
}

// ReEnqueueOrFail records another failed attempt. Under the attempt cap
// the entry is rescheduled on the fixed backoff ladder; at the cap it
// moves to the dead-letter list for manual review, still under its
// original TTL.
func (q *RetryQueue) ReEnqueueOrFail(ctx context.Context, entry RetryEntry, cause error) error {
	entry.Attempts++
	if cause != nil {
		entry.LastError = cause.Error()
	}

	remaining := q.ttl - q.now().Sub(entry.EnqueuedAt)
	if remaining <= 0 {
		// TTL elapsed while failing; let the entry die now.
		return q.Complete(ctx, entry)
	}

	if entry.Attempts >= q.maxAttempts {
		if err := q.store.ListRemove(ctx, pendingListKey, entry.ID); err != nil {
			return err
		}
		if err := q.writeEntry(ctx, entry, remaining); err != nil {
			return err
		}
		if err := q.store.ListPush(ctx, deadListKey, entry.ID); err != nil {
			return err
		}
		logrus.Errorf("retry %s for practice %s dead-lettered after %d attempts", entry.ID, entry.PracticeID, entry.Attempts)
		notification.NotifyError(errors.Errorf(
			"dead-lettered verification retry for practice %s after %d attempts: %s",
			entry.PracticeID, entry.Attempts, entry.LastError))
		event := RetryDeadLetterEvent{
			RetryID:        entry.ID,
			PracticeID:     entry.PracticeID,
			Attempts:       entry.Attempts,
			LastError:      entry.LastError,
			DeadLetteredAt: q.now().UTC(),
		}
		go func() {
			if err := notification.SendWebhook(EventRetryDeadLettered, event); err != nil {
				logrus.WithError(err).Error("dead-letter webhook delivery failed")
			}
		}()
		return nil
	}

	entry.NextAttemptAt = q.now().Add(retryBackoff[entry.Attempts])
	return q.writeEntry(ctx, entry, remaining)
}

// DeadLettered lists the entries parked for manual review.
func (q *RetryQueue) DeadLettered(ctx context.Context) ([]RetryEntry, error) {
	if q.box == nil {
		return nil, sealedbox.ErrNoKey
	}
	ids, err := q.store.ListRange(ctx, deadListKey, 0, -1)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read dead-letter list")
	}
	entries := make([]RetryEntry, 0, len(ids))
	for _, id := range ids {
		entry, ok := q.readEntry(ctx, id)
		if !ok {
			_ = q.store.ListRemove(ctx, deadListKey, id)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (q *RetryQueue) writeEntry(ctx context.Context, entry RetryEntry, ttl time.Duration) error {
	if q.box == nil {
		return sealedbox.ErrNoKey
	}
	plain, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "failed to marshal retry entry")
	}
	sealed, err := q.box.Seal(plain)
	if err != nil {
		return errors.Wrap(err, "failed to seal retry entry")
	}
	return q.store.Set(ctx, entryKey(entry.ID), sealed, ttl)
}

func (q *RetryQueue) readEntry(ctx context.Context, id string) (RetryEntry, bool) {
	sealed, err := q.store.Get(ctx, entryKey(id))
	if err != nil || sealed == "" {
		return RetryEntry{}, false
	}
	plain, err := q.box.Open(sealed)
	if err != nil {
		logrus.WithError(err).Errorf("retry entry %s cannot be opened, dropping", id)
		return RetryEntry{}, false
	}
	var entry RetryEntry
	if err := json.Unmarshal(plain, &entry); err != nil {
		logrus.WithError(err).Errorf("retry entry %s is corrupt, dropping", id)
		return RetryEntry{}, false
	}
	return entry, true
}

func entryKey(id string) string {
	return entryKeyPrefix + id
}
