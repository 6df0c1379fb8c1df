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
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulphealth/pulp/internal/notification"
	"github.com/pulphealth/pulp/internal/sealedbox"
	"github.com/pulphealth/pulp/internal/store"
)

// queueFixture wires a retry queue to miniredis with a movable clock.
type queueFixture struct {
	queue   *RetryQueue
	mr      *miniredis.Miniredis
	advance func(d time.Duration)
}

func newQueueFixture(t *testing.T) *queueFixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	box, err := sealedbox.New("test-phi-key")
	require.NoError(t, err)

	current := time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)
	q := NewRetryQueue(store.NewRedisStore(client), box,
		WithQueueClock(func() time.Time { return current }))

	return &queueFixture{
		queue: q,
		mr:    mr,
		advance: func(d time.Duration) {
			current = current.Add(d)
			mr.FastForward(d)
		},
	}
}

func TestRetryQueueFailsClosedWithoutKey(t *testing.T) {
	f := newQueueFixture(t)
	bare := NewRetryQueue(f.queue.store, nil)

	err := bare.Enqueue(context.Background(), "practice-1", map[string]interface{}{"member_id": "W123"}, errors.New("timeout"))
	assert.ErrorIs(t, err, sealedbox.ErrNoKey)
	assert.Empty(t, f.mr.Keys())
}

func TestRetryQueueKeylessInstanceCannotDrain(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	require.NoError(t, f.queue.Enqueue(ctx, "practice-1", map[string]interface{}{"member_id": "W123"}, errors.New("timeout")))
	f.advance(5 * time.Minute)

	bare := NewRetryQueue(f.queue.store, nil, WithQueueClock(f.queue.now))

	ready, err := bare.DequeueReady(ctx, 10)
	assert.ErrorIs(t, err, sealedbox.ErrNoKey)
	assert.Empty(t, ready)

	dead, err := bare.DeadLettered(ctx)
	assert.ErrorIs(t, err, sealedbox.ErrNoKey)
	assert.Empty(t, dead)

	// the entry is still there for a keyed instance to replay
	ready, err = f.queue.DequeueReady(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "practice-1", ready[0].PracticeID)
}

func TestRetryQueueEntriesAreSealedAtRest(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	payload := map[string]interface{}{"member_id": "W1234567", "first_name": "Maria"}
	require.NoError(t, f.queue.Enqueue(ctx, "practice-1", payload, errors.New("clearinghouse timeout")))

	var entryKeys []string
	for _, k := range f.mr.Keys() {
		if strings.HasPrefix(k, entryKeyPrefix) {
			entryKeys = append(entryKeys, k)
		}
	}
	require.Len(t, entryKeys, 1)

	raw, err := f.mr.Get(entryKeys[0])
	require.NoError(t, err)
	assert.NotContains(t, raw, "W1234567")
	assert.NotContains(t, raw, "Maria")
	assert.NotContains(t, raw, "practice-1")
}

func TestRetryQueueBackoffSchedule(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	require.NoError(t, f.queue.Enqueue(ctx, "practice-1", map[string]interface{}{"patient": "p1"}, errors.New("boom")))

	// not ready before the first 5 minute slot
	ready, err := f.queue.DequeueReady(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, ready)

	f.advance(5 * time.Minute)
	ready, err = f.queue.DequeueReady(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "practice-1", ready[0].PracticeID)
	assert.Equal(t, 0, ready[0].Attempts)

	// first failure reschedules 15 minutes out
	require.NoError(t, f.queue.ReEnqueueOrFail(ctx, ready[0], errors.New("still down")))
	f.advance(10 * time.Minute)
	ready, err = f.queue.DequeueReady(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, ready)

	f.advance(5 * time.Minute)
	ready, err = f.queue.DequeueReady(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, 1, ready[0].Attempts)

	// second failure reschedules 45 minutes out
	require.NoError(t, f.queue.ReEnqueueOrFail(ctx, ready[0], errors.New("still down")))
	f.advance(45 * time.Minute)
	ready, err = f.queue.DequeueReady(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, 2, ready[0].Attempts)

	// third failure dead-letters
	require.NoError(t, f.queue.ReEnqueueOrFail(ctx, ready[0], errors.New("gave up")))
	f.advance(time.Hour)
	ready, err = f.queue.DequeueReady(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, ready)

	dead, err := f.queue.DeadLettered(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, 3, dead[0].Attempts)
	assert.Equal(t, "gave up", dead[0].LastError)
}

func TestRetryQueueDeadLetterFiresWebhook(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	events := make(chan WebhookEvent, 1)
	notification.RegisterWebhookSender(func(event string, payload interface{}) error {
		events <- WebhookEvent{Event: event, Payload: payload}
		return nil
	})
	t.Cleanup(func() { notification.RegisterWebhookSender(nil) })

	require.NoError(t, f.queue.Enqueue(ctx, "practice-1", map[string]interface{}{"member_id": "W123"}, errors.New("down")))
	f.advance(5 * time.Minute)
	ready, err := f.queue.DequeueReady(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ready, 1)

	entry := ready[0]
	entry.Attempts = f.queue.maxAttempts - 1
	require.NoError(t, f.queue.ReEnqueueOrFail(ctx, entry, errors.New("gave up")))

	select {
	case got := <-events:
		assert.Equal(t, EventRetryDeadLettered, got.Event)
		payload, ok := got.Payload.(RetryDeadLetterEvent)
		require.True(t, ok)
		assert.Equal(t, entry.ID, payload.RetryID)
		assert.Equal(t, "practice-1", payload.PracticeID)
		assert.Equal(t, f.queue.maxAttempts, payload.Attempts)
		assert.Equal(t, "gave up", payload.LastError)
		// routing metadata only, never the sealed patient payload
		assert.NotContains(t, fmt.Sprintf("%+v", payload), "W123")
	case <-time.After(2 * time.Second):
		t.Fatal("dead-letter webhook was never delivered")
	}
}

func TestRetryQueueCompleteRemovesEntry(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	require.NoError(t, f.queue.Enqueue(ctx, "practice-1", map[string]interface{}{"k": "v"}, nil))
	f.advance(5 * time.Minute)

	ready, err := f.queue.DequeueReady(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ready, 1)

	require.NoError(t, f.queue.Complete(ctx, ready[0]))
	ready, err = f.queue.DequeueReady(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, ready)
	assert.Empty(t, f.mr.Keys())
}

func TestRetryQueueBoundsDrainBatch(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		require.NoError(t, f.queue.Enqueue(ctx, fmt.Sprintf("practice-%d", i), map[string]interface{}{"n": i}, nil))
	}
	f.advance(5 * time.Minute)

	ready, err := f.queue.DequeueReady(ctx, 50)
	require.NoError(t, err)
	assert.Len(t, ready, DefaultBatchSize)

	ready, err = f.queue.DequeueReady(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, ready, 3)
}

func TestRetryQueueAbsoluteTTL(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	require.NoError(t, f.queue.Enqueue(ctx, "practice-1", map[string]interface{}{"k": "v"}, nil))

	// the redis TTL reaps the entry regardless of attempt state
	f.advance(25 * time.Hour)

	ready, err := f.queue.DequeueReady(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, ready)

	// the stale id was pruned from the pending list too
	ids, err := f.queue.store.ListRange(ctx, pendingListKey, 0, -1)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
