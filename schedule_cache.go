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
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pulphealth/pulp/model"
)

const (
	// DefaultMaxCacheEntries bounds how many (practice, date) days one
	// instance holds before evicting the least recently loaded day.
	DefaultMaxCacheEntries = 5000

	// DefaultSweepInterval is how often the background sweep purges
	// expired days.
	DefaultSweepInterval = 5 * time.Minute
)

type scheduleKey struct {
	practiceID string
	date       string
}

type scheduleEntry struct {
	patients  []model.SchedulePatient
	loadedAt  time.Time
	expiresAt time.Time
}

// ScheduleCache holds each practice's daily patient list in process
// memory. It is an optimization, never a source of truth: every entry
// dies at end of day and a cold cache is repaired by the next PMS pull.
type ScheduleCache struct {
	mu         sync.RWMutex
	entries    map[scheduleKey]*scheduleEntry
	maxEntries int
	sweepEvery time.Duration
	loc        *time.Location
	now        func() time.Time
}

type ScheduleCacheOption func(*ScheduleCache)

func WithMaxCacheEntries(n int) ScheduleCacheOption {
	return func(c *ScheduleCache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

func WithSweepInterval(d time.Duration) ScheduleCacheOption {
	return func(c *ScheduleCache) {
		if d > 0 {
			c.sweepEvery = d
		}
	}
}

// WithCacheLocation sets the timezone whose midnight ends a cached day.
func WithCacheLocation(loc *time.Location) ScheduleCacheOption {
	return func(c *ScheduleCache) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithCacheClock injects the clock. Used by tests.
func WithCacheClock(now func() time.Time) ScheduleCacheOption {
	return func(c *ScheduleCache) { c.now = now }
}

func NewScheduleCache(opts ...ScheduleCacheOption) *ScheduleCache {
	c := &ScheduleCache{
		entries:    make(map[scheduleKey]*scheduleEntry),
		maxEntries: DefaultMaxCacheEntries,
		sweepEvery: DefaultSweepInterval,
		loc:        time.UTC,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the patient list cached for a practice's day, or false
// when the day was never loaded or has expired. An expired entry found
// on read is dropped immediately rather than waiting for the sweep.
func (c *ScheduleCache) Get(practiceID, date string) ([]model.SchedulePatient, bool) {
	key := scheduleKey{practiceID: practiceID, date: date}

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if !c.now().Before(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return clonePatients(entry.patients), true
}

// Set replaces the patient list for a practice's day. The entry expires
// at the midnight ending that date no matter when it was loaded. When
// the global ceiling is exceeded the least recently loaded day is
// evicted, regardless of how recently it was read.
func (c *ScheduleCache) Set(practiceID, date string, patients []model.SchedulePatient) {
	key := scheduleKey{practiceID: practiceID, date: date}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &scheduleEntry{
		patients:  clonePatients(patients),
		loadedAt:  now,
		expiresAt: c.endOfDay(date),
	}
	c.evictOverCeiling()
}

// Merge upserts a single patient into a day's list, matching first on
// external id and then on case-insensitive name. A merge into a day that
// was never loaded creates the entry: a real-time PMS event should not
// be lost just because the morning pull has not happened yet.
func (c *ScheduleCache) Merge(practiceID, date string, patient model.SchedulePatient) {
	key := scheduleKey{practiceID: practiceID, date: date}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || !now.Before(entry.expiresAt) {
		c.entries[key] = &scheduleEntry{
			patients:  []model.SchedulePatient{patient},
			loadedAt:  now,
			expiresAt: c.endOfDay(date),
		}
		c.evictOverCeiling()
		return
	}

	for i, existing := range entry.patients {
		if patient.ExternalID != "" && existing.ExternalID == patient.ExternalID {
			entry.patients[i] = patient
			return
		}
	}
	for i, existing := range entry.patients {
		if existing.SameName(patient) {
			entry.patients[i] = patient
			return
		}
	}
	entry.patients = append(entry.patients, patient)
}

// Remove drops one patient from a day's list by external id. Reports
// whether anything was removed.
func (c *ScheduleCache) Remove(practiceID, date, externalID string) bool {
	key := scheduleKey{practiceID: practiceID, date: date}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return false
	}
	for i, existing := range entry.patients {
		if existing.ExternalID == externalID {
			entry.patients = append(entry.patients[:i], entry.patients[i+1:]...)
			return true
		}
	}
	return false
}

// Invalidate drops a day's entry outright, forcing the next read to
// refetch from the PMS.
func (c *ScheduleCache) Invalidate(practiceID, date string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, scheduleKey{practiceID: practiceID, date: date})
}

// Len reports the number of live entries.
func (c *ScheduleCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep removes every expired entry and returns how many were purged.
// Runs on a timer via RunSweeper but is safe to call directly.
func (c *ScheduleCache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	purged := 0
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
			purged++
		}
	}
	return purged
}

// RunSweeper purges expired entries on the configured interval until the
// context is cancelled.
func (c *ScheduleCache) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if purged := c.Sweep(); purged > 0 {
				logrus.Infof("schedule cache sweep purged %d expired day(s)", purged)
			}
		}
	}
}

// endOfDay returns the midnight that closes the given calendar date in
// the cache's timezone. Unparseable dates expire at the end of today so
// a bad key can never pin an entry forever.
func (c *ScheduleCache) endOfDay(date string) time.Time {
	day, err := time.ParseInLocation("2006-01-02", date, c.loc)
	if err != nil {
		day = c.now().In(c.loc)
		day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, c.loc)
	}
	return day.AddDate(0, 0, 1)
}

// evictOverCeiling drops the least recently loaded entries until the
// ceiling holds. Caller must hold the write lock.
func (c *ScheduleCache) evictOverCeiling() {
	for len(c.entries) > c.maxEntries {
		var oldestKey scheduleKey
		var oldest time.Time
		first := true
		for key, entry := range c.entries {
			if first || entry.loadedAt.Before(oldest) {
				oldestKey, oldest = key, entry.loadedAt
				first = false
			}
		}
		delete(c.entries, oldestKey)
		logrus.Debugf("schedule cache ceiling hit, evicted %s/%s", oldestKey.practiceID, oldestKey.date)
	}
}

func clonePatients(in []model.SchedulePatient) []model.SchedulePatient {
	if in == nil {
		return nil
	}
	out := make([]model.SchedulePatient, len(in))
	copy(out, in)
	return out
}
