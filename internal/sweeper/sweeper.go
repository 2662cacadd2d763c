// Package sweeper expires chat sessions that have been idle longer than a configured TTL.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/boat-builder/meetingpod"
)

const stopTimeout = 5 * time.Second

// Sweeper deletes idle sessions from the store and drops their conversation memory.
type Sweeper struct {
	store    meetingpod.Storage
	registry *meetingpod.SessionMemoryRegistry
	ttl      time.Duration
	schedule string
	now      func() time.Time
	logger   *slog.Logger

	mu   sync.Mutex
	cron *rcron.Cron
}

func New(store meetingpod.Storage, registry *meetingpod.SessionMemoryRegistry, ttl time.Duration, schedule string) *Sweeper {
	return &Sweeper{
		store:    store,
		registry: registry,
		ttl:      ttl,
		schedule: schedule,
		now:      time.Now,
		logger:   slog.Default(),
	}
}

// Sweep removes every session last active before now minus the TTL and returns their IDs.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) ([]string, error) {
	if s.ttl <= 0 {
		return nil, nil
	}
	ids, err := s.store.DeleteIdleSessions(ctx, now.Add(-s.ttl))
	if err != nil {
		return nil, fmt.Errorf("sweep idle sessions: %w", err)
	}
	for _, id := range ids {
		s.registry.Clear(id)
	}
	if len(ids) > 0 {
		s.logger.Info("Expired idle sessions", "count", len(ids), "ttl", s.ttl)
	}
	return ids, nil
}

// Start schedules Sweep. It does nothing when the TTL is zero.
func (s *Sweeper) Start(ctx context.Context) error {
	if s.ttl <= 0 {
		s.logger.Debug("Session sweeper disabled")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}
	c := rcron.New()
	if _, err := c.AddFunc(s.schedule, func() {
		if _, err := s.Sweep(ctx, s.now()); err != nil {
			s.logger.Error("Session sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule %q: %w", s.schedule, err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("Session sweeper started", "schedule", s.schedule, "ttl", s.ttl)
	return nil
}

// Stop halts the schedule and waits briefly for a running sweep.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-time.After(stopTimeout):
		s.logger.Warn("Session sweeper stop timeout waiting for running sweep")
	}
}
