package services

import (
	"time"

	"github.com/rs/zerolog"
)

// Purger deletes messages older than a threshold.
type Purger interface {
	PurgeBefore(threshold time.Time) int
}

// RetentionService handles automatic deletion of old messages.
// It runs as a background goroutine and periodically purges expired messages.
type RetentionService struct {
	store    Purger
	interval time.Duration
	ttl      time.Duration
	stopChan chan struct{}
	log      zerolog.Logger
	now      func() time.Time
}

// NewRetentionService creates a new retention service.
// - interval: how often to purge (e.g., 1 minute)
// - ttl: how long a message is kept (e.g., 30 days)
func NewRetentionService(store Purger, interval, ttl time.Duration, log zerolog.Logger) *RetentionService {
	return &RetentionService{
		store:    store,
		interval: interval,
		ttl:      ttl,
		stopChan: make(chan struct{}),
		log:      log.With().Str("component", "retention").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start begins the background retention worker.
// This method blocks and should be called with 'go'.
func (s *RetentionService) Start() {
	s.log.Info().Dur("interval", s.interval).Dur("ttl", s.ttl).Msg("Retention service started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce()
		case <-s.stopChan:
			s.log.Info().Msg("Retention service stopped")
			return
		}
	}
}

// Stop gracefully shuts down the retention service.
func (s *RetentionService) Stop() {
	close(s.stopChan)
}

// RunOnce purges every message older than the ttl and returns the count.
func (s *RetentionService) RunOnce() int {
	removed := s.store.PurgeBefore(s.now().Add(-s.ttl))
	if removed > 0 {
		s.log.Info().Int("removed", removed).Msg("Purged expired messages")
	}
	return removed
}
