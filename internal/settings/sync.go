package settings

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Saver stores highlight numbers on the backend.
type Saver interface {
	SaveHighlightNumbers(ctx context.Context, numbers []int) error
}

// Syncer debounces backend saves: only the last change within the delay
// window is sent.
type Syncer struct {
	saver   Saver
	delay   time.Duration
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	pending []int
	wg      sync.WaitGroup
}

// NewSyncer creates a Syncer that waits delay after the last change.
func NewSyncer(saver Saver, delay time.Duration, logger *slog.Logger) *Syncer {
	return &Syncer{
		saver:   saver,
		delay:   delay,
		timeout: 15 * time.Second,
		logger:  logger,
	}
}

// Schedule queues numbers for saving, replacing anything not yet sent.
func (s *Syncer) Schedule(numbers []int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = slices.Clone(numbers)
	if s.pending == nil {
		s.pending = []int{}
	}
	s.stopTimer()
	s.wg.Add(1)
	s.timer = time.AfterFunc(s.delay, func() {
		defer s.wg.Done()
		s.fire()
	})
}

// stopTimer cancels a timer that has not fired yet. Callers hold mu.
func (s *Syncer) stopTimer() {
	if s.timer != nil && s.timer.Stop() {
		s.wg.Done()
	}
	s.timer = nil
}

// Pending reports whether a change is waiting to be sent.
func (s *Syncer) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

func (s *Syncer) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		s.logger.Warn("sync highlight numbers", "error", err)
	}
}

// Flush sends the pending change immediately, if any.
func (s *Syncer) Flush(ctx context.Context) error {
	s.mu.Lock()
	numbers := s.pending
	s.pending = nil
	s.stopTimer()
	s.mu.Unlock()

	if numbers == nil {
		return nil
	}
	if err := s.saver.SaveHighlightNumbers(ctx, numbers); err != nil {
		return err
	}
	s.logger.Debug("highlight numbers synced", "numbers", numbers)
	return nil
}

// Close sends any pending change and waits for in-flight saves.
func (s *Syncer) Close(ctx context.Context) error {
	err := s.Flush(ctx)
	s.wg.Wait()
	return err
}
