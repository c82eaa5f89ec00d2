// Package scheduler fires the daily base-analysis batch: once at startup,
// then at 23:00 and 04:00 local time. Wall-clock slots are checked every
// minute and stamped per date, so each slot runs at most once per day no
// matter how the ticks land.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Callback is the scheduled work: the macro + market + fundamental batch.
type Callback func(ctx context.Context)

type slotState struct {
	hour     int
	label    string
	lastDate string
}

// Scheduler runs the callback on its fixed schedule. Start/Stop are safe
// for concurrent use.
type Scheduler struct {
	callback Callback
	logger   zerolog.Logger
	now      func() time.Time
	tick     time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	slots   []*slotState
}

func New(callback Callback, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		callback: callback,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		now:      time.Now,
		tick:     time.Minute,
		slots: []*slotState{
			{hour: 23, label: "每晚23:00"},
			{hour: 4, label: "凌晨04:00"},
		},
	}
}

// Start launches the scheduler loop. The startup run happens on the loop
// goroutine so Start returns immediately even when the batch is slow.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn().Msg("scheduler already running")
		return
	}
	s.running = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(ctx)
	s.logger.Info().Msg("scheduler started: on boot, nightly 23:00 and 04:00")
}

// Stop halts the loop and waits for it to exit. A run already in progress
// finishes first.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info().Msg("scheduler stopped")
}

// Status reports the scheduler state for get_system_status.
func (s *Scheduler) Status() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]interface{}{
		"is_running":   s.running,
		"has_callback": s.callback != nil,
		"schedule":     []string{"启动时", "每晚23:00", "凌晨04:00"},
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	s.runBatch(ctx, "启动时")

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, label := range s.dueSlots(s.now()) {
				s.runBatch(ctx, label)
			}
		}
	}
}

// dueSlots returns the labels of slots that should fire at now, stamping
// each with today's date so a slot fires once per day.
func (s *Scheduler) dueSlots(now time.Time) []string {
	if now.Minute() != 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	date := now.Format("2006-01-02")
	var due []string
	for _, slot := range s.slots {
		if now.Hour() == slot.hour && slot.lastDate != date {
			slot.lastDate = date
			due = append(due, slot.label)
		}
	}
	return due
}

// runBatch executes the callback; a failing batch must never take the
// scheduler loop down with it.
func (s *Scheduler) runBatch(ctx context.Context, trigger string) {
	if s.callback == nil {
		s.logger.Warn().Msg("no analysis callback set")
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("trigger", trigger).Msg("scheduled batch panicked")
		}
	}()

	s.logger.Info().Str("trigger", trigger).Msg("scheduled base analysis starting")
	s.callback(ctx)
	s.logger.Info().Str("trigger", trigger).Msg("scheduled base analysis finished")
}
