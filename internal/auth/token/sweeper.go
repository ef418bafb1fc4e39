package token

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper defaults: refresh every 15 minutes anything expiring within 20.
const (
	DefaultSweepSchedule = "@every 15m"
	DefaultSweepWindow   = 20 * time.Minute
)

// Sweeper periodically refreshes tokens that are about to expire, so most
// request-time lookups hit the fast path.
type Sweeper struct {
	mgr      *Manager
	cron     *cron.Cron
	schedule string
	window   time.Duration
}

// NewSweeper schedules Manager.RefreshExpiring on a cron spec.
func NewSweeper(mgr *Manager, schedule string, window time.Duration) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if window <= 0 {
		window = DefaultSweepWindow
	}
	s := &Sweeper{
		mgr:      mgr,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		schedule: schedule,
		window:   window,
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins the schedule in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
	log.Printf("🔄 Token refresh sweep started (schedule: %s, window: %s)", s.schedule, s.window)
}

// Stop halts the schedule and waits for a running sweep or ctx, whichever ends first.
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs a single sweep immediately.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepReport, error) {
	return s.mgr.RefreshExpiring(ctx, s.window)
}

func (s *Sweeper) run() {
	if _, err := s.RunOnce(context.Background()); err != nil {
		log.Printf("⚠️ Refresh sweep failed: %v", err)
	}
}
