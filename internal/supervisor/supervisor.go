// Package supervisor runs the orchestrator's periodic housekeeping
// tasks on a cron schedule, following the teacher's
// services.SchedulerService: idle-connection reaping, heartbeat
// fan-out, and stuck-workflow detection, per spec.md §4.J.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kvnkishore11/agentickanban/internal/connmgr"
	"github.com/kvnkishore11/agentickanban/internal/db/repositories"
	"github.com/kvnkishore11/agentickanban/internal/logging"
)

// Supervisor ticks every TickInterval, reaping idle connections,
// broadcasting a heartbeat, and flagging stuck workflows.
type Supervisor struct {
	cron          *cron.Cron
	conns         *connmgr.Manager
	repos         *repositories.Repositories
	tickInterval  time.Duration
	stuckThreshold time.Duration
}

// New constructs a Supervisor. tickInterval and stuckThreshold come
// from config.Config's SupervisorTickSeconds / StuckThresholdMinutes.
func New(conns *connmgr.Manager, repos *repositories.Repositories, tickInterval, stuckThreshold time.Duration) *Supervisor {
	c := cron.New(cron.WithSeconds(), cron.WithLogger(cron.VerbosePrintfLogger(log.New(log.Writer(), "supervisor: ", log.LstdFlags))))
	return &Supervisor{
		cron:           c,
		conns:          conns,
		repos:          repos,
		tickInterval:   tickInterval,
		stuckThreshold: stuckThreshold,
	}
}

// Start schedules the tick and begins running it.
func (s *Supervisor) Start() error {
	spec := fmt.Sprintf("@every %s", s.tickInterval)
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return fmt.Errorf("failed to schedule supervisor tick: %w", err)
	}
	s.cron.Start()
	logging.Info("supervisor: started, tick every %s", s.tickInterval)
	return nil
}

// Stop halts the scheduler, waiting up to 2s for the in-flight tick
// to finish before forcing a return.
func (s *Supervisor) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		<-s.cron.Stop().Done()
		close(done)
	}()

	select {
	case <-done:
		logging.Info("supervisor: stopped")
	case <-ctx.Done():
		logging.Warn("supervisor: stop timed out, forcing close")
	}
}

func (s *Supervisor) tick() {
	reaped := s.conns.ReapIdle()
	if reaped > 0 {
		logging.Info("supervisor: reaped %d idle connections", reaped)
	}
	s.conns.Heartbeat()

	stuck, err := s.repos.Workflows.DetectStuck(s.stuckThreshold, "")
	if err != nil {
		logging.Error("supervisor: stuck detection failed: %v", err)
		return
	}
	if stuck > 0 {
		logging.Info("supervisor: flagged %d stuck workflows", stuck)
	}
}
