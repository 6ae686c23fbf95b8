package sync

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/spotsync/client/internal/observability"
)

// Scheduler triggers periodic reconciliation passes.
type Scheduler struct {
	engine  *Engine
	spec    string
	cron    *cron.Cron
	entryID cron.EntryID
	log     *observability.Logger
}

// NewScheduler creates a scheduler with a cron spec (e.g. "@every 5m").
func NewScheduler(engine *Engine, spec string) *Scheduler {
	return &Scheduler{
		engine: engine,
		spec:   spec,
		cron:   cron.New(),
		log:    observability.GetLogger(),
	}
}

// Start begins firing scheduled passes. An empty spec disables the
// scheduler.
func (s *Scheduler) Start() error {
	if s.spec == "" {
		s.log.Info("sync scheduler disabled")
		return nil
	}

	id, err := s.cron.AddFunc(s.spec, s.trigger)
	if err != nil {
		return err
	}
	s.entryID = id
	s.cron.Start()
	s.log.Infof("sync scheduler started (%s)", s.spec)
	return nil
}

// Stop halts scheduling. A pass already underway finishes on its own.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	s.log.Info("sync scheduler stopped")
}

func (s *Scheduler) trigger() {
	if s.engine.Running() {
		s.log.Debug("sync already running, skipping scheduled pass")
		return
	}
	if _, err := s.engine.TriggerSync(context.Background()); err != nil {
		s.log.Warnf("scheduled sync pass interrupted: %v", err)
	}
}
