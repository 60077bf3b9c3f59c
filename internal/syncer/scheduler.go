package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler periodically triggers account syncs and queue drains. Overlap is
// handled by the orchestrator's in-progress guard and the processor's
// in-flight flag: a tick that lands mid-run is dropped and the next tick
// catches up.
type Scheduler struct {
	orch     *Orchestrator
	proc     *Processor
	accounts []string
	logger   *zap.Logger
	spec     string
	timeout  time.Duration
	cron     *cron.Cron
	entryID  cron.EntryID
}

// NewScheduler builds a scheduler with a cron spec (e.g. "@every 5m").
func NewScheduler(spec string, accounts []string, orch *Orchestrator, proc *Processor, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		orch:     orch,
		proc:     proc,
		accounts: accounts,
		logger:   logger,
		spec:     spec,
		timeout:  10 * time.Minute,
		cron:     cron.New(),
	}
}

// Start registers the tick and starts the cron loop.
func (s *Scheduler) Start() error {
	id, err := s.cron.AddFunc(s.spec, s.tick)
	if err != nil {
		return err
	}
	s.entryID = id
	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("interval", s.spec))
	return nil
}

// Stop stops the cron loop; a tick already running finishes on its own.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	for _, account := range s.accounts {
		res, err := s.orch.SyncAccount(ctx, account)
		if errors.Is(err, ErrSyncInProgress) {
			// Still fall through to the drain below so offline edits flush
			// even while a long sync holds the guard.
			s.logger.Debug("sync already running, skipping tick", zap.String("account_id", account))
			break
		}
		if err != nil {
			s.logger.Error("scheduled sync failed", zap.String("account_id", account), zap.Error(err))
			continue
		}
		if len(res.Failures) > 0 {
			s.logger.Warn("scheduled sync finished with calendar failures",
				zap.String("account_id", account), zap.Int("failures", len(res.Failures)))
		}
	}

	if _, err := s.proc.Drain(ctx); err != nil {
		s.logger.Error("scheduled drain failed", zap.Error(err))
	}
}
