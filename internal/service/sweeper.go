package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"gradeflow/internal/logger"
)

// StaleSweeper periodically fails sheets stuck in PROCESSING
type StaleSweeper struct {
	processing *ProcessingService
	staleAfter time.Duration
	cron       *cron.Cron
}

// NewStaleSweeper schedules the sweep on spec (standard cron or "@every" syntax)
func NewStaleSweeper(processing *ProcessingService, spec string, staleAfter time.Duration) (*StaleSweeper, error) {
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	s := &StaleSweeper{
		processing: processing,
		staleAfter: staleAfter,
		cron:       cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger))),
	}
	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins running the schedule in the background
func (s *StaleSweeper) Start() {
	logger.Infof("[Sweeper] started, cutoff=%s", s.staleAfter)
	s.cron.Start()
}

// Stop waits for a running sweep to finish or ctx to expire
func (s *StaleSweeper) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		logger.Warnf("[Sweeper] stop timed out")
	}
}

func (s *StaleSweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	if _, err := s.processing.SweepStale(ctx, s.staleAfter); err != nil {
		logger.Errorf("[Sweeper] sweep failed: %v", err)
	}
}
