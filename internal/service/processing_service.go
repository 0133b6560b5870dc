package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gradeflow/internal/logger"
	"gradeflow/internal/model"
	"gradeflow/internal/storage"
	"gradeflow/internal/worker"
)

// ProcessingService runs AI correction in the background
type ProcessingService struct {
	sheets     *SheetService
	roster     *RosterService
	store      storage.ObjectStore
	corrector  Corrector
	pool       *worker.Pool
	dispatcher *Dispatcher
	estimate   time.Duration
}

// NewProcessingService creates a new processing service
func NewProcessingService(
	sheets *SheetService,
	roster *RosterService,
	store storage.ObjectStore,
	corrector Corrector,
	pool *worker.Pool,
	dispatcher *Dispatcher,
	estimate time.Duration,
) *ProcessingService {
	if estimate <= 0 {
		estimate = 2 * time.Minute
	}
	return &ProcessingService{
		sheets:     sheets,
		roster:     roster,
		store:      store,
		corrector:  corrector,
		pool:       pool,
		dispatcher: dispatcher,
		estimate:   estimate,
	}
}

// Process marks the sheet PROCESSING and queues its correction. The result is only
// observable later through the sheet status and notifications.
func (p *ProcessingService) Process(ctx context.Context, sheetID string) (*model.ProcessResponse, error) {
	sheet, previous, err := p.sheets.startProcessing(ctx, sheetID)
	if err != nil {
		return nil, err
	}

	err = p.pool.Submit(worker.Task{
		Name: "correct:" + sheetID,
		Run: func(ctx context.Context) error {
			return p.run(ctx, sheetID)
		},
		OnPanic: func(r interface{}) {
			p.fail(sheetID, fmt.Sprintf("internal error: %v", r))
		},
	})
	if err != nil {
		logger.Warnf("[Processing] could not queue sheet %s: %v", sheetID, err)
		if rErr := p.sheets.revertProcessing(context.Background(), sheetID, previous); rErr != nil {
			logger.Errorf("[Processing] failed to revert sheet %s to %s: %v", sheetID, previous.status, rErr)
		}
		if errors.Is(err, worker.ErrQueueFull) || errors.Is(err, worker.ErrStopped) {
			return nil, ErrQueueFull
		}
		return nil, err
	}

	started := time.Now()
	if sheet.ProcessingStartedAt != nil {
		started = *sheet.ProcessingStartedAt
	}
	logger.Infof("[Processing] sheet %s queued for correction", sheetID)
	return &model.ProcessResponse{
		SheetID:               sheet.ID,
		Status:                sheet.Status,
		EstimatedCompletionAt: started.Add(p.estimate),
	}, nil
}

// run is the detached correction task
func (p *ProcessingService) run(ctx context.Context, sheetID string) error {
	sheet, err := p.sheets.Get(ctx, sheetID)
	if err != nil {
		return err
	}
	if sheet.Status != model.SheetStatusProcessing {
		logger.Infof("[Processing] sheet %s is %s now, skipping correction", sheetID, sheet.Status)
		return nil
	}

	correction, err := p.correct(ctx, sheet)
	if err != nil {
		p.fail(sheetID, err.Error())
		return err
	}

	if _, err := p.sheets.ApplyAICorrection(ctx, sheetID, correction); err != nil {
		if errors.Is(err, ErrInvalidState) || errors.Is(err, ErrNotFound) {
			logger.Warnf("[Processing] dropping correction for sheet %s: %v", sheetID, err)
			return nil
		}
		p.fail(sheetID, "could not store correction: "+err.Error())
		return err
	}
	logger.Infof("[Processing] sheet %s corrected: %.2f/%.2f", sheetID, correction.ObtainedMarks, correction.TotalMarks)
	return nil
}

func (p *ProcessingService) correct(ctx context.Context, sheet *model.AnswerSheet) (*model.AICorrection, error) {
	exam, err := p.roster.GetExam(ctx, sheet.ExamID)
	if err != nil {
		return nil, err
	}
	data, err := p.store.Fetch(ctx, sheet.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("fetch sheet file: %w", err)
	}
	return p.corrector.Correct(ctx, exam, sheet, data)
}

// fail moves a still-processing sheet to ERROR and tells the uploader.
// It runs on a fresh context since the task context may already be done.
func (p *ProcessingService) fail(sheetID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sheet, err := p.sheets.MarkError(ctx, sheetID, reason)
	if err != nil {
		logger.Errorf("[Processing] failed to mark sheet %s as errored: %v", sheetID, err)
		return
	}
	if sheet.Status != model.SheetStatusError {
		return
	}
	logger.Warnf("[Processing] sheet %s failed: %s", sheetID, reason)
	p.dispatcher.AICorrectionFailed(ctx, sheet, reason)
}

// SweepStale fails sheets that have been PROCESSING for longer than staleAfter
func (p *ProcessingService) SweepStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	stale, err := p.sheets.sheets.ListStaleProcessing(ctx, time.Now().Add(-staleAfter))
	if err != nil {
		return 0, err
	}
	for _, sheet := range stale {
		p.fail(sheet.ID, "processing timed out")
	}
	if len(stale) > 0 {
		logger.Infof("[Processing] swept %d stale sheets", len(stale))
	}
	return len(stale), nil
}
