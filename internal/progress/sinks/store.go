package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/shotcast/internal/progress"
	"github.com/JakeFAU/shotcast/internal/store"
)

// StoreSink persists request lifecycles into the capture_runs history through
// a store.RunRepository. Intermediate stages are ignored.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger.Named("run_history")}
}

// Consume writes starts and terminal outcomes in batch order. The first
// repository error aborts the batch and is returned.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		if err := s.consume(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) consume(ctx context.Context, evt progress.Event) error {
	if evt.Stage == progress.StageRequestStart {
		run := store.Run{
			ClientID:  evt.ClientID,
			RequestID: evt.RequestID,
			ProjectID: evt.ProjectID,
			StartedAt: evt.TS,
			Status:    store.RunRunning,
		}
		if err := s.repo.StartRun(ctx, run); err != nil {
			return fmt.Errorf("start run: %w", err)
		}
		return nil
	}
	status, ok := runStatus(evt.Stage)
	if !ok {
		return nil
	}
	var note *string
	if evt.Note != "" {
		note = &evt.Note
	}
	err := s.repo.CompleteRun(ctx, evt.ClientID, evt.RequestID, evt.TS, status, string(evt.Source), note)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

func runStatus(stage progress.Stage) (store.RunStatus, bool) {
	switch stage {
	case progress.StageRequestSucceeded:
		return store.RunSucceeded, true
	case progress.StageRequestFailed:
		return store.RunFailed, true
	case progress.StageRequestCancelled:
		return store.RunCancelled, true
	default:
		return "", false
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
