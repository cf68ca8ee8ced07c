package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/shotcast/internal/store"
)

type runKey struct {
	clientID  string
	requestID string
}

// RunRepo implements store.RunRepository in memory.
type RunRepo struct {
	mu   sync.RWMutex
	runs map[runKey]store.Run
}

// NewRunRepo constructs an empty repository.
func NewRunRepo() *RunRepo {
	return &RunRepo{runs: make(map[runKey]store.Run)}
}

// StartRun inserts or restarts the run for (ClientID, RequestID).
func (r *RunRepo) StartRun(_ context.Context, run store.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run.Status = store.RunRunning
	run.FinishedAt = nil
	run.Note = nil
	r.runs[runKey{clientID: run.ClientID, requestID: run.RequestID}] = run
	return nil
}

// CompleteRun marks the run finished.
func (r *RunRepo) CompleteRun(
	_ context.Context,
	clientID, requestID string,
	finishedAt time.Time,
	status store.RunStatus,
	source string,
	note *string,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := runKey{clientID: clientID, requestID: requestID}
	run, ok := r.runs[key]
	if !ok {
		return store.ErrNotFound
	}
	run.FinishedAt = &finishedAt
	run.Status = status
	run.Source = source
	run.Note = note
	r.runs[key] = run
	return nil
}

// GetRun loads one run or returns store.ErrNotFound.
func (r *RunRepo) GetRun(_ context.Context, clientID, requestID string) (store.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[runKey{clientID: clientID, requestID: requestID}]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}
