package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/interfaces"
	"github.com/timshannon/badgerhold/v4"
)

// StepResult is the persisted record of a successful step execution
type StepResult struct {
	Key       string    `json:"key"` // jobID + "/" + stepName
	JobID     string    `json:"job_id"`
	StepName  string    `json:"step_name"`
	Result    []byte    `json:"result"`
	CreatedAt time.Time `json:"created_at"`
}

// StepStorage implements the StepStorage interface for Badger
type StepStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewStepStorage creates a new StepStorage instance
func NewStepStorage(db *BadgerDB, logger arbor.ILogger) interfaces.StepStorage {
	return &StepStorage{
		db:     db,
		logger: logger,
	}
}

func stepKey(jobID, stepName string) string {
	return jobID + "/" + stepName
}

// SaveResult records a successful step execution keyed by (jobID, stepName)
func (s *StepStorage) SaveResult(ctx context.Context, jobID, stepName string, result []byte) error {
	record := &StepResult{
		Key:       stepKey(jobID, stepName),
		JobID:     jobID,
		StepName:  stepName,
		Result:    result,
		CreatedAt: time.Now(),
	}

	if err := s.db.Store().Upsert(record.Key, record); err != nil {
		return fmt.Errorf("failed to save step result: %w", err)
	}
	return nil
}

// GetResult returns the recorded result for (jobID, stepName) and whether one
// exists
func (s *StepStorage) GetResult(ctx context.Context, jobID, stepName string) ([]byte, bool, error) {
	var record StepResult
	if err := s.db.Store().Get(stepKey(jobID, stepName), &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get step result: %w", err)
	}
	return record.Result, true, nil
}
