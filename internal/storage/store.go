package storage

import (
	"context"

	"aktis/internal/model"
)

// Store defines persistence operations for training runs, field checkpoints
// and held-out evaluations.
type Store interface {
	Init(ctx context.Context) error
	SaveCheckpoint(ctx context.Context, checkpoint model.Checkpoint) error
	GetCheckpoint(ctx context.Context, id string) (model.Checkpoint, bool, error)
	LatestCheckpoint(ctx context.Context, runID string) (model.Checkpoint, bool, error)
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	SaveEvaluation(ctx context.Context, evaluation model.EvaluationRecord) error
	GetEvaluation(ctx context.Context, runID string) (model.EvaluationRecord, bool, error)
	SaveLossHistory(ctx context.Context, runID string, history []float64) error
	GetLossHistory(ctx context.Context, runID string) ([]float64, bool, error)
}
