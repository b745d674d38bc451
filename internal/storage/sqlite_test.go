//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"

	"aktis/internal/model"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "aktis.db")

	store := NewSQLiteStore(dbPath)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	checkpoint := sampleCheckpoint("cp-1", "run-1", 100, "2026-01-01T00:00:00Z")
	if err := store.SaveCheckpoint(ctx, checkpoint); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}

	loadedCheckpoint, ok, err := store.GetCheckpoint(ctx, checkpoint.ID)
	if err != nil {
		t.Fatalf("get checkpoint: %v", err)
	}
	if !ok {
		t.Fatalf("expected checkpoint %s", checkpoint.ID)
	}
	if loadedCheckpoint.RunID != checkpoint.RunID || loadedCheckpoint.Step != checkpoint.Step {
		t.Fatalf("unexpected checkpoint loaded: %+v", loadedCheckpoint)
	}
	if len(loadedCheckpoint.Field.Layers) != len(checkpoint.Field.Layers) {
		t.Fatalf("unexpected layer count: got=%d want=%d",
			len(loadedCheckpoint.Field.Layers), len(checkpoint.Field.Layers))
	}

	run := model.RunRecord{
		VersionedRecord: versioned(),
		ID:              "run-1",
		Dataset:         "scene.npz",
		Steps:           1000,
		BatchSize:       1024,
		Seed:            7,
		FinalLoss:       0.02,
		CreatedAtUTC:    "2026-01-01T00:05:00Z",
	}
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("save run: %v", err)
	}
	loadedRun, ok, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if !ok {
		t.Fatalf("expected run %s", run.ID)
	}
	if loadedRun.FinalLoss != run.FinalLoss {
		t.Fatalf("unexpected run loaded: %+v", loadedRun)
	}

	evaluation := model.EvaluationRecord{
		VersionedRecord: versioned(),
		RunID:           "run-1",
		Items:           []model.EvaluationItem{{View: 0, PSNR: 20.5}},
		MeanPSNR:        20.5,
		SecondsPerFrame: 0.4,
		FramesPerSec:    2.5,
		CreatedAtUTC:    "2026-01-01T00:10:00Z",
	}
	if err := store.SaveEvaluation(ctx, evaluation); err != nil {
		t.Fatalf("save evaluation: %v", err)
	}
	loadedEvaluation, ok, err := store.GetEvaluation(ctx, "run-1")
	if err != nil {
		t.Fatalf("get evaluation: %v", err)
	}
	if !ok {
		t.Fatal("expected evaluation run-1")
	}
	if len(loadedEvaluation.Items) != 1 || loadedEvaluation.MeanPSNR != evaluation.MeanPSNR {
		t.Fatalf("unexpected evaluation loaded: %+v", loadedEvaluation)
	}

	history := []float64{0.8, 0.3, 0.1}
	if err := store.SaveLossHistory(ctx, "run-1", history); err != nil {
		t.Fatalf("save history: %v", err)
	}
	loadedHistory, ok, err := store.GetLossHistory(ctx, "run-1")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if !ok {
		t.Fatal("expected loss history run-1")
	}
	if len(loadedHistory) != len(history) || loadedHistory[1] != history[1] {
		t.Fatalf("unexpected history loaded: %+v", loadedHistory)
	}
}

func TestSQLiteStoreLatestCheckpointOrdering(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "aktis.db")

	store := NewSQLiteStore(dbPath)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	for _, cp := range []model.Checkpoint{
		sampleCheckpoint("cp-1", "run-1", 100, "2026-01-01T00:00:00Z"),
		sampleCheckpoint("cp-2", "run-1", 300, "2026-01-01T00:10:00Z"),
		sampleCheckpoint("cp-3", "run-2", 900, "2026-01-01T00:20:00Z"),
	} {
		if err := store.SaveCheckpoint(ctx, cp); err != nil {
			t.Fatalf("save checkpoint: %v", err)
		}
	}

	latest, ok, err := store.LatestCheckpoint(ctx, "run-1")
	if err != nil {
		t.Fatalf("latest checkpoint: %v", err)
	}
	if !ok {
		t.Fatal("expected latest checkpoint")
	}
	if latest.ID != "cp-2" {
		t.Fatalf("unexpected latest checkpoint: got=%s want=%s", latest.ID, "cp-2")
	}

	_, ok, err = store.LatestCheckpoint(ctx, "run-9")
	if err != nil {
		t.Fatalf("latest checkpoint for unknown run: %v", err)
	}
	if ok {
		t.Fatal("expected no checkpoint for unknown run")
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "aktis.db")

	first := NewSQLiteStore(dbPath)
	if err := first.Init(ctx); err != nil {
		t.Fatalf("first init: %v", err)
	}
	checkpoint := sampleCheckpoint("persisted-checkpoint", "run-1", 10, "2026-01-01T00:00:00Z")
	if err := first.SaveCheckpoint(ctx, checkpoint); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}

	second := NewSQLiteStore(dbPath)
	if err := second.Init(ctx); err != nil {
		t.Fatalf("second init: %v", err)
	}
	t.Cleanup(func() {
		_ = second.Close()
	})

	loaded, ok, err := second.GetCheckpoint(ctx, checkpoint.ID)
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if !ok || loaded.ID != checkpoint.ID {
		t.Fatalf("expected persisted checkpoint, got ok=%t value=%+v", ok, loaded)
	}
}
