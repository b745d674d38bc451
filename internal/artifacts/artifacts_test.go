package artifacts

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"aktis/internal/model"
)

func TestWriteAndExportRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "exports")

	runID := "run-123"
	bundle := RunArtifacts{
		Config: RunConfig{
			RunID:         runID,
			Dataset:       "synthetic-sphere",
			Steps:         50,
			BatchSize:     256,
			CoarseSamples: 16,
			FineSamples:   32,
			LearningRate:  5e-4,
			Seed:          1,
			Workers:       2,
		},
		LossHistory: []float64{0.5, 0.2, 0.1},
		FinalLoss:   0.1,
		FinalPSNR:   18.4,
	}

	runDir, err := WriteRunArtifacts(baseDir, bundle)
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}

	for _, file := range []string{"config.json", "loss_history.json", "loss_series.csv"} {
		if _, err := os.Stat(filepath.Join(runDir, file)); err != nil {
			t.Fatalf("expected file %s: %v", file, err)
		}
	}

	exportedDir, err := ExportRunArtifacts(baseDir, runID, outDir)
	if err != nil {
		t.Fatalf("export artifacts: %v", err)
	}

	for _, file := range []string{"config.json", "loss_history.json", "loss_series.csv"} {
		if _, err := os.Stat(filepath.Join(exportedDir, file)); err != nil {
			t.Fatalf("expected exported file %s: %v", file, err)
		}
	}

	record := model.EvaluationRecord{
		VersionedRecord: model.VersionedRecord{SchemaVersion: 1, CodecVersion: 1},
		RunID:           runID,
		Items:           []model.EvaluationItem{{View: 0, PSNR: 18.4}},
		MeanPSNR:        18.4,
	}
	if err := WriteEvaluation(runDir, record); err != nil {
		t.Fatalf("write evaluation: %v", err)
	}

	exportedDirWithEval, err := ExportRunArtifacts(baseDir, runID, outDir)
	if err != nil {
		t.Fatalf("export artifacts with evaluation: %v", err)
	}
	if _, err := os.Stat(filepath.Join(exportedDirWithEval, "evaluation.json")); err != nil {
		t.Fatalf("expected exported evaluation: %v", err)
	}
}

func TestWriteRunArtifactsRequiresRunID(t *testing.T) {
	if _, err := WriteRunArtifacts(t.TempDir(), RunArtifacts{}); err == nil {
		t.Fatal("expected error for missing run id")
	}
}

func TestRunIndexAppendListAndUpsert(t *testing.T) {
	baseDir := t.TempDir()

	err := AppendRunIndex(baseDir, RunIndexEntry{
		RunID:        "run-1",
		Dataset:      "synthetic-sphere",
		Steps:        100,
		BatchSize:    512,
		Seed:         1,
		Workers:      2,
		FinalLoss:    0.08,
		FinalPSNR:    17.2,
		CreatedAtUTC: "2026-08-20T10:00:00Z",
	})
	if err != nil {
		t.Fatalf("append run-1: %v", err)
	}

	err = AppendRunIndex(baseDir, RunIndexEntry{
		RunID:        "run-2",
		Dataset:      "synthetic-sphere",
		Steps:        100,
		BatchSize:    512,
		Seed:         2,
		Workers:      2,
		FinalLoss:    0.07,
		FinalPSNR:    17.9,
		CreatedAtUTC: "2026-08-20T11:00:00Z",
	})
	if err != nil {
		t.Fatalf("append run-2: %v", err)
	}

	entries, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].RunID != "run-2" || entries[1].RunID != "run-1" {
		t.Fatalf("unexpected order: %+v", entries)
	}

	err = AppendRunIndex(baseDir, RunIndexEntry{
		RunID:        "run-1",
		Dataset:      "synthetic-sphere",
		Steps:        100,
		BatchSize:    512,
		Seed:         1,
		Workers:      2,
		FinalLoss:    0.05,
		FinalPSNR:    19.1,
		CreatedAtUTC: "2026-08-20T12:00:00Z",
	})
	if err != nil {
		t.Fatalf("upsert run-1: %v", err)
	}

	entries, err = ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list after upsert: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries after upsert, got %d", len(entries))
	}
	if entries[0].RunID != "run-1" || entries[0].FinalPSNR != 19.1 {
		t.Fatalf("unexpected upsert result: %+v", entries[0])
	}
}

func TestRunIndexEqualTimestampPrefersLaterAppend(t *testing.T) {
	baseDir := t.TempDir()
	ts := "2026-08-20T12:00:00Z"

	if err := AppendRunIndex(baseDir, RunIndexEntry{RunID: "run-a", CreatedAtUTC: ts}); err != nil {
		t.Fatalf("append run-a: %v", err)
	}
	if err := AppendRunIndex(baseDir, RunIndexEntry{RunID: "run-b", CreatedAtUTC: ts}); err != nil {
		t.Fatalf("append run-b: %v", err)
	}

	entries, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].RunID != "run-b" {
		t.Fatalf("expected latest appended run-b first, got %+v", entries)
	}
}

func TestReadRunConfigMissingAndRoundTrip(t *testing.T) {
	baseDir := t.TempDir()
	runID := "run-config"

	if _, ok, err := ReadRunConfig(baseDir, runID); err != nil || ok {
		t.Fatalf("expected missing config; ok=%t err=%v", ok, err)
	}

	want := RunConfig{
		RunID:        runID,
		Dataset:      "lego",
		Steps:        2000,
		BatchSize:    1024,
		LearningRate: 5e-4,
		Seed:         7,
	}
	if err := WriteRunConfig(baseDir, runID, want); err != nil {
		t.Fatalf("write config: %v", err)
	}

	got, ok, err := ReadRunConfig(baseDir, runID)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !ok {
		t.Fatal("expected config to exist")
	}
	if got != want {
		t.Fatalf("unexpected config: got=%+v want=%+v", got, want)
	}
}

func TestWriteRunConfigRejectsMismatchedID(t *testing.T) {
	err := WriteRunConfig(t.TempDir(), "run-x", RunConfig{RunID: "run-y"})
	if err == nil {
		t.Fatal("expected error for mismatched run id")
	}
}

func TestLossSeriesRoundTrip(t *testing.T) {
	baseDir := t.TempDir()
	runID := "run-series"
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		t.Fatalf("mkdir run dir: %v", err)
	}

	if _, ok, err := ReadLossSeries(baseDir, runID); err != nil || ok {
		t.Fatalf("expected missing series; ok=%t err=%v", ok, err)
	}

	want := []float64{0.5, 0.25, 0.125, 0.0625}
	if err := WriteLossSeries(runDir, want); err != nil {
		t.Fatalf("write series: %v", err)
	}

	got, ok, err := ReadLossSeries(baseDir, runID)
	if err != nil {
		t.Fatalf("read series: %v", err)
	}
	if !ok {
		t.Fatal("expected series to exist")
	}
	if len(got) != len(want) {
		t.Fatalf("unexpected series length: got=%d want=%d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Fatalf("unexpected series value at %d: got=%v want=%v", i, got[i], want[i])
		}
	}
}

func TestReadEvaluationRoundTrip(t *testing.T) {
	baseDir := t.TempDir()
	runID := "run-eval"
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		t.Fatalf("mkdir run dir: %v", err)
	}

	if _, ok, err := ReadEvaluation(baseDir, runID); err != nil || ok {
		t.Fatalf("expected missing evaluation; ok=%t err=%v", ok, err)
	}

	want := model.EvaluationRecord{
		VersionedRecord: model.VersionedRecord{SchemaVersion: 1, CodecVersion: 1},
		RunID:           runID,
		Items: []model.EvaluationItem{
			{View: 0, PSNR: 21.5},
			{View: 1, PSNR: 22.25},
		},
		MeanPSNR:        21.875,
		SecondsPerFrame: 0.5,
		FramesPerSec:    2,
		CreatedAtUTC:    "2026-08-20T12:00:00Z",
	}
	if err := WriteEvaluation(runDir, want); err != nil {
		t.Fatalf("write evaluation: %v", err)
	}

	got, ok, err := ReadEvaluation(baseDir, runID)
	if err != nil {
		t.Fatalf("read evaluation: %v", err)
	}
	if !ok {
		t.Fatal("expected evaluation to exist")
	}
	if got.MeanPSNR != want.MeanPSNR || len(got.Items) != len(want.Items) {
		t.Fatalf("unexpected evaluation: got=%+v want=%+v", got, want)
	}
}
