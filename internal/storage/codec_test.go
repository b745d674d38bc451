package storage

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"aktis/internal/model"
)

func TestDecodeCheckpointFixture(t *testing.T) {
	checkpoint := decodeCheckpointFixture(t, "minimal_checkpoint_v1.json")
	if checkpoint.ID != "checkpoint-minimal-1" {
		t.Fatalf("unexpected checkpoint id: %s", checkpoint.ID)
	}
	if checkpoint.RunID != "run-minimal-1" {
		t.Fatalf("unexpected run id: %s", checkpoint.RunID)
	}
	if len(checkpoint.Field.Layers) != 2 {
		t.Fatalf("unexpected layer count: %d", len(checkpoint.Field.Layers))
	}
}

func TestDecodeRunFixture(t *testing.T) {
	data, err := os.ReadFile(fixturePath("minimal_run_v1.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}

	run, err := DecodeRun(data)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	if run.ID != "run-minimal-1" {
		t.Fatalf("unexpected run id: %s", run.ID)
	}
	if run.FinalLoss != 0.0125 {
		t.Fatalf("unexpected final loss: %f", run.FinalLoss)
	}
}

func TestDecodeEvaluationFixture(t *testing.T) {
	data, err := os.ReadFile(fixturePath("minimal_evaluation_v1.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}

	evaluation, err := DecodeEvaluation(data)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	if evaluation.RunID != "run-minimal-1" {
		t.Fatalf("unexpected run id: %s", evaluation.RunID)
	}
	if len(evaluation.Items) != 2 || evaluation.Items[1].PSNR != 22.25 {
		t.Fatalf("unexpected items: %+v", evaluation.Items)
	}
}

func TestCheckpointCodecRoundTrip(t *testing.T) {
	input := sampleCheckpoint("cp-1", "run-1", 250, "2026-01-02T03:04:05Z")

	encoded, err := EncodeCheckpoint(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeCheckpoint(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, input) {
		t.Fatalf("roundtrip mismatch\nactual=%+v\nexpected=%+v", decoded, input)
	}
}

func TestCheckpointCodecRoundTripFixtureEquality(t *testing.T) {
	expected := decodeCheckpointFixture(t, "minimal_checkpoint_v1.json")

	encoded, err := EncodeCheckpoint(expected)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	actual, err := DecodeCheckpoint(encoded)
	if err != nil {
		t.Fatalf("decode roundtrip: %v", err)
	}

	if !reflect.DeepEqual(actual, expected) {
		t.Fatalf("roundtrip mismatch\nactual=%+v\nexpected=%+v", actual, expected)
	}
}

func TestRunCodecRoundTrip(t *testing.T) {
	input := model.RunRecord{
		VersionedRecord: versioned(),
		ID:              "run-1",
		Dataset:         "scene.npz",
		Steps:           500,
		BatchSize:       512,
		Seed:            42,
		FinalLoss:       0.03,
		CreatedAtUTC:    "2026-01-02T03:04:05Z",
	}

	encoded, err := EncodeRun(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeRun(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, input) {
		t.Fatalf("roundtrip mismatch: got=%+v want=%+v", decoded, input)
	}
}

func TestEvaluationCodecRoundTrip(t *testing.T) {
	input := model.EvaluationRecord{
		VersionedRecord: versioned(),
		RunID:           "run-1",
		Items:           []model.EvaluationItem{{View: 0, PSNR: 19.5}, {View: 3, PSNR: 24.0}},
		MeanPSNR:        21.75,
		SecondsPerFrame: 1.5,
		FramesPerSec:    0.667,
		CreatedAtUTC:    "2026-01-02T04:00:00Z",
	}

	encoded, err := EncodeEvaluation(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeEvaluation(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, input) {
		t.Fatalf("roundtrip mismatch: got=%+v want=%+v", decoded, input)
	}
}

func TestLossHistoryCodecRoundTrip(t *testing.T) {
	input := []float64{0.9, 0.4, 0.15}
	encoded, err := EncodeLossHistory(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeLossHistory(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, input) {
		t.Fatalf("decoded history mismatch: got=%+v want=%+v", decoded, input)
	}
}

func TestDecodeCheckpointVersionMismatch(t *testing.T) {
	checkpoint := decodeCheckpointFixture(t, "minimal_checkpoint_v1.json")
	checkpoint.CodecVersion++

	encoded, err := EncodeCheckpoint(checkpoint)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	_, err = DecodeCheckpoint(encoded)
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got: %v", err)
	}
}

func TestDecodeRunVersionMismatch(t *testing.T) {
	run := model.RunRecord{VersionedRecord: versioned(), ID: "run-1"}
	run.SchemaVersion++

	encoded, err := EncodeRun(run)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	_, err = DecodeRun(encoded)
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got: %v", err)
	}
}

func TestDecodeEvaluationVersionMismatch(t *testing.T) {
	evaluation := model.EvaluationRecord{VersionedRecord: versioned(), RunID: "run-1"}
	evaluation.CodecVersion++

	encoded, err := EncodeEvaluation(evaluation)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	_, err = DecodeEvaluation(encoded)
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got: %v", err)
	}
}

func TestDecodeCheckpointCorruptPayload(t *testing.T) {
	if _, err := DecodeCheckpoint([]byte("{")); err == nil {
		t.Fatal("expected error")
	}
}

func fixturePath(name string) string {
	return filepath.Join("..", "..", "testdata", "fixtures", name)
}

func decodeCheckpointFixture(t *testing.T, name string) model.Checkpoint {
	t.Helper()

	data, err := os.ReadFile(fixturePath(name))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}

	checkpoint, err := DecodeCheckpoint(data)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	return checkpoint
}
