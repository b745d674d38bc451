package aktis

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"aktis/internal/artifacts"
)

func newTestClient(t *testing.T) (*Client, string) {
	t.Helper()
	base := t.TempDir()
	client, err := New(Options{
		StoreKind:  "memory",
		RunsDir:    filepath.Join(base, "runs"),
		ExportsDir: filepath.Join(base, "exports"),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client, base
}

func TestClientTrainEvaluateRenderAndExport(t *testing.T) {
	client, base := newTestClient(t)
	ctx := context.Background()

	scenePath := filepath.Join(base, "sphere.npz")
	synth, err := client.Synth(ctx, SynthRequest{
		Path:   scenePath,
		Views:  6,
		Width:  10,
		Height: 10,
		Focal:  10,
		Seed:   3,
	})
	if err != nil {
		t.Fatalf("synth: %v", err)
	}
	if synth.Views != 6 || synth.Width != 10 || synth.Height != 10 {
		t.Fatalf("unexpected synth summary: %+v", synth)
	}
	if _, err := os.Stat(scenePath); err != nil {
		t.Fatalf("expected synth archive: %v", err)
	}

	summary, err := client.Train(ctx, TrainRequest{
		Dataset:              scenePath,
		Steps:                3,
		BatchSize:            8,
		CoarseSamples:        2,
		FineSamples:          2,
		PositionFrequencies:  2,
		DirectionFrequencies: 1,
		HiddenWidth:          8,
		HiddenLayers:         2,
		SkipLayer:            1,
		TrainSplit:           0.5,
		Seed:                 5,
		Workers:              2,
		ProgressEvery:        -1,
	})
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if summary.RunID == "" {
		t.Fatal("expected run id")
	}
	if !strings.HasPrefix(summary.RunID, "sphere-5-") {
		t.Fatalf("unexpected run id shape: %s", summary.RunID)
	}
	if len(summary.LossHistory) != 3 {
		t.Fatalf("unexpected loss history length: %d", len(summary.LossHistory))
	}
	if summary.HeldOutViews != 3 {
		t.Fatalf("unexpected held-out view count: %d", summary.HeldOutViews)
	}
	if summary.Parameters <= 0 {
		t.Fatalf("unexpected parameter count: %d", summary.Parameters)
	}
	if summary.CheckpointID == "" {
		t.Fatal("expected checkpoint id")
	}
	for _, file := range []string{"config.json", "loss_history.json", "loss_series.csv", "evaluation.json", "collage.png"} {
		if _, err := os.Stat(filepath.Join(summary.ArtifactsDir, file)); err != nil {
			t.Fatalf("expected run artifact %s: %v", file, err)
		}
	}

	runs, err := client.Runs(ctx, RunsRequest{Limit: 5, ShowEvaluation: true})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) == 0 || runs[0].RunID != summary.RunID {
		t.Fatalf("expected latest run %s in runs list: %+v", summary.RunID, runs)
	}
	if runs[0].FramesPerSec == nil {
		t.Fatal("expected evaluation throughput in runs list")
	}

	info, err := client.Info(ctx, InfoRequest{RunID: summary.RunID})
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Run.ID != summary.RunID {
		t.Fatalf("info run mismatch: got=%s want=%s", info.Run.ID, summary.RunID)
	}
	if info.CheckpointStep != 3 {
		t.Fatalf("unexpected checkpoint step: %d", info.CheckpointStep)
	}
	if info.Parameters != summary.Parameters {
		t.Fatalf("parameter count mismatch: got=%d want=%d", info.Parameters, summary.Parameters)
	}
	if info.LossSamples != 3 {
		t.Fatalf("unexpected loss sample count: %d", info.LossSamples)
	}
	if info.MeanPSNR == nil {
		t.Fatal("expected mean psnr from evaluation record")
	}

	history, err := client.LossHistory(ctx, LossHistoryRequest{RunID: summary.RunID, Limit: 2})
	if err != nil {
		t.Fatalf("loss history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("unexpected history length: %d", len(history))
	}
	if history[1] != summary.LossHistory[2] {
		t.Fatalf("expected history tail, got %v", history)
	}

	evaluated, err := client.Evaluate(ctx, EvaluateRequest{Latest: true, Seed: 9, Workers: 2})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if evaluated.RunID != summary.RunID {
		t.Fatalf("evaluated run mismatch: got=%s want=%s", evaluated.RunID, summary.RunID)
	}
	if len(evaluated.Views) != 3 {
		t.Fatalf("expected 3 held-out views, got %d", len(evaluated.Views))
	}
	if evaluated.MeanPSNR < 0 {
		t.Fatalf("unexpected mean psnr: %f", evaluated.MeanPSNR)
	}
	if evaluated.CollagePath == "" {
		t.Fatal("expected collage path")
	}
	if _, err := os.Stat(evaluated.CollagePath); err != nil {
		t.Fatalf("expected collage file: %v", err)
	}

	rendered, err := client.Render(ctx, RenderRequest{
		RunID:   summary.RunID,
		Frames:  2,
		Width:   8,
		Height:  8,
		Workers: 2,
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(rendered.Frames) != 2 {
		t.Fatalf("unexpected frame count: %d", len(rendered.Frames))
	}
	for _, frame := range rendered.Frames {
		if _, err := os.Stat(frame); err != nil {
			t.Fatalf("expected frame %s: %v", frame, err)
		}
	}

	exported, err := client.Export(ctx, ExportRequest{Latest: true})
	if err != nil {
		t.Fatalf("export latest: %v", err)
	}
	if exported.RunID != summary.RunID {
		t.Fatalf("exported run mismatch: got=%s want=%s", exported.RunID, summary.RunID)
	}
	for _, file := range []string{"config.json", "loss_history.json", "loss_series.csv", "evaluation.json", "collage.png"} {
		if _, err := os.Stat(filepath.Join(exported.Directory, file)); err != nil {
			t.Fatalf("expected exported file %s: %v", file, err)
		}
	}
}

func TestClientTrainRejectsMissingDataset(t *testing.T) {
	client, base := newTestClient(t)

	_, err := client.Train(context.Background(), TrainRequest{
		Dataset: filepath.Join(base, "missing.npz"),
		Steps:   1,
	})
	if err == nil {
		t.Fatal("expected dataset load error")
	}
}

func TestClientRequestsNeedRunIDOrLatest(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	if _, err := client.Evaluate(ctx, EvaluateRequest{}); err == nil {
		t.Fatal("expected evaluate selector error")
	}
	if _, err := client.Evaluate(ctx, EvaluateRequest{RunID: "run-1", Latest: true}); err == nil {
		t.Fatal("expected evaluate either-or error")
	}
	if _, err := client.Render(ctx, RenderRequest{}); err == nil {
		t.Fatal("expected render selector error")
	}
	if _, err := client.Export(ctx, ExportRequest{}); err == nil {
		t.Fatal("expected export selector error")
	}
	if _, err := client.Export(ctx, ExportRequest{RunID: "run-1", Latest: true}); err == nil {
		t.Fatal("expected export either-or error")
	}
	if _, err := client.Info(ctx, InfoRequest{}); err == nil {
		t.Fatal("expected info selector error")
	}
	if _, err := client.LossHistory(ctx, LossHistoryRequest{Limit: -1, RunID: "run-1"}); err == nil {
		t.Fatal("expected negative limit error")
	}
}

func TestClientLatestWithoutRunsFails(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	if _, err := client.Evaluate(ctx, EvaluateRequest{Latest: true}); err == nil {
		t.Fatal("expected no-runs error")
	}
	if _, err := client.Render(ctx, RenderRequest{Latest: true}); err == nil {
		t.Fatal("expected no-runs error")
	}
	if _, err := client.Export(ctx, ExportRequest{Latest: true}); err == nil {
		t.Fatal("expected no-runs error")
	}
}

func TestClientEvaluateUnknownRunFails(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := client.Evaluate(context.Background(), EvaluateRequest{RunID: "run-missing"})
	if err == nil || !strings.Contains(err.Error(), "checkpoint not found") {
		t.Fatalf("expected checkpoint lookup failure, got %v", err)
	}
}

func TestEvaluationSceneNeedsConfigOrOverride(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := client.evaluationScene(context.Background(), "", "run-x", artifacts.RunConfig{}, false)
	if err == nil || !strings.Contains(err.Error(), "pass a dataset explicitly") {
		t.Fatalf("expected explicit dataset requirement, got %v", err)
	}
}

func TestDatasetLabel(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{name: "", want: "scene"},
		{name: "lego.npz", want: "lego"},
		{name: "/data/scenes/lego.npz", want: "lego"},
		{name: "https://example.com/scenes/tiny_nerf_data.npz?token=abc", want: "tiny_nerf_data"},
		{name: "synthetic-sphere", want: "synthetic-sphere"},
	}
	for _, tc := range cases {
		if got := datasetLabel(tc.name); got != tc.want {
			t.Fatalf("datasetLabel(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}
