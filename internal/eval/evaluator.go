package eval

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"aktis/internal/dataset"
	"aktis/internal/field"
	"aktis/internal/metric"
	"aktis/internal/model"
	"aktis/internal/render"
)

type Config struct {
	CoarseSamples        int
	FineSamples          int
	PositionFrequencies  int
	DirectionFrequencies int
	ChunkSize            int
	Workers              int
	Seed                 int64
	Logger               *zerolog.Logger
}

// Report carries the per-view fidelity scores and rendering throughput of one
// evaluation pass, plus the rendered images for collage assembly.
type Report struct {
	Items           []model.EvaluationItem
	MeanPSNR        float64
	SecondsPerFrame float64
	FramesPerSec    float64
	Images          []*render.Image
}

// Evaluate renders every view of the dataset with a frozen clone of the
// field and scores each against its ground-truth image. Throughput counts
// rendering time only.
func Evaluate(ctx context.Context, f *field.Field, ds dataset.Dataset, cfg Config) (*Report, error) {
	if f == nil {
		return nil, fmt.Errorf("field is required")
	}
	if err := ds.Validate(); err != nil {
		return nil, fmt.Errorf("evaluate dataset: %w", err)
	}

	renderer, err := NewRenderer(RendererConfig{
		Field:                f.Clone(),
		PositionFrequencies:  cfg.PositionFrequencies,
		DirectionFrequencies: cfg.DirectionFrequencies,
		CoarseSamples:        cfg.CoarseSamples,
		FineSamples:          cfg.FineSamples,
		ChunkSize:            cfg.ChunkSize,
		Workers:              cfg.Workers,
		Seed:                 cfg.Seed,
	})
	if err != nil {
		return nil, err
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	report := &Report{
		Items:  make([]model.EvaluationItem, 0, len(ds.Views)),
		Images: make([]*render.Image, 0, len(ds.Views)),
	}
	scores := make([]float64, 0, len(ds.Views))
	renderSeconds := 0.0

	for i := range ds.Views {
		view := &ds.Views[i]

		start := time.Now()
		img, err := renderer.RenderView(ctx, ds.Intrinsics, view.Pose, ds.Bounds)
		if err != nil {
			return nil, fmt.Errorf("render view %d: %w", i, err)
		}
		renderSeconds += time.Since(start).Seconds()

		psnr := metric.PSNR(img, &view.Image)
		scores = append(scores, psnr)
		report.Items = append(report.Items, model.EvaluationItem{View: i, PSNR: psnr})
		report.Images = append(report.Images, img)
		logger.Info().Int("view", i).Float64("psnr", psnr).Msg("view evaluated")
	}

	report.MeanPSNR = stat.Mean(scores, nil)
	if renderSeconds > 0 {
		report.SecondsPerFrame = renderSeconds / float64(len(ds.Views))
		report.FramesPerSec = float64(len(ds.Views)) / renderSeconds
	}

	logger.Info().
		Int("views", len(ds.Views)).
		Float64("mean_psnr", report.MeanPSNR).
		Float64("frames_per_sec", report.FramesPerSec).
		Msg("evaluation finished")
	return report, nil
}
