// Package aktis is the embedding API for training, evaluating and rendering
// neural radiance fields. It wires datasets, the trainer, the renderer and
// persistence behind one client so programs and the CLI share a single
// orchestration path.
package aktis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"aktis/internal/artifacts"
	"aktis/internal/camera"
	"aktis/internal/dataset"
	"aktis/internal/eval"
	"aktis/internal/field"
	"aktis/internal/model"
	"aktis/internal/render"
	"aktis/internal/storage"
	"aktis/internal/trainer"
)

const (
	defaultRunsDir    = "runs"
	defaultExportsDir = "exports"
	defaultDBPath     = "aktis.db"
	defaultTrainSplit = 0.9
)

type Options struct {
	StoreKind  string
	DBPath     string
	RunsDir    string
	ExportsDir string
	// Logger receives training and evaluation progress events. nil keeps the
	// client silent.
	Logger *zerolog.Logger
}

type Client struct {
	store  storage.Store
	logger *zerolog.Logger

	storeKind  string
	runsDir    string
	exportsDir string
	storeReady bool
}

type TrainRequest struct {
	// Dataset is a local path or http(s) URL of an npz scene archive. Empty
	// trains against the built-in synthetic sphere scene.
	Dataset string
	RunID   string

	Steps         int
	BatchSize     int
	CoarseSamples int
	// FineSamples zero picks the default; negative disables the fine pass.
	FineSamples       int
	LearningRate      float64
	LearningRateDecay float64

	PositionFrequencies  int
	DirectionFrequencies int
	HiddenWidth          int
	HiddenLayers         int
	SkipLayer            int

	// TrainSplit is the fraction of views used for training; the remainder
	// is held out for the probe view and post-run evaluation.
	TrainSplit float64
	Near       float64
	Far        float64

	Seed            int64
	Workers         int
	CheckpointEvery int
	ProgressEvery   int
	ShowProgress    bool
}

type TrainSummary struct {
	RunID        string
	Dataset      string
	ArtifactsDir string
	Parameters   int
	FinalLoss    float64
	LossHistory  []float64
	MeanPSNR     float64
	HeldOutViews int
	CheckpointID string
	Elapsed      time.Duration
	StepsPerSec  float64
}

type EvaluateRequest struct {
	RunID  string
	Latest bool
	// Dataset overrides the evaluation scene. Empty re-derives the run's
	// held-out split from its recorded config.
	Dataset   string
	ChunkSize int
	Workers   int
	Seed      int64
}

type EvaluateSummary struct {
	RunID           string
	Views           []model.EvaluationItem
	MeanPSNR        float64
	SecondsPerFrame float64
	FramesPerSec    float64
	CollagePath     string
}

type RenderRequest struct {
	RunID  string
	Latest bool
	OutDir string

	Frames      int
	Width       int
	Height      int
	Focal       float64
	OrbitRadius float64
	Near        float64
	Far         float64

	Workers int
	Seed    int64
}

type RenderSummary struct {
	RunID     string
	Directory string
	Frames    []string
}

type SynthRequest struct {
	Path        string
	Views       int
	Width       int
	Height      int
	Focal       float64
	Radius      float64
	Density     float64
	OrbitRadius float64
	Near        float64
	Far         float64
	Seed        int64
}

type SynthSummary struct {
	Path   string
	Views  int
	Width  int
	Height int
}

type RunsRequest struct {
	Limit          int
	ShowEvaluation bool
}

type RunItem struct {
	RunID        string
	CreatedAtUTC string
	Dataset      string
	Steps        int
	BatchSize    int
	Seed         int64
	FinalLoss    float64
	FinalPSNR    float64
	FramesPerSec *float64
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

type InfoRequest struct {
	RunID  string
	Latest bool
}

type InfoSummary struct {
	Run            model.RunRecord
	CheckpointID   string
	CheckpointStep int
	Parameters     int
	LossSamples    int
	MeanPSNR       *float64
}

type LossHistoryRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = defaultRunsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		logger:     opts.Logger,
		storeKind:  storeKind,
		runsDir:    runsDir,
		exportsDir: exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.ensureStore(ctx)
}

func (c *Client) Train(ctx context.Context, req TrainRequest) (TrainSummary, error) {
	defaults := trainer.DefaultConfig()
	if req.Steps <= 0 {
		req.Steps = defaults.Steps
	}
	if req.BatchSize <= 0 {
		req.BatchSize = defaults.BatchSize
	}
	if req.CoarseSamples <= 0 {
		req.CoarseSamples = defaults.CoarseSamples
	}
	if req.FineSamples == 0 {
		req.FineSamples = defaults.FineSamples
	}
	if req.FineSamples < 0 {
		req.FineSamples = 0
	}
	if req.LearningRate <= 0 {
		req.LearningRate = defaults.LearningRate
	}
	if req.LearningRateDecay <= 0 {
		req.LearningRateDecay = defaults.LearningRateDecay
	}
	if req.PositionFrequencies <= 0 {
		req.PositionFrequencies = defaults.PositionFrequencies
	}
	if req.DirectionFrequencies <= 0 {
		req.DirectionFrequencies = defaults.DirectionFrequencies
	}
	if req.HiddenWidth <= 0 {
		req.HiddenWidth = defaults.HiddenWidth
	}
	if req.HiddenLayers <= 0 {
		req.HiddenLayers = defaults.HiddenLayers
	}
	if req.SkipLayer <= 0 {
		req.SkipLayer = defaults.SkipLayer
	}
	if req.TrainSplit <= 0 || req.TrainSplit > 1 {
		req.TrainSplit = defaultTrainSplit
	}
	if req.Workers <= 0 {
		req.Workers = defaults.Workers
	}
	if req.ProgressEvery == 0 {
		req.ProgressEvery = defaults.ProgressEvery
	}
	if req.ProgressEvery < 0 {
		req.ProgressEvery = 0
	}
	if req.CheckpointEvery < 0 {
		req.CheckpointEvery = 0
	}

	bounds := dataset.Bounds{Near: req.Near, Far: req.Far}
	if bounds == (dataset.Bounds{}) {
		bounds = dataset.DefaultBounds
	}

	ds, err := c.loadScene(ctx, req.Dataset, bounds, req.Seed)
	if err != nil {
		return TrainSummary{}, err
	}
	train, test := ds.Split(req.TrainSplit)

	var probe *dataset.View
	if len(test.Views) > 0 {
		probe = &test.Views[0]
	}

	now := time.Now().UTC()
	runID := req.RunID
	if runID == "" {
		runID = fmt.Sprintf("%s-%d-%d", datasetLabel(ds.Name), req.Seed, now.Unix())
	}

	if err := c.ensureStore(ctx); err != nil {
		return TrainSummary{}, err
	}

	tr, err := trainer.New(trainer.Config{
		RunID:                runID,
		Steps:                req.Steps,
		BatchSize:            req.BatchSize,
		CoarseSamples:        req.CoarseSamples,
		FineSamples:          req.FineSamples,
		LearningRate:         req.LearningRate,
		LearningRateDecay:    req.LearningRateDecay,
		PositionFrequencies:  req.PositionFrequencies,
		DirectionFrequencies: req.DirectionFrequencies,
		HiddenWidth:          req.HiddenWidth,
		HiddenLayers:         req.HiddenLayers,
		SkipLayer:            req.SkipLayer,
		Seed:                 req.Seed,
		Workers:              req.Workers,
		CheckpointEvery:      req.CheckpointEvery,
		ProgressEvery:        req.ProgressEvery,
		Probe:                probe,
		ShowProgress:         req.ShowProgress,
		Store:                c.store,
		Logger:               c.logger,
	}, train)
	if err != nil {
		return TrainSummary{}, err
	}

	result, err := tr.Run(ctx)
	if err != nil {
		return TrainSummary{}, err
	}

	summary := TrainSummary{
		RunID:        runID,
		Dataset:      ds.Name,
		Parameters:   tr.Field().ParamCount(),
		FinalLoss:    result.FinalLoss,
		LossHistory:  append([]float64(nil), result.LossHistory...),
		HeldOutViews: len(test.Views),
		CheckpointID: result.CheckpointID,
		Elapsed:      result.Elapsed,
		StepsPerSec:  result.StepsPerSec,
	}

	var evalRecord *model.EvaluationRecord
	var collage []*render.Image
	if len(test.Views) > 0 {
		report, err := eval.Evaluate(ctx, tr.Field(), test, eval.Config{
			CoarseSamples:        req.CoarseSamples,
			FineSamples:          req.FineSamples,
			PositionFrequencies:  req.PositionFrequencies,
			DirectionFrequencies: req.DirectionFrequencies,
			Workers:              req.Workers,
			Seed:                 req.Seed,
			Logger:               c.logger,
		})
		if err != nil {
			return TrainSummary{}, err
		}

		record := model.EvaluationRecord{
			VersionedRecord: versionedRecord(),
			RunID:           runID,
			Items:           report.Items,
			MeanPSNR:        report.MeanPSNR,
			SecondsPerFrame: report.SecondsPerFrame,
			FramesPerSec:    report.FramesPerSec,
			CreatedAtUTC:    time.Now().UTC().Format(time.RFC3339Nano),
		}
		if err := c.store.SaveEvaluation(ctx, record); err != nil {
			return TrainSummary{}, err
		}
		evalRecord = &record
		summary.MeanPSNR = report.MeanPSNR
		collage = collageFrames(report.Images, test.Views)
	}

	runDir, err := artifacts.WriteRunArtifacts(c.runsDir, artifacts.RunArtifacts{
		Config: artifacts.RunConfig{
			RunID:                runID,
			Dataset:              ds.Name,
			Steps:                req.Steps,
			BatchSize:            req.BatchSize,
			CoarseSamples:        req.CoarseSamples,
			FineSamples:          req.FineSamples,
			LearningRate:         req.LearningRate,
			LearningRateDecay:    req.LearningRateDecay,
			PositionFrequencies:  req.PositionFrequencies,
			DirectionFrequencies: req.DirectionFrequencies,
			HiddenWidth:          req.HiddenWidth,
			HiddenLayers:         req.HiddenLayers,
			SkipLayer:            req.SkipLayer,
			TrainSplit:           req.TrainSplit,
			Near:                 bounds.Near,
			Far:                  bounds.Far,
			Seed:                 req.Seed,
			Workers:              req.Workers,
			StoreKind:            c.storeKind,
			CheckpointEvery:      req.CheckpointEvery,
			ProgressEvery:        req.ProgressEvery,
		},
		LossHistory: result.LossHistory,
		FinalLoss:   result.FinalLoss,
		FinalPSNR:   summary.MeanPSNR,
	})
	if err != nil {
		return TrainSummary{}, err
	}
	if evalRecord != nil {
		if err := artifacts.WriteEvaluation(runDir, *evalRecord); err != nil {
			return TrainSummary{}, err
		}
		if err := artifacts.WriteCollagePNG(filepath.Join(runDir, "collage.png"), collage); err != nil {
			return TrainSummary{}, err
		}
	}

	if err := artifacts.AppendRunIndex(c.runsDir, artifacts.RunIndexEntry{
		RunID:        runID,
		Dataset:      ds.Name,
		Steps:        req.Steps,
		BatchSize:    req.BatchSize,
		Seed:         req.Seed,
		Workers:      req.Workers,
		FinalLoss:    result.FinalLoss,
		FinalPSNR:    summary.MeanPSNR,
		CreatedAtUTC: now.Format(time.RFC3339Nano),
	}); err != nil {
		return TrainSummary{}, err
	}

	summary.ArtifactsDir = filepath.Clean(runDir)
	return summary, nil
}

func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (EvaluateSummary, error) {
	if req.RunID != "" && req.Latest {
		return EvaluateSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return EvaluateSummary{}, errors.New("evaluate requires run id or latest")
	}

	runID := req.RunID
	if req.Latest {
		entries, err := artifacts.ListRunIndex(c.runsDir)
		if err != nil {
			return EvaluateSummary{}, err
		}
		if len(entries) == 0 {
			return EvaluateSummary{}, errors.New("no runs available")
		}
		runID = entries[0].RunID
	}

	if err := c.ensureStore(ctx); err != nil {
		return EvaluateSummary{}, err
	}
	checkpoint, ok, err := c.store.LatestCheckpoint(ctx, runID)
	if err != nil {
		return EvaluateSummary{}, err
	}
	if !ok {
		return EvaluateSummary{}, fmt.Errorf("checkpoint not found for run id: %s", runID)
	}
	f, err := field.FromSnapshot(checkpoint.Field)
	if err != nil {
		return EvaluateSummary{}, err
	}

	runCfg, haveCfg, err := artifacts.ReadRunConfig(c.runsDir, runID)
	if err != nil {
		return EvaluateSummary{}, err
	}

	ds, err := c.evaluationScene(ctx, req.Dataset, runID, runCfg, haveCfg)
	if err != nil {
		return EvaluateSummary{}, err
	}

	defaults := trainer.DefaultConfig()
	coarse, fine := defaults.CoarseSamples, defaults.FineSamples
	if haveCfg {
		coarse, fine = runCfg.CoarseSamples, runCfg.FineSamples
	}

	report, err := eval.Evaluate(ctx, f, ds, eval.Config{
		CoarseSamples:        coarse,
		FineSamples:          fine,
		PositionFrequencies:  checkpoint.PositionFrequencies,
		DirectionFrequencies: checkpoint.DirectionFrequencies,
		ChunkSize:            req.ChunkSize,
		Workers:              req.Workers,
		Seed:                 req.Seed,
		Logger:               c.logger,
	})
	if err != nil {
		return EvaluateSummary{}, err
	}

	record := model.EvaluationRecord{
		VersionedRecord: versionedRecord(),
		RunID:           runID,
		Items:           report.Items,
		MeanPSNR:        report.MeanPSNR,
		SecondsPerFrame: report.SecondsPerFrame,
		FramesPerSec:    report.FramesPerSec,
		CreatedAtUTC:    time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := c.store.SaveEvaluation(ctx, record); err != nil {
		return EvaluateSummary{}, err
	}

	summary := EvaluateSummary{
		RunID:           runID,
		Views:           report.Items,
		MeanPSNR:        report.MeanPSNR,
		SecondsPerFrame: report.SecondsPerFrame,
		FramesPerSec:    report.FramesPerSec,
	}
	if haveCfg {
		runDir := filepath.Join(c.runsDir, runID)
		if err := artifacts.WriteEvaluation(runDir, record); err != nil {
			return EvaluateSummary{}, err
		}
		collagePath := filepath.Join(runDir, "collage.png")
		if err := artifacts.WriteCollagePNG(collagePath, collageFrames(report.Images, ds.Views)); err != nil {
			return EvaluateSummary{}, err
		}
		summary.CollagePath = collagePath
	}
	return summary, nil
}

func (c *Client) Render(ctx context.Context, req RenderRequest) (RenderSummary, error) {
	if req.RunID != "" && req.Latest {
		return RenderSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return RenderSummary{}, errors.New("render requires run id or latest")
	}
	if req.Frames <= 0 {
		req.Frames = 8
	}
	if req.Width <= 0 {
		req.Width = 128
	}
	if req.Height <= 0 {
		req.Height = 128
	}
	if req.Focal <= 0 {
		req.Focal = float64(req.Width)
	}
	if req.OrbitRadius <= 0 {
		req.OrbitRadius = 4
	}

	runID := req.RunID
	if req.Latest {
		entries, err := artifacts.ListRunIndex(c.runsDir)
		if err != nil {
			return RenderSummary{}, err
		}
		if len(entries) == 0 {
			return RenderSummary{}, errors.New("no runs available")
		}
		runID = entries[0].RunID
	}

	if err := c.ensureStore(ctx); err != nil {
		return RenderSummary{}, err
	}
	checkpoint, ok, err := c.store.LatestCheckpoint(ctx, runID)
	if err != nil {
		return RenderSummary{}, err
	}
	if !ok {
		return RenderSummary{}, fmt.Errorf("checkpoint not found for run id: %s", runID)
	}
	f, err := field.FromSnapshot(checkpoint.Field)
	if err != nil {
		return RenderSummary{}, err
	}

	runCfg, haveCfg, err := artifacts.ReadRunConfig(c.runsDir, runID)
	if err != nil {
		return RenderSummary{}, err
	}
	defaults := trainer.DefaultConfig()
	coarse, fine := defaults.CoarseSamples, defaults.FineSamples
	bounds := dataset.DefaultBounds
	if haveCfg {
		coarse, fine = runCfg.CoarseSamples, runCfg.FineSamples
		bounds = dataset.Bounds{Near: runCfg.Near, Far: runCfg.Far}
	}
	if req.Near != 0 || req.Far != 0 {
		bounds = dataset.Bounds{Near: req.Near, Far: req.Far}
	}

	renderer, err := eval.NewRenderer(eval.RendererConfig{
		Field:                f,
		PositionFrequencies:  checkpoint.PositionFrequencies,
		DirectionFrequencies: checkpoint.DirectionFrequencies,
		CoarseSamples:        coarse,
		FineSamples:          fine,
		Workers:              req.Workers,
		Seed:                 req.Seed,
	})
	if err != nil {
		return RenderSummary{}, err
	}

	outDir := req.OutDir
	if outDir == "" {
		outDir = filepath.Join(c.runsDir, runID, "frames")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return RenderSummary{}, err
	}

	in := camera.Intrinsics{Width: req.Width, Height: req.Height, Focal: req.Focal}
	frames := make([]string, 0, req.Frames)
	for i := 0; i < req.Frames; i++ {
		theta := 2 * math.Pi * float64(i) / float64(req.Frames)
		pose := camera.Orbit(req.OrbitRadius, theta, math.Pi/2)

		img, err := renderer.RenderView(ctx, in, pose, bounds)
		if err != nil {
			return RenderSummary{}, err
		}
		framePath := filepath.Join(outDir, fmt.Sprintf("frame_%03d.png", i))
		if err := artifacts.WriteImagePNG(framePath, img); err != nil {
			return RenderSummary{}, err
		}
		frames = append(frames, framePath)
	}

	return RenderSummary{RunID: runID, Directory: filepath.Clean(outDir), Frames: frames}, nil
}

func (c *Client) Synth(_ context.Context, req SynthRequest) (SynthSummary, error) {
	if req.Path == "" {
		req.Path = "sphere.npz"
	}

	ds, err := dataset.Sphere(dataset.SphereConfig{
		Views:       req.Views,
		Width:       req.Width,
		Height:      req.Height,
		Focal:       req.Focal,
		Radius:      req.Radius,
		Density:     req.Density,
		OrbitRadius: req.OrbitRadius,
		Bounds:      dataset.Bounds{Near: req.Near, Far: req.Far},
	}, rand.New(rand.NewSource(req.Seed)))
	if err != nil {
		return SynthSummary{}, err
	}
	if err := dataset.WriteNPZ(req.Path, ds); err != nil {
		return SynthSummary{}, err
	}

	return SynthSummary{
		Path:   req.Path,
		Views:  len(ds.Views),
		Width:  ds.Intrinsics.Width,
		Height: ds.Intrinsics.Height,
	}, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := artifacts.ListRunIndex(c.runsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		item := RunItem{
			RunID:        e.RunID,
			CreatedAtUTC: e.CreatedAtUTC,
			Dataset:      e.Dataset,
			Steps:        e.Steps,
			BatchSize:    e.BatchSize,
			Seed:         e.Seed,
			FinalLoss:    e.FinalLoss,
			FinalPSNR:    e.FinalPSNR,
		}
		if req.ShowEvaluation {
			record, ok, err := artifacts.ReadEvaluation(c.runsDir, e.RunID)
			if err != nil {
				return nil, err
			}
			if ok {
				fps := record.FramesPerSec
				item.FramesPerSec = &fps
			}
		}
		out = append(out, item)
	}
	return out, nil
}

func (c *Client) Info(ctx context.Context, req InfoRequest) (InfoSummary, error) {
	if req.RunID != "" && req.Latest {
		return InfoSummary{}, errors.New("use either run id or latest")
	}

	runID := req.RunID
	if req.Latest {
		entries, err := artifacts.ListRunIndex(c.runsDir)
		if err != nil {
			return InfoSummary{}, err
		}
		if len(entries) == 0 {
			return InfoSummary{}, errors.New("no runs available")
		}
		runID = entries[0].RunID
	}
	if runID == "" {
		return InfoSummary{}, errors.New("info requires run id or latest")
	}

	if err := c.ensureStore(ctx); err != nil {
		return InfoSummary{}, err
	}
	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return InfoSummary{}, err
	}
	if !ok {
		return InfoSummary{}, fmt.Errorf("run not found: %s", runID)
	}

	summary := InfoSummary{Run: run}
	checkpoint, ok, err := c.store.LatestCheckpoint(ctx, runID)
	if err != nil {
		return InfoSummary{}, err
	}
	if ok {
		summary.CheckpointID = checkpoint.ID
		summary.CheckpointStep = checkpoint.Step
		for _, layer := range checkpoint.Field.Layers {
			summary.Parameters += len(layer.Weights) + len(layer.Bias)
		}
	}

	history, ok, err := c.store.GetLossHistory(ctx, runID)
	if err != nil {
		return InfoSummary{}, err
	}
	if ok {
		summary.LossSamples = len(history)
	}

	evaluation, ok, err := c.store.GetEvaluation(ctx, runID)
	if err != nil {
		return InfoSummary{}, err
	}
	if ok {
		psnr := evaluation.MeanPSNR
		summary.MeanPSNR = &psnr
	}
	return summary, nil
}

func (c *Client) LossHistory(ctx context.Context, req LossHistoryRequest) ([]float64, error) {
	if req.RunID != "" && req.Latest {
		return nil, errors.New("use either run id or latest")
	}
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}

	runID := req.RunID
	if req.Latest {
		entries, err := artifacts.ListRunIndex(c.runsDir)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			return nil, errors.New("no runs available")
		}
		runID = entries[0].RunID
	}
	if runID == "" {
		return nil, errors.New("loss history requires run id or latest")
	}

	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}
	history, ok, err := c.store.GetLossHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("loss history not found for run id: %s", runID)
	}
	// The tail is the interesting part of a loss curve.
	if req.Limit > 0 && len(history) > req.Limit {
		history = history[len(history)-req.Limit:]
	}
	return append([]float64(nil), history...), nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	runID := req.RunID
	if req.Latest {
		entries, err := artifacts.ListRunIndex(c.runsDir)
		if err != nil {
			return ExportSummary{}, err
		}
		if len(entries) == 0 {
			return ExportSummary{}, errors.New("no runs available to export")
		}
		runID = entries[0].RunID
	}

	exportedDir, err := artifacts.ExportRunArtifacts(c.runsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) ensureStore(ctx context.Context) error {
	if c.storeReady {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.storeReady = true
	return nil
}

// loadScene resolves the training scene: an npz archive when a path or URL is
// given, otherwise the built-in synthetic sphere.
func (c *Client) loadScene(ctx context.Context, pathOrURL string, bounds dataset.Bounds, seed int64) (*dataset.Dataset, error) {
	if pathOrURL == "" {
		return dataset.Sphere(dataset.SphereConfig{Bounds: bounds}, rand.New(rand.NewSource(seed)))
	}
	return dataset.Load(ctx, pathOrURL, bounds)
}

// evaluationScene picks the views to score. An explicit dataset wins;
// otherwise the run config names the original scene and the held-out split is
// recomputed with the recorded ratio, so evaluation only sees views training
// never saw.
func (c *Client) evaluationScene(ctx context.Context, override, runID string, runCfg artifacts.RunConfig, haveCfg bool) (dataset.Dataset, error) {
	if override != "" {
		bounds := dataset.DefaultBounds
		if haveCfg {
			bounds = dataset.Bounds{Near: runCfg.Near, Far: runCfg.Far}
		}
		ds, err := dataset.Load(ctx, override, bounds)
		if err != nil {
			return dataset.Dataset{}, err
		}
		return *ds, nil
	}
	if !haveCfg {
		return dataset.Dataset{}, fmt.Errorf("run config not found for run id %s, pass a dataset explicitly", runID)
	}

	source := runCfg.Dataset
	if source == dataset.SphereSceneName {
		source = ""
	}
	ds, err := c.loadScene(ctx, source, dataset.Bounds{Near: runCfg.Near, Far: runCfg.Far}, runCfg.Seed)
	if err != nil {
		return dataset.Dataset{}, err
	}
	_, test := ds.Split(runCfg.TrainSplit)
	if len(test.Views) == 0 {
		return dataset.Dataset{}, fmt.Errorf("run %s held out no views, pass a dataset explicitly", runID)
	}
	return test, nil
}

// collageFrames interleaves each rendered view with its ground truth so the
// collage reads prediction then truth from left to right.
func collageFrames(rendered []*render.Image, views []dataset.View) []*render.Image {
	frames := make([]*render.Image, 0, 2*len(rendered))
	for i := range rendered {
		frames = append(frames, rendered[i], &views[i].Image)
	}
	return frames
}

// datasetLabel reduces a dataset name, which may be a path or URL, to a token
// usable inside run ids and directory names.
func datasetLabel(name string) string {
	base := path.Base(name)
	if i := strings.IndexByte(base, '?'); i >= 0 {
		base = base[:i]
	}
	base = strings.TrimSuffix(base, ".npz")
	if base == "" || base == "." || base == "/" {
		return "scene"
	}
	return base
}

func versionedRecord() model.VersionedRecord {
	return model.VersionedRecord{
		SchemaVersion: storage.CurrentSchemaVersion,
		CodecVersion:  storage.CurrentCodecVersion,
	}
}
