// Package trainer drives stochastic optimization of a radiance field: pixel
// batches through the coarse-to-fine rendering pipeline, photometric loss
// over both passes, analytic backprop, and Adam updates under a decaying
// learning rate.
package trainer

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"gonum.org/v1/gonum/mat"

	"aktis/internal/dataset"
	"aktis/internal/encoding"
	"aktis/internal/eval"
	"aktis/internal/field"
	"aktis/internal/metric"
	"aktis/internal/model"
	"aktis/internal/render"
	"aktis/internal/sampling"
	"aktis/internal/storage"
)

// chunkSize fixes how many rays one worker job covers. Chunk boundaries and
// per-chunk seeds depend only on the batch layout, so results do not change
// with the worker count.
const chunkSize = 64

// State tracks the trainer lifecycle. A trainer runs at most once.
type State string

const (
	StateUninitialized    State = "uninitialized"
	StateTraining         State = "training"
	StateStepLimitReached State = "step_limit_reached"
	StateFailed           State = "failed"
)

type Config struct {
	RunID                string
	Steps                int
	BatchSize            int
	CoarseSamples        int
	FineSamples          int
	LearningRate         float64
	LearningRateDecay    float64
	PositionFrequencies  int
	DirectionFrequencies int
	HiddenWidth          int
	HiddenLayers         int
	SkipLayer            int
	Seed                 int64
	Workers              int

	// CheckpointEvery persists an intermediate checkpoint every N steps when
	// a store is configured; zero keeps only the final checkpoint.
	CheckpointEvery int
	// ProgressEvery controls the logging and probe cadence in steps; zero
	// disables periodic reporting.
	ProgressEvery int
	// Probe is an optional held-out view rendered at the progress cadence to
	// track reconstruction fidelity during the run.
	Probe        *dataset.View
	ShowProgress bool
	Store        storage.Store
	Logger       *zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		Steps:                1000,
		BatchSize:            1024,
		CoarseSamples:        64,
		FineSamples:          128,
		LearningRate:         5e-4,
		LearningRateDecay:    0.1,
		PositionFrequencies:  10,
		DirectionFrequencies: 4,
		HiddenWidth:          256,
		HiddenLayers:         8,
		SkipLayer:            5,
		Seed:                 1,
		Workers:              runtime.NumCPU(),
		ProgressEvery:        25,
	}
}

// Result summarizes a completed training run.
type Result struct {
	RunID        string
	FinalLoss    float64
	LossHistory  []float64
	ProbePSNR    float64
	CheckpointID string
	Elapsed      time.Duration
	StepsPerSec  float64
}

type Trainer struct {
	cfg    Config
	data   dataset.Dataset
	logger zerolog.Logger
	rng    *rand.Rand
	posEnc encoding.Encoder
	dirEnc encoding.Encoder
	field  *field.Field
	opt    *field.Adam
	probe  *eval.Renderer
	state  State

	// gradScale converts per-channel squared-error derivatives into the
	// gradient of the batch-mean loss.
	gradScale float64
}

// New validates the configuration and dataset and initializes the field.
// All failure modes here are fatal configuration errors; the training loop
// itself only fails on cancellation, storage errors, or non-finite loss.
func New(cfg Config, ds dataset.Dataset) (*Trainer, error) {
	if cfg.Steps <= 0 {
		return nil, fmt.Errorf("step count must be > 0")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0")
	}
	if cfg.CoarseSamples <= 0 {
		return nil, fmt.Errorf("coarse sample count must be > 0")
	}
	if cfg.FineSamples < 0 {
		return nil, fmt.Errorf("fine sample count must be >= 0")
	}
	if cfg.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be > 0")
	}
	if cfg.LearningRateDecay <= 0 || cfg.LearningRateDecay > 1 {
		return nil, fmt.Errorf("learning rate decay must be in (0, 1]")
	}
	if cfg.CheckpointEvery < 0 {
		return nil, fmt.Errorf("checkpoint cadence must be >= 0")
	}
	if cfg.ProgressEvery < 0 {
		return nil, fmt.Errorf("progress cadence must be >= 0")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Store != nil && cfg.RunID == "" {
		return nil, fmt.Errorf("run id is required when a store is configured")
	}
	if err := ds.Validate(); err != nil {
		return nil, fmt.Errorf("training dataset: %w", err)
	}
	if cfg.Probe != nil {
		img := cfg.Probe.Image
		if img.Width != ds.Intrinsics.Width || img.Height != ds.Intrinsics.Height {
			return nil, fmt.Errorf("probe view dimensions mismatch: got=%dx%d want=%dx%d",
				img.Width, img.Height, ds.Intrinsics.Width, ds.Intrinsics.Height)
		}
	}

	posEnc, err := encoding.New(cfg.PositionFrequencies)
	if err != nil {
		return nil, fmt.Errorf("position encoder: %w", err)
	}
	dirEnc, err := encoding.New(cfg.DirectionFrequencies)
	if err != nil {
		return nil, fmt.Errorf("direction encoder: %w", err)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	f, err := field.New(field.Config{
		PositionWidth:  posEnc.Width(3),
		DirectionWidth: dirEnc.Width(3),
		HiddenWidth:    cfg.HiddenWidth,
		HiddenLayers:   cfg.HiddenLayers,
		SkipLayer:      cfg.SkipLayer,
	}, rng)
	if err != nil {
		return nil, fmt.Errorf("radiance field: %w", err)
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	t := &Trainer{
		cfg:       cfg,
		data:      ds,
		logger:    logger,
		rng:       rng,
		posEnc:    posEnc,
		dirEnc:    dirEnc,
		field:     f,
		opt:       field.NewAdam(f),
		state:     StateUninitialized,
		gradScale: 1 / float64(3*cfg.BatchSize),
	}

	if cfg.Probe != nil {
		probe, err := eval.NewRenderer(eval.RendererConfig{
			Field:                f,
			PositionFrequencies:  cfg.PositionFrequencies,
			DirectionFrequencies: cfg.DirectionFrequencies,
			CoarseSamples:        cfg.CoarseSamples,
			FineSamples:          cfg.FineSamples,
			Workers:              cfg.Workers,
			Seed:                 cfg.Seed,
		})
		if err != nil {
			return nil, fmt.Errorf("probe renderer: %w", err)
		}
		t.probe = probe
	}
	return t, nil
}

func (t *Trainer) State() State { return t.state }

// Field exposes the live parameters; callers snapshot or clone before using
// them outside the trainer.
func (t *Trainer) Field() *field.Field { return t.field }

// Run executes the configured step budget. The loss is the mean squared
// pixel error summed over the coarse and fine passes; a non-finite value
// aborts immediately.
func (t *Trainer) Run(ctx context.Context) (Result, error) {
	if t.state != StateUninitialized {
		return Result{}, fmt.Errorf("trainer already ran: state=%s", t.state)
	}
	t.state = StateTraining

	t.logger.Info().
		Str("run_id", t.cfg.RunID).
		Str("dataset", t.data.Name).
		Int("views", len(t.data.Views)).
		Int("steps", t.cfg.Steps).
		Int("batch_size", t.cfg.BatchSize).
		Int("parameters", t.field.ParamCount()).
		Msg("training started")

	var bar *progressbar.ProgressBar
	if t.cfg.ShowProgress {
		bar = progressbar.Default(int64(t.cfg.Steps), fmt.Sprintf("training on %d views", len(t.data.Views)))
	}

	start := time.Now()
	history := make([]float64, 0, t.cfg.Steps)
	probePSNR := 0.0

	for step := 1; step <= t.cfg.Steps; step++ {
		if err := ctx.Err(); err != nil {
			t.state = StateFailed
			return Result{}, err
		}

		loss, err := t.runStep(ctx, step)
		if err != nil {
			t.state = StateFailed
			return Result{}, err
		}
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			t.state = StateFailed
			return Result{}, fmt.Errorf("non-finite loss at step %d: %v", step, loss)
		}
		history = append(history, loss)

		if bar != nil {
			bar.Describe(fmt.Sprintf("loss=%.5f psnr=%.2fdB", loss, probePSNR))
			_ = bar.Add(1)
		}

		if t.cfg.ProgressEvery > 0 && step%t.cfg.ProgressEvery == 0 {
			elapsed := time.Since(start).Seconds()
			event := t.logger.Info().
				Int("step", step).
				Float64("loss", loss).
				Float64("lr", t.learningRate(step)).
				Float64("steps_per_sec", float64(step)/elapsed)
			if t.probe != nil {
				psnr, err := t.probeFidelity(ctx)
				if err != nil {
					t.state = StateFailed
					return Result{}, err
				}
				probePSNR = psnr
				event = event.Float64("probe_psnr", psnr)
			}
			event.Msg("training progress")
		}

		if t.cfg.Store != nil && t.cfg.CheckpointEvery > 0 && step < t.cfg.Steps && step%t.cfg.CheckpointEvery == 0 {
			if _, err := t.saveCheckpoint(ctx, step); err != nil {
				t.state = StateFailed
				return Result{}, err
			}
		}
	}

	if bar != nil {
		_ = bar.Finish()
	}

	elapsed := time.Since(start)
	t.state = StateStepLimitReached

	finalLoss := 0.0
	if len(history) > 0 {
		finalLoss = history[len(history)-1]
	}

	result := Result{
		RunID:       t.cfg.RunID,
		FinalLoss:   finalLoss,
		LossHistory: history,
		ProbePSNR:   probePSNR,
		Elapsed:     elapsed,
		StepsPerSec: float64(t.cfg.Steps) / elapsed.Seconds(),
	}

	if t.cfg.Store != nil {
		checkpointID, err := t.saveCheckpoint(ctx, t.cfg.Steps)
		if err != nil {
			return Result{}, err
		}
		result.CheckpointID = checkpointID

		if err := t.cfg.Store.SaveLossHistory(ctx, t.cfg.RunID, history); err != nil {
			return Result{}, fmt.Errorf("save loss history: %w", err)
		}
		if err := t.cfg.Store.SaveRun(ctx, model.RunRecord{
			VersionedRecord: versionedRecord(),
			ID:              t.cfg.RunID,
			Dataset:         t.data.Name,
			Steps:           t.cfg.Steps,
			BatchSize:       t.cfg.BatchSize,
			Seed:            t.cfg.Seed,
			FinalLoss:       finalLoss,
			CreatedAtUTC:    time.Now().UTC().Format(time.RFC3339Nano),
		}); err != nil {
			return Result{}, fmt.Errorf("save run record: %w", err)
		}
	}

	t.logger.Info().
		Str("run_id", t.cfg.RunID).
		Float64("final_loss", finalLoss).
		Float64("steps_per_sec", result.StepsPerSec).
		Dur("elapsed", elapsed).
		Msg("training finished")
	return result, nil
}

// runStep draws one pixel batch, accumulates gradients across ray chunks in
// parallel, and applies a single optimizer update after the full reduce.
func (t *Trainer) runStep(ctx context.Context, step int) (float64, error) {
	batch := drawBatch(&t.data, t.cfg.BatchSize, t.rng)

	type job struct {
		idx   int
		start int
		end   int
		seed  int64
	}
	type result struct {
		idx   int
		grads *field.Grads
		sqErr float64
		err   error
	}

	pending := make([]job, 0, (t.cfg.BatchSize+chunkSize-1)/chunkSize)
	for startIdx := 0; startIdx < t.cfg.BatchSize; startIdx += chunkSize {
		end := startIdx + chunkSize
		if end > t.cfg.BatchSize {
			end = t.cfg.BatchSize
		}
		pending = append(pending, job{idx: len(pending), start: startIdx, end: end, seed: t.rng.Int63()})
	}

	jobs := make(chan job)
	results := make(chan result, len(pending))

	workerCount := t.cfg.Workers
	if workerCount > len(pending) {
		workerCount = len(pending)
	}

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				if err := ctx.Err(); err != nil {
					results <- result{idx: j.idx, err: err}
					continue
				}

				grads := t.field.NewGrads()
				rng := rand.New(rand.NewSource(j.seed))
				sqErr := 0.0
				var jobErr error
				for i := j.start; i < j.end; i++ {
					e, err := t.rayBackward(batch.rays[i], batch.targets[i], rng, grads)
					if err != nil {
						jobErr = err
						break
					}
					sqErr += e
				}
				if jobErr != nil {
					results <- result{idx: j.idx, err: jobErr}
					continue
				}
				results <- result{idx: j.idx, grads: grads, sqErr: sqErr}
			}
		}()
	}

	for _, j := range pending {
		jobs <- j
	}
	close(jobs)
	wg.Wait()
	close(results)

	partials := make([]*field.Grads, len(pending))
	sqErr := 0.0
	var firstErr error
	for res := range results {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}
			continue
		}
		partials[res.idx] = res.grads
		sqErr += res.sqErr
	}
	if firstErr != nil {
		return 0, fmt.Errorf("step %d: %w", step, firstErr)
	}

	// Reduce in chunk order so the update is identical for any worker count.
	total := t.field.NewGrads()
	for _, part := range partials {
		total.Add(part)
	}

	t.opt.Step(t.learningRate(step), t.field, total)
	return sqErr / float64(3*t.cfg.BatchSize), nil
}

// rayBackward runs the coarse and fine passes for one ray, accumulating both
// passes' gradients and returning their summed squared pixel error.
func (t *Trainer) rayBackward(ray sampling.Ray, target [3]float64, rng *rand.Rand, grads *field.Grads) (float64, error) {
	coarse := sampling.Stratified(ray.Near, ray.Far, t.cfg.CoarseSamples, rng)
	coarseErr, weights, err := t.passBackward(ray, coarse, target, grads)
	if err != nil {
		return 0, err
	}
	if t.cfg.FineSamples == 0 {
		return coarseErr, nil
	}

	fine := sampling.Importance(ray.Near, ray.Far, coarse, weights, t.cfg.FineSamples, rng)
	merged := sampling.Merge(coarse, fine)
	fineErr, _, err := t.passBackward(ray, merged, target, grads)
	if err != nil {
		return 0, err
	}
	return coarseErr + fineErr, nil
}

func (t *Trainer) passBackward(ray sampling.Ray, ts []float64, target [3]float64, grads *field.Grads) (float64, []float64, error) {
	out, err := t.forward(ray, ts, true)
	if err != nil {
		return 0, nil, err
	}
	res := render.Composite(ts, out.Density, out.Color)

	sqErr := 0.0
	var dPixel [3]float64
	for c := range dPixel {
		diff := res.Color[c] - target[c]
		sqErr += diff * diff
		dPixel[c] = 2 * diff * t.gradScale
	}

	dDensity, dColors := render.CompositeBackward(ts, out.Density, out.Color, dPixel)
	if err := t.field.Backward(out, dDensity, dColors, grads); err != nil {
		return 0, nil, err
	}
	return sqErr, res.Weights, nil
}

func (t *Trainer) forward(ray sampling.Ray, ts []float64, withGrad bool) (*field.Output, error) {
	n := len(ts)
	pos := mat.NewDense(n, 3, nil)
	dir := mat.NewDense(n, 3, nil)
	unit := ray.UnitDir()
	for i, depth := range ts {
		p := ray.At(depth)
		pos.Set(i, 0, p.X())
		pos.Set(i, 1, p.Y())
		pos.Set(i, 2, p.Z())
		dir.Set(i, 0, unit.X())
		dir.Set(i, 1, unit.Y())
		dir.Set(i, 2, unit.Z())
	}
	return t.field.Forward(t.posEnc.Encode(pos), t.dirEnc.Encode(dir), withGrad)
}

// learningRate follows lr0 * decay^(step/total), reaching lr0*decay at the
// final step.
func (t *Trainer) learningRate(step int) float64 {
	return t.cfg.LearningRate * math.Pow(t.cfg.LearningRateDecay, float64(step)/float64(t.cfg.Steps))
}

func (t *Trainer) probeFidelity(ctx context.Context) (float64, error) {
	img, err := t.probe.RenderView(ctx, t.data.Intrinsics, t.cfg.Probe.Pose, t.data.Bounds)
	if err != nil {
		return 0, fmt.Errorf("render probe view: %w", err)
	}
	return metric.PSNR(img, &t.cfg.Probe.Image), nil
}

func (t *Trainer) saveCheckpoint(ctx context.Context, step int) (string, error) {
	checkpoint := model.Checkpoint{
		VersionedRecord:      versionedRecord(),
		ID:                   uuid.NewString(),
		RunID:                t.cfg.RunID,
		Step:                 step,
		PositionFrequencies:  t.cfg.PositionFrequencies,
		DirectionFrequencies: t.cfg.DirectionFrequencies,
		Field:                t.field.Snapshot(),
		CreatedAtUTC:         time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := t.cfg.Store.SaveCheckpoint(ctx, checkpoint); err != nil {
		return "", fmt.Errorf("save checkpoint at step %d: %w", step, err)
	}
	return checkpoint.ID, nil
}

func versionedRecord() model.VersionedRecord {
	return model.VersionedRecord{
		SchemaVersion: storage.CurrentSchemaVersion,
		CodecVersion:  storage.CurrentCodecVersion,
	}
}
