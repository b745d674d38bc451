package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"aktis/internal/artifacts"
	"aktis/internal/model"
	"aktis/internal/storage"
	aktisapi "aktis/pkg/aktis"
)

const (
	runsDir    = "runs"
	exportsDir = "exports"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "train":
		return runTrain(ctx, args[1:])
	case "evaluate":
		return runEvaluate(ctx, args[1:])
	case "render":
		return runRender(ctx, args[1:])
	case "synth":
		return runSynth(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "info":
		return runInfo(ctx, args[1:])
	case "history":
		return runHistory(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "aktis.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Init(ctx); err != nil {
		return err
	}
	fmt.Printf("initialized store=%s\n", *storeKind)
	return nil
}

func runTrain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional train config file (json or yaml)")
	datasetPath := fs.String("dataset", "", "npz scene path or http(s) url (empty trains the synthetic sphere)")
	runID := fs.String("run-id", "", "explicit run id (optional)")
	steps := fs.Int("steps", 1000, "optimization step budget")
	batchSize := fs.Int("batch", 1024, "rays per optimization step")
	coarse := fs.Int("coarse", 64, "stratified samples per ray")
	fine := fs.Int("fine", 128, "importance samples per ray (negative disables the fine pass)")
	lr := fs.Float64("lr", 5e-4, "initial learning rate")
	lrDecay := fs.Float64("lr-decay", 0.1, "learning rate decay factor reached at the final step")
	posFreq := fs.Int("pos-freq", 10, "encoding octaves for sample positions")
	dirFreq := fs.Int("dir-freq", 4, "encoding octaves for view directions")
	hiddenWidth := fs.Int("hidden-width", 256, "field hidden layer width")
	hiddenLayers := fs.Int("hidden-layers", 8, "field hidden layer count")
	skipLayer := fs.Int("skip-layer", 5, "hidden layer that re-injects the encoded position")
	trainSplit := fs.Float64("train-split", 0.9, "fraction of views used for training; the rest is held out")
	near := fs.Float64("near", 0, "near plane (0 keeps the default)")
	far := fs.Float64("far", 0, "far plane (0 keeps the default)")
	seed := fs.Int64("seed", 1, "rng seed")
	workers := fs.Int("workers", 0, "worker count (0 uses all cpus)")
	checkpointEvery := fs.Int("checkpoint-every", 0, "persist an intermediate checkpoint every N steps (0 keeps only the final one)")
	progressEvery := fs.Int("progress-every", 25, "progress log cadence in steps (negative disables)")
	noProgress := fs.Bool("no-progress", false, "disable the progress bar even on a terminal")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "aktis.db", "sqlite database path")
	verbose := fs.Bool("v", false, "verbose progress logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	configureLogLevel(*verbose)

	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	req, err := loadOrDefaultTrainRequest(*configPath)
	if err != nil {
		return err
	}
	if *configPath == "" {
		req = aktisapi.TrainRequest{
			Dataset:              *datasetPath,
			RunID:                *runID,
			Steps:                *steps,
			BatchSize:            *batchSize,
			CoarseSamples:        *coarse,
			FineSamples:          *fine,
			LearningRate:         *lr,
			LearningRateDecay:    *lrDecay,
			PositionFrequencies:  *posFreq,
			DirectionFrequencies: *dirFreq,
			HiddenWidth:          *hiddenWidth,
			HiddenLayers:         *hiddenLayers,
			SkipLayer:            *skipLayer,
			TrainSplit:           *trainSplit,
			Near:                 *near,
			Far:                  *far,
			Seed:                 *seed,
			Workers:              *workers,
			CheckpointEvery:      *checkpointEvery,
			ProgressEvery:        *progressEvery,
		}
	} else {
		overrideFromFlags(&req, setFlags, map[string]any{
			"dataset":          *datasetPath,
			"run-id":           *runID,
			"steps":            *steps,
			"batch":            *batchSize,
			"coarse":           *coarse,
			"fine":             *fine,
			"lr":               *lr,
			"lr-decay":         *lrDecay,
			"pos-freq":         *posFreq,
			"dir-freq":         *dirFreq,
			"hidden-width":     *hiddenWidth,
			"hidden-layers":    *hiddenLayers,
			"skip-layer":       *skipLayer,
			"train-split":      *trainSplit,
			"near":             *near,
			"far":              *far,
			"seed":             *seed,
			"workers":          *workers,
			"checkpoint-every": *checkpointEvery,
			"progress-every":   *progressEvery,
		})
	}
	req.ShowProgress = !*noProgress && isatty.IsTerminal(os.Stderr.Fd())

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Train(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("train completed run_id=%s dataset=%s steps=%d seed=%d\n",
		summary.RunID, summary.Dataset, len(summary.LossHistory), req.Seed)
	fmt.Printf("parameters=%s final_loss=%.6f mean_psnr=%.2f held_out_views=%d\n",
		humanize.Comma(int64(summary.Parameters)), summary.FinalLoss, summary.MeanPSNR, summary.HeldOutViews)
	fmt.Printf("elapsed=%s steps_per_sec=%.1f checkpoint=%s\n",
		summary.Elapsed.Round(time.Millisecond), summary.StepsPerSec, summary.CheckpointID)
	fmt.Printf("artifacts_dir=%s\n", summary.ArtifactsDir)
	return nil
}

func runEvaluate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "evaluate the most recent run from the run index")
	datasetPath := fs.String("dataset", "", "optional npz scene override (default re-derives the run's held-out split)")
	chunkSize := fs.Int("chunk", 0, "rays per worker chunk (0 uses the default)")
	workers := fs.Int("workers", 0, "worker count (0 uses all cpus)")
	seed := fs.Int64("seed", 1, "rng seed for sampling jitter")
	jsonOut := fs.Bool("json", false, "emit per-view scores as JSON")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "aktis.db", "sqlite database path")
	verbose := fs.Bool("v", false, "verbose progress logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	configureLogLevel(*verbose)
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("evaluate requires --run-id or --latest")
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Evaluate(ctx, aktisapi.EvaluateRequest{
		RunID:     *runID,
		Latest:    *latest,
		Dataset:   *datasetPath,
		ChunkSize: *chunkSize,
		Workers:   *workers,
		Seed:      *seed,
	})
	if err != nil {
		return err
	}

	if *jsonOut {
		out := struct {
			RunID           string                 `json:"run_id"`
			Views           []model.EvaluationItem `json:"views"`
			MeanPSNR        float64                `json:"mean_psnr"`
			SecondsPerFrame float64                `json:"seconds_per_frame"`
			FramesPerSec    float64                `json:"frames_per_sec"`
			Collage         string                 `json:"collage,omitempty"`
		}{
			RunID:           summary.RunID,
			Views:           summary.Views,
			MeanPSNR:        summary.MeanPSNR,
			SecondsPerFrame: summary.SecondsPerFrame,
			FramesPerSec:    summary.FramesPerSec,
			Collage:         summary.CollagePath,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("evaluation completed run_id=%s views=%d\n", summary.RunID, len(summary.Views))
	for _, item := range summary.Views {
		fmt.Printf("view=%03d psnr=%.2f\n", item.View, item.PSNR)
	}
	fmt.Printf("mean_psnr=%.2f seconds_per_frame=%.3f frames_per_sec=%.2f\n",
		summary.MeanPSNR, summary.SecondsPerFrame, summary.FramesPerSec)
	if summary.CollagePath != "" {
		fmt.Printf("collage=%s\n", summary.CollagePath)
	}
	return nil
}

func runRender(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "render the most recent run from the run index")
	outDir := fs.String("out", "", "output directory (default <runs>/<run-id>/frames)")
	frames := fs.Int("frames", 8, "orbit frame count")
	width := fs.Int("width", 128, "frame width in pixels")
	height := fs.Int("height", 128, "frame height in pixels")
	focal := fs.Float64("focal", 0, "focal length in pixels (0 uses the frame width)")
	orbitRadius := fs.Float64("orbit-radius", 4, "camera orbit radius")
	near := fs.Float64("near", 0, "near plane (0 keeps the run's value)")
	far := fs.Float64("far", 0, "far plane (0 keeps the run's value)")
	workers := fs.Int("workers", 0, "worker count (0 uses all cpus)")
	seed := fs.Int64("seed", 1, "rng seed for sampling jitter")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "aktis.db", "sqlite database path")
	verbose := fs.Bool("v", false, "verbose progress logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	configureLogLevel(*verbose)
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("render requires --run-id or --latest")
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Render(ctx, aktisapi.RenderRequest{
		RunID:       *runID,
		Latest:      *latest,
		OutDir:      *outDir,
		Frames:      *frames,
		Width:       *width,
		Height:      *height,
		Focal:       *focal,
		OrbitRadius: *orbitRadius,
		Near:        *near,
		Far:         *far,
		Workers:     *workers,
		Seed:        *seed,
	})
	if err != nil {
		return err
	}

	fmt.Printf("rendered run_id=%s frames=%d dir=%s\n", summary.RunID, len(summary.Frames), summary.Directory)
	for _, frame := range summary.Frames {
		fmt.Printf("frame=%s\n", frame)
	}
	return nil
}

func runSynth(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("synth", flag.ContinueOnError)
	outPath := fs.String("out", "sphere.npz", "output npz path")
	views := fs.Int("views", 0, "view count (0 uses the default)")
	width := fs.Int("width", 0, "image width in pixels (0 uses the default)")
	height := fs.Int("height", 0, "image height in pixels (0 uses the default)")
	focal := fs.Float64("focal", 0, "focal length in pixels (0 uses the image width)")
	radius := fs.Float64("radius", 0, "sphere radius (0 uses the default)")
	density := fs.Float64("density", 0, "sphere density (0 uses the default)")
	orbitRadius := fs.Float64("orbit-radius", 0, "camera orbit radius (0 uses the default)")
	near := fs.Float64("near", 0, "near plane (0 uses the default)")
	far := fs.Float64("far", 0, "far plane (0 uses the default)")
	seed := fs.Int64("seed", 1, "rng seed for view placement")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(storage.DefaultStoreKind(), "aktis.db")
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Synth(ctx, aktisapi.SynthRequest{
		Path:        *outPath,
		Views:       *views,
		Width:       *width,
		Height:      *height,
		Focal:       *focal,
		Radius:      *radius,
		Density:     *density,
		OrbitRadius: *orbitRadius,
		Near:        *near,
		Far:         *far,
		Seed:        *seed,
	})
	if err != nil {
		return err
	}

	fmt.Printf("synthesized path=%s views=%d size=%dx%d\n", summary.Path, summary.Views, summary.Width, summary.Height)
	return nil
}

func runRuns(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	showEval := fs.Bool("show-eval", false, "show evaluation throughput when available")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	entries, err := artifacts.ListRunIndex(runsDir)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	if len(entries) > *limit {
		entries = entries[:*limit]
	}

	if *jsonOut {
		type runsItem struct {
			RunID        string   `json:"run_id"`
			CreatedAtUTC string   `json:"created_at_utc"`
			Dataset      string   `json:"dataset"`
			Steps        int      `json:"steps"`
			BatchSize    int      `json:"batch_size"`
			Seed         int64    `json:"seed"`
			FinalLoss    float64  `json:"final_loss"`
			FinalPSNR    float64  `json:"final_psnr"`
			FramesPerSec *float64 `json:"frames_per_sec,omitempty"`
		}
		items := make([]runsItem, 0, len(entries))
		for _, e := range entries {
			var fps *float64
			if *showEval {
				record, ok, err := artifacts.ReadEvaluation(runsDir, e.RunID)
				if err != nil {
					return err
				}
				if ok {
					v := record.FramesPerSec
					fps = &v
				}
			}
			items = append(items, runsItem{
				RunID:        e.RunID,
				CreatedAtUTC: e.CreatedAtUTC,
				Dataset:      e.Dataset,
				Steps:        e.Steps,
				BatchSize:    e.BatchSize,
				Seed:         e.Seed,
				FinalLoss:    e.FinalLoss,
				FinalPSNR:    e.FinalPSNR,
				FramesPerSec: fps,
			})
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}

	for _, e := range entries {
		fpsDisplay := "n/a"
		if *showEval {
			record, ok, err := artifacts.ReadEvaluation(runsDir, e.RunID)
			if err != nil {
				return err
			}
			if ok {
				fpsDisplay = fmt.Sprintf("%.2f", record.FramesPerSec)
			}
		}

		created := e.CreatedAtUTC
		if ts, err := time.Parse(time.RFC3339Nano, e.CreatedAtUTC); err == nil {
			created = humanize.Time(ts)
		}
		fmt.Printf("run_id=%s created=%s dataset=%s steps=%d batch=%d seed=%d final_loss=%.6f final_psnr=%.2f fps=%s\n",
			e.RunID, created, e.Dataset, e.Steps, e.BatchSize, e.Seed, e.FinalLoss, e.FinalPSNR, fpsDisplay)
	}
	return nil
}

func runInfo(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show the most recent run from the run index")
	jsonOut := fs.Bool("json", false, "emit run info as JSON")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "aktis.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("info requires --run-id or --latest")
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	info, err := client.Info(ctx, aktisapi.InfoRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}

	if *jsonOut {
		out := struct {
			Run            model.RunRecord `json:"run"`
			CheckpointID   string          `json:"checkpoint_id,omitempty"`
			CheckpointStep int             `json:"checkpoint_step,omitempty"`
			Parameters     int             `json:"parameters"`
			LossSamples    int             `json:"loss_samples"`
			MeanPSNR       *float64        `json:"mean_psnr,omitempty"`
		}{
			Run:            info.Run,
			CheckpointID:   info.CheckpointID,
			CheckpointStep: info.CheckpointStep,
			Parameters:     info.Parameters,
			LossSamples:    info.LossSamples,
			MeanPSNR:       info.MeanPSNR,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("run_id=%s dataset=%s steps=%d batch=%d seed=%d final_loss=%.6f created_at=%s\n",
		info.Run.ID, info.Run.Dataset, info.Run.Steps, info.Run.BatchSize, info.Run.Seed, info.Run.FinalLoss, info.Run.CreatedAtUTC)
	if info.CheckpointID != "" {
		fmt.Printf("checkpoint=%s step=%d parameters=%s\n",
			info.CheckpointID, info.CheckpointStep, humanize.Comma(int64(info.Parameters)))
	}
	fmt.Printf("loss_samples=%d\n", info.LossSamples)
	if info.MeanPSNR != nil {
		fmt.Printf("mean_psnr=%.2f\n", *info.MeanPSNR)
	}
	return nil
}

func runHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show loss history for the most recent run from the run index")
	limit := fs.Int("limit", 50, "max trailing steps to print (<=0 for all)")
	jsonOut := fs.Bool("json", false, "emit loss history as JSON")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "aktis.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("history requires --run-id or --latest")
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	history, err := client.LossHistory(ctx, aktisapi.LossHistoryRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Println("no loss history")
		return nil
	}

	start := 0
	if *limit > 0 && len(history) > *limit {
		start = len(history) - *limit
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(history[start:])
	}
	for i, loss := range history[start:] {
		fmt.Printf("step=%d loss=%.6f\n", start+i+1, loss)
	}
	return nil
}

func runExport(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from the run index")
	outDir := fs.String("out", exportsDir, "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}
	if *latest {
		entries, err := artifacts.ListRunIndex(runsDir)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return errors.New("no runs available to export")
		}
		*runID = entries[0].RunID
	}

	exportedDir, err := artifacts.ExportRunArtifacts(runsDir, *runID, *outDir)
	if err != nil {
		return err
	}

	fmt.Printf("exported run_id=%s to=%s\n", *runID, filepath.Clean(exportedDir))
	return nil
}

func newClient(storeKind, dbPath string) (*aktisapi.Client, error) {
	logger := log.Logger
	return aktisapi.New(aktisapi.Options{
		StoreKind:  storeKind,
		DBPath:     dbPath,
		RunsDir:    runsDir,
		ExportsDir: exportsDir,
		Logger:     &logger,
	})
}

func configureLogLevel(verbose bool) {
	if verbose {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: aktisctl <init|train|evaluate|render|synth|runs|info|history|export> [flags]", msg)
}
