package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	aktisapi "aktis/pkg/aktis"
)

// loadTrainRequestFromConfig reads a train request from a json or yaml file.
// Keys match the config.json a run writes, so an exported run config can be
// replayed directly.
func loadTrainRequestFromConfig(path string) (aktisapi.TrainRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return aktisapi.TrainRequest{}, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return aktisapi.TrainRequest{}, err
		}
	case ".json":
		if err := json.Unmarshal(data, &raw); err != nil {
			return aktisapi.TrainRequest{}, err
		}
	default:
		return aktisapi.TrainRequest{}, fmt.Errorf("unsupported config extension: %s", filepath.Ext(path))
	}

	var req aktisapi.TrainRequest
	if v, ok := asString(raw["dataset"]); ok {
		req.Dataset = v
	}
	if v, ok := asString(raw["run_id"]); ok {
		req.RunID = v
	}
	if v, ok := asInt(raw["steps"]); ok {
		req.Steps = v
	}
	if v, ok := asInt(raw["batch_size"]); ok {
		req.BatchSize = v
	}
	if v, ok := asInt(raw["coarse_samples"]); ok {
		req.CoarseSamples = v
	}
	if v, ok := asInt(raw["fine_samples"]); ok {
		req.FineSamples = v
	}
	if v, ok := asFloat64(raw["learning_rate"]); ok {
		req.LearningRate = v
	}
	if v, ok := asFloat64(raw["learning_rate_decay"]); ok {
		req.LearningRateDecay = v
	}
	if v, ok := asInt(raw["position_frequencies"]); ok {
		req.PositionFrequencies = v
	}
	if v, ok := asInt(raw["direction_frequencies"]); ok {
		req.DirectionFrequencies = v
	}
	if v, ok := asInt(raw["hidden_width"]); ok {
		req.HiddenWidth = v
	}
	if v, ok := asInt(raw["hidden_layers"]); ok {
		req.HiddenLayers = v
	}
	if v, ok := asInt(raw["skip_layer"]); ok {
		req.SkipLayer = v
	}
	if v, ok := asFloat64(raw["train_split"]); ok {
		req.TrainSplit = v
	}
	if v, ok := asFloat64(raw["near"]); ok {
		req.Near = v
	}
	if v, ok := asFloat64(raw["far"]); ok {
		req.Far = v
	}
	if v, ok := asInt64(raw["seed"]); ok {
		req.Seed = v
	}
	if v, ok := asInt(raw["workers"]); ok {
		req.Workers = v
	}
	if v, ok := asInt(raw["checkpoint_every"]); ok {
		req.CheckpointEvery = v
	}
	if v, ok := asInt(raw["progress_every"]); ok {
		req.ProgressEvery = v
	}
	return req, nil
}

func loadOrDefaultTrainRequest(configPath string) (aktisapi.TrainRequest, error) {
	if configPath == "" {
		return aktisapi.TrainRequest{}, nil
	}
	req, err := loadTrainRequestFromConfig(configPath)
	if err != nil {
		return aktisapi.TrainRequest{}, fmt.Errorf("load config: %w", err)
	}
	return req, nil
}

// overrideFromFlags applies explicitly set flags on top of a config-file
// request, so the command line always wins.
func overrideFromFlags(req *aktisapi.TrainRequest, set map[string]bool, flagValue map[string]any) {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "dataset":
			req.Dataset = v.(string)
		case "run-id":
			req.RunID = v.(string)
		case "steps":
			req.Steps = v.(int)
		case "batch":
			req.BatchSize = v.(int)
		case "coarse":
			req.CoarseSamples = v.(int)
		case "fine":
			req.FineSamples = v.(int)
		case "lr":
			req.LearningRate = v.(float64)
		case "lr-decay":
			req.LearningRateDecay = v.(float64)
		case "pos-freq":
			req.PositionFrequencies = v.(int)
		case "dir-freq":
			req.DirectionFrequencies = v.(int)
		case "hidden-width":
			req.HiddenWidth = v.(int)
		case "hidden-layers":
			req.HiddenLayers = v.(int)
		case "skip-layer":
			req.SkipLayer = v.(int)
		case "train-split":
			req.TrainSplit = v.(float64)
		case "near":
			req.Near = v.(float64)
		case "far":
			req.Far = v.(float64)
		case "seed":
			req.Seed = v.(int64)
		case "workers":
			req.Workers = v.(int)
		case "checkpoint-every":
			req.CheckpointEvery = v.(int)
		case "progress-every":
			req.ProgressEvery = v.(int)
		}
	}
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}
