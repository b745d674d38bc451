package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// LayerSnapshot is the raw parameter payload of one fully-connected layer.
type LayerSnapshot struct {
	In      int       `json:"in"`
	Out     int       `json:"out"`
	Weights []float64 `json:"weights"`
	Bias    []float64 `json:"bias"`
}

// FieldSnapshot is a radiance field frozen for persistence: the architecture
// plus every layer's parameters in construction order.
type FieldSnapshot struct {
	PositionWidth  int             `json:"position_width"`
	DirectionWidth int             `json:"direction_width"`
	HiddenWidth    int             `json:"hidden_width"`
	HiddenLayers   int             `json:"hidden_layers"`
	SkipLayer      int             `json:"skip_layer"`
	Layers         []LayerSnapshot `json:"layers"`
}

// Checkpoint persists trained field parameters together with the encoder
// settings needed to drive them.
type Checkpoint struct {
	VersionedRecord
	ID                   string        `json:"id"`
	RunID                string        `json:"run_id"`
	Step                 int           `json:"step"`
	PositionFrequencies  int           `json:"position_frequencies"`
	DirectionFrequencies int           `json:"direction_frequencies"`
	Field                FieldSnapshot `json:"field"`
	CreatedAtUTC         string        `json:"created_at_utc"`
}

// RunRecord summarizes one completed training run.
type RunRecord struct {
	VersionedRecord
	ID           string  `json:"id"`
	Dataset      string  `json:"dataset"`
	Steps        int     `json:"steps"`
	BatchSize    int     `json:"batch_size"`
	Seed         int64   `json:"seed"`
	FinalLoss    float64 `json:"final_loss"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

// EvaluationItem is the fidelity score of one held-out view.
type EvaluationItem struct {
	View int     `json:"view"`
	PSNR float64 `json:"psnr"`
}

// EvaluationRecord aggregates held-out metrics for one run.
type EvaluationRecord struct {
	VersionedRecord
	RunID           string           `json:"run_id"`
	Items           []EvaluationItem `json:"items"`
	MeanPSNR        float64          `json:"mean_psnr"`
	SecondsPerFrame float64          `json:"seconds_per_frame"`
	FramesPerSec    float64          `json:"frames_per_sec"`
	CreatedAtUTC    string           `json:"created_at_utc"`
}
