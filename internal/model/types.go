package model

// Metadata describes an exported ONNX backbone. It is read from the JSON file
// that ships next to the .onnx model.
type Metadata struct {
	Name          string  `json:"name"`
	InputShape    []int64 `json:"input_shape"`
	OutputShape   []int64 `json:"output_shape"`
	InputName     string  `json:"input_name"`
	OutputName    string  `json:"output_name"`
	ImageSize     int     `json:"image_size"`
	Normalization string  `json:"normalization"`
}

// AnalysisResult is the verdict for one image.
type AnalysisResult struct {
	IsForged   bool    `json:"is_forged"`
	Confidence float64 `json:"confidence"`
	// ELA holds the PNG-encoded error level image when it was requested.
	ELA []byte `json:"ela,omitempty"`
	// SnapshotID identifies the model state that produced the verdict.
	SnapshotID string `json:"snapshot_id,omitempty"`
}

// Verdict converts a tampered probability into a result. Confidence is the
// probability on a 0..100 scale and IsForged is derived from it, so
// IsForged == (Confidence > 50) always holds.
func Verdict(probability float64) AnalysisResult {
	confidence := probability * 100
	switch {
	case confidence < 0:
		confidence = 0
	case confidence > 100:
		confidence = 100
	}
	return AnalysisResult{
		IsForged:   confidence > 50,
		Confidence: confidence,
	}
}

// EpochMetrics are the per-epoch training and validation measurements.
type EpochMetrics struct {
	Epoch       int     `json:"epoch"`
	Loss        float64 `json:"loss"`
	Accuracy    float64 `json:"accuracy"`
	AUC         float64 `json:"auc"`
	ValLoss     float64 `json:"val_loss"`
	ValAccuracy float64 `json:"val_accuracy"`
	ValAUC      float64 `json:"val_auc"`
}

// History is the outcome of Fit.
type History struct {
	Epochs []EpochMetrics `json:"epochs"`
	// BestEpoch is the 1-based epoch whose head weights were kept; 0 if none completed.
	BestEpoch    int  `json:"best_epoch"`
	StoppedEarly bool `json:"stopped_early"`
}

// LastEpoch returns the highest fully completed epoch.
func (h *History) LastEpoch() int {
	if h == nil || len(h.Epochs) == 0 {
		return 0
	}
	return h.Epochs[len(h.Epochs)-1].Epoch
}
