// Package builder orchestrates one full index rebuild: scan, embed, index, persist.
package builder

// Stage identifies where a build run currently is. Transitions are strictly
// forward; Completed, Failed, and Cancelled are terminal.
type Stage string

const (
	StageIdle      Stage = "idle"
	StageScanning  Stage = "scanning"
	StageEmbedding Stage = "embedding"
	StageBuilding  Stage = "building"
	StageSaving    Stage = "saving"
	StageCompleted Stage = "completed"
	StageFailed    Stage = "failed"
	StageCancelled Stage = "cancelled"
)

// Terminal reports whether s is a terminal stage.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageCancelled
}

// Progress is one build progress event. Within a run, events are emitted in
// monotonically non-decreasing Percent order and never reordered across stages.
type Progress struct {
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
	Percent int    `json:"percent"`
}

// Failure records one image that could not be embedded during a run.
type Failure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Outcome is the terminal result of a run.
type Outcome struct {
	Stage Stage `json:"stage"`
	// IndexedCount is the number of images successfully embedded and indexed.
	IndexedCount int       `json:"indexed_count"`
	Failures     []Failure `json:"failures,omitempty"`
	// Message describes failure or cancellation; empty on success.
	Message string `json:"message,omitempty"`
}
