package training

// State is the lifecycle position of a training loop.
type State int32

const (
	StateIdle State = iota
	StateBuildingDataset
	StateTraining
	StateEvaluating
	// StateStopped means early stopping ended the run before the epoch budget.
	StateStopped
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuildingDataset:
		return "building_dataset"
	case StateTraining:
		return "training"
	case StateEvaluating:
		return "evaluating"
	case StateStopped:
		return "stopped"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions happen within the run.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateCompleted || s == StateFailed
}
