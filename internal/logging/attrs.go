package logging

// Standard attribute keys shared by every component, so run logs can be
// filtered the same way regardless of which package emitted them.
const (
	RunIDKey     = "run.id"
	ComponentKey = "component"

	SourceKey  = "data.source"
	SamplesKey = "data.samples"
	DroppedKey = "data.dropped"
	ClassesKey = "data.classes"
	SplitKey   = "data.split"

	EpochKey      = "train.epoch"
	StepKey       = "train.step"
	BatchKey      = "train.batch"
	LossKey       = "train.loss"
	LRKey         = "train.lr"
	PhaseKey      = "train.phase"
	MetricKey     = "eval.metric"
	ValueKey      = "eval.value"
	BestKey       = "eval.best"
	PatienceKey   = "train.patience_left"
	CheckpointKey = "checkpoint.dir"

	PathKey     = "artifact.path"
	DurationKey = "duration"
	DeviceKey   = "compute.device"
	WorkersKey  = "compute.workers"
)
