// Package log defines standard attribute keys for pipeline logging.
//
// Keys follow a hierarchical naming convention ("data.samples",
// "pv.generator") so logs from concurrent generator workers can be filtered
// and joined afterwards.
package log

// Model and operation context.
const (
	// ModelNameKey identifies the learner family, e.g. "random_forest".
	ModelNameKey = "model.name"

	// OperationKey specifies the operation being performed.
	OperationKey = "ml.operation"

	// ComponentKey identifies which package is logging.
	ComponentKey = "ml.component"

	// PhaseKey indicates the lifecycle phase ("training", "validation").
	PhaseKey = "ml.phase"
)

// Data shape.
const (
	SamplesKey  = "data.samples"
	FeaturesKey = "data.features"
	// FeatureNamesKey lists the feature subset in use.
	FeatureNamesKey = "data.feature_names"
)

// Pipeline context.
const (
	// RunIDKey is the uuid assigned to one pipeline run.
	RunIDKey = "run.id"

	// GeneratorKey identifies the generator being processed.
	GeneratorKey = "pv.generator"

	// StrategyKey is the strategy tag ("voting", "stacking", "tuned", ...).
	StrategyKey = "pv.strategy"

	// StepKey is the elimination step (remaining subset size).
	StepKey = "pv.step"

	// StateKey is the per-generator state machine state.
	StateKey = "pv.state"

	// ArtifactKey is the artifact store key string.
	ArtifactKey = "pv.artifact"

	// DroppedFeatureKey names the feature removed at an elimination step.
	DroppedFeatureKey = "pv.dropped"
)

// Performance metrics.
const (
	DurationMsKey = "perf.duration_ms"
	R2ScoreKey    = "metrics.r2_score"
	RMSEKey       = "metrics.rmse"
	MAEKey        = "metrics.mae"
	CVScoreKey    = "metrics.cv_score"
	IterationKey  = "training.iteration"
)

// Error context.
const (
	ErrorCodeKey  = "error.code"
	ErrorTypeKey  = "error.type"
	StacktraceKey = "error.stacktrace"
)

// Configuration.
const (
	HyperParamsKey = "model.hyperparams"
	RandomSeedKey  = "config.random_seed"
	WorkerIDKey    = "infra.worker_id"
)

// Standard attribute values.
const (
	OperationFit      = "fit"
	OperationPredict  = "predict"
	OperationScore    = "score"
	OperationSelect   = "select"
	OperationTune     = "tune"
	OperationBuild    = "build"
	OperationEvaluate = "evaluate"

	PhaseTraining   = "training"
	PhaseValidation = "validation"

	ErrorNotFitted         = "NOT_FITTED"
	ErrorDimensionMismatch = "DIMENSION_MISMATCH"
	ErrorEmptyData         = "EMPTY_DATA"
	ErrorSingularMatrix    = "SINGULAR_MATRIX"
	ErrorArtifactMissing   = "ARTIFACT_MISSING"
	ErrorFitFailure        = "FIT_FAILURE"
)
