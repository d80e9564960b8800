// Package pvtrain trains one solar output regression model per power
// generating unit and picks the training strategy that generalizes best
// across the fleet.
//
// For each generator the pipeline gates on a minimum sample count, selects a
// feature subset by backward elimination, optionally tunes one learner family
// by grid search, builds voting, stacking and blending ensembles and scores
// every candidate on a holdout split. The strategy with the best mean R²
// across generators is reported as the global choice.
//
// # Quick Start
//
//	cfg := config.Default()
//	cfg.DataPath = "data/generation.csv"
//
//	runner, closeAll, err := pipeline.Setup(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer closeAll()
//
//	rep, err := runner.Run(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("best strategy:", rep.Selection.Strategy)
//
// examples/train_generators runs the same flow from the command line and
// falls back to a synthetic fleet when no data is given.
//
// # Packages
//
//   - dataset: CSV loading, per-generator partitioning, synthetic data
//   - learner: learner family registry and trained models
//   - selection: backward elimination policies and permutation importance
//   - combiner: voting, stacking and blending ensembles
//   - tuning: parameter grids and k-fold grid search
//   - evaluation: holdout metrics, global selection, artifact comparison
//   - artifact: model persistence (memory, file, redis, minio)
//   - config: YAML configuration with PVTRAIN_* overrides
//   - pipeline: the per-generator state machine and worker pool
//   - report, sink, notify, telemetry: run outputs
//   - linear, sklearn/tree, sklearn/ensemble: the base learners
//   - metrics, model_selection, preprocessing: numeric building blocks
//   - core/model, core/parallel: estimator interfaces, gob persistence, workers
//   - pkg/errors, pkg/log: error taxonomy and structured logging
package pvtrain
