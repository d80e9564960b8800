// Package errors はパイプライン全体のエラーハンドリングと警告システムを提供します。
// 致命的な設定エラー、発電機単位のスキップ、ユニット単位の学習失敗を型で区別します。
package errors

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ===========================================================================
//
//	グローバル警告ハンドリング
//
// ===========================================================================
var (
	warningMutex sync.Mutex
	// 明示的に設定された警告ハンドラ。nil の場合は zerolog、次に標準 log へ出力する。
	warningHandler func(w error)
	// zerologロガー（循環importを避けるため遅延初期化）
	zerologWarnFunc func(warning error)
)

// SetWarningHandler は警告ハンドラを設定します。nil を渡すと既定の出力先に戻ります。
func SetWarningHandler(handler func(w error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	warningHandler = handler
}

// SetZerologWarnFunc はzerolog警告関数を設定します（循環importを避けるため）。
func SetZerologWarnFunc(warnFunc func(warning error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	zerologWarnFunc = warnFunc
}

// Warn は警告を発生させます。
// 明示的なハンドラ、zerolog、標準 log の順に出力先を選びます。
func Warn(w error) {
	warningMutex.Lock()
	defer warningMutex.Unlock()

	switch {
	case warningHandler != nil:
		warningHandler(w)
	case zerologWarnFunc != nil:
		zerologWarnFunc(w)
	default:
		log.Printf("pvtrain-Warning: %v\n", w)
	}
}

// ===========================================================================
//
//	警告型
//
// ===========================================================================

// ConvergenceWarning は反復最適化が収束しなかった場合の警告です。
type ConvergenceWarning struct {
	Algorithm  string
	Iterations int
	Message    string
}

func (w *ConvergenceWarning) Error() string {
	if w.Message != "" {
		return fmt.Sprintf("%s failed to converge after %d iterations: %s", w.Algorithm, w.Iterations, w.Message)
	}
	return fmt.Sprintf("%s failed to converge after %d iterations. Consider increasing max_iter.", w.Algorithm, w.Iterations)
}

// MarshalZerologObject はzerologのイベントに構造化された警告情報を追加します。
func (w *ConvergenceWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("algorithm", w.Algorithm).
		Int("iterations", w.Iterations).
		Str("message", w.Message).
		Str("type", "ConvergenceWarning")
}

// NewConvergenceWarning は新しいConvergenceWarningを作成します。
func NewConvergenceWarning(algorithm string, iterations int, message string) *ConvergenceWarning {
	return &ConvergenceWarning{Algorithm: algorithm, Iterations: iterations, Message: message}
}

// UndefinedMetricWarning は評価指標が定義できない場合の警告です。
// 例: 全ての目的変数がゼロでMAPEが計算できない場合。
type UndefinedMetricWarning struct {
	Metric    string
	Condition string
	Result    float64 // この条件で返される値
}

func (w *UndefinedMetricWarning) Error() string {
	return fmt.Sprintf("'%s' is ill-defined and being set to %f due to %s.", w.Metric, w.Result, w.Condition)
}

// MarshalZerologObject はzerologのイベントに構造化された警告情報を追加します。
func (w *UndefinedMetricWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("metric", w.Metric).
		Str("condition", w.Condition).
		Float64("result", w.Result).
		Str("type", "UndefinedMetricWarning")
}

// NewUndefinedMetricWarning は新しいUndefinedMetricWarningを作成します。
func NewUndefinedMetricWarning(metric, condition string, result float64) *UndefinedMetricWarning {
	return &UndefinedMetricWarning{Metric: metric, Condition: condition, Result: result}
}

// ===========================================================================
//
//	推定器のエラー型
//
// ===========================================================================

// NotFittedError はモデルが未学習の状態で `Predict` を呼び出した場合のエラーです。
type NotFittedError struct {
	ModelName string
	Method    string
}

func (e *NotFittedError) Error() string {
	return fmt.Sprintf("pvtrain: %s: this model is not fitted yet. Call Fit() before using %s()", e.ModelName, e.Method)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *NotFittedError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("model_name", e.ModelName).
		Str("method", e.Method).
		Str("type", "NotFittedError")
}

// NewNotFittedError は新しいNotFittedErrorを作成し、スタックトレースを付与します。
func NewNotFittedError(modelName, method string) error {
	return errors.WithStack(&NotFittedError{ModelName: modelName, Method: method})
}

// DimensionError は入力データの次元が期待値と異なる場合のエラーです。
type DimensionError struct {
	Op       string
	Expected int
	Got      int
	Axis     int // 0 for rows, 1 for columns/features
}

func (e *DimensionError) axisName() string {
	if e.Axis == 0 {
		return "rows"
	}
	return "features"
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("pvtrain: %s: dimension mismatch on axis %d (%s). Expected %d, got %d", e.Op, e.Axis, e.axisName(), e.Expected, e.Got)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *DimensionError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Int("expected", e.Expected).
		Int("got", e.Got).
		Int("axis", e.Axis).
		Str("axis_name", e.axisName()).
		Str("type", "DimensionError")
}

// NewDimensionError は新しいDimensionErrorを作成し、スタックトレースを付与します。
func NewDimensionError(op string, expected, got, axis int) error {
	return errors.WithStack(&DimensionError{Op: op, Expected: expected, Got: got, Axis: axis})
}

// ValidationError は入力パラメータの検証に失敗した場合のエラーです。
type ValidationError struct {
	ParamName string
	Reason    string
	Value     interface{}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("pvtrain: validation failed for parameter '%s': %s (got: %v)", e.ParamName, e.Reason, e.Value)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ValidationError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("param_name", e.ParamName).
		Str("reason", e.Reason).
		Interface("value", e.Value).
		Str("type", "ValidationError")
}

// NewValidationError は新しいValidationErrorを作成し、スタックトレースを付与します。
func NewValidationError(param, reason string, value interface{}) error {
	return errors.WithStack(&ValidationError{ParamName: param, Reason: reason, Value: value})
}

// ValueError は引数の値が不適切な場合のエラーです。
type ValueError struct {
	Op      string
	Message string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("pvtrain: %s: %s", e.Op, e.Message)
}

// NewValueError は新しいValueErrorを作成し、スタックトレースを付与します。
func NewValueError(op, message string) error {
	return errors.WithStack(&ValueError{Op: op, Message: message})
}

// ModelError は学習器に関する一般的なエラーです。
type ModelError struct {
	Op   string
	Kind string
	Err  error
}

func (e *ModelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pvtrain: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("pvtrain: %s: %s", e.Op, e.Kind)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// NewModelError は新しいModelErrorを作成し、スタックトレースを付与します。
func NewModelError(op, kind string, err error) error {
	return errors.WithStack(&ModelError{Op: op, Kind: kind, Err: err})
}

// NumericalInstabilityError は数値計算でNaNやInfが発生した場合のエラーです。
type NumericalInstabilityError struct {
	Operation string
	Values    []float64
	Iteration int
}

func (e *NumericalInstabilityError) Error() string {
	vals := make([]string, 0, len(e.Values))
	for i, v := range e.Values {
		if i >= 5 {
			vals = append(vals, "...")
			break
		}
		vals = append(vals, fmt.Sprintf("%.6g", v))
	}
	return fmt.Sprintf("pvtrain: numerical instability detected in %s at iteration %d. Values: [%s]",
		e.Operation, e.Iteration, strings.Join(vals, ", "))
}

// NewNumericalInstabilityError は新しいNumericalInstabilityErrorを作成します。
func NewNumericalInstabilityError(operation string, values []float64, iteration int) error {
	return errors.WithStack(&NumericalInstabilityError{Operation: operation, Values: values, Iteration: iteration})
}

// ===========================================================================
//
//	パイプラインのエラー分類
//
// ===========================================================================

// ConfigError は実行全体を中断する致命的な設定エラーです。
// 必須列の欠落、空のデータセット、不正な設定値などが該当します。
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("pvtrain: configuration error: %s", strings.Join(e.Problems, "; "))
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ConfigError) MarshalZerologObject(event *zerolog.Event) {
	event.Strs("problems", e.Problems).
		Str("type", "ConfigError")
}

// NewConfigError は新しいConfigErrorを作成します。
func NewConfigError(problems ...string) error {
	return errors.WithStack(&ConfigError{Problems: problems})
}

// IsConfigError はエラーチェーンにConfigErrorが含まれるかを判定します。
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// EligibilityError はサンプル数不足で発電機がスキップされたことを表します。
// 失敗ではなく記録用です。
type EligibilityError struct {
	GeneratorID string
	Samples     int
	MinSamples  int
}

func (e *EligibilityError) Error() string {
	return fmt.Sprintf("pvtrain: generator %q is ineligible: %d samples < %d", e.GeneratorID, e.Samples, e.MinSamples)
}

// NewEligibilityError は新しいEligibilityErrorを作成します。
func NewEligibilityError(generatorID string, samples, minSamples int) error {
	return &EligibilityError{GeneratorID: generatorID, Samples: samples, MinSamples: minSamples}
}

// ArtifactMissingError は要求された成果物がストアに存在しない場合のエラーです。
// アンサンブル構築では警告として扱われます。
type ArtifactMissingError struct {
	Key string
}

func (e *ArtifactMissingError) Error() string {
	return fmt.Sprintf("pvtrain: artifact %q not found", e.Key)
}

// Is は ErrArtifactNotFound との比較を可能にします。
func (e *ArtifactMissingError) Is(target error) bool {
	return target == ErrArtifactNotFound
}

// NewArtifactMissingError は新しいArtifactMissingErrorを作成します。
// 返されるエラーは ErrArtifactNotFound としてマークされます。
func NewArtifactMissingError(key string) error {
	return errors.Mark(errors.WithStack(&ArtifactMissingError{Key: key}), ErrArtifactNotFound)
}

// FitFailure は (発電機, 戦略) 単位の学習・予測失敗です。
// 他のユニットや他の発電機の処理は継続されます。
type FitFailure struct {
	GeneratorID string
	Strategy    string
	Stage       string
	Err         error
}

func (e *FitFailure) Error() string {
	return fmt.Sprintf("pvtrain: %s/%s failed during %s: %v", e.GeneratorID, e.Strategy, e.Stage, e.Err)
}

func (e *FitFailure) Unwrap() error {
	return e.Err
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *FitFailure) MarshalZerologObject(event *zerolog.Event) {
	event.Str("generator", e.GeneratorID).
		Str("strategy", e.Strategy).
		Str("stage", e.Stage).
		AnErr("cause", e.Err).
		Str("type", "FitFailure")
}

// NewFitFailure は新しいFitFailureを作成し、スタックトレースを付与します。
func NewFitFailure(generatorID, strategy, stage string, err error) error {
	return errors.WithStack(&FitFailure{GeneratorID: generatorID, Strategy: strategy, Stage: stage, Err: err})
}

// ===========================================================================
//
//	cockroachdb/errors ラッパー関数
//
// ===========================================================================

// Is はエラーが特定のターゲットエラーかどうかを判定します。
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As はエラーが特定の型にキャスト可能かどうかを判定します。
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap は既存のエラーをメッセージ付きでラップします。
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf は既存のエラーをフォーマット文字列でラップします。
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// New は新しいエラーを作成します。
func New(message string) error {
	return errors.New(message)
}

// Newf は新しいフォーマット済みエラーを作成します。
func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// WithStack はエラーにスタックトレースを付与します。
func WithStack(err error) error {
	return errors.WithStack(err)
}

// ===========================================================================
//
//	共通エラー変数
//
// ===========================================================================

var (
	// ErrEmptyData は空のデータが渡された場合のエラーです。
	ErrEmptyData = New("empty data")

	// ErrSingularMatrix は特異行列の場合のエラーです。
	ErrSingularMatrix = New("singular matrix")

	// ErrArtifactNotFound はストアにキーが存在しない場合のエラーです。
	ErrArtifactNotFound = New("artifact not found")
)
