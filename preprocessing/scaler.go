package preprocessing

import (
	"fmt"

	"github.com/YuminosukeSato/pvtrain/core/model"
	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var _ model.Transformer = (*StandardScaler)(nil)

// StandardScaler はデータを列ごとに平均0、標準偏差1に変換する。
// 標準偏差は母標準偏差（n で割る）を使う。
type StandardScaler struct {
	State *model.StateManager

	// Mean は各特徴量の平均値
	Mean []float64
	// Scale は各特徴量の標準偏差。ほぼ0の列は1として扱う
	Scale []float64

	WithMean bool
	WithStd  bool
}

// NewStandardScaler は新しいStandardScalerを作成する
//
// 使用例:
//
//	scaler := preprocessing.NewStandardScaler(true, true)
//	XScaled, err := scaler.FitTransform(X)
func NewStandardScaler(withMean, withStd bool) *StandardScaler {
	return &StandardScaler{
		State:    model.NewStateManager(),
		WithMean: withMean,
		WithStd:  withStd,
	}
}

// NewStandardScalerDefault はデフォルト設定でStandardScalerを作成する
func NewStandardScalerDefault() *StandardScaler {
	return NewStandardScaler(true, true)
}

// Fit は訓練データから平均と標準偏差を計算する
func (s *StandardScaler) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("StandardScaler.Fit", "empty data", errors.ErrEmptyData)
	}

	s.Mean = make([]float64, c)
	s.Scale = make([]float64, c)
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, X)
		mean, std := stat.PopMeanStdDev(col, nil)
		if s.WithMean {
			s.Mean[j] = mean
		}
		s.Scale[j] = 1
		if s.WithStd && std > 1e-8 {
			s.Scale[j] = std
		}
	}

	s.State.SetFitted(c, r)
	return nil
}

// Transform は学習済みの統計情報を使ってデータを標準化する
func (s *StandardScaler) Transform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.State.RequireFitted("StandardScaler", "Transform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if c != len(s.Mean) {
		return nil, errors.NewDimensionError("StandardScaler.Transform", len(s.Mean), c, 1)
	}

	out := mat.NewDense(r, c, nil)
	out.Apply(func(i, j int, v float64) float64 {
		return (v - s.Mean[j]) / s.Scale[j]
	}, X)
	return out, nil
}

// FitTransform はFitとTransformを同時に実行する
func (s *StandardScaler) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

// InverseTransform は標準化されたデータを元のスケールに戻す
func (s *StandardScaler) InverseTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.State.RequireFitted("StandardScaler", "InverseTransform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if c != len(s.Mean) {
		return nil, errors.NewDimensionError("StandardScaler.InverseTransform", len(s.Mean), c, 1)
	}

	out := mat.NewDense(r, c, nil)
	out.Apply(func(i, j int, v float64) float64 {
		return v*s.Scale[j] + s.Mean[j]
	}, X)
	return out, nil
}

// GetParams はスケーラーのパラメータを返す
func (s *StandardScaler) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"with_mean": s.WithMean,
		"with_std":  s.WithStd,
	}
}

func (s *StandardScaler) String() string {
	if !s.State.IsFitted() {
		return fmt.Sprintf("StandardScaler(with_mean=%t, with_std=%t)", s.WithMean, s.WithStd)
	}
	return fmt.Sprintf("StandardScaler(with_mean=%t, with_std=%t, n_features=%d)", s.WithMean, s.WithStd, len(s.Mean))
}
