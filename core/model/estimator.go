package model

import "gonum.org/v1/gonum/mat"

// Fitter は学習可能なモデルのインターフェース
type Fitter interface {
	// Fit はモデルを訓練データで学習させる。y は n×1 の列ベクトル
	Fit(X, y mat.Matrix) error
}

// Predictor は予測可能なモデルのインターフェース
type Predictor interface {
	// Predict は入力データに対する予測を n×1 行列で返す
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// Regressor は回帰モデルの最小の能力セット。アンサンブルやチューナーはこれだけに依存する
type Regressor interface {
	Fitter
	Predictor
}

// LinearModel は線形モデルのインターフェース
type LinearModel interface {
	// Coefficients は学習された重み（係数）を返す
	Coefficients() []float64
	// InterceptValue は学習された切片を返す
	InterceptValue() float64
}
