// Package tree builds regression trees from per-sample gradients and
// hessians. With gradient -y and hessian 1 the leaves are sample means and
// the split gain is half the reduction in squared error, which gives plain
// CART regression trees; boosting passes real residual gradients instead.
package tree

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Node is one node of a Tree. Children are indices into Tree.Nodes, -1 for
// leaves.
type Node struct {
	Leaf      bool
	Feature   int
	Threshold float64
	Value     float64
	Gain      float64
	Samples   int
	Left      int
	Right     int
}

// Tree is a flat, gob friendly regression tree.
type Tree struct {
	Nodes     []Node
	NFeatures int
}

// PredictRow walks the tree for one sample.
func (t *Tree) PredictRow(x []float64) float64 {
	if len(t.Nodes) == 0 {
		return 0
	}
	n := &t.Nodes[0]
	for !n.Leaf {
		if x[n.Feature] <= n.Threshold {
			n = &t.Nodes[n.Left]
		} else {
			n = &t.Nodes[n.Right]
		}
	}
	return n.Value
}

// Depth returns the length of the longest root to leaf path.
func (t *Tree) Depth() int {
	if len(t.Nodes) == 0 {
		return 0
	}
	var walk func(i int) int
	walk = func(i int) int {
		n := t.Nodes[i]
		if n.Leaf {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	return walk(0)
}

// AddGains accumulates the split gain of every internal node into
// dst[feature].
func (t *Tree) AddGains(dst []float64) {
	for _, n := range t.Nodes {
		if !n.Leaf {
			dst[n.Feature] += n.Gain
		}
	}
}

// Columns is a column-major copy of a design matrix; splits scan columns.
type Columns [][]float64

// NewColumns copies X column by column.
func NewColumns(X mat.Matrix) Columns {
	r, c := X.Dims()
	cols := make(Columns, c)
	for j := range cols {
		cols[j] = make([]float64, r)
		mat.Col(cols[j], j, X)
	}
	return cols
}

// Row gathers sample i.
func (c Columns) Row(i int, dst []float64) []float64 {
	if cap(dst) < len(c) {
		dst = make([]float64, len(c))
	}
	dst = dst[:len(c)]
	for j := range c {
		dst[j] = c[j][i]
	}
	return dst
}

// BuildParams controls tree growth.
type BuildParams struct {
	// MaxDepth 0 means unlimited.
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	// MinChildWeight is the minimum hessian sum on each side of a split.
	MinChildWeight float64
	// Lambda is the L2 penalty on leaf values.
	Lambda float64
	// MinGain is the gain a split must exceed.
	MinGain float64
	// MaxFeatures is the number of candidate features drawn per split, 0
	// means every feature in Features.
	MaxFeatures int
	// Features restricts the columns the tree may split on, nil means all.
	Features []int
	// Rand drives feature sampling; required when MaxFeatures is set.
	Rand *rand.Rand
}

type splitInfo struct {
	feature   int
	threshold float64
	gain      float64
}

type builder struct {
	cols       Columns
	grad, hess []float64
	p          BuildParams
	pool       []int
	nodes      []Node
}

// Build grows one tree over rows (duplicates allowed, as in a bootstrap
// sample).
func Build(cols Columns, rows []int, grad, hess []float64, p BuildParams) *Tree {
	if p.MinSamplesLeaf < 1 {
		p.MinSamplesLeaf = 1
	}
	if p.MinSamplesSplit < 2 {
		p.MinSamplesSplit = 2
	}
	b := &builder{cols: cols, grad: grad, hess: hess, p: p, pool: p.Features}
	if b.pool == nil {
		b.pool = make([]int, len(cols))
		for j := range b.pool {
			b.pool[j] = j
		}
	}
	b.grow(append([]int(nil), rows...), 0)
	return &Tree{Nodes: b.nodes, NFeatures: len(cols)}
}

func (b *builder) grow(rows []int, depth int) int {
	var sumGrad, sumHess float64
	for _, i := range rows {
		sumGrad += b.grad[i]
		sumHess += b.hess[i]
	}

	idx := len(b.nodes)
	b.nodes = append(b.nodes, Node{
		Leaf:    true,
		Value:   -sumGrad / (sumHess + b.p.Lambda),
		Samples: len(rows),
		Left:    -1,
		Right:   -1,
	})

	if (b.p.MaxDepth > 0 && depth >= b.p.MaxDepth) ||
		len(rows) < b.p.MinSamplesSplit ||
		len(rows) < 2*b.p.MinSamplesLeaf {
		return idx
	}

	best := b.findBestSplit(rows, sumGrad, sumHess)
	if best.feature < 0 || best.gain <= b.p.MinGain {
		return idx
	}

	left, right := partition(b.cols[best.feature], rows, best.threshold)
	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)

	n := &b.nodes[idx]
	n.Leaf = false
	n.Feature = best.feature
	n.Threshold = best.threshold
	n.Gain = best.gain
	n.Left = l
	n.Right = r
	return idx
}

func (b *builder) candidates() []int {
	k := b.p.MaxFeatures
	if k <= 0 || k >= len(b.pool) || b.p.Rand == nil {
		return b.pool
	}
	perm := b.p.Rand.Perm(len(b.pool))[:k]
	sort.Ints(perm)
	out := make([]int, k)
	for i, p := range perm {
		out[i] = b.pool[p]
	}
	return out
}

func (b *builder) findBestSplit(rows []int, totalGrad, totalHess float64) splitInfo {
	best := splitInfo{feature: -1, gain: -math.MaxFloat64}
	sorted := make([]int, len(rows))

	for _, feature := range b.candidates() {
		col := b.cols[feature]
		copy(sorted, rows)
		sort.Slice(sorted, func(i, j int) bool {
			return col[sorted[i]] < col[sorted[j]]
		})
		if col[sorted[0]] == col[sorted[len(sorted)-1]] {
			continue
		}

		var leftGrad, leftHess float64
		for i := 0; i < len(sorted)-1; i++ {
			leftGrad += b.grad[sorted[i]]
			leftHess += b.hess[sorted[i]]

			leftCount := i + 1
			if leftCount < b.p.MinSamplesLeaf || len(sorted)-leftCount < b.p.MinSamplesLeaf {
				continue
			}
			cur, next := col[sorted[i]], col[sorted[i+1]]
			if cur == next {
				continue
			}
			rightGrad := totalGrad - leftGrad
			rightHess := totalHess - leftHess
			if leftHess < b.p.MinChildWeight || rightHess < b.p.MinChildWeight {
				continue
			}

			gain := splitGain(leftGrad, leftHess, rightGrad, rightHess, totalGrad, totalHess, b.p.Lambda)
			if gain > best.gain {
				best = splitInfo{feature: feature, threshold: (cur + next) / 2, gain: gain}
			}
		}
	}
	return best
}

func splitGain(leftGrad, leftHess, rightGrad, rightHess, totalGrad, totalHess, lambda float64) float64 {
	leftScore := leftGrad * leftGrad / (leftHess + lambda)
	rightScore := rightGrad * rightGrad / (rightHess + lambda)
	totalScore := totalGrad * totalGrad / (totalHess + lambda)
	return 0.5 * (leftScore + rightScore - totalScore)
}

func partition(col []float64, rows []int, threshold float64) (left, right []int) {
	left = make([]int, 0, len(rows))
	right = make([]int, 0, len(rows))
	for _, i := range rows {
		if col[i] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}
