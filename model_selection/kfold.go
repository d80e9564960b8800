package model_selection

// Splitter yields cross-validation folds over n samples.
type Splitter interface {
	Split(n int) []CVFold
	GetNSplits() int
}

// CVFold represents a single fold in cross-validation
type CVFold struct {
	TrainIndices []int
	TestIndices  []int
}

// KFold implements k-fold cross-validation splitter
type KFold struct {
	NSplits    int
	Shuffle    bool
	RandomSeed uint64
}

// NewKFold creates a new k-fold splitter. Fewer than 2 splits means 5.
func NewKFold(nSplits int, shuffle bool, randomSeed uint64) *KFold {
	if nSplits < 2 {
		nSplits = 5
	}
	return &KFold{
		NSplits:    nSplits,
		Shuffle:    shuffle,
		RandomSeed: randomSeed,
	}
}

// GetNSplits returns the number of splits
func (kf *KFold) GetNSplits() int {
	return kf.NSplits
}

// Split generates train/test indices for each fold. The first n % k folds
// get one extra test sample.
func (kf *KFold) Split(n int) []CVFold {
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	if kf.Shuffle {
		indices = permutation(n, kf.RandomSeed)
	}

	folds := make([]CVFold, kf.NSplits)
	foldSize := n / kf.NSplits
	remainder := n % kf.NSplits

	current := 0
	for i := range folds {
		testSize := foldSize
		if i < remainder {
			testSize++
		}
		test := append([]int(nil), indices[current:current+testSize]...)
		train := make([]int, 0, n-testSize)
		train = append(train, indices[:current]...)
		train = append(train, indices[current+testSize:]...)

		folds[i] = CVFold{TrainIndices: train, TestIndices: test}
		current += testSize
	}
	return folds
}
