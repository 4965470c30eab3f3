package training

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/satellitecrops/cropseg/tensor"
)

// SplitSizes returns the train and test sample counts for n samples.
// The test share is rounded up so a small dataset still gets a test sample.
func SplitSizes(n int, testSize float64) (int, int, error) {
	if testSize <= 0 || testSize >= 1 {
		return 0, 0, fmt.Errorf("test size must be in (0, 1), got %g", testSize)
	}
	nTest := int(math.Ceil(testSize * float64(n)))
	nTrain := n - nTest
	if nTrain < 1 || nTest < 1 {
		return 0, 0, fmt.Errorf("cannot split %d samples with test size %g", n, testSize)
	}
	return nTrain, nTest, nil
}

// TrainTestSplit randomly partitions paired samples into disjoint train and
// test sets. x and y must share their leading dimension.
func TrainTestSplit(x, y *tensor.Tensor, testSize float64, rng *rand.Rand) (xTrain, xTest, yTrain, yTest *tensor.Tensor, err error) {
	n := x.Samples()
	if y.Samples() != n {
		return nil, nil, nil, nil, fmt.Errorf("sample count mismatch: x has %d, y has %d", n, y.Samples())
	}

	nTrain, nTest, err := SplitSizes(n, testSize)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	perm := rng.Perm(n)
	testIdx := perm[:nTest]
	trainIdx := perm[nTest : nTest+nTrain]

	if xTrain, err = x.Gather(trainIdx); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to gather x train: %w", err)
	}
	if xTest, err = x.Gather(testIdx); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to gather x test: %w", err)
	}
	if yTrain, err = y.Gather(trainIdx); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to gather y train: %w", err)
	}
	if yTest, err = y.Gather(testIdx); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to gather y test: %w", err)
	}

	return xTrain, xTest, yTrain, yTest, nil
}

// ValidationCut returns the index at which the trailing validation share
// starts, matching the framework convention of holding out the last samples.
func ValidationCut(n int, validationSplit float64) (int, error) {
	if validationSplit < 0 || validationSplit >= 1 {
		return 0, fmt.Errorf("validation split must be in [0, 1), got %g", validationSplit)
	}
	cut := int(math.Floor(float64(n) * (1 - validationSplit)))
	if cut < 1 {
		return 0, fmt.Errorf("validation split %g leaves no training samples out of %d", validationSplit, n)
	}
	if validationSplit > 0 && cut == n {
		return 0, fmt.Errorf("validation split %g leaves no validation samples out of %d", validationSplit, n)
	}
	return cut, nil
}
