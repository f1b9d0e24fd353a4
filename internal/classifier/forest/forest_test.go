package forest

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optpath/internal/classifier"
)

// separable: label by sign of feature 0, feature 1 is noise.
func separable(n int, seed int64) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	x := make([][]float64, n)
	y := make([]int, n)
	for i := range x {
		v := rng.Float64()*2 - 1
		x[i] = []float64{v, rng.Float64()}
		switch {
		case v > 0.3:
			y[i] = 1
		case v < -0.3:
			y[i] = -1
		}
	}
	return x, y
}

func TestForest_LearnsSeparableLabels(t *testing.T) {
	x, y := separable(400, 1)
	trainer := NewTrainer(Config{Trees: 15, Seed: 42, MaxFeatures: 2})
	model, err := trainer.Fit(x, y)
	require.NoError(t, err)

	testX, testY := separable(200, 2)
	pred, err := model.Predict(testX)
	require.NoError(t, err)
	rep, err := classifier.Evaluate(testY, pred)
	require.NoError(t, err)
	assert.Greater(t, rep.Accuracy, 0.9)
}

func TestForest_DeterministicForSeed(t *testing.T) {
	x, y := separable(200, 3)
	a, err := NewTrainer(Config{Trees: 10, Seed: 5, Workers: 4}).Fit(x, y)
	require.NoError(t, err)
	b, err := NewTrainer(Config{Trees: 10, Seed: 5, Workers: 1}).Fit(x, y)
	require.NoError(t, err)

	sample, _ := separable(100, 9)
	pa, err := a.Predict(sample)
	require.NoError(t, err)
	pb, err := b.Predict(sample)
	require.NoError(t, err)
	assert.Equal(t, pa, pb)
}

func TestForest_FitReturnsFreshModel(t *testing.T) {
	trainer := NewTrainer(Config{Trees: 3, Seed: 1})
	x1 := [][]float64{{0}, {1}, {2}, {3}}
	m1, err := trainer.Fit(x1, []int{1, 1, 1, 1})
	require.NoError(t, err)
	m2, err := trainer.Fit(x1, []int{-1, -1, -1, -1})
	require.NoError(t, err)
	assert.NotSame(t, m1, m2)

	p1, _ := m1.Predict([][]float64{{1.5}})
	p2, _ := m2.Predict([][]float64{{1.5}})
	assert.Equal(t, []int{1}, p1)
	assert.Equal(t, []int{-1}, p2)
}

func TestForest_ShapeErrors(t *testing.T) {
	trainer := NewTrainer(Config{Trees: 2})
	_, err := trainer.Fit(nil, nil)
	assert.ErrorIs(t, err, classifier.ErrEmptyTrainingSet)

	_, err = trainer.Fit([][]float64{{1}, {2}}, []int{1})
	assert.ErrorIs(t, err, classifier.ErrShapeMismatch)

	f, err := trainer.FitForest([][]float64{{1, 2}, {2, 3}}, []int{0, 1})
	require.NoError(t, err)
	_, err = f.Predict([][]float64{{1}})
	assert.ErrorIs(t, err, classifier.ErrShapeMismatch)
	assert.Equal(t, []int{0, 1}, f.Classes())
}

func TestForest_ProbaSumsToOne(t *testing.T) {
	x, y := separable(150, 4)
	f, err := NewTrainer(Config{Trees: 8, Seed: 2, MaxDepth: 3}).FitForest(x, y)
	require.NoError(t, err)
	sum := 0.0
	for _, p := range f.Proba([]float64{0.1, 0.5}) {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}
