package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	truth := []int{1, 1, 0, -1, -1, 0}
	pred := []int{1, 0, 0, -1, 1, 0}
	rep, err := Evaluate(truth, pred)
	require.NoError(t, err)

	assert.Equal(t, 6, rep.Total)
	assert.InDelta(t, 4.0/6.0, rep.Accuracy, 1e-12)
	require.Len(t, rep.Classes, 3)

	neg := rep.Classes[0]
	assert.Equal(t, -1, neg.Label)
	assert.InDelta(t, 1.0, neg.Precision, 1e-12)
	assert.InDelta(t, 0.5, neg.Recall, 1e-12)
	assert.Equal(t, 2, neg.Support)

	pos := rep.Classes[2]
	assert.InDelta(t, 0.5, pos.Precision, 1e-12)
	assert.InDelta(t, 0.5, pos.Recall, 1e-12)
	assert.InDelta(t, 0.5, pos.F1, 1e-12)

	assert.Contains(t, rep.String(), "accuracy")
}

func TestEvaluate_LengthMismatch(t *testing.T) {
	_, err := Evaluate([]int{1}, nil)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestSplitTail(t *testing.T) {
	x := make([][]float64, 10)
	y := make([]int, 10)
	for i := range x {
		x[i] = []float64{float64(i)}
		y[i] = i
	}
	trX, trY, teX, teY := SplitTail(x, y, 0.2)
	assert.Len(t, trX, 8)
	assert.Len(t, teX, 2)
	assert.Equal(t, 8, teY[0])
	assert.Equal(t, 7, trY[len(trY)-1])

	trX, _, teX, _ = SplitTail(x, y, 0)
	assert.Len(t, trX, 10)
	assert.Nil(t, teX)
}

func TestTrainerFunc(t *testing.T) {
	called := false
	var tr Trainer = TrainerFunc(func(f [][]float64, l []int) (Model, error) {
		called = true
		return nil, CheckShape(f, l)
	})
	_, err := tr.Fit([][]float64{{1}, {1, 2}}, []int{0, 0})
	assert.True(t, called)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}
