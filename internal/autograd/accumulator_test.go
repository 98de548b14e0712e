package autograd_test

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/autograd/internal/autograd"
	"github.com/born-ml/autograd/internal/tensor"
)

func TestAccumulator_Sum(t *testing.T) {
	v := leaf("v", tensor.Zeros(tensor.Shape{3}, tensor.Float64))
	acc := v.Accumulator()
	require.NotNil(t, acc)
	assert.Same(t, v, acc.Variable())

	acc.Expect(3)
	g := tensor.MustFromFloat64s([]float64{1, 2, 3}, tensor.Shape{3})
	require.NoError(t, acc.Accumulate(g))
	require.NoError(t, acc.Accumulate(nil))
	require.NoError(t, acc.Accumulate(g))
	assert.Equal(t, []float64{1, 2, 3}, g.Values(), "contributions are not modified")

	sum, err := acc.Finalize(true)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4, 6}, sum.Values())

	// Grad returns a copy.
	grad := acc.Grad()
	grad.Set(100, 0)
	assert.Equal(t, 2.0, acc.Grad().At(0))
}

func TestAccumulator_ShapeMismatch(t *testing.T) {
	v := leaf("v", tensor.Zeros(tensor.Shape{3}, tensor.Float64))
	err := v.Accumulator().Accumulate(tensor.Ones(tensor.Shape{2}, tensor.Float64))
	assert.Error(t, err)
	assert.Nil(t, v.Grad())
}

func TestAccumulator_Incomplete(t *testing.T) {
	v := leaf("weights", tensor.Zeros(tensor.Shape{2}, tensor.Float64))
	acc := v.Accumulator()
	acc.Expect(2)
	require.NoError(t, acc.Accumulate(tensor.Ones(tensor.Shape{2}, tensor.Float64)))

	_, err := acc.Finalize(true)
	var incomplete *autograd.IncompleteAccumulationError
	require.True(t, errors.As(err, &incomplete), "got %v", err)
	assert.Equal(t, "weights", incomplete.Variable)
	assert.Equal(t, 2, incomplete.Expected)
	assert.Equal(t, 1, incomplete.Received)

	// Without debug checks the partial sum is returned.
	sum, err := acc.Finalize(false)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1}, sum.Values())

	acc.Reset()
	_, err = acc.Finalize(true)
	assert.NoError(t, err)
	assert.Nil(t, acc.Grad())
}

func TestAccumulator_KeepsLeafDType(t *testing.T) {
	v := leaf("v", tensor.Zeros(tensor.Shape{2}, tensor.Float32))
	acc := v.Accumulator()
	require.NoError(t, acc.Accumulate(tensor.MustFromFloat64s([]float64{0.1, 0.2}, tensor.Shape{2})))
	require.NoError(t, acc.Accumulate(tensor.MustFromFloat64s([]float64{0.1, 0.2}, tensor.Shape{2})))
	got := acc.Grad()
	assert.Equal(t, tensor.Float32, got.DType())
	assert.InDeltaSlice(t, []float64{0.2, 0.4}, got.Values(), 1e-6)
}

func TestAccumulator_Concurrent(t *testing.T) {
	v := leaf("v", tensor.Zeros(tensor.Shape{4}, tensor.Float64))
	acc := v.Accumulator()
	const n = 64
	acc.Expect(n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, acc.Accumulate(tensor.Ones(tensor.Shape{4}, tensor.Float64)))
		}()
	}
	wg.Wait()
	sum, err := acc.Finalize(true)
	require.NoError(t, err)
	assert.Equal(t, []float64{n, n, n, n}, sum.Values())
}

func TestAccumulator_NotForNonLeaves(t *testing.T) {
	x := leaf("x", tensor.Ones(tensor.Shape{2}, tensor.Float64))
	y := apply1(t, op("Exp"), x)
	assert.Nil(t, y.Accumulator())
	assert.Nil(t, y.Grad())
	assert.Nil(t, autograd.NewVariable(tensor.Ones(tensor.Shape{2}, tensor.Float64), false).Accumulator())
}

func TestAccumulator_DebugChecksAcrossPasses(t *testing.T) {
	x := leaf("x", tensor.Ones(tensor.Shape{2}, tensor.Float64))
	for range 3 {
		y := apply1(t, op("Mul"), x, x)
		_, err := autograd.BackwardFrom(context.Background(), y, nil, autograd.WithDebugChecks(true))
		require.NoError(t, err)
	}
	assert.Equal(t, []float64{6, 6}, x.Grad().Values())
}
