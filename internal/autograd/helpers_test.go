package autograd_test

import (
	"math/rand/v2"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/autograd/internal/autograd"
	"github.com/born-ml/autograd/internal/tensor"
)

// op constructs a function through the binding contract.
func op(kind string, args ...any) autograd.Function {
	return must.M1(autograd.Construct(kind, args...))
}

// apply1 applies f and returns its single output.
func apply1(t *testing.T, f autograd.Function, inputs ...*autograd.Variable) *autograd.Variable {
	t.Helper()
	outs, err := f.Apply(inputs...)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	return outs[0]
}

func leaf(name string, data *tensor.Tensor) *autograd.Variable {
	return autograd.NewVariable(data, true).Named(name)
}

func randTensor(seed uint64, shape tensor.Shape, lo, hi float64) *tensor.Tensor {
	return tensor.Rand(shape, tensor.Float64, lo, hi, rand.New(rand.NewPCG(seed, seed+1)))
}
