package gradcheck

import (
	"fmt"
	"math/rand/v2"

	"github.com/pkg/errors"

	"github.com/born-ml/autograd/internal/autograd"
	"github.com/born-ml/autograd/internal/tensor"
)

// Case is a function together with inputs it can be checked on.
type Case struct {
	Name     string
	Function autograd.Function
	Inputs   []*autograd.Variable
}

// pointwiseArgs are the construction arguments of parameterized pointwise
// kinds. Other pointwise kinds take none.
var pointwiseArgs = map[autograd.Kind][]any{
	autograd.Clamp:        {-0.5, 0.5},
	autograd.CmaxConstant: {0.1},
	autograd.CminConstant: {-0.1},
	autograd.Fmod:         {1.5},
	autograd.Remainder:    {1.5},
	autograd.Lerp:         {0.3},
	autograd.Addcmul:      {0.5},
	autograd.Addcdiv:      {-0.7},
}

// domain returns the sampling interval of input i of a pointwise kind.
func domain(kind autograd.Kind, i int) (lo, hi float64) {
	switch {
	case kind == autograd.Log, kind == autograd.Sqrt, kind == autograd.Rsqrt,
		kind == autograd.Reciprocal, kind == autograd.Log1p:
		return 0.5, 2
	case kind == autograd.Asin, kind == autograd.Acos:
		return -0.9, 0.9
	case kind == autograd.Tan:
		return -1, 1
	case kind == autograd.Div && i == 1, kind == autograd.Addcdiv && i == 2:
		return 0.5, 2
	}
	return -2, 2
}

// StandardCases returns one check case per differentiable kind and
// configuration: every pointwise kind, normal, grouped, transposed and 1-D
// convolutions, BatchNorm in training and evaluation mode, Add, Clone and
// Identity. Functions are built through Construct where the kind allows it.
func StandardCases(rng *rand.Rand) ([]Case, error) {
	leaf := func(name string, shape tensor.Shape, lo, hi float64) *autograd.Variable {
		return autograd.NewVariable(tensor.Rand(shape, tensor.Float64, lo, hi, rng), true).Named(name)
	}

	var cases []Case
	for _, kind := range autograd.PointwiseKinds() {
		f, err := autograd.Construct(string(kind), pointwiseArgs[kind]...)
		if err != nil {
			return nil, errors.WithMessagef(err, "building %s case", kind)
		}
		inputs := make([]*autograd.Variable, autograd.PointwiseArity(kind))
		for i := range inputs {
			lo, hi := domain(kind, i)
			inputs[i] = leaf(fmt.Sprintf("in%d", i), tensor.Shape{2, 3}, lo, hi)
		}
		cases = append(cases, Case{Name: string(kind), Function: f, Inputs: inputs})
	}

	convs := []struct {
		name                string
		args                []any
		input, weight, bias tensor.Shape
	}{
		{
			"ConvNd/2d_grouped_strided",
			[]any{[]int{2, 2}, []int{1, 1}, []int{1, 1}, false, []int{0, 0}, 2, false, false},
			tensor.Shape{2, 4, 5, 5}, tensor.Shape{6, 2, 3, 3}, tensor.Shape{6},
		},
		{
			"ConvNd/2d_transposed",
			[]any{[]int{2, 2}, []int{1, 1}, []int{1, 1}, true, []int{1, 1}, 2, false, false},
			tensor.Shape{1, 4, 3, 3}, tensor.Shape{4, 1, 3, 3}, tensor.Shape{2},
		},
		{
			"ConvNd/1d_dilated",
			[]any{[]int{1}, []int{2}, []int{2}, false, []int{0}, 1, false, false},
			tensor.Shape{2, 2, 7}, tensor.Shape{3, 2, 3}, tensor.Shape{3},
		},
	}
	for _, c := range convs {
		f, err := autograd.Construct(string(autograd.ConvNd), c.args...)
		if err != nil {
			return nil, errors.WithMessagef(err, "building %s case", c.name)
		}
		cases = append(cases, Case{Name: c.name, Function: f, Inputs: []*autograd.Variable{
			leaf("input", c.input, -1, 1), leaf("weight", c.weight, -1, 1), leaf("bias", c.bias, -1, 1),
		}})
	}

	bnShape := tensor.Shape{4, 3, 2, 2}
	for _, training := range []bool{true, false} {
		runningMean := tensor.Rand(tensor.Shape{3}, tensor.Float64, -0.5, 0.5, rng)
		runningVar := tensor.Rand(tensor.Shape{3}, tensor.Float64, 0.5, 1.5, rng)
		f, err := autograd.Construct(string(autograd.BatchNorm), runningMean, runningVar, training, 0.1, 1e-5, false)
		if err != nil {
			return nil, errors.WithMessage(err, "building BatchNorm case")
		}
		name := "BatchNorm/eval"
		if training {
			name = "BatchNorm/training"
		}
		cases = append(cases, Case{Name: name, Function: f, Inputs: []*autograd.Variable{
			leaf("input", bnShape, -2, 2), leaf("weight", tensor.Shape{3}, 0.5, 1.5), leaf("bias", tensor.Shape{3}, -1, 1),
		}})
	}

	for _, f := range []autograd.Function{autograd.NewAdd(), autograd.NewClone(), autograd.NewIdentity()} {
		inputs := []*autograd.Variable{leaf("a", tensor.Shape{3}, -1, 1)}
		if f.Kind() == autograd.Add {
			inputs = append(inputs, leaf("b", tensor.Shape{3}, -1, 1))
		}
		cases = append(cases, Case{Name: string(f.Kind()), Function: f, Inputs: inputs})
	}
	return cases, nil
}
