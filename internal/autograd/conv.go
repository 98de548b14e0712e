package autograd

import (
	"github.com/pkg/errors"

	"github.com/born-ml/autograd/internal/backend/cpu"
	"github.com/born-ml/autograd/internal/tensor"
)

// NewConvNd returns the ConvNd function for 1-D and 2-D, normal or transposed
// convolution.
//
// Inputs are (input, weight, bias) with bias optional. Weight layout is
// [C_out, C_in/groups, k...] for a normal convolution and
// [C_in, C_out/groups, k...] for a transposed one. The geometry is validated
// on Apply.
func NewConvNd(params ConvParams) Function {
	p := params.clone()
	return &function{
		kind:      ConvNd,
		fields:    p.fields(),
		minInputs: 2, maxInputs: 3, required: 2,
		forward:   p.forward,
	}
}

// saved layout: input, weight.
func (cp *ConvParams) forward(in []*tensor.Tensor) (forwardResult, error) {
	input, weight, bias := in[0], in[1], optionalInput(in, 2)
	geom := cp.geometry()
	outShape, err := cpu.ConvOutputShape(input.Shape(), weight.Shape(), geom)
	if err != nil {
		return forwardResult{}, err
	}
	if bias != nil && (bias.Shape().Rank() != 1 || bias.NumElements() != outShape[1]) {
		return forwardResult{}, errors.Errorf("conv: bias shape %v does not match %d output channels", bias.Shape(), outShape[1])
	}
	hasBias := len(in) > 2
	return forwardResult{
		outputs: []*tensor.Tensor{kernels.ConvForward(input, weight, bias, geom)},
		saved:   []*tensor.Tensor{input, weight},
		backward: func(saved, g []*tensor.Tensor) ([]*tensor.Tensor, error) {
			x, w := saved[0], saved[1]
			grads := []*tensor.Tensor{
				kernels.ConvInputBackward(g[0], w, x.Shape(), geom),
				kernels.ConvWeightBackward(x, g[0], w.Shape(), geom),
			}
			if hasBias {
				grads = append(grads, kernels.ConvBiasBackward(g[0]))
			}
			return grads, nil
		},
	}, nil
}
