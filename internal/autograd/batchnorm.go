package autograd

import (
	"github.com/born-ml/autograd/internal/backend/cpu"
	"github.com/born-ml/autograd/internal/tensor"
)

// NewBatchNorm returns the BatchNorm function.
//
// Inputs are (input [N, C, ...], weight [C], bias [C]); weight and bias may be
// nil or omitted. The backward node is a BatchNormBackward exposing the same
// fields.
func NewBatchNorm(params BatchNormParams) Function {
	p := &params
	return &function{
		kind:      BatchNorm,
		fields:    p.fields(),
		minInputs: 1, maxInputs: 3, required: 1,
		forward:   p.forward,
	}
}

// saved layout: input, weight, mean, invstd.
func (bp *BatchNormParams) forward(in []*tensor.Tensor) (forwardResult, error) {
	input, weight, bias := in[0], optionalInput(in, 1), optionalInput(in, 2)
	state, err := kernels.BatchNormForward(input, weight, bias, bp.RunningMean, bp.RunningVar,
		bp.Training, bp.Momentum, bp.Eps)
	if err != nil {
		return forwardResult{}, err
	}
	training := bp.Training
	return forwardResult{
		outputs: []*tensor.Tensor{state.Output},
		saved:   []*tensor.Tensor{input, weight, state.Mean, state.InvStd},
		backward: func(saved, g []*tensor.Tensor) ([]*tensor.Tensor, error) {
			st := cpu.BatchNormState{Mean: saved[2], InvStd: saved[3]}
			gradIn, gradWeight, gradBias := kernels.BatchNormBackward(g[0], saved[0], saved[1], st, training)
			return []*tensor.Tensor{gradIn, gradWeight, gradBias}[:len(in)], nil
		},
	}, nil
}

func optionalInput(in []*tensor.Tensor, i int) *tensor.Tensor {
	if i < len(in) {
		return in[i]
	}
	return nil
}
