package cpu

import (
	"github.com/gomlx/exceptions"

	"github.com/born-ml/autograd/internal/tensor"
)

// ConvInputBackward computes ∂L/∂input of ConvForward.
//
// For a normal convolution this is the transposed convolution of gradOut
// with the weight; for a transposed convolution it is the plain correlation.
func (cpu *CPUBackend) ConvInputBackward(gradOut, weight *tensor.Tensor, inputShape tensor.Shape, g ConvGeometry) *tensor.Tensor {
	dtype := tensor.Promote(gradOut.DType(), weight.DType())
	gradIn := tensor.Zeros(inputShape, dtype)
	geom := g.lift()
	if !g.Transposed {
		t := newTaps(inputShape, gradOut.Shape(), weight.Shape(), geom)
		cpu.scatter(gradOut.Data(), weight.Data(), gradIn.Data(), t)
	} else {
		t := newTaps(gradOut.Shape(), inputShape, weight.Shape(), geom)
		cpu.correlate(gradOut.Data(), weight.Data(), gradIn.Data(), t)
	}
	roundInPlace(gradIn)
	return gradIn
}

// ConvWeightBackward computes ∂L/∂weight of ConvForward.
func (cpu *CPUBackend) ConvWeightBackward(input, gradOut *tensor.Tensor, weightShape tensor.Shape, g ConvGeometry) *tensor.Tensor {
	dtype := tensor.Promote(gradOut.DType(), input.DType())
	gradW := tensor.Zeros(weightShape, dtype)
	geom := g.lift()
	if !g.Transposed {
		t := newTaps(input.Shape(), gradOut.Shape(), weightShape, geom)
		cpu.weightGrad(input.Data(), gradOut.Data(), gradW.Data(), t)
	} else {
		t := newTaps(gradOut.Shape(), input.Shape(), weightShape, geom)
		cpu.weightGrad(gradOut.Data(), input.Data(), gradW.Data(), t)
	}
	roundInPlace(gradW)
	return gradW
}

// ConvBiasBackward computes ∂L/∂bias: gradOut summed over batch and space.
func (cpu *CPUBackend) ConvBiasBackward(gradOut *tensor.Tensor) *tensor.Tensor {
	return SumPerChannel(gradOut)
}

// SumPerChannel reduces a [N, C, ...] tensor to [C].
func SumPerChannel(t *tensor.Tensor) *tensor.Tensor {
	shape := t.Shape()
	if len(shape) < 2 {
		exceptions.Panicf("SumPerChannel: expected rank >= 2, got shape %v", shape)
	}
	n, c := shape[0], shape[1]
	plane := shape.NumElements() / (n * c)
	out := tensor.Zeros(tensor.Shape{c}, t.DType())
	data, dst := t.Data(), out.Data()
	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			for _, v := range data[(b*c+ch)*plane:][:plane] {
				dst[ch] += v
			}
		}
	}
	roundInPlace(out)
	return out
}
