package cpu

import (
	"math"

	"github.com/pkg/errors"

	"github.com/born-ml/autograd/internal/parallel"
	"github.com/born-ml/autograd/internal/tensor"
)

// BatchNormState holds what the backward pass needs from a forward call.
type BatchNormState struct {
	Output *tensor.Tensor
	// Mean and InvStd are per channel [C]: the batch statistics in training
	// mode, the running statistics in evaluation mode.
	Mean   *tensor.Tensor
	InvStd *tensor.Tensor
}

// BatchNormForward normalizes input [N, C, ...] per channel.
//
// Training mode normalizes with the batch mean and biased variance and, when
// running statistics are given, updates them in place:
//
//	running = (1-momentum)*running + momentum*batch
//
// using the unbiased variance for running_var. Evaluation mode normalizes with
// the running statistics, which must then be present.
// Weight and bias are optional [C] tensors.
func (cpu *CPUBackend) BatchNormForward(input, weight, bias, runningMean, runningVar *tensor.Tensor,
	training bool, momentum, eps float64) (BatchNormState, error) {
	shape := input.Shape()
	if len(shape) < 2 {
		return BatchNormState{}, errors.Errorf("batch_norm: input must have rank >= 2, got shape %v", shape)
	}
	n, c := shape[0], shape[1]
	plane := shape.NumElements() / (n * c)
	m := n * plane
	for _, p := range []struct {
		name string
		t    *tensor.Tensor
	}{{"weight", weight}, {"bias", bias}, {"running_mean", runningMean}, {"running_var", runningVar}} {
		if p.t != nil && p.t.NumElements() != c {
			return BatchNormState{}, errors.Errorf("batch_norm: %s has %d elements, input has %d channels", p.name, p.t.NumElements(), c)
		}
	}
	if !training && (runningMean == nil || runningVar == nil) {
		return BatchNormState{}, errors.New("batch_norm: running_mean and running_var are required in evaluation mode")
	}
	if training && m <= 1 {
		return BatchNormState{}, errors.Errorf("batch_norm: expected more than 1 value per channel when training, got input shape %v", shape)
	}

	out := tensor.Zeros(shape, input.DType())
	mean := tensor.Zeros(tensor.Shape{c}, tensor.Float64)
	invStd := tensor.Zeros(tensor.Shape{c}, tensor.Float64)
	x, y := input.Data(), out.Data()

	parallel.For(c, cpu.parallel, func(ch int) {
		var mu, variance float64
		if training {
			for b := 0; b < n; b++ {
				for _, v := range x[(b*c+ch)*plane:][:plane] {
					mu += v
				}
			}
			mu /= float64(m)
			for b := 0; b < n; b++ {
				for _, v := range x[(b*c+ch)*plane:][:plane] {
					variance += (v - mu) * (v - mu)
				}
			}
			variance /= float64(m)
			if runningMean != nil {
				rm := runningMean.Data()
				rm[ch] = runningMean.DType().Round((1-momentum)*rm[ch] + momentum*mu)
			}
			if runningVar != nil {
				rv := runningVar.Data()
				unbiased := variance * float64(m) / float64(m-1)
				rv[ch] = runningVar.DType().Round((1-momentum)*rv[ch] + momentum*unbiased)
			}
		} else {
			mu = runningMean.Data()[ch]
			variance = runningVar.Data()[ch]
		}
		is := 1 / math.Sqrt(variance+eps)
		mean.Data()[ch], invStd.Data()[ch] = mu, is

		scale, shift := is, 0.0
		if weight != nil {
			scale *= weight.Data()[ch]
		}
		if bias != nil {
			shift = bias.Data()[ch]
		}
		for b := 0; b < n; b++ {
			off := (b*c + ch) * plane
			for i, v := range x[off:][:plane] {
				y[off+i] = (v-mu)*scale + shift
			}
		}
	})
	roundInPlace(out)
	return BatchNormState{Output: out, Mean: mean, InvStd: invStd}, nil
}

// BatchNormBackward returns the gradients for input, weight and bias.
// A nil weight is treated as ones; callers drop the affine gradients they do
// not need.
//
// Training mode differentiates through the batch statistics:
//
//	dx = w*invstd * (dy - mean(dy) - x̂*mean(dy*x̂))
//
// Evaluation mode treats the statistics as constants: dx = dy*w*invstd.
func (cpu *CPUBackend) BatchNormBackward(gradOut, input, weight *tensor.Tensor, state BatchNormState,
	training bool) (gradIn, gradWeight, gradBias *tensor.Tensor) {
	shape := input.Shape()
	n, c := shape[0], shape[1]
	plane := shape.NumElements() / (n * c)
	m := float64(n * plane)

	gradIn = tensor.Zeros(shape, tensor.Promote(gradOut.DType(), input.DType()))
	gw := tensor.Zeros(tensor.Shape{c}, input.DType())
	gb := tensor.Zeros(tensor.Shape{c}, input.DType())
	x, dy, dx := input.Data(), gradOut.Data(), gradIn.Data()

	parallel.For(c, cpu.parallel, func(ch int) {
		mu, is := state.Mean.Data()[ch], state.InvStd.Data()[ch]
		w := 1.0
		if weight != nil {
			w = weight.Data()[ch]
		}
		var sumG, sumGX float64
		for b := 0; b < n; b++ {
			off := (b*c + ch) * plane
			for i := 0; i < plane; i++ {
				g := dy[off+i]
				sumG += g
				sumGX += g * (x[off+i] - mu) * is
			}
		}
		gw.Data()[ch], gb.Data()[ch] = sumGX, sumG
		for b := 0; b < n; b++ {
			off := (b*c + ch) * plane
			for i := 0; i < plane; i++ {
				if training {
					xhat := (x[off+i] - mu) * is
					dx[off+i] = w * is * (dy[off+i] - sumG/m - xhat*sumGX/m)
				} else {
					dx[off+i] = dy[off+i] * w * is
				}
			}
		}
	})
	roundInPlace(gradIn)
	roundInPlace(gw)
	roundInPlace(gb)
	return gradIn, gw, gb
}
