// Package gradcheck compares the gradients computed by the backward engine
// with central finite differences of the forward functions.
package gradcheck

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/autograd/internal/autograd"
	"github.com/born-ml/autograd/internal/tensor"
)

// Options configures a check. An element passes when
// |analytic - numeric| <= Atol + Rtol*|numeric|.
type Options struct {
	Eps  float64
	Atol float64
	Rtol float64
}

// DefaultOptions are suitable for Float64 inputs.
func DefaultOptions() Options {
	return Options{Eps: 1e-6, Atol: 1e-5, Rtol: 1e-3}
}

// InputResult is the outcome for one input that requires grad.
type InputResult struct {
	Index     int
	Name      string
	Elements  int
	MaxAbsErr float64
	Failures  int
}

// Report is the outcome of Check.
type Report struct {
	Kind   autograd.Kind
	Inputs []InputResult
}

// Passed reports whether every checked element was within tolerance.
func (r Report) Passed() bool {
	for _, in := range r.Inputs {
		if in.Failures > 0 {
			return false
		}
	}
	return true
}

// Elements returns the total number of checked elements.
func (r Report) Elements() int {
	total := 0
	for _, in := range r.Inputs {
		total += in.Elements
	}
	return total
}

// MaxAbsErr returns the largest error over all inputs.
func (r Report) MaxAbsErr() float64 {
	var m float64
	for _, in := range r.Inputs {
		m = math.Max(m, in.MaxAbsErr)
	}
	return m
}

// Check differentiates the scalar L = sum_k <p_k, out_k>, where out_k are
// the outputs of f applied to inputs and p_k are random projections drawn
// from rng.
//
// The analytic gradient is obtained with one backward pass seeded with the
// projections. The numeric gradient perturbs the inputs' data in place, one
// element at a time, and restores it afterwards; inputs must not be shared
// with concurrent computations while Check runs. Stateful functions such as
// BatchNorm in training mode update their running statistics on every
// evaluation.
func Check(ctx context.Context, f autograd.Function, inputs []*autograd.Variable, rng *rand.Rand, opts Options) (Report, error) {
	report := Report{Kind: f.Kind()}
	var wrt []*autograd.Variable
	for _, in := range inputs {
		if in != nil && in.RequiresGrad() {
			if !in.IsLeaf() {
				return report, errors.Errorf("gradcheck %s: input %s is not a leaf", f.Kind(), in)
			}
			wrt = append(wrt, in)
		}
	}
	if len(wrt) == 0 {
		return report, errors.Errorf("gradcheck %s: no input requires grad", f.Kind())
	}

	outs, err := f.Apply(inputs...)
	if err != nil {
		return report, errors.WithMessagef(err, "gradcheck %s forward", f.Kind())
	}
	projections := make([]*tensor.Tensor, len(outs))
	var roots []autograd.Root
	for k, out := range outs {
		projections[k] = tensor.Rand(out.Data().Shape(), tensor.Float64, -1, 1, rng)
		if out.RequiresGrad() {
			roots = append(roots, autograd.RootOf(out, projections[k].AsType(out.Data().DType())))
		}
	}

	for _, v := range wrt {
		v.ZeroGrad()
	}
	grads, err := autograd.Backward(ctx, roots, autograd.WithInputs(wrt...), autograd.WithAllowUnused(true))
	if err != nil {
		return report, errors.WithMessagef(err, "gradcheck %s backward", f.Kind())
	}

	detached := make([]*autograd.Variable, len(inputs))
	for i, in := range inputs {
		if in != nil {
			detached[i] = in.Detach()
		}
	}
	loss := func() (float64, error) {
		outs, err := f.Apply(detached...)
		if err != nil {
			return 0, err
		}
		var l float64
		for k, out := range outs {
			l += tensor.Dot(projections[k], out.Data())
		}
		return l, nil
	}

	for i, in := range inputs {
		if in == nil || !in.RequiresGrad() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, errors.WithStack(err)
		}
		analytic := grads[in]
		if analytic == nil {
			analytic = tensor.ZerosLike(in.Data())
		}
		res := InputResult{Index: i, Name: in.String(), Elements: in.Data().NumElements()}
		data := in.Data().Data()
		for j := range data {
			orig := data[j]
			data[j] = orig + opts.Eps
			plus, err := loss()
			if err == nil {
				data[j] = orig - opts.Eps
				var minus float64
				minus, err = loss()
				plus -= minus
			}
			data[j] = orig
			if err != nil {
				return report, errors.WithMessagef(err, "gradcheck %s numeric forward", f.Kind())
			}
			numeric := plus / (2 * opts.Eps)
			diff := math.Abs(analytic.Data()[j] - numeric)
			res.MaxAbsErr = math.Max(res.MaxAbsErr, diff)
			if diff > opts.Atol+opts.Rtol*math.Abs(numeric) {
				res.Failures++
				klog.V(2).Infof("gradcheck %s input %d element %d: analytic %g, numeric %g",
					f.Kind(), i, j, analytic.Data()[j], numeric)
			}
		}
		report.Inputs = append(report.Inputs, res)
	}
	klog.V(1).Infof("gradcheck %s: %d elements, max error %.3g, passed=%t",
		f.Kind(), report.Elements(), report.MaxAbsErr(), report.Passed())
	return report, nil
}
