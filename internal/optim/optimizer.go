// Package optim implements optimization algorithms that consume the leaf
// gradients accumulated by the autograd engine.
//
// This package provides:
//   - Optimizer interface: Base interface for all optimizers
//   - SGD: Stochastic Gradient Descent with momentum and weight decay
//   - Adam: Adaptive Moment Estimation
//
// Example usage:
//
//	optimizer := optim.NewAdam(params, optim.AdamConfig{LR: 0.001})
//
//	for step := range steps {
//	    loss := forward(params)
//	    if _, err := autograd.BackwardFrom(ctx, loss, nil); err != nil {
//	        return err
//	    }
//	    if err := optimizer.Step(); err != nil {
//	        return err
//	    }
//	    optimizer.ZeroGrad()
//	}
package optim

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/born-ml/autograd/internal/autograd"
	"github.com/born-ml/autograd/internal/tensor"
)

// Optimizer is the base interface for all optimization algorithms.
//
// Step reads the accumulated gradient of every parameter and updates the
// parameter's data in place. Parameters without a gradient are skipped.
type Optimizer interface {
	// Step applies one update to all parameters.
	Step() error

	// ZeroGrad clears the accumulated gradients, so the next backward pass
	// starts from zero.
	ZeroGrad()

	// LR returns the current learning rate.
	LR() float64

	// SetLR updates the learning rate, for scheduling.
	SetLR(lr float64)

	// StateDict exports the optimizer buffers by name.
	StateDict() map[string]*tensor.Tensor

	// LoadStateDict restores buffers exported by StateDict.
	LoadStateDict(state map[string]*tensor.Tensor) error
}

var (
	_ Optimizer = (*SGD)(nil)
	_ Optimizer = (*Adam)(nil)
)

// checkParams verifies that every parameter is a leaf that requires grad.
func checkParams(params []*autograd.Variable) error {
	for i, p := range params {
		if p == nil || !p.IsLeaf() || !p.RequiresGrad() {
			return errors.Errorf("optim: parameter %d (%v) must be a leaf that requires grad", i, p)
		}
	}
	return nil
}

// update writes f(i, value, grad) over every element of param's data and
// marks param as modified.
func update(param *autograd.Variable, grad *tensor.Tensor, f func(i int, value, grad float64) float64) {
	data := param.Data()
	dtype := data.DType()
	values, grads := data.Data(), grad.Data()
	for i := range values {
		values[i] = dtype.Round(f(i, values[i], grads[i]))
	}
	param.MarkModified()
}

// buffer returns the named state buffer of parameter i, creating it with
// zeros on first use.
func buffer(buffers map[int]*tensor.Tensor, i int, param *autograd.Variable) *tensor.Tensor {
	b, ok := buffers[i]
	if !ok {
		b = tensor.Zeros(param.Data().Shape(), tensor.Float64)
		buffers[i] = b
	}
	return b
}

func exportBuffers(dst map[string]*tensor.Tensor, prefix string, buffers map[int]*tensor.Tensor) {
	for i, b := range buffers {
		dst[fmt.Sprintf("%s.%d", prefix, i)] = b.Clone()
	}
}

func importBuffers(src map[string]*tensor.Tensor, prefix string, params []*autograd.Variable) (map[int]*tensor.Tensor, error) {
	buffers := make(map[int]*tensor.Tensor)
	for i, p := range params {
		b, ok := src[fmt.Sprintf("%s.%d", prefix, i)]
		if !ok {
			continue
		}
		if !b.Shape().Equal(p.Data().Shape()) {
			return nil, errors.Errorf("optim: %s shape mismatch for parameter %d: expected %v, got %v",
				prefix, i, p.Data().Shape(), b.Shape())
		}
		buffers[i] = b.AsType(tensor.Float64)
	}
	return buffers, nil
}
