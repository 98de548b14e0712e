package autograd

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/born-ml/autograd/internal/tensor"
)

// Accumulator sums the gradient contributions of one leaf Variable.
//
// The sum persists across backward passes until Reset, so a leaf's gradient
// after two passes is the sum of both. Expected and received counts are kept
// for the debug consistency check of Finalize when contributions are fed by
// hand; the Engine checks each pass against its own counts instead.
// An Accumulator is safe for concurrent use.
type Accumulator struct {
	mu       sync.Mutex
	variable *Variable
	sum      *tensor.Tensor

	expected, received int
}

func newAccumulator(v *Variable) *Accumulator {
	return &Accumulator{variable: v}
}

// Variable returns the leaf this accumulator belongs to.
func (a *Accumulator) Variable() *Variable {
	return a.variable
}

// Expect announces n more contributions.
func (a *Accumulator) Expect(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.expected += n
}

// Accumulate adds one contribution.
// A nil contribution counts as received but leaves the sum unchanged.
// The first non-nil contribution is copied rather than added to zeros.
func (a *Accumulator) Accumulate(grad *tensor.Tensor) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.received++
	if grad == nil {
		return nil
	}
	shape := a.variable.data.Shape()
	if !grad.Shape().Equal(shape) {
		return errors.Errorf("gradient of shape %v for %s of shape %v", grad.Shape(), a.variable, shape)
	}
	if a.sum == nil {
		a.sum = grad.AsType(a.variable.data.DType())
		return nil
	}
	tensor.AddInPlace(a.sum, grad)
	return nil
}

// Finalize returns the accumulated sum.
// With debug set it fails with *IncompleteAccumulationError if fewer
// contributions were received than expected.
func (a *Accumulator) Finalize(debug bool) (*tensor.Tensor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if debug && a.received < a.expected {
		return nil, &IncompleteAccumulationError{Variable: a.variable.String(), Expected: a.expected, Received: a.received}
	}
	return a.sum, nil
}

// Grad returns a copy of the current sum, or nil if nothing was accumulated.
func (a *Accumulator) Grad() *tensor.Tensor {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sum == nil {
		return nil
	}
	return a.sum.Clone()
}

// Reset drops the sum and the contribution counts.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sum = nil
	a.expected, a.received = 0, 0
}
