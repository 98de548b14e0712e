package autograd

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/born-ml/autograd/internal/tensor"
)

// Variable is a tensor taking part in the graph.
//
// A Variable produced by a Function records the backward Node and output
// slot that created it. A Variable with no producer is a leaf; leaves that
// require grad get an AccumulateGrad node on first use, and the *Variable
// itself is the leaf identity in Gradients.
type Variable struct {
	data         *tensor.Tensor
	requiresGrad bool
	name         string

	node *Node
	slot int

	// version counts in-place modifications of data. Variables that view the
	// same tensor share one counter.
	version *atomic.Uint64

	accOnce sync.Once
	accNode *Node
}

// NewVariable creates a leaf Variable.
func NewVariable(data *tensor.Tensor, requiresGrad bool) *Variable {
	return &Variable{data: data, requiresGrad: requiresGrad, version: new(atomic.Uint64)}
}

// Named sets the name used in logs and errors and returns v.
func (v *Variable) Named(name string) *Variable {
	v.name = name
	return v
}

// Name returns the variable name, possibly empty.
func (v *Variable) Name() string {
	return v.name
}

// Data returns the underlying tensor.
func (v *Variable) Data() *tensor.Tensor {
	return v.data
}

// RequiresGrad reports whether gradients flow to v.
func (v *Variable) RequiresGrad() bool {
	return v.requiresGrad
}

// IsLeaf reports whether v was not produced by a recorded Function.
func (v *Variable) IsLeaf() bool {
	return v.node == nil
}

// GradFn returns the node that produced v, nil for leaves.
func (v *Variable) GradFn() *Node {
	return v.node
}

// OutputSlot returns the output slot of GradFn that produced v.
func (v *Variable) OutputSlot() int {
	return v.slot
}

// Version returns the number of in-place modifications applied to v.
func (v *Variable) Version() uint64 {
	return v.version.Load()
}

// MarkModified records that v's data was changed in place outside a Function,
// for instance by an optimizer step. Nodes that saved the previous contents
// fail with ErrModifiedInPlace.
func (v *Variable) MarkModified() {
	v.version.Add(1)
}

// Grad returns the gradient accumulated so far for a leaf, or nil.
func (v *Variable) Grad() *tensor.Tensor {
	if acc := v.Accumulator(); acc != nil {
		return acc.Grad()
	}
	return nil
}

// ZeroGrad drops the accumulated gradient of a leaf.
func (v *Variable) ZeroGrad() {
	if acc := v.Accumulator(); acc != nil {
		acc.Reset()
	}
}

// Accumulator returns the gradient accumulator of a leaf requiring grad,
// nil otherwise.
func (v *Variable) Accumulator() *Accumulator {
	if node := v.accumulatorNode(); node != nil {
		return node.acc
	}
	return nil
}

// Detach returns a new leaf sharing v's data that does not require grad.
// In-place changes made through the result are visible in v's version.
func (v *Variable) Detach() *Variable {
	return &Variable{data: v.data, version: v.version}
}

// String returns the name, or a description of the shape.
func (v *Variable) String() string {
	if v.name != "" {
		return v.name
	}
	return fmt.Sprintf("Variable%v", v.data.Shape())
}

// accumulatorNode returns the AccumulateGrad node of a leaf that requires
// grad, creating it on first use.
func (v *Variable) accumulatorNode() *Node {
	if v.node != nil || !v.requiresGrad {
		return nil
	}
	v.accOnce.Do(func() {
		v.accNode = newAccumulateGradNode(v)
	})
	return v.accNode
}

// gradEdge returns where gradients for v must be sent. The edge is invalid
// when v does not require grad.
func (v *Variable) gradEdge() Edge {
	if v == nil || !v.requiresGrad {
		return Edge{}
	}
	if v.node != nil {
		return Edge{Node: v.node, Slot: v.slot}
	}
	return Edge{Node: v.accumulatorNode()}
}
