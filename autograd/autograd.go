// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package autograd provides reverse-mode automatic differentiation over a
// dynamic computation graph.
//
// Applying a Function to Variables computes its outputs and records a
// backward Node linked to the nodes that produced the inputs. Backward then
// runs every node reachable from the given roots, once, as soon as all
// gradients for it have arrived, and sums the gradients of leaf Variables.
//
// Example:
//
//	import (
//	    "github.com/born-ml/autograd/autograd"
//	    "github.com/born-ml/autograd/tensor"
//	)
//
//	func main() {
//	    x := autograd.NewVariable(tensor.MustFromFloat64s([]float64{0.5, 1}, tensor.Shape{2}), true)
//	    sin, _ := autograd.Construct("Sin")
//	    y, _ := sin.Apply(x)
//
//	    grads, err := autograd.BackwardFrom(context.Background(), y[0], nil)
//	    // grads[x] holds cos(x)
//	}
package autograd

import (
	"context"

	"github.com/born-ml/autograd/internal/autograd"
	"github.com/born-ml/autograd/tensor"
)

// Graph types.
type (
	// Variable is a tensor taking part in the graph.
	Variable = autograd.Variable
	// Function is the forward side of a differentiable operation.
	Function = autograd.Function
	// InPlaceFunction is a Function that can overwrite its single input.
	InPlaceFunction = autograd.InPlaceFunction
	// Node is a backward graph vertex.
	Node = autograd.Node
	// Edge points at an output slot of a Node.
	Edge = autograd.Edge
	// Relation is the full form of an edge.
	Relation = autograd.Relation
	// Meta describes a tensor slot of a node.
	Meta = autograd.Meta
	// Accumulator sums the gradients of one leaf.
	Accumulator = autograd.Accumulator
)

// Registry types.
type (
	// Kind identifies a function or node type.
	Kind = autograd.Kind
	// KindInfo describes a registered kind.
	KindInfo = autograd.KindInfo
	// BatchNormParams are the parameters of BatchNorm.
	BatchNormParams = autograd.BatchNormParams
	// ConvParams are the parameters of ConvNd.
	ConvParams = autograd.ConvParams
	// PointwiseParams are the scalar parameters of pointwise kinds.
	PointwiseParams = autograd.PointwiseParams
)

// Engine types.
type (
	// Engine runs backward passes.
	Engine = autograd.Engine
	// Root seeds a backward pass.
	Root = autograd.Root
	// Gradients maps leaves to their gradient.
	Gradients = autograd.Gradients
	// Config controls a backward pass.
	Config = autograd.Config
	// Option modifies a Config.
	Option = autograd.Option
	// PassStats summarizes a backward pass.
	PassStats = autograd.PassStats
	// ReadyQueue orders the nodes ready to run.
	ReadyQueue = autograd.ReadyQueue
	// QueueFactory creates a ReadyQueue per pass.
	QueueFactory = autograd.QueueFactory
)

// Error types.
type (
	ArityError                  = autograd.ArityError
	TypeError                   = autograd.TypeError
	DeferredError               = autograd.DeferredError
	IncompleteAccumulationError = autograd.IncompleteAccumulationError
	UnreachableGradientError    = autograd.UnreachableGradientError
)

// Sentinel errors.
var (
	ErrUnknownKind      = autograd.ErrUnknownKind
	ErrNotConstructible = autograd.ErrNotConstructible
	ErrNoSuchField      = autograd.ErrNoSuchField
	ErrReleased         = autograd.ErrReleased
	ErrModifiedInPlace  = autograd.ErrModifiedInPlace
	ErrLeafInPlace      = autograd.ErrLeafInPlace
)

// Structured kinds. Pointwise kinds are listed by PointwiseKinds.
const (
	BatchNorm         = autograd.BatchNorm
	BatchNormBackward = autograd.BatchNormBackward
	ConvNd            = autograd.ConvNd
	ConvNdBackward    = autograd.ConvNdBackward
	AccumulateGrad    = autograd.AccumulateGrad
	Add               = autograd.Add
	AddBackward       = autograd.AddBackward
	Error             = autograd.Error
	DelayedError      = autograd.DelayedError
	Clone             = autograd.Clone
	Identity          = autograd.Identity
)

// NextFunctionsField is the attribute holding a node's outgoing edges.
const NextFunctionsField = autograd.NextFunctionsField

// NewVariable creates a leaf Variable.
func NewVariable(data *tensor.Tensor, requiresGrad bool) *Variable {
	return autograd.NewVariable(data, requiresGrad)
}

// Construct builds a Function of the named kind from positional arguments.
//
// Example:
//
//	conv, err := autograd.Construct("ConvNd",
//	    []int{1, 1}, []int{0, 0}, []int{1, 1}, false, []int{0, 0}, 1, false, false)
func Construct(kind string, args ...any) (Function, error) {
	return autograd.Construct(kind, args...)
}

// Lookup returns the registry entry of a kind.
func Lookup(kind string) (KindInfo, error) {
	return autograd.Lookup(kind)
}

// Kinds lists every registered kind.
func Kinds() []Kind {
	return autograd.Kinds()
}

// ConstructibleKinds lists the kinds accepted by Construct.
func ConstructibleKinds() []Kind {
	return autograd.ConstructibleKinds()
}

// PointwiseKinds lists the elementwise kinds.
func PointwiseKinds() []Kind {
	return autograd.PointwiseKinds()
}

// BackwardKind returns the node kind recorded by a function of kind k.
func BackwardKind(k Kind) Kind {
	return autograd.BackwardKind(k)
}

// NewConvNd returns a 1-D or 2-D convolution.
func NewConvNd(params ConvParams) Function {
	return autograd.NewConvNd(params)
}

// NewBatchNorm returns a batch normalization.
func NewBatchNorm(params BatchNormParams) Function {
	return autograd.NewBatchNorm(params)
}

// NewPointwise returns an elementwise function.
func NewPointwise(kind Kind, params PointwiseParams) (Function, error) {
	return autograd.NewPointwise(kind, params)
}

// NewAdd returns the Add function.
func NewAdd() Function { return autograd.NewAdd() }

// NewClone returns the Clone function.
func NewClone() Function { return autograd.NewClone() }

// NewIdentity returns the Identity function.
func NewIdentity() Function { return autograd.NewIdentity() }

// NewDelayedError returns a function whose backward fails with msg.
func NewDelayedError(msg string) Function { return autograd.NewDelayedError(msg) }

// NewErrorNode creates an Error node over inputs.
func NewErrorNode(msg string, inputs ...*Variable) *Node {
	return autograd.NewErrorNode(msg, inputs...)
}

// NewEngine returns an Engine with default pass options.
func NewEngine(opts ...Option) *Engine {
	return autograd.NewEngine(opts...)
}

// DefaultConfig returns the default pass configuration.
func DefaultConfig() Config {
	return autograd.DefaultConfig()
}

// RootOf returns the root seeding v with grad. A nil grad means ones.
func RootOf(v *Variable, grad *tensor.Tensor) Root {
	return autograd.RootOf(v, grad)
}

// Backward runs a pass from roots on the default engine.
func Backward(ctx context.Context, roots []Root, opts ...Option) (Gradients, error) {
	return autograd.Backward(ctx, roots, opts...)
}

// BackwardFrom runs a pass seeded at v on the default engine.
func BackwardFrom(ctx context.Context, v *Variable, grad *tensor.Tensor, opts ...Option) (Gradients, error) {
	return autograd.BackwardFrom(ctx, v, grad, opts...)
}

// Pass options.
var (
	WithRetainGraph = autograd.WithRetainGraph
	WithWorkers     = autograd.WithWorkers
	WithDebugChecks = autograd.WithDebugChecks
	WithInputs      = autograd.WithInputs
	WithAllowUnused = autograd.WithAllowUnused
	WithQueue       = autograd.WithQueue
	WithStats       = autograd.WithStats
)

// Ready queues.
var (
	NewPriorityQueue = autograd.NewPriorityQueue
	NewFIFOQueue     = autograd.NewFIFOQueue
	NewShuffledQueue = autograd.NewShuffledQueue
)
