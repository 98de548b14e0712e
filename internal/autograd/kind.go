// Package autograd implements a dynamic computation graph with reverse-mode
// automatic differentiation.
//
// Forward Functions applied to Variables grow a DAG of backward Nodes linked
// by Edges. An Engine executes that DAG from a set of root gradients, running
// every reachable node once its dependency count drops to zero and summing
// the gradients of leaves into their Accumulators.
//
// Functions are created either directly (NewConvNd, NewBatchNorm, ...) or
// through the binding contract Construct(kind, args...), which decodes a
// positional argument list. Both Functions and Nodes expose their captured
// parameters by field name through Attr.
package autograd

// Kind identifies a function or node type.
// Kinds are used for dispatch, registry lookup and error messages.
type Kind string

// Structured kinds.
const (
	BatchNorm         Kind = "BatchNorm"
	BatchNormBackward Kind = "BatchNormBackward"
	ConvNd            Kind = "ConvNd"
	ConvNdBackward    Kind = "ConvNdBackward"
	AccumulateGrad    Kind = "AccumulateGrad"
	Add               Kind = "Add"
	AddBackward       Kind = "AddBackward"
	Error             Kind = "Error"
	DelayedError      Kind = "DelayedError"
	Clone             Kind = "Clone"
	Identity          Kind = "Identity"
)

// Unary pointwise kinds.
const (
	Exp          Kind = "Exp"
	Log          Kind = "Log"
	Log1p        Kind = "Log1p"
	Tanh         Kind = "Tanh"
	Sigmoid      Kind = "Sigmoid"
	Sinh         Kind = "Sinh"
	Cosh         Kind = "Cosh"
	Abs          Kind = "Abs"
	Clamp        Kind = "Clamp"
	Sqrt         Kind = "Sqrt"
	Sin          Kind = "Sin"
	Cos          Kind = "Cos"
	Tan          Kind = "Tan"
	Asin         Kind = "Asin"
	Acos         Kind = "Acos"
	Atan         Kind = "Atan"
	Reciprocal   Kind = "Reciprocal"
	Rsqrt        Kind = "Rsqrt"
	CmaxConstant Kind = "CmaxConstant"
	CminConstant Kind = "CminConstant"
	Floor        Kind = "Floor"
	Ceil         Kind = "Ceil"
	Round        Kind = "Round"
	Sign         Kind = "Sign"
	Trunc        Kind = "Trunc"
	Frac         Kind = "Frac"
	Fmod         Kind = "Fmod"
	Remainder    Kind = "Remainder"
)

// Binary and ternary pointwise kinds.
const (
	Mul     Kind = "Mul"
	Div     Kind = "Div"
	Sub     Kind = "Sub"
	Cmax    Kind = "Cmax"
	Cmin    Kind = "Cmin"
	Lerp    Kind = "Lerp"
	Addcmul Kind = "Addcmul"
	Addcdiv Kind = "Addcdiv"
)

// BackwardKind returns the kind of the node created when a function of kind k
// is applied.
func BackwardKind(k Kind) Kind {
	switch k {
	case Clone, Identity:
		return Identity
	case DelayedError, Error:
		return Error
	case AccumulateGrad:
		return AccumulateGrad
	}
	return k + "Backward"
}

func (k Kind) String() string {
	return string(k)
}
