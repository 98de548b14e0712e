package autograd

import (
	"github.com/pkg/errors"

	"github.com/born-ml/autograd/internal/tensor"
)

func constGrad(c float64) func(x, y float64) float64 {
	return func(_, _ float64) float64 { return c }
}

func indicator(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}

// PointwiseKinds lists every pointwise kind: unary ones first, then binary,
// then ternary.
func PointwiseKinds() []Kind {
	return []Kind{
		Exp, Log, Log1p, Tanh, Sigmoid, Sinh, Cosh, Abs, Clamp, Sqrt, Sin, Cos, Tan, Asin, Acos, Atan,
		Reciprocal, Rsqrt, CmaxConstant, CminConstant, Floor, Ceil, Round, Sign, Trunc, Frac, Fmod, Remainder,
		Mul, Div, Sub, Cmax, Cmin, Lerp,
		Addcmul, Addcdiv,
	}
}

// PointwiseArity returns the number of tensor inputs of a pointwise kind,
// 0 if kind is not pointwise.
func PointwiseArity(kind Kind) int {
	var p PointwiseParams
	if _, ok := lookupUnary(kind, &p); ok {
		return 1
	}
	if _, ok := lookupBinary(kind, &p); ok {
		return 2
	}
	if _, ok := lookupTernary(kind, &p); ok {
		return 3
	}
	return 0
}

// NewPointwise returns the pointwise function of the given kind. Params
// supplies the scalars named by the kind's fields and is ignored otherwise.
// All inputs must share one shape; there is no broadcasting.
func NewPointwise(kind Kind, params PointwiseParams) (Function, error) {
	p := &params
	f := &function{kind: kind, fields: p.fields(kind)}
	if op, ok := lookupUnary(kind, p); ok {
		f.minInputs, f.maxInputs, f.required = 1, 1, 1
		f.forward = op.forward
		f.inPlace = true
		return f, nil
	}
	if op, ok := lookupBinary(kind, p); ok {
		f.minInputs, f.maxInputs, f.required = 2, 2, 2
		f.forward = op.forward(kind)
		return f, nil
	}
	if op, ok := lookupTernary(kind, p); ok {
		f.minInputs, f.maxInputs, f.required = 3, 3, 3
		f.forward = op.forward(kind)
		return f, nil
	}
	return nil, errors.Wrapf(ErrUnknownKind, "%q is not a pointwise kind", kind)
}

// saved layout: x, y.
func (op unaryOp) forward(in []*tensor.Tensor) (forwardResult, error) {
	x := in[0]
	y := tensor.Map(x, op.f)
	return forwardResult{
		outputs:  []*tensor.Tensor{y},
		saved:    []*tensor.Tensor{x, y},
		backward: op.backward,
	}, nil
}

func (op unaryOp) backward(saved, g []*tensor.Tensor) ([]*tensor.Tensor, error) {
	gx := tensor.Zip3(g[0], saved[0], saved[1], func(g, x, y float64) float64 {
		return g * op.df(x, y)
	})
	return []*tensor.Tensor{gx}, nil
}

// saved layout: a, b.
func (op binaryOp) forward(kind Kind) forwardFunc {
	return func(in []*tensor.Tensor) (forwardResult, error) {
		if err := sameShape(kind, in); err != nil {
			return forwardResult{}, err
		}
		return forwardResult{
			outputs:  []*tensor.Tensor{tensor.Zip(in[0], in[1], op.f)},
			saved:    []*tensor.Tensor{in[0], in[1]},
			backward: op.backward,
		}, nil
	}
}

func (op binaryOp) backward(saved, g []*tensor.Tensor) ([]*tensor.Tensor, error) {
	a, b := saved[0], saved[1]
	ga := tensor.Zip3(g[0], a, b, func(g, a, b float64) float64 { return g * op.da(a, b) })
	gb := tensor.Zip3(g[0], a, b, func(g, a, b float64) float64 { return g * op.db(a, b) })
	return []*tensor.Tensor{ga, gb}, nil
}

// saved layout: t1, t2.
func (op ternaryOp) forward(kind Kind) forwardFunc {
	return func(in []*tensor.Tensor) (forwardResult, error) {
		if err := sameShape(kind, in); err != nil {
			return forwardResult{}, err
		}
		out := tensor.Zip3(in[0], in[1], in[2], func(a, t1, t2 float64) float64 {
			return a + op.scale*op.h(t1, t2)
		})
		return forwardResult{
			outputs:  []*tensor.Tensor{out},
			saved:    []*tensor.Tensor{in[1], in[2]},
			backward: op.backward,
		}, nil
	}
}

func (op ternaryOp) backward(saved, g []*tensor.Tensor) ([]*tensor.Tensor, error) {
	t1, t2 := saved[0], saved[1]
	g1 := tensor.Zip3(g[0], t1, t2, func(g, t1, t2 float64) float64 { return g * op.scale * op.dt1(t1, t2) })
	g2 := tensor.Zip3(g[0], t1, t2, func(g, t1, t2 float64) float64 { return g * op.scale * op.dt2(t1, t2) })
	return []*tensor.Tensor{g[0], g1, g2}, nil
}
