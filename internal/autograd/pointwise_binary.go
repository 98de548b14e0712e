package autograd

import "math"

// binaryOp is an elementwise function of two inputs and its partial
// derivatives.
type binaryOp struct {
	f      func(a, b float64) float64
	da, db func(a, b float64) float64
}

var (
	mulOp = binaryOp{
		func(a, b float64) float64 { return a * b },
		func(_, b float64) float64 { return b },
		func(a, _ float64) float64 { return a },
	}

	divOp = binaryOp{
		func(a, b float64) float64 { return a / b },
		func(_, b float64) float64 { return 1 / b },
		func(a, b float64) float64 { return -a / (b * b) },
	}

	subOp = binaryOp{
		func(a, b float64) float64 { return a - b },
		constGrad(1),
		constGrad(-1),
	}

	// Ties send the gradient to the second input.
	cmaxOp = binaryOp{
		math.Max,
		func(a, b float64) float64 { return indicator(a > b) },
		func(a, b float64) float64 { return indicator(a <= b) },
	}
	cminOp = binaryOp{
		math.Min,
		func(a, b float64) float64 { return indicator(a < b) },
		func(a, b float64) float64 { return indicator(a >= b) },
	}
)

func lerpOp(weight float64) binaryOp {
	return binaryOp{
		func(a, b float64) float64 { return a + weight*(b-a) },
		constGrad(1 - weight),
		constGrad(weight),
	}
}

func lookupBinary(kind Kind, p *PointwiseParams) (binaryOp, bool) {
	switch kind {
	case Mul:
		return mulOp, true
	case Div:
		return divOp, true
	case Sub:
		return subOp, true
	case Cmax:
		return cmaxOp, true
	case Cmin:
		return cminOp, true
	case Lerp:
		return lerpOp(p.Weight), true
	}
	return binaryOp{}, false
}

// ternaryOp computes out = a + scale*h(t1, t2) with the partials of h.
type ternaryOp struct {
	h        func(t1, t2 float64) float64
	dt1, dt2 func(t1, t2 float64) float64
	scale    float64
}

func addcmulOp(scale float64) ternaryOp {
	return ternaryOp{
		func(t1, t2 float64) float64 { return t1 * t2 },
		func(_, t2 float64) float64 { return t2 },
		func(t1, _ float64) float64 { return t1 },
		scale,
	}
}

func addcdivOp(scale float64) ternaryOp {
	return ternaryOp{
		func(t1, t2 float64) float64 { return t1 / t2 },
		func(_, t2 float64) float64 { return 1 / t2 },
		func(t1, t2 float64) float64 { return -t1 / (t2 * t2) },
		scale,
	}
}

func lookupTernary(kind Kind, p *PointwiseParams) (ternaryOp, bool) {
	switch kind {
	case Addcmul:
		return addcmulOp(p.Scale), true
	case Addcdiv:
		return addcdivOp(p.Scale), true
	}
	return ternaryOp{}, false
}
