package autograd

import "math"

// unaryOp is an elementwise function and its derivative, written in terms of
// the input x and the output y.
type unaryOp struct {
	f  func(x float64) float64
	df func(x, y float64) float64
}

var (
	expOp   = unaryOp{math.Exp, func(_, y float64) float64 { return y }}
	logOp   = unaryOp{math.Log, func(x, _ float64) float64 { return 1 / x }}
	log1pOp = unaryOp{math.Log1p, func(x, _ float64) float64 { return 1 / (1 + x) }}
	tanhOp  = unaryOp{math.Tanh, func(_, y float64) float64 { return 1 - y*y }}

	sigmoidOp = unaryOp{
		func(x float64) float64 { return 1 / (1 + math.Exp(-x)) },
		func(_, y float64) float64 { return y * (1 - y) },
	}

	sinhOp = unaryOp{math.Sinh, func(x, _ float64) float64 { return math.Cosh(x) }}
	coshOp = unaryOp{math.Cosh, func(x, _ float64) float64 { return math.Sinh(x) }}
	absOp  = unaryOp{math.Abs, func(x, _ float64) float64 { return sign(x) }}
	sqrtOp = unaryOp{math.Sqrt, func(_, y float64) float64 { return 0.5 / y }}
	sinOp  = unaryOp{math.Sin, func(x, _ float64) float64 { return math.Cos(x) }}
	cosOp  = unaryOp{math.Cos, func(x, _ float64) float64 { return -math.Sin(x) }}

	tanOp = unaryOp{math.Tan, func(x, _ float64) float64 {
		c := math.Cos(x)
		return 1 / (c * c)
	}}

	asinOp = unaryOp{math.Asin, func(x, _ float64) float64 { return 1 / math.Sqrt(1-x*x) }}
	acosOp = unaryOp{math.Acos, func(x, _ float64) float64 { return -1 / math.Sqrt(1-x*x) }}
	atanOp = unaryOp{math.Atan, func(x, _ float64) float64 { return 1 / (1 + x*x) }}

	reciprocalOp = unaryOp{
		func(x float64) float64 { return 1 / x },
		func(_, y float64) float64 { return -y * y },
	}
	rsqrtOp = unaryOp{
		func(x float64) float64 { return 1 / math.Sqrt(x) },
		func(_, y float64) float64 { return -0.5 * y * y * y },
	}

	// Rounding functions are piecewise constant.
	floorOp = unaryOp{math.Floor, constGrad(0)}
	ceilOp  = unaryOp{math.Ceil, constGrad(0)}
	roundOp = unaryOp{math.Round, constGrad(0)}
	signOp  = unaryOp{sign, constGrad(0)}
	truncOp = unaryOp{math.Trunc, constGrad(0)}
	fracOp  = unaryOp{func(x float64) float64 { return x - math.Trunc(x) }, constGrad(1)}
)

func clampOp(lo, hi float64) unaryOp {
	return unaryOp{
		func(x float64) float64 { return math.Min(math.Max(x, lo), hi) },
		func(x, _ float64) float64 { return indicator(x >= lo && x <= hi) },
	}
}

func cmaxConstantOp(c float64) unaryOp {
	return unaryOp{
		func(x float64) float64 { return math.Max(x, c) },
		func(x, _ float64) float64 { return indicator(x > c) },
	}
}

func cminConstantOp(c float64) unaryOp {
	return unaryOp{
		func(x float64) float64 { return math.Min(x, c) },
		func(x, _ float64) float64 { return indicator(x < c) },
	}
}

func fmodOp(divisor float64) unaryOp {
	return unaryOp{func(x float64) float64 { return math.Mod(x, divisor) }, constGrad(1)}
}

// remainderOp takes the sign of the divisor, unlike fmodOp.
func remainderOp(divisor float64) unaryOp {
	return unaryOp{func(x float64) float64 { return x - math.Floor(x/divisor)*divisor }, constGrad(1)}
}

// lookupUnary returns the unary op of kind, built from p where the kind has
// parameters.
func lookupUnary(kind Kind, p *PointwiseParams) (unaryOp, bool) {
	switch kind {
	case Exp:
		return expOp, true
	case Log:
		return logOp, true
	case Log1p:
		return log1pOp, true
	case Tanh:
		return tanhOp, true
	case Sigmoid:
		return sigmoidOp, true
	case Sinh:
		return sinhOp, true
	case Cosh:
		return coshOp, true
	case Abs:
		return absOp, true
	case Clamp:
		return clampOp(p.Min, p.Max), true
	case Sqrt:
		return sqrtOp, true
	case Sin:
		return sinOp, true
	case Cos:
		return cosOp, true
	case Tan:
		return tanOp, true
	case Asin:
		return asinOp, true
	case Acos:
		return acosOp, true
	case Atan:
		return atanOp, true
	case Reciprocal:
		return reciprocalOp, true
	case Rsqrt:
		return rsqrtOp, true
	case CmaxConstant:
		return cmaxConstantOp(p.Constant), true
	case CminConstant:
		return cminConstantOp(p.Constant), true
	case Floor:
		return floorOp, true
	case Ceil:
		return ceilOp, true
	case Round:
		return roundOp, true
	case Sign:
		return signOp, true
	case Trunc:
		return truncOp, true
	case Frac:
		return fracOp, true
	case Fmod:
		return fmodOp(p.Divisor), true
	case Remainder:
		return remainderOp(p.Divisor), true
	}
	return unaryOp{}, false
}
