package tensor

import (
	"math"

	"github.com/gomlx/exceptions"
)

// checkSameShape panics if a and b differ in shape.
func checkSameShape(op string, a, b *Tensor) {
	if !a.shape.Equal(b.shape) {
		exceptions.Panicf("%s: shape mismatch %v vs %v", op, a.shape, b.shape)
	}
}

// Map applies f element-wise and returns a new tensor of the same type.
func Map(t *Tensor, f func(float64) float64) *Tensor {
	out := &Tensor{shape: t.shape.Clone(), dtype: t.dtype, data: make([]float64, len(t.data))}
	for i, v := range t.data {
		out.data[i] = t.dtype.Round(f(v))
	}
	return out
}

// Zip applies f element-wise over two tensors of equal shape.
// The result has the wider of the two data types.
func Zip(a, b *Tensor, f func(x, y float64) float64) *Tensor {
	checkSameShape("tensor.Zip", a, b)
	dtype := Promote(a.dtype, b.dtype)
	out := &Tensor{shape: a.shape.Clone(), dtype: dtype, data: make([]float64, len(a.data))}
	for i := range a.data {
		out.data[i] = dtype.Round(f(a.data[i], b.data[i]))
	}
	return out
}

// Zip3 applies f element-wise over three tensors of equal shape.
func Zip3(a, b, c *Tensor, f func(x, y, z float64) float64) *Tensor {
	checkSameShape("tensor.Zip3", a, b)
	checkSameShape("tensor.Zip3", a, c)
	dtype := Promote(Promote(a.dtype, b.dtype), c.dtype)
	out := &Tensor{shape: a.shape.Clone(), dtype: dtype, data: make([]float64, len(a.data))}
	for i := range a.data {
		out.data[i] = dtype.Round(f(a.data[i], b.data[i], c.data[i]))
	}
	return out
}

// Add returns a + b.
func Add(a, b *Tensor) *Tensor {
	return Zip(a, b, func(x, y float64) float64 { return x + y })
}

// Sub returns a - b.
func Sub(a, b *Tensor) *Tensor {
	return Zip(a, b, func(x, y float64) float64 { return x - y })
}

// Mul returns a * b element-wise.
func Mul(a, b *Tensor) *Tensor {
	return Zip(a, b, func(x, y float64) float64 { return x * y })
}

// Div returns a / b element-wise.
func Div(a, b *Tensor) *Tensor {
	return Zip(a, b, func(x, y float64) float64 { return x / y })
}

// Neg returns -t.
func Neg(t *Tensor) *Tensor {
	return Map(t, func(x float64) float64 { return -x })
}

// Scale returns t * s.
func Scale(t *Tensor, s float64) *Tensor {
	return Map(t, func(x float64) float64 { return x * s })
}

// AddScalar returns t + s.
func AddScalar(t *Tensor, s float64) *Tensor {
	return Map(t, func(x float64) float64 { return x + s })
}

// AddInPlace adds src into dst. It is the only accumulation primitive that
// avoids allocating a new buffer.
func AddInPlace(dst, src *Tensor) {
	checkSameShape("tensor.AddInPlace", dst, src)
	for i, v := range src.data {
		dst.data[i] = dst.dtype.Round(dst.data[i] + v)
	}
}

// Sum returns the sum of all elements.
func Sum(t *Tensor) float64 {
	var s float64
	for _, v := range t.data {
		s += v
	}
	return s
}

// Dot returns the sum of a*b over all elements.
func Dot(a, b *Tensor) float64 {
	checkSameShape("tensor.Dot", a, b)
	var s float64
	for i := range a.data {
		s += a.data[i] * b.data[i]
	}
	return s
}

// MaxAbsDiff returns max |a-b| over all elements.
func MaxAbsDiff(a, b *Tensor) float64 {
	checkSameShape("tensor.MaxAbsDiff", a, b)
	var m float64
	for i := range a.data {
		m = math.Max(m, math.Abs(a.data[i]-b.data[i]))
	}
	return m
}

// AllClose reports whether |a-b| <= atol + rtol*|b| element-wise.
// Tensors of different shapes are never close.
func AllClose(a, b *Tensor, rtol, atol float64) bool {
	if !a.shape.Equal(b.shape) {
		return false
	}
	for i := range a.data {
		if math.Abs(a.data[i]-b.data[i]) > atol+rtol*math.Abs(b.data[i]) {
			return false
		}
	}
	return true
}

// IsZero reports whether every element is zero.
func IsZero(t *Tensor) bool {
	for _, v := range t.data {
		if v != 0 {
			return false
		}
	}
	return true
}
