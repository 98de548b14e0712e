// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"math/rand/v2"

	"github.com/born-ml/autograd/internal/tensor"
)

// Tensor is a dense row-major array.
type Tensor = tensor.Tensor

// Shape represents the dimensions of a tensor.
// Example: Shape{2, 3, 4} represents a 3D tensor with dimensions 2×3×4.
type Shape = tensor.Shape

// DataType is the element type of a tensor.
type DataType = tensor.DataType

// Data type constants.
const (
	Float32 DataType = tensor.Float32
	Float64 DataType = tensor.Float64
	Float16 DataType = tensor.Float16
)

// New creates a zero-filled tensor, failing on invalid shapes.
func New(shape Shape, dtype DataType) (*Tensor, error) {
	return tensor.New(shape, dtype)
}

// Zeros creates a tensor filled with zeros.
func Zeros(shape Shape, dtype DataType) *Tensor {
	return tensor.Zeros(shape, dtype)
}

// Ones creates a tensor filled with ones.
func Ones(shape Shape, dtype DataType) *Tensor {
	return tensor.Ones(shape, dtype)
}

// Full creates a tensor filled with v.
func Full(shape Shape, dtype DataType, v float64) *Tensor {
	return tensor.Full(shape, dtype, v)
}

// ZerosLike creates a zero tensor with the shape and type of t.
func ZerosLike(t *Tensor) *Tensor {
	return tensor.ZerosLike(t)
}

// OnesLike creates a tensor of ones with the shape and type of t.
func OnesLike(t *Tensor) *Tensor {
	return tensor.OnesLike(t)
}

// Scalar creates a rank-0 tensor.
func Scalar(v float64, dtype DataType) *Tensor {
	return tensor.Scalar(v, dtype)
}

// FromFloat64s creates a Float64 tensor from data.
func FromFloat64s(data []float64, shape Shape) (*Tensor, error) {
	return tensor.FromFloat64s(data, shape)
}

// FromFloat32s creates a Float32 tensor from data.
func FromFloat32s(data []float32, shape Shape) (*Tensor, error) {
	return tensor.FromFloat32s(data, shape)
}

// FromValues creates a tensor of the given type, rounding data to it.
func FromValues(data []float64, shape Shape, dtype DataType) (*Tensor, error) {
	return tensor.FromValues(data, shape, dtype)
}

// MustFromFloat64s is like FromFloat64s but panics on error.
func MustFromFloat64s(data []float64, shape Shape) *Tensor {
	return tensor.MustFromFloat64s(data, shape)
}

// Rand creates a tensor with values drawn uniformly from [lo, hi).
func Rand(shape Shape, dtype DataType, lo, hi float64, rng *rand.Rand) *Tensor {
	return tensor.Rand(shape, dtype, lo, hi, rng)
}

// Add returns a + b.
func Add(a, b *Tensor) *Tensor { return tensor.Add(a, b) }

// Sub returns a - b.
func Sub(a, b *Tensor) *Tensor { return tensor.Sub(a, b) }

// Mul returns the elementwise product of a and b.
func Mul(a, b *Tensor) *Tensor { return tensor.Mul(a, b) }

// Div returns the elementwise quotient of a and b.
func Div(a, b *Tensor) *Tensor { return tensor.Div(a, b) }

// Scale returns t * s.
func Scale(t *Tensor, s float64) *Tensor { return tensor.Scale(t, s) }

// Map applies f to every element.
func Map(t *Tensor, f func(float64) float64) *Tensor { return tensor.Map(t, f) }

// Sum returns the sum of all elements.
func Sum(t *Tensor) float64 { return tensor.Sum(t) }

// Dot returns the sum of the elementwise product.
func Dot(a, b *Tensor) float64 { return tensor.Dot(a, b) }

// MaxAbsDiff returns the largest absolute elementwise difference.
func MaxAbsDiff(a, b *Tensor) float64 { return tensor.MaxAbsDiff(a, b) }

// AllClose reports whether |a-b| <= atol + rtol*|b| elementwise.
func AllClose(a, b *Tensor, rtol, atol float64) bool { return tensor.AllClose(a, b, rtol, atol) }
