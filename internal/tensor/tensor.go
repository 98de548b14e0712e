package tensor

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Tensor is a dense, row-major N-dimensional array.
//
// Values are stored as float64 and rounded to the tensor's DataType on every
// write, so a Float16 tensor carries exactly the values a half-precision
// buffer would hold.
//
// Tensors returned by the math functions in this package are fresh values;
// only AddInPlace, Set and kernels holding the result of Data mutate a tensor.
type Tensor struct {
	shape Shape
	dtype DataType
	data  []float64
}

// New creates a zero-filled tensor with the given shape and type.
func New(shape Shape, dtype DataType) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid shape")
	}
	return &Tensor{
		shape: shape.Clone(),
		dtype: dtype,
		data:  make([]float64, shape.NumElements()),
	}, nil
}

// Zeros creates a zero-filled tensor. It panics on an invalid shape.
func Zeros(shape Shape, dtype DataType) *Tensor {
	t, err := New(shape, dtype)
	if err != nil {
		exceptions.Panicf("tensor.Zeros: %v", err)
	}
	return t
}

// Ones creates a tensor filled with ones.
func Ones(shape Shape, dtype DataType) *Tensor {
	return Full(shape, dtype, 1)
}

// Full creates a tensor filled with v.
func Full(shape Shape, dtype DataType, v float64) *Tensor {
	t := Zeros(shape, dtype)
	v = dtype.Round(v)
	for i := range t.data {
		t.data[i] = v
	}
	return t
}

// ZerosLike creates a zero tensor with the shape and type of t.
func ZerosLike(t *Tensor) *Tensor {
	return Zeros(t.shape, t.dtype)
}

// OnesLike creates a tensor of ones with the shape and type of t.
func OnesLike(t *Tensor) *Tensor {
	return Ones(t.shape, t.dtype)
}

// Scalar creates a rank-0 tensor.
func Scalar(v float64, dtype DataType) *Tensor {
	return Full(Shape{}, dtype, v)
}

// FromFloat64s creates a Float64 tensor from a Go slice.
// The slice is copied into the tensor's memory.
func FromFloat64s(data []float64, shape Shape) (*Tensor, error) {
	return fromValues(data, shape, Float64)
}

// FromFloat32s creates a Float32 tensor from a Go slice.
func FromFloat32s(data []float32, shape Shape) (*Tensor, error) {
	values := make([]float64, len(data))
	for i, v := range data {
		values[i] = float64(v)
	}
	return fromValues(values, shape, Float32)
}

// FromValues creates a tensor of the given type, rounding each value.
func FromValues(data []float64, shape Shape, dtype DataType) (*Tensor, error) {
	return fromValues(data, shape, dtype)
}

func fromValues(data []float64, shape Shape, dtype DataType) (*Tensor, error) {
	if shape.NumElements() != len(data) {
		return nil, errors.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}
	t, err := New(shape, dtype)
	if err != nil {
		return nil, err
	}
	for i, v := range data {
		t.data[i] = dtype.Round(v)
	}
	return t, nil
}

// MustFromFloat64s is FromFloat64s that panics on error. Intended for literals.
func MustFromFloat64s(data []float64, shape Shape) *Tensor {
	t, err := FromFloat64s(data, shape)
	if err != nil {
		exceptions.Panicf("tensor.MustFromFloat64s: %v", err)
	}
	return t
}

// Rand creates a tensor with values drawn uniformly from [lo, hi).
func Rand(shape Shape, dtype DataType, lo, hi float64, rng *rand.Rand) *Tensor {
	t := Zeros(shape, dtype)
	for i := range t.data {
		t.data[i] = dtype.Round(lo + (hi-lo)*rng.Float64())
	}
	return t
}

// Shape returns the tensor's shape.
func (t *Tensor) Shape() Shape {
	return t.shape
}

// DType returns the tensor's data type.
func (t *Tensor) DType() DataType {
	return t.dtype
}

// NumElements returns the total number of elements.
func (t *Tensor) NumElements() int {
	return len(t.data)
}

// ByteSize returns the memory a buffer of this dtype would occupy.
func (t *Tensor) ByteSize() int {
	return t.NumElements() * t.dtype.Size()
}

// Data returns the underlying flat storage.
// WARNING: Direct access to underlying memory. Writers must keep values
// rounded to the tensor's dtype (see DataType.Round).
func (t *Tensor) Data() []float64 {
	return t.data
}

// Values returns a copy of the flat data.
func (t *Tensor) Values() []float64 {
	out := make([]float64, len(t.data))
	copy(out, t.data)
	return out
}

// Item returns the single value of a one-element tensor.
func (t *Tensor) Item() float64 {
	if len(t.data) != 1 {
		exceptions.Panicf("tensor.Item: tensor of shape %v has %d elements", t.shape, len(t.data))
	}
	return t.data[0]
}

// At returns the element at the given multi-dimensional index.
func (t *Tensor) At(index ...int) float64 {
	return t.data[t.offset(index)]
}

// Set writes v at the given multi-dimensional index.
func (t *Tensor) Set(v float64, index ...int) {
	t.data[t.offset(index)] = t.dtype.Round(v)
}

func (t *Tensor) offset(index []int) int {
	if len(index) != len(t.shape) {
		exceptions.Panicf("tensor: index %v has rank %d, tensor has rank %d", index, len(index), len(t.shape))
	}
	strides := t.shape.ComputeStrides()
	off := 0
	for i, idx := range index {
		if idx < 0 || idx >= t.shape[i] {
			exceptions.Panicf("tensor: index %v out of range for shape %v", index, t.shape)
		}
		off += idx * strides[i]
	}
	return off
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		shape: t.shape.Clone(),
		dtype: t.dtype,
		data:  t.Values(),
	}
}

// Reshape returns a copy of t with a new shape holding the same number of elements.
func (t *Tensor) Reshape(shape Shape) *Tensor {
	if shape.NumElements() != t.NumElements() {
		exceptions.Panicf("tensor.Reshape: cannot reshape %v into %v", t.shape, shape)
	}
	return &Tensor{
		shape: shape.Clone(),
		dtype: t.dtype,
		data:  t.Values(),
	}
}

// AsType returns a copy of t converted to dtype.
func (t *Tensor) AsType(dtype DataType) *Tensor {
	out := &Tensor{shape: t.shape.Clone(), dtype: dtype, data: make([]float64, len(t.data))}
	for i, v := range t.data {
		out.data[i] = dtype.Round(v)
	}
	return out
}

// String implements fmt.Stringer with a compact preview of the values.
func (t *Tensor) String() string {
	const maxShown = 8
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tensor[%s]%v{", t.dtype, t.shape)
	for i, v := range t.data {
		if i == maxShown {
			fmt.Fprintf(&sb, ", ...(%d more)", len(t.data)-maxShown)
			break
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%g", v)
	}
	sb.WriteString("}")
	return sb.String()
}
