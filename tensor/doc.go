// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the dense tensors differentiated by the autograd
// engine.
//
// # Overview
//
// A Tensor is a dense row-major array with a Shape and a DataType. Values are
// stored as float64 and rounded to the tensor's DataType on every write, so
// Float32 and Float16 tensors behave like their native counterparts while
// sharing one implementation.
//
// # Basic Usage
//
//	x := tensor.MustFromFloat64s([]float64{1, 2, 3, 4}, tensor.Shape{2, 2})
//	y := tensor.Ones(tensor.Shape{2, 2}, tensor.Float64)
//	z := tensor.Add(x, y)
//	fmt.Println(z.At(1, 1)) // 5
//
// # Data Types
//
//   - Float32: single precision
//   - Float64: double precision, used by gradient checks
//   - Float16: half precision, via github.com/x448/float16
//
// Elementwise operations require equal shapes; there is no broadcasting.
// Operations on tensors of different types produce the wider type.
package tensor
