package cpu

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/autograd/internal/parallel"
	"github.com/born-ml/autograd/internal/tensor"
)

// naiveConv2D is a direct 7-loop reference for normal (non-transposed) convolution.
func naiveConv2D(input, weight *tensor.Tensor, g ConvGeometry) *tensor.Tensor {
	outShape, err := ConvOutputShape(input.Shape(), weight.Shape(), g)
	if err != nil {
		panic(err)
	}
	out := tensor.Zeros(outShape, tensor.Float64)
	in, w := input.Shape(), weight.Shape()
	cInG, cOutG := w[1], w[0]/g.Groups
	for n := 0; n < in[0]; n++ {
		for co := 0; co < w[0]; co++ {
			group := co / cOutG
			for oh := 0; oh < outShape[2]; oh++ {
				for ow := 0; ow < outShape[3]; ow++ {
					var sum float64
					for ci := 0; ci < cInG; ci++ {
						for kh := 0; kh < w[2]; kh++ {
							for kw := 0; kw < w[3]; kw++ {
								ih := oh*g.Stride[0] - g.Padding[0] + kh*g.Dilation[0]
								iw := ow*g.Stride[1] - g.Padding[1] + kw*g.Dilation[1]
								if ih < 0 || ih >= in[2] || iw < 0 || iw >= in[3] {
									continue
								}
								sum += input.At(n, group*cInG+ci, ih, iw) * weight.At(co, ci, kh, kw)
							}
						}
					}
					out.Set(sum, n, co, oh, ow)
				}
			}
		}
	}
	return out
}

func geometry(stride, padding, dilation, groups int) ConvGeometry {
	return ConvGeometry{
		Stride:   []int{stride, stride},
		Padding:  []int{padding, padding},
		Dilation: []int{dilation, dilation},
		Groups:   groups,
	}
}

func TestConvForwardMatchesNaive(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	tests := []struct {
		name   string
		input  tensor.Shape
		weight tensor.Shape
		geom   ConvGeometry
	}{
		{"basic", tensor.Shape{1, 1, 4, 4}, tensor.Shape{1, 1, 3, 3}, geometry(1, 0, 1, 1)},
		{"stride2_pad1", tensor.Shape{2, 3, 5, 5}, tensor.Shape{4, 3, 3, 3}, geometry(2, 1, 1, 1)},
		{"dilated", tensor.Shape{1, 2, 7, 7}, tensor.Shape{2, 2, 3, 3}, geometry(1, 2, 2, 1)},
		{"grouped", tensor.Shape{2, 4, 5, 4}, tensor.Shape{6, 2, 2, 3}, geometry(1, 1, 1, 2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, cfg := range []parallel.Config{parallel.Sequential(), {Enabled: true, NumWorkers: 3, MinChunkSize: 1}} {
				backend := NewWithConfig(cfg)
				x := tensor.Rand(tt.input, tensor.Float64, -1, 1, rng)
				w := tensor.Rand(tt.weight, tensor.Float64, -1, 1, rng)
				got := backend.ConvForward(x, w, nil, tt.geom)
				want := naiveConv2D(x, w, tt.geom)
				require.True(t, got.Shape().Equal(want.Shape()), "shape %v vs %v", got.Shape(), want.Shape())
				assert.InDelta(t, 0, tensor.MaxAbsDiff(got, want), 1e-12)
			}
		})
	}
}

func TestConvOutputShape(t *testing.T) {
	shape, err := ConvOutputShape(tensor.Shape{1, 1, 4, 4}, tensor.Shape{1, 1, 3, 3}, geometry(1, 0, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 1, 2, 2}, shape)

	transposed := geometry(2, 1, 1, 1)
	transposed.Transposed = true
	transposed.OutputPadding = []int{1, 1}
	shape, err = ConvOutputShape(tensor.Shape{1, 2, 3, 3}, tensor.Shape{2, 5, 3, 3}, transposed)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 5, 6, 6}, shape)

	oneD := ConvGeometry{Stride: []int{2}, Padding: []int{0}, Dilation: []int{1}, Groups: 1}
	shape, err = ConvOutputShape(tensor.Shape{3, 2, 9}, tensor.Shape{4, 2, 3}, oneD)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 4, 4}, shape)

	bad := []struct {
		name   string
		input  tensor.Shape
		weight tensor.Shape
		geom   ConvGeometry
	}{
		{"rank5", tensor.Shape{1, 1, 2, 2, 2}, tensor.Shape{1, 1, 1, 1, 1}, geometry(1, 0, 1, 1)},
		{"stride_len", tensor.Shape{1, 1, 4, 4}, tensor.Shape{1, 1, 3, 3}, oneD},
		{"channels", tensor.Shape{1, 3, 4, 4}, tensor.Shape{1, 2, 3, 3}, geometry(1, 0, 1, 1)},
		{"groups_zero", tensor.Shape{1, 1, 4, 4}, tensor.Shape{1, 1, 3, 3}, geometry(1, 0, 1, 0)},
		{"kernel_too_big", tensor.Shape{1, 1, 2, 2}, tensor.Shape{1, 1, 3, 3}, geometry(1, 0, 1, 1)},
		{"zero_stride", tensor.Shape{1, 1, 4, 4}, tensor.Shape{1, 1, 3, 3}, geometry(0, 0, 1, 1)},
	}
	for _, tt := range bad {
		_, err := ConvOutputShape(tt.input, tt.weight, tt.geom)
		assert.Error(t, err, tt.name)
	}
}

// The backward kernels are adjoints of the forward one:
// <conv(x, w), gy> == <x, dX(gy)> == <w, dW(x, gy)>.
func TestConvBackwardAdjoint(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	backend := New()
	for _, transposed := range []bool{false, true} {
		g := geometry(2, 1, 1, 2)
		g.Transposed = transposed
		inputShape := tensor.Shape{2, 4, 5, 5}
		weightShape := tensor.Shape{6, 2, 3, 3}
		if transposed {
			g.OutputPadding = []int{1, 0}
			weightShape = tensor.Shape{4, 3, 3, 3}
		}
		x := tensor.Rand(inputShape, tensor.Float64, -1, 1, rng)
		w := tensor.Rand(weightShape, tensor.Float64, -1, 1, rng)
		y := backend.ConvForward(x, w, nil, g)
		gy := tensor.Rand(y.Shape(), tensor.Float64, -1, 1, rng)

		lhs := tensor.Dot(y, gy)
		dx := backend.ConvInputBackward(gy, w, inputShape, g)
		dw := backend.ConvWeightBackward(x, gy, weightShape, g)
		assert.InDelta(t, lhs, tensor.Dot(x, dx), 1e-9, "transposed=%v input adjoint", transposed)
		assert.InDelta(t, lhs, tensor.Dot(w, dw), 1e-9, "transposed=%v weight adjoint", transposed)
	}
}

func TestConvBiasAndOneDimensional(t *testing.T) {
	backend := New()
	x := tensor.Ones(tensor.Shape{2, 1, 5}, tensor.Float32)
	w := tensor.Ones(tensor.Shape{3, 1, 2}, tensor.Float32)
	bias := tensor.MustFromFloat64s([]float64{0, 1, 2}, tensor.Shape{3})
	g := ConvGeometry{Stride: []int{1}, Padding: []int{0}, Dilation: []int{1}, Groups: 1}

	y := backend.ConvForward(x, w, bias, g)
	require.Equal(t, tensor.Shape{2, 3, 4}, y.Shape())
	assert.Equal(t, 2.0, y.At(0, 0, 0))
	assert.Equal(t, 4.0, y.At(1, 2, 3))

	gb := backend.ConvBiasBackward(tensor.OnesLike(y))
	assert.Equal(t, []float64{8, 8, 8}, gb.Values())
}

func TestConvScenarioShapes(t *testing.T) {
	backend := New()
	x := tensor.Ones(tensor.Shape{1, 1, 4, 4}, tensor.Float32)
	w := tensor.Ones(tensor.Shape{1, 1, 3, 3}, tensor.Float32)
	g := geometry(1, 0, 1, 1)
	y := backend.ConvForward(x, w, nil, g)
	gy := tensor.OnesLike(y)

	dx := backend.ConvInputBackward(gy, w, x.Shape(), g)
	dw := backend.ConvWeightBackward(x, gy, w.Shape(), g)
	assert.Equal(t, x.Shape(), dx.Shape())
	assert.Equal(t, w.Shape(), dw.Shape())
	// Corner pixels feed one output, center pixels all four.
	assert.Equal(t, 1.0, dx.At(0, 0, 0, 0))
	assert.Equal(t, 4.0, dx.At(0, 0, 1, 1))
	assert.Equal(t, []float64{4, 4, 4, 4, 4, 4, 4, 4, 4}, dw.Values())
}
