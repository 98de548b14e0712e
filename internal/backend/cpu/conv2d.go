package cpu

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/born-ml/autograd/internal/parallel"
	"github.com/born-ml/autograd/internal/tensor"
)

// ConvGeometry describes one convolution invocation.
//
// Stride, Padding, Dilation and OutputPadding hold one entry per spatial
// dimension (1 or 2). OutputPadding is only meaningful when Transposed and may
// be empty, meaning all zeros.
//
// Weight layout:
//   - normal:     [C_out, C_in/groups, k...]
//   - transposed: [C_in, C_out/groups, k...]
type ConvGeometry struct {
	Stride        []int
	Padding       []int
	Dilation      []int
	OutputPadding []int
	Transposed    bool
	Groups        int
}

// geom2d is ConvGeometry lifted to exactly two spatial dimensions.
// 1-D convolutions run as 2-D ones with a unit height.
type geom2d struct {
	sh, sw   int
	ph, pw   int
	dh, dw   int
	oph, opw int
	groups   int
}

func (g ConvGeometry) lift() geom2d {
	op := g.OutputPadding
	if len(op) == 0 {
		op = make([]int, len(g.Stride))
	}
	if len(g.Stride) == 1 {
		return geom2d{
			sh: 1, sw: g.Stride[0],
			ph: 0, pw: g.Padding[0],
			dh: 1, dw: g.Dilation[0],
			oph: 0, opw: op[0],
			groups: g.Groups,
		}
	}
	return geom2d{
		sh: g.Stride[0], sw: g.Stride[1],
		ph: g.Padding[0], pw: g.Padding[1],
		dh: g.Dilation[0], dw: g.Dilation[1],
		oph: op[0], opw: op[1],
		groups: g.Groups,
	}
}

// ConvOutputShape validates a convolution and returns its output shape.
//
// Input shape: [N, C_in, spatial...]; spatial rank must be 1 or 2 and match
// the length of every geometry sequence.
func ConvOutputShape(inputShape, weightShape tensor.Shape, g ConvGeometry) (tensor.Shape, error) {
	rank := len(inputShape) - 2
	if rank != 1 && rank != 2 {
		return nil, errors.Errorf("conv: input must be 3D [N,C,L] or 4D [N,C,H,W], got shape %v", inputShape)
	}
	if len(weightShape) != len(inputShape) {
		return nil, errors.Errorf("conv: weight rank %d does not match input rank %d", len(weightShape), len(inputShape))
	}
	for _, seq := range []struct {
		name   string
		values []int
	}{{"stride", g.Stride}, {"padding", g.Padding}, {"dilation", g.Dilation}} {
		if len(seq.values) != rank {
			return nil, errors.Errorf("conv: %s has %d entries, expected %d", seq.name, len(seq.values), rank)
		}
	}
	if len(g.OutputPadding) != 0 && len(g.OutputPadding) != rank {
		return nil, errors.Errorf("conv: output_padding has %d entries, expected %d", len(g.OutputPadding), rank)
	}
	if g.Groups < 1 {
		return nil, errors.Errorf("conv: groups must be positive, got %d", g.Groups)
	}
	for i := 0; i < rank; i++ {
		if g.Stride[i] < 1 || g.Dilation[i] < 1 || g.Padding[i] < 0 {
			return nil, errors.Errorf("conv: invalid geometry stride=%v padding=%v dilation=%v", g.Stride, g.Padding, g.Dilation)
		}
	}

	n, cIn := inputShape[0], inputShape[1]
	out := tensor.Shape{n, 0}
	if !g.Transposed {
		if weightShape[1]*g.Groups != cIn {
			return nil, errors.Errorf("conv: weight %v expects %d input channels, input has %d (groups=%d)",
				weightShape, weightShape[1]*g.Groups, cIn, g.Groups)
		}
		if weightShape[0]%g.Groups != 0 {
			return nil, errors.Errorf("conv: %d output channels not divisible by groups=%d", weightShape[0], g.Groups)
		}
		out[1] = weightShape[0]
	} else {
		if weightShape[0] != cIn {
			return nil, errors.Errorf("conv transposed: weight %v expects %d input channels, input has %d",
				weightShape, weightShape[0], cIn)
		}
		if cIn%g.Groups != 0 {
			return nil, errors.Errorf("conv transposed: %d input channels not divisible by groups=%d", cIn, g.Groups)
		}
		out[1] = weightShape[1] * g.Groups
	}

	for i := 0; i < rank; i++ {
		in, k := inputShape[2+i], weightShape[2+i]
		s, p, d := g.Stride[i], g.Padding[i], g.Dilation[i]
		var size int
		if !g.Transposed {
			size = (in+2*p-d*(k-1)-1)/s + 1
		} else {
			op := 0
			if len(g.OutputPadding) != 0 {
				op = g.OutputPadding[i]
			}
			if op < 0 || (op >= s && op >= d) {
				return nil, errors.Errorf("conv transposed: output_padding %d must be smaller than stride %d or dilation %d", op, s, d)
			}
			size = (in-1)*s - 2*p + d*(k-1) + op + 1
		}
		if size <= 0 {
			return nil, errors.Errorf("conv: invalid output size %d in spatial dim %d (input %v, kernel %v)", size, i, inputShape, weightShape)
		}
		out = append(out, size)
	}
	return out, nil
}

// as4D views a 3-D [N,C,L] shape as [N,C,1,L].
func as4D(s tensor.Shape) tensor.Shape {
	if len(s) == 3 {
		return tensor.Shape{s[0], s[1], 1, s[2]}
	}
	return s
}

// taps relates a "big" spatial grid to a "small" one through a kernel:
//
//	big_pos = small_pos*stride - padding + k*dilation
//
// For a normal convolution the input is big and the output small; for a
// transposed one the roles swap. Weights are always laid out as
// [smallC, bigC/groups, KH, KW].
type taps struct {
	n                      int
	bigC, bigH, bigW       int
	smallC, smallH, smallW int
	kh, kw                 int
	geom                   geom2d
}

func newTaps(big, small, weight tensor.Shape, g geom2d) taps {
	big, small, weight = as4D(big), as4D(small), as4D(weight)
	if weight[0] != small[1] || weight[1]*g.groups != big[1] || big[0] != small[0] {
		exceptions.Panicf("conv: inconsistent shapes big=%v small=%v weight=%v groups=%d", big, small, weight, g.groups)
	}
	return taps{
		n:    big[0],
		bigC: big[1], bigH: big[2], bigW: big[3],
		smallC: small[1], smallH: small[2], smallW: small[3],
		kh: weight[2], kw: weight[3],
		geom: g,
	}
}

func (t taps) bigPerGroup() int   { return t.bigC / t.geom.groups }
func (t taps) smallPerGroup() int { return t.smallC / t.geom.groups }

// forEach visits every (bigOffset, smallOffset, kernelOffset) spatial triple
// inside one channel plane.
func (t taps) forEach(f func(bigOff, smallOff, kOff int)) {
	g := t.geom
	for i := 0; i < t.kh; i++ {
		for j := 0; j < t.kw; j++ {
			kOff := i*t.kw + j
			for sy := 0; sy < t.smallH; sy++ {
				by := sy*g.sh - g.ph + i*g.dh
				if by < 0 || by >= t.bigH {
					continue
				}
				for sx := 0; sx < t.smallW; sx++ {
					bx := sx*g.sw - g.pw + j*g.dw
					if bx < 0 || bx >= t.bigW {
						continue
					}
					f(by*t.bigW+bx, sy*t.smallW+sx, kOff)
				}
			}
		}
	}
}

// correlate accumulates small[n, sc] += Σ big[n, bc] ⋆ w[sc, bc].
// Parallel over (n, sc): each task owns one small channel plane.
func (cpu *CPUBackend) correlate(big, w, small []float64, t taps) {
	bigPlane, smallPlane, kPlane := t.bigH*t.bigW, t.smallH*t.smallW, t.kh*t.kw
	bigG, smallG := t.bigPerGroup(), t.smallPerGroup()
	parallel.ForBatch(t.n, t.smallC, cpu.parallel, func(n, sc int) {
		group := sc / smallG
		dst := small[(n*t.smallC+sc)*smallPlane:][:smallPlane]
		for bc := 0; bc < bigG; bc++ {
			src := big[(n*t.bigC+group*bigG+bc)*bigPlane:][:bigPlane]
			kernel := w[(sc*bigG+bc)*kPlane:][:kPlane]
			t.forEach(func(bigOff, smallOff, kOff int) {
				dst[smallOff] += src[bigOff] * kernel[kOff]
			})
		}
	})
}

// scatter accumulates big[n, bc] += Σ small[n, sc] * w[sc, bc].
// Parallel over (n, group): a group's big channels are only written by it.
func (cpu *CPUBackend) scatter(small, w, big []float64, t taps) {
	bigPlane, smallPlane, kPlane := t.bigH*t.bigW, t.smallH*t.smallW, t.kh*t.kw
	bigG, smallG := t.bigPerGroup(), t.smallPerGroup()
	parallel.ForBatch(t.n, t.geom.groups, cpu.parallel, func(n, group int) {
		for s := 0; s < smallG; s++ {
			sc := group*smallG + s
			src := small[(n*t.smallC+sc)*smallPlane:][:smallPlane]
			for bc := 0; bc < bigG; bc++ {
				dst := big[(n*t.bigC+group*bigG+bc)*bigPlane:][:bigPlane]
				kernel := w[(sc*bigG+bc)*kPlane:][:kPlane]
				t.forEach(func(bigOff, smallOff, kOff int) {
					dst[bigOff] += src[smallOff] * kernel[kOff]
				})
			}
		}
	})
}

// weightGrad accumulates w[sc, bc] += Σ_n big[n, bc] * small[n, sc].
// Parallel over sc: each task owns one row of the weight.
func (cpu *CPUBackend) weightGrad(big, small, w []float64, t taps) {
	bigPlane, smallPlane, kPlane := t.bigH*t.bigW, t.smallH*t.smallW, t.kh*t.kw
	bigG, smallG := t.bigPerGroup(), t.smallPerGroup()
	parallel.For(t.smallC, cpu.parallel, func(sc int) {
		group := sc / smallG
		for bc := 0; bc < bigG; bc++ {
			dst := w[(sc*bigG+bc)*kPlane:][:kPlane]
			for n := 0; n < t.n; n++ {
				bigSrc := big[(n*t.bigC+group*bigG+bc)*bigPlane:][:bigPlane]
				smallSrc := small[(n*t.smallC+sc)*smallPlane:][:smallPlane]
				t.forEach(func(bigOff, smallOff, kOff int) {
					dst[kOff] += bigSrc[bigOff] * smallSrc[smallOff]
				})
			}
		}
	})
}

// ConvForward computes a (possibly transposed, grouped, dilated) convolution.
//
// Input shape: [N, C_in, H, W] or [N, C_in, L]. Bias, when non-nil, has shape
// [C_out]. The geometry must have been validated with ConvOutputShape;
// inconsistent shapes panic.
func (cpu *CPUBackend) ConvForward(input, weight, bias *tensor.Tensor, g ConvGeometry) *tensor.Tensor {
	outShape, err := ConvOutputShape(input.Shape(), weight.Shape(), g)
	if err != nil {
		exceptions.Panicf("%v", err)
	}
	dtype := tensor.Promote(input.DType(), weight.DType())
	output := tensor.Zeros(outShape, dtype)

	geom := g.lift()
	if !g.Transposed {
		t := newTaps(input.Shape(), outShape, weight.Shape(), geom)
		cpu.correlate(input.Data(), weight.Data(), output.Data(), t)
	} else {
		t := newTaps(outShape, input.Shape(), weight.Shape(), geom)
		cpu.scatter(input.Data(), weight.Data(), output.Data(), t)
	}

	if bias != nil {
		addChannelBias(output, bias)
	}
	roundInPlace(output)
	return output
}

// addChannelBias adds bias[c] to every element of channel c.
func addChannelBias(output, bias *tensor.Tensor) {
	shape := output.Shape()
	if bias.NumElements() != shape[1] {
		exceptions.Panicf("conv: bias has %d elements, output has %d channels", bias.NumElements(), shape[1])
	}
	plane := shape.NumElements() / (shape[0] * shape[1])
	data, b := output.Data(), bias.Data()
	for n := 0; n < shape[0]; n++ {
		for c := 0; c < shape[1]; c++ {
			chunk := data[(n*shape[1]+c)*plane:][:plane]
			for i := range chunk {
				chunk[i] += b[c]
			}
		}
	}
}

// roundInPlace applies dtype rounding after float64 accumulation.
func roundInPlace(t *tensor.Tensor) {
	if t.DType() == tensor.Float64 {
		return
	}
	data := t.Data()
	for i, v := range data {
		data[i] = t.DType().Round(v)
	}
}
