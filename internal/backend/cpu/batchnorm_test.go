package cpu

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/autograd/internal/tensor"
)

func TestBatchNormForwardTraining(t *testing.T) {
	backend := New()
	// Two channels, batch of 2, plane of 2.
	x := tensor.MustFromFloat64s([]float64{
		1, 3, /* n0 c0 */ 10, 10, /* n0 c1 */
		5, 7, /* n1 c0 */ 20, 20, /* n1 c1 */
	}, tensor.Shape{2, 2, 2})
	runningMean := tensor.Zeros(tensor.Shape{2}, tensor.Float64)
	runningVar := tensor.Ones(tensor.Shape{2}, tensor.Float64)

	state, err := backend.BatchNormForward(x, nil, nil, runningMean, runningVar, true, 0.1, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 15}, state.Mean.Values())
	// Channel 0: biased variance 5, channel 1: 25.
	assert.InDelta(t, 1/math.Sqrt(5), state.InvStd.At(0), 1e-12)
	assert.InDelta(t, 1/math.Sqrt(25), state.InvStd.At(1), 1e-12)

	// Normalized output has zero mean per channel.
	out := state.Output
	assert.InDelta(t, 0, out.At(0, 0, 0)+out.At(0, 0, 1)+out.At(1, 0, 0)+out.At(1, 0, 1), 1e-12)
	assert.InDelta(t, -1, out.At(0, 1, 0), 1e-12)

	// Running stats use the unbiased variance.
	assert.InDelta(t, 0.4, runningMean.At(0), 1e-12)
	assert.InDelta(t, 1.5, runningMean.At(1), 1e-12)
	assert.InDelta(t, 0.9+0.1*20.0/3, runningVar.At(0), 1e-12)
	assert.InDelta(t, 0.9+0.1*100.0/3, runningVar.At(1), 1e-12)
}

func TestBatchNormForwardEval(t *testing.T) {
	backend := New()
	x := tensor.MustFromFloat64s([]float64{2, 4, 6, 8}, tensor.Shape{1, 2, 2})
	weight := tensor.MustFromFloat64s([]float64{2, 1}, tensor.Shape{2})
	bias := tensor.MustFromFloat64s([]float64{0, 1}, tensor.Shape{2})
	runningMean := tensor.MustFromFloat64s([]float64{1, 2}, tensor.Shape{2})
	runningVar := tensor.MustFromFloat64s([]float64{4, 16}, tensor.Shape{2})

	state, err := backend.BatchNormForward(x, weight, bias, runningMean, runningVar, false, 0.1, 0)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 3, 2, 2.5}, state.Output.Values(), 1e-12)
	// Evaluation leaves running statistics untouched.
	assert.Equal(t, []float64{1, 2}, runningMean.Values())

	_, err = backend.BatchNormForward(x, nil, nil, nil, nil, false, 0.1, 1e-5)
	assert.Error(t, err)
}

func TestBatchNormForwardErrors(t *testing.T) {
	backend := New()
	_, err := backend.BatchNormForward(tensor.Ones(tensor.Shape{4}, tensor.Float32), nil, nil, nil, nil, true, 0.1, 1e-5)
	assert.Error(t, err, "rank 1")

	_, err = backend.BatchNormForward(tensor.Ones(tensor.Shape{1, 3}, tensor.Float32), nil, nil, nil, nil, true, 0.1, 1e-5)
	assert.Error(t, err, "single value per channel")

	x := tensor.Ones(tensor.Shape{2, 3}, tensor.Float32)
	_, err = backend.BatchNormForward(x, tensor.Ones(tensor.Shape{2}, tensor.Float32), nil, nil, nil, true, 0.1, 1e-5)
	assert.Error(t, err, "weight size")
}

// Finite-difference check of the input, weight and bias gradients of
// L = Σ output*proj.
func TestBatchNormBackwardNumeric(t *testing.T) {
	backend := New()
	rng := rand.New(rand.NewPCG(1, 2))
	shape := tensor.Shape{3, 2, 2, 2}
	x := tensor.Rand(shape, tensor.Float64, -2, 2, rng)
	weight := tensor.Rand(tensor.Shape{2}, tensor.Float64, 0.5, 1.5, rng)
	bias := tensor.Rand(tensor.Shape{2}, tensor.Float64, -1, 1, rng)
	proj := tensor.Rand(shape, tensor.Float64, -1, 1, rng)
	runningMean := tensor.Rand(tensor.Shape{2}, tensor.Float64, -1, 1, rng)
	runningVar := tensor.Rand(tensor.Shape{2}, tensor.Float64, 0.5, 2, rng)

	for _, training := range []bool{true, false} {
		loss := func() float64 {
			// Copies keep the running statistics fixed across evaluations.
			state, err := backend.BatchNormForward(x, weight, bias, runningMean.Clone(), runningVar.Clone(), training, 0.1, 1e-5)
			require.NoError(t, err)
			return tensor.Dot(state.Output, proj)
		}
		state, err := backend.BatchNormForward(x, weight, bias, runningMean.Clone(), runningVar.Clone(), training, 0.1, 1e-5)
		require.NoError(t, err)
		gx, gw, gb := backend.BatchNormBackward(proj, x, weight, state, training)

		for _, p := range []struct {
			name string
			t    *tensor.Tensor
			grad *tensor.Tensor
		}{{"input", x, gx}, {"weight", weight, gw}, {"bias", bias, gb}} {
			data := p.t.Data()
			for i := range data {
				orig := data[i]
				const h = 1e-6
				data[i] = orig + h
				plus := loss()
				data[i] = orig - h
				minus := loss()
				data[i] = orig
				assert.InDelta(t, (plus-minus)/(2*h), p.grad.Data()[i], 1e-5,
					"training=%v %s[%d]", training, p.name, i)
			}
		}
	}
}
