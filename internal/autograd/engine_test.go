package autograd_test

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/born-ml/autograd/internal/autograd"
	"github.com/born-ml/autograd/internal/tensor"
)

// mergeGraph builds y = exp(x) + sin(x)*x: two paths meeting at the leaf x.
func mergeGraph(t *testing.T, x *autograd.Variable) *autograd.Variable {
	e := apply1(t, op("Exp"), x)
	s := apply1(t, op("Sin"), x)
	m := apply1(t, op("Mul"), s, x)
	return apply1(t, autograd.NewAdd(), e, m)
}

func mergeGradient(x *tensor.Tensor) *tensor.Tensor {
	return tensor.Map(x, func(v float64) float64 { return math.Exp(v) + math.Cos(v)*v + math.Sin(v) })
}

// diamondGraph mixes paths of different lengths from x and w to the root.
func diamondGraph(t *testing.T, x, w *autograd.Variable) *autograd.Variable {
	a := apply1(t, op("Sin"), x)
	b := apply1(t, op("Cos"), x)
	c := apply1(t, op("Mul"), a, b)
	d := apply1(t, autograd.NewAdd(), c, a)
	e := apply1(t, op("Tanh"), d)
	f := apply1(t, op("Mul"), e, w)
	g := apply1(t, op("Lerp", 0.3), f, x)
	return apply1(t, op("Addcmul", 0.5), g, a, w)
}

func TestEngine_MergePathsSumAtLeaf(t *testing.T) {
	ctx := context.Background()
	data := randTensor(1, tensor.Shape{2, 3}, -1, 1)
	x := leaf("x", data.Clone())
	y := mergeGraph(t, x)

	grads, err := autograd.BackwardFrom(ctx, y, tensor.OnesLike(data))
	require.NoError(t, err)
	require.Contains(t, grads, x)
	assert.InDelta(t, 0, tensor.MaxAbsDiff(mergeGradient(data), grads[x]), 1e-12)

	// Each path on its own, on fresh leaves.
	x1 := leaf("x1", data.Clone())
	g1 := must.M1(autograd.BackwardFrom(ctx, apply1(t, op("Exp"), x1), tensor.OnesLike(data)))[x1]
	x2 := leaf("x2", data.Clone())
	s := apply1(t, op("Sin"), x2)
	g2 := must.M1(autograd.BackwardFrom(ctx, apply1(t, op("Mul"), s, x2), tensor.OnesLike(data)))[x2]
	assert.InDelta(t, 0, tensor.MaxAbsDiff(tensor.Add(g1, g2), grads[x]), 1e-12)
}

func TestEngine_OrderIndependence(t *testing.T) {
	ctx := context.Background()
	xData := randTensor(2, tensor.Shape{3, 4}, -1, 1)
	wData := randTensor(3, tensor.Shape{3, 4}, -1, 1)

	run := func(t *testing.T, opts ...autograd.Option) (gx, gw *tensor.Tensor) {
		t.Helper()
		x, w := leaf("x", xData.Clone()), leaf("w", wData.Clone())
		root := diamondGraph(t, x, w)
		grads, err := autograd.Backward(ctx, []autograd.Root{autograd.RootOf(root, tensor.OnesLike(xData))}, opts...)
		require.NoError(t, err)
		return grads[x], grads[w]
	}

	wantX, wantW := run(t)
	variants := map[string][]autograd.Option{
		"fifo":    {autograd.WithQueue(autograd.NewFIFOQueue)},
		"workers": {autograd.WithWorkers(4)},
		"debug":   {autograd.WithDebugChecks(true)},
	}
	for seed := uint64(0); seed < 5; seed++ {
		rng := rand.New(rand.NewPCG(seed, 99))
		variants[fmt.Sprintf("shuffled_%d", seed)] = []autograd.Option{
			autograd.WithQueue(func() autograd.ReadyQueue { return autograd.NewShuffledQueue(rng) }),
		}
	}
	for name, opts := range variants {
		t.Run(name, func(t *testing.T) {
			gotX, gotW := run(t, opts...)
			assert.InDelta(t, 0, tensor.MaxAbsDiff(wantX, gotX), 1e-12)
			assert.InDelta(t, 0, tensor.MaxAbsDiff(wantW, gotW), 1e-12)
		})
	}
}

func TestEngine_WorkersFromEngineDefaults(t *testing.T) {
	engine := autograd.NewEngine(autograd.WithWorkers(3), autograd.WithQueue(autograd.NewFIFOQueue))
	data := randTensor(4, tensor.Shape{5}, -1, 1)
	x := leaf("x", data.Clone())
	grads, err := engine.Backward(context.Background(), []autograd.Root{autograd.RootOf(mergeGraph(t, x), tensor.OnesLike(data))})
	require.NoError(t, err)
	assert.InDelta(t, 0, tensor.MaxAbsDiff(mergeGradient(data), grads[x]), 1e-12)
}

func TestEngine_MultipleRoots(t *testing.T) {
	// Seeding the same output twice sums the seeds.
	x := leaf("x", tensor.MustFromFloat64s([]float64{1, 2}, tensor.Shape{2}))
	y := apply1(t, op("Mul"), x, x)
	roots := []autograd.Root{
		autograd.RootOf(y, tensor.Ones(tensor.Shape{2}, tensor.Float64)),
		autograd.RootOf(y, tensor.Full(tensor.Shape{2}, tensor.Float64, 2)),
	}
	grads, err := autograd.Backward(context.Background(), roots)
	require.NoError(t, err)
	assert.Equal(t, []float64{6, 12}, grads[x].Values())

	// A root upstream of another root waits for its dependency.
	z := leaf("z", tensor.MustFromFloat64s([]float64{1, 2}, tensor.Shape{2}))
	a := apply1(t, op("Exp"), z)
	b := apply1(t, op("Mul"), a, a)
	roots = []autograd.Root{autograd.RootOf(a, nil), autograd.RootOf(b, nil)}
	grads, err = autograd.Backward(context.Background(), roots)
	require.NoError(t, err)
	// d/dz [exp(z) + exp(2z)] = exp(z) + 2exp(2z)
	want := tensor.Map(z.Data(), func(v float64) float64 { return math.Exp(v) + 2*math.Exp(2*v) })
	assert.InDelta(t, 0, tensor.MaxAbsDiff(want, grads[z]), 1e-9)
}

func TestEngine_LeafRoot(t *testing.T) {
	x := leaf("x", tensor.Zeros(tensor.Shape{3}, tensor.Float64))
	grads, err := autograd.BackwardFrom(context.Background(), x, tensor.Full(tensor.Shape{3}, tensor.Float64, 2))
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 2, 2}, grads[x].Values())
	assert.Equal(t, []float64{2, 2, 2}, x.Grad().Values())
}

func TestEngine_InvalidRoots(t *testing.T) {
	ctx := context.Background()
	_, err := autograd.Backward(ctx, nil)
	assert.Error(t, err)

	noGrad := autograd.NewVariable(tensor.Ones(tensor.Shape{2}, tensor.Float64), false)
	_, err = autograd.BackwardFrom(ctx, noGrad, nil)
	assert.Error(t, err)

	x := leaf("x", tensor.Ones(tensor.Shape{2}, tensor.Float64))
	y := apply1(t, op("Exp"), x)
	_, err = autograd.BackwardFrom(ctx, y, tensor.Ones(tensor.Shape{3}, tensor.Float64))
	assert.Error(t, err)
	_, err = autograd.Backward(ctx, []autograd.Root{{Node: y.GradFn(), Slot: 1}})
	assert.Error(t, err)

	// Invalid roots leave accumulators and nodes untouched.
	assert.Nil(t, x.Grad())
	assert.False(t, y.GradFn().Released())
}

func TestEngine_GradientsAccumulateAcrossPasses(t *testing.T) {
	ctx := context.Background()
	x := leaf("x", tensor.MustFromFloat64s([]float64{1, -1}, tensor.Shape{2}))
	for range 2 {
		y := apply1(t, op("Mul"), x, x)
		_, err := autograd.BackwardFrom(ctx, y, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, []float64{4, -4}, x.Grad().Values())

	x.ZeroGrad()
	assert.Nil(t, x.Grad())
}

func TestEngine_ReleasedGraph(t *testing.T) {
	ctx := context.Background()
	x := leaf("x", tensor.MustFromFloat64s([]float64{0, 1}, tensor.Shape{2}))
	y := apply1(t, op("Exp"), x)

	var stats autograd.PassStats
	_, err := autograd.BackwardFrom(ctx, y, nil, autograd.WithStats(&stats))
	require.NoError(t, err)
	assert.True(t, y.GradFn().Released())
	assert.NotEmpty(t, stats.ID)
	assert.Equal(t, 2, stats.Nodes)
	assert.Equal(t, 1, stats.Executed)
	assert.Equal(t, 0, stats.Skipped)
	assert.Equal(t, 2*x.Data().ByteSize(), stats.ReleasedBytes)

	_, err = autograd.BackwardFrom(ctx, y, nil)
	assert.ErrorIs(t, err, autograd.ErrReleased)
	// The failed pass did not add to the gradient.
	assert.InDeltaSlice(t, []float64{1, math.E}, x.Grad().Values(), 1e-12)
}

func TestEngine_RetainGraph(t *testing.T) {
	ctx := context.Background()
	x := leaf("x", tensor.MustFromFloat64s([]float64{0, 1}, tensor.Shape{2}))
	y := apply1(t, op("Exp"), x)

	var stats autograd.PassStats
	for range 2 {
		_, err := autograd.BackwardFrom(ctx, y, nil, autograd.WithRetainGraph(true), autograd.WithStats(&stats))
		require.NoError(t, err)
		assert.False(t, y.GradFn().Released())
		assert.Zero(t, stats.ReleasedBytes)
	}
	assert.InDeltaSlice(t, []float64{2, 2 * math.E}, x.Grad().Values(), 1e-12)

	_, err := autograd.BackwardFrom(ctx, y, nil)
	require.NoError(t, err)
	_, err = autograd.BackwardFrom(ctx, y, nil)
	assert.ErrorIs(t, err, autograd.ErrReleased)
}

func TestEngine_Cancelled(t *testing.T) {
	for _, workers := range []int{1, 4} {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		x := leaf("x", tensor.Ones(tensor.Shape{2}, tensor.Float64))
		y := mergeGraph(t, x)
		_, err := autograd.BackwardFrom(ctx, y, nil, autograd.WithWorkers(workers))
		assert.ErrorIs(t, err, context.Canceled, "workers=%d", workers)
		assert.False(t, y.GradFn().Released(), "workers=%d", workers)
	}
}

func TestEngine_DelayedErrorRaisesAtBackward(t *testing.T) {
	ctx := context.Background()
	x := leaf("x", tensor.Ones(tensor.Shape{2}, tensor.Float64))
	outs, err := op("DelayedError", "in-place on a leaf").Apply(x)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, autograd.Error, outs[0].GradFn().Kind())
	assert.Same(t, x.Data(), outs[0].Data())

	// Further forward work is unaffected.
	y := apply1(t, op("Exp"), outs[0])

	_, err = autograd.BackwardFrom(ctx, y, nil)
	var deferred *autograd.DeferredError
	require.True(t, errors.As(err, &deferred), "got %v", err)
	assert.Equal(t, "in-place on a leaf", deferred.Msg)
	assert.Nil(t, x.Grad())

	// A pass that does not reach the Error node succeeds.
	z := apply1(t, op("Exp"), x)
	_, err = autograd.BackwardFrom(ctx, z, nil)
	require.NoError(t, err)
}

func TestEngine_DelayedErrorMultipleOutputs(t *testing.T) {
	a := leaf("a", tensor.Ones(tensor.Shape{2}, tensor.Float64))
	b := leaf("b", tensor.Ones(tensor.Shape{3}, tensor.Float64))
	outs, err := autograd.NewDelayedError("boom").Apply(a, b)
	require.NoError(t, err)
	require.Len(t, outs, 2)
	assert.Equal(t, 1, outs[1].OutputSlot())

	// Only the second output is used: the first is zero-filled and the node still fails.
	_, err = autograd.BackwardFrom(context.Background(), outs[1], nil, autograd.WithWorkers(2))
	var deferred *autograd.DeferredError
	assert.True(t, errors.As(err, &deferred), "got %v", err)
}

func TestEngine_UnreachableGradient(t *testing.T) {
	ctx := context.Background()
	x := leaf("x", tensor.Ones(tensor.Shape{2}, tensor.Float64))
	w := leaf("w", tensor.Ones(tensor.Shape{2}, tensor.Float64))
	v := leaf("v", tensor.Ones(tensor.Shape{2}, tensor.Float64))

	y := apply1(t, op("Exp"), x)
	_, err := autograd.BackwardFrom(ctx, y, nil, autograd.WithInputs(x, w), autograd.WithRetainGraph(true))
	var unreachable *autograd.UnreachableGradientError
	require.True(t, errors.As(err, &unreachable), "got %v", err)
	assert.Equal(t, "w", unreachable.Variable)

	_, err = autograd.BackwardFrom(ctx, y, nil, autograd.WithInputs(x, w, v), autograd.WithRetainGraph(true))
	assert.Len(t, multierr.Errors(err), 2)

	grads, err := autograd.BackwardFrom(ctx, y, nil, autograd.WithInputs(x, w), autograd.WithAllowUnused(true))
	require.NoError(t, err)
	require.Contains(t, grads, w)
	assert.Nil(t, grads[w])
	assert.NotNil(t, grads[x])
}

func TestEngine_InputsMustBeLeaves(t *testing.T) {
	x := leaf("x", tensor.Ones(tensor.Shape{2}, tensor.Float64))
	y := apply1(t, op("Exp"), x)
	z := apply1(t, op("Sin"), y)
	_, err := autograd.BackwardFrom(context.Background(), z, nil, autograd.WithInputs(y))
	assert.Error(t, err)
}

func TestEngine_ConcurrentPassesShareLeaf(t *testing.T) {
	x := leaf("x", tensor.MustFromFloat64s([]float64{1, 2, 3}, tensor.Shape{3}))
	const passes = 8
	var wg sync.WaitGroup
	errs := make([]error, passes)
	for i := range passes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			y, err := op("Mul").Apply(x, x)
			if err != nil {
				errs[i] = err
				return
			}
			_, errs[i] = autograd.BackwardFrom(context.Background(), y[0], nil, autograd.WithWorkers(2))
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, []float64{16, 32, 48}, x.Grad().Values())
}

func TestEngine_Float16Leaf(t *testing.T) {
	data := must.M1(tensor.FromValues([]float64{0.1, 1.7, -3.3}, tensor.Shape{3}, tensor.Float16))
	x := leaf("x", data)
	y := apply1(t, op("Mul"), x, x)
	grads, err := autograd.BackwardFrom(context.Background(), y, nil)
	require.NoError(t, err)
	g := grads[x]
	assert.Equal(t, tensor.Float16, g.DType())
	for i, v := range data.Values() {
		assert.Equal(t, tensor.Float16.Round(2*v), g.Values()[i])
	}
}

func TestEngine_BatchNormUpdatesRunningStats(t *testing.T) {
	runningMean := tensor.Zeros(tensor.Shape{2}, tensor.Float64)
	runningVar := tensor.Ones(tensor.Shape{2}, tensor.Float64)
	f := op("BatchNorm", runningMean, runningVar, true, 0.5, 1e-5, false)

	x := leaf("x", randTensor(5, tensor.Shape{4, 2, 3}, -1, 1))
	weight := leaf("weight", tensor.Ones(tensor.Shape{2}, tensor.Float64))
	y := apply1(t, f, x, weight, nil)
	assert.Equal(t, autograd.BatchNormBackward, y.GradFn().Kind())
	assert.Same(t, runningMean, must.M1(y.GradFn().Attr("running_mean")))
	assert.False(t, tensor.IsZero(runningMean), "running mean updated in place")

	proj := randTensor(6, tensor.Shape{4, 2, 3}, -1, 1)
	grads, err := autograd.BackwardFrom(context.Background(), y, proj, autograd.WithInputs(x, weight))
	require.NoError(t, err)
	assert.Equal(t, x.Data().Shape(), grads[x].Shape())
	assert.Equal(t, tensor.Shape{2}, grads[weight].Shape())
	// Normalization removes the mean, so the input gradient sums to zero per channel.
	assert.InDelta(t, 0, tensor.Sum(grads[x]), 1e-9)
}

// gatedQueue holds its first Pop until gate is closed and closes pushed on
// the first Push.
type gatedQueue struct {
	autograd.ReadyQueue
	pushed, gate      chan struct{}
	pushOnce, popOnce sync.Once
}

func (q *gatedQueue) Push(n *autograd.Node) {
	q.ReadyQueue.Push(n)
	q.pushOnce.Do(func() { close(q.pushed) })
}

func (q *gatedQueue) Pop() *autograd.Node {
	q.popOnce.Do(func() { <-q.gate })
	return q.ReadyQueue.Pop()
}

func TestEngine_DebugChecksOverlappingPasses(t *testing.T) {
	ctx := context.Background()
	data := []float64{0.5, 1}
	x := leaf("x", tensor.MustFromFloat64s(data, tensor.Shape{2}))
	a := apply1(t, op("Exp"), x)
	b := apply1(t, op("Sin"), x)
	ones := tensor.Ones(tensor.Shape{2}, tensor.Float64)

	held := &gatedQueue{ReadyQueue: autograd.NewPriorityQueue(), pushed: make(chan struct{}), gate: make(chan struct{})}
	errA := make(chan error, 1)
	go func() {
		_, err := autograd.BackwardFrom(ctx, a, ones, autograd.WithDebugChecks(true),
			autograd.WithQueue(func() autograd.ReadyQueue { return held }))
		errA <- err
	}()
	<-held.pushed

	gradsB, err := autograd.BackwardFrom(ctx, b, ones, autograd.WithDebugChecks(true))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{math.Cos(0.5), math.Cos(1)}, gradsB[x].Values(), 1e-12)

	close(held.gate)
	require.NoError(t, <-errA)
	want := []float64{math.Exp(0.5) + math.Cos(0.5), math.Exp(1) + math.Cos(1)}
	assert.InDeltaSlice(t, want, x.Grad().Values(), 1e-12)
}

func TestEngine_DebugChecksAfterAbortedPass(t *testing.T) {
	x := leaf("x", tensor.Ones(tensor.Shape{2}, tensor.Float64))
	y := mergeGraph(t, x)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := autograd.BackwardFrom(cancelled, y, nil, autograd.WithDebugChecks(true))
	require.ErrorIs(t, err, context.Canceled)

	grads, err := autograd.BackwardFrom(context.Background(), y, nil, autograd.WithDebugChecks(true))
	require.NoError(t, err)
	assert.NotNil(t, grads[x])
}
