package autograd

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/born-ml/autograd/internal/tensor"
)

// Root seeds a backward pass: Grad flows into output Slot of Node.
// A nil Grad means ones.
type Root struct {
	Node *Node
	Slot int
	Grad *tensor.Tensor
}

// RootOf returns the root for variable v. For a leaf the gradient goes
// straight to its accumulator.
func RootOf(v *Variable, grad *tensor.Tensor) Root {
	e := v.gradEdge()
	return Root{Node: e.Node, Slot: e.Slot, Grad: grad}
}

// Gradients maps leaves to their accumulated gradient.
type Gradients map[*Variable]*tensor.Tensor

// Engine runs backward passes.
//
// Each pass discovers the nodes reachable from its roots, counts for every
// node the edges that will deliver a gradient to it, and runs a node once
// that count drops to zero. Leaf gradients are summed into the leaves'
// Accumulators, which persist across passes.
//
// An Engine is safe for concurrent use; passes sharing leaves serialize on
// the accumulators.
type Engine struct {
	cfg Config
}

// NewEngine returns an engine whose passes default to DefaultConfig modified
// by opts.
func NewEngine(opts ...Option) *Engine {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{cfg: cfg}
}

var defaultEngine = NewEngine()

// Backward runs a pass on the default engine.
func Backward(ctx context.Context, roots []Root, opts ...Option) (Gradients, error) {
	return defaultEngine.Backward(ctx, roots, opts...)
}

// Backward runs one backward pass from roots.
//
// Without WithInputs the result holds every leaf that received a non-nil
// gradient in this pass. If the pass fails or ctx is cancelled midway, the
// accumulators it touched hold partial sums and should be reset before use.
func (e *Engine) Backward(ctx context.Context, roots []Root, opts ...Option) (Gradients, error) {
	cfg := e.cfg
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Queue == nil {
		cfg.Queue = NewPriorityQueue
	}

	start := time.Now()
	p := newPass(cfg)
	if err := p.prepare(roots); err != nil {
		return nil, err
	}
	var err error
	if cfg.Workers > 1 {
		err = p.runConcurrent(ctx)
	} else {
		err = p.run(ctx)
	}
	p.stats.Duration = time.Since(start)
	if cfg.Stats != nil {
		*cfg.Stats = p.stats
	}
	if err != nil {
		klog.V(1).Infof("backward pass %s aborted after %d of %d nodes: %v", p.id, p.stats.Executed, p.stats.Nodes, err)
		return nil, err
	}
	grads, err := p.complete()
	klog.V(1).Infof("backward pass %s: %d nodes, %d executed, %d skipped, released %s in %s",
		p.id, p.stats.Nodes, p.stats.Executed, p.stats.Skipped,
		humanize.Bytes(uint64(p.stats.ReleasedBytes)), p.stats.Duration)
	return grads, err
}

// pass is the state of one backward pass. Its maps are only touched by the
// coordinating goroutine.
type pass struct {
	id    string
	cfg   Config
	queue ReadyQueue
	stats PassStats

	// deps counts the edges still to deliver a gradient to each node.
	deps    map[*Node]int
	buffers map[*Node][]*tensor.Tensor

	// accumulators reached by this pass, and whether each got a non-nil
	// gradient.
	accs        []*Node
	contributed map[*Node]bool

	// expected and received count this pass's contributions to each
	// accumulator. Other passes sharing a leaf keep their own counts.
	expected, received map[*Node]int
}

func newPass(cfg Config) *pass {
	id := uuid.NewString()
	return &pass{
		id:          id,
		cfg:         cfg,
		queue:       cfg.Queue(),
		stats:       PassStats{ID: id},
		deps:        make(map[*Node]int),
		buffers:     make(map[*Node][]*tensor.Tensor),
		contributed: make(map[*Node]bool),
		expected:    make(map[*Node]int),
		received:    make(map[*Node]int),
	}
}

// prepare validates the roots, counts dependencies and seeds the root
// gradients. Nothing is accumulated unless every root is valid.
func (p *pass) prepare(roots []Root) error {
	if len(roots) == 0 {
		return errors.New("backward: no roots")
	}
	seeds := make([]*tensor.Tensor, len(roots))
	for i, r := range roots {
		if r.Node == nil {
			return errors.Errorf("backward: root %d does not require grad and has no grad_fn", i)
		}
		if r.Slot < 0 || r.Slot >= r.Node.NumOutputs() {
			return errors.Errorf("backward: root %d slot %d out of range for %s with %d outputs", i, r.Slot, r.Node, r.Node.NumOutputs())
		}
		meta := r.Node.outputs[r.Slot]
		switch {
		case r.Grad == nil:
			if meta.Shape.NumElements() != 1 {
				klog.Warningf("backward pass %s: implicit gradient of ones for non-scalar output %v of %s", p.id, meta.Shape, r.Node)
			}
			seeds[i] = tensor.Ones(meta.Shape, meta.DType)
		case !r.Grad.Shape().Equal(meta.Shape):
			return errors.Errorf("backward: root %d gradient has shape %v, %s output %d has shape %v",
				i, r.Grad.Shape(), r.Node, r.Slot, meta.Shape)
		default:
			seeds[i] = r.Grad
		}
	}

	p.discover(roots)
	rootHits := make(map[*Node]int)
	for _, r := range roots {
		if r.Node.acc != nil {
			rootHits[r.Node]++
		}
	}
	for _, n := range p.accs {
		p.expected[n] = p.deps[n] + rootHits[n]
	}

	queued := make(map[*Node]bool)
	for i, r := range roots {
		if r.Node.acc != nil {
			if err := p.deliver(r.Node, seeds[i]); err != nil {
				return err
			}
			continue
		}
		p.addToBuffer(r.Node, r.Slot, seeds[i])
		if p.deps[r.Node] == 0 && !queued[r.Node] {
			queued[r.Node] = true
			p.queue.Push(r.Node)
		}
	}
	return nil
}

// discover walks the graph from the roots and counts, for every reachable
// node, the valid edges pointing at it.
func (p *pass) discover(roots []Root) {
	seen := make(map[*Node]bool)
	var stack []*Node
	visit := func(n *Node) {
		if seen[n] {
			return
		}
		seen[n] = true
		stack = append(stack, n)
		if n.acc != nil {
			p.accs = append(p.accs, n)
		}
	}
	for _, r := range roots {
		visit(r.Node)
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range n.next {
			if e.IsValid() {
				p.deps[e.Node]++
				visit(e.Node)
			}
		}
	}
	p.stats.Nodes = len(seen)
}

// run executes the pass on the calling goroutine.
func (p *pass) run(ctx context.Context) error {
	for p.queue.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "backward pass %s interrupted", p.id)
		}
		n := p.queue.Pop()
		grads, ok := p.take(n)
		if !ok {
			if err := p.skip(n); err != nil {
				return err
			}
			continue
		}
		inputGrads, released, err := p.execute(n, grads)
		if err != nil {
			return err
		}
		p.stats.Executed++
		p.stats.ReleasedBytes += released
		if err := p.route(n, inputGrads); err != nil {
			return err
		}
	}
	return nil
}

type nodeResult struct {
	node     *Node
	grads    []*tensor.Tensor
	released int
	err      error
}

// runConcurrent executes ready nodes on up to cfg.Workers goroutines.
// Routing, dependency counting and queueing stay on the calling goroutine.
func (p *pass) runConcurrent(ctx context.Context) error {
	var eg errgroup.Group
	eg.SetLimit(p.cfg.Workers)
	// Every node is sent at most once, so sends never block.
	results := make(chan nodeResult, p.stats.Nodes)
	inflight := 0
	var firstErr error
	for {
		for firstErr == nil && p.queue.Len() > 0 {
			if err := ctx.Err(); err != nil {
				firstErr = errors.Wrapf(err, "backward pass %s interrupted", p.id)
				break
			}
			n := p.queue.Pop()
			grads, ok := p.take(n)
			if !ok {
				firstErr = p.skip(n)
				continue
			}
			inflight++
			eg.Go(func() error {
				inputGrads, released, err := p.execute(n, grads)
				results <- nodeResult{node: n, grads: inputGrads, released: released, err: err}
				return err
			})
		}
		if inflight == 0 {
			break
		}
		r := <-results
		inflight--
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		p.stats.Executed++
		p.stats.ReleasedBytes += r.released
		if firstErr == nil {
			firstErr = p.route(r.node, r.grads)
		}
	}
	if err := eg.Wait(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// take removes the gradient buffer of n. It reports false when no gradient
// arrived for any output.
func (p *pass) take(n *Node) ([]*tensor.Tensor, bool) {
	buf := p.buffers[n]
	delete(p.buffers, n)
	for _, g := range buf {
		if g != nil {
			return buf, true
		}
	}
	return nil, false
}

// skip propagates "no gradient" from a node that received none.
func (p *pass) skip(n *Node) error {
	klog.V(2).Infof("backward pass %s: %s received no gradient, skipped", p.id, n)
	p.stats.Skipped++
	return p.route(n, make([]*tensor.Tensor, len(n.next)))
}

// execute runs one node. It may run on a worker goroutine.
func (p *pass) execute(n *Node, grads []*tensor.Tensor) ([]*tensor.Tensor, int, error) {
	if klog.V(2).Enabled() {
		missing := 0
		for _, g := range grads {
			if g == nil {
				missing++
			}
		}
		klog.Infof("backward pass %s: running %s (%d of %d output gradients zero-filled)", p.id, n, missing, len(grads))
	}
	inputGrads, err := n.Backward(grads)
	if err != nil {
		return nil, 0, err
	}
	released := 0
	if !p.cfg.RetainGraph {
		released = n.release()
		klog.V(3).Infof("backward pass %s: %s released %s", p.id, n, humanize.Bytes(uint64(released)))
	}
	return inputGrads, released, nil
}

// route sends the input gradients of n along its edges.
func (p *pass) route(n *Node, grads []*tensor.Tensor) error {
	for i, e := range n.next {
		if !e.IsValid() {
			continue
		}
		target := e.Node
		if target.acc != nil {
			if err := p.deliver(target, grads[i]); err != nil {
				return err
			}
			continue
		}
		if grads[i] != nil {
			p.addToBuffer(target, e.Slot, grads[i])
		}
		p.deps[target]--
		if p.deps[target] == 0 {
			p.queue.Push(target)
		}
	}
	return nil
}

func (p *pass) deliver(accNode *Node, grad *tensor.Tensor) error {
	p.received[accNode]++
	if grad != nil {
		p.contributed[accNode] = true
	}
	if err := accNode.acc.Accumulate(grad); err != nil {
		return errors.WithMessagef(err, "backward pass %s", p.id)
	}
	return nil
}

// addToBuffer sums grad into output slot of n. Buffered tensors are never
// modified in place since a backward function may return the same tensor for
// several inputs.
func (p *pass) addToBuffer(n *Node, slot int, grad *tensor.Tensor) {
	buf := p.buffers[n]
	if buf == nil {
		buf = make([]*tensor.Tensor, n.NumOutputs())
		p.buffers[n] = buf
	}
	if buf[slot] == nil {
		buf[slot] = grad
	} else {
		buf[slot] = tensor.Add(buf[slot], grad)
	}
}

// complete checks the accumulators and builds the result.
func (p *pass) complete() (Gradients, error) {
	if p.cfg.DebugChecks {
		for _, n := range p.accs {
			if p.received[n] < p.expected[n] {
				return nil, errors.WithStack(&IncompleteAccumulationError{
					Variable: n.acc.variable.String(), Expected: p.expected[n], Received: p.received[n],
				})
			}
		}
	}

	grads := make(Gradients)
	if len(p.cfg.Inputs) == 0 {
		for n := range p.contributed {
			grads[n.acc.variable] = n.acc.Grad()
		}
		return grads, nil
	}

	var errs error
	for _, v := range p.cfg.Inputs {
		node := v.accumulatorNode()
		switch {
		case node == nil:
			errs = multierr.Append(errs, errors.Errorf("%s is not a leaf that requires grad", v))
		case p.contributed[node]:
			grads[v] = node.acc.Grad()
		case p.cfg.AllowUnused:
			grads[v] = nil
		default:
			errs = multierr.Append(errs, &UnreachableGradientError{Variable: v.String()})
		}
	}
	if errs != nil {
		return nil, errs
	}
	return grads, nil
}

// BackwardFrom runs a pass on the default engine seeded at v.
// A nil grad means ones.
func BackwardFrom(ctx context.Context, v *Variable, grad *tensor.Tensor, opts ...Option) (Gradients, error) {
	return Backward(ctx, []Root{RootOf(v, grad)}, opts...)
}
