package autograd

import (
	"container/heap"
	"math/rand/v2"
)

// ReadyQueue holds the nodes whose dependencies are satisfied.
//
// Any order gives the same gradients; the order only changes when saved
// buffers are released. A queue is used by a single pass and needs no
// locking.
type ReadyQueue interface {
	Push(n *Node)
	// Pop removes and returns the next node. It is only called when Len() > 0.
	Pop() *Node
	Len() int
}

// QueueFactory creates an empty queue for one backward pass.
type QueueFactory func() ReadyQueue

// NewPriorityQueue returns the default queue: the node created last during
// the forward pass runs first, so buffers of late operations are freed
// before earlier ones are needed.
func NewPriorityQueue() ReadyQueue {
	return &priorityQueue{}
}

type priorityQueue struct {
	nodes nodeHeap
}

func (q *priorityQueue) Push(n *Node) { heap.Push(&q.nodes, n) }
func (q *priorityQueue) Pop() *Node   { return heap.Pop(&q.nodes).(*Node) }
func (q *priorityQueue) Len() int     { return len(q.nodes) }

// nodeHeap implements heap.Interface ordered by descending sequence number.
type nodeHeap []*Node

func (h nodeHeap) Len() int           { return len(h) }
func (h nodeHeap) Less(i, j int) bool { return h[i].seq > h[j].seq }
func (h nodeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *nodeHeap) Push(x any) { *h = append(*h, x.(*Node)) }

func (h *nodeHeap) Pop() any {
	old := *h
	n := old[len(old)-1]
	old[len(old)-1] = nil
	*h = old[:len(old)-1]
	return n
}

// NewFIFOQueue returns a queue that runs nodes in the order they became ready.
func NewFIFOQueue() ReadyQueue {
	return &fifoQueue{}
}

type fifoQueue struct {
	nodes []*Node
}

func (q *fifoQueue) Push(n *Node) { q.nodes = append(q.nodes, n) }

func (q *fifoQueue) Pop() *Node {
	n := q.nodes[0]
	q.nodes[0] = nil
	q.nodes = q.nodes[1:]
	return n
}

func (q *fifoQueue) Len() int { return len(q.nodes) }

// NewShuffledQueue returns a queue that pops a random ready node.
// It exists to check that results do not depend on execution order.
func NewShuffledQueue(rng *rand.Rand) ReadyQueue {
	return &shuffledQueue{rng: rng}
}

type shuffledQueue struct {
	rng   *rand.Rand
	nodes []*Node
}

func (q *shuffledQueue) Push(n *Node) { q.nodes = append(q.nodes, n) }

func (q *shuffledQueue) Pop() *Node {
	i := q.rng.IntN(len(q.nodes))
	last := len(q.nodes) - 1
	q.nodes[i], q.nodes[last] = q.nodes[last], q.nodes[i]
	n := q.nodes[last]
	q.nodes[last] = nil
	q.nodes = q.nodes[:last]
	return n
}

func (q *shuffledQueue) Len() int { return len(q.nodes) }
