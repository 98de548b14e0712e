package autograd

import (
	"slices"
	"time"
)

// Config controls a backward pass.
type Config struct {
	// RetainGraph keeps saved buffers after nodes run, so the graph can be
	// differentiated again.
	RetainGraph bool

	// Workers is the number of node backward computations run concurrently.
	// Values below 2 run the pass on the calling goroutine.
	Workers int

	// DebugChecks verifies at the end of a pass that every reached
	// accumulator received all its expected contributions.
	DebugChecks bool

	// Inputs restricts the result to these leaves and makes a leaf that
	// receives no gradient an error, unless AllowUnused is set.
	Inputs      []*Variable
	AllowUnused bool

	// Queue creates the ready queue of each pass. Defaults to NewPriorityQueue.
	Queue QueueFactory

	// Stats, when set, receives the statistics of the pass.
	Stats *PassStats
}

// DefaultConfig returns the configuration used by NewEngine without options.
func DefaultConfig() Config {
	return Config{
		Workers: 1,
		Queue:   NewPriorityQueue,
	}
}

// Option modifies a Config.
type Option func(*Config)

// WithRetainGraph keeps saved buffers for later passes.
func WithRetainGraph(retain bool) Option {
	return func(c *Config) { c.RetainGraph = retain }
}

// WithWorkers runs up to n node computations concurrently.
func WithWorkers(n int) Option {
	return func(c *Config) { c.Workers = n }
}

// WithDebugChecks enables the end-of-pass accumulator consistency check.
func WithDebugChecks(enabled bool) Option {
	return func(c *Config) { c.DebugChecks = enabled }
}

// WithInputs restricts the returned gradients to the given leaves.
func WithInputs(inputs ...*Variable) Option {
	return func(c *Config) { c.Inputs = slices.Clone(inputs) }
}

// WithAllowUnused accepts requested inputs that receive no gradient; they
// map to nil in the result.
func WithAllowUnused(allow bool) Option {
	return func(c *Config) { c.AllowUnused = allow }
}

// WithQueue sets the ready queue factory.
func WithQueue(factory QueueFactory) Option {
	return func(c *Config) { c.Queue = factory }
}

// WithStats stores the pass statistics into dst.
func WithStats(dst *PassStats) Option {
	return func(c *Config) { c.Stats = dst }
}

// PassStats summarizes one backward pass.
type PassStats struct {
	ID       string
	Nodes    int
	Executed int
	// Skipped counts nodes that received no gradient at all.
	Skipped       int
	ReleasedBytes int
	Duration      time.Duration
}
