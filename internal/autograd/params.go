package autograd

import (
	"slices"

	"github.com/born-ml/autograd/internal/backend/cpu"
	"github.com/born-ml/autograd/internal/tensor"
)

// BatchNormParams is the parameter record of BatchNorm.
//
// RunningMean and RunningVar are referenced, not copied: training mode
// updates their contents in place.
type BatchNormParams struct {
	RunningMean  *tensor.Tensor
	RunningVar   *tensor.Tensor
	Training     bool
	Momentum     float64
	Eps          float64
	CudnnEnabled bool
}

var batchNormFields = []string{"running_mean", "running_var", "training", "momentum", "eps", "cudnn_enabled"}

func parseBatchNorm(args []any) (BatchNormParams, error) {
	p, err := newArgParser(BatchNorm, batchNormFields, args)
	if err != nil {
		return BatchNormParams{}, err
	}
	params := BatchNormParams{
		RunningMean:  p.OptionalTensor(0),
		RunningVar:   p.OptionalTensor(1),
		Training:     p.Bool(2),
		Momentum:     p.Float(3),
		Eps:          p.Float(4),
		CudnnEnabled: p.Bool(5),
	}
	return params, p.Err()
}

func (bp *BatchNormParams) fields() fieldTable {
	return fieldTable{
		{"running_mean", func() any { return bp.RunningMean }},
		{"running_var", func() any { return bp.RunningVar }},
		{"training", func() any { return bp.Training }},
		{"momentum", func() any { return bp.Momentum }},
		{"eps", func() any { return bp.Eps }},
		{"cudnn_enabled", func() any { return bp.CudnnEnabled }},
	}
}

// ConvParams is the parameter record of ConvNd.
// Sequences hold one entry per spatial dimension.
type ConvParams struct {
	Stride        []int
	Padding       []int
	Dilation      []int
	Transposed    bool
	OutputPadding []int
	Groups        int
	Benchmark     bool
	CudnnEnabled  bool
}

var convFields = []string{"stride", "padding", "dilation", "transposed", "output_padding", "groups", "benchmark", "cudnn_enabled"}

func parseConv(args []any) (ConvParams, error) {
	p, err := newArgParser(ConvNd, convFields, args)
	if err != nil {
		return ConvParams{}, err
	}
	params := ConvParams{
		Stride:        p.Ints(0),
		Padding:       p.Ints(1),
		Dilation:      p.Ints(2),
		Transposed:    p.Bool(3),
		OutputPadding: p.Ints(4),
		Groups:        p.Int(5),
		Benchmark:     p.Bool(6),
		CudnnEnabled:  p.Bool(7),
	}
	return params, p.Err()
}

func (cp *ConvParams) fields() fieldTable {
	return fieldTable{
		{"stride", func() any { return slices.Clone(cp.Stride) }},
		{"padding", func() any { return slices.Clone(cp.Padding) }},
		{"dilation", func() any { return slices.Clone(cp.Dilation) }},
		{"transposed", func() any { return cp.Transposed }},
		{"output_padding", func() any { return slices.Clone(cp.OutputPadding) }},
		{"groups", func() any { return cp.Groups }},
		{"benchmark", func() any { return cp.Benchmark }},
		{"cudnn_enabled", func() any { return cp.CudnnEnabled }},
	}
}

func (cp *ConvParams) clone() ConvParams {
	c := *cp
	c.Stride = slices.Clone(cp.Stride)
	c.Padding = slices.Clone(cp.Padding)
	c.Dilation = slices.Clone(cp.Dilation)
	c.OutputPadding = slices.Clone(cp.OutputPadding)
	return c
}

func (cp *ConvParams) geometry() cpu.ConvGeometry {
	return cpu.ConvGeometry{
		Stride:        cp.Stride,
		Padding:       cp.Padding,
		Dilation:      cp.Dilation,
		OutputPadding: cp.OutputPadding,
		Transposed:    cp.Transposed,
		Groups:        cp.Groups,
	}
}

var delayedErrorFields = []string{"msg"}

func parseDelayedError(args []any) (string, error) {
	p, err := newArgParser(DelayedError, delayedErrorFields, args)
	if err != nil {
		return "", err
	}
	msg := p.String(0)
	return msg, p.Err()
}

// PointwiseParams holds the scalar parameters of the pointwise kinds.
// Each kind uses the subset named by its field list; the rest stay zero.
type PointwiseParams struct {
	Min, Max float64 // Clamp
	Constant float64 // CmaxConstant, CminConstant
	Divisor  float64 // Fmod, Remainder
	Weight   float64 // Lerp
	Scale    float64 // Addcmul, Addcdiv
}

// pointwiseFields lists the positional fields of the parameterized pointwise
// kinds. Kinds missing here take no arguments.
var pointwiseFields = map[Kind][]string{
	Clamp:        {"min_val", "max_val"},
	CmaxConstant: {"constant"},
	CminConstant: {"constant"},
	Fmod:         {"divisor"},
	Remainder:    {"divisor"},
	Lerp:         {"weight"},
	Addcmul:      {"scale"},
	Addcdiv:      {"scale"},
}

func parsePointwise(kind Kind, args []any) (PointwiseParams, error) {
	names := pointwiseFields[kind]
	p, err := newArgParser(kind, names, args)
	if err != nil {
		return PointwiseParams{}, err
	}
	var params PointwiseParams
	for i, name := range names {
		*params.slot(name) = p.Float(i)
	}
	return params, p.Err()
}

func (pp *PointwiseParams) slot(name string) *float64 {
	switch name {
	case "min_val":
		return &pp.Min
	case "max_val":
		return &pp.Max
	case "constant":
		return &pp.Constant
	case "divisor":
		return &pp.Divisor
	case "weight":
		return &pp.Weight
	case "scale":
		return &pp.Scale
	}
	return nil
}

func (pp *PointwiseParams) fields(kind Kind) fieldTable {
	names := pointwiseFields[kind]
	table := make(fieldTable, len(names))
	for i, name := range names {
		ptr := pp.slot(name)
		table[i] = field{name, func() any { return *ptr }}
	}
	return table
}
