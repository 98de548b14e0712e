package autograd

import (
	"slices"

	"github.com/pkg/errors"
)

// KindInfo describes a kind for introspection.
type KindInfo struct {
	Kind Kind
	// Backward is the kind of node the function records, empty for
	// backward-only kinds.
	Backward Kind
	// Fields are the readable parameter names, in construction order for
	// constructible kinds.
	Fields        []string
	Constructible bool
	// Inputs names the tensor inputs of Apply; a trailing "?" marks an
	// optional one.
	Inputs []string
}

type constructor func(args []any) (Function, error)

type registryEntry struct {
	info KindInfo
	ctor constructor
}

var registry = buildRegistry()

func buildRegistry() map[Kind]registryEntry {
	r := make(map[Kind]registryEntry)
	forward := func(kind Kind, fields, inputs []string, ctor constructor) {
		r[kind] = registryEntry{
			info: KindInfo{Kind: kind, Backward: BackwardKind(kind), Fields: fields, Constructible: ctor != nil, Inputs: inputs},
			ctor: ctor,
		}
	}
	backwardOnly := func(kind Kind, fields []string) {
		r[kind] = registryEntry{info: KindInfo{Kind: kind, Fields: fields}}
	}

	forward(BatchNorm, batchNormFields, []string{"input", "weight?", "bias?"}, func(args []any) (Function, error) {
		p, err := parseBatchNorm(args)
		if err != nil {
			return nil, err
		}
		return NewBatchNorm(p), nil
	})
	backwardOnly(BatchNormBackward, batchNormFields)

	forward(ConvNd, convFields, []string{"input", "weight", "bias?"}, func(args []any) (Function, error) {
		p, err := parseConv(args)
		if err != nil {
			return nil, err
		}
		return NewConvNd(p), nil
	})
	backwardOnly(ConvNdBackward, convFields)

	forward(DelayedError, delayedErrorFields, []string{"inputs..."}, func(args []any) (Function, error) {
		msg, err := parseDelayedError(args)
		if err != nil {
			return nil, err
		}
		return NewDelayedError(msg), nil
	})
	backwardOnly(Error, delayedErrorFields)

	// Created by the engine or through their Go constructors only.
	forward(Add, nil, []string{"a", "b"}, nil)
	backwardOnly(AddBackward, nil)
	forward(Clone, nil, []string{"input"}, nil)
	backwardOnly(Identity, nil)
	backwardOnly(AccumulateGrad, []string{"variable"})

	for _, kind := range PointwiseKinds() {
		fields := pointwiseFields[kind]
		inputs := []string{"input", "other", "tensor2"}[:PointwiseArity(kind)]
		forward(kind, fields, inputs, func(args []any) (Function, error) {
			p, err := parsePointwise(kind, args)
			if err != nil {
				return nil, err
			}
			return NewPointwise(kind, p)
		})
		backwardOnly(BackwardKind(kind), fields)
	}
	return r
}

// Construct creates a Function from a kind name and its positional
// parameters.
//
// It fails with ErrUnknownKind for unknown names, ErrNotConstructible for
// backward-only kinds, *ArityError for a wrong argument count and *TypeError
// for an argument that cannot be decoded. Construction never touches the
// graph.
func Construct(kind string, args ...any) (Function, error) {
	e, ok := registry[Kind(kind)]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownKind, "%q", kind)
	}
	if e.ctor == nil {
		return nil, errors.Wrapf(ErrNotConstructible, "%s", kind)
	}
	return e.ctor(args)
}

// Lookup describes a kind.
func Lookup(kind string) (KindInfo, error) {
	e, ok := registry[Kind(kind)]
	if !ok {
		return KindInfo{}, errors.Wrapf(ErrUnknownKind, "%q", kind)
	}
	info := e.info
	info.Fields = slices.Clone(info.Fields)
	info.Inputs = slices.Clone(info.Inputs)
	return info, nil
}

// Kinds returns every registered kind, sorted.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// ConstructibleKinds returns the kinds accepted by Construct, sorted.
func ConstructibleKinds() []Kind {
	var kinds []Kind
	for _, k := range Kinds() {
		if registry[k].ctor != nil {
			kinds = append(kinds, k)
		}
	}
	return kinds
}
