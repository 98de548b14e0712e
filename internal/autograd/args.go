package autograd

import (
	"fmt"

	"golang.org/x/exp/constraints"

	"github.com/born-ml/autograd/internal/tensor"
)

// argParser decodes a positional construction argument list.
//
// The first decoding failure is kept and every later accessor returns the
// zero value, so constructors can decode all fields and check Err once.
type argParser struct {
	kind  Kind
	names []string
	args  []any
	err   error
}

func newArgParser(kind Kind, names []string, args []any) (*argParser, error) {
	if len(args) != len(names) {
		return nil, &ArityError{Kind: kind, Want: len(names), Got: len(args)}
	}
	return &argParser{kind: kind, names: names, args: args}, nil
}

// Err returns the first decoding error, if any.
func (p *argParser) Err() error {
	return p.err
}

func (p *argParser) fail(i int, want string) {
	if p.err != nil {
		return
	}
	got := "<nil>"
	if p.args[i] != nil {
		got = fmt.Sprintf("%T", p.args[i])
	}
	p.err = &TypeError{Kind: p.kind, Index: i, Field: p.names[i], Want: want, Got: got}
}

// Int decodes any Go integer type, bool excluded.
func (p *argParser) Int(i int) int {
	if p.err != nil {
		return 0
	}
	v, ok := toInt(p.args[i])
	if !ok {
		p.fail(i, "int")
	}
	return v
}

// Float decodes floats and integers.
func (p *argParser) Float(i int) float64 {
	if p.err != nil {
		return 0
	}
	v, ok := toFloat(p.args[i])
	if !ok {
		p.fail(i, "float")
	}
	return v
}

// Bool decodes bool only.
func (p *argParser) Bool(i int) bool {
	if p.err != nil {
		return false
	}
	v, ok := p.args[i].(bool)
	if !ok {
		p.fail(i, "bool")
	}
	return v
}

// Ints decodes []int, []int32 or []int64 into a fresh []int.
func (p *argParser) Ints(i int) []int {
	if p.err != nil {
		return nil
	}
	var out []int
	switch x := p.args[i].(type) {
	case []int:
		out = convertInts(x)
	case []int32:
		out = convertInts(x)
	case []int64:
		out = convertInts(x)
	default:
		p.fail(i, "sequence of int")
	}
	return out
}

// OptionalTensor decodes a *tensor.Tensor or nil.
func (p *argParser) OptionalTensor(i int) *tensor.Tensor {
	if p.err != nil {
		return nil
	}
	switch x := p.args[i].(type) {
	case nil:
		return nil
	case *tensor.Tensor:
		return x
	}
	p.fail(i, "optional tensor")
	return nil
}

// String decodes a string.
func (p *argParser) String(i int) string {
	if p.err != nil {
		return ""
	}
	v, ok := p.args[i].(string)
	if !ok {
		p.fail(i, "string")
	}
	return v
}

func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int8:
		return convertInt(x)
	case int16:
		return convertInt(x)
	case int32:
		return convertInt(x)
	case int64:
		return convertInt(x)
	case uint:
		return convertInt(x)
	case uint8:
		return convertInt(x)
	case uint16:
		return convertInt(x)
	case uint32:
		return convertInt(x)
	case uint64:
		return convertInt(x)
	}
	return 0, false
}

// convertInt fails on values that do not fit in an int.
func convertInt[T constraints.Integer](v T) (int, bool) {
	r := int(v)
	if T(r) != v || (r < 0) != (v < 0) {
		return 0, false
	}
	return r, true
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return convertFloat(x), true
	}
	if i, ok := toInt(v); ok {
		return float64(i), true
	}
	return 0, false
}

func convertFloat[T constraints.Integer | constraints.Float](v T) float64 {
	return float64(v)
}

func convertInts[T constraints.Integer](xs []T) []int {
	out := make([]int, len(xs))
	for i, x := range xs {
		out[i] = int(x)
	}
	return out
}
