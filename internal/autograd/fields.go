package autograd

import (
	"github.com/pkg/errors"
)

// NextFunctionsField is the field every Node exposes besides its kind's
// parameters: the node's outgoing edges as []Edge.
const NextFunctionsField = "next_functions"

// field is one read-only attribute of a parameter record.
type field struct {
	name string
	get  func() any
}

type fieldTable []field

func (t fieldTable) names() []string {
	names := make([]string, len(t))
	for i, f := range t {
		names[i] = f.name
	}
	return names
}

func (t fieldTable) attr(kind Kind, name string) (any, error) {
	for _, f := range t {
		if f.name == name {
			return f.get(), nil
		}
	}
	return nil, errors.Wrapf(ErrNoSuchField, "%s has no field %q", kind, name)
}
