package coherence

import (
	"fmt"
	"reflect"

	"github.com/funvibe/funtrait/internal/typesystem"
)

// ShapeKind classifies the outermost constructor of a receiver type.
type ShapeKind uint8

const (
	ShapeNamed ShapeKind = iota + 1
	ShapeTuple
	ShapeRecord
	ShapeFunc
)

// Shape is the coarse bucketing key for receiver types: two impls whose
// self types simplify to different shapes can never overlap, so the graph
// skips comparing them. It is a pure pre-filter; correctness never depends
// on it.
type Shape struct {
	Kind  ShapeKind
	Name  string
	Arity int
}

func (s Shape) String() string {
	switch s.Kind {
	case ShapeNamed:
		if s.Arity > 0 {
			return fmt.Sprintf("%s/%d", s.Name, s.Arity)
		}
		return s.Name
	case ShapeTuple:
		return fmt.Sprintf("tuple/%d", s.Arity)
	case ShapeRecord:
		return "record"
	case ShapeFunc:
		return fmt.Sprintf("func/%d", s.Arity)
	default:
		return "<no shape>"
	}
}

// Simplify computes the shape key for a self type, or false for blanket
// impls (types with no concrete outermost constructor).
//
// Aliases are expanded first, through the resolver when one is available
// and through expansions carried inline on the type otherwise. Without this
// an impl for an alias and an impl for its target would land in different
// buckets and never be compared, while the strict overlap mode (which also
// expands aliases) says they can overlap.
func Simplify(t typesystem.Type, resolver typesystem.Resolver) (Shape, bool) {
	if resolver != nil {
		t = resolver.ResolveTypeAlias(t)
	}

	for {
		switch tt := t.(type) {
		case typesystem.TCon:
			if tt.UnderlyingType != nil {
				t = tt.UnderlyingType
				continue
			}
		case typesystem.TApp:
			expanded := typesystem.ExpandTypeAlias(tt)
			if !reflect.DeepEqual(expanded, t) {
				t = expanded
				continue
			}
		}
		break
	}

	switch t := t.(type) {
	case typesystem.TCon:
		// Key on the bare name: the overlap check matches a qualified and
		// an unqualified reference to the same constructor, so their impls
		// must share a bucket.
		return Shape{Kind: ShapeNamed, Name: t.Name}, true
	case typesystem.TApp:
		if head, ok := t.Constructor.(typesystem.TCon); ok {
			return Shape{Kind: ShapeNamed, Name: head.Name, Arity: len(t.Args)}, true
		}
		// Variable-headed application: fully generic
		return Shape{}, false
	case typesystem.TTuple:
		return Shape{Kind: ShapeTuple, Arity: len(t.Elements)}, true
	case typesystem.TRecord:
		if t.IsOpen || t.Row != nil {
			return Shape{}, false
		}
		return Shape{Kind: ShapeRecord}, true
	case typesystem.TFunc:
		if t.IsVariadic {
			return Shape{}, false
		}
		return Shape{Kind: ShapeFunc, Arity: len(t.Params)}, true
	default:
		// Type variables, unions and anything else stay blanket.
		return Shape{}, false
	}
}
