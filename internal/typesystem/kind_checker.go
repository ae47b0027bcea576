package typesystem

import "fmt"

// KindCheck validates that t is well-kinded and returns its kind. Tuple,
// record, union and function components must all be proper types (kind *);
// an application consumes one arrow per argument from its constructor's
// kind.
func KindCheck(t Type) (Kind, error) {
	if t == nil {
		return nil, fmt.Errorf("cannot check kind of nil type")
	}

	switch typ := t.(type) {
	case TCon:
		return typ.Kind(), nil
	case TVar:
		return typ.Kind(), nil
	case TApp:
		return checkAppKind(typ)
	case TTuple:
		if err := properTypes("tuple element", typ.Elements); err != nil {
			return nil, err
		}
		return Star, nil
	case TRecord:
		for name, field := range typ.Fields {
			k, err := KindCheck(field)
			if err != nil {
				return nil, err
			}
			if !k.Equal(Star) {
				return nil, fmt.Errorf("record field %s must be a type (kind *), got kind %s", name, k)
			}
		}
		return Star, nil
	case TUnion:
		if err := properTypes("union member", typ.Types); err != nil {
			return nil, err
		}
		return Star, nil
	case TFunc:
		if err := properTypes("function parameter", typ.Params); err != nil {
			return nil, err
		}
		k, err := KindCheck(typ.ReturnType)
		if err != nil {
			return nil, err
		}
		if !k.Equal(Star) {
			return nil, fmt.Errorf("function return type must be a type (kind *), got kind %s", k)
		}
		return Star, nil
	default:
		return Star, nil
	}
}

func properTypes(what string, types []Type) error {
	for _, t := range types {
		k, err := KindCheck(t)
		if err != nil {
			return err
		}
		if !k.Equal(Star) {
			return fmt.Errorf("%s must be a type (kind *), got kind %s", what, k)
		}
	}
	return nil
}

// checkAppKind folds the arguments through the constructor's arrow kind.
// Applying a type variable stays permissive: an unannotated variable is
// assumed to have whatever higher kind its use demands.
func checkAppKind(t TApp) (Kind, error) {
	curr, err := KindCheck(t.Constructor)
	if err != nil {
		return nil, err
	}
	_, varHead := t.Constructor.(TVar)

	for _, arg := range t.Args {
		kArg, err := KindCheck(arg)
		if err != nil {
			return nil, err
		}
		arrow, ok := curr.(KArrow)
		if !ok {
			if varHead {
				curr = Star
				continue
			}
			return nil, fmt.Errorf("cannot apply type argument to non-function kind %s", curr)
		}
		if !anyKind(arrow.Left) && !anyKind(kArg) && !arrow.Left.Equal(kArg) {
			return nil, fmt.Errorf("kind mismatch in application: expected argument of kind %s, got %s", arrow.Left, kArg)
		}
		curr = arrow.Right
	}
	return curr, nil
}

func anyKind(k Kind) bool {
	_, ok := k.(KWildcard)
	return ok
}
