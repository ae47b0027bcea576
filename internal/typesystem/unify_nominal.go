package typesystem

import (
	"fmt"
	"reflect"
)

// UnifyNominal attempts to unify t1 and t2 by name rather than by
// structure. Aliases are never expanded, record fields must match
// exactly, and constructor variables are never solved against concrete
// constructors. This is the engine behind the legacy overlap mode;
// structural checks use Unify.
//
// No co-induction is needed here: definitions are never expanded, so the
// recursion is bounded by the syntactic size of the inputs.
func UnifyNominal(t1, t2 Type) (Subst, error) {
	if reflect.DeepEqual(t1, t2) {
		return Subst{}, nil
	}

	switch t1 := t1.(type) {
	case TVar:
		return Bind(t1, t2)
	case TCon:
		switch t2 := t2.(type) {
		case TVar:
			return Bind(t2, t1)
		case TCon:
			if sameCon(t1, t2) {
				return Subst{}, nil
			}
			return nil, errUnifyMsg(t1, t2, "type constant mismatch")
		default:
			return nil, errUnify(t1, t2)
		}
	case TApp:
		switch t2 := t2.(type) {
		case TVar:
			return Bind(t2, t1)
		case TApp:
			s1, err := unifyNominalConstructors(t1.Constructor, t2.Constructor)
			if err != nil {
				return nil, err
			}
			if len(t1.Args) != len(t2.Args) {
				return nil, errMismatch(fmt.Sprintf("type arguments length mismatch: %d vs %d", len(t1.Args), len(t2.Args)))
			}
			for i := 0; i < len(t1.Args); i++ {
				s2, err := UnifyNominal(t1.Args[i].Apply(s1), t2.Args[i].Apply(s1))
				if err != nil {
					return nil, err
				}
				s1 = s1.Compose(s2)
			}
			return s1, nil
		default:
			return nil, errUnify(t1, t2)
		}
	case TTuple:
		switch t2 := t2.(type) {
		case TVar:
			return Bind(t2, t1)
		case TTuple:
			if len(t1.Elements) != len(t2.Elements) {
				return nil, errMismatch(fmt.Sprintf("tuple length mismatch: %d vs %d", len(t1.Elements), len(t2.Elements)))
			}
			s1 := Subst{}
			for i := 0; i < len(t1.Elements); i++ {
				s2, err := UnifyNominal(t1.Elements[i].Apply(s1), t2.Elements[i].Apply(s1))
				if err != nil {
					return nil, err
				}
				s1 = s1.Compose(s2)
			}
			return s1, nil
		default:
			return nil, errUnifyMsg(t1, t2, "cannot unify tuple")
		}
	case TRecord:
		switch t2 := t2.(type) {
		case TVar:
			return Bind(t2, t1)
		case TRecord:
			return unifyNominalRecords(t1, t2)
		default:
			return nil, errUnifyMsg(t1, t2, "cannot unify record")
		}
	case TUnion:
		switch t2 := t2.(type) {
		case TVar:
			return Bind(t2, t1)
		case TUnion:
			return unifyNominalUnions(t1, t2)
		default:
			return nil, errUnifyMsg(t1, t2, "cannot unify union")
		}
	case TFunc:
		switch t2 := t2.(type) {
		case TVar:
			return Bind(t2, t1)
		case TFunc:
			if t1.IsVariadic != t2.IsVariadic {
				return nil, errMismatch("cannot unify variadic function with non-variadic")
			}
			if len(t1.Params) != len(t2.Params) {
				return nil, errMismatch(fmt.Sprintf("function parameter count mismatch: %d vs %d", len(t1.Params), len(t2.Params)))
			}
			s1 := Subst{}
			for i := 0; i < len(t1.Params); i++ {
				s2, err := UnifyNominal(t1.Params[i].Apply(s1), t2.Params[i].Apply(s1))
				if err != nil {
					return nil, err
				}
				s1 = s1.Compose(s2)
			}
			s3, err := UnifyNominal(t1.ReturnType.Apply(s1), t2.ReturnType.Apply(s1))
			if err != nil {
				return nil, err
			}
			return s1.Compose(s3), nil
		default:
			return nil, errUnifyMsg(t1, t2, "cannot unify function type")
		}
	default:
		return nil, errMismatch(fmt.Sprintf("unknown type kind: %T", t1))
	}
}

// unifyNominalConstructors matches TApp heads. Two concrete constructors
// must agree by name; two variables unify as usual. A variable against a
// concrete constructor is refused: solving constructors is a structural
// capability the legacy engine predates.
func unifyNominalConstructors(c1, c2 Type) (Subst, error) {
	switch c1 := c1.(type) {
	case TCon:
		if c2Con, ok := c2.(TCon); ok {
			if sameCon(c1, c2Con) {
				return Subst{}, nil
			}
			return nil, errUnifyMsg(c1, c2Con, "type constructor mismatch")
		}
	case TVar:
		if c2Var, ok := c2.(TVar); ok {
			return Bind(c1, c2Var)
		}
	}
	return nil, errMismatch(fmt.Sprintf("legacy unification cannot solve type constructor %s against %s", c1, c2))
}

func unifyNominalRecords(t1, t2 TRecord) (Subst, error) {
	for k := range t1.Fields {
		if _, ok := t2.Fields[k]; !ok {
			return nil, errMismatch(fmt.Sprintf("record field sets differ: extra field '%s'", k))
		}
	}
	for k := range t2.Fields {
		if _, ok := t1.Fields[k]; !ok {
			return nil, errMismatch(fmt.Sprintf("record field sets differ: extra field '%s'", k))
		}
	}

	s1 := Subst{}
	for k, v1 := range t1.Fields {
		s2, err := UnifyNominal(v1.Apply(s1), t2.Fields[k].Apply(s1))
		if err != nil {
			return nil, errUnifyContext(fmt.Sprintf("record field '%s'", k), err)
		}
		s1 = s1.Compose(s2)
	}

	if (t1.Row == nil) != (t2.Row == nil) {
		return nil, errMismatch("cannot match open record with closed record")
	}
	if t1.Row != nil {
		s2, err := UnifyNominal(t1.Row.Apply(s1), t2.Row.Apply(s1))
		if err != nil {
			return nil, err
		}
		s1 = s1.Compose(s2)
	}
	return s1, nil
}

func unifyNominalUnions(t1, t2 TUnion) (Subst, error) {
	n1 := NormalizeUnion(t1.Types)
	n2 := NormalizeUnion(t2.Types)

	u1, ok1 := n1.(TUnion)
	u2, ok2 := n2.(TUnion)
	if !ok1 || !ok2 {
		return UnifyNominal(n1, n2)
	}

	if len(u1.Types) != len(u2.Types) {
		return nil, errMismatch(fmt.Sprintf("union type mismatch: %d vs %d members", len(u1.Types), len(u2.Types)))
	}

	s := Subst{}
	for i := range u1.Types {
		s2, err := UnifyNominal(u1.Types[i].Apply(s), u2.Types[i].Apply(s))
		if err != nil {
			return nil, errUnifyContext("union member", err)
		}
		s = s.Compose(s2)
	}
	return s, nil
}
