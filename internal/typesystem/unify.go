package typesystem

import (
	"fmt"
	"reflect"
)

// Resolver allows unification to look up type definitions (e.g. from a
// symbol table) to handle nominal types or aliases that are not locally
// resolved.
type Resolver interface {
	ResolveTypeAlias(Type) Type
	ResolveTCon(name string) (TCon, bool)
}

// Unify attempts to find a substitution that makes t1 and t2 equal,
// expanding aliases and absorbing record rows (structural mode).
func Unify(t1, t2 Type) (Subst, error) {
	return unifyInternal(t1, t2, nil, nil)
}

// UnifyWithResolver attempts to unify using a resolver for type aliases.
func UnifyWithResolver(t1, t2 Type, resolver Resolver) (Subst, error) {
	return unifyInternal(t1, t2, nil, resolver)
}

// typePair represents a pair of types being compared for co-induction
type typePair struct {
	t1 Type
	t2 Type
}

func unifyInternal(t1, t2 Type, visited []typePair, resolver Resolver) (Subst, error) {
	// Co-induction step: check if we are already comparing these two types
	// in the current stack
	for _, p := range visited {
		// Use reflect.DeepEqual for robust comparison including TCons
		if reflect.DeepEqual(p.t1, t1) && reflect.DeepEqual(p.t2, t2) {
			// Cycle detected, assume success (co-induction)
			return Subst{}, nil
		}
	}

	// Add current pair to visited
	visited = append(visited, typePair{t1: t1, t2: t2})

	// If types are strictly equal
	if reflect.DeepEqual(t1, t2) {
		return Subst{}, nil
	}

	// If t2 is a TCon (alias) and t1 is a structural type (Record, Func,
	// etc.), unwrap t2 to see if it matches t1. Skipped when t1 is a TCon
	// or TVar (both handled in the switch below).
	_, t1IsTCon := t1.(TCon)
	_, t1IsTVar := t1.(TVar)
	if !t1IsTCon && !t1IsTVar {
		if t2Con, ok := t2.(TCon); ok {
			if t2Con.UnderlyingType != nil {
				return unifyInternal(t1, UnwrapUnderlying(t2Con), visited, resolver)
			}
			if resolver != nil {
				r2 := resolver.ResolveTypeAlias(t2)
				if !reflect.DeepEqual(r2, t2) {
					return unifyInternal(t1, r2, visited, resolver)
				}
				if r2Con, ok := r2.(TCon); ok && r2Con.UnderlyingType != nil {
					return unifyInternal(t1, r2Con.UnderlyingType, visited, resolver)
				}
			}
		}
	}

	// Alias applications: if one side is a TApp and the other is neither
	// TApp nor TVar, try expanding the application before giving up.
	// This handles cases like Grid[Int] (TApp) ~ { ... } (TRecord).
	if tApp, ok := t1.(TApp); ok {
		if _, isTVar := t2.(TVar); !isTVar {
			if _, isTApp := t2.(TApp); !isTApp {
				if expanded, ok := expandAppAlias(tApp, resolver); ok {
					return unifyInternal(expanded, t2, visited, resolver)
				}
				if resolver != nil {
					r1 := resolver.ResolveTypeAlias(t1)
					if !reflect.DeepEqual(r1, t1) {
						return unifyInternal(r1, t2, visited, resolver)
					}
				}
			}
		}
	}

	if tApp, ok := t2.(TApp); ok {
		if _, isTVar := t1.(TVar); !isTVar {
			if _, isTApp := t1.(TApp); !isTApp {
				if expanded, ok := expandAppAlias(tApp, resolver); ok {
					return unifyInternal(t1, expanded, visited, resolver)
				}
				if resolver != nil {
					r2 := resolver.ResolveTypeAlias(t2)
					if !reflect.DeepEqual(r2, t2) {
						return unifyInternal(t1, r2, visited, resolver)
					}
				}
			}
		}
	}

	switch t1 := t1.(type) {
	case TVar:
		return Bind(t1, t2)
	case TApp:
		// Expand type aliases before unification
		expanded1 := ExpandTypeAlias(t1)
		if expanded1 != nil && !reflect.DeepEqual(expanded1, t1) {
			return unifyInternal(expanded1, t2, visited, resolver)
		}

		switch t2 := t2.(type) {
		case TVar:
			return Bind(t2, t1)
		case TApp:
			expanded2 := ExpandTypeAlias(t2)
			if expanded2 != nil && !reflect.DeepEqual(expanded2, t2) {
				return unifyInternal(t1, expanded2, visited, resolver)
			}

			// Higher-kinded unification, case 1: f[A1..Am] against a
			// concrete C[B1..Bn] with m <= n binds f to the partial
			// application C[B1..B(n-m)].
			if t1Var, ok := t1.Constructor.(TVar); ok {
				if len(t1.Args) <= len(t2.Args) {
					numExtra := len(t2.Args) - len(t1.Args)

					var partialType Type
					if numExtra == 0 {
						partialType = t2.Constructor
					} else {
						partialType = TApp{
							Constructor: t2.Constructor,
							Args:        t2.Args[:numExtra],
						}
					}

					s1, err := Bind(t1Var, partialType)
					if err != nil {
						return nil, err
					}

					for i := 0; i < len(t1.Args); i++ {
						arg1 := t1.Args[i].Apply(s1)
						arg2 := t2.Args[numExtra+i].Apply(s1)
						s2, err := unifyInternal(arg1, arg2, visited, resolver)
						if err != nil {
							return nil, err
						}
						s1 = s1.Compose(s2)
					}
					return s1, nil
				}
			}

			// Case 2: mirror image with the variable constructor on t2.
			if t2Var, ok := t2.Constructor.(TVar); ok {
				if len(t2.Args) <= len(t1.Args) {
					numExtra := len(t1.Args) - len(t2.Args)

					var partialType Type
					if numExtra == 0 {
						partialType = t1.Constructor
					} else {
						partialType = TApp{
							Constructor: t1.Constructor,
							Args:        t1.Args[:numExtra],
						}
					}

					s1, err := Bind(t2Var, partialType)
					if err != nil {
						return nil, err
					}

					for i := 0; i < len(t2.Args); i++ {
						arg1 := t1.Args[numExtra+i].Apply(s1)
						arg2 := t2.Args[i].Apply(s1)
						s2, err := unifyInternal(arg1, arg2, visited, resolver)
						if err != nil {
							return nil, err
						}
						s1 = s1.Compose(s2)
					}
					return s1, nil
				}
			}

			// Case 3: standard unification (same constructor, same arity)
			s1, err := unifyInternal(t1.Constructor, t2.Constructor, visited, resolver)
			if err != nil {
				return nil, err
			}

			if len(t1.Args) != len(t2.Args) {
				return nil, errMismatch(fmt.Sprintf("type arguments length mismatch: %d vs %d", len(t1.Args), len(t2.Args)))
			}

			for i := 0; i < len(t1.Args); i++ {
				arg1 := t1.Args[i].Apply(s1)
				arg2 := t2.Args[i].Apply(s1)
				s2, err := unifyInternal(arg1, arg2, visited, resolver)
				if err != nil {
					return nil, err
				}
				s1 = s1.Compose(s2)
			}
			return s1, nil
		default:
			return nil, errUnify(t1, t2)
		}
	case TCon:
		switch t2 := t2.(type) {
		case TVar:
			return Bind(t2, t1)
		case TCon:
			if sameCon(t1, t2) {
				return Subst{}, nil
			}

			// Unwrap nested TCons and unify underlying types
			if t1.UnderlyingType != nil || t2.UnderlyingType != nil {
				return unifyInternal(UnwrapUnderlying(t1), UnwrapUnderlying(t2), visited, resolver)
			}
			// Use resolver if available to expand types
			if resolver != nil {
				r1 := resolver.ResolveTypeAlias(t1)
				r2 := resolver.ResolveTypeAlias(t2)
				if !reflect.DeepEqual(r1, t1) || !reflect.DeepEqual(r2, t2) {
					return unifyInternal(r1, r2, visited, resolver)
				}
				if r1Con, ok := r1.(TCon); ok && r1Con.UnderlyingType != nil {
					return unifyInternal(r1Con.UnderlyingType, r2, visited, resolver)
				}
				if r2Con, ok := r2.(TCon); ok && r2Con.UnderlyingType != nil {
					return unifyInternal(r1, r2Con.UnderlyingType, visited, resolver)
				}
			}
			return nil, errUnifyMsg(t1, t2, "type constant mismatch")
		default:
			if t1.UnderlyingType != nil {
				return unifyInternal(UnwrapUnderlying(t1), t2, visited, resolver)
			}
			if resolver != nil {
				r1 := resolver.ResolveTypeAlias(t1)
				if !reflect.DeepEqual(r1, t1) {
					return unifyInternal(r1, t2, visited, resolver)
				}
			}
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
				el1 := t1.Elements[i].Apply(s1)
				el2 := t2.Elements[i].Apply(s1)
				s2, err := unifyInternal(el1, el2, visited, resolver)
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
			return unifyRecords(t1, t2, visited, resolver)
		default:
			return nil, errUnifyMsg(t1, t2, "cannot unify record")
		}
	case TUnion:
		switch t2 := t2.(type) {
		case TVar:
			return Bind(t2, t1)
		case TUnion:
			return unifyUnions(t1, t2, visited, resolver)
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
				p1 := t1.Params[i].Apply(s1)
				p2 := t2.Params[i].Apply(s1)
				s2, err := unifyInternal(p1, p2, visited, resolver)
				if err != nil {
					return nil, err
				}
				s1 = s1.Compose(s2)
			}

			ret1 := t1.ReturnType.Apply(s1)
			ret2 := t2.ReturnType.Apply(s1)
			s3, err := unifyInternal(ret1, ret2, visited, resolver)
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

// expandAppAlias expands a TApp whose constructor is an alias, refreshing a
// stale constructor (nil underlying) from the resolver if needed.
func expandAppAlias(tApp TApp, resolver Resolver) (Type, bool) {
	tCon, isTCon := tApp.Constructor.(TCon)
	if !isTCon {
		return nil, false
	}
	if tCon.UnderlyingType == nil && resolver != nil {
		if updated, found := resolver.ResolveTCon(tCon.Name); found {
			tCon = updated
		}
	}
	if tCon.UnderlyingType == nil || tCon.TypeParams == nil || len(*tCon.TypeParams) != len(tApp.Args) {
		return nil, false
	}
	subst := make(Subst)
	for i, param := range *tCon.TypeParams {
		subst[param] = tApp.Args[i]
	}
	return tCon.UnderlyingType.Apply(subst), true
}

func unifyRecords(t1, t2 TRecord, visited []typePair, resolver Resolver) (Subst, error) {
	// Row polymorphism unification:
	// 1. Unify common fields
	// 2. Identify mismatch fields
	// 3. Unify row variables with mismatch fields

	s1 := Subst{}

	for k, v1 := range t1.Fields {
		v1 = v1.Apply(s1)
		if v2, ok := t2.Fields[k]; ok {
			v2 = v2.Apply(s1)
			s2, err := unifyInternal(v1, v2, visited, resolver)
			if err != nil {
				return nil, errUnifyContext(fmt.Sprintf("record field '%s'", k), err)
			}
			s1 = s1.Compose(s2)
		}
	}

	extra1 := map[string]Type{} // Fields in t1 but not in t2
	for k, v := range t1.Fields {
		if _, ok := t2.Fields[k]; !ok {
			extra1[k] = v.Apply(s1)
		}
	}

	extra2 := map[string]Type{} // Fields in t2 but not in t1
	for k, v := range t2.Fields {
		if _, ok := t1.Fields[k]; !ok {
			extra2[k] = v.Apply(s1)
		}
	}

	// A row variable on one side absorbs the extra fields of the other.
	if len(extra2) > 0 {
		if t1.Row != nil {
			var tail Type
			if t2.Row != nil {
				tail = t2.Row.Apply(s1)
			}
			expectedTail := TRecord{Fields: extra2, Row: tail, IsOpen: tail != nil}

			row1 := t1.Row.Apply(s1)
			s2, err := unifyInternal(row1, expectedTail, visited, resolver)
			if err != nil {
				return nil, errUnifyContext("record row extension", err)
			}
			s1 = s1.Compose(s2)
		} else if !t1.IsOpen {
			return nil, errMismatch(fmt.Sprintf("record has extra fields: %v", fieldNames(extra2)))
		}
	}

	if len(extra1) > 0 {
		if t2.Row != nil {
			var tail Type
			if t1.Row != nil {
				tail = t1.Row.Apply(s1)
			}
			expectedTail := TRecord{Fields: extra1, Row: tail, IsOpen: tail != nil}

			row2 := t2.Row.Apply(s1)
			s2, err := unifyInternal(row2, expectedTail, visited, resolver)
			if err != nil {
				return nil, errUnifyContext("record row extension", err)
			}
			s1 = s1.Compose(s2)
		} else if !t2.IsOpen {
			return nil, errMismatch(fmt.Sprintf("record missing fields: %v", fieldNames(extra1)))
		}
	}

	// If both have rows and no extra fields, unify rows directly
	if len(extra1) == 0 && len(extra2) == 0 {
		if t1.Row != nil && t2.Row != nil {
			s2, err := unifyInternal(t1.Row.Apply(s1), t2.Row.Apply(s1), visited, resolver)
			if err != nil {
				return nil, err
			}
			s1 = s1.Compose(s2)
		}
	}

	return s1, nil
}

func unifyUnions(t1, t2 TUnion, visited []typePair, resolver Resolver) (Subst, error) {
	// Compare canonical forms; member order never matters here.
	n1 := NormalizeUnion(t1.Types)
	n2 := NormalizeUnion(t2.Types)

	u1, ok1 := n1.(TUnion)
	u2, ok2 := n2.(TUnion)
	if !ok1 || !ok2 {
		// Normalization collapsed one side to a single member
		return unifyInternal(n1, n2, visited, resolver)
	}

	if len(u1.Types) != len(u2.Types) {
		return nil, errMismatch(fmt.Sprintf("union type mismatch: %d vs %d members", len(u1.Types), len(u2.Types)))
	}

	// Normalized members are sorted, so compare pairwise.
	s := Subst{}
	for i := range u1.Types {
		s2, err := unifyInternal(u1.Types[i].Apply(s), u2.Types[i].Apply(s), visited, resolver)
		if err != nil {
			return nil, errUnifyContext("union member", err)
		}
		s = s.Compose(s2)
	}
	return s, nil
}

// Bind binds a type variable to a type, performing the occurs check.
func Bind(tv TVar, t Type) (Subst, error) {
	// If t is the same variable, return empty substitution
	if tVal, ok := t.(TVar); ok && tVal.Name == tv.Name {
		return Subst{}, nil
	}

	// A rigid variable stands for a caller-chosen type and cannot be
	// solved. When the partner is flexible, bind the partner instead.
	if tv.Rigid {
		if tv2, ok := t.(TVar); ok && !tv2.Rigid {
			return Bind(tv2, tv)
		}
		return nil, errMismatch(fmt.Sprintf("cannot bind rigid type variable %s to %s", tv.Name, t))
	}

	// Kind check: crucial for higher-kinded unification to avoid binding a
	// * -> * variable to a * type.
	if !tv.Kind().Equal(t.Kind()) {
		return nil, errMismatch(fmt.Sprintf("kind mismatch: variable %s has kind %s, but type %s has kind %s",
			tv.Name, tv.Kind(), t, t.Kind()))
	}

	// Occurs check: ensure tv does not appear in t (to avoid infinite types
	// like a = List[a])
	if OccursCheck(tv, t) {
		return nil, errMismatch(fmt.Sprintf("infinite type detected: %s in %s", tv, t))
	}

	return Subst{tv.Name: t}, nil
}

// OccursCheck returns true if tv appears free in t.
func OccursCheck(tv TVar, t Type) bool {
	for _, v := range t.FreeTypeVariables() {
		if v.Name == tv.Name {
			return true
		}
	}
	return false
}

func sameCon(t1, t2 TCon) bool {
	if t1.Name != t2.Name {
		return false
	}
	// An unqualified reference matches a qualified definition of the same
	// name; two different qualifications do not.
	return t1.Module == "" || t2.Module == "" || t1.Module == t2.Module
}

func fieldNames(fields map[string]Type) []string {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	return names
}

func errUnify(t1, t2 Type) error {
	return fmt.Errorf("cannot unify %s with %s", t1, t2)
}

func errUnifyMsg(t1, t2 Type, msg string) error {
	return fmt.Errorf("%s: %s vs %s", msg, t1, t2)
}

func errMismatch(msg string) error {
	return fmt.Errorf("type mismatch: %s", msg)
}

func errUnifyContext(ctx string, err error) error {
	return fmt.Errorf("in %s: %w", ctx, err)
}
