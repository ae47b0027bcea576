package symbols

import (
	"fmt"

	"github.com/funvibe/funtrait/internal/typesystem"
)

// DefineAlias registers a type alias. The canonical TCon carries the
// underlying type and parameter list so that copies of it expand correctly
// during unification; bare references (TCon by name only) are refreshed
// through ResolveTCon.
func (t *Table) DefineAlias(name string, params []string, underlying typesystem.Type) error {
	if _, ok := t.aliases[name]; ok {
		return fmt.Errorf("type %s is already defined", name)
	}

	kinds := make([]typesystem.Kind, len(params)+1)
	for i := range kinds {
		kinds[i] = typesystem.Star
	}

	canonical := typesystem.TCon{
		Name:           name,
		UnderlyingType: underlying,
		KindVal:        typesystem.MakeArrow(kinds...),
	}
	if len(params) > 0 {
		paramsCopy := make([]string, len(params))
		copy(paramsCopy, params)
		canonical.TypeParams = &paramsCopy
	}

	t.aliases[name] = underlying
	t.cons[name] = canonical
	t.aliasOrder = append(t.aliasOrder, name)
	return nil
}

// LookupAlias returns the underlying type for a registered alias.
func (t *Table) LookupAlias(name string) (typesystem.Type, bool) {
	underlying, ok := t.aliases[name]
	return underlying, ok
}

// AliasNames returns alias names in definition order.
func (t *Table) AliasNames() []string {
	out := make([]string, len(t.aliasOrder))
	copy(out, t.aliasOrder)
	return out
}

// ResolveTCon retrieves the canonical TCon definition. Used to refresh
// stale TCon values (passed by value) that are missing UnderlyingType or
// TypeParams.
func (t *Table) ResolveTCon(name string) (typesystem.TCon, bool) {
	tCon, ok := t.cons[name]
	return tCon, ok
}

// CheckKind validates that ty is well-kinded and names a proper type
// (kind *). The parser stamps constructor kinds from use-site arity, which
// makes any application self-consistent; declared alias kinds override the
// stamps here, so an alias applied with the wrong number of arguments or
// left unapplied fails.
func (t *Table) CheckKind(ty typesystem.Type) error {
	k, err := typesystem.KindCheck(t.declaredKinds(ty))
	if err != nil {
		return err
	}
	if !k.Equal(typesystem.Star) {
		return fmt.Errorf("type constructor of kind %s cannot be used as a type", k)
	}
	return nil
}

// declaredKinds replaces use-site kind stamps on alias references with the
// kinds recorded at declaration. Non-alias constructors keep their stamps:
// with no declaration their use is the only arity evidence there is.
func (t *Table) declaredKinds(ty typesystem.Type) typesystem.Type {
	switch ty := ty.(type) {
	case typesystem.TCon:
		if canonical, ok := t.canonicalCon(ty); ok {
			return canonical
		}
		return ty
	case typesystem.TApp:
		refreshed := typesystem.TApp{
			Constructor: t.declaredKinds(ty.Constructor),
			Args:        make([]typesystem.Type, len(ty.Args)),
		}
		for i, arg := range ty.Args {
			refreshed.Args[i] = t.declaredKinds(arg)
		}
		return refreshed
	case typesystem.TTuple:
		elems := make([]typesystem.Type, len(ty.Elements))
		for i, e := range ty.Elements {
			elems[i] = t.declaredKinds(e)
		}
		return typesystem.TTuple{Elements: elems}
	case typesystem.TRecord:
		fields := make(map[string]typesystem.Type, len(ty.Fields))
		for k, v := range ty.Fields {
			fields[k] = t.declaredKinds(v)
		}
		var row typesystem.Type
		if ty.Row != nil {
			row = t.declaredKinds(ty.Row)
		}
		return typesystem.TRecord{Fields: fields, IsOpen: ty.IsOpen, Row: row}
	case typesystem.TUnion:
		members := make([]typesystem.Type, len(ty.Types))
		for i, m := range ty.Types {
			members[i] = t.declaredKinds(m)
		}
		return typesystem.TUnion{Types: members}
	case typesystem.TFunc:
		params := make([]typesystem.Type, len(ty.Params))
		for i, p := range ty.Params {
			params[i] = t.declaredKinds(p)
		}
		return typesystem.TFunc{
			Params:      params,
			ReturnType:  t.declaredKinds(ty.ReturnType),
			IsVariadic:  ty.IsVariadic,
			Constraints: ty.Constraints,
		}
	default:
		return ty
	}
}

func (t *Table) canonicalCon(ty typesystem.TCon) (typesystem.TCon, bool) {
	if ty.Module != "" {
		if c, ok := t.cons[ty.Module+"."+ty.Name]; ok {
			return c, true
		}
	}
	c, ok := t.cons[ty.Name]
	return c, ok
}

// ResolveTypeAlias recursively resolves type aliases to their underlying
// types. For TCon aliases returns the underlying type; for TApp over a
// parameterized alias substitutes the arguments; other types resolve their
// components. Recursive aliases stop expanding when a name repeats on the
// current path.
func (t *Table) ResolveTypeAlias(ty typesystem.Type) typesystem.Type {
	return t.resolveAliasWithCycleCheck(ty, make(map[string]bool))
}

func (t *Table) resolveAliasWithCycleCheck(ty typesystem.Type, visited map[string]bool) typesystem.Type {
	switch ty := ty.(type) {
	case typesystem.TCon:
		lookupName := ty.Name
		if ty.Module != "" {
			lookupName = ty.Module + "." + ty.Name
		}

		// Cycle detection: if this alias is already expanding on the
		// current path, stop and hand back the canonical TCon so later
		// unification can still unwrap it.
		if visited[lookupName] {
			if canonical, ok := t.cons[lookupName]; ok {
				return canonical
			}
			return ty
		}

		if ty.UnderlyingType != nil {
			visited[lookupName] = true
			defer delete(visited, lookupName)
			return t.resolveAliasWithCycleCheck(ty.UnderlyingType, visited)
		}

		if underlying, ok := t.aliases[lookupName]; ok {
			visited[lookupName] = true
			defer delete(visited, lookupName)
			return t.resolveAliasWithCycleCheck(underlying, visited)
		}

		// Qualified reference to a locally registered alias
		if ty.Module != "" {
			if underlying, ok := t.aliases[ty.Name]; ok {
				visited[ty.Name] = true
				defer delete(visited, ty.Name)
				return t.resolveAliasWithCycleCheck(underlying, visited)
			}
		}

		return ty
	case typesystem.TApp:
		// Parameterized alias application: substitute the arguments into
		// the underlying type rather than just resolving components.
		if tCon, ok := ty.Constructor.(typesystem.TCon); ok {
			lookupName := tCon.Name
			if tCon.Module != "" {
				lookupName = tCon.Module + "." + tCon.Name
			}

			canonical, isAlias := t.cons[lookupName]
			if !isAlias && tCon.Module != "" {
				canonical, isAlias = t.cons[tCon.Name]
				if isAlias {
					lookupName = tCon.Name
				}
			}

			if isAlias && canonical.TypeParams != nil && len(*canonical.TypeParams) == len(ty.Args) {
				if visited[lookupName] {
					return ty
				}
				visited[lookupName] = true
				defer delete(visited, lookupName)

				subst := make(typesystem.Subst)
				for i, param := range *canonical.TypeParams {
					subst[param] = t.resolveAliasWithCycleCheck(ty.Args[i], visited)
				}
				return t.resolveAliasWithCycleCheck(canonical.UnderlyingType.Apply(subst), visited)
			}
		}

		// Non-alias application: resolve constructor and args recursively
		resolvedCon := t.resolveAliasWithCycleCheck(ty.Constructor, visited)
		resolvedArgs := make([]typesystem.Type, len(ty.Args))
		for i, arg := range ty.Args {
			resolvedArgs[i] = t.resolveAliasWithCycleCheck(arg, visited)
		}
		return typesystem.TApp{Constructor: resolvedCon, Args: resolvedArgs}
	case typesystem.TFunc:
		resolvedParams := make([]typesystem.Type, len(ty.Params))
		for i, p := range ty.Params {
			resolvedParams[i] = t.resolveAliasWithCycleCheck(p, visited)
		}
		return typesystem.TFunc{
			Params:      resolvedParams,
			ReturnType:  t.resolveAliasWithCycleCheck(ty.ReturnType, visited),
			IsVariadic:  ty.IsVariadic,
			Constraints: ty.Constraints,
		}
	case typesystem.TTuple:
		resolvedElems := make([]typesystem.Type, len(ty.Elements))
		for i, e := range ty.Elements {
			resolvedElems[i] = t.resolveAliasWithCycleCheck(e, visited)
		}
		return typesystem.TTuple{Elements: resolvedElems}
	case typesystem.TRecord:
		resolvedFields := make(map[string]typesystem.Type)
		for k, v := range ty.Fields {
			resolvedFields[k] = t.resolveAliasWithCycleCheck(v, visited)
		}
		var resolvedRow typesystem.Type
		if ty.Row != nil {
			resolvedRow = t.resolveAliasWithCycleCheck(ty.Row, visited)
		}
		return typesystem.TRecord{Fields: resolvedFields, IsOpen: ty.IsOpen, Row: resolvedRow}
	case typesystem.TUnion:
		resolvedMembers := make([]typesystem.Type, len(ty.Types))
		for i, m := range ty.Types {
			resolvedMembers[i] = t.resolveAliasWithCycleCheck(m, visited)
		}
		return typesystem.TUnion{Types: resolvedMembers}
	default:
		return ty
	}
}
