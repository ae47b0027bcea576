package typesystem

import (
	"fmt"
	"sort"
	"strings"
)

// Type is the interface for all types in our system.
type Type interface {
	String() string
	Apply(Subst) Type
	FreeTypeVariables() []TVar
	Kind() Kind
}

// TVar represents a type variable (e.g. 'a', 'b', 'r').
// Rigid variables stand for caller-chosen types (the variables of an impl
// header under scrutiny) and refuse to bind during unification.
type TVar struct {
	Name    string
	Rigid   bool
	KindVal Kind // Renamed from Kind to KindVal to avoid collision with method
}

func (t TVar) String() string {
	return t.Name
}

func (t TVar) Kind() Kind {
	if t.KindVal == nil {
		return Star
	}
	return t.KindVal
}

func (t TVar) Apply(s Subst) Type {
	return ApplyWithCycleCheck(t, s, make(map[string]bool))
}

func (t TVar) FreeTypeVariables() []TVar {
	return []TVar{t}
}

// ApplyWithCycleCheck applies substitution with cycle detection.
// This is the main entry point for substitution application.
func ApplyWithCycleCheck(t Type, s Subst, visited map[string]bool) Type {
	if t == nil {
		return nil
	}

	switch typ := t.(type) {
	case TVar:
		// Check for cycle
		if visited[typ.Name] {
			return typ // Break cycle - return the variable as-is
		}

		if replacement, ok := s[typ.Name]; ok {
			// A same-named variable replacement only changes flags (rigid
			// marking); return it directly instead of recursing forever.
			if tv, ok := replacement.(TVar); ok && tv.Name == typ.Name {
				return tv
			}
			// Mark as visited and recursively apply
			newVisited := copyVisited(visited)
			newVisited[typ.Name] = true
			return ApplyWithCycleCheck(replacement, s, newVisited)
		}
		return typ

	case TApp:
		newArgs := make([]Type, len(typ.Args))
		for i, arg := range typ.Args {
			newArgs[i] = ApplyWithCycleCheck(arg, s, visited)
		}
		newCtor := ApplyWithCycleCheck(typ.Constructor, s, visited)

		// Flatten nested TApp: if constructor is TApp, merge args
		// e.g., (Result[Text])[b] becomes Result[Text, b]
		if ctorApp, ok := newCtor.(TApp); ok {
			mergedArgs := make([]Type, 0, len(ctorApp.Args)+len(newArgs))
			mergedArgs = append(mergedArgs, ctorApp.Args...)
			mergedArgs = append(mergedArgs, newArgs...)
			return TApp{
				Constructor: ctorApp.Constructor,
				Args:        mergedArgs,
			}
		}

		return TApp{
			Constructor: newCtor,
			Args:        newArgs,
		}

	case TCon:
		return typ

	case TTuple:
		newElements := make([]Type, len(typ.Elements))
		for i, el := range typ.Elements {
			newElements[i] = ApplyWithCycleCheck(el, s, visited)
		}
		return TTuple{Elements: newElements}

	case TRecord:
		newFields := make(map[string]Type, len(typ.Fields))
		for k, v := range typ.Fields {
			newFields[k] = ApplyWithCycleCheck(v, s, visited)
		}
		var newRow Type
		if typ.Row != nil {
			newRow = ApplyWithCycleCheck(typ.Row, s, visited)
		}
		return TRecord{Fields: newFields, IsOpen: typ.IsOpen, Row: newRow}

	case TUnion:
		newTypes := make([]Type, len(typ.Types))
		for i, member := range typ.Types {
			newTypes[i] = ApplyWithCycleCheck(member, s, visited)
		}
		return TUnion{Types: newTypes}

	case TFunc:
		newParams := make([]Type, len(typ.Params))
		for i, p := range typ.Params {
			newParams[i] = ApplyWithCycleCheck(p, s, visited)
		}
		newConstraints := make([]Constraint, len(typ.Constraints))
		for i, c := range typ.Constraints {
			newArgs := make([]Type, len(c.Args))
			for j, arg := range c.Args {
				newArgs[j] = ApplyWithCycleCheck(arg, s, visited)
			}
			newConstraints[i] = Constraint{TypeVar: c.TypeVar, Trait: c.Trait, Args: newArgs}
		}
		return TFunc{
			Params:      newParams,
			ReturnType:  ApplyWithCycleCheck(typ.ReturnType, s, visited),
			IsVariadic:  typ.IsVariadic,
			Constraints: newConstraints,
		}

	default:
		return t
	}
}

func copyVisited(visited map[string]bool) map[string]bool {
	out := make(map[string]bool, len(visited))
	for k, v := range visited {
		out[k] = v
	}
	return out
}

// TCon represents a type constant (e.g. Int, Bool) or a named alias.
// Aliases carry their expansion in UnderlyingType; parameterized aliases
// additionally list the parameter names substituted by ExpandTypeAlias.
type TCon struct {
	Name           string
	Module         string    // Defining unit, empty for local/builtin names
	UnderlyingType Type      // Non-nil for aliases
	TypeParams     *[]string // Parameter names for parameterized aliases
	KindVal        Kind
}

func (t TCon) Kind() Kind {
	if t.KindVal != nil {
		return t.KindVal
	}
	return Star
}

func (t TCon) String() string {
	if t.Module != "" {
		return t.Module + "." + t.Name
	}
	return t.Name
}

func (t TCon) Apply(s Subst) Type {
	return ApplyWithCycleCheck(t, s, make(map[string]bool))
}

func (t TCon) FreeTypeVariables() []TVar {
	return []TVar{}
}

// UnwrapUnderlying recursively unwraps TCon.UnderlyingType until reaching a
// non-TCon type. Returns the innermost underlying type, or the original type
// if no UnderlyingType.
func UnwrapUnderlying(t Type) Type {
	for {
		tCon, ok := t.(TCon)
		if !ok || tCon.UnderlyingType == nil {
			return t
		}
		t = tCon.UnderlyingType
	}
}

// ExpandTypeAlias expands an alias application by substituting type
// arguments into the underlying type. For example Grid[Int] where
// Grid[t] = List[List[t]] becomes List[List[Int]]. Handles partially
// applied aliases by re-applying leftover arguments. Returns the original
// type if it is not an expandable alias.
func ExpandTypeAlias(t Type) Type {
	tApp, ok := t.(TApp)
	if !ok {
		return t
	}

	tCon, ok := tApp.Constructor.(TCon)
	if !ok || tCon.UnderlyingType == nil {
		return t
	}

	numParams := 0
	if tCon.TypeParams != nil {
		numParams = len(*tCon.TypeParams)
	}

	// Not enough arguments to satisfy the alias parameters: leave the
	// partial application alone.
	if len(tApp.Args) < numParams {
		return t
	}

	var expanded Type
	if numParams > 0 {
		subst := make(Subst)
		for i, paramName := range *tCon.TypeParams {
			subst[paramName] = tApp.Args[i]
		}
		expanded = tCon.UnderlyingType.Apply(subst)
	} else {
		expanded = tCon.UnderlyingType
	}

	remainingArgs := tApp.Args[numParams:]
	if len(remainingArgs) > 0 {
		if expandedApp, ok := expanded.(TApp); ok {
			mergedArgs := append([]Type{}, expandedApp.Args...)
			mergedArgs = append(mergedArgs, remainingArgs...)
			expanded = TApp{Constructor: expandedApp.Constructor, Args: mergedArgs}
		} else {
			expanded = TApp{Constructor: expanded, Args: remainingArgs}
		}
	}

	return expanded
}

// TApp represents a type application (e.g. List[Int]).
type TApp struct {
	Constructor Type
	Args        []Type
	KindVal     Kind // Cache the kind
}

func (t TApp) Kind() Kind {
	if t.KindVal != nil {
		return t.KindVal
	}
	k := t.Constructor.Kind()
	for range t.Args {
		if arrow, ok := k.(KArrow); ok {
			k = arrow.Right
		} else {
			return Star
		}
	}
	return k
}

func (t TApp) String() string {
	if len(t.Args) == 0 {
		return t.Constructor.String()
	}
	args := make([]string, len(t.Args))
	for i, arg := range t.Args {
		args[i] = arg.String()
	}
	return fmt.Sprintf("%s[%s]", t.Constructor.String(), strings.Join(args, ", "))
}

func (t TApp) Apply(s Subst) Type {
	return ApplyWithCycleCheck(t, s, make(map[string]bool))
}

func (t TApp) FreeTypeVariables() []TVar {
	vars := []TVar{}
	vars = append(vars, t.Constructor.FreeTypeVariables()...)
	for _, arg := range t.Args {
		vars = append(vars, arg.FreeTypeVariables()...)
	}
	return uniqueTVars(vars)
}

// TTuple represents a tuple type (e.g. (Int, Bool)).
type TTuple struct {
	Elements []Type
}

func (t TTuple) Kind() Kind { return Star }

func (t TTuple) String() string {
	args := make([]string, len(t.Elements))
	for i, el := range t.Elements {
		args[i] = el.String()
	}
	return fmt.Sprintf("(%s)", strings.Join(args, ", "))
}

func (t TTuple) Apply(s Subst) Type {
	return ApplyWithCycleCheck(t, s, make(map[string]bool))
}

func (t TTuple) FreeTypeVariables() []TVar {
	vars := []TVar{}
	for _, el := range t.Elements {
		vars = append(vars, el.FreeTypeVariables()...)
	}
	return uniqueTVars(vars)
}

// TRecord represents a record type (e.g. { x: Int, y: Bool }).
type TRecord struct {
	Fields map[string]Type
	IsOpen bool // If true, this record can be extended (Row Polymorphism)
	Row    Type // Row variable for row polymorphism (usually TVar)
}

func (t TRecord) Kind() Kind { return Star }

func (t TRecord) String() string {
	// Sort keys for deterministic output
	keys := make([]string, 0, len(t.Fields))
	for k := range t.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]string, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, fmt.Sprintf("%s: %s", k, t.Fields[k].String()))
	}

	suffix := ""
	if t.Row != nil {
		suffix = " | " + t.Row.String()
	} else if t.IsOpen {
		suffix = ", ..."
	}

	if len(fields) == 0 && t.Row != nil {
		return fmt.Sprintf("{ %s }", t.Row.String())
	}

	return fmt.Sprintf("{ %s%s }", strings.Join(fields, ", "), suffix)
}

func (t TRecord) Apply(s Subst) Type {
	return ApplyWithCycleCheck(t, s, make(map[string]bool))
}

func (t TRecord) FreeTypeVariables() []TVar {
	vars := []TVar{}
	keys := make([]string, 0, len(t.Fields))
	for k := range t.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		vars = append(vars, t.Fields[k].FreeTypeVariables()...)
	}
	if t.Row != nil {
		vars = append(vars, t.Row.FreeTypeVariables()...)
	}
	return uniqueTVars(vars)
}

// TUnion represents a union type (e.g. Int | Text | Nil). Members are kept
// in declared order; NormalizeUnion produces the canonical (flattened,
// deduplicated, sorted) form used for comparisons.
type TUnion struct {
	Types []Type // At least 2 types
}

func (t TUnion) Kind() Kind { return Star }

func (t TUnion) String() string {
	parts := make([]string, len(t.Types))
	for i, typ := range t.Types {
		parts[i] = typ.String()
	}
	return strings.Join(parts, " | ")
}

func (t TUnion) Apply(s Subst) Type {
	return ApplyWithCycleCheck(t, s, make(map[string]bool))
}

func (t TUnion) FreeTypeVariables() []TVar {
	vars := []TVar{}
	for _, typ := range t.Types {
		vars = append(vars, typ.FreeTypeVariables()...)
	}
	return uniqueTVars(vars)
}

// NormalizeUnion creates a normalized union type.
// It flattens nested unions, removes duplicates, and sorts types.
func NormalizeUnion(types []Type) Type {
	// Flatten nested unions
	flat := []Type{}
	for _, t := range types {
		if u, ok := t.(TUnion); ok {
			flat = append(flat, u.Types...)
		} else {
			flat = append(flat, t)
		}
	}

	// Remove duplicates (using string representation for simplicity)
	seen := make(map[string]bool)
	unique := []Type{}
	for _, t := range flat {
		s := t.String()
		if !seen[s] {
			seen[s] = true
			unique = append(unique, t)
		}
	}

	// If only one type remains, return it directly
	if len(unique) == 1 {
		return unique[0]
	}

	// Sort for deterministic comparison
	sort.Slice(unique, func(i, j int) bool {
		return unique[i].String() < unique[j].String()
	})

	return TUnion{Types: unique}
}

// SameUnionReordered reports whether a and b are unions over the same member
// set written in different orders. Such pairs named distinct types before
// union normalization, so impls for them are grandfathered rather than
// rejected.
func SameUnionReordered(a, b Type) bool {
	ua, ok1 := a.(TUnion)
	ub, ok2 := b.(TUnion)
	if !ok1 || !ok2 || len(ua.Types) != len(ub.Types) {
		return false
	}

	sameOrder := true
	for i := range ua.Types {
		if ua.Types[i].String() != ub.Types[i].String() {
			sameOrder = false
			break
		}
	}
	if sameOrder {
		return false
	}

	return NormalizeUnion(ua.Types).String() == NormalizeUnion(ub.Types).String()
}

// Constraint represents a type constraint (e.g. a: Show or a: Convert[b]).
type Constraint struct {
	TypeVar string
	Trait   string
	Args    []Type
}

func (c Constraint) String() string {
	if len(c.Args) == 0 {
		return fmt.Sprintf("%s %s", c.Trait, c.TypeVar)
	}
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s %s %s", c.Trait, c.TypeVar, strings.Join(args, " "))
}

// TFunc represents a function type (e.g. (Int, Int) -> Bool).
type TFunc struct {
	Params      []Type
	ReturnType  Type
	IsVariadic  bool
	Constraints []Constraint // Generic constraints (e.g. a: Show)
}

func (t TFunc) Kind() Kind { return Star }

func (t TFunc) String() string {
	params := make([]string, len(t.Params))
	for i, p := range t.Params {
		params[i] = p.String()
	}
	if t.IsVariadic {
		if len(params) > 0 {
			params[len(params)-1] = "..." + params[len(params)-1]
		} else {
			params = append(params, "...")
		}
	}
	return fmt.Sprintf("(%s) -> %s", strings.Join(params, ", "), t.ReturnType.String())
}

func (t TFunc) Apply(s Subst) Type {
	return ApplyWithCycleCheck(t, s, make(map[string]bool))
}

func (t TFunc) FreeTypeVariables() []TVar {
	vars := []TVar{}
	for _, p := range t.Params {
		vars = append(vars, p.FreeTypeVariables()...)
	}
	vars = append(vars, t.ReturnType.FreeTypeVariables()...)

	// Include variables from constraints (they are implicit parameters)
	for _, c := range t.Constraints {
		vars = append(vars, TVar{Name: c.TypeVar})
		for _, arg := range c.Args {
			vars = append(vars, arg.FreeTypeVariables()...)
		}
	}

	return uniqueTVars(vars)
}

// Subst is a mapping from Type Variables to Types.
type Subst map[string]Type

// Compose combines two substitutions.
func (s1 Subst) Compose(s2 Subst) Subst {
	subst := Subst{}
	for k, v := range s2 {
		subst[k] = v
	}
	for k, v := range s1 {
		subst[k] = v.Apply(s2)
	}
	return subst
}

// RenameVars returns t with every free type variable renamed by appending
// suffix, preserving rigidity and kinds. Used to keep the variables of two
// impl headers apart before comparing them.
func RenameVars(t Type, suffix string) Type {
	free := t.FreeTypeVariables()
	if len(free) == 0 {
		return t
	}
	s := make(Subst, len(free))
	for _, v := range free {
		s[v.Name] = TVar{Name: v.Name + suffix, Rigid: v.Rigid, KindVal: v.KindVal}
	}
	return t.Apply(s)
}

// MarkRigid returns t with the named free variables made rigid.
func MarkRigid(t Type, names map[string]bool) Type {
	if len(names) == 0 {
		return t
	}
	s := make(Subst)
	for _, v := range t.FreeTypeVariables() {
		if names[v.Name] && !v.Rigid {
			s[v.Name] = TVar{Name: v.Name, Rigid: true, KindVal: v.KindVal}
		}
	}
	if len(s) == 0 {
		return t
	}
	return t.Apply(s)
}

// MarkAllRigid returns t with every free variable made rigid.
func MarkAllRigid(t Type) Type {
	names := make(map[string]bool)
	for _, v := range t.FreeTypeVariables() {
		names[v.Name] = true
	}
	return MarkRigid(t, names)
}

// HasConcreteSkeleton reports whether the outermost layer of t is a concrete
// constructor rather than a bare type variable. Diagnostics only print the
// self type of an overlap when it has one.
func HasConcreteSkeleton(t Type) bool {
	switch t := t.(type) {
	case TVar:
		return false
	case TApp:
		return HasConcreteSkeleton(t.Constructor)
	default:
		return true
	}
}

func uniqueTVars(vars []TVar) []TVar {
	unique := []TVar{}
	seen := map[string]bool{}
	for _, v := range vars {
		if !seen[v.Name] {
			seen[v.Name] = true
			unique = append(unique, v)
		}
	}
	return unique
}
