package analyzer

import (
	"fmt"
	"strings"

	"github.com/funvibe/funtrait/internal/coherence"
	"github.com/funvibe/funtrait/internal/defs"
	"github.com/funvibe/funtrait/internal/symbols"
	"github.com/funvibe/funtrait/internal/typesystem"
)

// Variable suffixes used to keep the two sides of a comparison apart.
// '!' cannot appear in a variable name the parser accepts, so a suffixed
// name never collides with a declared one and the base name can always
// be recovered.
const (
	suffixLeft     = "!l"
	suffixRight    = "!r"
	suffixSpecific = "!s"
	suffixGeneral  = "!g"
	suffixExists   = "!e"
)

// maxObligationDepth caps the recursion when discharging an impl's
// constraints through other impls' constraints.
const maxObligationDepth = 4

// Oracle answers the type-level questions the coherence graph asks, backed
// by the symbol table. It memoizes nothing: every question is a fresh
// unification, which keeps the answers trivially consistent with the table.
type Oracle struct {
	table *symbols.Table
	errs  map[defs.ImplID]bool
}

func NewOracle(table *symbols.Table) *Oracle {
	return &Oracle{table: table, errs: make(map[defs.ImplID]bool)}
}

// markErr flags an impl whose header failed to resolve. The graph still
// accepts the impl but parks it without comparisons.
func (o *Oracle) markErr(impl defs.ImplID) {
	o.errs[impl] = true
}

func (o *Oracle) impl(id defs.ImplID) symbols.ImplDef {
	def, ok := o.table.Impl(id)
	if !ok {
		panic(fmt.Sprintf("oracle: impl %s is not registered", id))
	}
	return def
}

// TraitRefOf reports the trait an impl implements, its self type, and
// whether the impl carries a resolution error.
func (o *Oracle) TraitRefOf(impl defs.ImplID) (defs.TraitID, typesystem.Type, bool) {
	def := o.impl(impl)
	td, ok := o.table.LookupTrait(def.Trait)
	if !ok {
		panic(fmt.Sprintf("oracle: impl %s names unregistered trait %s", impl, def.Trait))
	}
	return td.ID, def.SelfType, o.errs[impl]
}

// SelfShape reports the impl's shape key; false means the impl is blanket.
func (o *Oracle) SelfShape(impl defs.ImplID) (coherence.Shape, bool) {
	return coherence.Simplify(o.impl(impl).SelfType, o.table)
}

// Specializes reports whether impl a applies to a subset of the types impl
// b applies to. The check instantiates a's header with rigid variables,
// unifies b's flexible header against it, and then requires every
// constraint of b to hold under the resulting assignment.
func (o *Oracle) Specializes(a, b defs.ImplID) bool {
	if o.errs[a] || o.errs[b] {
		return false
	}
	defA := o.impl(a)
	defB := o.impl(b)

	specific := typesystem.MarkAllRigid(typesystem.RenameVars(defA.SelfType, suffixSpecific))
	general := typesystem.RenameVars(defB.SelfType, suffixGeneral)

	subst, err := typesystem.UnifyWithResolver(general, specific, o.table)
	if err != nil {
		return false
	}

	for _, c := range defB.Constraints {
		target := typesystem.TVar{Name: c.TypeVar + suffixGeneral}.Apply(subst)
		if len(c.Args) > 0 {
			// Multi-parameter constraints are only implied by a matching
			// constraint on a's own variables.
			if !impliedByEnv(c, target, subst, defA.Constraints) {
				return false
			}
			continue
		}
		if !o.constraintHolds(c.Trait, target, defA.Constraints, 0) {
			return false
		}
	}
	return true
}

// OverlapPolicy reports a dispensation permitting a and b to overlap.
func (o *Oracle) OverlapPolicy(a, b defs.ImplID) coherence.OverlapPolicy {
	defA := o.impl(a)
	defB := o.impl(b)
	if defA.Trait != defB.Trait {
		return coherence.PolicyNone
	}
	if td, ok := o.table.LookupTrait(defA.Trait); ok && td.Marker {
		return coherence.PolicyMarker
	}
	if typesystem.SameUnionReordered(defA.SelfType, defB.SelfType) {
		return coherence.PolicyUnionOrder
	}
	return coherence.PolicyNone
}

// Overlap checks whether a and b can apply to a common receiver type. Both
// headers are instantiated with distinct flexible variables and unified;
// under KeepConstraintCheck the constraints of both impls must additionally
// stay satisfiable at the unified type. A nil result means the impls cannot
// overlap.
func (o *Oracle) Overlap(a, b defs.ImplID, mode coherence.OverlapMode, leak coherence.LeakMode) *coherence.OverlapResult {
	if o.errs[a] || o.errs[b] {
		return nil
	}
	defA := o.impl(a)
	defB := o.impl(b)

	selfA := typesystem.RenameVars(defA.SelfType, suffixLeft)
	selfB := typesystem.RenameVars(defB.SelfType, suffixRight)

	var subst typesystem.Subst
	var err error
	if mode == coherence.ModeStrict {
		subst, err = typesystem.UnifyWithResolver(selfA, selfB, o.table)
	} else {
		subst, err = typesystem.UnifyNominal(selfA, selfB)
	}
	if err != nil {
		return nil
	}

	unified := selfA.Apply(subst)
	res := &coherence.OverlapResult{
		TraitDesc: defA.Trait,
		SelfTy:    stripSuffixes(unified),
	}

	seen := make(map[string]bool)
	for _, v := range unified.FreeTypeVariables() {
		base := baseName(v.Name)
		if !seen[base] {
			seen[base] = true
			res.AmbiguityCauses = append(res.AmbiguityCauses,
				fmt.Sprintf("type parameter %s could be any type", base))
		}
	}

	type obligation struct {
		trait  string
		args   []typesystem.Type
		target typesystem.Type
	}
	var obligations []obligation
	for _, c := range defA.Constraints {
		obligations = append(obligations, obligation{c.Trait, c.Args,
			typesystem.TVar{Name: c.TypeVar + suffixLeft}.Apply(subst)})
	}
	for _, c := range defB.Constraints {
		obligations = append(obligations, obligation{c.Trait, c.Args,
			typesystem.TVar{Name: c.TypeVar + suffixRight}.Apply(subst)})
	}

	for _, ob := range obligations {
		undetermined := len(ob.target.FreeTypeVariables()) > 0
		if undetermined {
			res.InvolvesRigidVar = true
		}
		if leak == coherence.SkipConstraintCheck || len(ob.args) > 0 {
			continue
		}
		if undetermined {
			// The constrained variable stays free at the unified type; the
			// overlap survives only if the constraint holds for every
			// instantiation, which takes an unconstrained blanket impl.
			if !o.blanketImplOf(ob.trait) {
				return nil
			}
			continue
		}
		if !o.constraintHolds(ob.trait, ob.target, nil, 0) {
			return nil
		}
	}
	return res
}

// Covers reports whether an impl applies to a query type, treating the
// query's own variables as fixed unknowns.
func (o *Oracle) Covers(impl defs.ImplID, query typesystem.Type) bool {
	if o.errs[impl] {
		return false
	}
	def := o.impl(impl)
	self := typesystem.RenameVars(def.SelfType, suffixExists)
	subst, err := typesystem.UnifyWithResolver(self, typesystem.MarkAllRigid(query), o.table)
	if err != nil {
		return false
	}
	for _, c := range def.Constraints {
		if len(c.Args) > 0 {
			return false
		}
		target := typesystem.TVar{Name: c.TypeVar + suffixExists}.Apply(subst)
		if !o.constraintHolds(c.Trait, target, nil, 0) {
			return false
		}
	}
	return true
}

// constraintHolds reports whether target satisfying trait follows from the
// environment constraints or from some registered impl. Conservative:
// anything it cannot decide is false.
func (o *Oracle) constraintHolds(trait string, target typesystem.Type, env []typesystem.Constraint, depth int) bool {
	if depth > maxObligationDepth {
		return false
	}
	td, ok := o.table.ResolveTrait(trait)
	if !ok {
		return false
	}

	if tv, ok := target.(typesystem.TVar); ok {
		if !tv.Rigid {
			// An unbound flexible variable: nothing pins it down.
			return false
		}
		base, fromSpecific := strings.CutSuffix(tv.Name, suffixSpecific)
		if !fromSpecific {
			return false
		}
		for _, ec := range env {
			if ec.TypeVar == base && ec.Trait == td.Name && len(ec.Args) == 0 {
				return true
			}
		}
		return false
	}

	return o.implFor(td.Name, target, env, depth)
}

// implFor reports whether some registered impl of trait covers target, with
// the impl's own constraints discharged recursively against env.
func (o *Oracle) implFor(trait string, target typesystem.Type, env []typesystem.Constraint, depth int) bool {
	rigidTarget := typesystem.MarkAllRigid(target)
	for _, def := range o.table.ImplsByTrait(trait) {
		if o.errs[def.ID] {
			continue
		}
		self := typesystem.RenameVars(def.SelfType, suffixExists)
		subst, err := typesystem.UnifyWithResolver(self, rigidTarget, o.table)
		if err != nil {
			continue
		}
		holds := true
		for _, c := range def.Constraints {
			if len(c.Args) > 0 {
				holds = false
				break
			}
			sub := typesystem.TVar{Name: c.TypeVar + suffixExists}.Apply(subst)
			if !o.constraintHolds(c.Trait, sub, env, depth+1) {
				holds = false
				break
			}
		}
		if holds {
			return true
		}
	}
	return false
}

// blanketImplOf reports whether the trait has an unconstrained impl over a
// bare type variable, which covers every type.
func (o *Oracle) blanketImplOf(trait string) bool {
	td, ok := o.table.ResolveTrait(trait)
	if !ok {
		return false
	}
	for _, def := range o.table.ImplsByTrait(td.Name) {
		if o.errs[def.ID] {
			continue
		}
		if _, ok := def.SelfType.(typesystem.TVar); ok && len(def.Constraints) == 0 {
			return true
		}
	}
	return false
}

// impliedByEnv matches a multi-parameter constraint of the general impl
// against the specific impl's own constraints: same trait, the constrained
// variable mapped onto one of a's variables, and argument lists that print
// identically once freshening suffixes are stripped.
func impliedByEnv(c typesystem.Constraint, target typesystem.Type, subst typesystem.Subst, env []typesystem.Constraint) bool {
	tv, ok := target.(typesystem.TVar)
	if !ok {
		return false
	}
	base, fromSpecific := strings.CutSuffix(tv.Name, suffixSpecific)
	if !fromSpecific {
		return false
	}
	for _, ec := range env {
		if ec.TypeVar != base || ec.Trait != c.Trait || len(ec.Args) != len(c.Args) {
			continue
		}
		match := true
		for i, arg := range c.Args {
			sub := typesystem.RenameVars(arg, suffixGeneral).Apply(subst)
			if stripSuffixes(sub).String() != ec.Args[i].String() {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// baseName strips a freshening suffix off a variable name.
func baseName(name string) string {
	if i := strings.IndexByte(name, '!'); i >= 0 {
		return name[:i]
	}
	return name
}

// stripSuffixes maps freshened variable names back to their declared names
// for display.
func stripSuffixes(t typesystem.Type) typesystem.Type {
	free := t.FreeTypeVariables()
	if len(free) == 0 {
		return t
	}
	s := make(typesystem.Subst, len(free))
	for _, v := range free {
		if base := baseName(v.Name); base != v.Name {
			s[v.Name] = typesystem.TVar{Name: base, Rigid: v.Rigid, KindVal: v.KindVal}
		}
	}
	if len(s) == 0 {
		return t
	}
	return t.Apply(s)
}
