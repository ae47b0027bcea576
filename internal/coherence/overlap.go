package coherence

import (
	"fmt"

	"github.com/funvibe/funtrait/internal/defs"
)

// OverlapError is the hard-conflict diagnostic: two impls overlap with no
// specialization order and no dispensation. The rejected impl is left out
// of the forest.
type OverlapError struct {
	WithImpl         defs.ImplID
	TraitDesc        string
	SelfDesc         string // empty when the self type has no concrete skeleton
	AmbiguityCauses  []string
	InvolvesRigidVar bool
}

func (e *OverlapError) Error() string {
	if e.SelfDesc == "" {
		return fmt.Sprintf("overlapping impls for trait %s: conflicts with impl %s", e.TraitDesc, e.WithImpl)
	}
	return fmt.Sprintf("overlapping impls for trait %s: %s conflicts with impl %s", e.TraitDesc, e.SelfDesc, e.WithImpl)
}

// FutureCompatKind names the legacy-compatibility relaxation that let an
// overlap through.
type FutureCompatKind int

const (
	// LintStrictInference: the overlap is visible only to strict
	// inference; legacy mode's shallower alias and row reasoning missed it.
	LintStrictInference FutureCompatKind = iota + 1
	// LintUnionOrder: both self types are unions equal up to member order.
	LintUnionOrder
	// LintConstraintLeak: the overlap appears only when constraint
	// satisfiability of rigid variables is skipped.
	LintConstraintLeak
)

func (k FutureCompatKind) String() string {
	switch k {
	case LintStrictInference:
		return "strict-inference"
	case LintUnionOrder:
		return "union-order"
	case LintConstraintLeak:
		return "constraint-leak"
	default:
		return "unknown"
	}
}

// FutureCompatOverlapError is the soft-conflict diagnostic: the overlap was
// accepted for backward compatibility, and the caller must surface a
// warning. It is data handed back from an insertion, never an error return
// and never stored in the graph.
type FutureCompatOverlapError struct {
	Err  OverlapError
	Kind FutureCompatKind
}
