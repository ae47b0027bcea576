package coherence

import (
	"github.com/funvibe/funtrait/internal/defs"
	"github.com/funvibe/funtrait/internal/typesystem"
)

// OverlapMode selects how deeply the overlap check reasons about types.
// The modes form an ordered hierarchy: everything legacy mode sees, strict
// mode sees too.
type OverlapMode int

const (
	// ModeLegacy compares aliases by name and never absorbs record rows.
	// It is the operative mode: the forest is shaped by what it reports.
	ModeLegacy OverlapMode = iota
	// ModeStrict expands aliases, absorbs rows and solves constructor
	// variables. Used only for future-compatibility rechecks.
	ModeStrict
)

// LeakMode controls whether constraint satisfiability of rigid variables is
// consulted during an overlap check.
type LeakMode int

const (
	KeepConstraintCheck LeakMode = iota
	SkipConstraintCheck
)

// OverlapPolicy is a dispensation that lets a pair of impls overlap without
// a specialization order.
type OverlapPolicy int

const (
	PolicyNone OverlapPolicy = iota
	// PolicyMarker: the trait is a marker trait; overlapping impls carry no
	// methods to collide.
	PolicyMarker
	// PolicyUnionOrder: both self types are unions over the same member set
	// in different declared orders; grandfathered, slated to become an
	// error.
	PolicyUnionOrder
)

// OverlapResult describes one detected overlap: the unified trait
// reference's printable pieces plus ambiguity annotations. A nil result
// means the pair cannot overlap.
type OverlapResult struct {
	TraitDesc        string
	SelfTy           typesystem.Type
	AmbiguityCauses  []string
	InvolvesRigidVar bool
}

// Oracle supplies the type-level facts the graph algorithm needs. All
// methods are pure: deterministic functions of their arguments (memoization
// inside an implementation is invisible here). The graph is independently
// testable against a mock.
type Oracle interface {
	// TraitRefOf reports the trait an impl implements, its self type, and
	// whether the impl's header already carries a resolution error. Total:
	// errors are folded into the flag, never returned.
	TraitRefOf(impl defs.ImplID) (defs.TraitID, typesystem.Type, bool)
	// SelfShape reports the impl's shape key; false means the impl is
	// blanket.
	SelfShape(impl defs.ImplID) (Shape, bool)
	// Specializes reports whether a is at least as specific as b.
	// Asymmetric: both directions holding at once marks the oracle
	// ill-formed.
	Specializes(a, b defs.ImplID) bool
	// OverlapPolicy reports a dispensation permitting a and b to overlap.
	OverlapPolicy(a, b defs.ImplID) OverlapPolicy
	// Overlap checks whether a and b can apply to a common receiver type
	// under the given mode; nil means they cannot.
	Overlap(a, b defs.ImplID, mode OverlapMode, leak LeakMode) *OverlapResult
}
