package coherence

import (
	"fmt"

	"github.com/funvibe/funtrait/internal/defs"
	"github.com/funvibe/funtrait/internal/typesystem"
)

// children holds the impls attached directly beneath one graph node,
// partitioned by shape for fast filtering. Shaped impls live in per-shape
// buckets; blanket impls (no shape) must be compared against everything and
// live in their own sequence. Bucket enumeration follows shape creation
// order and bucket contents follow insertion order, so sibling scans are
// reproducible.
type children struct {
	nonblanket map[Shape][]defs.ImplID
	shapes     []Shape
	blanket    []defs.ImplID
}

func newChildren() *children {
	return &children{nonblanket: map[Shape][]defs.ImplID{}}
}

// bucket returns the slice for a shape, creating an empty bucket on first
// access.
func (c *children) bucket(shape Shape) []defs.ImplID {
	if _, ok := c.nonblanket[shape]; !ok {
		c.nonblanket[shape] = nil
		c.shapes = append(c.shapes, shape)
	}
	return c.nonblanket[shape]
}

// insertBlindly files an impl under its own shape (or as blanket) with no
// overlap checking.
func (c *children) insertBlindly(o Oracle, impl defs.ImplID) {
	shape, ok := o.SelfShape(impl)
	if !ok {
		c.blanket = append(c.blanket, impl)
		return
	}
	c.bucket(shape)
	c.nonblanket[shape] = append(c.nonblanket[shape], impl)
}

// removeExisting removes an impl from the exact container it must be in.
// The impl not being there means the forest invariant was already broken,
// which is a bug, not a recoverable condition.
func (c *children) removeExisting(o Oracle, impl defs.ImplID) {
	shape, ok := o.SelfShape(impl)
	if !ok {
		for i, id := range c.blanket {
			if id == impl {
				c.blanket = append(c.blanket[:i], c.blanket[i+1:]...)
				return
			}
		}
		panic(fmt.Sprintf("removeExisting: blanket impl %s is not a child here", impl))
	}
	bucket := c.nonblanket[shape]
	for i, id := range bucket {
		if id == impl {
			c.nonblanket[shape] = append(bucket[:i], bucket[i+1:]...)
			return
		}
	}
	panic(fmt.Sprintf("removeExisting: impl %s is not a child here", impl))
}

// iter enumerates every child: blanket impls first, then each shape bucket
// in creation order.
func (c *children) iter() []defs.ImplID {
	out := make([]defs.ImplID, 0, len(c.blanket))
	out = append(out, c.blanket...)
	for _, shape := range c.shapes {
		out = append(out, c.nonblanket[shape]...)
	}
	return out
}

// filtered enumerates the potential siblings of a shaped impl: blanket
// impls plus the one bucket for that shape.
func (c *children) filtered(shape Shape) []defs.ImplID {
	out := make([]defs.ImplID, 0, len(c.blanket))
	out = append(out, c.blanket...)
	out = append(out, c.bucket(shape)...)
	return out
}

// inserted is the outcome of scanning one level's siblings.
type inserted interface {
	insertedOutcome()
}

// becameNewSibling: the impl was filed here; lint is the deferred
// future-compatibility warning, if any.
type becameNewSibling struct {
	lint *FutureCompatOverlapError
}

// replaceChildren: the impl is more general than the displaced siblings and
// must adopt them. The impl itself has not been filed yet.
type replaceChildren struct {
	displaced []defs.ImplID
}

// shouldRecurseOn: the impl is strictly more specific than next and belongs
// somewhere in next's subtree.
type shouldRecurseOn struct {
	next defs.ImplID
}

func (becameNewSibling) insertedOutcome() {}
func (replaceChildren) insertedOutcome()  {}
func (shouldRecurseOn) insertedOutcome()  {}

// insert classifies a new impl against every potential sibling at this
// level. The scan itself never mutates the forest: the impl is filed only
// on the becameNewSibling outcome, and replaceChildren leaves all mutation
// to the caller's surgery.
func (c *children) insert(o Oracle, impl defs.ImplID, shape Shape, hasShape bool) (inserted, error) {
	var lastLint *FutureCompatOverlapError
	var replace []defs.ImplID

	var candidates []defs.ImplID
	if hasShape {
		candidates = c.filtered(shape)
	} else {
		candidates = c.iter()
	}

	for _, sibling := range candidates {
		overlapError := func(res *OverlapResult) *OverlapError {
			selfDesc := ""
			if res.SelfTy != nil && typesystem.HasConcreteSkeleton(res.SelfTy) {
				selfDesc = res.SelfTy.String()
			}
			return &OverlapError{
				WithImpl:         sibling,
				TraitDesc:        res.TraitDesc,
				SelfDesc:         selfDesc,
				AmbiguityCauses:  res.AmbiguityCauses,
				InvolvesRigidVar: res.InvolvesRigidVar,
			}
		}

		le, ge := false, false
		if res := o.Overlap(sibling, impl, ModeLegacy, KeepConstraintCheck); res != nil {
			switch o.OverlapPolicy(impl, sibling) {
			case PolicyMarker:
				// Permitted outright; no relationship recorded.
			case PolicyUnionOrder:
				// Grandfathered, but slated to become an error. The most
				// recent classification wins across the scan.
				lastLint = &FutureCompatOverlapError{Err: *overlapError(res), Kind: LintUnionOrder}
			default:
				le = o.Specializes(impl, sibling)
				ge = o.Specializes(sibling, impl)
				if le == ge {
					// Both directions (ill-formed oracle) or neither
					// (a genuine ambiguity): hard conflict.
					return nil, overlapError(res)
				}
			}
		}

		if le && !ge {
			// Strictly more specific than this sibling: the rest of the
			// level is irrelevant, descend.
			return shouldRecurseOn{next: sibling}, nil
		} else if ge && !le {
			replace = append(replace, sibling)
		} else if o.OverlapPolicy(impl, sibling) == PolicyNone {
			// No relationship under the operative check. See whether one
			// of the stricter modes would have complained, so the
			// acceptance can be flagged before it becomes an error.
			// Priority is fixed: a strict-inference finding displaces
			// anything earlier, a constraint-leak finding only fills an
			// empty slot.
			if res := o.Overlap(sibling, impl, ModeStrict, KeepConstraintCheck); res != nil {
				lastLint = &FutureCompatOverlapError{Err: *overlapError(res), Kind: LintStrictInference}
			}
			if lastLint == nil {
				if res := o.Overlap(sibling, impl, ModeStrict, SkipConstraintCheck); res != nil {
					lastLint = &FutureCompatOverlapError{Err: *overlapError(res), Kind: LintConstraintLeak}
				}
			}
		}
	}

	if len(replace) > 0 {
		return replaceChildren{displaced: replace}, nil
	}

	c.insertBlindly(o, impl)
	return becameNewSibling{lint: lastLint}, nil
}
