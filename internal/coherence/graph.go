// Package coherence maintains the specialization forest for trait impls:
// one tree per trait, in which a path from the root to a leaf is a chain of
// strictly more specific impls and siblings are pairwise non-overlapping
// (or overlap-permitted by policy). Insertion classifies each new impl
// against the forest through an injected Oracle; the forest is later
// consulted to pick the single most specific impl for a receiver type.
package coherence

import (
	"fmt"
	"sort"

	"github.com/funvibe/funtrait/internal/defs"
)

// Graph is the forest-wide state. parent and children are inverse views of
// the same forest: for every impl I with parent[I] = P, I appears in
// children[P]. Entries are created lazily and live for the whole session.
//
// Single writer: insertions are strictly sequential during one check run.
type Graph struct {
	parent   map[defs.ImplID]defs.NodeID
	children map[defs.NodeID]*children
}

func NewGraph() *Graph {
	return &Graph{
		parent:   map[defs.ImplID]defs.NodeID{},
		children: map[defs.NodeID]*children{},
	}
}

func (g *Graph) childrenOf(node defs.NodeID) *children {
	c, ok := g.children[node]
	if !ok {
		c = newChildren()
		g.children[node] = c
	}
	return c
}

// Insert places one local impl into the forest rooted at its trait.
// Returns (nil, nil) for a clean insertion, a lint when the impl was
// accepted only under a legacy relaxation, or an error when it conflicts,
// in which case the forest is left untouched.
func (g *Graph) Insert(o Oracle, impl defs.ImplID) (*FutureCompatOverlapError, error) {
	trait, _, hasErr := o.TraitRefOf(impl)
	root := defs.TraitNode(trait)

	// An impl whose header already failed resolution is parked under the
	// root without overlap checking, so one upstream mistake does not
	// cascade into spurious conflicts.
	if hasErr {
		g.parent[impl] = root
		g.childrenOf(root).insertBlindly(o, impl)
		return nil, nil
	}

	shape, hasShape := o.SelfShape(impl)

	var lint *FutureCompatOverlapError
	parent := root
	for {
		outcome, err := g.childrenOf(parent).insert(o, impl, shape, hasShape)
		if err != nil {
			return nil, err
		}

		switch out := outcome.(type) {
		case becameNewSibling:
			lint = out.lint
		case shouldRecurseOn:
			parent = defs.ImplNode(out.next)
			continue
		case replaceChildren:
			// The displaced siblings are all strictly more specific than
			// the new impl: splice it in between them and the current
			// parent.
			siblings := g.children[parent]
			for _, displaced := range out.displaced {
				siblings.removeExisting(o, displaced)
			}
			siblings.insertBlindly(o, impl)

			implNode := defs.ImplNode(impl)
			for _, displaced := range out.displaced {
				g.parent[displaced] = implNode
			}
			g.parent[impl] = parent

			adopted := g.childrenOf(implNode)
			for _, displaced := range out.displaced {
				adopted.insertBlindly(o, displaced)
			}
		}
		break
	}

	g.parent[impl] = parent
	return lint, nil
}

// RecordImplFromStore attaches an impl whose coherence was validated when
// its unit was first checked: no overlap checking, the stored parent edge
// is trusted. The child having a parent already means an upstream phase
// replayed a unit twice, which is a bug in the tool, not a user error.
func (g *Graph) RecordImplFromStore(o Oracle, parent defs.NodeID, child defs.ImplID) {
	if existing, ok := g.parent[child]; ok {
		panic(fmt.Sprintf("RecordImplFromStore: impl %s already has parent %s recorded", child, existing))
	}
	g.parent[child] = parent
	g.childrenOf(parent).insertBlindly(o, child)
}

// Parent reports the node an impl hangs beneath.
func (g *Graph) Parent(impl defs.ImplID) (defs.NodeID, bool) {
	node, ok := g.parent[impl]
	return node, ok
}

// ChildrenOf lists the impls directly beneath a node, blanket impls first,
// then shape buckets in creation order.
func (g *Graph) ChildrenOf(node defs.NodeID) []defs.ImplID {
	c, ok := g.children[node]
	if !ok {
		return nil
	}
	return c.iter()
}

// AncestorsOf walks parent pointers from an impl up to and including its
// trait root.
func (g *Graph) AncestorsOf(impl defs.ImplID) []defs.NodeID {
	var out []defs.NodeID
	current := impl
	for {
		node, ok := g.parent[current]
		if !ok {
			return out
		}
		out = append(out, node)
		next, isImpl := node.Impl()
		if !isImpl {
			return out
		}
		current = next
	}
}

// TraitRoots lists every trait with at least one recorded impl, in a
// stable order.
func (g *Graph) TraitRoots() []defs.TraitID {
	var roots []defs.TraitID
	for node := range g.children {
		if trait, ok := node.Trait(); ok {
			roots = append(roots, trait)
		}
	}
	sort.Slice(roots, func(i, j int) bool {
		return roots[i].String() < roots[j].String()
	})
	return roots
}

// ImplsOf lists a trait's impls in preorder (each parent before its
// subtree).
func (g *Graph) ImplsOf(trait defs.TraitID) []defs.ImplID {
	var out []defs.ImplID
	var walk func(node defs.NodeID)
	walk = func(node defs.NodeID) {
		for _, child := range g.ChildrenOf(node) {
			out = append(out, child)
			walk(defs.ImplNode(child))
		}
	}
	walk(defs.TraitNode(trait))
	return out
}
