package analyzer

import (
	"github.com/funvibe/funtrait/internal/defs"
	"github.com/funvibe/funtrait/internal/symbols"
	"github.com/funvibe/funtrait/internal/typesystem"
)

// Resolve finds the most specific checked impl of trait that covers the
// query type. It descends from the trait root, at each level taking the
// first child that covers the query; a checked forest keeps siblings
// non-overlapping (marker and union-order dispensations aside), so the
// first hit is the only hit. Returns false when no impl covers the query.
func (a *Analyzer) Resolve(trait string, query typesystem.Type) (symbols.ImplDef, bool) {
	ids, ok := a.ResolvePath(trait, query)
	if !ok {
		return symbols.ImplDef{}, false
	}
	def, _ := a.table.Impl(ids[len(ids)-1])
	return def, true
}

// ResolvePath is Resolve keeping the whole descent: every impl on the way
// from the broadest covering impl down to the most specific one.
func (a *Analyzer) ResolvePath(trait string, query typesystem.Type) ([]defs.ImplID, bool) {
	td, ok := a.table.ResolveTrait(trait)
	if !ok {
		return nil, false
	}
	var path []defs.ImplID
	node := defs.TraitNode(td.ID)
	for {
		next, ok := a.pickChild(node, query)
		if !ok {
			break
		}
		path = append(path, next)
		node = defs.ImplNode(next)
	}
	if len(path) == 0 {
		return nil, false
	}
	return path, true
}

func (a *Analyzer) pickChild(node defs.NodeID, query typesystem.Type) (defs.ImplID, bool) {
	for _, child := range a.graph.ChildrenOf(node) {
		if a.oracle.Covers(child, query) {
			return child, true
		}
	}
	return defs.ImplID{}, false
}
