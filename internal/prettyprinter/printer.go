// Package prettyprinter renders check results for humans: the
// specialization forest as an indented tree, and a flat edge listing
// that diffs and greps well.
package prettyprinter

import (
	"bytes"
	"strings"

	"github.com/funvibe/funtrait/internal/coherence"
	"github.com/funvibe/funtrait/internal/defs"
	"github.com/funvibe/funtrait/internal/symbols"
)

// --- Tree Printer (output mirrors graph structure) ---

// TreePrinter renders the specialization forest as indented text: one
// root line per trait, impls nested beneath their graph parents.
type TreePrinter struct {
	buf    bytes.Buffer
	indent int
	graph  *coherence.Graph
	table  *symbols.Table
	lints  map[defs.ImplID]coherence.FutureCompatKind
}

func NewTreePrinter(g *coherence.Graph, t *symbols.Table) *TreePrinter {
	return &TreePrinter{graph: g, table: t}
}

// AnnotateLints marks impls that were placed under a dispensation; their
// lines get the dispensation kind appended.
func (p *TreePrinter) AnnotateLints(lints map[defs.ImplID]coherence.FutureCompatKind) {
	p.lints = lints
}

func (p *TreePrinter) String() string {
	return p.buf.String()
}

func (p *TreePrinter) writeIndent() {
	for i := 0; i < p.indent; i++ {
		p.buf.WriteString("    ")
	}
}

func (p *TreePrinter) write(s string) {
	p.buf.WriteString(s)
}

func (p *TreePrinter) writeln() {
	p.buf.WriteString("\n")
}

// PrintForest renders every registered trait in definition order.
// Traits without impls still get a root line.
func (p *TreePrinter) PrintForest() {
	for _, name := range p.table.TraitNames() {
		td, ok := p.table.LookupTrait(name)
		if !ok {
			continue
		}
		p.PrintTrait(td)
	}
}

// PrintTrait renders one trait root and its impl subtree.
func (p *TreePrinter) PrintTrait(td symbols.TraitDef) {
	p.printTraitLine(td)
	p.printChildren(defs.TraitNode(td.ID))
}

// PrintPath renders one resolution path from a trait root down to the
// selected impl, one step per line.
func (p *TreePrinter) PrintPath(td symbols.TraitDef, path []defs.ImplID) {
	p.printTraitLine(td)
	for _, id := range path {
		p.indent++
		p.printImpl(id)
	}
	p.indent -= len(path)
}

func (p *TreePrinter) printTraitLine(td symbols.TraitDef) {
	p.writeIndent()
	p.write("trait ")
	p.write(td.Name)
	if len(td.Params) > 0 {
		p.write("[")
		p.write(strings.Join(td.Params, ", "))
		p.write("]")
	}
	if td.Marker {
		p.write(" (marker)")
	}
	p.writeln()
}

func (p *TreePrinter) printChildren(node defs.NodeID) {
	p.indent++
	for _, child := range p.graph.ChildrenOf(node) {
		p.printImpl(child)
		p.printChildren(defs.ImplNode(child))
	}
	p.indent--
}

func (p *TreePrinter) printImpl(id defs.ImplID) {
	p.writeIndent()
	def, ok := p.table.Impl(id)
	if !ok {
		p.write(id.String())
		p.writeln()
		return
	}
	p.write("impl ")
	p.write(id.String())
	p.write(" for ")
	p.write(def.SelfType.String())
	if len(def.Constraints) > 0 {
		p.write(" where ")
		for i, c := range def.Constraints {
			if i > 0 {
				p.write(", ")
			}
			p.write(c.String())
		}
	}
	if kind, ok := p.lints[id]; ok {
		p.write("  [")
		p.write(kind.String())
		p.write("]")
	}
	p.writeln()
}

// --- Edge Printer (one parent edge per line) ---

// Edges renders "child -> parent" lines, traits in definition order and
// each trait's impls in preorder. Impls hanging directly under a root
// point at the trait name.
func Edges(g *coherence.Graph, t *symbols.Table) string {
	var buf bytes.Buffer
	for _, name := range t.TraitNames() {
		td, ok := t.LookupTrait(name)
		if !ok {
			continue
		}
		for _, impl := range g.ImplsOf(td.ID) {
			parent, ok := g.Parent(impl)
			if !ok {
				continue
			}
			buf.WriteString(impl.String())
			buf.WriteString(" -> ")
			buf.WriteString(nodeLabel(parent, t))
			buf.WriteString("\n")
		}
	}
	return buf.String()
}

func nodeLabel(node defs.NodeID, t *symbols.Table) string {
	if trait, ok := node.Trait(); ok {
		if root, found := t.TraitByID(trait); found {
			return root.Name
		}
	}
	return node.String()
}
