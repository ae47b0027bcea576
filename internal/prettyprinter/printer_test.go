package prettyprinter

import (
	"fmt"
	"strings"
	"testing"

	"github.com/funvibe/funtrait/internal/analyzer"
	"github.com/funvibe/funtrait/internal/coherence"
	"github.com/funvibe/funtrait/internal/defs"
	"github.com/funvibe/funtrait/internal/parser"
	"github.com/funvibe/funtrait/internal/symbols"
)

var vizUnit = defs.UnitFor("viz", "1.0.0")

type implSpec struct {
	trait string
	self  string
	vars  []string
	cons  []string
}

// fixture builds a checked forest with a specialization chain, a sibling
// bucket, a supporting trait and a marker trait, plus one trait with no
// impls at all.
func fixture(t *testing.T) (*coherence.Graph, *symbols.Table, []defs.ImplID) {
	t.Helper()

	table := symbols.NewTable()
	traits := []symbols.TraitDef{
		{Name: "Renderable", Params: []string{"a"}},
		{Name: "Eq", Params: []string{"a"}},
		{Name: "Serializable", Marker: true},
		{Name: "Hash", Params: []string{"a"}},
	}
	for i, td := range traits {
		td.ID = defs.TraitID{Unit: vizUnit, Index: uint32(i + 1)}
		if err := table.DefineTrait(td); err != nil {
			t.Fatalf("DefineTrait(%s): %v", td.Name, err)
		}
	}

	impls := []implSpec{
		{trait: "Renderable", self: "a", vars: []string{"a"}},
		{trait: "Renderable", self: "List[a]", vars: []string{"a"}, cons: []string{"Eq a"}},
		{trait: "Renderable", self: "List[Int]"},
		{trait: "Renderable", self: "Circle"},
		{trait: "Eq", self: "Int"},
		{trait: "Serializable", self: "Int"},
	}
	ids := make([]defs.ImplID, len(impls))
	for i, spec := range impls {
		self, _, err := parser.ParseSelfType(spec.self, "viz.unit.yaml", 0, 0)
		if err != nil {
			t.Fatalf("ParseSelfType(%q): %v", spec.self, err)
		}
		def := symbols.ImplDef{
			ID:       defs.ImplID{Unit: vizUnit, Index: uint32(i + 1)},
			Trait:    spec.trait,
			SelfType: self,
			Vars:     spec.vars,
		}
		for _, c := range spec.cons {
			parsed, err := parser.ParseConstraint(c, "viz.unit.yaml", 0, 0)
			if err != nil {
				t.Fatalf("ParseConstraint(%q): %v", c, err)
			}
			def.Constraints = append(def.Constraints, parsed)
		}
		table.RegisterImpl(def)
		ids[i] = def.ID
	}

	graph := coherence.NewGraph()
	oracle := analyzer.NewOracle(table)
	for _, id := range ids {
		if _, err := graph.Insert(oracle, id); err != nil {
			t.Fatalf("Insert(%s): %v", id, err)
		}
	}
	return graph, table, ids
}

func TestPrintForest(t *testing.T) {
	graph, table, _ := fixture(t)

	p := NewTreePrinter(graph, table)
	p.PrintForest()

	want := fmt.Sprintf(`trait Renderable[a]
    impl %[1]s#1 for a
        impl %[1]s#2 for List[a] where Eq a
            impl %[1]s#3 for List[Int]
        impl %[1]s#4 for Circle
trait Eq[a]
    impl %[1]s#5 for Int
trait Serializable (marker)
    impl %[1]s#6 for Int
trait Hash[a]
`, vizUnit.Short())
	if got := p.String(); got != want {
		t.Errorf("forest mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestPrintForestLintAnnotation(t *testing.T) {
	graph, table, ids := fixture(t)

	p := NewTreePrinter(graph, table)
	p.AnnotateLints(map[defs.ImplID]coherence.FutureCompatKind{
		ids[3]: coherence.LintStrictInference,
	})
	p.PrintForest()

	line := fmt.Sprintf("impl %s for Circle  [strict-inference]", ids[3])
	if !strings.Contains(p.String(), line) {
		t.Errorf("forest missing annotated line %q:\n%s", line, p.String())
	}
}

func TestPrintPath(t *testing.T) {
	graph, table, ids := fixture(t)
	td, ok := table.LookupTrait("Renderable")
	if !ok {
		t.Fatal("trait Renderable not registered")
	}

	p := NewTreePrinter(graph, table)
	p.PrintPath(td, []defs.ImplID{ids[0], ids[1], ids[2]})

	want := fmt.Sprintf(`trait Renderable[a]
    impl %[1]s#1 for a
        impl %[1]s#2 for List[a] where Eq a
            impl %[1]s#3 for List[Int]
`, vizUnit.Short())
	if got := p.String(); got != want {
		t.Errorf("path mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestEdges(t *testing.T) {
	graph, table, _ := fixture(t)

	want := fmt.Sprintf(`%[1]s#1 -> Renderable
%[1]s#2 -> %[1]s#1
%[1]s#3 -> %[1]s#2
%[1]s#4 -> %[1]s#1
%[1]s#5 -> Eq
%[1]s#6 -> Serializable
`, vizUnit.Short())
	if got := Edges(graph, table); got != want {
		t.Errorf("edges mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}
