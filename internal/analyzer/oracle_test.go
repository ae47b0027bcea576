package analyzer

import (
	"testing"

	"github.com/funvibe/funtrait/internal/coherence"
	"github.com/funvibe/funtrait/internal/defs"
	"github.com/funvibe/funtrait/internal/parser"
	"github.com/funvibe/funtrait/internal/symbols"
	"github.com/funvibe/funtrait/internal/token"
)

var fixtureUnit = defs.UnitFor("fixture", "1.0.0")

type implSpec struct {
	trait string
	self  string
	vars  []string
	cons  []string
}

// fixture registers traits and impls on a fresh table and returns the
// oracle plus impl ids in declaration order.
func fixture(t *testing.T, traits []symbols.TraitDef, impls []implSpec) (*Oracle, []defs.ImplID) {
	t.Helper()
	table := symbols.NewTable()
	for i := range traits {
		traits[i].ID = defs.TraitID{Unit: fixtureUnit, Index: uint32(i + 1)}
		if err := table.DefineTrait(traits[i]); err != nil {
			t.Fatalf("DefineTrait(%s): %v", traits[i].Name, err)
		}
	}
	o := NewOracle(table)
	ids := make([]defs.ImplID, len(impls))
	for i, spec := range impls {
		self, cons, err := parser.ParseSelfType(spec.self, "fixture.unit.yaml", i+1, 1)
		if err != nil {
			t.Fatalf("ParseSelfType(%q): %v", spec.self, err)
		}
		for _, raw := range spec.cons {
			c, err := parser.ParseConstraint(raw, "fixture.unit.yaml", i+1, 1)
			if err != nil {
				t.Fatalf("ParseConstraint(%q): %v", raw, err)
			}
			cons = append(cons, c)
		}
		id := defs.ImplID{Unit: fixtureUnit, Index: uint32(i + 1)}
		table.RegisterImpl(symbols.ImplDef{
			ID:          id,
			Trait:       spec.trait,
			SelfType:    self,
			Vars:        spec.vars,
			Constraints: cons,
			Token:       token.Token{Line: i + 1, Column: 1},
			File:        "fixture.unit.yaml",
		})
		ids[i] = id
	}
	return o, ids
}

func TestSpecializes(t *testing.T) {
	o, ids := fixture(t,
		[]symbols.TraitDef{{Name: "Renderable"}, {Name: "Show"}, {Name: "Ord"}, {Name: "Eq"}},
		[]implSpec{
			{trait: "Renderable", self: "a", vars: []string{"a"}},                               // 0 blanket
			{trait: "Renderable", self: "List[a]", vars: []string{"a"}},                         // 1 listAny
			{trait: "Renderable", self: "List[Int]"},                                            // 2 listInt
			{trait: "Show", self: "Circle"},                                                     // 3 showCircle
			{trait: "Renderable", self: "Circle"},                                               // 4 renderCircle
			{trait: "Renderable", self: "a", vars: []string{"a"}, cons: []string{"Show a"}},     // 5 renderShow
			{trait: "Renderable", self: "List[a]", vars: []string{"a"}, cons: []string{"Ord a"}}, // 6 listOrd
			{trait: "Renderable", self: "List[a]", vars: []string{"a"}, cons: []string{"Eq a"}},  // 7 listEq
		})

	tests := []struct {
		name string
		a, b int
		want bool
	}{
		{"concrete under constructor blanket", 2, 1, true},
		{"constructor blanket not under concrete", 1, 2, false},
		{"constructor blanket under full blanket", 1, 0, true},
		{"full blanket not under constructor blanket", 0, 1, false},
		{"constraint discharged by an impl", 4, 5, true},
		{"blanket not under constrained blanket", 0, 5, false},
		{"impl specializes itself", 6, 6, true},
		{"mismatched constraint not implied", 6, 7, false},
		{"constrained under unconstrained", 6, 1, true},
		{"unconstrained not under constrained", 1, 6, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := o.Specializes(ids[tt.a], ids[tt.b]); got != tt.want {
				t.Errorf("Specializes(%d, %d) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestSpecializesNeedsSupportingImpl(t *testing.T) {
	// Same shape as "constraint discharged by an impl", but without the
	// Show impl for Circle the obligation cannot be met.
	o, ids := fixture(t,
		[]symbols.TraitDef{{Name: "Renderable"}, {Name: "Show"}},
		[]implSpec{
			{trait: "Renderable", self: "Circle"},
			{trait: "Renderable", self: "a", vars: []string{"a"}, cons: []string{"Show a"}},
		})
	if o.Specializes(ids[0], ids[1]) {
		t.Error("Specializes = true without an impl discharging Show Circle")
	}
}

func TestOverlap(t *testing.T) {
	o, ids := fixture(t,
		[]symbols.TraitDef{{Name: "Renderable"}},
		[]implSpec{
			{trait: "Renderable", self: "Int"},                           // 0
			{trait: "Renderable", self: "Text"},                          // 1
			{trait: "Renderable", self: "List[a]", vars: []string{"a"}},  // 2
			{trait: "Renderable", self: "List[Int]"},                     // 3
			{trait: "Renderable", self: "a", vars: []string{"a"}},        // 4
			{trait: "Renderable", self: "b", vars: []string{"b"}},        // 5
		})

	tests := []struct {
		name       string
		a, b       int
		wantNil    bool
		wantSelf   string
		wantCauses []string
	}{
		{"disjoint concrete selves", 0, 1, true, "", nil},
		{"constructor blanket against instance", 2, 3, false, "List[Int]", nil},
		{"blanket against concrete", 4, 0, false, "Int", nil},
		{"two blankets", 4, 5, false, "b", []string{"type parameter b could be any type"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := o.Overlap(ids[tt.a], ids[tt.b], coherence.ModeLegacy, coherence.KeepConstraintCheck)
			if tt.wantNil {
				if got != nil {
					t.Fatalf("Overlap = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("Overlap = nil, want a result")
			}
			if got.TraitDesc != "Renderable" {
				t.Errorf("TraitDesc = %q, want %q", got.TraitDesc, "Renderable")
			}
			if got.SelfTy.String() != tt.wantSelf {
				t.Errorf("SelfTy = %s, want %s", got.SelfTy, tt.wantSelf)
			}
			if len(got.AmbiguityCauses) != len(tt.wantCauses) {
				t.Fatalf("AmbiguityCauses = %v, want %v", got.AmbiguityCauses, tt.wantCauses)
			}
			for i := range tt.wantCauses {
				if got.AmbiguityCauses[i] != tt.wantCauses[i] {
					t.Errorf("cause %d = %q, want %q", i, got.AmbiguityCauses[i], tt.wantCauses[i])
				}
			}
		})
	}
}

// An impl for an alias and an impl for its expansion overlap only under the
// strict mode; the legacy mode compares the alias by name.
func TestOverlapModes(t *testing.T) {
	table := symbols.NewTable()
	if err := table.DefineTrait(symbols.TraitDef{
		ID:   defs.TraitID{Unit: fixtureUnit, Index: 1},
		Name: "Renderable",
	}); err != nil {
		t.Fatal(err)
	}
	underlying, err := parser.ParseType("List[Int]")
	if err != nil {
		t.Fatal(err)
	}
	if err := table.DefineAlias("Grid", nil, underlying); err != nil {
		t.Fatal(err)
	}

	o := NewOracle(table)
	selfs := []string{"Grid", "List[Int]"}
	ids := make([]defs.ImplID, len(selfs))
	for i, s := range selfs {
		self, _, err := parser.ParseSelfType(s, "fixture.unit.yaml", i+1, 1)
		if err != nil {
			t.Fatal(err)
		}
		ids[i] = defs.ImplID{Unit: fixtureUnit, Index: uint32(i + 1)}
		table.RegisterImpl(symbols.ImplDef{
			ID: ids[i], Trait: "Renderable", SelfType: self,
			Token: token.Token{Line: i + 1, Column: 1}, File: "fixture.unit.yaml",
		})
	}

	if got := o.Overlap(ids[0], ids[1], coherence.ModeLegacy, coherence.KeepConstraintCheck); got != nil {
		t.Errorf("legacy Overlap = %+v, want nil", got)
	}
	got := o.Overlap(ids[0], ids[1], coherence.ModeStrict, coherence.KeepConstraintCheck)
	if got == nil {
		t.Fatal("strict Overlap = nil, want a result")
	}
	if got.SelfTy.String() != "Grid" {
		t.Errorf("SelfTy = %s, want Grid", got.SelfTy)
	}
}

func TestOverlapConstraintLeak(t *testing.T) {
	traits := []symbols.TraitDef{{Name: "Renderable"}, {Name: "Ord"}}
	impls := []implSpec{
		{trait: "Renderable", self: "a", vars: []string{"a"}, cons: []string{"Ord a"}},
		{trait: "Renderable", self: "b", vars: []string{"b"}},
	}

	t.Run("keep check refuses without blanket support", func(t *testing.T) {
		o, ids := fixture(t, traits, impls)
		if got := o.Overlap(ids[0], ids[1], coherence.ModeLegacy, coherence.KeepConstraintCheck); got != nil {
			t.Errorf("Overlap = %+v, want nil", got)
		}
	})

	t.Run("skip check keeps the overlap", func(t *testing.T) {
		o, ids := fixture(t, traits, impls)
		got := o.Overlap(ids[0], ids[1], coherence.ModeLegacy, coherence.SkipConstraintCheck)
		if got == nil {
			t.Fatal("Overlap = nil, want a result")
		}
		if !got.InvolvesRigidVar {
			t.Error("InvolvesRigidVar = false, want true")
		}
	})

	t.Run("blanket support keeps the overlap", func(t *testing.T) {
		o, ids := fixture(t, traits, append(impls,
			implSpec{trait: "Ord", self: "o", vars: []string{"o"}}))
		got := o.Overlap(ids[0], ids[1], coherence.ModeLegacy, coherence.KeepConstraintCheck)
		if got == nil {
			t.Fatal("Overlap = nil, want a result")
		}
		if !got.InvolvesRigidVar {
			t.Error("InvolvesRigidVar = false, want true")
		}
	})
}

func TestOverlapConcreteConstraint(t *testing.T) {
	traits := []symbols.TraitDef{{Name: "Renderable"}, {Name: "Show"}}
	impls := []implSpec{
		{trait: "Renderable", self: "List[a]", vars: []string{"a"}, cons: []string{"Show a"}},
		{trait: "Renderable", self: "List[Int]"},
	}

	t.Run("unsatisfiable constraint blocks the overlap", func(t *testing.T) {
		o, ids := fixture(t, traits, impls)
		if got := o.Overlap(ids[0], ids[1], coherence.ModeLegacy, coherence.KeepConstraintCheck); got != nil {
			t.Errorf("Overlap = %+v, want nil", got)
		}
	})

	t.Run("skip check ignores the constraint", func(t *testing.T) {
		o, ids := fixture(t, traits, impls)
		got := o.Overlap(ids[0], ids[1], coherence.ModeLegacy, coherence.SkipConstraintCheck)
		if got == nil {
			t.Fatal("Overlap = nil, want a result")
		}
		if got.InvolvesRigidVar {
			t.Error("InvolvesRigidVar = true for a fully determined overlap")
		}
	})

	t.Run("supporting impl keeps the overlap", func(t *testing.T) {
		o, ids := fixture(t, traits, append(impls,
			implSpec{trait: "Show", self: "Int"}))
		got := o.Overlap(ids[0], ids[1], coherence.ModeLegacy, coherence.KeepConstraintCheck)
		if got == nil {
			t.Fatal("Overlap = nil, want a result")
		}
		if got.SelfTy.String() != "List[Int]" {
			t.Errorf("SelfTy = %s, want List[Int]", got.SelfTy)
		}
	})
}

func TestOverlapPolicy(t *testing.T) {
	o, ids := fixture(t,
		[]symbols.TraitDef{{Name: "Serializable", Marker: true}, {Name: "Renderable"}, {Name: "Mixable"}},
		[]implSpec{
			{trait: "Serializable", self: "Int"},                    // 0
			{trait: "Serializable", self: "a", vars: []string{"a"}}, // 1
			{trait: "Mixable", self: "Int | Text"},                  // 2
			{trait: "Mixable", self: "Text | Int"},                  // 3
			{trait: "Mixable", self: "Int | Text"},                  // 4
			{trait: "Renderable", self: "Int"},                      // 5
			{trait: "Renderable", self: "Text"},                     // 6
		})

	tests := []struct {
		name string
		a, b int
		want coherence.OverlapPolicy
	}{
		{"different traits", 0, 5, coherence.PolicyNone},
		{"marker trait", 0, 1, coherence.PolicyMarker},
		{"same union reordered", 2, 3, coherence.PolicyUnionOrder},
		{"same union same order", 2, 4, coherence.PolicyNone},
		{"plain trait", 5, 6, coherence.PolicyNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := o.OverlapPolicy(ids[tt.a], ids[tt.b]); got != tt.want {
				t.Errorf("OverlapPolicy = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCovers(t *testing.T) {
	o, ids := fixture(t,
		[]symbols.TraitDef{{Name: "Renderable"}, {Name: "Show"}},
		[]implSpec{
			{trait: "Renderable", self: "a", vars: []string{"a"}},                           // 0
			{trait: "Renderable", self: "List[a]", vars: []string{"a"}},                     // 1
			{trait: "Renderable", self: "List[Int]"},                                        // 2
			{trait: "Renderable", self: "a", vars: []string{"a"}, cons: []string{"Show a"}}, // 3
			{trait: "Show", self: "Circle"},                                                 // 4
		})

	tests := []struct {
		name  string
		impl  int
		query string
		want  bool
	}{
		{"blanket covers anything", 0, "Int", true},
		{"constructor blanket covers instance", 1, "List[Int]", true},
		{"constructor blanket misses scalar", 1, "Int", false},
		{"concrete impl covers exactly", 2, "List[Int]", true},
		{"concrete impl misses other instance", 2, "List[Text]", false},
		{"constrained blanket with support", 3, "Circle", true},
		{"constrained blanket without support", 3, "Text", false},
		{"variable query reaches constructor blanket", 1, "List[x]", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, err := parser.ParseType(tt.query)
			if err != nil {
				t.Fatalf("ParseType(%q): %v", tt.query, err)
			}
			if got := o.Covers(ids[tt.impl], query); got != tt.want {
				t.Errorf("Covers(%d, %s) = %v, want %v", tt.impl, tt.query, got, tt.want)
			}
		})
	}
}

func TestTraitRefOf(t *testing.T) {
	o, ids := fixture(t,
		[]symbols.TraitDef{{Name: "Renderable"}},
		[]implSpec{{trait: "Renderable", self: "Int"}})

	trait, self, hasErr := o.TraitRefOf(ids[0])
	if want := (defs.TraitID{Unit: fixtureUnit, Index: 1}); trait != want {
		t.Errorf("trait = %s, want %s", trait, want)
	}
	if self.String() != "Int" {
		t.Errorf("self = %s, want Int", self)
	}
	if hasErr {
		t.Error("hasErr = true for a clean impl")
	}

	o.markErr(ids[0])
	if _, _, hasErr := o.TraitRefOf(ids[0]); !hasErr {
		t.Error("hasErr = false after markErr")
	}
}

func TestSelfShape(t *testing.T) {
	o, ids := fixture(t,
		[]symbols.TraitDef{{Name: "Renderable"}},
		[]implSpec{
			{trait: "Renderable", self: "List[Int]"},
			{trait: "Renderable", self: "Int"},
			{trait: "Renderable", self: "a", vars: []string{"a"}},
		})

	tests := []struct {
		name      string
		impl      int
		wantShape string
		wantOK    bool
	}{
		{"applied constructor", 0, "List/1", true},
		{"bare constant", 1, "Int", true},
		{"blanket", 2, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shape, ok := o.SelfShape(ids[tt.impl])
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && shape.String() != tt.wantShape {
				t.Errorf("shape = %s, want %s", shape, tt.wantShape)
			}
		})
	}
}

// Specializes marks erroneous impls incomparable in both directions.
func TestErrImplNeverSpecializes(t *testing.T) {
	o, ids := fixture(t,
		[]symbols.TraitDef{{Name: "Renderable"}},
		[]implSpec{
			{trait: "Renderable", self: "List[Int]"},
			{trait: "Renderable", self: "List[a]", vars: []string{"a"}},
		})
	o.markErr(ids[0])
	if o.Specializes(ids[0], ids[1]) || o.Specializes(ids[1], ids[0]) {
		t.Error("an erroneous impl must not take part in specialization")
	}
	if got := o.Overlap(ids[0], ids[1], coherence.ModeLegacy, coherence.KeepConstraintCheck); got != nil {
		t.Errorf("Overlap with an erroneous impl = %+v, want nil", got)
	}
}
