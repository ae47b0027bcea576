package typesystem

import (
	"testing"
)

func TestNormalizeUnion(t *testing.T) {
	intT := TCon{Name: "Int"}
	textT := TCon{Name: "Text"}
	boolT := TCon{Name: "Bool"}

	tests := []struct {
		name    string
		members []Type
		want    string
	}{
		{
			name:    "sorts members",
			members: []Type{textT, intT},
			want:    "Int | Text",
		},
		{
			name:    "flattens nested unions",
			members: []Type{intT, TUnion{Types: []Type{textT, boolT}}},
			want:    "Bool | Int | Text",
		},
		{
			name:    "removes duplicates",
			members: []Type{intT, textT, intT},
			want:    "Int | Text",
		},
		{
			name:    "collapses singleton",
			members: []Type{intT, intT},
			want:    "Int",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeUnion(tt.members).String()
			if got != tt.want {
				t.Errorf("NormalizeUnion() = %s, want %s", got, tt.want)
			}
		})
	}

	// Singleton collapse returns the member itself, not a one-element union
	if _, ok := NormalizeUnion([]Type{intT, intT}).(TUnion); ok {
		t.Errorf("NormalizeUnion of duplicates should collapse to the member type")
	}
}

func TestSameUnionReordered(t *testing.T) {
	intT := TCon{Name: "Int"}
	textT := TCon{Name: "Text"}
	boolT := TCon{Name: "Bool"}

	tests := []struct {
		name string
		a    Type
		b    Type
		want bool
	}{
		{
			name: "reordered members",
			a:    TUnion{Types: []Type{intT, textT}},
			b:    TUnion{Types: []Type{textT, intT}},
			want: true,
		},
		{
			name: "same order",
			a:    TUnion{Types: []Type{intT, textT}},
			b:    TUnion{Types: []Type{intT, textT}},
			want: false,
		},
		{
			name: "different member sets",
			a:    TUnion{Types: []Type{intT, textT}},
			b:    TUnion{Types: []Type{intT, boolT}},
			want: false,
		},
		{
			name: "different sizes",
			a:    TUnion{Types: []Type{intT, textT, boolT}},
			b:    TUnion{Types: []Type{textT, intT}},
			want: false,
		},
		{
			name: "not unions",
			a:    intT,
			b:    textT,
			want: false,
		},
		{
			name: "three members rotated",
			a:    TUnion{Types: []Type{intT, textT, boolT}},
			b:    TUnion{Types: []Type{boolT, intT, textT}},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SameUnionReordered(tt.a, tt.b)
			if got != tt.want {
				t.Errorf("SameUnionReordered() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRenameVars(t *testing.T) {
	listCon := TCon{Name: "List"}
	aVar := TVar{Name: "a"}

	renamed := RenameVars(TApp{Constructor: listCon, Args: []Type{aVar}}, "_1")
	if renamed.String() != "List[a_1]" {
		t.Errorf("RenameVars() = %s, want List[a_1]", renamed.String())
	}

	// Rigidity survives the rename
	rigid := TVar{Name: "x", Rigid: true}
	renamed = RenameVars(TApp{Constructor: listCon, Args: []Type{rigid}}, "_2")
	free := renamed.FreeTypeVariables()
	if len(free) != 1 || free[0].Name != "x_2" || !free[0].Rigid {
		t.Errorf("RenameVars() lost rigidity: %+v", free)
	}

	// No free variables: value returned untouched
	ground := TApp{Constructor: listCon, Args: []Type{TCon{Name: "Int"}}}
	if RenameVars(ground, "_3").String() != "List[Int]" {
		t.Errorf("RenameVars() changed a ground type")
	}
}

func TestMarkRigid(t *testing.T) {
	pairCon := TCon{Name: "Pair"}
	app := TApp{Constructor: pairCon, Args: []Type{TVar{Name: "a"}, TVar{Name: "b"}}}

	marked := MarkRigid(app, map[string]bool{"a": true})
	var gotA, gotB TVar
	for _, v := range marked.FreeTypeVariables() {
		switch v.Name {
		case "a":
			gotA = v
		case "b":
			gotB = v
		}
	}
	if !gotA.Rigid {
		t.Errorf("MarkRigid() did not mark a")
	}
	if gotB.Rigid {
		t.Errorf("MarkRigid() marked b, which was not named")
	}

	all := MarkAllRigid(app)
	for _, v := range all.FreeTypeVariables() {
		if !v.Rigid {
			t.Errorf("MarkAllRigid() left %s flexible", v.Name)
		}
	}
}

func TestExpandTypeAlias(t *testing.T) {
	listCon := TCon{Name: "List", KindVal: MakeArrow(Star, Star)}
	intT := TCon{Name: "Int"}

	// Grid[t] = List[List[t]]
	gridParams := []string{"t"}
	gridCon := TCon{
		Name: "Grid",
		UnderlyingType: TApp{Constructor: listCon, Args: []Type{
			TApp{Constructor: listCon, Args: []Type{TVar{Name: "t"}}},
		}},
		TypeParams: &gridParams,
	}

	expanded := ExpandTypeAlias(TApp{Constructor: gridCon, Args: []Type{intT}})
	if expanded.String() != "List[List[Int]]" {
		t.Errorf("ExpandTypeAlias(Grid[Int]) = %s, want List[List[Int]]", expanded.String())
	}

	// Unparameterized alias applied to arguments: Names = List, Names[Int]
	namesCon := TCon{Name: "Names", UnderlyingType: listCon}
	expanded = ExpandTypeAlias(TApp{Constructor: namesCon, Args: []Type{intT}})
	if expanded.String() != "List[Int]" {
		t.Errorf("ExpandTypeAlias(Names[Int]) = %s, want List[Int]", expanded.String())
	}

	// Non-alias application stays put
	plain := TApp{Constructor: listCon, Args: []Type{intT}}
	if ExpandTypeAlias(plain).String() != "List[Int]" {
		t.Errorf("ExpandTypeAlias changed a non-alias application")
	}
}

func TestUnwrapUnderlying(t *testing.T) {
	floatT := TCon{Name: "Float"}
	meters := TCon{Name: "Meters", UnderlyingType: floatT}
	depth := TCon{Name: "Depth", UnderlyingType: meters}

	got := UnwrapUnderlying(depth)
	if got.String() != "Float" {
		t.Errorf("UnwrapUnderlying(Depth) = %s, want Float", got.String())
	}

	if UnwrapUnderlying(floatT).String() != "Float" {
		t.Errorf("UnwrapUnderlying of a plain constant should be identity")
	}
}

func TestHasConcreteSkeleton(t *testing.T) {
	tests := []struct {
		name string
		typ  Type
		want bool
	}{
		{"bare variable", TVar{Name: "a"}, false},
		{"variable-headed application", TApp{Constructor: TVar{Name: "f"}, Args: []Type{TCon{Name: "Int"}}}, false},
		{"constant", TCon{Name: "Int"}, true},
		{"concrete application", TApp{Constructor: TCon{Name: "List"}, Args: []Type{TVar{Name: "a"}}}, true},
		{"record", TRecord{Fields: map[string]Type{"x": TCon{Name: "Int"}}}, true},
		{"union", TUnion{Types: []Type{TCon{Name: "Int"}, TCon{Name: "Text"}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasConcreteSkeleton(tt.typ); got != tt.want {
				t.Errorf("HasConcreteSkeleton(%s) = %v, want %v", tt.typ, got, tt.want)
			}
		})
	}
}

func TestSubstCompose(t *testing.T) {
	listCon := TCon{Name: "List"}
	s1 := Subst{"a": TApp{Constructor: listCon, Args: []Type{TVar{Name: "b"}}}}
	s2 := Subst{"b": TCon{Name: "Int"}}

	composed := s1.Compose(s2)
	if composed["a"].String() != "List[Int]" {
		t.Errorf("Compose: a = %s, want List[Int]", composed["a"].String())
	}
	if composed["b"].String() != "Int" {
		t.Errorf("Compose: b = %s, want Int", composed["b"].String())
	}
}

func TestApplyBreaksSubstitutionCycles(t *testing.T) {
	// a -> b -> a must terminate rather than loop
	s := Subst{"a": TVar{Name: "b"}, "b": TVar{Name: "a"}}
	got := TVar{Name: "a"}.Apply(s)
	if _, ok := got.(TVar); !ok {
		t.Errorf("cyclic substitution should resolve to a variable, got %s", got)
	}
}

func TestApplyFlattensNestedApplications(t *testing.T) {
	// f[b] with f = Pair[Int] becomes Pair[Int, b]
	pairCon := TCon{Name: "Pair", KindVal: MakeArrow(Star, Star, Star)}
	s := Subst{"f": TApp{Constructor: pairCon, Args: []Type{TCon{Name: "Int"}}}}

	app := TApp{Constructor: TVar{Name: "f", KindVal: MakeArrow(Star, Star)}, Args: []Type{TVar{Name: "b"}}}
	got := app.Apply(s)
	if got.String() != "Pair[Int, b]" {
		t.Errorf("Apply did not flatten: got %s, want Pair[Int, b]", got.String())
	}
}
