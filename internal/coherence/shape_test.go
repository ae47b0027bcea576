package coherence

import (
	"testing"

	"github.com/funvibe/funtrait/internal/symbols"
	"github.com/funvibe/funtrait/internal/typesystem"
)

func TestSimplify(t *testing.T) {
	intT := typesystem.TCon{Name: "Int"}
	floatT := typesystem.TCon{Name: "Float"}
	listOf := func(arg typesystem.Type) typesystem.Type {
		return typesystem.TApp{Constructor: typesystem.TCon{Name: "List"}, Args: []typesystem.Type{arg}}
	}
	gridParams := []string{"t"}
	gridAlias := typesystem.TCon{
		Name:           "Grid",
		UnderlyingType: listOf(listOf(typesystem.TVar{Name: "t"})),
		TypeParams:     &gridParams,
	}

	tests := []struct {
		name    string
		input   typesystem.Type
		want    string
		blanket bool
	}{
		{name: "named constant", input: intT, want: "Int"},
		{name: "qualified constant keys on the bare name", input: typesystem.TCon{Name: "Pair", Module: "core"}, want: "Pair"},
		{name: "alias unwraps to target", input: typesystem.TCon{Name: "Meters", UnderlyingType: floatT}, want: "Float"},
		{name: "application keys on head and arity", input: listOf(typesystem.TVar{Name: "a"}), want: "List/1"},
		{name: "variable-headed application", input: typesystem.TApp{Constructor: typesystem.TVar{Name: "f"}, Args: []typesystem.Type{intT}}, blanket: true},
		{
			name:  "parameterized alias expands before keying",
			input: typesystem.TApp{Constructor: gridAlias, Args: []typesystem.Type{intT}},
			want:  "List/1",
		},
		{name: "type variable", input: typesystem.TVar{Name: "a"}, blanket: true},
		{name: "union", input: typesystem.TUnion{Types: []typesystem.Type{intT, floatT}}, blanket: true},
		{name: "tuple", input: typesystem.TTuple{Elements: []typesystem.Type{intT, floatT}}, want: "tuple/2"},
		{name: "closed record", input: typesystem.TRecord{Fields: map[string]typesystem.Type{"x": intT}}, want: "record"},
		{name: "open record", input: typesystem.TRecord{Fields: map[string]typesystem.Type{"x": intT}, IsOpen: true}, blanket: true},
		{name: "record with row tail", input: typesystem.TRecord{Fields: map[string]typesystem.Type{"x": intT}, Row: typesystem.TVar{Name: "r"}}, blanket: true},
		{name: "function", input: typesystem.TFunc{Params: []typesystem.Type{intT, intT}, ReturnType: intT}, want: "func/2"},
		{name: "variadic function", input: typesystem.TFunc{Params: []typesystem.Type{intT}, ReturnType: intT, IsVariadic: true}, blanket: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shape, ok := Simplify(tt.input, nil)
			if tt.blanket {
				if ok {
					t.Fatalf("Simplify(%s) = %s, want blanket", tt.input, shape)
				}
				return
			}
			if !ok {
				t.Fatalf("Simplify(%s) reported blanket, want %s", tt.input, tt.want)
			}
			if got := shape.String(); got != tt.want {
				t.Errorf("Simplify(%s) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestSimplifyResolvesTableAliases(t *testing.T) {
	table := symbols.NewTable()
	if err := table.DefineAlias("Meters", nil, typesystem.TCon{Name: "Float"}); err != nil {
		t.Fatal(err)
	}

	bare := typesystem.TCon{Name: "Meters"}

	// Without the table the alias keeps its own name and would bucket apart
	// from Float impls.
	shape, ok := Simplify(bare, nil)
	if !ok || shape.String() != "Meters" {
		t.Fatalf("Simplify without resolver = %s, %v; want Meters", shape, ok)
	}

	shape, ok = Simplify(bare, table)
	if !ok || shape.String() != "Float" {
		t.Errorf("Simplify with resolver = %s, %v; want Float", shape, ok)
	}
}

func TestShapeStringZeroValue(t *testing.T) {
	if got := (Shape{}).String(); got != "<no shape>" {
		t.Errorf("zero shape String() = %q, want <no shape>", got)
	}
}
