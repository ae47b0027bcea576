package metaserv

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jhump/protoreflect/dynamic"

	"github.com/funvibe/funtrait/internal/analyzer"
	"github.com/funvibe/funtrait/internal/defs"
	"github.com/funvibe/funtrait/internal/diagnostics"
)

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

// checkedAnalyzer checks a two-unit project with a three-step
// specialization chain and fails the test on any diagnostic.
func checkedAnalyzer(t *testing.T) *analyzer.Analyzer {
	t.Helper()
	dir := writeProject(t, map[string]string{
		"funtrait.yaml": "units:\n  - core.unit.yaml\n  - geometry.unit.yaml\n",
		"core.unit.yaml": `unit: core
version: "1.0.0"
traits:
  - name: Renderable
`,
		"geometry.unit.yaml": `unit: geometry
version: "1.0.0"
requires:
  - unit: core
impls:
  - trait: core.Renderable
    for: a
    vars: [a]
  - trait: Renderable
    for: "List[a]"
    vars: [a]
  - trait: Renderable
    for: "List[Int]"
`,
	})

	a := analyzer.New()
	if err := a.LoadManifests(filepath.Join(dir, "funtrait.yaml")); err != nil {
		t.Fatalf("LoadManifests: %v", err)
	}
	a.RegisterSymbols()
	a.InsertImpls()
	if diags := a.Diagnostics(); len(diags) != 0 {
		t.Fatalf("diagnostics on fixture project: %v", diags)
	}
	return a
}

func implIDs(t *testing.T, resp *dynamic.Message, field string) []string {
	t.Helper()
	raw, _ := resp.GetFieldByName(field).([]interface{})
	var out []string
	for _, item := range raw {
		m, ok := item.(*dynamic.Message)
		if !ok {
			t.Fatalf("element %T is not a message", item)
		}
		out = append(out, stringField(m, "id"))
	}
	return out
}

func wantIDs(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestMetaService(t *testing.T) {
	a := checkedAnalyzer(t)
	srv, err := New(a)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	addr, err := srv.Start("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop()

	client, err := Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()
	ctx := context.Background()

	gid, ok := a.UnitID("geometry")
	if !ok {
		t.Fatal("unit geometry not loaded")
	}
	blanket := defs.ImplID{Unit: gid, Index: 1}
	listAny := defs.ImplID{Unit: gid, Index: 2}
	listInt := defs.ImplID{Unit: gid, Index: 3}

	t.Run("impls in preorder", func(t *testing.T) {
		resp, err := client.Invoke(ctx, "Impls", map[string]interface{}{"trait": "Renderable"})
		if err != nil {
			t.Fatalf("Impls: %v", err)
		}
		wantIDs(t, implIDs(t, resp, "impls"), blanket.String(), listAny.String(), listInt.String())
	})

	t.Run("children of trait root", func(t *testing.T) {
		resp, err := client.Invoke(ctx, "Children", map[string]interface{}{"trait": "Renderable"})
		if err != nil {
			t.Fatalf("Children: %v", err)
		}
		wantIDs(t, implIDs(t, resp, "impls"), blanket.String())
	})

	t.Run("children of impl", func(t *testing.T) {
		resp, err := client.Invoke(ctx, "Children", map[string]interface{}{"impl": blanket.String()})
		if err != nil {
			t.Fatalf("Children: %v", err)
		}
		wantIDs(t, implIDs(t, resp, "impls"), listAny.String())
	})

	t.Run("parent of mid-chain impl", func(t *testing.T) {
		resp, err := client.Invoke(ctx, "Parent", map[string]interface{}{"impl": listInt.String()})
		if err != nil {
			t.Fatalf("Parent: %v", err)
		}
		if got := stringField(resp, "node"); got != listAny.String() {
			t.Errorf("node = %q, want %q", got, listAny)
		}
		if root, _ := resp.GetFieldByName("root").(bool); root {
			t.Error("mid-chain parent reported as root")
		}
	})

	t.Run("parent of top impl is the root", func(t *testing.T) {
		resp, err := client.Invoke(ctx, "Parent", map[string]interface{}{"impl": blanket.String()})
		if err != nil {
			t.Fatalf("Parent: %v", err)
		}
		if got := stringField(resp, "node"); got != "Renderable" {
			t.Errorf("node = %q, want Renderable", got)
		}
		if root, _ := resp.GetFieldByName("root").(bool); !root {
			t.Error("trait root not reported as root")
		}
	})

	t.Run("ancestors walk to the root", func(t *testing.T) {
		resp, err := client.Invoke(ctx, "Ancestors", map[string]interface{}{"impl": listInt.String()})
		if err != nil {
			t.Fatalf("Ancestors: %v", err)
		}
		raw, _ := resp.GetFieldByName("nodes").([]interface{})
		var got []string
		for _, v := range raw {
			s, _ := v.(string)
			got = append(got, s)
		}
		want := []string{listAny.String(), blanket.String(), "Renderable"}
		if len(got) != len(want) {
			t.Fatalf("nodes = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("nodes = %v, want %v", got, want)
			}
		}
	})

	t.Run("resolve follows the chain", func(t *testing.T) {
		resp, err := client.Invoke(ctx, "Resolve", map[string]interface{}{
			"trait": "Renderable",
			"self":  "List[Int]",
		})
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if found, _ := resp.GetFieldByName("found").(bool); !found {
			t.Fatal("resolution not found")
		}
		path := implIDs(t, resp, "path")
		wantIDs(t, path, blanket.String(), listAny.String(), listInt.String())
	})

	t.Run("resolve on unknown trait reports not found", func(t *testing.T) {
		resp, err := client.Invoke(ctx, "Resolve", map[string]interface{}{
			"trait": "Paintable",
			"self":  "Int",
		})
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if found, _ := resp.GetFieldByName("found").(bool); found {
			t.Error("resolution found for an unknown trait")
		}
	})

	t.Run("unknown impl is an error", func(t *testing.T) {
		_, err := client.Invoke(ctx, "Children", map[string]interface{}{"impl": "bogus#9"})
		if err == nil || !strings.Contains(err.Error(), "is not in the forest") {
			t.Errorf("err = %v, want forest-membership error", err)
		}
	})

	t.Run("check runs a transient analysis", func(t *testing.T) {
		dir := writeProject(t, map[string]string{
			"funtrait.yaml": "units:\n  - shapes.unit.yaml\n",
			"shapes.unit.yaml": `unit: shapes
version: "1.0.0"
traits:
  - name: Area
impls:
  - trait: Area
    for: Circle
  - trait: Area
    for: Circle
`,
		})
		resp, err := client.Invoke(ctx, "Check", map[string]interface{}{
			"project": filepath.Join(dir, "funtrait.yaml"),
		})
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if hasErrors, _ := resp.GetFieldByName("has_errors").(bool); !hasErrors {
			t.Error("conflicting project reported clean")
		}
		raw, _ := resp.GetFieldByName("diagnostics").([]interface{})
		var codes []string
		for _, item := range raw {
			m, ok := item.(*dynamic.Message)
			if !ok {
				t.Fatalf("element %T is not a message", item)
			}
			codes = append(codes, stringField(m, "code"))
		}
		found := false
		for _, code := range codes {
			if code == string(diagnostics.ErrC003) {
				found = true
			}
		}
		if !found {
			t.Errorf("diagnostic codes %v missing %s", codes, diagnostics.ErrC003)
		}
	})
}
