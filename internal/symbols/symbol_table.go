package symbols

import (
	"fmt"
	"strings"

	"github.com/funvibe/funtrait/internal/defs"
	"github.com/funvibe/funtrait/internal/token"
	"github.com/funvibe/funtrait/internal/typesystem"
)

// TraitDef is a registered trait declaration.
type TraitDef struct {
	ID     defs.TraitID
	Name   string
	Params []string // Declared type parameter names, e.g. ["a"]
	Marker bool     // Marker traits carry no methods; overlap is permitted
	Token  token.Token
	File   string
}

// ImplDef is a registered impl declaration. The unit that declared it is
// carried in ID.Unit.
type ImplDef struct {
	ID          defs.ImplID
	Trait       string
	SelfType    typesystem.Type
	Vars        []string // Declared impl variable names, e.g. ["a", "r"]
	Constraints []typesystem.Constraint
	Token       token.Token
	File        string
}

// Table is the flat symbol registry for a check run: traits, impls and type
// aliases across the local unit and every loaded dependency. Unlike a scoped
// language table there is one namespace; qualified names ("core.Pair") are
// stored qualified.
type Table struct {
	traits     map[string]TraitDef
	traitByID  map[defs.TraitID]TraitDef
	traitOrder []string

	impls    map[string][]ImplDef
	implByID map[defs.ImplID]ImplDef

	// Type aliases: name -> underlying type. The cons map keeps the
	// canonical TCon (with UnderlyingType and TypeParams set) so stale
	// by-value copies can be refreshed during unification.
	aliases    map[string]typesystem.Type
	cons       map[string]typesystem.TCon
	aliasOrder []string
}

func NewTable() *Table {
	return &Table{
		traits:    map[string]TraitDef{},
		traitByID: map[defs.TraitID]TraitDef{},
		impls:     map[string][]ImplDef{},
		implByID:  map[defs.ImplID]ImplDef{},
		aliases:   map[string]typesystem.Type{},
		cons:      map[string]typesystem.TCon{},
	}
}

// DefineTrait registers a trait. Redefinition is an error (reported as a
// duplicate-definition diagnostic by the caller).
func (t *Table) DefineTrait(def TraitDef) error {
	if existing, ok := t.traits[def.Name]; ok {
		return fmt.Errorf("trait %s is already defined (first definition in unit %s)", def.Name, existing.ID.Unit.Short())
	}
	t.traits[def.Name] = def
	t.traitByID[def.ID] = def
	t.traitOrder = append(t.traitOrder, def.Name)
	return nil
}

func (t *Table) TraitExists(name string) bool {
	_, ok := t.traits[name]
	return ok
}

func (t *Table) LookupTrait(name string) (TraitDef, bool) {
	def, ok := t.traits[name]
	return def, ok
}

// ResolveTrait looks a trait up by name, falling back to the bare name for
// module-qualified references ("core.Renderable" finds "Renderable"), the
// same fallback ResolveTypeAlias applies to qualified type references.
func (t *Table) ResolveTrait(name string) (TraitDef, bool) {
	if def, ok := t.traits[name]; ok {
		return def, true
	}
	if i := strings.LastIndex(name, "."); i > 0 {
		if def, ok := t.traits[name[i+1:]]; ok {
			return def, true
		}
	}
	return TraitDef{}, false
}

func (t *Table) TraitByID(id defs.TraitID) (TraitDef, bool) {
	def, ok := t.traitByID[id]
	return def, ok
}

// TraitNames returns trait names in definition order.
func (t *Table) TraitNames() []string {
	out := make([]string, len(t.traitOrder))
	copy(out, t.traitOrder)
	return out
}

// RegisterImpl records an impl for a trait that must already be defined;
// callers validate trait references before registration, so a miss here is
// a programmer error.
func (t *Table) RegisterImpl(def ImplDef) {
	if !t.TraitExists(def.Trait) {
		panic(fmt.Sprintf("RegisterImpl: trait %q does not exist", def.Trait))
	}
	if _, ok := t.implByID[def.ID]; ok {
		panic(fmt.Sprintf("RegisterImpl: impl %s is already registered", def.ID))
	}
	t.impls[def.Trait] = append(t.impls[def.Trait], def)
	t.implByID[def.ID] = def
}

// ImplsByTrait returns the impls registered for a trait in registration
// order.
func (t *Table) ImplsByTrait(name string) []ImplDef {
	return t.impls[name]
}

func (t *Table) Impl(id defs.ImplID) (ImplDef, bool) {
	def, ok := t.implByID[id]
	return def, ok
}
