// Package analyzer drives a coherence check over a project: it loads unit
// manifests, registers traits and impls, replays stored units, and inserts
// local impls into the specialization graph, collecting diagnostics as it
// goes. It also hosts the production Oracle the graph consults.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/funvibe/funtrait/internal/coherence"
	"github.com/funvibe/funtrait/internal/defs"
	"github.com/funvibe/funtrait/internal/diagnostics"
	"github.com/funvibe/funtrait/internal/manifest"
	"github.com/funvibe/funtrait/internal/parser"
	"github.com/funvibe/funtrait/internal/store"
	"github.com/funvibe/funtrait/internal/symbols"
	"github.com/funvibe/funtrait/internal/token"
	"github.com/funvibe/funtrait/internal/typesystem"
)

// Analyzer holds the state of one check run. Phases are methods and must
// run in order: LoadManifests, RegisterSymbols, ReplayStoredUnits,
// InsertImpls. Diagnostics accumulate across phases and are deduplicated
// by position and code.
type Analyzer struct {
	table  *symbols.Table
	graph  *coherence.Graph
	oracle *Oracle

	project *manifest.Project
	units   []*manifest.Unit
	db      *store.Store

	unitIDs  map[string]defs.UnitID
	implIDs  map[string][]defs.ImplID // registered impls per unit, declaration order
	implRows map[string][]store.Impl  // manifest-form rows per unit, all impls
	replayed map[string]bool
	lints    map[defs.ImplID]coherence.FutureCompatKind

	errorSet map[string]*diagnostics.DiagnosticError
}

func New() *Analyzer {
	table := symbols.NewTable()
	return &Analyzer{
		table:    table,
		graph:    coherence.NewGraph(),
		oracle:   NewOracle(table),
		unitIDs:  make(map[string]defs.UnitID),
		implIDs:  make(map[string][]defs.ImplID),
		implRows: make(map[string][]store.Impl),
		replayed: make(map[string]bool),
		lints:    make(map[defs.ImplID]coherence.FutureCompatKind),
		errorSet: make(map[string]*diagnostics.DiagnosticError),
	}
}

func (a *Analyzer) Table() *symbols.Table    { return a.table }
func (a *Analyzer) Graph() *coherence.Graph  { return a.graph }
func (a *Analyzer) Oracle() *Oracle          { return a.oracle }
func (a *Analyzer) Project() *manifest.Project { return a.project }
func (a *Analyzer) Units() []*manifest.Unit  { return a.units }

// Lints reports which impls were placed under a dispensation during
// InsertImpls, keyed by impl.
func (a *Analyzer) Lints() map[defs.ImplID]coherence.FutureCompatKind {
	return a.lints
}

// SetStore attaches the unit store used for replay and saving. Without one
// every unit is checked from its manifest.
func (a *Analyzer) SetStore(s *store.Store) {
	a.db = s
}

// UnitID reports the id assigned to a loaded unit.
func (a *Analyzer) UnitID(name string) (defs.UnitID, bool) {
	id, ok := a.unitIDs[name]
	return id, ok
}

// LocalUnit is the project's own unit: the last one listed, after its
// dependencies.
func (a *Analyzer) LocalUnit() *manifest.Unit {
	if len(a.units) == 0 {
		return nil
	}
	return a.units[len(a.units)-1]
}

// addError records a diagnostic, deduplicating by file, position and code.
// The last diagnostic recorded for a key wins.
func (a *Analyzer) addError(err *diagnostics.DiagnosticError) {
	key := fmt.Sprintf("%s:%d:%d:%s", err.File, err.Token.Line, err.Token.Column, err.Code)
	a.errorSet[key] = err
}

func (a *Analyzer) addErrors(errs []*diagnostics.DiagnosticError) {
	for _, err := range errs {
		a.addError(err)
	}
}

// appendDiag records an error that should already be a positioned
// diagnostic; anything else is wrapped as a manifest error.
func (a *Analyzer) appendDiag(err error, file string) {
	var d *diagnostics.DiagnosticError
	if errors.As(err, &d) {
		if d.File == "" {
			d.File = file
		}
		a.addError(d)
		return
	}
	wrapped := diagnostics.NewError(diagnostics.ErrC005, token.Token{}, err.Error())
	wrapped.File = file
	a.addError(wrapped)
}

// Diagnostics returns the collected diagnostics sorted by file and
// position.
func (a *Analyzer) Diagnostics() []*diagnostics.DiagnosticError {
	out := make([]*diagnostics.DiagnosticError, 0, len(a.errorSet))
	for _, d := range a.errorSet {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].File != out[j].File {
			return out[i].File < out[j].File
		}
		if out[i].Token.Line != out[j].Token.Line {
			return out[i].Token.Line < out[j].Token.Line
		}
		if out[i].Token.Column != out[j].Token.Column {
			return out[i].Token.Column < out[j].Token.Column
		}
		return out[i].Code < out[j].Code
	})
	return out
}

// HasErrors reports whether any collected diagnostic is a hard error.
func (a *Analyzer) HasErrors() bool {
	for _, d := range a.errorSet {
		if d.Severity == diagnostics.SeverityError {
			return true
		}
	}
	return false
}

// LoadManifests reads the project file and every unit manifest it lists.
// Malformed manifests become diagnostics; only I/O failures are returned.
func (a *Analyzer) LoadManifests(projectPath string) error {
	proj, err := manifest.LoadProject(projectPath)
	if err != nil {
		return err
	}
	a.project = proj

	for _, path := range proj.UnitPaths() {
		unit, diags, err := manifest.LoadUnit(path)
		if err != nil {
			return err
		}
		a.addErrors(diags)
		if unit == nil {
			continue
		}
		if _, dup := a.unitIDs[unit.Name]; dup {
			d := diagnostics.NewError(diagnostics.ErrC002, token.Token{},
				fmt.Sprintf("unit %s is defined twice in the project", unit.Name))
			d.File = unit.File
			a.addError(d)
			continue
		}
		a.units = append(a.units, unit)
		a.unitIDs[unit.Name] = defs.UnitFor(unit.Name, unit.Version)
		a.implRows[unit.Name] = manifestRows(unit)
	}
	return nil
}

// manifestRows converts a unit's impl declarations into store rows. The
// conversion is pure syntax, so fingerprints can be compared before any
// name resolution has happened.
func manifestRows(unit *manifest.Unit) []store.Impl {
	rows := make([]store.Impl, len(unit.Impls))
	for i, im := range unit.Impls {
		rows[i] = store.Impl{
			Index:       uint32(i + 1),
			Trait:       im.Trait,
			SelfExpr:    im.For,
			Vars:        im.Vars,
			Constraints: im.Constraints,
		}
	}
	return rows
}

// RegisterSymbols fills the symbol table: aliases and traits for every
// unit first, then impls, so impls may reference traits from any loaded
// unit regardless of listing order.
func (a *Analyzer) RegisterSymbols() {
	for _, unit := range a.units {
		uid := a.unitIDs[unit.Name]
		a.registerHeaders(unit, uid)
	}
	for _, unit := range a.units {
		uid := a.unitIDs[unit.Name]
		for i := range unit.Impls {
			id := defs.ImplID{Unit: uid, Index: uint32(i + 1)}
			a.registerImpl(unit, &unit.Impls[i], id)
		}
	}
}

func (a *Analyzer) registerHeaders(unit *manifest.Unit, uid defs.UnitID) {
	for i := range unit.Aliases {
		al := &unit.Aliases[i]
		tok := al.TypeToken()
		underlying, err := parser.ParseTypeAt(al.Type, unit.File, tok.Line, tok.Column)
		if err != nil {
			a.appendDiag(err, unit.File)
			continue
		}
		if v, ok := undeclaredVar(underlying, al.Params); ok {
			d := diagnostics.NewError(diagnostics.ErrC005, tok,
				fmt.Sprintf("type variable %s is not declared in params of alias %s", v, al.Name))
			d.File = unit.File
			a.addError(d)
			continue
		}
		if err := a.table.DefineAlias(al.Name, al.Params, underlying); err != nil {
			d := diagnostics.NewError(diagnostics.ErrC002, al.Token(), err.Error())
			d.File = unit.File
			a.addError(d)
		}
	}

	for i := range unit.Traits {
		tr := &unit.Traits[i]
		def := symbols.TraitDef{
			ID:     defs.TraitID{Unit: uid, Index: uint32(i + 1)},
			Name:   tr.Name,
			Params: tr.Params,
			Marker: tr.Marker,
			Token:  tr.Token(),
			File:   unit.File,
		}
		if err := a.table.DefineTrait(def); err != nil {
			d := diagnostics.NewError(diagnostics.ErrC002, tr.Token(), err.Error())
			d.File = unit.File
			a.addError(d)
		}
	}
}

// registerImpl resolves one impl header and registers it. An impl whose
// trait cannot be resolved or whose self type does not parse is not
// registered at all; lesser header problems (bad constraints, undeclared
// variables) register the impl but mark it erroneous, which parks it under
// its trait root without overlap checking.
func (a *Analyzer) registerImpl(unit *manifest.Unit, im *manifest.Impl, id defs.ImplID) {
	td, ok := a.table.ResolveTrait(im.Trait)
	if !ok {
		d := diagnostics.NewError(diagnostics.ErrC001, im.Token(),
			fmt.Sprintf("unknown trait %s", im.Trait))
		d.File = unit.File
		a.addError(d)
		return
	}

	forTok := im.ForToken()
	selfTy, cons, err := parser.ParseSelfType(im.For, unit.File, forTok.Line, forTok.Column)
	if err != nil {
		a.appendDiag(err, unit.File)
		return
	}

	hasErr := false
	for ci, raw := range im.Constraints {
		ct := im.ConstraintToken(ci)
		c, err := parser.ParseConstraint(raw, unit.File, ct.Line, ct.Column)
		if err != nil {
			a.appendDiag(err, unit.File)
			hasErr = true
			continue
		}
		cons = append(cons, c)
	}

	// Canonicalize constraint trait names so the oracle can compare them
	// across impls written with and without module qualifiers.
	for i := range cons {
		ctd, ok := a.table.ResolveTrait(cons[i].Trait)
		if !ok {
			d := diagnostics.NewError(diagnostics.ErrC001, forTok,
				fmt.Sprintf("unknown trait %s in constraint on %s", cons[i].Trait, cons[i].TypeVar))
			d.File = unit.File
			a.addError(d)
			hasErr = true
			continue
		}
		cons[i].Trait = ctd.Name
	}

	if err := a.table.CheckKind(selfTy); err != nil {
		d := diagnostics.NewError(diagnostics.ErrC005, forTok,
			fmt.Sprintf("self type %s: %s", im.For, err))
		d.File = unit.File
		a.addError(d)
		hasErr = true
	}
	for _, c := range cons {
		for _, arg := range c.Args {
			if err := a.table.CheckKind(arg); err != nil {
				d := diagnostics.NewError(diagnostics.ErrC005, forTok,
					fmt.Sprintf("constraint %s: %s", c, err))
				d.File = unit.File
				a.addError(d)
				hasErr = true
			}
		}
	}

	if v, ok := undeclaredVar(selfTy, im.Vars); ok {
		d := diagnostics.NewError(diagnostics.ErrC005, forTok,
			fmt.Sprintf("type variable %s is not declared in vars", v))
		d.File = unit.File
		a.addError(d)
		hasErr = true
	}
	declared := make(map[string]bool, len(im.Vars))
	for _, v := range im.Vars {
		declared[v] = true
	}
	for _, c := range cons {
		if !declared[c.TypeVar] {
			d := diagnostics.NewError(diagnostics.ErrC005, forTok,
				fmt.Sprintf("constraint references undeclared type variable %s", c.TypeVar))
			d.File = unit.File
			a.addError(d)
			hasErr = true
		}
	}

	a.table.RegisterImpl(symbols.ImplDef{
		ID:          id,
		Trait:       td.Name,
		SelfType:    selfTy,
		Vars:        im.Vars,
		Constraints: cons,
		Token:       forTok,
		File:        unit.File,
	})
	if hasErr {
		a.oracle.markErr(id)
	}
	a.implIDs[unit.Name] = append(a.implIDs[unit.Name], id)
}

func undeclaredVar(t typesystem.Type, params []string) (string, bool) {
	declared := make(map[string]bool, len(params))
	for _, p := range params {
		declared[p] = true
	}
	for _, v := range t.FreeTypeVariables() {
		if !declared[v.Name] {
			return v.Name, true
		}
	}
	return "", false
}

// ReplayStoredUnits attaches impls of required units straight from the
// store, trusting the parent edges settled when those units were first
// checked. A unit is replayed only when some manifest requires it with
// store: true, the store has it, and the stored fingerprint still matches
// its manifest; otherwise it falls back to normal insertion.
func (a *Analyzer) ReplayStoredUnits(ctx context.Context) error {
	if a.db == nil {
		return nil
	}

	wanted := make(map[string]bool)
	for _, u := range a.units {
		for _, r := range u.Requires {
			if r.Store {
				wanted[r.Unit] = true
			}
		}
	}

	for _, unit := range a.units {
		if !wanted[unit.Name] {
			continue
		}
		snap, err := a.db.Load(ctx, unit.Name)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}

		if snap.Unit.ID != a.unitIDs[unit.Name] || snap.Unit.Fingerprint != store.Fingerprint(a.implRows[unit.Name]) {
			tok, file := a.requireSite(unit.Name)
			d := diagnostics.NewWarning(diagnostics.ErrC005, tok,
				fmt.Sprintf("store entry for unit %s is stale; re-checking it from its manifest", unit.Name))
			d.File = file
			a.addError(d)
			continue
		}

		// All edges must target registered impls before any is recorded;
		// the graph cannot take a partial replay back.
		ok := true
		for _, e := range snap.Edges {
			child := defs.ImplID{Unit: snap.Unit.ID, Index: e.ChildIndex}
			if _, registered := a.table.Impl(child); !registered {
				ok = false
				break
			}
		}
		if !ok {
			tok, file := a.requireSite(unit.Name)
			d := diagnostics.NewWarning(diagnostics.ErrC005, tok,
				fmt.Sprintf("store entry for unit %s references impls its manifest no longer declares; re-checking", unit.Name))
			d.File = file
			a.addError(d)
			continue
		}

		for _, e := range snap.Edges {
			child := defs.ImplID{Unit: snap.Unit.ID, Index: e.ChildIndex}
			a.graph.RecordImplFromStore(a.oracle, e.Parent, child)
		}
		a.replayed[unit.Name] = true
	}
	return nil
}

// requireSite finds the manifest position of the first requires entry
// naming the unit, for diagnostics about the stored copy.
func (a *Analyzer) requireSite(name string) (token.Token, string) {
	for _, u := range a.units {
		for i := range u.Requires {
			if u.Requires[i].Unit == name && u.Requires[i].Store {
				return u.Requires[i].Token(), u.File
			}
		}
	}
	return token.Token{}, ""
}

// InsertImpls inserts every non-replayed unit's impls into the graph in
// declaration order, recording conflicts as errors and backward
// compatibility dispensations as warnings.
func (a *Analyzer) InsertImpls() {
	for _, unit := range a.units {
		if a.replayed[unit.Name] {
			continue
		}
		for _, id := range a.implIDs[unit.Name] {
			lint, err := a.graph.Insert(a.oracle, id)
			if err != nil {
				a.reportConflict(id, err)
				continue
			}
			if lint != nil {
				a.reportLint(id, lint)
			}
		}
	}
}

func (a *Analyzer) reportConflict(id defs.ImplID, err error) {
	def, ok := a.table.Impl(id)
	if !ok {
		panic(fmt.Sprintf("analyzer: conflict on unregistered impl %s", id))
	}

	msg := err.Error()
	var oe *coherence.OverlapError
	if errors.As(err, &oe) {
		msg = oe.Error() + a.declaredAt(oe.WithImpl)
		for _, cause := range oe.AmbiguityCauses {
			msg += "; note: " + cause
		}
	}
	d := diagnostics.NewError(diagnostics.ErrC003, def.Token, msg)
	d.File = def.File
	a.addError(d)
}

func (a *Analyzer) reportLint(id defs.ImplID, lint *coherence.FutureCompatOverlapError) {
	def, ok := a.table.Impl(id)
	if !ok {
		panic(fmt.Sprintf("analyzer: lint on unregistered impl %s", id))
	}

	a.lints[id] = lint.Kind
	msg := fmt.Sprintf("%s%s; accepted for backward compatibility (%s) and slated to become an error",
		lint.Err.Error(), a.declaredAt(lint.Err.WithImpl), lint.Kind)
	d := diagnostics.NewWarning(diagnostics.ErrC004, def.Token, msg)
	d.File = def.File
	a.addError(d)
}

func (a *Analyzer) declaredAt(other defs.ImplID) string {
	def, ok := a.table.Impl(other)
	if !ok || def.File == "" {
		return ""
	}
	return fmt.Sprintf(" (declared at %s:%d)", def.File, def.Token.Line)
}

// SaveLocal persists the local unit to the store after a clean check.
func (a *Analyzer) SaveLocal(ctx context.Context) error {
	if a.db == nil {
		return fmt.Errorf("no store configured for this project")
	}
	local := a.LocalUnit()
	if local == nil {
		return fmt.Errorf("no units loaded")
	}
	if a.HasErrors() {
		return fmt.Errorf("refusing to store unit %s: the check reported errors", local.Name)
	}

	rows := a.implRows[local.Name]
	unit := store.Unit{
		ID:          a.unitIDs[local.Name],
		Name:        local.Name,
		Version:     local.Version,
		Fingerprint: store.Fingerprint(rows),
	}
	return a.db.Save(ctx, unit, rows, a.graph)
}
