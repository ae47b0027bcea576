// Package manifest reads the project file (funtrait.yaml) and unit manifest
// files (*.unit.yaml).
//
// A unit manifest describes one compilation unit: the traits it declares,
// the impls it provides, its type aliases, and the units it requires. YAML
// source positions are kept on every entry so coherence diagnostics can
// point into the manifest that caused them.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/funvibe/funtrait/internal/config"
	"github.com/funvibe/funtrait/internal/diagnostics"
	"github.com/funvibe/funtrait/internal/token"
)

// Project is the top-level funtrait.yaml configuration.
type Project struct {
	// Units lists unit manifest paths, relative to the project file.
	// They are checked in order; later units may require earlier ones.
	Units []string `yaml:"units"`

	// Store is the unit store path. Defaults to traits.db next to the
	// project file.
	Store string `yaml:"store,omitempty"`

	// Serve is the listen address for `funtrait serve`.
	Serve string `yaml:"serve,omitempty"`

	// Dir is the directory containing the project file; relative paths
	// resolve against it. Set by LoadProject.
	Dir string `yaml:"-"`
}

// Unit is one parsed unit manifest.
type Unit struct {
	Name     string    `yaml:"unit"`
	Version  string    `yaml:"version"`
	Requires []Require `yaml:"requires,omitempty"`
	Aliases  []Alias   `yaml:"aliases,omitempty"`
	Traits   []Trait   `yaml:"traits,omitempty"`
	Impls    []Impl    `yaml:"impls,omitempty"`

	// File is the manifest path, used in diagnostics. Set by LoadUnit.
	File string `yaml:"-"`

	unknown []badKey
}

// Require names a dependency unit.
type Require struct {
	Unit    string `yaml:"unit"`
	Version string `yaml:"version,omitempty"`

	// Store marks the dependency as pre-validated: its impls are replayed
	// from the unit store without re-running coherence.
	Store bool `yaml:"store,omitempty"`

	pos     pos
	unknown []badKey
}

// Alias declares a type alias, e.g. name: Grid, params: [t],
// type: "List[List[t]]".
type Alias struct {
	Name   string   `yaml:"name"`
	Params []string `yaml:"params,omitempty"`
	Type   string   `yaml:"type"`

	pos     pos
	typePos pos
	unknown []badKey
}

// Trait declares a trait. Marker traits have no methods and tolerate
// overlapping impls.
type Trait struct {
	Name   string   `yaml:"name"`
	Params []string `yaml:"params,omitempty"`
	Marker bool     `yaml:"marker,omitempty"`

	pos     pos
	unknown []badKey
}

// Impl provides a trait for a self type. For and Constraints hold type
// expressions parsed later by internal/parser.
type Impl struct {
	Trait       string   `yaml:"trait"`
	For         string   `yaml:"for"`
	Vars        []string `yaml:"vars,omitempty"`
	Constraints []string `yaml:"constraints,omitempty"`

	pos           pos
	forPos        pos
	constraintPos []pos
	unknown       []badKey
}

type pos struct {
	line, column int
}

type badKey struct {
	name string
	pos  pos
}

func posOf(node *yaml.Node) pos {
	return pos{line: node.Line, column: node.Column}
}

func (p pos) token(lexeme string, typ token.TokenType) token.Token {
	return token.Token{Type: typ, Lexeme: lexeme, Line: p.line, Column: p.column}
}

// Token positions a diagnostic at this require entry.
func (r *Require) Token() token.Token { return r.pos.token(r.Unit, token.IDENT_LOWER) }

// Token positions a diagnostic at this alias entry.
func (a *Alias) Token() token.Token { return a.pos.token(a.Name, token.IDENT_UPPER) }

// TypeToken positions a diagnostic at the alias target expression.
func (a *Alias) TypeToken() token.Token { return a.typePos.token(a.Type, token.IDENT_UPPER) }

// Token positions a diagnostic at this trait entry.
func (t *Trait) Token() token.Token { return t.pos.token(t.Name, token.IDENT_UPPER) }

// Token positions a diagnostic at this impl entry.
func (im *Impl) Token() token.Token { return im.pos.token(im.Trait, token.IDENT_UPPER) }

// ForToken positions a diagnostic at the impl's self type expression.
func (im *Impl) ForToken() token.Token { return im.forPos.token(im.For, token.IDENT_UPPER) }

// ConstraintToken positions a diagnostic at the i-th constraint expression,
// falling back to the entry itself when the index is out of range.
func (im *Impl) ConstraintToken(i int) token.Token {
	if i < 0 || i >= len(im.constraintPos) {
		return im.Token()
	}
	return im.constraintPos[i].token(im.Constraints[i], token.IDENT_UPPER)
}

func (u *Unit) UnmarshalYAML(node *yaml.Node) error {
	type plain Unit
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*u = Unit(p)
	u.unknown = unknownKeys(node, "unit", "version", "requires", "aliases", "traits", "impls")
	return nil
}

func (r *Require) UnmarshalYAML(node *yaml.Node) error {
	type plain Require
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*r = Require(p)
	r.pos = posOf(node)
	r.unknown = unknownKeys(node, "unit", "version", "store")
	return nil
}

func (a *Alias) UnmarshalYAML(node *yaml.Node) error {
	type plain Alias
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*a = Alias(p)
	a.pos = posOf(node)
	a.typePos = a.pos
	if v := valueNode(node, "type"); v != nil {
		a.typePos = posOf(v)
	}
	a.unknown = unknownKeys(node, "name", "params", "type")
	return nil
}

func (t *Trait) UnmarshalYAML(node *yaml.Node) error {
	type plain Trait
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*t = Trait(p)
	t.pos = posOf(node)
	t.unknown = unknownKeys(node, "name", "params", "marker")
	return nil
}

func (im *Impl) UnmarshalYAML(node *yaml.Node) error {
	type plain Impl
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*im = Impl(p)
	im.pos = posOf(node)
	im.forPos = im.pos
	if v := valueNode(node, "for"); v != nil {
		im.forPos = posOf(v)
	}
	if v := valueNode(node, "constraints"); v != nil && v.Kind == yaml.SequenceNode {
		for _, item := range v.Content {
			im.constraintPos = append(im.constraintPos, posOf(item))
		}
	}
	im.unknown = unknownKeys(node, "trait", "for", "vars", "constraints")
	return nil
}

// valueNode finds the value node for a mapping key.
func valueNode(node *yaml.Node, key string) *yaml.Node {
	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

func unknownKeys(node *yaml.Node, allowed ...string) []badKey {
	if node.Kind != yaml.MappingNode {
		return nil
	}
	ok := make(map[string]bool, len(allowed))
	for _, k := range allowed {
		ok[k] = true
	}
	var bad []badKey
	for i := 0; i+1 < len(node.Content); i += 2 {
		if key := node.Content[i]; !ok[key.Value] {
			bad = append(bad, badKey{name: key.Value, pos: posOf(key)})
		}
	}
	return bad
}

// LoadUnit reads and parses one unit manifest. I/O failures come back as
// the error; content problems come back as diagnostics.
func LoadUnit(path string) (*Unit, []*diagnostics.DiagnosticError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	unit, diags := ParseUnit(data, path)
	return unit, diags, nil
}

// ParseUnit parses unit manifest content. The path argument is attached to
// diagnostics only.
func ParseUnit(data []byte, path string) (*Unit, []*diagnostics.DiagnosticError) {
	var u Unit
	if err := yaml.Unmarshal(data, &u); err != nil {
		d := diagnostics.NewError(diagnostics.ErrC005, token.Token{Line: 1, Column: 1},
			fmt.Sprintf("malformed manifest: %v", err))
		d.File = path
		return nil, []*diagnostics.DiagnosticError{d}
	}
	u.File = path
	u.setDefaults()
	return &u, u.validate()
}

func (u *Unit) setDefaults() {
	if u.Name == "" {
		u.Name = config.LocalUnitName
	}
	if u.Version == "" {
		u.Version = "0.0.0"
	}
}

// validate checks the manifest structure. Type expressions are not parsed
// here; the analyzer owns those diagnostics.
func (u *Unit) validate() []*diagnostics.DiagnosticError {
	var diags []*diagnostics.DiagnosticError
	report := func(tok token.Token, format string, args ...interface{}) {
		d := diagnostics.NewError(diagnostics.ErrC005, tok, fmt.Sprintf(format, args...))
		d.File = u.File
		diags = append(diags, d)
	}
	reportUnknown := func(context string, bad []badKey) {
		for _, k := range bad {
			report(k.pos.token(k.name, token.IDENT_LOWER), "unknown field %q in %s", k.name, context)
		}
	}

	reportUnknown("unit manifest", u.unknown)
	for i := range u.Requires {
		r := &u.Requires[i]
		reportUnknown("requires entry", r.unknown)
		if r.Unit == "" {
			report(r.Token(), "requires entry needs a unit name")
		}
	}
	for i := range u.Aliases {
		a := &u.Aliases[i]
		reportUnknown("alias entry", a.unknown)
		if a.Name == "" {
			report(a.Token(), "alias entry needs a name")
		}
		if a.Type == "" {
			report(a.Token(), "alias %s needs a target type", a.Name)
		}
	}
	for i := range u.Traits {
		t := &u.Traits[i]
		reportUnknown("trait entry", t.unknown)
		if t.Name == "" {
			report(t.Token(), "trait entry needs a name")
		}
	}
	for i := range u.Impls {
		im := &u.Impls[i]
		reportUnknown("impl entry", im.unknown)
		if im.Trait == "" {
			report(im.Token(), "impl entry needs a trait")
		}
		if im.For == "" {
			report(im.Token(), "impl of %s needs a self type (for:)", im.Trait)
		}
	}
	return diags
}

// LoadProject reads and parses a funtrait.yaml file. A path ending in
// .unit.yaml is wrapped in a synthesized single-unit project, so one unit
// can be checked without a project file.
func LoadProject(path string) (*Project, error) {
	if strings.HasSuffix(path, config.UnitFileExt) {
		dir := filepath.Dir(path)
		return &Project{
			Units: []string{filepath.Base(path)},
			Store: filepath.Join(dir, config.StoreFile),
			Serve: config.DefaultServeAddr,
			Dir:   dir,
		}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading project file %s: %w", path, err)
	}
	var p Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(p.Units) == 0 {
		return nil, fmt.Errorf("%s: no units defined", path)
	}
	p.Dir = filepath.Dir(path)
	if p.Store == "" {
		p.Store = filepath.Join(p.Dir, config.StoreFile)
	} else if !filepath.IsAbs(p.Store) {
		p.Store = filepath.Join(p.Dir, p.Store)
	}
	if p.Serve == "" {
		p.Serve = config.DefaultServeAddr
	}
	return &p, nil
}

// UnitPaths resolves the unit file entries against the project directory.
func (p *Project) UnitPaths() []string {
	paths := make([]string, len(p.Units))
	for i, u := range p.Units {
		if filepath.IsAbs(u) {
			paths[i] = u
			continue
		}
		paths[i] = filepath.Join(p.Dir, u)
	}
	return paths
}

// FindProject searches for funtrait.yaml starting from dir and walking up
// parent directories. Returns the path if found, or empty string and nil
// error if not.
func FindProject(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving directory: %w", err)
	}

	for {
		candidate := filepath.Join(dir, config.ProjectFile)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			return "", nil
		}
		dir = parent
	}
}
