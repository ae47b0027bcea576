// Package store persists checked units in an embedded sqlite database.
// Downstream projects replay a stored unit's impls and settled parent
// edges through the graph without re-running coherence checks.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/funvibe/funtrait/internal/coherence"
	"github.com/funvibe/funtrait/internal/defs"
)

// ErrNotFound reports a unit name with no row in the store.
var ErrNotFound = errors.New("unit not found in store")

const schema = `
CREATE TABLE IF NOT EXISTS units (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	version     TEXT NOT NULL,
	fingerprint TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS units_by_name ON units(name);
CREATE TABLE IF NOT EXISTS impls (
	unit_id     TEXT    NOT NULL,
	idx         INTEGER NOT NULL,
	trait       TEXT    NOT NULL,
	self_expr   TEXT    NOT NULL,
	vars        TEXT    NOT NULL,
	constraints TEXT    NOT NULL,
	PRIMARY KEY (unit_id, idx)
);
CREATE TABLE IF NOT EXISTS edges (
	child_unit  TEXT    NOT NULL,
	child_idx   INTEGER NOT NULL,
	parent_kind TEXT    NOT NULL,
	parent_unit TEXT    NOT NULL,
	parent_idx  INTEGER NOT NULL,
	PRIMARY KEY (child_unit, child_idx)
);`

const (
	parentTrait = "trait"
	parentImpl  = "impl"
)

// Unit is one row of the units table.
type Unit struct {
	ID          defs.UnitID
	Name        string
	Version     string
	Fingerprint string
}

// Impl is one impl row in manifest form: the trait and type expressions
// exactly as the unit's manifest spelled them.
type Impl struct {
	Index       uint32
	Trait       string
	SelfExpr    string
	Vars        []string
	Constraints []string
}

// Edge records the parent the specialization graph settled on for one
// impl when its unit was checked.
type Edge struct {
	ChildIndex uint32
	Parent     defs.NodeID
}

// A Snapshot is one unit as persisted: the metadata row, impl rows in
// declaration order, and the settled parent edge for each impl.
type Snapshot struct {
	Unit  Unit
	Impls []Impl
	Edges []Edge
}

// Entry is one line of a store listing.
type Entry struct {
	Unit  Unit
	Impls int
}

// fingerprintNamespace scopes content fingerprints away from unit ids.
var fingerprintNamespace = uuid.MustParse("c43d8f2a-5e61-4bb0-9af0-7d0c2e84d19b")

// Fingerprint derives a stable content id over a unit's impl rows. Two
// units with the same impls in the same order agree on it no matter where
// or when they were checked.
func Fingerprint(impls []Impl) string {
	payload, err := json.Marshal(impls)
	if err != nil {
		panic(fmt.Sprintf("store: impl rows not marshalable: %v", err))
	}
	return uuid.NewSHA1(fingerprintNamespace, payload).String()
}

// Store is a handle on one traits.db file, or a :memory: database in
// tests. sqlite is a single-writer engine, so the pool is capped at one
// connection; that also keeps :memory: databases on a single instance.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and prepares the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %v", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare store schema: %v", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save persists one checked unit: its metadata row, its impl rows, and
// the parent edge the graph settled on for each impl. Existing rows for
// the same unit id are replaced. Every impl must have a parent in the
// graph; a unit that failed coherence has no business in the store.
func (s *Store) Save(ctx context.Context, unit Unit, impls []Impl, g *coherence.Graph) error {
	edges := make([]Edge, 0, len(impls))
	for _, im := range impls {
		id := defs.ImplID{Unit: unit.ID, Index: im.Index}
		parent, ok := g.Parent(id)
		if !ok {
			return fmt.Errorf("impl %s of unit %s has no parent in the graph; the unit was not fully checked", id, unit.Name)
		}
		edges = append(edges, Edge{ChildIndex: im.Index, Parent: parent})
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin store transaction: %v", err)
	}
	defer tx.Rollback()

	uid := unit.ID.String()
	for _, stmt := range []string{
		"DELETE FROM edges WHERE child_unit = ?",
		"DELETE FROM impls WHERE unit_id = ?",
		"DELETE FROM units WHERE id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, uid); err != nil {
			return fmt.Errorf("failed to clear previous rows for %s: %v", unit.Name, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO units (id, name, version, fingerprint) VALUES (?, ?, ?, ?)",
		uid, unit.Name, unit.Version, unit.Fingerprint); err != nil {
		return fmt.Errorf("failed to insert unit %s: %v", unit.Name, err)
	}
	for _, im := range impls {
		vars, err := encodeList(im.Vars)
		if err != nil {
			return err
		}
		cons, err := encodeList(im.Constraints)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO impls (unit_id, idx, trait, self_expr, vars, constraints) VALUES (?, ?, ?, ?, ?, ?)",
			uid, im.Index, im.Trait, im.SelfExpr, vars, cons); err != nil {
			return fmt.Errorf("failed to insert impl %d of %s: %v", im.Index, unit.Name, err)
		}
	}
	for _, e := range edges {
		kind, parentUnit, parentIdx := encodeParent(e.Parent)
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO edges (child_unit, child_idx, parent_kind, parent_unit, parent_idx) VALUES (?, ?, ?, ?, ?)",
			uid, e.ChildIndex, kind, parentUnit, parentIdx); err != nil {
			return fmt.Errorf("failed to insert edge for impl %d of %s: %v", e.ChildIndex, unit.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit unit %s: %v", unit.Name, err)
	}
	return nil
}

// Load reads back the snapshot for the named unit. When several versions
// of a name have been saved, the most recently written one wins.
func (s *Store) Load(ctx context.Context, name string) (*Snapshot, error) {
	var snap Snapshot
	var idText string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, version, fingerprint FROM units WHERE name = ? ORDER BY rowid DESC LIMIT 1",
		name).Scan(&idText, &snap.Unit.Name, &snap.Unit.Version, &snap.Unit.Fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load unit %s: %v", name, err)
	}
	if snap.Unit.ID, err = defs.ParseUnitID(idText); err != nil {
		return nil, fmt.Errorf("corrupt unit id %q for %s: %v", idText, name, err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT idx, trait, self_expr, vars, constraints FROM impls WHERE unit_id = ? ORDER BY idx",
		idText)
	if err != nil {
		return nil, fmt.Errorf("failed to load impls of %s: %v", name, err)
	}
	defer rows.Close()
	for rows.Next() {
		var im Impl
		var vars, cons string
		if err := rows.Scan(&im.Index, &im.Trait, &im.SelfExpr, &vars, &cons); err != nil {
			return nil, fmt.Errorf("failed to scan impl row of %s: %v", name, err)
		}
		if im.Vars, err = decodeList(vars); err != nil {
			return nil, fmt.Errorf("corrupt vars for impl %d of %s: %v", im.Index, name, err)
		}
		if im.Constraints, err = decodeList(cons); err != nil {
			return nil, fmt.Errorf("corrupt constraints for impl %d of %s: %v", im.Index, name, err)
		}
		snap.Impls = append(snap.Impls, im)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read impls of %s: %v", name, err)
	}

	erows, err := s.db.QueryContext(ctx,
		"SELECT child_idx, parent_kind, parent_unit, parent_idx FROM edges WHERE child_unit = ? ORDER BY child_idx",
		idText)
	if err != nil {
		return nil, fmt.Errorf("failed to load edges of %s: %v", name, err)
	}
	defer erows.Close()
	for erows.Next() {
		var e Edge
		var kind, parentUnit string
		var parentIdx uint32
		if err := erows.Scan(&e.ChildIndex, &kind, &parentUnit, &parentIdx); err != nil {
			return nil, fmt.Errorf("failed to scan edge row of %s: %v", name, err)
		}
		if e.Parent, err = decodeParent(kind, parentUnit, parentIdx); err != nil {
			return nil, fmt.Errorf("corrupt edge for impl %d of %s: %v", e.ChildIndex, name, err)
		}
		snap.Edges = append(snap.Edges, e)
	}
	if err := erows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read edges of %s: %v", name, err)
	}
	return &snap, nil
}

// List returns the stored units with their impl counts, sorted by name.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.name, u.version, u.fingerprint, COUNT(i.idx)
		FROM units u LEFT JOIN impls i ON i.unit_id = u.id
		GROUP BY u.id ORDER BY u.name, u.version`)
	if err != nil {
		return nil, fmt.Errorf("failed to list store: %v", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var idText string
		if err := rows.Scan(&idText, &e.Unit.Name, &e.Unit.Version, &e.Unit.Fingerprint, &e.Impls); err != nil {
			return nil, fmt.Errorf("failed to scan store listing: %v", err)
		}
		if e.Unit.ID, err = defs.ParseUnitID(idText); err != nil {
			return nil, fmt.Errorf("corrupt unit id %q: %v", idText, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read store listing: %v", err)
	}
	return entries, nil
}

func encodeList(items []string) (string, error) {
	if len(items) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("failed to encode list column: %v", err)
	}
	return string(b), nil
}

func decodeList(col string) ([]string, error) {
	if col == "" || col == "[]" {
		return nil, nil
	}
	var items []string
	if err := json.Unmarshal([]byte(col), &items); err != nil {
		return nil, err
	}
	return items, nil
}

func encodeParent(n defs.NodeID) (kind, unit string, idx uint32) {
	if t, ok := n.Trait(); ok {
		return parentTrait, t.Unit.String(), t.Index
	}
	if im, ok := n.Impl(); ok {
		return parentImpl, im.Unit.String(), im.Index
	}
	panic(fmt.Sprintf("store: invalid parent node %s", n))
}

func decodeParent(kind, unitText string, idx uint32) (defs.NodeID, error) {
	u, err := defs.ParseUnitID(unitText)
	if err != nil {
		return defs.NodeID{}, fmt.Errorf("bad parent unit id %q: %v", unitText, err)
	}
	switch kind {
	case parentTrait:
		return defs.TraitNode(defs.TraitID{Unit: u, Index: idx}), nil
	case parentImpl:
		return defs.ImplNode(defs.ImplID{Unit: u, Index: idx}), nil
	}
	return defs.NodeID{}, fmt.Errorf("bad parent kind %q", kind)
}
