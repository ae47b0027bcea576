package defs

import (
	"fmt"

	"github.com/google/uuid"
)

// UnitID identifies one compilation unit (a library or program checked as a
// whole). IDs are UUIDv5 values derived from the unit name and version, so
// separate runs over the same unit agree on its identity.
type UnitID uuid.UUID

// unitNamespace scopes the v5 derivation so unit ids cannot collide with
// UUIDs minted elsewhere.
var unitNamespace = uuid.MustParse("6f3a1c0e-9d4b-4f7a-8c52-1b20d5a6e713")

// UnitFor derives the stable id for a named unit version.
func UnitFor(name, version string) UnitID {
	return UnitID(uuid.NewSHA1(unitNamespace, []byte(name+"@"+version)))
}

// ParseUnitID reads a unit id back from its textual form.
func ParseUnitID(s string) (UnitID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return UnitID{}, err
	}
	return UnitID(u), nil
}

func (u UnitID) String() string {
	return uuid.UUID(u).String()
}

// Short returns the first hex group of the id, enough to tell units apart in
// diagnostics without drowning them in full UUIDs.
func (u UnitID) Short() string {
	return uuid.UUID(u).String()[:8]
}

func (u UnitID) IsZero() bool {
	return u == UnitID{}
}

// ImplID names one impl definition. Indexes are assigned per unit in
// registration order, starting from 1; the zero value is not a valid id.
type ImplID struct {
	Unit  UnitID
	Index uint32
}

func (id ImplID) String() string {
	return fmt.Sprintf("%s#%d", id.Unit.Short(), id.Index)
}

func (id ImplID) IsZero() bool {
	return id == ImplID{}
}

// TraitID names one trait definition, in the same unit/index scheme as
// ImplID.
type TraitID struct {
	Unit  UnitID
	Index uint32
}

func (id TraitID) String() string {
	return fmt.Sprintf("%s#t%d", id.Unit.Short(), id.Index)
}

type nodeKind uint8

const (
	nodeTrait nodeKind = iota + 1
	nodeImpl
)

// NodeID addresses one node of a specialization forest: either a trait root
// or an impl acting as an internal node. The zero value is invalid.
type NodeID struct {
	kind  nodeKind
	trait TraitID
	impl  ImplID
}

// TraitNode wraps a trait id as a forest root.
func TraitNode(t TraitID) NodeID {
	return NodeID{kind: nodeTrait, trait: t}
}

// ImplNode wraps an impl id as an internal forest node.
func ImplNode(i ImplID) NodeID {
	return NodeID{kind: nodeImpl, impl: i}
}

// Trait reports the trait id when the node is a root.
func (n NodeID) Trait() (TraitID, bool) {
	return n.trait, n.kind == nodeTrait
}

// Impl reports the impl id when the node is an internal node.
func (n NodeID) Impl() (ImplID, bool) {
	return n.impl, n.kind == nodeImpl
}

func (n NodeID) IsZero() bool {
	return n.kind == 0
}

func (n NodeID) String() string {
	switch n.kind {
	case nodeTrait:
		return n.trait.String()
	case nodeImpl:
		return n.impl.String()
	default:
		return "<invalid node>"
	}
}
