// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package coord implements the hierarchical coordinate algebra for the
// hexagonal tile grid.
//
// A coordinate addresses one tile as an owner/group pair plus a path of
// hex directions walked from the group's root tile. The string form is
//
//	"{ownerID},{groupID}:{d1,d2,...}"
//
// where directions are the integers 1-6 and 0 is reserved for the
// composed (center-child) slot. An empty path denotes a root tile.
//
// # Thread Safety
//
// Every function in this package is pure and safe for concurrent use.
// Coord values are immutable by convention; Parent and Child return
// fresh values and never alias the receiver's path slice.
package coord

import (
	"fmt"
	"strconv"
	"strings"
)

// Direction is one step on the hexagonal grid.
//
// Valid values are 0-6. The six hex neighbors are 1-6; 0 is the
// reserved composed slot used for a tile placed in its parent's center.
type Direction int

const (
	// DirectionComposed is the reserved center-child slot.
	DirectionComposed Direction = iota

	// DirectionNorthWest through DirectionWest are the six hex
	// neighbors, numbered clockwise from the upper left.
	DirectionNorthWest
	DirectionNorthEast
	DirectionEast
	DirectionSouthEast
	DirectionSouthWest
	DirectionWest
)

// Valid reports whether d is within the encodable range.
func (d Direction) Valid() bool {
	return d >= DirectionComposed && d <= DirectionWest
}

// String returns the numeric wire form of the direction.
func (d Direction) String() string {
	return strconv.Itoa(int(d))
}

// Coord is the hierarchical address of a tile.
//
// The zero value is the root of owner 0, group 0. Coord values are
// comparable only via ID(); Path makes the struct itself non-comparable.
type Coord struct {
	// OwnerID identifies the map owner.
	OwnerID int

	// GroupID identifies the tile group within the owner's space.
	GroupID int

	// Path is the direction walk from the group root. Empty for roots.
	Path []Direction
}

// Parse converts a coordinate string back into a Coord.
//
// # Description
//
// Parse is the inverse of Coord.ID: for every valid coordinate string s,
// Parse(s).ID() == s. Malformed input yields an error wrapping
// ErrInvalidCoordinate; callers at lookup boundaries should treat that
// as "no result" rather than propagating it as a failure.
//
// # Inputs
//
//   - id: Coordinate string, e.g. "1,0:2,3" or "1,0:" for a root.
//
// # Outputs
//
//   - Coord: The parsed coordinate.
//   - error: Non-nil iff id is malformed. Always wraps ErrInvalidCoordinate.
func Parse(id string) (Coord, error) {
	head, tail, ok := strings.Cut(id, ":")
	if !ok {
		return Coord{}, fmt.Errorf("%w: missing ':' in %q", ErrInvalidCoordinate, id)
	}

	ownerPart, groupPart, ok := strings.Cut(head, ",")
	if !ok {
		return Coord{}, fmt.Errorf("%w: missing ',' in owner/group of %q", ErrInvalidCoordinate, id)
	}
	ownerID, err := strconv.Atoi(ownerPart)
	if err != nil {
		return Coord{}, fmt.Errorf("%w: bad owner id in %q", ErrInvalidCoordinate, id)
	}
	groupID, err := strconv.Atoi(groupPart)
	if err != nil {
		return Coord{}, fmt.Errorf("%w: bad group id in %q", ErrInvalidCoordinate, id)
	}

	c := Coord{OwnerID: ownerID, GroupID: groupID}
	if tail == "" {
		return c, nil
	}

	segments := strings.Split(tail, ",")
	c.Path = make([]Direction, len(segments))
	for i, seg := range segments {
		n, err := strconv.Atoi(seg)
		if err != nil {
			return Coord{}, fmt.Errorf("%w: bad path segment %q in %q", ErrInvalidCoordinate, seg, id)
		}
		d := Direction(n)
		if !d.Valid() {
			return Coord{}, fmt.Errorf("%w: direction %d out of range in %q", ErrInvalidCoordinate, n, id)
		}
		c.Path[i] = d
	}
	return c, nil
}

// MustParse parses id and panics on malformed input.
//
// Intended for literals in tests and fixtures only.
func MustParse(id string) Coord {
	c, err := Parse(id)
	if err != nil {
		panic(err)
	}
	return c
}

// ID returns the canonical string form of the coordinate.
func (c Coord) ID() string {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(c.OwnerID))
	sb.WriteByte(',')
	sb.WriteString(strconv.Itoa(c.GroupID))
	sb.WriteByte(':')
	for i, d := range c.Path {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(int(d)))
	}
	return sb.String()
}

// Depth returns the length of the direction path. Roots have depth 0.
func (c Coord) Depth() int {
	return len(c.Path)
}

// IsRoot reports whether the coordinate has an empty path.
func (c Coord) IsRoot() bool {
	return len(c.Path) == 0
}

// Parent returns the coordinate one level up.
//
// The second return is false iff c is a root, which has no parent.
func (c Coord) Parent() (Coord, bool) {
	if c.IsRoot() {
		return Coord{}, false
	}
	parent := Coord{OwnerID: c.OwnerID, GroupID: c.GroupID}
	parent.Path = append([]Direction(nil), c.Path[:len(c.Path)-1]...)
	return parent, true
}

// Child returns the coordinate one level down in direction d.
func (c Coord) Child(d Direction) Coord {
	child := Coord{OwnerID: c.OwnerID, GroupID: c.GroupID}
	child.Path = make([]Direction, 0, len(c.Path)+1)
	child.Path = append(child.Path, c.Path...)
	child.Path = append(child.Path, d)
	return child
}

// Direction returns the last path segment, i.e. the direction from the
// parent to this tile. The second return is false for roots.
func (c Coord) Direction() (Direction, bool) {
	if c.IsRoot() {
		return 0, false
	}
	return c.Path[len(c.Path)-1], true
}

// sameTree reports whether two coordinates live in the same owner/group tree.
func sameTree(a, b Coord) bool {
	return a.OwnerID == b.OwnerID && a.GroupID == b.GroupID
}

// IsAncestor reports whether a is a strict ancestor of b.
//
// A coordinate is never its own ancestor. Coordinates in different
// owner/group trees are never related.
func IsAncestor(a, b Coord) bool {
	if !sameTree(a, b) || len(a.Path) >= len(b.Path) {
		return false
	}
	for i, d := range a.Path {
		if b.Path[i] != d {
			return false
		}
	}
	return true
}

// IsDescendant reports whether a is a strict descendant of b.
//
// IsDescendant(a, b) == IsAncestor(b, a) for every pair in one tree.
func IsDescendant(a, b Coord) bool {
	return IsAncestor(b, a)
}

// ParentID returns the parent coordinate id for the given id.
//
// The second return is false when id is a root coordinate or is
// malformed; parse failures at this boundary are absorbed as "no
// parent", matching the lookup-boundary contract of Parse.
func ParentID(id string) (string, bool) {
	c, err := Parse(id)
	if err != nil {
		return "", false
	}
	parent, ok := c.Parent()
	if !ok {
		return "", false
	}
	return parent.ID(), true
}

// DepthOf returns the depth encoded in id.
//
// Malformed ids report depth 0; use Parse directly when the caller
// needs to distinguish malformed input from a root.
func DepthOf(id string) int {
	c, err := Parse(id)
	if err != nil {
		return 0
	}
	return c.Depth()
}

// IsAncestorID is the id-level form of IsAncestor. Malformed ids are
// never related to anything.
func IsAncestorID(a, b string) bool {
	ca, err := Parse(a)
	if err != nil {
		return false
	}
	cb, err := Parse(b)
	if err != nil {
		return false
	}
	return IsAncestor(ca, cb)
}
