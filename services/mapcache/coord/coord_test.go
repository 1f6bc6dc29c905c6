// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package coord

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	ids := []string{
		"1,0:",
		"0,0:",
		"1,0:1",
		"1,0:0",
		"1,0:1,3",
		"42,7:6,6,6",
		"3,2:0,1,2,3,4,5,6",
		"-1,5:2", // negative owner ids are legal
	}
	for _, id := range ids {
		t.Run(id, func(t *testing.T) {
			c, err := Parse(id)
			require.NoError(t, err)
			assert.Equal(t, id, c.ID())
		})
	}
}

func TestParseMalformed(t *testing.T) {
	ids := []string{
		"",
		"1,0",      // no colon
		"10:1",     // no comma
		"a,0:",     // non-numeric owner
		"1,b:",     // non-numeric group
		"1,0:x",    // non-numeric segment
		"1,0:7",    // direction out of range
		"1,0:1,,2", // empty segment
		"1,0:1,-1",
	}
	for _, id := range ids {
		t.Run(id, func(t *testing.T) {
			_, err := Parse(id)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidCoordinate))
		})
	}
}

func TestParentAndDepth(t *testing.T) {
	root := MustParse("1,0:")
	assert.Equal(t, 0, root.Depth())
	assert.True(t, root.IsRoot())
	_, ok := root.Parent()
	assert.False(t, ok)
	_, ok = root.Direction()
	assert.False(t, ok)

	c := MustParse("1,0:2,3,5")
	assert.Equal(t, 3, c.Depth())

	parent, ok := c.Parent()
	require.True(t, ok)
	assert.Equal(t, "1,0:2,3", parent.ID())

	d, ok := c.Direction()
	require.True(t, ok)
	assert.Equal(t, DirectionSouthWest, d)
}

func TestParentDoesNotAliasPath(t *testing.T) {
	c := MustParse("1,0:2,3")
	parent, ok := c.Parent()
	require.True(t, ok)

	child := parent.Child(DirectionWest)
	assert.Equal(t, "1,0:2,6", child.ID())
	// Original coordinate must be untouched by deriving siblings.
	assert.Equal(t, "1,0:2,3", c.ID())
}

func TestAncestorDescendantDuality(t *testing.T) {
	ids := []string{"1,0:", "1,0:1", "1,0:2", "1,0:1,3", "1,0:1,3,2", "1,0:2,3", "2,0:1"}
	coords := make([]Coord, len(ids))
	for i, id := range ids {
		coords[i] = MustParse(id)
	}
	for _, a := range coords {
		for _, b := range coords {
			assert.Equal(t, IsAncestor(a, b), IsDescendant(b, a),
				"duality violated for %s / %s", a.ID(), b.ID())
		}
	}
}

func TestIsAncestor(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"root over child", "1,0:", "1,0:1", true},
		{"root over deep", "1,0:", "1,0:1,3,2", true},
		{"parent over child", "1,0:1", "1,0:1,3", true},
		{"not reflexive", "1,0:1", "1,0:1", false},
		{"sibling", "1,0:1", "1,0:2", false},
		{"reversed", "1,0:1,3", "1,0:1", false},
		{"diverging path", "1,0:1,2", "1,0:1,3,2", false},
		{"different group", "1,0:", "1,1:1", false},
		{"different owner", "1,0:", "2,0:1", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsAncestor(MustParse(tc.a), MustParse(tc.b)))
		})
	}
}

func TestIDHelpers(t *testing.T) {
	t.Run("parent id", func(t *testing.T) {
		p, ok := ParentID("1,0:1,3")
		require.True(t, ok)
		assert.Equal(t, "1,0:1", p)

		_, ok = ParentID("1,0:")
		assert.False(t, ok)

		_, ok = ParentID("garbage")
		assert.False(t, ok)
	})

	t.Run("depth of", func(t *testing.T) {
		assert.Equal(t, 0, DepthOf("1,0:"))
		assert.Equal(t, 2, DepthOf("1,0:1,3"))
		assert.Equal(t, 0, DepthOf("garbage"))
	})

	t.Run("ancestor by id", func(t *testing.T) {
		assert.True(t, IsAncestorID("1,0:1", "1,0:1,3"))
		assert.False(t, IsAncestorID("1,0:2", "1,0:1,3"))
		assert.False(t, IsAncestorID("garbage", "1,0:1"))
		assert.False(t, IsAncestorID("1,0:1", "garbage"))
	})
}
