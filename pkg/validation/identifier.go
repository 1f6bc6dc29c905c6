// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for
// security-critical operations.
//
// This package contains validators for user-provided inputs that end
// up in storage keys, log lines or upstream request paths. Using these
// validators at the HTTP boundary prevents key collisions, log
// injection and path traversal.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// itemIDPattern matches stable tile identifiers: UUIDs and the
// temporary "pending-<uuid>" ids used during optimistic creates.
// Max length: 72 characters.
var itemIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]{0,71}$`)

// ValidateItemID validates a stable tile id before it is used in a
// storage key or upstream request path.
//
// Valid ids:
//   - 1-72 characters
//   - letters, digits, dots, underscores, hyphens
//   - must not start with punctuation
//
// Example:
//
//	if err := validation.ValidateItemID(req.ItemID); err != nil {
//	    c.JSON(http.StatusBadRequest, ...)
//	    return
//	}
func ValidateItemID(id string) error {
	if id == "" {
		return fmt.Errorf("item id cannot be empty")
	}
	if !itemIDPattern.MatchString(id) {
		return fmt.Errorf("invalid item id format: %q", id)
	}
	return nil
}

// ValidateItemIDs validates multiple stable ids. Returns an error
// listing every invalid id if any fail validation.
func ValidateItemIDs(ids []string) error {
	var invalid []string
	for _, id := range ids {
		if err := ValidateItemID(id); err != nil {
			invalid = append(invalid, id)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid item ids: %s", strings.Join(invalid, ", "))
	}
	return nil
}
