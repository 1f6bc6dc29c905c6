// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package nav

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// MapPath is the fixed path the URL side-channel writes under.
const MapPath = "/map"

// History is the navigation coordinator's view of the client history
// stack. Writes through this interface are direct and non-reactive:
// they must not themselves trigger a render or navigation pass.
type History interface {
	// Push appends a new history entry.
	Push(url string)

	// Replace overwrites the current history entry.
	Replace(url string)

	// Current returns the current entry, empty when the stack is empty.
	Current() string
}

// MemoryHistory is an in-process History used by the HTTP surface and
// by tests. Safe for concurrent use.
type MemoryHistory struct {
	mu      sync.Mutex
	entries []string
}

// NewMemoryHistory creates an empty history stack.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

// Push implements History.
func (h *MemoryHistory) Push(url string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, url)
}

// Replace implements History. Replacing an empty stack pushes.
func (h *MemoryHistory) Replace(url string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		h.entries = append(h.entries, url)
		return
	}
	h.entries[len(h.entries)-1] = url
}

// Current implements History.
func (h *MemoryHistory) Current() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		return ""
	}
	return h.entries[len(h.entries)-1]
}

// Len returns the history depth.
func (h *MemoryHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// EncodeURL renders center and expanded ids as query parameters on the
// fixed map path. Expanded ids are comma-joined in their stored order.
func EncodeURL(centerID string, expanded []string) string {
	v := url.Values{}
	if centerID != "" {
		v.Set("center", centerID)
	}
	if len(expanded) > 0 {
		v.Set("expanded", strings.Join(expanded, ","))
	}
	if len(v) == 0 {
		return MapPath
	}
	return MapPath + "?" + v.Encode()
}

// DecodeURL parses a map URL back into center and expanded ids. Used at
// cold start to restore view state.
func DecodeURL(raw string) (centerID string, expanded []string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", nil, fmt.Errorf("parse map url: %w", err)
	}
	q := u.Query()
	centerID = q.Get("center")
	if joined := q.Get("expanded"); joined != "" {
		expanded = strings.Split(joined, ",")
	}
	return centerID, expanded, nil
}
