// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package remote

import "errors"

// Sentinel errors surfaced by remote collaborator implementations.
var (
	// ErrNotFound is returned by mutations against a tile the server
	// does not know. Read lookups return (nil, nil) instead.
	ErrNotFound = errors.New("remote: item not found")

	// ErrNetwork wraps transport failures and unexpected HTTP status
	// codes.
	ErrNetwork = errors.New("remote: network error")

	// ErrTimeout wraps deadline-exceeded transport failures.
	ErrTimeout = errors.New("remote: timeout")
)
