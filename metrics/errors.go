// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metrics

import "errors"

// Sentinel errors for the metrics registry.
var (
	// ErrDuplicateInstrument indicates an instrument name is already registered.
	ErrDuplicateInstrument = errors.New("duplicate instrument name")

	// ErrNegativeDelta indicates a counter increment with a negative delta.
	ErrNegativeDelta = errors.New("counter delta must be non-negative")

	// ErrEmptyName indicates an instrument was registered without a name.
	ErrEmptyName = errors.New("instrument name must not be empty")

	// ErrNilCallback indicates a gauge was registered without a callback.
	ErrNilCallback = errors.New("gauge callback must not be nil")
)
