// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package export

import "errors"

// Sentinel errors for the export loop.
var (
	// ErrAlreadyRunning indicates Start was called on a running flusher.
	ErrAlreadyRunning = errors.New("flusher already running")

	// ErrNilRegistry indicates a flusher was built without a registry.
	ErrNilRegistry = errors.New("registry must not be nil")

	// ErrNilExporter indicates a flusher was built without an exporter.
	ErrNilExporter = errors.New("exporter must not be nil")

	// ErrMissingURL indicates a remote-write exporter without an endpoint.
	ErrMissingURL = errors.New("remote write URL must not be empty")
)
