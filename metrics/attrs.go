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

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Attributes is the attribute set attached to a recorded value.
//
// Values are expected to be strings, booleans, integers, floats, or
// time.Duration. Anything else is stringified with fmt.Sprint when the
// attribute crosses an export boundary.
type Attributes map[string]any

// Clone returns a shallow copy of the attribute set. Returns nil for nil
// or empty input.
func (a Attributes) Clone() Attributes {
	if len(a) == 0 {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// StringValue normalizes a single attribute value to its string form for
// backends that only accept string labels (e.g. Prometheus remote write).
func StringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case time.Duration:
		return val.String()
	default:
		return fmt.Sprint(v)
	}
}

// StringMap returns the attribute set with every value normalized to a
// string via StringValue. Returns nil for an empty set.
func (a Attributes) StringMap() map[string]string {
	if len(a) == 0 {
		return nil
	}
	out := make(map[string]string, len(a))
	for k, v := range a {
		out[k] = StringValue(v)
	}
	return out
}

// OTel converts the attribute set to OpenTelemetry key-values for use on
// spans. Keys with nil values are skipped. The result is sorted by key so
// span attribute order is deterministic.
func (a Attributes) OTel() []attribute.KeyValue {
	if len(a) == 0 {
		return nil
	}
	out := make([]attribute.KeyValue, 0, len(a))
	for k, v := range a {
		if k == "" || v == nil {
			continue
		}
		out = append(out, toKeyValue(k, v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// toKeyValue maps a Go value onto the closest OTel attribute type.
func toKeyValue(key string, v any) attribute.KeyValue {
	switch val := v.(type) {
	case string:
		return attribute.String(key, val)
	case bool:
		return attribute.Bool(key, val)
	case int:
		return attribute.Int(key, val)
	case int64:
		return attribute.Int64(key, val)
	case uint64:
		if val <= math.MaxInt64 {
			return attribute.Int64(key, int64(val))
		}
		return attribute.String(key, strconv.FormatUint(val, 10))
	case float64:
		return attribute.Float64(key, val)
	case float32:
		return attribute.Float64(key, float64(val))
	case time.Duration:
		return attribute.Int64(key, val.Nanoseconds())
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}
