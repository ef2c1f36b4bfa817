// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package facts

import (
	"fmt"
	"math"
	"path"
	"strconv"
	"strings"
)

// ValidationError describes the first invalid field of a fact.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks if the Fact has valid field values.
//
// Returns nil if valid, or a ValidationError describing the first invalid field.
//
// Validates:
//   - ID is non-empty
//   - Type is non-nil and its payload is valid
//   - Location.File is non-empty and doesn't contain path traversal
//   - StartLine is positive (1-indexed)
//   - EndLine >= StartLine
//   - StartColumn and EndColumn are non-negative (0-indexed)
//   - Provenance.Confidence is within [0, 1]
func (f *Fact) Validate() error {
	if f == nil {
		return ValidationError{Field: "Fact", Message: "must not be nil"}
	}

	if f.ID == "" {
		return ValidationError{Field: "ID", Message: "must not be empty"}
	}

	if f.Type == nil {
		return ValidationError{Field: "Type", Message: "must not be nil"}
	}

	if err := f.Type.Validate(); err != nil {
		return err
	}

	loc := f.Location
	if loc.File == "" {
		return ValidationError{Field: "Location.File", Message: "must not be empty"}
	}

	for _, part := range strings.Split(strings.ReplaceAll(loc.File, "\\", "/"), "/") {
		if part == ".." {
			return ValidationError{Field: "Location.File", Message: "must not contain path traversal (..)"}
		}
	}

	if loc.StartLine < 1 {
		return ValidationError{Field: "Location.StartLine", Message: "must be >= 1 (1-indexed)"}
	}

	if loc.EndLine < loc.StartLine {
		return ValidationError{Field: "Location.EndLine", Message: "must be >= StartLine"}
	}

	if loc.StartColumn < 0 {
		return ValidationError{Field: "Location.StartColumn", Message: "must be >= 0 (0-indexed)"}
	}

	if loc.EndColumn < 0 {
		return ValidationError{Field: "Location.EndColumn", Message: "must be >= 0"}
	}

	if c := f.Provenance.Confidence; math.IsNaN(c) || c < 0 || c > 1 {
		return ValidationError{Field: "Provenance.Confidence", Message: "must be within [0, 1]"}
	}

	return nil
}

// Field returns a named field of the fact rendered as a string.
//
// Description:
//
//	Provides the flat, read-only field view that Complex query predicates
//	evaluate against. Common fields are resolved first; anything else is
//	delegated to the variant.
//
// Common fields:
//
//	id, type, file, start_line, end_line, start_column, end_column,
//	extractor, extractor_version, confidence, message
//
// Outputs:
//
//	string - The field value.
//	bool - False if neither the fact nor its variant has the field.
func (f *Fact) Field(name string) (string, bool) {
	switch name {
	case "id":
		return string(f.ID), true
	case "type":
		return string(f.Discriminant()), true
	case "file":
		return NormalizePath(f.Location.File), true
	case "start_line":
		return strconv.Itoa(f.Location.StartLine), true
	case "end_line":
		return strconv.Itoa(f.Location.EndLine), true
	case "start_column":
		return strconv.Itoa(f.Location.StartColumn), true
	case "end_column":
		return strconv.Itoa(f.Location.EndColumn), true
	case "extractor":
		return f.Provenance.Extractor, true
	case "extractor_version":
		return f.Provenance.Version, true
	case "confidence":
		return strconv.FormatFloat(f.Provenance.Confidence, 'f', -1, 64), true
	case "message":
		return f.Message, true
	}
	if f.Type == nil {
		return "", false
	}
	return f.Type.Field(name)
}

// NormalizePath returns the canonical form of a fact file path.
//
// Backslashes become forward slashes, the path is cleaned, and a leading
// "./" is dropped, so "./src\\main.rs" and "src/main.rs" index together.
// The empty string stays empty.
func NormalizePath(p string) string {
	if p == "" {
		return ""
	}
	p = path.Clean(strings.ReplaceAll(p, "\\", "/"))
	return strings.TrimPrefix(p, "./")
}
