// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rules

import (
	"regexp"
	"strconv"

	"github.com/AleutianAI/AleutianFacts/services/analysis/facts"
)

var placeholderPattern = regexp.MustCompile(`\{(file|line|type|id|rule|field:[A-Za-z0-9_]+)\}`)

// renderMessage expands the rule's message template for one fact.
//
// Unknown placeholders are left untouched. A {field:x} the fact does not
// have renders as an empty string. An empty template renders as
// "<rule name> at <file>:<line>".
func renderMessage(r *Rule, f *facts.Fact) string {
	tmpl := r.Message
	if tmpl == "" {
		tmpl = "{rule} at {file}:{line}"
	}

	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := m[1 : len(m)-1]
		switch key {
		case "file":
			return f.Location.File
		case "line":
			return strconv.Itoa(f.Location.StartLine)
		case "type":
			return string(f.Discriminant())
		case "id":
			return string(f.ID)
		case "rule":
			return r.Name
		}
		v, _ := f.Field(key[len("field:"):])
		return v
	})
}
