// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianFacts/services/analysis/planner"
)

// maxQueryFileSize is the largest accepted --query file (1MB).
const maxQueryFileSize = 1024 * 1024

// errQueryFlags reports a flag combination that names no single query.
var errQueryFlags = errors.New("conflicting query flags")

// queryFlags describes one query on the command line.
type queryFlags struct {
	queryFile string
	typ       string
	file      string
	start     int
	end       int
	flow      string
	where     []string
}

// bind registers the query flags on cmd.
func (f *queryFlags) bind(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.queryFile, "query", "q", "", "YAML or JSON query spec file")
	fl.StringVarP(&f.typ, "type", "t", "", "Fact type, e.g. Vulnerability or Custom:Name")
	fl.StringVarP(&f.file, "file", "f", "", "Source file path")
	fl.IntVar(&f.start, "start", 0, "First line of a line range (with --file)")
	fl.IntVar(&f.end, "end", 0, "Last line of a line range (with --file)")
	fl.StringVar(&f.flow, "flow", "", "Taint flow id")
	fl.StringArrayVarP(&f.where, "where", "w", nil,
		"Predicate on a fact field (with --type), repeatable: f=v, f!=v, f~=v (contains), f^=v (prefix), f>n, f<n")
}

// spec turns the flags into a query spec.
//
// The shape follows from which flags are set:
//
//	(none)                → all
//	--type                → type
//	--type --where ...    → complex
//	--file                → file
//	--file --start --end  → range
//	--flow                → flow
func (f *queryFlags) spec() (planner.QuerySpec, error) {
	if f.queryFile != "" {
		if f.typ != "" || f.file != "" || f.flow != "" || len(f.where) > 0 || f.start != 0 || f.end != 0 {
			return planner.QuerySpec{}, fmt.Errorf("%w: --query cannot be combined with other query flags", errQueryFlags)
		}
		return readQuerySpec(f.queryFile)
	}

	set := 0
	for _, v := range []string{f.typ, f.file, f.flow} {
		if v != "" {
			set++
		}
	}
	if set > 1 {
		return planner.QuerySpec{}, fmt.Errorf("%w: use only one of --type, --file or --flow", errQueryFlags)
	}
	if len(f.where) > 0 && f.typ == "" {
		return planner.QuerySpec{}, fmt.Errorf("%w: --where requires --type", errQueryFlags)
	}
	if (f.start != 0 || f.end != 0) && f.file == "" {
		return planner.QuerySpec{}, fmt.Errorf("%w: --start and --end require --file", errQueryFlags)
	}

	switch {
	case f.flow != "":
		return planner.QuerySpec{Kind: planner.KindFlow, Flow: f.flow}, nil

	case f.file != "" && (f.start != 0 || f.end != 0):
		return planner.QuerySpec{Kind: planner.KindLineRange, File: f.file, Start: f.start, End: f.end}, nil

	case f.file != "":
		return planner.QuerySpec{Kind: planner.KindFile, File: f.file}, nil

	case f.typ != "" && len(f.where) > 0:
		preds := make([]planner.Predicate, 0, len(f.where))
		for _, w := range f.where {
			p, err := parsePredicate(w)
			if err != nil {
				return planner.QuerySpec{}, err
			}
			preds = append(preds, p)
		}
		return planner.QuerySpec{Kind: planner.KindComplex, Type: f.typ, Where: preds}, nil

	case f.typ != "":
		return planner.QuerySpec{Kind: planner.KindType, Type: f.typ}, nil

	default:
		return planner.QuerySpec{Kind: planner.KindAll}, nil
	}
}

// query builds and validates the query.
func (f *queryFlags) query() (planner.Query, error) {
	spec, err := f.spec()
	if err != nil {
		return nil, err
	}
	return spec.Build()
}

// parsePredicate parses "field<op>value". Operators are =, !=, ~=
// (contains), ^= (prefix), > and <.
func parsePredicate(s string) (planner.Predicate, error) {
	i := strings.IndexAny(s, "=!~^<>")
	if i <= 0 {
		return planner.Predicate{}, fmt.Errorf("%w: predicate %q has no field or operator", planner.ErrInvalidQuery, s)
	}
	field, rest := strings.TrimSpace(s[:i]), s[i:]

	var op planner.Op
	var value string
	switch {
	case strings.HasPrefix(rest, "!="):
		op, value = planner.OpNe, rest[2:]
	case strings.HasPrefix(rest, "~="):
		op, value = planner.OpContains, rest[2:]
	case strings.HasPrefix(rest, "^="):
		op, value = planner.OpPrefix, rest[2:]
	case rest[0] == '=':
		op, value = planner.OpEq, rest[1:]
	case rest[0] == '>':
		op, value = planner.OpGt, rest[1:]
	case rest[0] == '<':
		op, value = planner.OpLt, rest[1:]
	default:
		return planner.Predicate{}, fmt.Errorf("%w: predicate %q has an unknown operator", planner.ErrInvalidQuery, s)
	}

	p := planner.Predicate{Field: field, Op: op, Value: value}
	if err := p.Validate(); err != nil {
		return planner.Predicate{}, err
	}
	return p, nil
}

// readQuerySpec decodes a query spec file. JSON is accepted as YAML.
func readQuerySpec(path string) (planner.QuerySpec, error) {
	info, err := os.Stat(path)
	if err != nil {
		return planner.QuerySpec{}, fmt.Errorf("stat query file: %w", err)
	}
	if info.Size() > maxQueryFileSize {
		return planner.QuerySpec{}, fmt.Errorf("query file %s is %d bytes, limit %d", path, info.Size(), maxQueryFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return planner.QuerySpec{}, fmt.Errorf("read query file: %w", err)
	}

	var spec planner.QuerySpec
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil && !errors.Is(err, io.EOF) {
		return planner.QuerySpec{}, fmt.Errorf("parse query file %s: %w", path, err)
	}
	return spec, nil
}
