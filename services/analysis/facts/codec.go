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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaxDumpSize is the largest fact dump DecodeFile will read (256MB).
const MaxDumpSize = 256 * 1024 * 1024

// Format is a fact dump encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ErrUnknownFormat is returned for dump files with an unrecognised extension.
var ErrUnknownFormat = errors.New("unknown fact dump format")

// ErrUnknownVariant is returned when a dump names a fact type that has no variant.
var ErrUnknownVariant = errors.New("unknown fact variant")

// FormatFromPath picks the dump format from a file extension.
func FormatFromPath(p string) (Format, error) {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, p)
	}
}

// Dump is the on-disk envelope for a fact sequence.
type Dump struct {
	// Tool names the producer of the dump.
	Tool string `json:"tool,omitempty" yaml:"tool,omitempty"`

	// Facts in extraction order.
	Facts []*Fact `json:"facts" yaml:"facts"`
}

// variantDecoder decodes a variant payload with the supplied decode func,
// which is json.Unmarshal or yaml.Node.Decode bound to the raw payload.
type variantDecoder func(decode func(any) error) (FactType, error)

func variantOf[T FactType]() variantDecoder {
	return func(decode func(any) error) (FactType, error) {
		var v T
		if err := decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

var variantDecoders = map[string]variantDecoder{
	string(DiscriminantTaintSource):   variantOf[TaintSource](),
	string(DiscriminantTaintSink):     variantOf[TaintSink](),
	string(DiscriminantSanitizer):     variantOf[Sanitizer](),
	string(DiscriminantVulnerability): variantOf[Vulnerability](),
	string(DiscriminantFunction):      variantOf[Function](),
	string(DiscriminantVariable):      variantOf[Variable](),
	string(DiscriminantFunctionCall):  variantOf[FunctionCall](),
	string(DiscriminantImport):        variantOf[Import](),
	string(DiscriminantCodeSmell):     variantOf[CodeSmell](),
	"Custom":                          variantOf[Custom](),
}

func decodeVariant(name string, decode func(any) error) (FactType, error) {
	dec, ok := variantDecoders[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
	}
	t, err := dec(decode)
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", name, err)
	}
	return t, nil
}

// jsonFact is the JSON wire shape of a Fact.
type jsonFact struct {
	ID         ID              `json:"id"`
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data,omitempty"`
	Location   Location        `json:"location"`
	Provenance Provenance      `json:"provenance"`
	Message    string          `json:"message,omitempty"`
}

// MarshalJSON encodes the fact with its variant name and payload.
func (f Fact) MarshalJSON() ([]byte, error) {
	if f.Type == nil {
		return nil, fmt.Errorf("marshal fact %s: nil type", f.ID)
	}
	data, err := json.Marshal(f.Type)
	if err != nil {
		return nil, fmt.Errorf("marshal fact %s payload: %w", f.ID, err)
	}
	return json.Marshal(jsonFact{
		ID:         f.ID,
		Type:       f.Type.variant(),
		Data:       data,
		Location:   f.Location,
		Provenance: f.Provenance,
		Message:    f.Message,
	})
}

// UnmarshalJSON decodes a fact written by MarshalJSON.
func (f *Fact) UnmarshalJSON(b []byte) error {
	var w jsonFact
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	data := w.Data
	if len(data) == 0 {
		data = []byte("{}")
	}
	t, err := decodeVariant(w.Type, func(v any) error { return json.Unmarshal(data, v) })
	if err != nil {
		return fmt.Errorf("fact %s: %w", w.ID, err)
	}
	*f = Fact{
		ID:         w.ID,
		Type:       t,
		Location:   w.Location,
		Provenance: w.Provenance,
		Message:    w.Message,
	}
	return nil
}

// yamlFact is the YAML wire shape of a Fact.
type yamlFact struct {
	ID         ID         `yaml:"id"`
	Type       string     `yaml:"type"`
	Data       yaml.Node  `yaml:"data,omitempty"`
	Location   Location   `yaml:"location"`
	Provenance Provenance `yaml:"provenance"`
	Message    string     `yaml:"message,omitempty"`
}

// MarshalYAML encodes the fact with its variant name and payload.
func (f Fact) MarshalYAML() (any, error) {
	if f.Type == nil {
		return nil, fmt.Errorf("marshal fact %s: nil type", f.ID)
	}
	var data yaml.Node
	if err := data.Encode(f.Type); err != nil {
		return nil, fmt.Errorf("marshal fact %s payload: %w", f.ID, err)
	}
	return yamlFact{
		ID:         f.ID,
		Type:       f.Type.variant(),
		Data:       data,
		Location:   f.Location,
		Provenance: f.Provenance,
		Message:    f.Message,
	}, nil
}

// UnmarshalYAML decodes a fact written by MarshalYAML.
func (f *Fact) UnmarshalYAML(node *yaml.Node) error {
	var w yamlFact
	if err := node.Decode(&w); err != nil {
		return err
	}
	decode := func(v any) error {
		if w.Data.Kind == 0 {
			return nil
		}
		return w.Data.Decode(v)
	}
	t, err := decodeVariant(w.Type, decode)
	if err != nil {
		return fmt.Errorf("fact %s: %w", w.ID, err)
	}
	*f = Fact{
		ID:         w.ID,
		Type:       t,
		Location:   w.Location,
		Provenance: w.Provenance,
		Message:    w.Message,
	}
	return nil
}

// Decode reads a fact dump in the given format.
//
// Description:
//
//	Decodes the Dump envelope and returns its facts. Facts are not
//	validated here; the store validates them on construction so that all
//	problems are reported together.
//
// Inputs:
//
//	r - The dump contents.
//	format - FormatJSON or FormatYAML.
//
// Outputs:
//
//	[]*Fact - Facts in dump order. Nil entries are dropped.
//	error - Non-nil if the dump cannot be parsed.
func Decode(r io.Reader, format Format) ([]*Fact, error) {
	var dump Dump
	switch format {
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(&dump); err != nil {
			return nil, fmt.Errorf("decode json fact dump: %w", err)
		}
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&dump); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode yaml fact dump: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}

	out := dump.Facts[:0]
	for _, f := range dump.Facts {
		if f != nil {
			out = append(out, f)
		}
	}
	return out, nil
}

// DecodeFile reads a fact dump from disk, picking the format by extension.
func DecodeFile(p string) ([]*Fact, error) {
	format, err := FormatFromPath(p)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("stat fact dump: %w", err)
	}
	if info.Size() > MaxDumpSize {
		return nil, fmt.Errorf("fact dump %s is %d bytes, limit is %d", p, info.Size(), MaxDumpSize)
	}

	file, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open fact dump: %w", err)
	}
	defer file.Close()

	return Decode(file, format)
}

// Encode writes facts as a dump in the given format.
func Encode(w io.Writer, tool string, facts []*Fact, format Format) error {
	dump := Dump{Tool: tool, Facts: facts}
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(dump)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(dump); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
}
