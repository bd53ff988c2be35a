// Package definitions loads, validates and caches report definitions
package definitions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"carbon-scribe/report-engine/internal/reports"
)

// Source provides raw report definitions by code. Load returns an error
// wrapping reports.ErrNotFound when code is unknown.
type Source interface {
	Load(ctx context.Context, code string) (*reports.ReportDefinition, error)
	List(ctx context.Context) ([]string, error)
}

// Decode parses a YAML or JSON definition. JSON is detected by a leading brace.
func Decode(data []byte) (*reports.ReportDefinition, error) {
	var def reports.ReportDefinition

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &def); err != nil {
			return nil, fmt.Errorf("failed to decode JSON definition: %w", err)
		}
		return &def, nil
	}

	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to decode YAML definition: %w", err)
	}
	return &def, nil
}

// chain consults several sources in order
type chain []Source

// Chain returns a Source that loads from the first source knowing a code
// and lists the union of all codes
func Chain(sources ...Source) Source {
	if len(sources) == 1 {
		return sources[0]
	}
	return chain(sources)
}

func (c chain) Load(ctx context.Context, code string) (*reports.ReportDefinition, error) {
	for _, s := range c {
		def, err := s.Load(ctx, code)
		if errors.Is(err, reports.ErrNotFound) {
			continue
		}
		return def, err
	}
	return nil, fmt.Errorf("definition %q: %w", code, reports.ErrNotFound)
}

func (c chain) List(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var codes []string
	for _, s := range c {
		list, err := s.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, code := range list {
			if !seen[code] {
				seen[code] = true
				codes = append(codes, code)
			}
		}
	}
	sort.Strings(codes)
	return codes, nil
}
