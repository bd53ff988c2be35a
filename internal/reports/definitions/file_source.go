package definitions

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"carbon-scribe/report-engine/internal/reports"
)

var definitionExts = []string{".yaml", ".yml", ".json"}

// FileSource reads <code>.yaml, <code>.yml or <code>.json files from a directory
type FileSource struct {
	dir string
}

// NewFileSource creates a source rooted at dir
func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

// Dir returns the definitions directory
func (s *FileSource) Dir() string {
	return s.dir
}

func (s *FileSource) Load(_ context.Context, code string) (*reports.ReportDefinition, error) {
	if code == "" || strings.ContainsAny(code, `/\`) || strings.HasPrefix(code, ".") {
		return nil, fmt.Errorf("invalid report code %q: %w", code, reports.ErrNotFound)
	}

	for _, ext := range definitionExts {
		path := filepath.Join(s.dir, code+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		def, err := Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return def, nil
	}
	return nil, fmt.Errorf("no definition file for %q: %w", code, reports.ErrNotFound)
}

func (s *FileSource) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}

	seen := make(map[string]bool)
	var codes []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		code, ok := CodeFromPath(e.Name())
		if !ok || seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}

// CodeFromPath returns the report code a definition file name maps to
func CodeFromPath(path string) (string, bool) {
	base := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(base))
	for _, known := range definitionExts {
		if ext == known {
			code := strings.TrimSuffix(base, filepath.Ext(base))
			return code, code != "" && !strings.HasPrefix(code, ".")
		}
	}
	return "", false
}
