package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"year=2025", "region=eu", "region=us", "region=apac", "note=a=b"})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"year":   "2025",
		"region": []any{"eu", "us", "apac"},
		"note":   "a=b",
	}, params)

	_, err = parseParams([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseParams([]string{"=x"})
	assert.Error(t, err)
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(good, []byte("meta:\n  code: good\n"), 0o600))
	require.NoError(t, os.WriteFile(bad, []byte("meta:\n  code: other\n"), 0o600))

	var out bytes.Buffer
	validateCmd.SetOut(&out)
	err := runValidate(validateCmd, []string{good, bad})

	require.Error(t, err)
	assert.Contains(t, out.String(), "ok   "+good)
	assert.Contains(t, out.String(), "FAIL "+bad)
}

func TestPrintStructured(t *testing.T) {
	defer func(prev string) { outputFormat = prev }(outputFormat)

	var buf bytes.Buffer
	outputFormat = "yaml"
	require.NoError(t, printStructured(&buf, map[string]any{"code": "sales"}))
	assert.Equal(t, "code: sales\n", buf.String())

	outputFormat = "xml"
	assert.Error(t, printStructured(&buf, 1))
}
