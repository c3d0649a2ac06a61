package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
tables:
  - name: T
    disposition: Truncate
    concurrency: 2
definitions:
  - pattern: '\.csv$'
    action: Import
    table: T
  - pattern: '\.7z$'
    action: Expand
outputs:
  extractDir: /tmp/extract
  importDir: /tmp/import
budgets:
  memoryBytes: 1024
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeTemp(t, sampleYAML)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.EqualValues(t, 1024, cfg.Budgets.MemoryBytes)
	assert.EqualValues(t, defaultDiskSpillBudget, cfg.Budgets.DiskSpillBytes)
	assert.Equal(t, 2, cfg.Tables[0].Concurrency)
}

func TestLoadConfigRejectsUnknownDisposition(t *testing.T) {
	path := writeTemp(t, `
tables:
  - name: T
    disposition: Bogus
definitions: []
`)
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigRejectsDefinitionReferencingUnknownTable(t *testing.T) {
	path := writeTemp(t, `
tables: []
definitions:
  - pattern: '\.csv$'
    action: Import
    table: Nope
`)
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestBuildDefinitionTable(t *testing.T) {
	path := writeTemp(t, sampleYAML)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	dt, err := BuildDefinitionTable(cfg)
	require.NoError(t, err)
	require.Len(t, dt.Entries, 2)

	entry := dt.Match("rows.csv")
	require.NotNil(t, entry)
	require.NotNil(t, entry.Table)
	assert.Equal(t, "T", entry.Table.Name)
}
