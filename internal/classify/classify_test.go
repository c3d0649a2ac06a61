package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orc-import/pkg/model"
)

func sampleTable(t *testing.T) *model.DefinitionTable {
	t.Helper()
	tbl := &model.DefinitionTable{
		Name: "sample",
		Entries: []*model.DefinitionEntry{
			{Pattern: `\.7z$`, Action: model.ActionExtract},
			{Pattern: `\.csv$`, Action: model.ActionImport},
			{Pattern: `\.tmp$`, Action: model.ActionIgnore},
		},
	}
	require.NoError(t, tbl.Compile())
	return tbl
}

func TestClassifyFirstMatchWins(t *testing.T) {
	tbl := sampleTable(t)
	action, entry := Classify(tbl, "archive.7z")
	assert.Equal(t, model.ActionExtract, action)
	require.NotNil(t, entry)
}

func TestClassifyUnmatchedDefaultsToIgnore(t *testing.T) {
	tbl := sampleTable(t)
	action, entry := Classify(tbl, "unknown.bin")
	assert.Equal(t, model.ActionIgnore, action)
	assert.Nil(t, entry)
}

func TestIsToFunctionsAgreePairwise(t *testing.T) {
	tbl := sampleTable(t)
	names := []string{"a.7z", "b.csv", "c.tmp", "d.bin"}
	for _, n := range names {
		votes := 0
		if IsToIgnore(tbl, n) {
			votes++
		}
		if IsToImport(tbl, n) {
			votes++
		}
		if IsToExtract(tbl, n) {
			votes++
		}
		if IsToExpand(tbl, n) {
			votes++
		}
		assert.Equal(t, 1, votes, "exactly one action should hold for %q", n)
	}
}

func TestCacheMemoizesByLiteralName(t *testing.T) {
	tbl := sampleTable(t)
	cache := NewCache()

	a1, e1 := cache.Classify(tbl, "x.csv")
	a2, e2 := cache.Classify(tbl, "x.csv")
	assert.Equal(t, a1, a2)
	assert.Same(t, e1, e2)

	// A different literal name after re-triage (e.g. post-decode rename)
	// is a distinct cache key, not served the old entry.
	a3, _ := cache.Classify(tbl, "x.7z")
	assert.NotEqual(t, a1, a3)
}
