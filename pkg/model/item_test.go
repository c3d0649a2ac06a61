package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetActionIgnoreDominates(t *testing.T) {
	it := &ImportItem{}
	it.SetAction(ActionImport)
	assert.True(t, it.ToImport)

	it.SetAction(ActionIgnore)
	assert.True(t, it.ToIgnore)
	assert.False(t, it.ToImport)
	assert.False(t, it.ToExtract)
	assert.False(t, it.ToExpand)
}

func TestStem(t *testing.T) {
	assert.Equal(t, "a", Stem("a.7z"))
	assert.Equal(t, "outer/inner", Stem("outer/inner.zip"))
	assert.Equal(t, "noext", Stem("noext"))
}

func TestChildNamesTopLevel(t *testing.T) {
	parent := &ImportItem{Name: "bundle.zip"}
	name, fullName := ChildNames(parent, "rows.csv")
	assert.Equal(t, "rows.csv", name)
	assert.Equal(t, "bundle/rows.csv", fullName)
}

func TestChildNamesNested(t *testing.T) {
	outer := &ImportItem{Name: "outer.zip"}
	_, outerFull := ChildNames(outer, "inner.zip")
	assert.Equal(t, "outer/inner.zip", outerFull)

	inner := &ImportItem{Name: "inner.zip", FullName: outerFull}
	_, innerFull := ChildNames(inner, "data.xml")
	assert.Equal(t, "outer/inner/data.xml", innerFull)
}

func TestChildNamesPrefixSubItem(t *testing.T) {
	parent := &ImportItem{Name: "bundle.zip", PrefixSubItem: true}
	name, fullName := ChildNames(parent, "rows.csv")
	assert.Equal(t, "bundle/rows.csv", name)
	assert.Equal(t, "bundle/rows.csv", fullName)
}

func TestParseProvenance(t *testing.T) {
	it := &ImportItem{}
	ParseProvenance(it, `C:\out\NTFSInfo_HOST01_x64_20260115120000.csv`)
	assert.Equal(t, "HOST01", it.ComputerName)
	assert.Equal(t, "x64", it.SystemType)
	assert.Equal(t, "20260115120000", it.TimeStamp)
}

func TestParseProvenanceNoMatch(t *testing.T) {
	it := &ImportItem{}
	ParseProvenance(it, "random.csv")
	assert.Equal(t, "", it.ComputerName)
}
