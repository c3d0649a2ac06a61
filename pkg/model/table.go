package model

import "regexp"

// Disposition controls how a destination table is prepared before import.
type Disposition string

const (
	DispositionAsIs      Disposition = "AsIs"
	DispositionTruncate  Disposition = "Truncate"
	DispositionCreateNew Disposition = "CreateNew"
)

// TableDescription names a destination table and how the import agent
// should prepare and write to it.
type TableDescription struct {
	Name        string
	Disposition Disposition
	Concurrency int // number of table-agent workers; 0 means the default of 1
	Schema      []ColumnDescription
}

// ColumnDescription names one column of a destination table. The per-table
// agent does not read it: CSV rows are written as parsed, without being
// validated or coerced against the columns.
type ColumnDescription struct {
	Name     string
	Type     string // "text", "integer", "real", "blob", "timestamp"
	Nullable bool
}

// DefinitionEntry is a single pattern rule within a DefinitionTable. Entries
// are evaluated in declaration order; the first entry whose Pattern matches
// an item's name wins (first-match-wins).
type DefinitionEntry struct {
	Pattern     string
	compiled    *regexp.Regexp
	Action      Action
	Table       *TableDescription
	PrefixSubItem bool
}

// Compile lazily compiles Pattern into a regular expression. Called once by
// DefinitionTable.Compile(); until Compile succeeds, Match reports false for
// every name.
func (e *DefinitionEntry) Compile() error {
	if e.compiled != nil {
		return nil
	}
	re, err := regexp.Compile(e.Pattern)
	if err != nil {
		return err
	}
	e.compiled = re
	return nil
}

// Match reports whether name matches this entry's compiled pattern.
func (e *DefinitionEntry) Match(name string) bool {
	if e.compiled == nil {
		return false
	}
	return e.compiled.MatchString(name)
}

// DefinitionTable is an ordered list of DefinitionEntry rules used to
// classify ImportItem names into an Action plus optional destination table.
type DefinitionTable struct {
	Name    string
	Entries []*DefinitionEntry
}

// Compile compiles every entry's pattern; returns the first compile error
// encountered, along with the offending entry's pattern in the error text.
func (t *DefinitionTable) Compile() error {
	for _, e := range t.Entries {
		if err := e.Compile(); err != nil {
			return err
		}
	}
	return nil
}

// Match returns the first entry whose pattern matches name, or nil if none
// match (the caller should then default to ActionIgnore).
func (t *DefinitionTable) Match(name string) *DefinitionEntry {
	for _, e := range t.Entries {
		if e.Match(name) {
			return e
		}
	}
	return nil
}
