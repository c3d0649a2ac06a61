// Package model defines the core data structures that flow through the
// import pipeline: the unit of work (ImportItem), the routing table that
// classifies it (DefinitionTable), and the description of a destination
// table (TableDescription).
package model

import (
	"regexp"
	"strings"
	"time"
)

// Format classifies the payload an ImportItem currently carries.
type Format string

const (
	FormatEnvelopped  Format = "Envelopped"
	FormatArchive     Format = "Archive"
	FormatCSV         Format = "CSV"
	FormatRegistryHive Format = "RegistryHive"
	FormatEventLog    Format = "EventLog"
	FormatXML         Format = "XML"
	FormatData        Format = "Data"
	FormatText        Format = "Text"
)

// Action is the classification decision produced by the definition table.
type Action string

const (
	ActionIgnore Action = "Ignore"
	ActionImport Action = "Import"
	ActionExtract Action = "Extract"
	ActionExpand  Action = "Expand"
)

// Stream is the minimal random-access byte-stream capability an ImportItem
// needs from its payload; the concrete implementations live in
// internal/orcstream. Declared here (rather than imported) to keep the data
// model free of a dependency on the stream package's concrete types.
type Stream interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Seek(offset int64, whence int) (int64, error)
	Size() (int64, error)
	Close() error
}

// ImportItem is the unit of work carried through the pipeline.
//
// Accounting invariant: at dequeue, Acquire(mem=MemBytesCharged,
// file=FileBytesCharged) has already been issued by the orchestrator; the
// same amounts must be released exactly once, at the item's terminal
// notification.
type ImportItem struct {
	// Identity
	Name     string // display name
	FullName string // relative path, used for extraction
	InputFile string // origin file path, if any

	// Content
	Payload Stream // the item's current bytes; nil for an item with no content

	// Classification
	Format     Format
	ToIgnore   bool
	ToImport   bool
	ToExtract  bool
	ToExpand   bool

	// Provenance, parsed from the origin filename (see ParseProvenance)
	ComputerName string
	SystemType   string
	TimeStamp    string
	ImportStart  time.Time
	ImportEnd    time.Time

	// Routing
	Definitions *DefinitionTable
	Definition  *DefinitionEntry

	// Accounting
	MemBytesCharged  uint64
	FileBytesCharged uint64
	BytesExtracted   uint64
	LinesImported    uint64

	// Output
	OutputFile string

	// bPrefixSubItem: when true, archive members extracted from this item
	// inherit the parent's name stem as a path prefix (see ChildNames).
	PrefixSubItem bool
}

// SetAction derives the four boolean intents from a classifier Action.
// toIgnore dominates: an Ignore action clears every other intent.
func (it *ImportItem) SetAction(a Action) {
	it.ToIgnore, it.ToImport, it.ToExtract, it.ToExpand = false, false, false, false
	switch a {
	case ActionIgnore:
		it.ToIgnore = true
	case ActionImport:
		it.ToImport = true
	case ActionExtract:
		it.ToExtract = true
	case ActionExpand:
		it.ToExpand = true
	}
}

// Stem returns the name without its final extension, e.g. "a.7z" -> "a".
func Stem(name string) string {
	name = strings.TrimRight(name, "/")
	base := name
	if idx := strings.LastIndexByte(name, '/'); idx >= 0 {
		base = name[idx+1:]
	}
	if idx := strings.LastIndexByte(base, '.'); idx > 0 {
		return name[:len(name)-len(base)+idx]
	}
	return name
}

// ChildNames computes the Name/FullName of a member extracted from an
// archive, per the naming rule: when the parent has PrefixSubItem
// set, the member's display Name inherits the parent's name stem as an
// extra path component; otherwise it is named directly by its in-archive
// path. FullName always nests under the parent's own FullName (falling
// back to its Name for a top-level item with no FullName yet), so a member
// of a member of a member accumulates the full ancestry chain — Stem
// already retains every directory component up to the final extension, so
// nesting one more level is just one more "/<name>" appended to it.
func ChildNames(parent *ImportItem, nameInArchive string) (name, fullName string) {
	base := parent.FullName
	if base == "" {
		base = parent.Name
	}
	fullName = Stem(base) + "/" + nameInArchive

	if parent.PrefixSubItem {
		name = Stem(parent.Name) + "/" + nameInArchive
	} else {
		name = nameInArchive
	}
	return name, fullName
}

// provenancePattern extracts ComputerName, SystemType and TimeStamp from an
// origin file name of the shape used by the DFIR-Orc collectors, e.g.
// "NTFSInfo_COMPUTERNAME_x64_20260115120000.csv".
var provenancePattern = regexp.MustCompile(`^(?:[A-Za-z0-9]+)_([A-Za-z0-9.\-]+)_(x86|x64|arm64)_(\d{14})`)

// ParseProvenance fills ComputerName/SystemType/TimeStamp on it from
// inputFile's base name. Unmatched input leaves the fields empty; this is
// not an error, the fields are best-effort provenance metadata.
func ParseProvenance(it *ImportItem, inputFile string) {
	base := inputFile
	if idx := strings.LastIndexByte(base, '/'); idx >= 0 {
		base = base[idx+1:]
	}
	if idx := strings.LastIndexByte(base, '\\'); idx >= 0 {
		base = base[idx+1:]
	}
	m := provenancePattern.FindStringSubmatch(base)
	if m == nil {
		return
	}
	it.ComputerName = m[1]
	it.SystemType = m[2]
	it.TimeStamp = m[3]
}
