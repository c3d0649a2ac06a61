package tableagent

import (
	"encoding/csv"
	"io"
	"time"

	"orc-import/pkg/orcerrors"
)

// ParseCSV reads all rows from r using the standard CSV dialect (comma
// separator, quoted fields). The header row, if present, is returned
// separately from the data rows so callers can decide whether to use it.
func ParseCSV(r io.Reader) (header []string, rows [][]string, err error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	all, err := cr.ReadAll()
	if err != nil {
		return nil, nil, orcerrors.Wrap(orcerrors.CodeDecodeFailed, "tableagent", "ParseCSV", err)
	}
	if len(all) == 0 {
		return nil, nil, nil
	}
	return all[0], all[1:], nil
}

// HiveRecord is one parsed value node from a registry hive, as surfaced by
// a HiveWalker.
type HiveRecord struct {
	KeyPath   string
	ValueName string
	ValueKind string
	Data      []byte
}

// HiveWalker is the external collaborator that walks a registry hive file
// and yields value records; registry-hive collectors are treated as external
// to this module's scope, so only the interface and a stub sufficient for
// tests are shipped here.
type HiveWalker interface {
	Walk(path string, emit func(HiveRecord) error) error
}

// EventLogRecord is one parsed record from a Windows Event Log file.
type EventLogRecord struct {
	RecordID  uint64
	Timestamp time.Time
	Channel   string
	EventID   int
	Message   string
}

// EventLogReader is the external collaborator that walks an .evtx-family
// file and yields records.
type EventLogReader interface {
	Read(path string, emit func(EventLogRecord) error) error
}

// StubHiveWalker is a no-op HiveWalker sufficient for tests and the demo
// binary: it reports no records and no error for any path.
type StubHiveWalker struct{}

func (StubHiveWalker) Walk(path string, emit func(HiveRecord) error) error { return nil }

// StubEventLogReader is the EventLogReader analogue of StubHiveWalker.
type StubEventLogReader struct{}

func (StubEventLogReader) Read(path string, emit func(EventLogRecord) error) error { return nil }
