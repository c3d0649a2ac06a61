package tableagent

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sync"

	"orc-import/pkg/model"
	"orc-import/pkg/orcerrors"
)

// CSVTableWriter is the reference model.TableWriter implementation backed
// by one CSV file per table under dir, since no relational backend is in
// scope (see Non-goals).
type CSVTableWriter struct {
	dir string

	mu      sync.Mutex
	files   map[string]*os.File
	writers map[string]*csv.Writer
}

// NewCSVTableWriter creates a writer that places one file per table under
// dir, named "<table>.csv".
func NewCSVTableWriter(dir string) *CSVTableWriter {
	return &CSVTableWriter{
		dir:     dir,
		files:   make(map[string]*os.File),
		writers: make(map[string]*csv.Writer),
	}
}

func (w *CSVTableWriter) path(table *model.TableDescription) string {
	return filepath.Join(w.dir, table.Name+".csv")
}

// Prepare honors Disposition: AsIs appends to an existing file, Truncate
// empties it first, CreateNew fails if the file already exists.
func (w *CSVTableWriter) Prepare(table *model.TableDescription) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return orcerrors.Wrap(orcerrors.CodeIOFailed, "tableagent", "Prepare", err)
	}

	path := w.path(table)
	var flags int
	switch table.Disposition {
	case model.DispositionAsIs:
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	case model.DispositionTruncate:
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	case model.DispositionCreateNew:
		flags = os.O_CREATE | os.O_WRONLY | os.O_EXCL
	default:
		return orcerrors.New(orcerrors.CodeInvalidArgument, "tableagent", "Prepare", "unknown disposition")
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return orcerrors.Wrap(orcerrors.CodeIOFailed, "tableagent", "Prepare", err)
	}
	w.files[table.Name] = f
	w.writers[table.Name] = csv.NewWriter(f)
	return nil
}

// WriteRow writes one CSV row; safe for concurrent callers against the same
// table, serialized behind CSVTableWriter's mutex (the underlying
// csv.Writer is not itself concurrency-safe).
func (w *CSVTableWriter) WriteRow(table *model.TableDescription, row []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	cw, ok := w.writers[table.Name]
	if !ok {
		return orcerrors.New(orcerrors.CodeInvalidArgument, "tableagent", "WriteRow", "table not prepared: "+table.Name)
	}
	if err := cw.Write(row); err != nil {
		return orcerrors.Wrap(orcerrors.CodeIOFailed, "tableagent", "WriteRow", err)
	}
	cw.Flush()
	return cw.Error()
}

// Close flushes and closes the file backing table.
func (w *CSVTableWriter) Close(table *model.TableDescription) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if cw, ok := w.writers[table.Name]; ok {
		cw.Flush()
		delete(w.writers, table.Name)
	}
	if f, ok := w.files[table.Name]; ok {
		delete(w.files, table.Name)
		if err := f.Close(); err != nil {
			return orcerrors.Wrap(orcerrors.CodeIOFailed, "tableagent", "Close", err)
		}
	}
	return nil
}
