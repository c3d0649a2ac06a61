// Package importagent implements the import agent orchestrator: the
// component that receives ImportItems, dispatches each through the right
// sequence of decode/expand/extract/import steps, and drains to quiescence.
// The scheduling loop and worker fan-out generalize a dispatcher's worker
// loop and statsUpdater ticker pattern from a batching-timer loop to a
// sync.WaitGroup-backed task group, charging and releasing byte budgets
// exactly once per item and signalling quiescence through a Complete
// sentinel once every outstanding item has reached a terminal outcome.
package importagent

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"orc-import/internal/archive"
	"orc-import/internal/bytesem"
	"orc-import/internal/classify"
	"orc-import/internal/envelope"
	"orc-import/internal/metrics"
	"orc-import/internal/notify"
	"orc-import/internal/orcstream"
	"orc-import/internal/tableagent"
	"orc-import/pkg/model"
	"orc-import/pkg/orcerrors"
)

// quiescenceTick is how often the orchestrator samples its in-flight
// counter to decide whether to self-enqueue a Complete request.
const quiescenceTick = 500 * time.Millisecond

// Agent is the import pipeline orchestrator.
type Agent struct {
	logger *logrus.Logger

	memSem  *bytesem.Semaphore
	diskSem *bytesem.Semaphore

	defs  *model.DefinitionTable
	cache *classify.Cache

	keys envelope.KeyStore

	notifier *notify.Channel

	outputs Outputs

	tableAgents map[string]*tableagent.Agent
	dummyAgent  *tableagent.Agent

	ctx    context.Context
	cancel context.CancelFunc
	taskWG sync.WaitGroup

	inFlight int64

	completeOnce  sync.Once
	completeCh    chan struct{}
	quiescentDone chan struct{}

	statsMu sync.Mutex
	stats   map[string]*TableStats
}

// TableStats counts terminal outcomes observed for one table (or "" for
// items with no table).
type TableStats struct {
	Imported  int64
	Extracted int64
	Failed    int64
}

// NewAgent creates an orchestrator. defs and cache drive classification;
// keys (optional, may be nil) resolves envelope decryption; logger must be
// non-nil.
func NewAgent(defs *model.DefinitionTable, cache *classify.Cache, keys envelope.KeyStore, notifier *notify.Channel, logger *logrus.Logger) *Agent {
	ctx, cancel := context.WithCancel(context.Background())
	return &Agent{
		logger:        logger,
		defs:          defs,
		cache:         cache,
		keys:          keys,
		notifier:      notifier,
		tableAgents:   make(map[string]*tableagent.Agent),
		ctx:           ctx,
		cancel:        cancel,
		completeCh:    make(chan struct{}, 1),
		quiescentDone: make(chan struct{}),
		stats:         make(map[string]*TableStats),
	}
}

// InitializeOutputs stores and creates the four output directories.
func (a *Agent) InitializeOutputs(outputs Outputs) error {
	if err := outputs.ensureDirs(); err != nil {
		return orcerrors.Wrap(orcerrors.CodeIOFailed, "importagent", "InitializeOutputs", err)
	}
	a.outputs = outputs
	return nil
}

// InitializeTables builds one per-table agent per description, plus one
// dummy agent (table name "") that accepts items with no table. A failure
// to start any agent here is fatal to the whole pipeline.
func (a *Agent) InitializeTables(tables []*model.TableDescription, writer model.TableWriter) error {
	for _, t := range tables {
		agent := tableagent.NewAgent(t, writer, a.logger, tableagent.Config{})
		if err := agent.Start(); err != nil {
			return orcerrors.Wrap(orcerrors.CodeIOFailed, "importagent", "InitializeTables", err)
		}
		a.tableAgents[t.Name] = agent
	}

	dummyDesc := &model.TableDescription{Name: "", Disposition: model.DispositionAsIs, Concurrency: 1}
	dummy := tableagent.NewAgent(dummyDesc, writer, a.logger, tableagent.Config{})
	if err := dummy.Start(); err != nil {
		return orcerrors.Wrap(orcerrors.CodeIOFailed, "importagent", "InitializeTables", err)
	}
	a.dummyAgent = dummy

	go a.runQuiescenceTicker()
	return nil
}

// Budgets wires the orchestrator's two byte-budget semaphores. Must be
// called before SendRequest.
func (a *Agent) Budgets(mem, disk *bytesem.Semaphore) {
	a.memSem = mem
	a.diskSem = disk
}

// SendRequest is the public entry point: classify item, drop it silently
// if it classifies to Ignore (an ignored item is dropped before any bytes
// are charged and emits no terminal notification), otherwise charge byte
// budgets, increment in-flight, and dispatch per its Format/action.
// Re-entrant: dispatch steps that produce further items (envelope decode,
// archive expansion) call SendRequest again for each derived item.
func (a *Agent) SendRequest(ctx context.Context, item *model.ImportItem) error {
	classifyIfNeeded(a.defs, a.cache, item)
	if item.ToIgnore {
		return nil
	}

	if err := a.charge(ctx, item); err != nil {
		return err
	}
	atomic.AddInt64(&a.inFlight, 1)
	metrics.ItemsInFlight.Inc()
	item.ImportStart = time.Now()

	a.taskWG.Add(1)
	go func() {
		defer a.taskWG.Done()
		a.process(ctx, item)
	}()
	return nil
}

// charge acquires byte budget for item based on whichever payload kind it
// carries: a memory-resident TempBuffer charges the memory budget, a
// disk-resident one charges the disk-spill budget. Items with no payload
// (already extracted) or a zero size charge nothing.
func (a *Agent) charge(ctx context.Context, item *model.ImportItem) error {
	size, err := payloadSize(item)
	if err != nil {
		return orcerrors.Wrap(orcerrors.CodeIOFailed, "importagent", "charge", err)
	}
	if size == 0 {
		return nil
	}

	if tb, ok := item.Payload.(*orcstream.TempBuffer); ok && tb.IsFileStream() {
		if a.diskSem != nil {
			if err := a.diskSem.Acquire(ctx, uint64(size)); err != nil {
				return err
			}
		}
		item.FileBytesCharged = uint64(size)
		return nil
	}

	if a.memSem != nil {
		if err := a.memSem.Acquire(ctx, uint64(size)); err != nil {
			return err
		}
	}
	item.MemBytesCharged = uint64(size)
	return nil
}

func payloadSize(item *model.ImportItem) (int64, error) {
	if item.Payload == nil {
		return 0, nil
	}
	return item.Payload.Size()
}

// release gives back whichever budget is outstanding for item and
// decrements in-flight. Each terminal path calls it exactly once. It zeroes
// the item's charges, so a second call would release no bytes, but it has
// no guard against a second call and would decrement in-flight again.
func (a *Agent) release(item *model.ImportItem) {
	if item.MemBytesCharged > 0 && a.memSem != nil {
		a.memSem.Release(item.MemBytesCharged)
	}
	if item.FileBytesCharged > 0 && a.diskSem != nil {
		a.diskSem.Release(item.FileBytesCharged)
	}
	item.MemBytesCharged = 0
	item.FileBytesCharged = 0
	atomic.AddInt64(&a.inFlight, -1)
	metrics.ItemsInFlight.Dec()
}

// process dispatches item by Format/action and
// always reaches exactly one terminal notification + release. item has
// already been classified and charged by SendRequest; Ignore never
// reaches here.
func (a *Agent) process(ctx context.Context, item *model.ImportItem) {
	switch item.Format {
	case model.FormatEnvelopped:
		a.handleEnvelopped(ctx, item)
	case model.FormatArchive:
		if item.ToExpand {
			a.handleExpand(ctx, item)
		} else if item.ToExtract {
			a.handleExtract(ctx, item)
		} else {
			a.finishFailure(item, model.NotificationExtract, orcerrors.New(orcerrors.CodeNoMatch, "importagent", "process", "archive item classified to neither extract nor expand"))
		}
	default:
		if item.ToExtract {
			a.handleExtract(ctx, item)
		} else if item.ToImport {
			a.handleImport(ctx, item)
		} else {
			a.finishFailure(item, model.NotificationImport, orcerrors.New(orcerrors.CodeNoMatch, "importagent", "process", "leaf item classified to neither extract nor import"))
		}
	}
}

func classifyIfNeeded(defs *model.DefinitionTable, cache *classify.Cache, item *model.ImportItem) {
	if item.Definition != nil {
		return
	}
	var action model.Action
	var entry *model.DefinitionEntry
	if cache != nil {
		action, entry = cache.Classify(defs, item.Name)
	} else {
		action, entry = classify.Classify(defs, item.Name)
	}
	item.Definitions = defs
	item.Definition = entry
	item.SetAction(action)
}

// handleEnvelopped runs the envelope decode, then re-enters SendRequest on
// the resulting plaintext item (which will be an Archive or a leaf
// format). This is the one case where
// the outer charge is released and the derived item is independently
// charged and submitted, since the decoded plaintext size is generally
// different from the sealed message's size.
func (a *Agent) handleEnvelopped(ctx context.Context, item *model.ImportItem) {
	if a.keys == nil {
		a.finishFailure(item, model.NotificationDecrypt, orcerrors.New(orcerrors.CodeInvalidArgument, "importagent", "handleEnvelopped", "no key store configured"))
		return
	}

	plaintext, subject, err := envelope.Decode(ctx, item.Payload.(orcstream.Stream), a.keys)
	if err != nil {
		a.finishFailure(item, model.NotificationDecrypt, err)
		return
	}
	a.logger.WithFields(logrus.Fields{"name": item.Name, "signer": subject}).Debug("envelope decoded")

	finalStream := plaintext
	isJournal, err := envelope.DetectJournal(plaintext)
	if err != nil {
		a.finishFailure(item, model.NotificationDecrypt, err)
		return
	}
	if isJournal {
		replayed := orcstream.NewTempBuffer(a.outputs.TempDir, journalMemoryThreshold)
		if err := envelope.ReplayJournal(plaintext, replayed); err != nil {
			a.finishFailure(item, model.NotificationDecrypt, err)
			return
		}
		finalStream = replayed
	}

	// The decoded payload is named by dropping the envelope's own extension
	// (e.g. "a.zip.p7" -> "a.zip"), so it is triaged by its inner format.
	derived := &model.ImportItem{
		Name:          strings.TrimSuffix(item.Name, filepath.Ext(item.Name)),
		FullName:      strings.TrimSuffix(item.FullName, filepath.Ext(item.FullName)),
		InputFile:     item.InputFile,
		Payload:       finalStream,
		ComputerName:  item.ComputerName,
		SystemType:    item.SystemType,
		TimeStamp:     item.TimeStamp,
		PrefixSubItem: true,
	}
	derived.Format = DetectFormat(derived.Name)

	a.notifier.Publish(model.MakeSuccessNotification(model.NotificationDecrypt, item))

	if err := a.SendRequest(ctx, derived); err != nil {
		a.logger.WithError(err).Warn("failed to re-submit decoded envelope payload")
	}
	a.release(item)
}

const journalMemoryThreshold = 8 << 20 // 8 MiB

// handleExpand runs the archive extractor over item's payload, and for
// each accepted entry builds a TempBuffer, populates a child ImportItem,
// and re-enters SendRequest. Nested
// archives are never flattened: a child classified Extract/Expand is
// simply re-enqueued for its own pass.
func (a *Agent) handleExpand(ctx context.Context, item *model.ImportItem) {
	container := detectContainer(item.Name, item.Payload)
	if container == archive.ContainerUnknown {
		a.finishFailure(item, model.NotificationExtract, orcerrors.New(orcerrors.CodeUnrecognizedFormat, "importagent", "handleExpand", "unrecognized archive format"))
		return
	}

	var bytesExtracted uint64
	var childErrs []error

	err := archive.Extract(ctx, container, item.Payload.(io.Reader), archive.Options{
		ShouldExtract: func(e archive.Entry) bool {
			return !classify.IsToIgnore(a.defs, e.NameInArchive)
		},
		SinkFor: func(e archive.Entry) (io.WriteCloser, error) {
			return newMemberSink(a, item, e)
		},
		OnComplete: func(e archive.Entry, err error) {
			if err != nil {
				childErrs = append(childErrs, err)
				return
			}
			bytesExtracted += uint64(e.Size)
		},
		Logger: a.logger,
	})

	item.BytesExtracted = bytesExtracted
	if err != nil {
		a.finishFailure(item, model.NotificationExtract, err)
		return
	}
	if len(childErrs) > 0 {
		a.logger.WithField("name", item.Name).Warnf("%d archive member(s) failed to extract", len(childErrs))
	}

	item.ImportEnd = time.Now()
	a.notifier.Publish(model.MakeSuccessNotification(model.NotificationExtract, item))
	a.release(item)
}

// memberSink buffers one extracted archive member into a TempBuffer and,
// on Close, re-submits it as a child ImportItem.
type memberSink struct {
	agent  *Agent
	parent *model.ImportItem
	entry  archive.Entry
	buf    *orcstream.TempBuffer
}

func newMemberSink(a *Agent, parent *model.ImportItem, e archive.Entry) (io.WriteCloser, error) {
	return &memberSink{
		agent:  a,
		parent: parent,
		entry:  e,
		buf:    orcstream.NewTempBuffer(a.outputs.TempDir, journalMemoryThreshold),
	}, nil
}

func (s *memberSink) Write(p []byte) (int, error) { return s.buf.Write(p) }

func (s *memberSink) Close() error {
	if _, err := s.buf.Seek(0, io.SeekStart); err != nil {
		return err
	}
	name, fullName := archive.ChildNames(s.parent, s.entry.NameInArchive)
	child := &model.ImportItem{
		Name:          name,
		FullName:      fullName,
		InputFile:     s.parent.InputFile,
		Payload:       s.buf,
		ComputerName:  s.parent.ComputerName,
		SystemType:    s.parent.SystemType,
		TimeStamp:     s.parent.TimeStamp,
		PrefixSubItem: true,
	}
	child.Format = DetectFormat(child.Name)
	if err := s.agent.SendRequest(s.agent.ctx, child); err != nil {
		s.agent.logger.WithError(err).Warn("failed to submit extracted archive member")
		return err
	}
	return nil
}

// handleExtract writes item's payload to extractOutput/<fullName>,
// preferring os.Rename when the payload is a file-backed TempBuffer.
func (a *Agent) handleExtract(ctx context.Context, item *model.ImportItem) {
	dest := filepath.Join(a.outputs.ExtractDir, item.FullName)

	if tb, ok := item.Payload.(*orcstream.TempBuffer); ok && tb.IsFileStream() {
		if err := tb.MoveTo(dest); err != nil {
			a.finishFailure(item, model.NotificationExtract, err)
			return
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			a.finishFailure(item, model.NotificationExtract, orcerrors.Wrap(orcerrors.CodeIOFailed, "importagent", "handleExtract", err))
			return
		}
		f, err := os.Create(dest)
		if err != nil {
			a.finishFailure(item, model.NotificationExtract, orcerrors.Wrap(orcerrors.CodeIOFailed, "importagent", "handleExtract", err))
			return
		}
		n, copyErr := item.Payload.(orcstream.Stream).CopyTo(f)
		f.Close()
		if copyErr != nil {
			a.finishFailure(item, model.NotificationExtract, orcerrors.Wrap(orcerrors.CodeIOFailed, "importagent", "handleExtract", copyErr))
			return
		}
		item.BytesExtracted = uint64(n)
	}

	item.OutputFile = dest
	item.ImportEnd = time.Now()
	a.notifier.Publish(model.MakeSuccessNotification(model.NotificationExtract, item))
	a.bumpStat(item, true)
	a.release(item)
}

// handleImport routes item to its per-table agent (or the dummy agent if
// it has none), parsing CSV content into rows first.
func (a *Agent) handleImport(ctx context.Context, item *model.ImportItem) {
	tableName := ""
	if item.Definition != nil && item.Definition.Table != nil {
		tableName = item.Definition.Table.Name
	}
	agent := a.dummyAgent
	if tableName != "" {
		if ta, ok := a.tableAgents[tableName]; ok {
			agent = ta
		}
	}

	var rows [][]string
	if item.Format == model.FormatCSV {
		_, parsed, err := tableagent.ParseCSV(item.Payload.(io.Reader))
		if err != nil {
			a.finishFailure(item, model.NotificationImport, err)
			return
		}
		rows = parsed
	}

	if err := agent.Submit(ctx, tableagent.RowTask{ID: item.FullName, Item: item, Rows: rows}); err != nil {
		a.finishFailure(item, model.NotificationImport, err)
		return
	}

	item.LinesImported = uint64(len(rows))
	item.ImportEnd = time.Now()
	a.notifier.Publish(model.MakeSuccessNotification(model.NotificationImport, item))
	a.bumpStat(item, false)
	a.release(item)
}

func (a *Agent) finishFailure(item *model.ImportItem, kind model.NotificationType, err error) {
	item.ImportEnd = time.Now()
	a.notifier.Publish(model.MakeFailureNotification(kind, item, err))
	a.statsMu.Lock()
	tableName := ""
	if item.Definition != nil && item.Definition.Table != nil {
		tableName = item.Definition.Table.Name
	}
	s := a.statFor(tableName)
	s.Failed++
	a.statsMu.Unlock()
	a.release(item)
}

func (a *Agent) bumpStat(item *model.ImportItem, extracted bool) {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	tableName := ""
	if item.Definition != nil && item.Definition.Table != nil {
		tableName = item.Definition.Table.Name
	}
	s := a.statFor(tableName)
	if extracted {
		s.Extracted++
	} else {
		s.Imported++
	}
}

func (a *Agent) statFor(table string) *TableStats {
	s, ok := a.stats[table]
	if !ok {
		s = &TableStats{}
		a.stats[table] = s
	}
	return s
}

// Statistics returns a snapshot of per-table item counts.
func (a *Agent) Statistics() map[string]TableStats {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	out := make(map[string]TableStats, len(a.stats))
	for k, v := range a.stats {
		out[k] = *v
	}
	return out
}

// QueuedItemsCount returns the current in-flight item count.
func (a *Agent) QueuedItemsCount() int64 {
	return atomic.LoadInt64(&a.inFlight)
}

func (a *Agent) runQuiescenceTicker() {
	ticker := time.NewTicker(quiescenceTick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if atomic.LoadInt64(&a.inFlight) == 0 {
				select {
				case a.completeCh <- struct{}{}:
				default:
				}
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// FinalizeTables waits for the pipeline to reach quiescence (idempotently:
// multiple calls, or multiple internal Complete signals, are a no-op after
// the first), then joins every per-table agent so their after-statements
// run exactly once.
func (a *Agent) FinalizeTables(ctx context.Context) error {
	select {
	case <-a.quiescentDone:
		return nil
	default:
	}

	select {
	case <-a.completeCh:
	case <-a.quiescentDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	var finalizeErr error
	a.completeOnce.Do(func() {
		a.taskWG.Wait()
		a.cancel()

		for name, ta := range a.tableAgents {
			if err := ta.Stop(); err != nil {
				a.logger.WithError(err).WithField("table", name).Warn("table agent stop failed")
				finalizeErr = err
			}
		}
		if a.dummyAgent != nil {
			if err := a.dummyAgent.Stop(); err != nil {
				finalizeErr = err
			}
		}
		close(a.quiescentDone)
	})
	<-a.quiescentDone
	return finalizeErr
}

// DetectFormat derives an ImportItem's Format from its name's extension.
func DetectFormat(name string) model.Format {
	ext := filepath.Ext(name)
	switch ext {
	case ".csv":
		return model.FormatCSV
	case ".xml":
		return model.FormatXML
	case ".hve", ".reg":
		return model.FormatRegistryHive
	case ".evtx":
		return model.FormatEventLog
	case ".zip", ".tar", ".gz", ".tgz", ".zst", ".7z":
		return model.FormatArchive
	case ".p7", ".cms":
		return model.FormatEnvelopped
	default:
		return model.FormatData
	}
}

func detectContainer(name string, payload model.Stream) archive.Container {
	peek := make([]byte, 16)
	if r, ok := payload.(io.Reader); ok {
		n, _ := r.Read(peek)
		peek = peek[:n]
		if seeker, ok := payload.(io.Seeker); ok {
			seeker.Seek(-int64(n), io.SeekCurrent)
		}
	}
	return archive.GetArchiveFormat(name, peek)
}
