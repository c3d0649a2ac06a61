// Package tableagent implements the per-table import agent: one Agent
// per TableDescription, each owning a bounded worker pool sized to the
// table's Concurrency (worker goroutines + dispatcher goroutine + task
// channel), generalized from executing an arbitrary task to appending one
// ImportItem's rows to this agent's table.
package tableagent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"orc-import/internal/metrics"
	"orc-import/pkg/model"
	"orc-import/pkg/orcerrors"
)

// RowTask is one unit of work: append rows parsed from item to table via
// writer.
type RowTask struct {
	ID      string
	Item    *model.ImportItem
	Rows    [][]string
	Created time.Time

	// done carries the write outcome back to Submit's caller; set by
	// Submit itself, never by callers constructing a RowTask.
	done chan error
}

// Config controls an Agent's worker pool sizing and timeouts.
type Config struct {
	QueueSize       int
	WorkerTimeout   time.Duration
	ShutdownTimeout time.Duration
}

func (c *Config) applyDefaults(concurrency int) {
	if c.QueueSize <= 0 {
		c.QueueSize = concurrency * 10
	}
	if c.WorkerTimeout == 0 {
		c.WorkerTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

type worker struct {
	id       int
	agent    *Agent
	taskChan chan RowTask
	active   int64
}

// Agent owns one destination table's concurrent writers.
type Agent struct {
	table  *model.TableDescription
	writer model.TableWriter
	logger *logrus.Logger
	config Config

	workers   []*worker
	taskQueue chan RowTask
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	totalTasks     int64
	completedTasks int64
	failedTasks    int64

	mu        sync.Mutex
	isRunning bool
}

// NewAgent creates an Agent for table, writing through writer. Concurrency
// of 0 or less is treated as 1.
func NewAgent(table *model.TableDescription, writer model.TableWriter, logger *logrus.Logger, cfg Config) *Agent {
	concurrency := table.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	cfg.applyDefaults(concurrency)

	ctx, cancel := context.WithCancel(context.Background())
	a := &Agent{
		table:     table,
		writer:    writer,
		logger:    logger,
		config:    cfg,
		taskQueue: make(chan RowTask, cfg.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
		workers:   make([]*worker, 0, concurrency),
	}
	for i := 0; i < concurrency; i++ {
		a.workers = append(a.workers, &worker{id: i, agent: a, taskChan: make(chan RowTask, 1)})
	}
	return a
}

// Start prepares the destination table and launches the worker pool.
func (a *Agent) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.isRunning {
		return nil
	}

	if err := a.writer.Prepare(a.table); err != nil {
		return orcerrors.Wrap(orcerrors.CodeIOFailed, "tableagent", "Start", err)
	}

	a.logger.WithFields(logrus.Fields{
		"table":       a.table.Name,
		"concurrency": len(a.workers),
	}).Info("starting table agent")

	for _, w := range a.workers {
		a.wg.Add(1)
		go w.run()
	}
	a.wg.Add(1)
	go a.dispatch()

	a.isRunning = true
	return nil
}

// Stop cancels the pool's context, waits up to ShutdownTimeout for the
// dispatcher and workers to exit, and closes the writer. Tasks still queued
// when Stop is called are not written.
func (a *Agent) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.isRunning {
		return nil
	}

	a.cancel()
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(a.config.ShutdownTimeout):
		a.logger.WithField("table", a.table.Name).Warn("table agent shutdown timeout")
	}

	a.isRunning = false
	return a.writer.Close(a.table)
}

// Submit enqueues task for this table's workers and blocks until a worker
// has actually written its rows (or failed to), so the caller's own
// terminal notification for the source item reflects what was really
// persisted rather than merely queued.
func (a *Agent) Submit(ctx context.Context, task RowTask) error {
	task.Created = time.Now()
	task.done = make(chan error, 1)
	atomic.AddInt64(&a.totalTasks, 1)

	select {
	case a.taskQueue <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-a.ctx.Done():
		return a.ctx.Err()
	}

	select {
	case err := <-task.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-a.ctx.Done():
		return a.ctx.Err()
	}
}

func (a *Agent) dispatch() {
	defer a.wg.Done()
	for {
		select {
		case task := <-a.taskQueue:
			a.assign(task)
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *Agent) assign(task RowTask) {
	for _, w := range a.workers {
		select {
		case w.taskChan <- task:
			return
		default:
		}
	}
	select {
	case a.workers[0].taskChan <- task:
	case <-a.ctx.Done():
		atomic.AddInt64(&a.failedTasks, 1)
		if task.done != nil {
			task.done <- a.ctx.Err()
		}
	}
}

func (w *worker) run() {
	defer w.agent.wg.Done()
	for {
		select {
		case task := <-w.taskChan:
			w.execute(task)
		case <-w.agent.ctx.Done():
			return
		}
	}
}

func (w *worker) execute(task RowTask) {
	atomic.StoreInt64(&w.active, 1)
	defer atomic.StoreInt64(&w.active, 0)

	taskCtx, cancel := context.WithTimeout(w.agent.ctx, w.agent.config.WorkerTimeout)
	defer cancel()

	start := time.Now()
	var firstErr error
	for _, row := range task.Rows {
		if err := taskCtx.Err(); err != nil {
			firstErr = err
			break
		}
		if err := w.agent.writer.WriteRow(w.agent.table, row); err != nil {
			firstErr = err
			break
		}
	}
	duration := time.Since(start)
	metrics.TableWriteDuration.WithLabelValues(w.agent.table.Name).Observe(duration.Seconds())

	if firstErr != nil {
		atomic.AddInt64(&w.agent.failedTasks, 1)
		w.agent.logger.WithFields(logrus.Fields{
			"table":   w.agent.table.Name,
			"task_id": task.ID,
			"error":   firstErr,
		}).Error("row write failed")
		if task.done != nil {
			task.done <- firstErr
		}
		return
	}
	atomic.AddInt64(&w.agent.completedTasks, 1)
	metrics.TableRowsWrittenTotal.WithLabelValues(w.agent.table.Name).Add(float64(len(task.Rows)))
	if task.done != nil {
		task.done <- nil
	}
}

// Stats reports the agent's counters.
type Stats struct {
	Table          string
	TotalTasks     int64
	CompletedTasks int64
	FailedTasks    int64
	QueuedTasks    int
}

func (a *Agent) Stats() Stats {
	return Stats{
		Table:          a.table.Name,
		TotalTasks:     atomic.LoadInt64(&a.totalTasks),
		CompletedTasks: atomic.LoadInt64(&a.completedTasks),
		FailedTasks:    atomic.LoadInt64(&a.failedTasks),
		QueuedTasks:    len(a.taskQueue),
	}
}

// String satisfies fmt.Stringer for log/debug contexts.
func (a *Agent) String() string {
	return fmt.Sprintf("tableagent.Agent{table=%s}", a.table.Name)
}
