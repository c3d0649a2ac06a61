// Command orc-import is a thin demonstration binary wiring the import
// pipeline's components together: load configuration, start the
// orchestrator and its per-table agents, walk an input directory enqueuing
// one ImportItem per file, and block until the pipeline quiesces. A real
// front-end (the collection tool that actually produces these inputs) is
// out of scope; this exists to exercise the wiring end to end.
package main

import (
	"context"
	"flag"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"orc-import/internal/bytesem"
	"orc-import/internal/classify"
	"orc-import/internal/config"
	"orc-import/internal/importagent"
	"orc-import/internal/notify"
	"orc-import/internal/orcstream"
	"orc-import/internal/tableagent"
	"orc-import/pkg/model"
)

func main() {
	configPath := flag.String("config", "orc-import.yaml", "path to the pipeline configuration file")
	inputDir := flag.String("input", "", "directory to walk for input files")
	outputDir := flag.String("output", "./orc-import-output", "root output directory")
	metricsAddr := flag.String("metrics-addr", ":9112", "address to serve Prometheus metrics on")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}

	defs, err := config.BuildDefinitionTable(cfg)
	if err != nil {
		logger.WithError(err).Fatal("failed to build definition table")
	}

	notifier := notify.NewChannel(logger)
	notifier.Subscribe(func(n *model.Notification) {
		logger.WithFields(logrus.Fields{
			"type":   n.Type,
			"status": n.Status,
			"name":   n.ItemName,
			"table":  n.Table,
		}).Info("notification")
	})

	agent := importagent.NewAgent(defs, classify.NewCache(), nil, notifier, logger)
	agent.Budgets(bytesem.New(cfg.Budgets.MemoryBytes), bytesem.New(cfg.Budgets.DiskSpillBytes))

	outputs := importagent.Outputs{
		OutputDir:  *outputDir,
		ImportDir:  filepath.Join(*outputDir, "import"),
		ExtractDir: coalesce(cfg.Outputs.ExtractDir, filepath.Join(*outputDir, "extract")),
		TempDir:    coalesce(cfg.Outputs.TempDir, filepath.Join(*outputDir, "tmp")),
	}
	if err := agent.InitializeOutputs(outputs); err != nil {
		logger.WithError(err).Fatal("failed to initialize output directories")
	}

	var tables []*model.TableDescription
	for _, e := range defs.Entries {
		if e.Table != nil {
			tables = append(tables, e.Table)
		}
	}
	writer := tableagent.NewCSVTableWriter(filepath.Join(*outputDir, "tables"))
	if err := agent.InitializeTables(tables, writer); err != nil {
		logger.WithError(err).Fatal("failed to initialize table agents")
	}

	watcher, err := config.WatchDefinitions(*configPath, logger, func(dt *model.DefinitionTable) {
		logger.Info("definition table hot-reloaded; restart required to apply to the running agent")
	})
	if err != nil {
		logger.WithError(err).Warn("definition hot-reload unavailable")
	} else {
		defer watcher.Close()
	}

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			logger.WithError(err).Warn("metrics server stopped")
		}
	}()

	ctx := context.Background()
	if *inputDir != "" {
		if err := enqueueDirectory(ctx, agent, *inputDir, outputs.TempDir, logger); err != nil {
			logger.WithError(err).Fatal("failed to walk input directory")
		}
	}

	if err := agent.FinalizeTables(ctx); err != nil {
		logger.WithError(err).Fatal("pipeline did not finalize cleanly")
	}

	for table, stats := range agent.Statistics() {
		logger.WithFields(logrus.Fields{
			"table":     table,
			"imported":  stats.Imported,
			"extracted": stats.Extracted,
			"failed":    stats.Failed,
		}).Info("table agent final stats")
	}
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// enqueueDirectory walks dir and submits one ImportItem per regular file
// found, with its payload staged through a TempBuffer backed by tempDir.
func enqueueDirectory(ctx context.Context, agent *importagent.Agent, dir, tempDir string, logger *logrus.Logger) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = path
		}

		f, err := os.Open(path)
		if err != nil {
			logger.WithError(err).WithField("path", path).Warn("failed to open input file")
			return nil
		}
		defer f.Close()

		buf := orcstream.NewTempBuffer(tempDir, 8<<20)
		if _, err := io.Copy(buf, f); err != nil {
			logger.WithError(err).WithField("path", path).Warn("failed to stage input file")
			return nil
		}
		if _, err := buf.Seek(0, io.SeekStart); err != nil {
			logger.WithError(err).WithField("path", path).Warn("failed to rewind staged input file")
			return nil
		}

		item := &model.ImportItem{
			Name:      filepath.Base(path),
			FullName:  filepath.ToSlash(rel),
			InputFile: path,
			Payload:   buf,
			Format:    importagent.DetectFormat(path),
		}
		model.ParseProvenance(item, path)

		if err := agent.SendRequest(ctx, item); err != nil {
			logger.WithError(err).WithField("path", path).Warn("failed to submit input file")
		}
		return nil
	})
}

