// Package config loads the import pipeline's YAML configuration: table
// descriptions, the definition table, and output directory locations,
// layered as file load -> defaults -> validate, using gopkg.in/yaml.v2.
package config

import (
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"orc-import/pkg/model"
	"orc-import/pkg/orcerrors"
)

// TableConfig is the on-disk shape of one destination table entry.
type TableConfig struct {
	Name        string `yaml:"name"`
	Disposition string `yaml:"disposition"`
	Concurrency int    `yaml:"concurrency"`
	Compress    bool   `yaml:"compress"`
	TableLock   bool   `yaml:"tableLock"`
}

// DefinitionConfig is the on-disk shape of one classifier rule.
type DefinitionConfig struct {
	Pattern  string `yaml:"pattern"`
	Action   string `yaml:"action"`
	Table    string `yaml:"table,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// OutputConfig names the four output directory locations.
type OutputConfig struct {
	ExtractDir string `yaml:"extractDir"`
	ImportDir  string `yaml:"importDir"`
	TempDir    string `yaml:"tempDir"`
	LogDir     string `yaml:"logDir"`
}

// BudgetConfig sets the byte-budget semaphore capacities.
type BudgetConfig struct {
	MemoryBytes    uint64 `yaml:"memoryBytes"`
	DiskSpillBytes uint64 `yaml:"diskSpillBytes"`
}

// Config is the root configuration document.
type Config struct {
	Tables      []TableConfig      `yaml:"tables"`
	Definitions []DefinitionConfig `yaml:"definitions"`
	Outputs     OutputConfig       `yaml:"outputs"`
	Budgets     BudgetConfig       `yaml:"budgets"`
}

const (
	defaultMemoryBudget    uint64 = 40 << 30  // 40 GiB
	defaultDiskSpillBudget uint64 = 100 << 30 // 100 GiB
	defaultConcurrency            = 1
)

// LoadConfig reads and parses configFile, applying defaults for anything
// the document leaves unset.
func LoadConfig(configFile string) (*Config, error) {
	raw, err := os.ReadFile(configFile)
	if err != nil {
		return nil, orcerrors.Wrap(orcerrors.CodeIOFailed, "config", "LoadConfig", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, orcerrors.Wrap(orcerrors.CodeInvalidData, "config", "LoadConfig", err)
	}

	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Budgets.MemoryBytes == 0 {
		cfg.Budgets.MemoryBytes = defaultMemoryBudget
	}
	if cfg.Budgets.DiskSpillBytes == 0 {
		cfg.Budgets.DiskSpillBytes = defaultDiskSpillBudget
	}
	if cfg.Outputs.TempDir == "" {
		cfg.Outputs.TempDir = os.TempDir()
	}
	for i := range cfg.Tables {
		if cfg.Tables[i].Concurrency <= 0 {
			cfg.Tables[i].Concurrency = defaultConcurrency
		}
		if cfg.Tables[i].Disposition == "" {
			cfg.Tables[i].Disposition = string(model.DispositionAsIs)
		}
	}
}

// Validate checks the document for structural errors applyDefaults cannot
// paper over: unknown dispositions/actions, definitions naming a table that
// doesn't exist.
func Validate(cfg *Config) error {
	tableNames := make(map[string]bool, len(cfg.Tables))
	for _, tc := range cfg.Tables {
		if tc.Name == "" {
			return orcerrors.New(orcerrors.CodeInvalidArgument, "config", "Validate", "table entry missing name")
		}
		switch model.Disposition(tc.Disposition) {
		case model.DispositionAsIs, model.DispositionTruncate, model.DispositionCreateNew:
		default:
			return orcerrors.New(orcerrors.CodeInvalidArgument, "config", "Validate", "unknown disposition: "+tc.Disposition)
		}
		tableNames[tc.Name] = true
	}

	for _, dc := range cfg.Definitions {
		if dc.Pattern == "" {
			return orcerrors.New(orcerrors.CodeInvalidArgument, "config", "Validate", "definition entry missing pattern")
		}
		switch model.Action(dc.Action) {
		case model.ActionIgnore, model.ActionImport, model.ActionExtract, model.ActionExpand:
		default:
			return orcerrors.New(orcerrors.CodeInvalidArgument, "config", "Validate", "unknown action: "+dc.Action)
		}
		if dc.Table != "" && !tableNames[dc.Table] {
			return orcerrors.New(orcerrors.CodeInvalidArgument, "config", "Validate", "definition references unknown table: "+dc.Table)
		}
	}
	return nil
}

// BuildDefinitionTable converts the loaded Config into the runtime
// model.DefinitionTable, resolving table references and compiling every
// pattern.
func BuildDefinitionTable(cfg *Config) (*model.DefinitionTable, error) {
	tablesByName := make(map[string]*model.TableDescription, len(cfg.Tables))
	for _, tc := range cfg.Tables {
		tablesByName[tc.Name] = &model.TableDescription{
			Name:        tc.Name,
			Disposition: model.Disposition(tc.Disposition),
			Concurrency: tc.Concurrency,
		}
	}

	dt := &model.DefinitionTable{Name: "default"}
	for _, dc := range cfg.Definitions {
		entry := &model.DefinitionEntry{
			Pattern: dc.Pattern,
			Action:  model.Action(dc.Action),
		}
		if dc.Table != "" {
			entry.Table = tablesByName[dc.Table]
		}
		dt.Entries = append(dt.Entries, entry)
	}
	if err := dt.Compile(); err != nil {
		return nil, orcerrors.Wrap(orcerrors.CodeInvalidData, "config", "BuildDefinitionTable", err)
	}
	return dt, nil
}

// Watcher reloads the definition table whenever configFile changes on
// disk, so a long-running import service can pick up operator edits
// between collection batches without restarting.
type Watcher struct {
	watcher    *fsnotify.Watcher
	configFile string
	logger     *logrus.Logger
	onReload   func(*model.DefinitionTable)
}

// WatchDefinitions starts watching configFile and invokes onReload with the
// freshly rebuilt definition table each time the file changes. The returned
// Watcher must be closed by the caller to stop watching.
func WatchDefinitions(configFile string, logger *logrus.Logger, onReload func(*model.DefinitionTable)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, orcerrors.Wrap(orcerrors.CodeIOFailed, "config", "WatchDefinitions", err)
	}
	if err := fw.Add(configFile); err != nil {
		fw.Close()
		return nil, orcerrors.Wrap(orcerrors.CodeIOFailed, "config", "WatchDefinitions", err)
	}

	w := &Watcher{watcher: fw, configFile: configFile, logger: logger, onReload: onReload}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	// debounce: editors commonly emit Write followed by a rename/chmod in
	// quick succession for the same save.
	var pending *time.Timer
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(200*time.Millisecond, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("definition watcher error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadConfig(w.configFile)
	if err != nil {
		w.logger.WithError(err).Warn("failed to reload definitions")
		return
	}
	dt, err := BuildDefinitionTable(cfg)
	if err != nil {
		w.logger.WithError(err).Warn("failed to rebuild definition table")
		return
	}
	w.logger.Info("definitions reloaded")
	w.onReload(dt)
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
