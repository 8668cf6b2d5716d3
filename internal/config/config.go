// Package config loads serialmon settings from a TOML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/imwoo90/web-serial-monitor-sub000/internal/lineproc"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/logging"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/worker"
)

const (
	// DirName is the per-user state directory under $HOME.
	DirName = ".serialmon"
	// FileName is the config file inside the state directory.
	FileName = "config.toml"
	// EnvDir overrides the state directory.
	EnvDir = "SERIALMON_DIR"
)

// Config is the root of config.toml.
type Config struct {
	Storage   StorageSettings   `toml:"storage"`
	Processor ProcessorSettings `toml:"processor"`
	Search    SearchSettings    `toml:"search"`
	Export    ExportSettings    `toml:"export"`
	Worker    WorkerSettings    `toml:"worker"`
	Web       WebSettings       `toml:"web"`
	Logging   LogSettings       `toml:"logging"`
	Catalog   CatalogSettings   `toml:"catalog"`
}

// StorageSettings controls where session files live.
type StorageSettings struct {
	// Dir holds logs_<ms>.txt session files (default: <state dir>/sessions)
	Dir string `toml:"dir"`

	// InMemory keeps the log in RAM only; nothing survives a restart
	InMemory bool `toml:"in_memory"`

	// ReadBufferKB is the block size used when scanning a file at startup
	ReadBufferKB int `toml:"read_buffer_kb"`
}

// ProcessorSettings mirrors lineproc.Options.
type ProcessorSettings struct {
	Columns         int    `toml:"columns"`
	Scrollback      int    `toml:"scrollback"`
	ResetThreshold  int    `toml:"reset_threshold"`
	MaxLineBytes    int    `toml:"max_line_bytes"`
	MaxUnterminated int    `toml:"max_unterminated"`
	Charset         string `toml:"charset"`

	// LineEnding is one of "none", "lf", "cr", "crlf"
	LineEnding string `toml:"line_ending"`

	// Timestamps prefixes each line with the local receive time (default: true)
	Timestamps *bool `toml:"timestamps"`
}

// SearchSettings tunes the incremental scan.
type SearchSettings struct {
	BatchLines int `toml:"batch_lines"`
	YieldMS    int `toml:"yield_ms"`
}

// ExportSettings tunes export streaming.
type ExportSettings struct {
	ChunkKB int `toml:"chunk_kb"`
}

// WorkerSettings tunes the dispatcher.
type WorkerSettings struct {
	TickMS      int     `toml:"tick_ms"`
	PushRate    float64 `toml:"push_rate"`
	InboxSize   int     `toml:"inbox_size"`
	EventBuffer int     `toml:"event_buffer"`
}

// WebSettings configures the WebSocket/HTTP transport.
type WebSettings struct {
	Listen string `toml:"listen"`

	// Token, when set, must be presented as a bearer token or ?token=
	Token string `toml:"token"`

	// ReadLimitKB bounds a single inbound WebSocket message
	ReadLimitKB int `toml:"read_limit_kb"`
}

// LogSettings configures diagnostic logging.
type LogSettings struct {
	Level              string `toml:"level"`
	Format             string `toml:"format"`
	MaxSizeMB          int    `toml:"max_size_mb"`
	MaxBackups         int    `toml:"max_backups"`
	RetentionDays      int    `toml:"retention_days"`
	Compress           bool   `toml:"compress"`
	RingBufferMB       int    `toml:"ring_buffer_mb"`
	AggregateIntervalS int    `toml:"aggregate_interval_secs"`
	PprofAddr          string `toml:"pprof_addr"`
}

// CatalogSettings configures the SQLite session catalog.
type CatalogSettings struct {
	Enabled *bool  `toml:"enabled"`
	Path    string `toml:"path"`
}

// Default returns the built-in configuration rooted at stateDir.
func Default(stateDir string) Config {
	opts := lineproc.DefaultOptions()
	on := true
	return Config{
		Storage: StorageSettings{
			Dir:          filepath.Join(stateDir, "sessions"),
			ReadBufferKB: 64,
		},
		Processor: ProcessorSettings{
			Columns:         opts.Columns,
			Scrollback:      opts.Scrollback,
			ResetThreshold:  opts.ResetThreshold,
			MaxLineBytes:    opts.MaxLineBytes,
			MaxUnterminated: opts.MaxUnterminated,
			Charset:         opts.Charset,
			LineEnding:      "lf",
			Timestamps:      &on,
		},
		Search:  SearchSettings{BatchLines: 5000, YieldMS: 1},
		Export:  ExportSettings{ChunkKB: 64},
		Worker:  WorkerSettings{TickMS: 50, PushRate: 20, InboxSize: 256, EventBuffer: 256},
		Web:     WebSettings{Listen: "127.0.0.1:8765", ReadLimitKB: 1024},
		Logging: LogSettings{Level: "info", Format: "json", MaxSizeMB: 10, MaxBackups: 3, RetentionDays: 7, RingBufferMB: 1, AggregateIntervalS: 30},
		Catalog: CatalogSettings{Enabled: &on, Path: filepath.Join(stateDir, "catalog.db")},
	}
}

// StateDir returns the serialmon state directory.
func StateDir() (string, error) {
	if dir := os.Getenv(EnvDir); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, DirName), nil
}

// Load reads path over the defaults for stateDir. A missing file yields
// the defaults.
func Load(path, stateDir string) (Config, error) {
	cfg := Default(stateDir)
	if path == "" {
		path = filepath.Join(stateDir, FileName)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	md, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&cfg)
	if err != nil {
		return Default(stateDir), fmt.Errorf("config.toml parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Default(stateDir), fmt.Errorf("config.toml: unknown key %q", undecoded[0].String())
	}
	cfg.Storage.Dir = expandHome(cfg.Storage.Dir)
	cfg.Catalog.Path = expandHome(cfg.Catalog.Path)
	if err := cfg.Validate(); err != nil {
		return Default(stateDir), err
	}
	return cfg, nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	p := c.Processor
	switch {
	case p.Columns < 1:
		return fmt.Errorf("processor.columns must be positive, got %d", p.Columns)
	case p.Scrollback < 1:
		return fmt.Errorf("processor.scrollback must be positive, got %d", p.Scrollback)
	case p.ResetThreshold < 1 || p.ResetThreshold > p.Scrollback:
		return fmt.Errorf("processor.reset_threshold must be in [1, scrollback], got %d", p.ResetThreshold)
	case p.MaxLineBytes < 1:
		return fmt.Errorf("processor.max_line_bytes must be positive, got %d", p.MaxLineBytes)
	case p.MaxUnterminated < p.MaxLineBytes:
		return fmt.Errorf("processor.max_unterminated must be at least max_line_bytes")
	}
	if _, err := lineproc.ParseLineEnding(p.LineEnding); err != nil {
		return fmt.Errorf("processor.line_ending: %w", err)
	}
	if _, err := lineproc.LookupCharset(p.Charset); err != nil {
		return fmt.Errorf("processor.charset: %w", err)
	}
	if c.Search.BatchLines < 1 {
		return fmt.Errorf("search.batch_lines must be positive, got %d", c.Search.BatchLines)
	}
	if c.Export.ChunkKB < 1 {
		return fmt.Errorf("export.chunk_kb must be positive, got %d", c.Export.ChunkKB)
	}
	if c.Worker.TickMS < 1 || c.Worker.PushRate <= 0 {
		return fmt.Errorf("worker.tick_ms and worker.push_rate must be positive")
	}
	if !c.Storage.InMemory && c.Storage.Dir == "" {
		return fmt.Errorf("storage.dir is required unless storage.in_memory is set")
	}
	return nil
}

// CatalogEnabled reports whether the session catalog is on (default: true).
func (c *Config) CatalogEnabled() bool {
	if c.Storage.InMemory {
		return false
	}
	return c.Catalog.Enabled == nil || *c.Catalog.Enabled
}

// ProcessorOptions converts the processor section.
func (c *Config) ProcessorOptions() lineproc.Options {
	p := c.Processor
	ending, _ := lineproc.ParseLineEnding(p.LineEnding)
	return lineproc.Options{
		Columns:         p.Columns,
		Scrollback:      p.Scrollback,
		ResetThreshold:  p.ResetThreshold,
		MaxLineBytes:    p.MaxLineBytes,
		MaxUnterminated: p.MaxUnterminated,
		Charset:         p.Charset,
		LineEnding:      ending,
		Timestamps:      p.Timestamps == nil || *p.Timestamps,
	}
}

// WorkerConfig converts the sections the dispatcher reads.
func (c *Config) WorkerConfig(crashDir string) worker.Config {
	return worker.Config{
		ReadBufferSize:   c.Storage.ReadBufferKB * 1024,
		SearchBatchLines: c.Search.BatchLines,
		SearchYield:      time.Duration(c.Search.YieldMS) * time.Millisecond,
		TickInterval:     time.Duration(c.Worker.TickMS) * time.Millisecond,
		PushRate:         c.Worker.PushRate,
		ExportChunkSize:  c.Export.ChunkKB * 1024,
		InboxSize:        c.Worker.InboxSize,
		EventBuffer:      c.Worker.EventBuffer,
		Processor:        c.ProcessorOptions(),
		CrashDumpDir:     crashDir,
	}
}

// LoggingConfig converts the logging section. logDir may be empty to log
// to stderr only.
func (c *Config) LoggingConfig(logDir string, stderr bool) logging.Config {
	l := c.Logging
	return logging.Config{
		LogDir:                logDir,
		Level:                 l.Level,
		Format:                l.Format,
		MaxSizeMB:             l.MaxSizeMB,
		MaxBackups:            l.MaxBackups,
		MaxAgeDays:            l.RetentionDays,
		Compress:              l.Compress,
		RingBufferSize:        l.RingBufferMB * 1024 * 1024,
		AggregateIntervalSecs: l.AggregateIntervalS,
		PprofAddr:             l.PprofAddr,
		Stderr:                stderr,
	}
}

// WriteExample writes a commented starter config unless one exists.
func WriteExample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(exampleConfig), 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize config: %w", err)
	}
	return nil
}

const exampleConfig = `# serialmon configuration

[storage]
# dir = "~/.serialmon/sessions"
# in_memory = false
# read_buffer_kb = 64

[processor]
# columns = 1024
# scrollback = 10000
# reset_threshold = 5000
# max_line_bytes = 256
# max_unterminated = 4096
# charset = "utf-8"       # latin1, cp437, windows-1252, or any IANA name
# line_ending = "lf"      # none, lf, cr, crlf
# timestamps = true

[search]
# batch_lines = 5000
# yield_ms = 1

[export]
# chunk_kb = 64

[worker]
# tick_ms = 50
# push_rate = 20

[web]
# listen = "127.0.0.1:8765"
# token = ""
# read_limit_kb = 1024

[logging]
# level = "info"          # debug, info, warn, error
# format = "json"         # json, text
# max_size_mb = 10
# max_backups = 3
# retention_days = 7
# pprof_addr = ""

[catalog]
# enabled = true
# path = "~/.serialmon/catalog.db"
`
