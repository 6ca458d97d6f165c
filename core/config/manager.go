// Package config loads coornet settings from YAML files and COORNET_*
// environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/adalundhe/coornet/core/coord"
	"github.com/adalundhe/coornet/core/coordgraph"
	"github.com/adalundhe/coornet/core/detect"
	coreerrors "github.com/adalundhe/coornet/core/errors"
	"github.com/adalundhe/coornet/core/stats"
	"github.com/adalundhe/coornet/core/storage"
	"github.com/adalundhe/coornet/core/urlclean"
	"gopkg.in/yaml.v3"
)

type Manager struct {
	config    atomic.Pointer[Config]
	dirs      *storage.Dirs
	projectAt string
	extra     string
}

type Config struct {
	Interval IntervalConfig `yaml:"interval"`
	Detect   DetectConfig   `yaml:"detect"`
	Graph    GraphConfig    `yaml:"graph"`
	URLs     URLConfig      `yaml:"urls"`
	Stats    StatsConfig    `yaml:"stats"`
	Export   ExportConfig   `yaml:"export"`
	Log      LogConfig      `yaml:"log"`
}

type IntervalConfig struct {
	// Seconds is the coordination interval. Zero estimates it from Q and P.
	Seconds float64 `yaml:"seconds"`
	Q       float64 `yaml:"q"`
	P       float64 `yaml:"p"`
}

type DetectConfig struct {
	Strategy         string `yaml:"strategy"`
	MarkMode         string `yaml:"mark_mode"`
	KeepOriginalOnly bool   `yaml:"keep_original_only"`
	Workers          int    `yaml:"workers"`
}

type GraphConfig struct {
	Percentile     float64 `yaml:"percentile"`
	WithTimestamps bool    `yaml:"with_timestamps"`
	Resolution     float64 `yaml:"resolution"`
	Seed           uint64  `yaml:"seed"`
}

type URLConfig struct {
	Canonicalize bool     `yaml:"canonicalize"`
	BlockedHosts []string `yaml:"blocked_hosts"`
	CacheSize    int      `yaml:"cache_size"`
}

type StatsConfig struct {
	OrderBy string `yaml:"order_by"`
	Top     int    `yaml:"top"`
}

type ExportConfig struct {
	// SQLite is the export database path. Empty disables the export.
	SQLite string `yaml:"sqlite"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// NewManager returns a manager holding DefaultConfig until Load is called.
// projectRoot locates the .coornet directory; empty means the working directory.
func NewManager(dirs *storage.Dirs, projectRoot string) *Manager {
	if projectRoot == "" {
		projectRoot = "."
	}
	m := &Manager{dirs: dirs, projectAt: projectRoot}
	m.config.Store(DefaultConfig())
	return m
}

func DefaultConfig() *Config {
	return &Config{
		Interval: IntervalConfig{
			Q: coord.DefaultQ,
			P: coord.DefaultP,
		},
		Detect: DetectConfig{
			Strategy: coord.FixedBin.String(),
			MarkMode: coord.MarkValueSet.String(),
			Workers:  1,
		},
		Graph: GraphConfig{
			Percentile: coordgraph.DefaultPercentile,
			Resolution: coordgraph.DefaultResolution,
			Seed:       1,
		},
		URLs: URLConfig{
			CacheSize: urlclean.DefaultCacheSize,
		},
		Stats: StatsConfig{
			OrderBy: stats.DefaultOrderBy,
			Top:     stats.DefaultTop,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func (m *Manager) Get() *Config {
	return m.config.Load()
}

// SetFile adds an explicit config file applied after the discovered ones.
func (m *Manager) SetFile(path string) {
	m.extra = path
}

// Load layers project, user, local and explicit config files over the
// defaults, applies the environment and validates the result.
func (m *Manager) Load() error {
	cfg := DefaultConfig()

	projectDirs := storage.ResolveProjectDirs(m.projectAt)
	if err := loadYAMLFile(projectDirs.Config, cfg); err != nil {
		return fmt.Errorf("project config: %w", err)
	}

	if m.dirs != nil {
		if err := loadYAMLFile(m.dirs.UserConfigFile(), cfg); err != nil {
			return fmt.Errorf("user config: %w", err)
		}
	}

	if err := loadYAMLFile(filepath.Join(projectDirs.Local, "config.yaml"), cfg); err != nil {
		return fmt.Errorf("local config: %w", err)
	}

	if m.extra != "" {
		if _, err := os.Stat(m.extra); err != nil {
			return fmt.Errorf("config file: %w", err)
		}
		if err := loadYAMLFile(m.extra, cfg); err != nil {
			return fmt.Errorf("config file %s: %w", m.extra, err)
		}
	}

	applyEnvironment(cfg)

	if err := cfg.Validate(); err != nil {
		return err
	}
	m.config.Store(cfg)
	return nil
}

func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func applyEnvironment(cfg *Config) {
	if v := os.Getenv("COORNET_INTERVAL"); v != "" {
		if f, err := parseFloat(v); err == nil {
			cfg.Interval.Seconds = f
		}
	}
	if v := os.Getenv("COORNET_Q"); v != "" {
		if f, err := parseFloat(v); err == nil {
			cfg.Interval.Q = f
		}
	}
	if v := os.Getenv("COORNET_P"); v != "" {
		if f, err := parseFloat(v); err == nil {
			cfg.Interval.P = f
		}
	}
	if v := os.Getenv("COORNET_STRATEGY"); v != "" {
		cfg.Detect.Strategy = v
	}
	if v := os.Getenv("COORNET_MARK_MODE"); v != "" {
		cfg.Detect.MarkMode = v
	}
	if v := os.Getenv("COORNET_KEEP_ORIGINAL_ONLY"); v != "" {
		cfg.Detect.KeepOriginalOnly = parseBool(v)
	}
	if v := os.Getenv("COORNET_WORKERS"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Detect.Workers = n
		}
	}
	if v := os.Getenv("COORNET_PERCENTILE"); v != "" {
		if f, err := parseFloat(v); err == nil {
			cfg.Graph.Percentile = f
		}
	}
	if v := os.Getenv("COORNET_TIMESTAMPS"); v != "" {
		cfg.Graph.WithTimestamps = parseBool(v)
	}
	if v := os.Getenv("COORNET_SEED"); v != "" {
		if n, err := parseInt(v); err == nil && n >= 0 {
			cfg.Graph.Seed = uint64(n)
		}
	}
	if v := os.Getenv("COORNET_CANONICALIZE"); v != "" {
		cfg.URLs.Canonicalize = parseBool(v)
	}
	if v := os.Getenv("COORNET_SQLITE"); v != "" {
		cfg.Export.SQLite = v
	}
	if v := os.Getenv("COORNET_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("COORNET_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// Validate checks every range the detection pipeline would reject, so a bad
// file fails before any input is read.
func (c *Config) Validate() error {
	const op = "load_config"
	if c.Interval.Seconds < 0 {
		return coreerrors.InvalidParameter(op, "interval.seconds", "must be positive, or zero to estimate, got %v", c.Interval.Seconds)
	}
	if !(c.Interval.Q > 0 && c.Interval.Q < 1) {
		return coreerrors.InvalidParameter(op, "interval.q", "must be strictly between 0 and 1, got %v", c.Interval.Q)
	}
	if !(c.Interval.P > 0 && c.Interval.P < 1) {
		return coreerrors.InvalidParameter(op, "interval.p", "must be strictly between 0 and 1, got %v", c.Interval.P)
	}
	if !(c.Graph.Percentile >= 0 && c.Graph.Percentile <= 100) {
		return coreerrors.InvalidParameter(op, "graph.percentile", "must be within [0, 100], got %v", c.Graph.Percentile)
	}
	if _, err := coord.ParseStrategy(c.Detect.Strategy); err != nil {
		return err
	}
	if _, err := coord.ParseMarkMode(c.Detect.MarkMode); err != nil {
		return err
	}
	if c.Detect.Workers < 1 {
		return coreerrors.InvalidParameter(op, "detect.workers", "must be at least 1, got %d", c.Detect.Workers)
	}
	if stats.CheckOrderBy(c.Stats.OrderBy) != nil {
		return coreerrors.InvalidParameter(op, "stats.order_by", "unknown counter %q", c.Stats.OrderBy)
	}
	if c.Stats.Top < 0 {
		return coreerrors.InvalidParameter(op, "stats.top", "must be zero or positive, got %d", c.Stats.Top)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return coreerrors.InvalidParameter(op, "log.format", "want text or json, got %q", c.Log.Format)
	}
	return nil
}

// DetectOptions maps the configuration onto pipeline options.
func (c *Config) DetectOptions(logger *slog.Logger) (detect.Options, error) {
	strategy, err := coord.ParseStrategy(c.Detect.Strategy)
	if err != nil {
		return detect.Options{}, err
	}
	mark, err := coord.ParseMarkMode(c.Detect.MarkMode)
	if err != nil {
		return detect.Options{}, err
	}

	opts := detect.Options{
		Q:                c.Interval.Q,
		P:                c.Interval.P,
		Strategy:         strategy,
		MarkMode:         mark,
		Percentile:       c.Graph.Percentile,
		KeepOriginalOnly: c.Detect.KeepOriginalOnly,
		WithTimestamps:   c.Graph.WithTimestamps,
		Seed:             c.Graph.Seed,
		Resolution:       c.Graph.Resolution,
		Workers:          c.Detect.Workers,
		Logger:           logger,
	}
	if c.Interval.Seconds > 0 {
		opts.Interval = detect.Seconds(c.Interval.Seconds)
	}
	if c.URLs.Canonicalize {
		canon, err := c.Canonicalizer()
		if err != nil {
			return detect.Options{}, err
		}
		opts.Canonicalizer = canon
	}
	return opts, nil
}

// Canonicalizer builds the URL cleaner described by the urls section.
func (c *Config) Canonicalizer() (*urlclean.Canonicalizer, error) {
	return urlclean.New(urlclean.Config{
		BlockedHosts: c.URLs.BlockedHosts,
		CacheSize:    c.URLs.CacheSize,
	})
}

// ParseLevel maps debug, info, warn and error onto slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, coreerrors.InvalidParameter("load_config", "log.level", "unknown level %q", s)
	}
	return level, nil
}

func parseInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

func parseFloat(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(s, "%f", &f)
	return f, err
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
