package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/funk"
	"github.com/hupe1980/funk/wksp"
)

// Config is the funkctl configuration file layout.
type Config struct {
	Workspace WorkspaceConfig `yaml:"workspace"`
	Store     StoreConfig     `yaml:"store"`
	Log       LogConfig       `yaml:"log"`
}

// WorkspaceConfig locates and sizes the workspace file.
type WorkspaceConfig struct {
	Path    string `yaml:"path"`
	Size    int    `yaml:"size"`
	PartMax int    `yaml:"part_max"`
}

// StoreConfig holds the store geometry. Only Tag matters when attaching to
// an existing store.
type StoreConfig struct {
	Tag    uint64 `yaml:"tag"`
	Seed   uint64 `yaml:"seed"`
	TxnMax int    `yaml:"txn_max"`
	RecMax int    `yaml:"rec_max"`
	Policy string `yaml:"policy"`
}

// LogConfig controls diagnostics written to stderr.
type LogConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Verbose bool   `yaml:"verbose"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Workspace: WorkspaceConfig{
			Path:    "funk.wksp",
			Size:    64 << 20,
			PartMax: wksp.DefaultPartMax,
		},
		Store: StoreConfig{
			Tag:    1,
			TxnMax: 1024,
			RecMax: 1 << 16,
			Policy: funk.RootFrozenWithChildren.String(),
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// LoadConfig reads a YAML config file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the fields every command depends on.
func (c Config) Validate() error {
	var errs []error
	if c.Workspace.Path == "" {
		errs = append(errs, errors.New("workspace.path is empty"))
	}
	if c.Store.Tag == 0 {
		errs = append(errs, errors.New("store.tag must be non-zero"))
	}
	if _, err := c.policy(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.level(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q is neither text nor json", c.Log.Format))
	}
	return errors.Join(errs...)
}

func (c Config) policy() (funk.RootFrozenPolicy, error) {
	for _, p := range []funk.RootFrozenPolicy{funk.RootFrozenWithChildren, funk.RootFrozenDuringPublish} {
		if c.Store.Policy == p.String() {
			return p, nil
		}
	}
	return 0, fmt.Errorf("store.policy %q is unknown", c.Store.Policy)
}

func (c Config) level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}

func (c Config) logger(w io.Writer) *funk.Logger {
	l, _ := c.level()
	opts := &slog.HandlerOptions{Level: l}
	if c.Log.Format == "json" {
		return funk.NewLogger(slog.NewJSONHandler(w, opts))
	}
	return funk.NewLogger(slog.NewTextHandler(w, opts))
}

// storeOptions returns the funk options for New, Join and Delete.
func (c Config) storeOptions(w io.Writer) []funk.Option {
	p, _ := c.policy()
	return []funk.Option{
		funk.WithLogger(c.logger(w)),
		funk.WithVerbose(c.Log.Verbose, 0),
		funk.WithRootFrozenPolicy(p),
	}
}
