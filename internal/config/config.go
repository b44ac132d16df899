// Package config loads bankctl configuration from JSONC files and flags.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tailscale/hujson"

	"github.com/calvinalkan/banktransfer/pkg/bank"
	"github.com/calvinalkan/banktransfer/pkg/hostmem"
)

// Error variables for configuration loading.
var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config file")
	ErrRootEmpty          = errors.New("namespace root cannot be empty")
	ErrMemoryBase         = errors.New("invalid memory base address")
)

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config holds all configuration options.
type Config struct {
	// From config files (serialized)
	ExtDataRoot string `json:"extdata_root"`
	SDMCRoot    string `json:"sdmc_root"`
	MemoryImage string `json:"memory_image,omitempty"`
	MemoryBase  string `json:"memory_base,omitempty"`
	WritePolicy string `json:"write_policy,omitempty"`
	LogLevel    string `json:"log_level,omitempty"`
	LogFormat   string `json:"log_format,omitempty"`

	// Resolved values (computed, not serialized)
	EffectiveCwd   string           `json:"-"`
	ExtDataRootAbs string           `json:"-"`
	SDMCRootAbs    string           `json:"-"`
	MemoryImageAbs string           `json:"-"` // empty if no image configured
	MemoryBaseAddr uint64           `json:"-"`
	Policy         bank.WritePolicy `json:"-"`
	Level          logrus.Level     `json:"-"`

	// Sources tracks which config files were loaded (for diagnostics)
	Sources Sources `json:"-"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project or explicit config if loaded, empty otherwise
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		ExtDataRoot: "extdata",
		SDMCRoot:    "sdmc",
		WritePolicy: bank.BestEffort.String(),
		LogLevel:    logrus.InfoLevel.String(),
		LogFormat:   LogFormatText,
	}
}

// FileName is the project config file name.
const FileName = ".bankctl.json"

// globalPath returns $XDG_CONFIG_HOME/bankctl/config.json, falling back to
// ~/.config/bankctl/config.json. Empty if neither variable is set.
func globalPath(env map[string]string) string {
	if xdgConfig := env["XDG_CONFIG_HOME"]; xdgConfig != "" {
		return filepath.Join(xdgConfig, "bankctl", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "bankctl", "config.json")
	}

	return ""
}

// Overrides holds flag values. Empty strings mean "not set".
type Overrides struct {
	ExtDataRoot string
	SDMCRoot    string
	MemoryImage string
	MemoryBase  string
	WritePolicy string
	LogLevel    string
	LogFormat   string
}

// LoadInput holds the inputs for Load.
type LoadInput struct {
	WorkDirOverride string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath      string            // -c/--config flag value
	Overrides       Overrides         // remaining global flags
	Env             map[string]string // environment variables
}

// Load resolves configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config ($XDG_CONFIG_HOME/bankctl/config.json)
// 3. Project config (.bankctl.json in the working directory, if it exists)
// 4. Explicit config file via ConfigPath (replaces 3)
// 5. Flag overrides.
//
// Paths in the returned Config are resolved against the working directory.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := Default()

	if path := globalPath(input.Env); path != "" {
		globalCfg, loaded, err := loadFile(path, false)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg.Sources.Global = path
			cfg = merge(cfg, globalCfg)
		}
	}

	projectCfg, projectPath, err := loadProject(workDir, input.ConfigPath)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Project = projectPath
	cfg = merge(cfg, projectCfg)

	o := input.Overrides
	cfg = merge(cfg, Config{
		ExtDataRoot: o.ExtDataRoot,
		SDMCRoot:    o.SDMCRoot,
		MemoryImage: o.MemoryImage,
		MemoryBase:  o.MemoryBase,
		WritePolicy: o.WritePolicy,
		LogLevel:    o.LogLevel,
		LogFormat:   o.LogFormat,
	})

	err = resolve(&cfg, workDir)
	if err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadProject(workDir, configPath string) (Config, string, error) {
	if configPath == "" {
		path := filepath.Join(workDir, FileName)

		cfg, loaded, err := loadFile(path, false)
		if err != nil || !loaded {
			return Config{}, "", err
		}

		return cfg, path, nil
	}

	path := absIn(workDir, configPath)

	// Check existence first to provide a clear "not found" error
	_, statErr := os.Stat(path)
	if statErr != nil {
		return Config{}, "", fmt.Errorf("%w: %s", ErrConfigFileNotFound, configPath)
	}

	cfg, _, err := loadFile(path, true)
	if err != nil {
		return Config{}, "", err
	}

	return cfg, path, nil
}

// loadFile loads a config file. If mustExist is false, a missing file
// returns loaded=false and no error.
func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("%w: %s: %w", ErrConfigFileRead, path, err)
	}

	cfg, err := parse(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return cfg, true, nil
}

func parse(data []byte) (Config, error) {
	// Standardize JSONC to JSON
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	err = json.Unmarshal(standardized, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	// A root explicitly set to "" would otherwise be ignored by merge.
	var raw map[string]any

	_ = json.Unmarshal(standardized, &raw)

	for _, key := range []string{"extdata_root", "sdmc_root"} {
		if val, ok := raw[key].(string); ok && val == "" {
			return Config{}, fmt.Errorf("%s: %w", key, ErrRootEmpty)
		}
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}

	set(&base.ExtDataRoot, overlay.ExtDataRoot)
	set(&base.SDMCRoot, overlay.SDMCRoot)
	set(&base.MemoryImage, overlay.MemoryImage)
	set(&base.MemoryBase, overlay.MemoryBase)
	set(&base.WritePolicy, overlay.WritePolicy)
	set(&base.LogLevel, overlay.LogLevel)
	set(&base.LogFormat, overlay.LogFormat)

	return base
}

func resolve(cfg *Config, workDir string) error {
	policy, err := bank.ParseWritePolicy(cfg.WritePolicy)
	if err != nil {
		return fmt.Errorf("write_policy: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	switch cfg.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("log_format: unknown format %q (want %q or %q)", cfg.LogFormat, LogFormatText, LogFormatJSON)
	}

	base, err := ParseAddress(cfg.MemoryBase)
	if err != nil {
		return err
	}

	cfg.EffectiveCwd = workDir
	cfg.ExtDataRootAbs = absIn(workDir, cfg.ExtDataRoot)
	cfg.SDMCRootAbs = absIn(workDir, cfg.SDMCRoot)
	cfg.Policy = policy
	cfg.Level = level
	cfg.MemoryBaseAddr = base

	if cfg.MemoryImage != "" {
		cfg.MemoryImageAbs = absIn(workDir, cfg.MemoryImage)
	}

	return nil
}

// ParseAddress parses a host address in decimal or 0x-prefixed hex. The
// empty string means the lowest address of [hostmem.DefaultLayout].
func ParseAddress(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return hostmem.DefaultLayout().LowestAddr(), nil
	}

	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%w %q: %w", ErrMemoryBase, s, err)
	}

	return v, nil
}

func absIn(workDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}

	return filepath.Join(workDir, p)
}
