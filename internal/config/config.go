// Package config loads facevault settings.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (FACEVAULT_DATA_DIR, FACEVAULT_MATCH_THRESHOLD, ...)
//  2. YAML config file (~/.facevault/config.yaml)
//  3. Hardcoded defaults
//
// Environment variables drop the FACEVAULT_ prefix and are lowercased. The
// first underscore after a section name becomes a dot:
//
//	FACEVAULT_DATA_DIR           -> data_dir
//	FACEVAULT_MATCH_FRAME_STRIDE -> match.frame_stride
//	FACEVAULT_LOG_LEVEL          -> log.level
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap/zapcore"

	"github.com/forest6511/facevault/pkg/identity"
	"github.com/forest6511/facevault/pkg/store"
)

const (
	// EnvPrefix marks environment variables read by Load.
	EnvPrefix = "FACEVAULT_"

	// DirName is the default data directory under the user's home.
	DirName = ".facevault"

	// FileName is the config file inside the data directory.
	FileName = "config.yaml"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// sections are the nested keys; other variables map to top-level keys.
var sections = []string{"match", "log"}

var ErrInvalid = errors.New("config: invalid value")

// Config holds every setting.
type Config struct {
	DataDir string      `koanf:"data_dir"`
	DBFile  string      `koanf:"db_file"`
	Match   MatchConfig `koanf:"match"`
	Log     LogConfig   `koanf:"log"`
}

// MatchConfig tunes face matching.
type MatchConfig struct {
	Threshold   float64 `koanf:"threshold"`
	Dimension   int     `koanf:"dimension"`
	FrameStride int     `koanf:"frame_stride"`
}

// LogConfig controls diagnostic logging.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// DefaultDataDir returns ~/.facevault, or a relative .facevault when the
// home directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DirName
	}
	return filepath.Join(home, DirName)
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	return filepath.Join(DefaultDataDir(), FileName)
}

// Load reads the config file at path, or DefaultPath when path is empty,
// then applies environment overrides and defaults. A missing file is not
// an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = DefaultPath()
	}

	content, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	if content != nil {
		// Use rawbytes provider to avoid re-opening the file
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: failed to load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %w", err)
	}

	applyDefaults(&cfg)
	cfg.DataDir = expandHome(cfg.DataDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps FACEVAULT_MATCH_FRAME_STRIDE to match.frame_stride.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, sec := range sections {
		if rest, ok := strings.CutPrefix(key, sec+"_"); ok {
			return sec + "." + rest
		}
	}
	return key
}

// readConfigFile returns nil content when the file does not exist.
func readConfigFile(path string) ([]byte, error) {
	// Open once and validate the descriptor to avoid a TOCTOU race.
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("config: failed to stat config file: %w", err)
	}
	if err := validateFileProperties(info); err != nil {
		return nil, err
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}
	if len(content) > maxConfigFileSize {
		return nil, fmt.Errorf("config: file too large (max %d bytes)", maxConfigFileSize)
	}
	return content, nil
}

func validateFileProperties(info os.FileInfo) error {
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory", info.Name())
	}
	// Skip on Windows (different permission model)
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm&0022 != 0 {
			return fmt.Errorf("config: insecure config file permissions: %04o (must not be group or world writable)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config: file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}
	if cfg.DBFile == "" {
		cfg.DBFile = store.DBFileName
	}
	if cfg.Match.Threshold == 0 {
		cfg.Match.Threshold = identity.DefaultThreshold
	}
	if cfg.Match.Dimension == 0 {
		cfg.Match.Dimension = identity.DefaultDimension
	}
	if cfg.Match.FrameStride == 0 {
		cfg.Match.FrameStride = 1
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "warn"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// Validate checks every value after defaults are applied.
func (c *Config) Validate() error {
	if c.Match.Threshold <= 0 {
		return fmt.Errorf("%w: match.threshold must be positive, got %v", ErrInvalid, c.Match.Threshold)
	}
	if c.Match.Dimension <= 0 {
		return fmt.Errorf("%w: match.dimension must be positive, got %d", ErrInvalid, c.Match.Dimension)
	}
	if c.Match.FrameStride <= 0 {
		return fmt.Errorf("%w: match.frame_stride must be positive, got %d", ErrInvalid, c.Match.FrameStride)
	}
	if c.DBFile != filepath.Base(c.DBFile) {
		return fmt.Errorf("%w: db_file must be a file name, got %q", ErrInvalid, c.DBFile)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalid, err)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("%w: log.format must be 'json' or 'console', got %q", ErrInvalid, c.Log.Format)
	}
	return nil
}

// Matcher builds the identity matcher described by c.Match.
func (c *Config) Matcher() (*identity.Matcher, error) {
	return identity.NewMatcher(c.Match.Threshold, c.Match.Dimension)
}

// Store returns the store for the configured data directory.
func (c *Config) Store(opts ...store.Option) *store.Store {
	return store.New(c.DataDir, append([]store.Option{store.WithFileName(c.DBFile)}, opts...)...)
}

// LockStatePath is the per-vault login cooldown file.
func (c *Config) LockStatePath() string {
	return filepath.Join(c.DataDir, "lockstate.json")
}
