// Package config loads ccxmcp settings from an optional YAML or TOML file,
// a .env file and the process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Default values for runner configuration.
const (
	DefaultBinary      = "ccextractor"
	DefaultTimeout     = 5 * time.Minute
	DefaultMaxOutput   = 1 << 20 // 1 MiB per stream
	DefaultMaxParallel = 2
	DefaultHistory     = 20
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "auto"
)

// MaxTimeout is the largest per-request or configured timeout accepted.
const MaxTimeout = time.Hour

// Environment variables overriding file values.
const (
	EnvBinary      = "CCX_BINARY"
	EnvTimeout     = "CCX_TIMEOUT_SECONDS"
	EnvMaxOutput   = "CCX_MAX_OUTPUT_BYTES"
	EnvWorkDir     = "CCX_WORKDIR"
	EnvKillGrace   = "CCX_KILL_GRACE"
	EnvMaxParallel = "CCX_MAX_PARALLEL"
	EnvHistory     = "CCX_HISTORY"
	EnvLogLevel    = "CCX_LOG_LEVEL"
	EnvLogFormat   = "CCX_LOG_FORMAT"
)

// FileNames are searched, in order, when no config path is given.
var FileNames = []string{"ccxmcp.yaml", "ccxmcp.yml", "ccxmcp.toml"}

// Config holds the parsed configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	RawBinary      string    `yaml:"binary" toml:"binary"`
	RawTimeout     string    `yaml:"timeout" toml:"timeout"`       // "5m", "30s" or plain seconds
	RawMaxOutput   string    `yaml:"max_output" toml:"max_output"` // "1MB", "64KB" or plain bytes
	RawWorkDir     string    `yaml:"workdir" toml:"workdir"`
	RawKillGrace   string    `yaml:"kill_grace" toml:"kill_grace"`
	RawMaxParallel int       `yaml:"max_parallel" toml:"max_parallel"`
	RawHistory     int       `yaml:"history" toml:"history"`
	Log            LogConfig `yaml:"log" toml:"log"`

	// Path is the file the values were read from, empty when none was found.
	Path string `yaml:"-" toml:"-"`
}

// LogConfig controls the zerolog output.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`   // trace, debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // auto, console, json
}

// Binary returns the ccextractor executable name or path.
func (c *Config) Binary() string {
	if b := strings.TrimSpace(c.RawBinary); b != "" {
		return b
	}
	return DefaultBinary
}

// Timeout returns the configured timeout or the default.
func (c *Config) Timeout() time.Duration {
	if d, err := parseDuration(c.RawTimeout); err == nil && d > 0 {
		return d
	}
	return DefaultTimeout
}

// MaxOutputBytes returns the per-stream capture bound or the default.
func (c *Config) MaxOutputBytes() int {
	if n, err := parseSize(c.RawMaxOutput); err == nil && n > 0 {
		return n
	}
	return DefaultMaxOutput
}

// WorkDir returns the default working directory for runs.
func (c *Config) WorkDir() string {
	if c.RawWorkDir != "" {
		return c.RawWorkDir
	}
	return filepath.Join(os.TempDir(), "ccxmcp")
}

// WorkDirSet reports whether the working directory was configured
// explicitly rather than defaulted.
func (c *Config) WorkDirSet() bool { return c.RawWorkDir != "" }

// KillGrace returns how long a timed-out process gets between SIGTERM and
// SIGKILL. Zero means SIGKILL straight away.
func (c *Config) KillGrace() time.Duration {
	if d, err := parseDuration(c.RawKillGrace); err == nil && d > 0 {
		return d
	}
	return 0
}

// MaxParallel returns the batch concurrency limit.
func (c *Config) MaxParallel() int {
	if c.RawMaxParallel > 0 {
		return c.RawMaxParallel
	}
	return DefaultMaxParallel
}

// HistorySize returns how many run records are cached in memory.
func (c *Config) HistorySize() int {
	if c.RawHistory > 0 {
		return c.RawHistory
	}
	return DefaultHistory
}

// LogLevel returns the configured level name.
func (c *Config) LogLevel() string {
	if c.Log.Level != "" {
		return strings.ToLower(c.Log.Level)
	}
	return DefaultLogLevel
}

// LogFormat returns auto, console or json.
func (c *Config) LogFormat() string {
	if c.Log.Format != "" {
		return strings.ToLower(c.Log.Format)
	}
	return DefaultLogFormat
}

// Validate reports every malformed value at once.
func (c *Config) Validate() error {
	var errs *multierror.Error
	if c.RawTimeout != "" {
		d, err := parseDuration(c.RawTimeout)
		switch {
		case err != nil:
			errs = multierror.Append(errs, fmt.Errorf("timeout: %w", err))
		case d <= 0 || d > MaxTimeout:
			errs = multierror.Append(errs, fmt.Errorf("timeout: %s is outside 1s..%s", d, MaxTimeout))
		}
	}
	if c.RawMaxOutput != "" {
		if n, err := parseSize(c.RawMaxOutput); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("max_output: %w", err))
		} else if n <= 0 {
			errs = multierror.Append(errs, errors.New("max_output: must be positive"))
		}
	}
	if c.RawKillGrace != "" {
		if d, err := parseDuration(c.RawKillGrace); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("kill_grace: %w", err))
		} else if d < 0 {
			errs = multierror.Append(errs, errors.New("kill_grace: must not be negative"))
		}
	}
	if c.RawMaxParallel < 0 {
		errs = multierror.Append(errs, errors.New("max_parallel: must not be negative"))
	}
	if c.RawHistory < 0 {
		errs = multierror.Append(errs, errors.New("history: must not be negative"))
	}
	switch c.LogFormat() {
	case "auto", "console", "json":
	default:
		errs = multierror.Append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	return errs.ErrorOrNil()
}

// Options controls where Load looks for values.
type Options struct {
	// Path is an explicit config file; it must exist. When empty, Dir is
	// searched for FileNames.
	Path string
	// Dir holds the config file and .env; empty means the current directory.
	Dir string
	// LookupEnv reads the environment; nil means os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Load reads the config file, then .env, then the environment, each layer
// overriding the previous one. A missing file is not an error unless it
// was named explicitly.
func Load(opts Options) (*Config, error) {
	cfg := &Config{}

	path, err := resolvePath(opts)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
		cfg.Path = path
	}

	dotenv, err := readDotenv(opts.Dir)
	if err != nil {
		return nil, err
	}
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	env := func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}

	if err := cfg.applyEnv(env); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolvePath(opts Options) (string, error) {
	if opts.Path != "" {
		if _, err := os.Stat(opts.Path); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return opts.Path, nil
	}
	for _, name := range FileNames {
		p := filepath.Join(opts.Dir, name)
		info, err := os.Stat(p)
		if err == nil && !info.IsDir() {
			return p, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", p, err)
		}
	}
	return "", nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// readDotenv parses .env without touching the process environment.
func readDotenv(dir string) (map[string]string, error) {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return values, nil
}

func (c *Config) applyEnv(env func(string) (string, bool)) error {
	var errs *multierror.Error

	if v, ok := env(EnvBinary); ok {
		c.RawBinary = v
	}
	if v, ok := env(EnvTimeout); ok {
		secs, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %q is not a whole number of seconds", EnvTimeout, v))
		} else {
			c.RawTimeout = strconv.Itoa(secs)
		}
	}
	if v, ok := env(EnvMaxOutput); ok {
		c.RawMaxOutput = v
	}
	if v, ok := env(EnvWorkDir); ok {
		c.RawWorkDir = v
	}
	if v, ok := env(EnvKillGrace); ok {
		c.RawKillGrace = v
	}
	if v, ok := env(EnvMaxParallel); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", EnvMaxParallel, err))
		} else {
			c.RawMaxParallel = n
		}
	}
	if v, ok := env(EnvHistory); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", EnvHistory, err))
		} else {
			c.RawHistory = n
		}
	}
	if v, ok := env(EnvLogLevel); ok {
		c.Log.Level = v
	}
	if v, ok := env(EnvLogFormat); ok {
		c.Log.Format = v
	}

	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}
	return nil
}

// parseDuration accepts Go durations ("90s", "5m") and plain seconds ("90").
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// parseSize accepts byte counts ("65536") and sizes with units ("64KB", "1MB").
func parseSize(s string) (int, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%q is not a byte size", s)
	}
	if size.Bytes() > uint64(1<<31-1) {
		return 0, fmt.Errorf("%q is too large", s)
	}
	return int(size.Bytes()), nil
}
