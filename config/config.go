package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/go-tokenizers/errors"
)

// Backends selectable in Config.Backend.
const (
	BackendAuto      = "auto"
	BackendNative    = "native"
	BackendWasm      = "wasm"
	BackendWordLevel = "wordlevel"
)

// Environment variables consulted by Load and LoadDefault.
const (
	EnvConfig      = "TOKENIZERS_CONFIG"
	EnvBackend     = "TOKENIZERS_BACKEND"
	EnvLibraryPath = "TOKENIZERS_LIB_PATH"
	EnvWasmModule  = "TOKENIZERS_WASM"
	EnvModelDir    = "TOKENIZERS_MODEL_DIR"
	EnvLogLevel    = "TOKENIZERS_LOG_LEVEL"
	EnvCallTimeout = "TOKENIZERS_CALL_TIMEOUT"
)

// Config selects and tunes the tokenizer engine.
type Config struct {
	Backend     string        `yaml:"backend"`
	LibraryPath string        `yaml:"library_path"`
	WasmModule  string        `yaml:"wasm_module"`
	ModelDir    string        `yaml:"model_dir"`
	CallTimeout time.Duration `yaml:"call_timeout"`

	Log    LogConfig    `yaml:"log"`
	Encode EncodeConfig `yaml:"encode"`
	Decode DecodeConfig `yaml:"decode"`
}

// LogConfig configures the zap logger built by Logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// EncodeConfig holds encode defaults.
type EncodeConfig struct {
	AddSpecialTokens bool `yaml:"add_special_tokens"`
}

// DecodeConfig holds decode defaults.
type DecodeConfig struct {
	SkipSpecialTokens bool `yaml:"skip_special_tokens"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: BackendAuto,
		Log: LogConfig{
			Level:  "warn",
			Format: "console",
		},
		Encode: EncodeConfig{AddSpecialTokens: true},
		Decode: DecodeConfig{SkipSpecialTokens: true},
	}
}

// Load reads a YAML file over the defaults, then applies environment
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "failed to read config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "failed to parse YAML config")
		}
		cfg.resolvePaths(filepath.Dir(path))
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads the file named by TOKENIZERS_CONFIG, if any.
func LoadDefault() (*Config, error) {
	return Load(os.Getenv(EnvConfig))
}

// resolvePaths makes relative paths in a config file relative to the file.
func (c *Config) resolvePaths(base string) {
	for _, p := range []*string{&c.LibraryPath, &c.WasmModule, &c.ModelDir} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvBackend); v != "" {
		c.Backend = v
	}
	if v := os.Getenv(EnvLibraryPath); v != "" {
		c.LibraryPath = v
	}
	if v := os.Getenv(EnvWasmModule); v != "" {
		c.WasmModule = v
	}
	if v := os.Getenv(EnvModelDir); v != "" {
		c.ModelDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvCallTimeout); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err,
				fmt.Sprintf("invalid %s", EnvCallTimeout))
		}
		c.CallTimeout = d
	}
	return nil
}

// parseDuration accepts Go durations and bare seconds.
func parseDuration(s string) (time.Duration, error) {
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendAuto, BackendNative, BackendWasm, BackendWordLevel:
	case "":
		c.Backend = BackendAuto
	default:
		return errors.InvalidInput(errors.PhaseConfig,
			fmt.Sprintf("unknown backend %q (use auto, native, wasm or wordlevel)", c.Backend))
	}
	if c.Backend == BackendWasm && c.WasmModule == "" {
		return errors.InvalidInput(errors.PhaseConfig, "backend wasm requires wasm_module")
	}
	if c.CallTimeout < 0 {
		return errors.InvalidInput(errors.PhaseConfig, "call_timeout must not be negative")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("invalid log level %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		return errors.InvalidInput(errors.PhaseConfig,
			fmt.Sprintf("invalid log format %q (use console or json)", c.Log.Format))
	}
	return nil
}

// Logger builds a zap logger writing to stderr.
func (c LogConfig) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}

	var zc zap.Config
	if strings.ToLower(c.Format) == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "failed to marshal YAML")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "failed to write config file")
	}
	return nil
}
