package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/woxQAQ/wasmhost/internal/wasm"
)

// EnvPrefix prefixes environment overrides, e.g. WASMHOST_LOG_LEVEL or
// WASMHOST_RUNTIME_MEMORY_PAGES.
const EnvPrefix = "WASMHOST"

// validate is shared; building a validator per call is expensive.
var validate = validator.New()

type Config struct {
	LogLevel       string        `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	MetricsEnabled bool          `mapstructure:"metrics_enabled"`
	MetricsFile    string        `mapstructure:"metrics_file" validate:"required_if=MetricsEnabled true"`
	Runtime        RuntimeConfig `mapstructure:"runtime"`
	Output         OutputConfig  `mapstructure:"output"`
}

// RuntimeConfig holds Wasm runtime configuration.
type RuntimeConfig struct {
	// Growth cap per memory (in pages, 64KB each).
	MemoryPages uint32 `mapstructure:"memory_pages" validate:"min=1,max=65536"`
	// Trace guest and host function calls as debug log entries.
	Debug bool `mapstructure:"debug"`
	// Compilation cache directory. Empty keeps compiled code in memory only.
	CacheDir string `mapstructure:"cache_dir"`
	// Maximum live instances.
	MaxInstances int `mapstructure:"max_instances" validate:"min=1"`
	// Exports a host callback may re-enter while they are running.
	AllowReentry []string `mapstructure:"allow_reentry" validate:"dive,required"`
	// Import namespace of the standard host functions.
	HostModule string `mapstructure:"host_module" validate:"required"`
}

// OutputConfig controls how guest output is printed.
type OutputConfig struct {
	// Prefix print lines with their type, e.g. "[Output Int]: 7".
	Labels bool `mapstructure:"labels"`
	// Print start and end banners around the entry call.
	Banner bool `mapstructure:"banner"`
}

// Load reads configuration from defaults, the optional YAML file at
// configPath and WASMHOST_* environment variables, in increasing priority.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_enabled", false)
	v.SetDefault("metrics_file", "wasmhost.prom")

	// Runtime defaults
	v.SetDefault("runtime.memory_pages", 256) // 16MB
	v.SetDefault("runtime.debug", false)
	v.SetDefault("runtime.cache_dir", "")
	v.SetDefault("runtime.max_instances", 100)
	v.SetDefault("runtime.allow_reentry", []string{})
	v.SetDefault("runtime.host_module", wasm.DefaultHostModule)

	v.SetDefault("output.labels", false)
	v.SetDefault("output.banner", false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// WasmRuntimeConfig converts the runtime section for wasm.NewRuntime.
func (c *Config) WasmRuntimeConfig() *wasm.RuntimeConfig {
	return &wasm.RuntimeConfig{
		MemoryPages:  c.Runtime.MemoryPages,
		DebugEnabled: c.Runtime.Debug,
		CacheDir:     c.Runtime.CacheDir,
		MaxInstances: c.Runtime.MaxInstances,
	}
}
