// Package config loads worker configuration from defaults, an optional
// config file, and environment variables.
//
// Every setting has a WANWORKER_* environment name. The engine-related
// settings additionally honor the legacy names used by earlier deployments
// (SERVER_ADDRESS, COMFY_ROOT, COMFY_READY_TIMEOUT, COMFY_EXEC_TIMEOUT,
// HANDLER_VERSION, BUCKET_ENDPOINT_URL) so existing pod templates keep
// working unchanged.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved worker configuration.
type Config struct {
	Engine   EngineConfig   `mapstructure:"engine"`
	Server   ServerConfig   `mapstructure:"server"`
	Volume   VolumeConfig   `mapstructure:"volume"`
	Artifact ArtifactConfig `mapstructure:"artifact"`
	Logging  LoggingConfig  `mapstructure:"logging"`

	// HandlerVersion is surfaced in every response payload so callers can
	// correlate behavior with a deployed image.
	HandlerVersion string `mapstructure:"handler_version"`
}

// EngineConfig describes how to reach and launch the ComfyUI engine.
type EngineConfig struct {
	// Host and Port form the engine control endpoint (HTTP and WebSocket).
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// Root is the ComfyUI installation directory. Input, output and log
	// paths default to subpaths of Root when left empty.
	Root      string `mapstructure:"root"`
	InputDir  string `mapstructure:"input_dir"`
	OutputDir string `mapstructure:"output_dir"`
	LogPath   string `mapstructure:"log_path"`

	// Command is the argv used to launch the engine subprocess. An empty
	// command means the engine is managed externally and the supervisor
	// only polls for readiness.
	Command []string `mapstructure:"command"`

	// ReadyTimeoutSec bounds startup readiness polling.
	// ExecTimeoutSec bounds a single graph execution.
	ReadyTimeoutSec int `mapstructure:"ready_timeout_sec"`
	ExecTimeoutSec  int `mapstructure:"exec_timeout_sec"`
}

// ServerConfig configures the job API HTTP server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// VolumeConfig describes the optional network volume mount.
type VolumeConfig struct {
	Root string `mapstructure:"root"`
}

// ArtifactConfig configures optional S3-compatible artifact upload.
//
// When Endpoint is empty, generated videos are returned inline as base64.
type ArtifactConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// LoggingConfig configures process logging.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Endpoint returns the engine HTTP base address, e.g. "127.0.0.1:8188".
func (e EngineConfig) Endpoint() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// ReadyTimeout returns the readiness deadline as a duration.
func (e EngineConfig) ReadyTimeout() time.Duration {
	return time.Duration(e.ReadyTimeoutSec) * time.Second
}

// ExecTimeout returns the execution deadline as a duration.
func (e EngineConfig) ExecTimeout() time.Duration {
	return time.Duration(e.ExecTimeoutSec) * time.Second
}

// Enabled reports whether artifact upload is configured.
func (a ArtifactConfig) Enabled() bool {
	return strings.TrimSpace(a.Endpoint) != ""
}

// Load resolves configuration from defaults, the optional config file at
// path (YAML or JSON, empty path skips the file), and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	bindLegacyEnv(v)

	v.SetEnvPrefix("WANWORKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyDerived()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.host", "127.0.0.1")
	v.SetDefault("engine.port", 8188)
	v.SetDefault("engine.root", "/ComfyUI")
	v.SetDefault("engine.ready_timeout_sec", 120)
	v.SetDefault("engine.exec_timeout_sec", 600)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Minute)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("volume.root", "/runpod-volume")

	v.SetDefault("logging.level", "info")
	v.SetDefault("handler_version", "dev")
}

// bindLegacyEnv maps the original deployment's flat variable names onto the
// structured keys. Explicit binds take precedence over AutomaticEnv lookups
// for the same key, so WANWORKER_* names still win when both are set.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("engine.host", "WANWORKER_ENGINE_HOST", "SERVER_ADDRESS")
	_ = v.BindEnv("engine.root", "WANWORKER_ENGINE_ROOT", "COMFY_ROOT")
	_ = v.BindEnv("engine.ready_timeout_sec", "WANWORKER_ENGINE_READY_TIMEOUT_SEC", "COMFY_READY_TIMEOUT")
	_ = v.BindEnv("engine.exec_timeout_sec", "WANWORKER_ENGINE_EXEC_TIMEOUT_SEC", "COMFY_EXEC_TIMEOUT")
	_ = v.BindEnv("handler_version", "WANWORKER_HANDLER_VERSION", "HANDLER_VERSION")
	_ = v.BindEnv("artifact.endpoint", "WANWORKER_ARTIFACT_ENDPOINT", "BUCKET_ENDPOINT_URL")
	_ = v.BindEnv("artifact.bucket", "WANWORKER_ARTIFACT_BUCKET", "BUCKET_NAME")
	_ = v.BindEnv("artifact.access_key", "WANWORKER_ARTIFACT_ACCESS_KEY", "BUCKET_ACCESS_KEY_ID")
	_ = v.BindEnv("artifact.secret_key", "WANWORKER_ARTIFACT_SECRET_KEY", "BUCKET_SECRET_ACCESS_KEY")
}

func (c *Config) applyDerived() {
	if c.Engine.InputDir == "" {
		c.Engine.InputDir = filepath.Join(c.Engine.Root, "input")
	}
	if c.Engine.OutputDir == "" {
		c.Engine.OutputDir = filepath.Join(c.Engine.Root, "output")
	}
	if c.Engine.LogPath == "" {
		c.Engine.LogPath = filepath.Join(c.Engine.Root, "comfy.log")
	}
}

func (c *Config) validate() error {
	if c.Engine.Host == "" {
		return fmt.Errorf("engine.host is required")
	}
	if c.Engine.Port <= 0 || c.Engine.Port > 65535 {
		return fmt.Errorf("engine.port out of range: %d", c.Engine.Port)
	}
	if c.Engine.ReadyTimeoutSec <= 0 {
		return fmt.Errorf("engine.ready_timeout_sec must be positive")
	}
	if c.Engine.ExecTimeoutSec <= 0 {
		return fmt.Errorf("engine.exec_timeout_sec must be positive")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Artifact.Enabled() && c.Artifact.Bucket == "" {
		return fmt.Errorf("artifact.bucket is required when artifact.endpoint is set")
	}
	return nil
}
