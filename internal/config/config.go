// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Surface kinds.
const (
	SurfaceRemote  = "remote"
	SurfaceLocal   = "local"
	SurfaceBrowser = "browser"
)

// Frontend kinds.
const (
	FrontendConsole = "console"
	FrontendTUI     = "tui"
)

// Failure policies applied when a turn fails.
const (
	OnFailureHalt  = "halt"
	OnFailurePause = "pause"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Agent    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	Planner  PlannerConfig  `mapstructure:"planner" yaml:"planner"`
	Surface  SurfaceConfig  `mapstructure:"surface" yaml:"surface"`
	Frontend FrontendConfig `mapstructure:"frontend" yaml:"frontend"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// AgentConfig controls the turn loop.
type AgentConfig struct {
	// Instructions, when set, skips the initial instructions prompt.
	Instructions string `mapstructure:"instructions" yaml:"instructions"`
	// Autoplay approves consent and safety prompts without asking.
	Autoplay  bool          `mapstructure:"autoplay" yaml:"autoplay"`
	MaxTurns  int           `mapstructure:"max_turns" yaml:"max_turns"`
	OnFailure string        `mapstructure:"on_failure" yaml:"on_failure"`
	TurnDelay time.Duration `mapstructure:"turn_delay" yaml:"turn_delay"`
	// LogicalWidth and LogicalHeight are the resolution the planner reasons in.
	LogicalWidth  int `mapstructure:"logical_width" yaml:"logical_width"`
	LogicalHeight int `mapstructure:"logical_height" yaml:"logical_height"`
}

// PlannerConfig configures the planning service client.
type PlannerConfig struct {
	Provider          string        `mapstructure:"provider" yaml:"provider"`
	Model             string        `mapstructure:"model" yaml:"model"`
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	APITimeout        time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature       float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	MaxElapsed        time.Duration `mapstructure:"max_elapsed" yaml:"max_elapsed"`
	RequestsPerMinute float64       `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	// HistoryLimit caps how many transcript entries are sent per request.
	HistoryLimit int `mapstructure:"history_limit" yaml:"history_limit"`
}

// SurfaceConfig selects and configures the controllable surface.
type SurfaceConfig struct {
	Kind          string        `mapstructure:"kind" yaml:"kind"`
	DragStepDelay time.Duration `mapstructure:"drag_step_delay" yaml:"drag_step_delay"`
	Remote        RemoteConfig  `mapstructure:"remote" yaml:"remote"`
	Local         LocalConfig   `mapstructure:"local" yaml:"local"`
	Browser       BrowserConfig `mapstructure:"browser" yaml:"browser"`
}

// RemoteConfig describes a desktop reached over SSH.
type RemoteConfig struct {
	Host                  string        `mapstructure:"host" yaml:"host"`
	Port                  int           `mapstructure:"port" yaml:"port"`
	User                  string        `mapstructure:"user" yaml:"user"`
	Password              string        `mapstructure:"password" yaml:"password"`
	KeyFile               string        `mapstructure:"key_file" yaml:"key_file"`
	KnownHostsFile        string        `mapstructure:"known_hosts_file" yaml:"known_hosts_file"`
	InsecureIgnoreHostKey bool          `mapstructure:"insecure_ignore_host_key" yaml:"insecure_ignore_host_key"`
	ConnectTimeout        time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	Display               string        `mapstructure:"display" yaml:"display"`
	// XAuthority defaults to /home/<user>/.Xauthority when empty.
	XAuthority        string        `mapstructure:"xauthority" yaml:"xauthority"`
	ScreenshotCommand string        `mapstructure:"screenshot_command" yaml:"screenshot_command"`
	ScreenshotPath    string        `mapstructure:"screenshot_path" yaml:"screenshot_path"`
	ScreenshotSettle  time.Duration `mapstructure:"screenshot_settle" yaml:"screenshot_settle"`
	TypeDelay         time.Duration `mapstructure:"type_delay" yaml:"type_delay"`
}

// LocalConfig describes the desktop of the machine the agent runs on.
type LocalConfig struct {
	Display           string        `mapstructure:"display" yaml:"display"`
	XAuthority        string        `mapstructure:"xauthority" yaml:"xauthority"`
	ScreenshotCommand string        `mapstructure:"screenshot_command" yaml:"screenshot_command"`
	TypeDelay         time.Duration `mapstructure:"type_delay" yaml:"type_delay"`
	CommandTimeout    time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
}

// BrowserConfig describes a Chrome instance driven over CDP.
type BrowserConfig struct {
	Headless         bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath         string        `mapstructure:"exec_path" yaml:"exec_path"`
	StartURL         string        `mapstructure:"start_url" yaml:"start_url"`
	ViewportWidth    int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight   int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	ScrollStepPixels int           `mapstructure:"scroll_step_pixels" yaml:"scroll_step_pixels"`
	ActionTimeout    time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
}

// FrontendConfig selects the interaction frontend.
type FrontendConfig struct {
	Kind string `mapstructure:"kind" yaml:"kind"`
}

// StoreConfig configures the optional PostgreSQL turn archive.
type StoreConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	URL      string `mapstructure:"url" yaml:"url"`
	MaxConns int32  `mapstructure:"max_conns" yaml:"max_conns"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration parameter.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "deskpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Agent --
	v.SetDefault("agent.instructions", "")
	v.SetDefault("agent.autoplay", true)
	v.SetDefault("agent.max_turns", 0)
	v.SetDefault("agent.on_failure", OnFailurePause)
	v.SetDefault("agent.turn_delay", "100ms")
	v.SetDefault("agent.logical_width", 1024)
	v.SetDefault("agent.logical_height", 768)

	// -- Planner --
	v.SetDefault("planner.provider", "gemini")
	v.SetDefault("planner.model", "gemini-2.5-flash")
	v.SetDefault("planner.api_key", "")
	v.SetDefault("planner.api_timeout", "90s")
	v.SetDefault("planner.temperature", 0.2)
	v.SetDefault("planner.max_retries", 3)
	v.SetDefault("planner.max_elapsed", "2m")
	v.SetDefault("planner.requests_per_minute", 30)
	v.SetDefault("planner.history_limit", 40)

	// -- Surface --
	v.SetDefault("surface.kind", SurfaceRemote)
	v.SetDefault("surface.drag_step_delay", "50ms")

	v.SetDefault("surface.remote.host", "")
	v.SetDefault("surface.remote.port", 22)
	v.SetDefault("surface.remote.user", "")
	v.SetDefault("surface.remote.password", "")
	v.SetDefault("surface.remote.key_file", "")
	v.SetDefault("surface.remote.known_hosts_file", "~/.ssh/known_hosts")
	v.SetDefault("surface.remote.insecure_ignore_host_key", false)
	v.SetDefault("surface.remote.connect_timeout", "15s")
	v.SetDefault("surface.remote.display", ":0")
	v.SetDefault("surface.remote.xauthority", "")
	v.SetDefault("surface.remote.screenshot_command", "gnome-screenshot -f {path}")
	v.SetDefault("surface.remote.screenshot_path", "/tmp/deskpilot_screenshot.png")
	v.SetDefault("surface.remote.screenshot_settle", "1s")
	v.SetDefault("surface.remote.type_delay", "50ms")

	v.SetDefault("surface.local.display", ":0")
	v.SetDefault("surface.local.xauthority", "")
	v.SetDefault("surface.local.screenshot_command", "gnome-screenshot -f {path}")
	v.SetDefault("surface.local.type_delay", "50ms")
	v.SetDefault("surface.local.command_timeout", "30s")

	v.SetDefault("surface.browser.headless", true)
	v.SetDefault("surface.browser.exec_path", "")
	v.SetDefault("surface.browser.start_url", "about:blank")
	v.SetDefault("surface.browser.viewport_width", 1280)
	v.SetDefault("surface.browser.viewport_height", 800)
	v.SetDefault("surface.browser.scroll_step_pixels", 100)
	v.SetDefault("surface.browser.action_timeout", "10s")

	// -- Frontend --
	v.SetDefault("frontend.kind", FrontendConsole)

	// -- Store --
	v.SetDefault("store.enabled", false)
	v.SetDefault("store.url", "")
	v.SetDefault("store.max_conns", 4)
}

// BindEnv binds the secrets and the legacy VM_* variables to their keys.
func BindEnv(v *viper.Viper) {
	_ = v.BindEnv("planner.api_key", "DESKPILOT_PLANNER_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("surface.remote.host", "DESKPILOT_SURFACE_REMOTE_HOST", "VM_HOSTNAME")
	_ = v.BindEnv("surface.remote.user", "DESKPILOT_SURFACE_REMOTE_USER", "VM_USERNAME")
	_ = v.BindEnv("surface.remote.password", "DESKPILOT_SURFACE_REMOTE_PASSWORD", "VM_PASSWORD")
	_ = v.BindEnv("store.url", "DESKPILOT_STORE_URL", "DATABASE_URL")
}

// NewConfigFromViper creates a validated configuration from a viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	BindEnv(v)

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Agent.Validate(); err != nil {
		return err
	}
	if err := c.Planner.Validate(); err != nil {
		return err
	}
	if err := c.Surface.Validate(); err != nil {
		return err
	}
	switch c.Frontend.Kind {
	case FrontendConsole, FrontendTUI:
	default:
		return fmt.Errorf("frontend.kind must be one of %q or %q, got %q", FrontendConsole, FrontendTUI, c.Frontend.Kind)
	}
	if c.Store.Enabled && c.Store.URL == "" {
		return fmt.Errorf("store.url is required when store.enabled is true")
	}
	return nil
}

// Validate checks the agent loop settings.
func (a *AgentConfig) Validate() error {
	if a.LogicalWidth <= 0 || a.LogicalHeight <= 0 {
		return fmt.Errorf("agent.logical_width and agent.logical_height must be positive integers")
	}
	if a.MaxTurns < 0 {
		return fmt.Errorf("agent.max_turns must not be negative")
	}
	if a.TurnDelay < 0 {
		return fmt.Errorf("agent.turn_delay must not be negative")
	}
	switch a.OnFailure {
	case OnFailureHalt, OnFailurePause:
	default:
		return fmt.Errorf("agent.on_failure must be %q or %q, got %q", OnFailureHalt, OnFailurePause, a.OnFailure)
	}
	return nil
}

// Validate checks the planner settings. The API key is checked when the
// client is constructed, so commands that never plan do not need one.
func (p *PlannerConfig) Validate() error {
	if p.Model == "" {
		return fmt.Errorf("planner.model is required")
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("planner.max_retries must not be negative")
	}
	if p.RequestsPerMinute < 0 {
		return fmt.Errorf("planner.requests_per_minute must not be negative")
	}
	if p.HistoryLimit <= 0 {
		return fmt.Errorf("planner.history_limit must be a positive integer")
	}
	return nil
}

// Validate checks the selected surface's settings.
func (s *SurfaceConfig) Validate() error {
	if s.DragStepDelay < 0 {
		return fmt.Errorf("surface.drag_step_delay must not be negative")
	}
	switch s.Kind {
	case SurfaceRemote:
		return s.Remote.Validate()
	case SurfaceLocal:
		if s.Local.ScreenshotCommand == "" {
			return fmt.Errorf("surface.local.screenshot_command is required")
		}
		return nil
	case SurfaceBrowser:
		if s.Browser.ViewportWidth <= 0 || s.Browser.ViewportHeight <= 0 {
			return fmt.Errorf("surface.browser.viewport_width and viewport_height must be positive integers")
		}
		return nil
	default:
		return fmt.Errorf("surface.kind must be one of %q, %q or %q, got %q", SurfaceRemote, SurfaceLocal, SurfaceBrowser, s.Kind)
	}
}

// Validate checks the SSH target settings.
func (r *RemoteConfig) Validate() error {
	if r.Host == "" {
		return fmt.Errorf("surface.remote.host is required")
	}
	if r.User == "" {
		return fmt.Errorf("surface.remote.user is required")
	}
	if r.Port <= 0 || r.Port > 65535 {
		return fmt.Errorf("surface.remote.port must be between 1 and 65535")
	}
	if r.Password == "" && r.KeyFile == "" {
		return fmt.Errorf("surface.remote requires a password or a key_file")
	}
	if r.ScreenshotCommand == "" || r.ScreenshotPath == "" {
		return fmt.Errorf("surface.remote.screenshot_command and screenshot_path are required")
	}
	return nil
}
