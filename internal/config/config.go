// Package config loads the webprobe configuration from YAML with
// environment variable expansion and applies defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Engine names.
const (
	EnginePlaywright = "playwright"
	EngineCDP        = "cdp"
)

// Default values applied by Resolve.
const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 720
	DefaultTimeoutMS      = 30000
	DefaultLogCap         = 1000
)

// Config is the on-disk configuration.
type Config struct {
	// Engine selects the automation engine: "playwright" or "cdp".
	Engine string `yaml:"engine,omitempty"`

	// Headless runs the browser without UI.
	Headless bool `yaml:"headless,omitempty"`

	// Viewport size for new pages.
	ViewportWidth  int `yaml:"viewportWidth,omitempty"`
	ViewportHeight int `yaml:"viewportHeight,omitempty"`

	// DefaultTimeoutMS applies to operations invoked without an explicit
	// timeout.
	DefaultTimeoutMS int `yaml:"defaultTimeoutMs,omitempty"`

	// LogCap bounds the console and network logs (oldest evicted).
	LogCap int `yaml:"logCap,omitempty"`

	// HTTPAddr, when set, serves MCP over streamable HTTP instead of
	// stdio (e.g. ":9280").
	HTTPAddr string `yaml:"httpAddr,omitempty"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Engine:   EnginePlaywright,
		Headless: true,
	}
}

// Load reads a YAML config file, expanding ${ENV} references first.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses YAML config bytes with env expansion.
func LoadFromBytes(data []byte) (Config, error) {
	var c Config
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &c); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return c, nil
}

// Resolved is the configuration with defaults applied.
type Resolved struct {
	Engine         string
	Headless       bool
	ViewportWidth  int
	ViewportHeight int
	DefaultTimeout time.Duration
	LogCap         int
	HTTPAddr       string
}

// Resolve applies defaults and validates the engine selection.
func (c Config) Resolve() (Resolved, error) {
	r := Resolved{
		Engine:         c.Engine,
		Headless:       c.Headless,
		ViewportWidth:  c.ViewportWidth,
		ViewportHeight: c.ViewportHeight,
		LogCap:         c.LogCap,
		HTTPAddr:       c.HTTPAddr,
	}

	if r.Engine == "" {
		r.Engine = EnginePlaywright
	}
	if r.Engine != EnginePlaywright && r.Engine != EngineCDP {
		return Resolved{}, fmt.Errorf("unknown engine %q (want %s or %s)", r.Engine, EnginePlaywright, EngineCDP)
	}

	if r.ViewportWidth <= 0 {
		r.ViewportWidth = DefaultViewportWidth
	}
	if r.ViewportHeight <= 0 {
		r.ViewportHeight = DefaultViewportHeight
	}

	timeoutMS := c.DefaultTimeoutMS
	if timeoutMS <= 0 {
		timeoutMS = DefaultTimeoutMS
	}
	r.DefaultTimeout = time.Duration(timeoutMS) * time.Millisecond

	if r.LogCap <= 0 {
		r.LogCap = DefaultLogCap
	}

	return r, nil
}
