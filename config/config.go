// Package config loads interpreter settings from YAML with environment
// overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/martinemde/interpreter/agentloop"
	"github.com/martinemde/interpreter/computer"
	"github.com/martinemde/interpreter/unifiedllm"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by ApplyEnv.
const (
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvModel        = "INTERPRETER_MODEL"
	EnvAPIBase      = "INTERPRETER_API_BASE"
)

// DefaultLocalAPIBase is the OpenAI-compatible endpoint of LM Studio.
const DefaultLocalAPIBase = "http://localhost:1234/v1"

// Config holds everything needed to build a session.
type Config struct {
	Model    string `yaml:"model"`
	Provider string `yaml:"provider,omitempty"`
	APIBase  string `yaml:"api_base,omitempty"`
	APIKey   string `yaml:"api_key,omitempty"`
	Local    bool   `yaml:"local"`

	ContextWindow   int  `yaml:"context_window,omitempty"`
	MaxTokens       int  `yaml:"max_tokens,omitempty"`
	FunctionCalling bool `yaml:"function_calling"`
	Vision          bool `yaml:"vision"`

	// MaxOutput bounds stored execution output, in characters.
	MaxOutput int `yaml:"max_output"`
	// MaxBudget is the spend limit in USD. Zero means unlimited.
	MaxBudget float64 `yaml:"max_budget,omitempty"`
	AutoRun   bool    `yaml:"auto_run"`
	// Languages restricts which languages may run. Empty enables all.
	Languages []string `yaml:"languages,omitempty"`

	SystemMessage      string `yaml:"system_message,omitempty"`
	CustomInstructions string `yaml:"custom_instructions,omitempty"`
	FallbackModel      string `yaml:"fallback_model"`
	WorkingDir         string `yaml:"working_dir,omitempty"`
	FilterSecrets      bool   `yaml:"filter_secrets"`

	// LoopDetectionWindow enables repeated-execution detection over that
	// many executions. Zero disables it.
	LoopDetectionWindow int  `yaml:"loop_detection_window,omitempty"`
	MaxRetries          int  `yaml:"max_retries"`
	Debug               bool `yaml:"debug,omitempty"`
}

// Default returns the built-in configuration.
func Default() Config {
	s := agentloop.DefaultSessionConfig()
	return Config{
		Model:           s.Model,
		FunctionCalling: s.FunctionCalling,
		MaxOutput:       s.MaxOutput,
		FallbackModel:   s.FallbackModel,
		FilterSecrets:   true,
		MaxRetries:      unifiedllm.DefaultRetryPolicy().MaxRetries,
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decode merges YAML into c. Unknown keys are rejected.
func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from the environment. getenv is usually
// os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvModel); v != "" {
		c.Model = v
	}
	if v := getenv(EnvAPIBase); v != "" {
		c.APIBase = v
	}
	if c.APIKey == "" {
		key := EnvOpenAIKey
		if c.Provider == "anthropic" {
			key = EnvAnthropicKey
		}
		c.APIKey = getenv(key)
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Model == "" {
		return errors.New("config: model is required")
	}
	for _, f := range []struct {
		name  string
		value int
	}{
		{"context_window", c.ContextWindow},
		{"max_tokens", c.MaxTokens},
		{"max_output", c.MaxOutput},
		{"loop_detection_window", c.LoopDetectionWindow},
		{"max_retries", c.MaxRetries},
	} {
		if f.value < 0 {
			return fmt.Errorf("config: %s must not be negative, got %d", f.name, f.value)
		}
	}
	if c.MaxOutput > 0 && c.MaxOutput < agentloop.MinMaxOutput {
		return fmt.Errorf("config: max_output must be at least %d to fit the truncation marker, got %d", agentloop.MinMaxOutput, c.MaxOutput)
	}
	if c.MaxBudget < 0 {
		return fmt.Errorf("config: max_budget must not be negative, got %g", c.MaxBudget)
	}
	if c.ContextWindow > 0 && c.MaxTokens >= c.ContextWindow {
		return fmt.Errorf("config: max_tokens (%d) must be smaller than context_window (%d)", c.MaxTokens, c.ContextWindow)
	}
	known := computer.SupportedLanguages()
	for _, lang := range c.Languages {
		if !slices.Contains(known, computer.NormalizeLanguage(lang)) {
			return fmt.Errorf("config: unknown language %q (supported: %v)", lang, known)
		}
	}
	return nil
}

// LocalAPIBase returns the endpoint used in local mode.
func (c Config) LocalAPIBase() string {
	if c.APIBase != "" {
		return c.APIBase
	}
	return DefaultLocalAPIBase
}

// SessionConfig derives the runtime session settings.
func (c Config) SessionConfig() agentloop.SessionConfig {
	s := agentloop.DefaultSessionConfig()
	s.Model = c.Model
	s.FallbackModel = c.FallbackModel
	s.ContextWindow = c.ContextWindow
	s.MaxTokens = c.MaxTokens
	s.FunctionCalling = c.FunctionCalling
	s.Local = c.Local
	s.Vision = c.Vision
	s.MaxOutput = c.MaxOutput
	s.SystemMessage = c.SystemMessage
	s.CustomInstructions = c.CustomInstructions
	s.WorkingDir = c.WorkingDir
	if c.LoopDetectionWindow > 0 {
		s.EnableLoopDetection = true
		s.LoopDetectionWindow = c.LoopDetectionWindow
	}
	return s
}

// RetryPolicy returns the stream-open retry policy.
func (c Config) RetryPolicy() unifiedllm.RetryPolicy {
	p := unifiedllm.DefaultRetryPolicy()
	p.MaxRetries = c.MaxRetries
	return p
}

// EnabledLanguages returns the normalized language allowlist, or nil when
// every language is enabled.
func (c Config) EnabledLanguages() []string {
	if len(c.Languages) == 0 {
		return nil
	}
	out := make([]string, 0, len(c.Languages))
	for _, lang := range c.Languages {
		out = append(out, computer.NormalizeLanguage(lang))
	}
	return out
}
