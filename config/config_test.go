package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/martinemde/interpreter/agentloop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "interpreter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	for _, k := range []string{EnvOpenAIKey, EnvAnthropicKey, EnvModel, EnvAPIBase} {
		t.Setenv(k, "")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.Equal(t, agentloop.DefaultMaxOutput, cfg.MaxOutput)
	assert.True(t, cfg.FunctionCalling)
	assert.True(t, cfg.FilterSecrets)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
model: gpt-4-turbo
max_output: 500
auto_run: true
languages: [Python, shell]
custom_instructions: Prefer shell.
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4-turbo", cfg.Model)
	assert.Equal(t, 500, cfg.MaxOutput)
	assert.True(t, cfg.AutoRun)
	assert.True(t, cfg.FunctionCalling, "unset keys keep their defaults")
	assert.Equal(t, []string{"python", "shell"}, cfg.EnabledLanguages())
}

func TestLoadEmptyPath(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadEmptyFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeConfig(t, "modle: gpt-4o\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "modle")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvModel, "claude-3-5-sonnet")
	t.Setenv(EnvAPIBase, "http://localhost:8080/v1")
	t.Setenv(EnvAnthropicKey, "ak")
	t.Setenv(EnvOpenAIKey, "ok")

	cfg, err := Load(writeConfig(t, "provider: anthropic\nmodel: gpt-4o\n"))
	require.NoError(t, err)
	assert.Equal(t, "claude-3-5-sonnet", cfg.Model)
	assert.Equal(t, "http://localhost:8080/v1", cfg.APIBase)
	assert.Equal(t, "ak", cfg.APIKey)
}

func TestEnvDoesNotReplaceConfiguredKey(t *testing.T) {
	cfg := Default()
	cfg.APIKey = "from-file"
	cfg.ApplyEnv(func(string) string { return "from-env" })
	assert.Equal(t, "from-file", cfg.APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"no model", func(c *Config) { c.Model = "" }, "model is required"},
		{"negative output", func(c *Config) { c.MaxOutput = -1 }, "max_output"},
		{"output too small for marker", func(c *Config) { c.MaxOutput = 20 }, "max_output must be at least"},
		{"negative budget", func(c *Config) { c.MaxBudget = -0.5 }, "max_budget"},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, "max_retries"},
		{"tokens exceed window", func(c *Config) { c.ContextWindow = 1000; c.MaxTokens = 1000 }, "max_tokens"},
		{"unknown language", func(c *Config) { c.Languages = []string{"cobol"} }, `unknown language "cobol"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestSessionConfig(t *testing.T) {
	cfg := Default()
	cfg.Model = "gpt-4"
	cfg.MaxOutput = 100
	cfg.Vision = true
	cfg.LoopDetectionWindow = 4

	s := cfg.SessionConfig()
	assert.Equal(t, "gpt-4", s.Model)
	assert.Equal(t, 100, s.MaxOutput)
	assert.True(t, s.Vision)
	assert.True(t, s.EnableLoopDetection)
	assert.Equal(t, 4, s.LoopDetectionWindow)

	assert.False(t, Default().SessionConfig().EnableLoopDetection)
}

func TestRetryPolicy(t *testing.T) {
	cfg := Default()
	cfg.MaxRetries = 0
	assert.Equal(t, 0, cfg.RetryPolicy().MaxRetries)
}

func TestLocalAPIBase(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DefaultLocalAPIBase, cfg.LocalAPIBase())
	cfg.APIBase = "http://x/v1"
	assert.Equal(t, "http://x/v1", cfg.LocalAPIBase())
}
