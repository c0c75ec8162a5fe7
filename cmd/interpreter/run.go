package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/martinemde/interpreter/agentloop"
	"github.com/martinemde/interpreter/computer"
	"github.com/martinemde/interpreter/config"
	"github.com/martinemde/interpreter/generator"
	"github.com/martinemde/interpreter/unifiedllm"
	"github.com/martinemde/interpreter/vision"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// loadConfig reads the config file and layers changed flags on top.
func loadConfig(cmd *cobra.Command, f flags) (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, err
	}
	changed := cmd.Flags().Changed
	if changed("model") {
		cfg.Model = f.model
	}
	if changed("api-base") {
		cfg.APIBase = f.apiBase
	}
	if changed("local") {
		cfg.Local = f.local
	}
	if changed("vision") {
		cfg.Vision = f.vision
	}
	if changed("auto-run") {
		cfg.AutoRun = f.autoRun
	}
	if changed("debug") {
		cfg.Debug = f.debug
	}
	if changed("max-budget") {
		cfg.MaxBudget = f.maxBudget
	}
	if changed("max-output") {
		cfg.MaxOutput = f.maxOutput
	}
	if changed("languages") {
		cfg.Languages = f.languages
	}
	if changed("no-function-calling") {
		cfg.FunctionCalling = !f.noFunctions
	}
	if cfg.Local && !changed("no-function-calling") {
		// Local servers rarely stream tool calls.
		cfg.FunctionCalling = false
	}
	return cfg, cfg.Validate()
}

func newLogger(debug bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if debug {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

// newClient builds the LLM client for cfg. The OpenAI adapter is registered
// even without a key so that the missing credential surfaces as an
// authentication error on the first request.
func newClient(cfg config.Config, tracker *unifiedllm.CostTracker) (*unifiedllm.Client, error) {
	client := unifiedllm.NewClient()
	switch {
	case cfg.Local:
		client.RegisterProvider(generator.LocalProvider,
			unifiedllm.NewLocalAdapter(cfg.LocalAPIBase(), unifiedllm.WithDefaultModel(cfg.Model), unifiedllm.WithoutToolCalling()))
	case providerFor(cfg) == "anthropic":
		adapter, err := unifiedllm.NewGollmAdapter("anthropic", cfg.APIKey, unifiedllm.WithModel(cfg.Model))
		if err != nil {
			return nil, &agentloop.CredentialError{Err: err}
		}
		client.RegisterProvider("anthropic", adapter)
	default:
		var opts []unifiedllm.OpenAIOption
		if cfg.APIBase != "" {
			opts = append(opts, unifiedllm.WithBaseURL(cfg.APIBase))
		}
		client.RegisterProvider("openai", unifiedllm.NewOpenAIAdapter("openai", cfg.APIKey, opts...))
	}
	client.Use(unifiedllm.BudgetMiddleware(tracker))
	return client, nil
}

func providerFor(cfg config.Config) string {
	if cfg.Provider != "" {
		return cfg.Provider
	}
	if info := unifiedllm.GetModelInfo(cfg.Model); info != nil {
		return info.Provider
	}
	return "openai"
}

func newRegistry(cfg config.Config, logger *zap.Logger) *computer.Registry {
	opts := []computer.RegistryOption{
		computer.WithLogger(logger),
		computer.WithWorkingDir(cfg.WorkingDir),
		computer.WithSecretFiltering(cfg.FilterSecrets),
	}
	if enabled := cfg.EnabledLanguages(); enabled != nil {
		all := computer.DefaultFactories()
		factories := make(map[string]computer.Factory, len(enabled))
		for _, lang := range enabled {
			factories[lang] = all[lang]
		}
		opts = append(opts, computer.WithFactories(factories))
	}
	return computer.NewRegistry(opts...)
}

func run(ctx context.Context, cfg config.Config, f flags, args []string) (err error) {
	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	tracker := unifiedllm.NewCostTracker(cfg.MaxBudget)
	client, err := newClient(cfg, tracker)
	if err != nil {
		return err
	}
	defer client.Close()

	registry := newRegistry(cfg, logger)
	reg := prometheus.NewRegistry()
	opts := []agentloop.Option{
		agentloop.WithLogger(logger),
		agentloop.WithMetrics(agentloop.NewMetrics(reg)),
		agentloop.WithRetryPolicy(cfg.RetryPolicy()),
	}
	if cfg.Vision {
		renderer := vision.NewRenderer(vision.WithLogger(logger))
		defer renderer.Close()
		opts = append(opts, agentloop.WithImageRenderer(renderer))
	}
	router := generator.NewRouter(client, generator.WithLogger(logger), generator.WithLanguages(registry.Languages()))
	sessionCfg := cfg.SessionConfig()
	session := agentloop.NewSession(router, registry, &sessionCfg, opts...)
	defer func() {
		if cerr := session.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if f.metricsFile != "" {
			if werr := prometheus.WriteToTextfile(f.metricsFile, reg); werr != nil && err == nil {
				err = fmt.Errorf("write metrics: %w", werr)
			}
		}
	}()

	out := newPrinter(os.Stdout)
	c := &chat{session: session, printer: out, confirm: huhConfirm, autoRun: cfg.AutoRun}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupts)

	if len(args) > 0 {
		if err := c.turn(ctx, interrupts, strings.Join(args, " ")); err != nil {
			return err
		}
	}
	return c.repl(ctx, os.Stdin, interrupts)
}

// chat drives one terminal conversation.
type chat struct {
	session *agentloop.Session
	printer *printer
	confirm func(title, description string) (bool, error)
	autoRun bool
}

func (c *chat) repl(ctx context.Context, in io.Reader, interrupts <-chan os.Signal) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		c.printer.prompt()
		if !scanner.Scan() {
			c.printer.newline()
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "%reset":
			if err := c.session.Reset(); err != nil {
				c.printer.warn(err.Error())
			}
			c.printer.notice("Session reset.")
			continue
		}
		if err := c.turn(ctx, interrupts, input); err != nil {
			return err
		}
	}
}

// turn sends input and renders the response. Interrupts stop running code
// and end the response without leaving the conversation.
func (c *chat) turn(ctx context.Context, interrupts <-chan os.Signal, input string) error {
	// A Ctrl-C pressed at the prompt belongs to no response.
	drainSignals(interrupts)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-interrupts:
			c.session.Stop()
			cancel()
		case <-done:
		}
	}()

	err := c.render(ctx, c.session.Chat(ctx, input))
	for {
		var accessErr *agentloop.ModelAccessError
		if !errors.As(err, &accessErr) {
			break
		}
		ok, cerr := c.confirm(
			fmt.Sprintf("You do not have access to %s. Use %s instead?", accessErr.Model, accessErr.Fallback),
			"The conversation continues with the fallback model.",
		)
		if cerr != nil || !ok {
			return errors.New(accessErr.DeclinedMessage())
		}
		if err := c.session.AcceptFallback(); err != nil {
			return err
		}
		err = c.render(ctx, c.session.Respond(ctx))
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		c.printer.newline()
		c.printer.notice("Interrupted.")
		return nil
	case errors.Is(err, agentloop.ErrSessionBusy):
		c.printer.warn(err.Error())
		return nil
	}
	return err
}

func drainSignals(ch <-chan os.Signal) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func (c *chat) render(ctx context.Context, events iter.Seq2[agentloop.Event, error]) error {
	for ev, err := range events {
		if err != nil {
			return err
		}
		if ev.Kind == agentloop.EventExecuting && !c.autoRun {
			c.printer.endBlock()
			ok, err := c.confirm("Run this code?", ev.Language)
			if err != nil || !ok {
				c.printer.notice("Skipped.")
				return nil
			}
			continue
		}
		c.printer.handle(ev)
	}
	c.printer.endBlock()
	return ctx.Err()
}
