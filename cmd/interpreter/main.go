// Command interpreter is an interactive terminal front end for an agent
// session that writes and runs code on this machine.
package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

type flags struct {
	configPath  string
	model       string
	apiBase     string
	local       bool
	vision      bool
	autoRun     bool
	debug       bool
	maxBudget   float64
	maxOutput   int
	languages   []string
	metricsFile string
	noFunctions bool
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "interpreter [message]",
		Short: "Chat with a model that can run code on your machine",
		Long: `interpreter starts a conversation with a language model that can write
and execute code in persistent per-language sessions (python, shell,
javascript, go, ...). Code is shown and confirmed before it runs unless
--auto-run is set.

A message given as arguments is sent first; the session then stays
interactive until EOF or "exit".`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, f, args)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&f.configPath, "config", "c", "", "path to a YAML config file")
	fs.StringVarP(&f.model, "model", "m", "", "model to use")
	fs.StringVar(&f.apiBase, "api-base", "", "OpenAI-compatible API base URL")
	fs.BoolVarP(&f.local, "local", "l", false, "use a local OpenAI-compatible server")
	fs.BoolVar(&f.vision, "vision", false, "send image output back to the model")
	fs.BoolVarP(&f.autoRun, "auto-run", "y", false, "run code without asking")
	fs.BoolVarP(&f.debug, "debug", "d", false, "enable debug logging")
	fs.Float64Var(&f.maxBudget, "max-budget", 0, "stop once this much USD has been spent")
	fs.IntVar(&f.maxOutput, "max-output", 0, "characters of execution output kept per message")
	fs.StringSliceVar(&f.languages, "languages", nil, "languages the model may run")
	fs.StringVar(&f.metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")
	fs.BoolVar(&f.noFunctions, "no-function-calling", false, "ask for markdown code blocks instead of tool calls")
	return cmd
}
