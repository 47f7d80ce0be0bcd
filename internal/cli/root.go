// Package cli implements the healthai CLI commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"healthai/internal/config"
	"healthai/internal/logger"
)

type rootOptions struct {
	configPath string
	verbose    bool
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "healthai",
		Short:         "Grounded health question answering over a medical knowledge base",
		Long:          "Ingest medical reference documents into a vector index and ask questions answered from them.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.SetOutput(cmd.ErrOrStderr())
			logger.SetVerbose(opts.verbose)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to YAML config file (default: ./config.yaml or ~/.config/healthai/config.yaml)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose logging")

	root.AddCommand(
		newInitCmd(opts),
		newIngestCmd(opts),
		newAskCmd(opts),
		newChatCmd(opts),
		newPurgeCmd(opts),
	)
	return root
}

// Execute runs the CLI with os.Args.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func (o *rootOptions) loadConfig() (*config.AppConfig, error) {
	if o.configPath == "" {
		cfg, path, err := config.LoadDefault()
		if err != nil {
			return nil, err
		}
		logger.Debug("config: %s", path)
		return cfg, nil
	}
	return config.Load(o.configPath)
}

func (o *rootOptions) open(cmd *cobra.Command, opts buildOptions) (*app, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return build(cmd.Context(), cfg, opts)
}

// preload fills an in-process index before answering, since it starts empty
// on every run. Durable stores are left alone.
func preload(cmd *cobra.Command, a *app, paths []string) error {
	if !a.ephemeral() && len(paths) == 0 {
		return nil
	}
	if _, err := a.svc.EnsureIndex(cmd.Context()); err != nil {
		return err
	}
	if len(paths) == 0 {
		if _, err := os.Stat(a.cfg.Ingest.KnowledgePath); errors.Is(err, os.ErrNotExist) {
			logger.Warn("knowledge base %s not found; answering without documents", a.cfg.Ingest.KnowledgePath)
			return nil
		}
		paths = []string{a.cfg.Ingest.KnowledgePath}
	}
	return ingestInto(cmd, a, paths)
}
