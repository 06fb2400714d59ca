package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/WessleyAI/finqa/engine/app"
	"github.com/WessleyAI/finqa/engine/corpus"
	"github.com/WessleyAI/finqa/engine/domain"
	"github.com/WessleyAI/finqa/pkg/config"
	"github.com/spf13/cobra"
)

// service is what the commands need from an assembled App.
type service interface {
	Ask(ctx context.Context, question string, threshold *float64) (domain.Answer, error)
	Ingest(ctx context.Context, path string) (corpus.Report, error)
	Status(ctx context.Context) (int, error)
	Close() error
}

// opener builds a service from the config file at path.
type opener func(path string) (service, error)

func openApp(path string) (service, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg.Log.Format = "text"
	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	return app.New(cfg, logger)
}

func newRootCommand(version, commit, date string, open opener) *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "finqa",
		Short: "Finance question answering over a multilingual Q/A corpus",
		Long: `finqa answers finance questions in English, Hinglish and Hindi by
retrieving the closest pre-authored question from a Qdrant index, falling
back to a finance-only generated answer.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")

	withService := func(cmd *cobra.Command, fn func(context.Context, service) error) error {
		svc, err := open(cfgFile)
		if err != nil {
			return err
		}
		defer svc.Close()
		return fn(cmd.Context(), svc)
	}

	rootCmd.AddCommand(newIngestCommand(withService))
	rootCmd.AddCommand(newAskCommand(withService))
	rootCmd.AddCommand(newStatusCommand(withService))
	rootCmd.AddCommand(newVersionCommand(version, commit, date))
	return rootCmd
}

type runner func(*cobra.Command, func(context.Context, service) error) error

func newIngestCommand(run runner) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load the corpus into the index if it is empty",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, func(ctx context.Context, svc service) error {
				rep, err := svc.Ingest(ctx, path)
				if err != nil {
					return err
				}
				return printJSON(cmd, rep)
			})
		},
	}
	cmd.Flags().StringVar(&path, "corpus", "", "corpus JSON file (defaults to corpus.path)")
	return cmd
}

func newAskCommand(run runner) *cobra.Command {
	var threshold float64
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question and print the response as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var t *float64
			if cmd.Flags().Changed("threshold") {
				t = &threshold
			}
			return run(cmd, func(ctx context.Context, svc service) error {
				ans, err := svc.Ask(ctx, args[0], t)
				if err != nil {
					return err
				}
				return printJSON(cmd, app.NewAskResponse(args[0], ans))
			})
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "similarity threshold in [0,1] (defaults to qa.default_threshold)")
	return cmd
}

func newStatusCommand(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the number of indexed vectors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, func(ctx context.Context, svc service) error {
				n, err := svc.Status(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]int{"database_count": n})
			})
		},
	}
}

func newVersionCommand(version, commit, date string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			if version == "" {
				version = "dev"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "finqa %s (%s) built on %s\n", version, commit, date)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
