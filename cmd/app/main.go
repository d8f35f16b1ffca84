package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"FinSignal/internal/di"
	"FinSignal/internal/domain/models"
	"FinSignal/internal/usecase"
	"FinSignal/pkg/config"
	"FinSignal/pkg/util"
)

var (
	configPath string

	trainSymbols []string
	trainModel   string
	trainBars    int
	trainAsync   bool
	trainTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "finsignal",
	Short: "Probabilistic trading signal engine",
	Long: `finsignal turns a stream of OHLCV bars into trading signals with
confidence, position size and stop/take-profit levels.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run ingestion, signal generation and the HTTP API",
	RunE:  runServe,
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train models from stored history",
	Long: `Train models for the given symbols from the bar store.

Example usage:
  finsignal train --symbol AAPL                     # all managed models
  finsignal train --symbol AAPL --model sequence    # one model
  finsignal train --symbol AAPL,MSFT --async        # enqueue for the running replicas`,
	RunE: runTrain,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "config file path")

	trainCmd.Flags().StringSliceVar(&trainSymbols, "symbol", nil, "symbols to train (defaults to configured symbols)")
	trainCmd.Flags().StringVar(&trainModel, "model", models.ModelAll, "model name or \"all\"")
	trainCmd.Flags().IntVar(&trainBars, "bars", 0, "history bars to train on (0 uses the warmup window)")
	trainCmd.Flags().BoolVar(&trainAsync, "async", false, "enqueue on the shared training queue instead of training here")
	trainCmd.Flags().DurationVar(&trainTimeout, "timeout", 30*time.Minute, "training timeout")

	rootCmd.AddCommand(serveCmd, trainCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("app initialization failed: %w", err)
	}
	defer cleanup()
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return app.Run(ctx)
}

func runTrain(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	// training never ingests
	cfg.Source = "none"

	symbols := util.SplitSymbols(strings.Join(trainSymbols, ","))
	if len(symbols) == 0 {
		symbols = cfg.Symbols
	}
	bars := trainBars
	if bars <= 0 {
		bars = cfg.Engine.WarmupBars
	}

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("app initialization failed: %w", err)
	}
	defer cleanup()
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, trainTimeout)
	defer cancel()

	if trainAsync {
		q := app.TrainQueue()
		if q == nil {
			return errors.New("--async needs redis.enabled")
		}
		if err := usecase.EnqueueTraining(ctx, q, symbols, trainModel, bars); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "enqueued %d training jobs\n", len(symbols))
		return nil
	}

	engine := app.Engine()
	defer engine.Lifecycle().Close()
	var errs []error
	for _, s := range symbols {
		res, err := engine.TrainSymbol(ctx, s, trainModel, bars)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s, err))
		}
		names := make([]string, 0, len(res))
		for m := range res {
			names = append(names, m)
		}
		sort.Strings(names)
		for _, m := range names {
			status := "ok"
			if res[m] != nil {
				status = res[m].Error()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-6s %-16s %s\n", s, m, status)
		}
	}
	return errors.Join(errs...)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
