package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	ossignal "os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quantgate/quantgate/internal/application"
	"github.com/quantgate/quantgate/internal/backtest"
	"github.com/quantgate/quantgate/internal/config"
	"github.com/quantgate/quantgate/internal/signal"
)

const (
	appName = "quantgate"
	version = "v1.0.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	var configPath string

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Market-signal decision engine with adaptive module weighting",
		Version: version,
		Long: `QuantGate aggregates pluggable signal modules into weighted BUY/SELL/HOLD/WAIT
decisions, learns module reliability from trade outcomes, and pretrains its
weights through causal backtesting.`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to yaml config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the decision engine with its HTTP control surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, cmd)
		},
	}
	serveCmd.Flags().String("candles", "./data/candles", "Directory of candle history files")

	backtestCmd := &cobra.Command{
		Use:   "backtest [symbols...]",
		Short: "Run one backtest pass and merge results into learning state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBacktest(configPath, cmd, args)
		},
	}
	backtestCmd.Flags().String("candles", "./data/candles", "Directory of candle history files")
	backtestCmd.Flags().Bool("json", false, "Print the full result as JSON")

	resetCmd := &cobra.Command{
		Use:   "reset-learning",
		Short: "Clear all learned statistics and persisted state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(configPath)
		},
	}

	rootCmd.AddCommand(serveCmd, backtestCmd, resetCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func buildApp(ctx context.Context, configPath, candleDir string) (*application.App, config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, cfg, err
	}

	app, err := application.New(ctx, cfg, application.Options{
		Fetch:     application.FileCandleFetcher(candleDir),
		Providers: signal.DefaultProviders(cfg.Backtest.Timeframe),
	})
	if err != nil {
		return nil, cfg, err
	}
	return app, cfg, nil
}

func runServe(configPath string, cmd *cobra.Command) error {
	candleDir, _ := cmd.Flags().GetString("candles")

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cfg, err := buildApp(ctx, configPath, candleDir)
	if err != nil {
		return err
	}
	defer app.Close()

	app.Controller.Start()
	defer app.Controller.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- app.Server.Start() }()

	log.Info().Str("addr", cfg.HTTP.Addr).Msg("quantgate serving")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	return app.Server.Shutdown(context.Background())
}

func runBacktest(configPath string, cmd *cobra.Command, args []string) error {
	candleDir, _ := cmd.Flags().GetString("candles")
	asJSON, _ := cmd.Flags().GetBool("json")

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cfg, err := buildApp(ctx, configPath, candleDir)
	if err != nil {
		return err
	}
	defer app.Close()

	symbols := args
	if len(symbols) == 0 {
		symbols = cfg.Scheduler.Symbols
	}
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols: pass them as arguments or set scheduler.symbols")
	}

	result, err := app.RunBacktest(ctx, symbols)
	if err != nil {
		return err
	}

	if asJSON {
		return json.NewEncoder(os.Stdout).Encode(result)
	}
	printResult(result)
	return nil
}

func printResult(result *backtest.Result) {
	fmt.Printf("Symbols tested: %d (skipped %d)\n", result.SymbolsTested, result.SymbolsSkipped)
	fmt.Printf("Trades: %d, win rate %.1f%%, avg pnl %.2f%%\n",
		result.TotalTrades, result.SuccessRate*100, result.AvgProfitPerTrade)
	fmt.Printf("Max drawdown %.2f%%, sharpe %.2f, final equity %.2f\n",
		result.MaxDrawdownPct, result.SharpeRatio, result.FinalEquity)

	if len(result.ModulePerformance) == 0 {
		return
	}
	fmt.Println("Module correctness:")
	modules := make([]string, 0, len(result.ModulePerformance))
	for id := range result.ModulePerformance {
		modules = append(modules, id)
	}
	sort.Strings(modules)
	for _, id := range modules {
		out := result.ModulePerformance[id]
		rate := 0.0
		if out.Total > 0 {
			rate = float64(out.Successes) / float64(out.Total) * 100
		}
		fmt.Printf("  %-12s %d trades, %.1f%% correct, avg pnl %.2f%%\n", id, out.Total, rate, out.AvgPnL)
	}
}

func runReset(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	app, err := application.New(ctx, cfg, application.Options{})
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Learner.ResetLearning(ctx); err != nil {
		return err
	}
	fmt.Println("learning state cleared")
	return nil
}
