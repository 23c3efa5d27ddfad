package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/shaonianu-ab/binance-short-bot/internal/binance"
	"github.com/shaonianu-ab/binance-short-bot/internal/config"
	"github.com/shaonianu-ab/binance-short-bot/internal/control"
	"github.com/shaonianu-ab/binance-short-bot/internal/erc20"
	"github.com/shaonianu-ab/binance-short-bot/internal/feed"
	"github.com/shaonianu-ab/binance-short-bot/internal/registry"
	"github.com/shaonianu-ab/binance-short-bot/internal/strategy"
)

func main() {
	root := &cobra.Command{
		Use:          "shortbot",
		Short:        "BSC transfer-watch hedging bot",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bot",
		RunE:  runBot,
	}
	root.AddCommand(runCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the worker control server",
		RunE:  runControlServer,
	}
	root.AddCommand(serveCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runBot(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.TokenListURL == "" {
		return fmt.Errorf("binance_token_list.url is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rpcClient, err := rpc.DialContext(ctx, cfg.RPCHTTPURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer rpcClient.Close()

	tokenList := registry.New(cfg.TokenListURL, cfg.TokenListMaxRPM, cfg.TokenListCacheTTL, logger.Named("token_registry"))
	resolver := erc20.NewResolver(rpcClient, 0, 0, logger.Named("erc20_metadata"))

	venue := binance.NewClient(binance.Config{
		APIKey:     cfg.BinanceAPIKey,
		APISecret:  cfg.BinanceAPISecret,
		Testnet:    cfg.BinanceTestnet,
		RecvWindow: cfg.BinanceRecvWindow,
	}, logger.Named("binance"))
	trader := binance.NewTrader(venue, logger.Named("binance"))

	strat := strategy.New(tokenList, trader, resolver, strategy.Config{
		TriggerValueUSDT:        cfg.TriggerValueUSDT,
		ShortNotionalUSDT:       cfg.ShortNotionalUSDT,
		Leverage:                cfg.Leverage,
		MarginType:              cfg.MarginType,
		TradeWhenTokenNotInList: cfg.TradeWhenTokenNotInList,
		TakeProfitPct:           cfg.TakeProfitPct,
		StopLossPct:             cfg.StopLossPct,
	}, logger.Named("strategy"))

	listener := feed.NewListener(cfg.RPCWsURL, cfg.WatchAddress, feed.Options{}, logger.Named("feed"))

	logger.Info("started",
		zap.String("watching", cfg.WatchAddress.Hex()),
		zap.String("provider", cfg.RPCProvider),
		zap.Float64("trigger_value_usdt", cfg.TriggerValueUSDT),
	)

	// Each event is dispatched fire-and-forget so one slow decision
	// never delays receipt of the next transfer.
	for evt := range listener.Listen(ctx) {
		go strat.OnTransferIn(ctx, evt)
	}

	logger.Info("feed closed, shutting down")
	return nil
}

func runControlServer(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl := control.NewController(cfg.ControlWorkerCmd, cfg.ControlPidFile, logger.Named("control"))
	srv := control.NewServer(ctrl, logger.Named("control"))
	return srv.ListenAndServe(ctx, cfg.ControlListen)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
