package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dscd/config"
	"dscd/native/bank"
	"dscd/native/dsc"
	"dscd/native/oracle"
	"dscd/observability"
	"dscd/observability/logging"
	"dscd/rpc"
	"dscd/state"
	"dscd/storage"
	"dscd/token"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	memory := flag.Bool("memory", false, "DEV ONLY: keep all state in memory instead of the data directory")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup("dscd", cfg.Env, cfg.LogFile)

	var db storage.Database
	if *memory {
		db = storage.NewMemDB()
	} else {
		db, err = storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			panic(fmt.Sprintf("Failed to open database: %v", err))
		}
	}
	defer db.Close()

	store := state.NewStore(db)

	stable := token.New("Decentralized Stable Coin", "DSC")
	minter, err := stable.GrantMinter(dsc.EngineAddress())
	if err != nil {
		logger.Error("Failed to grant minter capability", slog.Any("error", err))
		os.Exit(1)
	}

	assets := make([]string, 0, len(cfg.Assets))
	orderedFeeds := make([]oracle.PriceFeed, 0, len(cfg.Assets))
	feeds := make(map[string]*oracle.ManualFeed, len(cfg.Assets))
	maxAge := time.Duration(cfg.MaxQuoteAgeSec) * time.Second
	for _, asset := range cfg.Assets {
		price, err := asset.FeedPrice()
		if err != nil {
			logger.Error("Invalid asset price", slog.String("asset", asset.Symbol), slog.Any("error", err))
			os.Exit(1)
		}
		feed := oracle.NewManualFeed(maxAge)
		if err := feed.SetPrice(price); err != nil {
			logger.Error("Failed to seed price feed", slog.String("asset", asset.Symbol), slog.Any("error", err))
			os.Exit(1)
		}
		assets = append(assets, asset.Symbol)
		orderedFeeds = append(orderedFeeds, feed)
		feeds[asset.Symbol] = feed
	}

	ledger := bank.NewLedger(store)
	engine, err := dsc.NewEngine(assets, orderedFeeds, minter, ledger)
	if err != nil {
		logger.Error("Failed to construct engine", slog.Any("error", err))
		os.Exit(1)
	}
	engine.SetState(store)
	engine.SetEmitter(observability.EventEmitter{})

	observability.Ledger(
		func() float64 {
			supply, _ := new(big.Float).SetInt(stable.TotalSupply()).Float64()
			return supply
		},
		func() float64 {
			debt, err := store.TotalDebt()
			if err != nil {
				return math.NaN()
			}
			value, _ := new(big.Float).SetInt(debt).Float64()
			return value
		},
	)

	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      rpc.NewServer(engine, ledger, stable, feeds, logger).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("API listening", slog.String("address", cfg.ListenAddress))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("API server failed", slog.Any("error", err))
			stop()
		}
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddress, Handler: mux}
		go func() {
			logger.Info("Metrics listening", slog.String("address", cfg.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", slog.Any("error", err))
			}
		}()
	}

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", slog.Any("error", err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics shutdown failed", slog.Any("error", err))
		}
	}
}
