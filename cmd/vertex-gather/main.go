// Gathers one option-chain snapshot per configured underlying from the
// Alpaca marketdata API into the Parquet store. Safe to re-run: completed
// days are skipped.
//
// Usage:
//
//	go run cmd/vertex-gather/main.go [-symbols SPY,QQQ]
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"vertex/internal/config"
	"vertex/internal/gather"
	"vertex/internal/store"
	"vertex/internal/util"
)

func main() {
	symbolsFlag := flag.String("symbols", "", "comma-separated underlyings (overrides config)")
	flag.Parse()

	_ = godotenv.Load()

	cfgPath := "config/vertex.yaml"
	if p := os.Getenv("VERTEX_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	symbols := cfg.Gather.Symbols
	if *symbolsFlag != "" {
		symbols = strings.Split(strings.ToUpper(*symbolsFlag), ",")
	}
	if len(symbols) == 0 {
		log.Fatal("no symbols configured: set gather.symbols or pass -symbols")
	}

	pstore := store.NewParquetStore(cfg.Storage.DataDir)
	gatherer := gather.NewChainGatherer(
		cfg.Alpaca.APIKey,
		cfg.Alpaca.APISecret,
		cfg.Alpaca.BaseURL,
		pstore,
		cfg.Storage.DataDir,
		symbols,
		cfg.Gather.MinDTE,
		cfg.Gather.MaxDTE,
		cfg.Gather.MaxWorkers,
		cfg.Gather.RateLimitPerMin,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := gatherer.Run(ctx); err != nil {
		log.Fatalf("gather error: %v", err)
	}
}
