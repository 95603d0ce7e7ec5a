// Runs a backtest of an IPS rule set over the stored option-chain history
// and prints the results summary.
//
// Usage:
//
//	go run cmd/vertex-backtest/main.go [-ips config/ips/conservative.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/joho/godotenv"

	"vertex/internal/backtest"
	"vertex/internal/config"
	"vertex/internal/domain"
	"vertex/internal/ips"
	"vertex/internal/sentiment"
	"vertex/internal/store"
	"vertex/internal/timetravel"
	"vertex/internal/util"
)

func main() {
	ipsFlag := flag.String("ips", "", "path to the IPS YAML (overrides config)")
	startFlag := flag.String("start", "", "window start YYYY-MM-DD (overrides config)")
	endFlag := flag.String("end", "", "window end YYYY-MM-DD (overrides config)")
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

	if *ipsFlag != "" {
		cfg.Backtest.IPSPath = *ipsFlag
	}
	if *startFlag != "" {
		cfg.Backtest.StartDate = *startFlag
	}
	if *endFlag != "" {
		cfg.Backtest.EndDate = *endFlag
	}
	if *symbolsFlag != "" {
		cfg.Backtest.Symbols = strings.Split(strings.ToUpper(*symbolsFlag), ",")
	}

	ruleSet, err := ips.LoadFile(cfg.Backtest.IPSPath)
	if err != nil {
		log.Fatalf("failed to load ips: %v", err)
	}
	start, end, err := cfg.Backtest.Window()
	if err != nil {
		log.Fatalf("invalid backtest window: %v", err)
	}

	snapshots := store.NewParquetStore(cfg.Storage.DataDir)
	results, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open result store: %v", err)
	}
	defer results.Close()

	deps := backtest.Deps{Results: results}
	if cfg.Backtest.Sentiment {
		mdc := marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    cfg.Alpaca.APIKey,
			APISecret: cfg.Alpaca.APISecret,
		})
		deps.Sentiment = sentiment.NewNewsSource(mdc, 0)
	}
	if cfg.Backtest.TimeTravel {
		deps.TimeTravel = timetravel.New(results, 0)
	}

	eng := backtest.New(snapshots, deps)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res, err := eng.Run(ctx, backtest.Params{
		IPS:             ruleSet,
		Start:           start,
		End:             end,
		Symbols:         cfg.Backtest.Symbols,
		StartingCapital: cfg.Backtest.StartingCapital,
		RiskPerTradePct: cfg.Backtest.RiskPerTradePct,
		AIThreshold:     cfg.Backtest.AIThreshold,
		Seed:            cfg.Backtest.Seed,
		OnProgress: func(p backtest.Progress) {
			fmt.Printf("  [%d/%d] %s: %d trades analyzed\n",
				p.ProcessedSymbols, p.TotalSymbols, p.CurrentSymbol, p.TradesAnalyzed)
		},
	})
	if err != nil {
		log.Fatalf("backtest failed: %v", err)
	}

	printResults(res)
}

func printResults(r *domain.BacktestResults) {
	fmt.Printf("\nRun %s\n", r.RunID)
	fmt.Printf("  Candidates evaluated: %d\n", r.TotalCandidates)
	fmt.Printf("  Trades taken:         %d (%d wins / %d losses, %.1f%% win rate)\n",
		r.TotalTrades, r.Wins, r.Losses, r.WinRate)
	fmt.Printf("  Avg P&L:              $%.2f (median $%.2f)\n", r.AvgPnL, r.MedianPnL)
	fmt.Printf("  Avg ROI:              %.2f%% (median %.2f%%)\n", r.AvgROI, r.MedianROI)
	fmt.Printf("  Sharpe:               %s\n", fmtRatio(r.SharpeRatio))
	fmt.Printf("  Sortino:              %s\n", fmtRatio(r.SortinoRatio))
	fmt.Printf("  Profit factor:        %s\n", fmtRatio(r.ProfitFactor))
	fmt.Printf("  Max drawdown (P&L):   $%.2f\n", r.MaxDrawdown)
	fmt.Printf("  Portfolio:            $%.2f -> $%.2f (%.2f%%, CAGR %.2f%%, max DD %.2f%%)\n",
		r.StartingPortfolio, r.EndingPortfolio, r.TotalReturn, r.CAGR*100, r.PortfolioMaxDrawdown)

	if len(r.StrategyPerformance) > 0 {
		fmt.Println("  By strategy:")
		for k, b := range r.StrategyPerformance {
			fmt.Printf("    %-22s %3d trades, %.1f%% win rate, $%.2f\n", k, b.Trades, b.WinRate, b.TotalPnL)
		}
	}
}

func fmtRatio(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *v)
}
