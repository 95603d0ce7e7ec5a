// Inspects stored backtest runs.
//
// Usage:
//
//	go run cmd/vertex-runs/main.go              # list recent runs
//	go run cmd/vertex-runs/main.go -run <id>    # show one run's results
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"vertex/internal/config"
	"vertex/internal/store"
	"vertex/internal/util"
)

func main() {
	runFlag := flag.String("run", "", "run id to show in detail")
	limitFlag := flag.Int("limit", 20, "max runs to list")
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

	util.SetDefault(util.NewLogger("warn", cfg.Logging.Format))

	results, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open result store: %v", err)
	}
	defer results.Close()

	ctx := context.Background()
	if *runFlag != "" {
		showRun(ctx, results, *runFlag)
		return
	}
	listRuns(ctx, results, *limitFlag)
}

func listRuns(ctx context.Context, s *store.SQLiteStore, limit int) {
	runs, err := s.ListRuns(ctx, limit)
	if err != nil {
		log.Fatalf("listing runs: %v", err)
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return
	}

	fmt.Printf("%-28s %-24s %-10s %-23s %7s %7s\n",
		"RUN", "IPS", "STATUS", "WINDOW", "TRADES", "TAKEN")
	for _, r := range runs {
		window := r.StartDate.Format("2006-01-02") + ".." + r.EndDate.Format("2006-01-02")
		fmt.Printf("%-28s %-24s %-10s %-23s %7d %7d\n",
			r.ID, r.IPSName, r.Status, window, r.TotalTrades, r.TradesPassed)
		if r.Error != "" {
			fmt.Printf("  error: %s\n", r.Error)
		}
	}
}

func showRun(ctx context.Context, s *store.SQLiteStore, runID string) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		log.Fatalf("loading run %s: %v", runID, err)
	}
	fmt.Printf("Run %s (%s)\n", run.ID, run.Status)
	fmt.Printf("  IPS:    %s\n", run.IPSName)
	fmt.Printf("  Window: %s .. %s\n",
		run.StartDate.Format("2006-01-02"), run.EndDate.Format("2006-01-02"))
	if run.Error != "" {
		fmt.Printf("  Error:  %s\n", run.Error)
		return
	}

	res, err := s.GetResults(ctx, runID)
	if err != nil {
		log.Fatalf("loading results for %s: %v", runID, err)
	}
	fmt.Printf("  Trades: %d (%.1f%% win rate)\n", res.TotalTrades, res.WinRate)
	fmt.Printf("  Portfolio: $%.2f -> $%.2f (%.2f%%)\n",
		res.StartingPortfolio, res.EndingPortfolio, res.TotalReturn)

	fmt.Println("  Recent trades:")
	n := len(res.Trades)
	for _, m := range res.Trades[max(0, n-10):] {
		fmt.Printf("    %s  %-20s %-5s credit %.2f  exit %.2f  pnl %8.2f  %s\n",
			m.EntryDate.Format("2006-01-02"), m.ContractSymbol, m.Outcome,
			m.EntryCredit, m.ExitPrice, m.RealizedPnL, m.Strategy)
	}
}
