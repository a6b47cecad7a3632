package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/david/opportunity-orchestrator/internal/config"
	"github.com/david/opportunity-orchestrator/internal/db"
	"github.com/jedib0t/go-pretty/v6/table"
)

// Prints the recent scan runs and the opportunity status breakdown.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	store := db.NewStore(pool)

	runs, err := store.RecentScanRuns(ctx, 10)
	if err != nil {
		log.Fatal(err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Cycle", "Status", "Found", "Saved", "Errors", "Duration", "Started At"})

	for _, r := range runs {
		duration := "Running..."
		if r.CompletedAt != nil {
			duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		t.AppendRow(table.Row{r.Cycle, r.Status, r.ItemsFound, r.ItemsSaved, r.Errors, duration, r.StartedAt.Format("15:04:05")})
	}
	t.Render()

	stats, err := store.GetStats(ctx)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("\nTotal opportunities: %v\n", stats["total"])
	if counts, ok := stats["status_counts"].(map[string]int); ok {
		st := table.NewWriter()
		st.SetOutputMirror(os.Stdout)
		st.AppendHeader(table.Row{"Status", "Count"})
		for status, count := range counts {
			st.AppendRow(table.Row{status, count})
		}
		st.Render()
	}
}
