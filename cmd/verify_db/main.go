package main

import (
	"context"
	"fmt"
	"log"

	"github.com/david/opportunity-orchestrator/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Quick sanity check of the opportunity tables after a scan or migration.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	var total, withURL, enhanced, stuck int
	err = pool.QueryRow(context.Background(), `
		SELECT
			count(*),
			count(*) FILTER (WHERE external_url <> ''),
			count(*) FILTER (WHERE status = 'enhanced'),
			count(*) FILTER (WHERE status = 'enhancing' AND updated_at < NOW() - INTERVAL '30 minutes')
		FROM opportunities
	`).Scan(&total, &withURL, &enhanced, &stuck)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	fmt.Printf("Total opportunities: %d\n", total)
	fmt.Printf("With external URL:   %d\n", withURL)
	fmt.Printf("Enhanced:            %d\n", enhanced)
	fmt.Printf("Stuck in enhancing:  %d\n", stuck)

	var openRuns int
	if err := pool.QueryRow(context.Background(),
		"SELECT count(*) FROM scan_runs WHERE completed_at IS NULL").Scan(&openRuns); err == nil {
		fmt.Printf("Unfinished scan runs: %d\n", openRuns)
	}

	if stuck > 0 {
		fmt.Println("\nRows stuck in 'enhancing' block retries; run cmd/tools/release_stuck to free them.")
	}
}
