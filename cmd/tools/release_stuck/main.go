package main

import (
	"context"
	"fmt"
	"log"

	"github.com/david/opportunity-orchestrator/internal/config"
	"github.com/david/opportunity-orchestrator/internal/db"
)

// Releases opportunities stranded in 'enhancing' by a crashed or killed
// service instance. Rows move to 'enhancement_failed', which the next
// enhancement sweep picks up for retry.
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

	tag, err := pool.Exec(ctx, `
		UPDATE opportunities
		SET status = 'enhancement_failed', updated_at = NOW()
		WHERE status = 'enhancing' AND updated_at < NOW() - INTERVAL '30 minutes'
	`)
	if err != nil {
		log.Fatalf("Release failed: %v", err)
	}

	fmt.Printf("Released %d stuck opportunities\n", tag.RowsAffected())
}
