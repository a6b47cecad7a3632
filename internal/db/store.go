package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/david/opportunity-orchestrator/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

type ListParams struct {
	Status string
	Source string
	Limit  int
	Offset int
}

type ListResult struct {
	Opportunities []models.Opportunity `json:"opportunities"`
	Total         int                  `json:"total"`
	Limit         int                  `json:"limit"`
	Offset        int                  `json:"offset"`
}

const selectCols = `id, source, type, title, description, potential_revenue,
	competition_level, status, metadata, external_url, discovered_at, updated_at`

func scanOpportunity(scan func(dest ...interface{}) error) (models.Opportunity, error) {
	var o models.Opportunity
	var metadataRaw []byte

	err := scan(
		&o.ID, &o.Source, &o.Type, &o.Title, &o.Description, &o.PotentialRevenue,
		&o.CompetitionLevel, &o.Status, &metadataRaw, &o.ExternalURL, &o.DiscoveredAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}

	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &o.Metadata); err != nil {
			return o, fmt.Errorf("metadata decode failed for %s: %w", o.ID, err)
		}
	}
	if o.Metadata == nil {
		o.Metadata = map[string]interface{}{}
	}

	return o, nil
}

// CreateOpportunity inserts a new record with status=new and fills in the
// generated id and discovery timestamp.
func (s *Store) CreateOpportunity(ctx context.Context, o *models.Opportunity) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.Status == "" {
		o.Status = models.StatusNew
	}
	if o.Metadata == nil {
		o.Metadata = map[string]interface{}{}
	}

	metadataJSON, err := json.Marshal(o.Metadata)
	if err != nil {
		return fmt.Errorf("metadata encode failed: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO opportunities (id, source, type, title, description, potential_revenue, competition_level, status, metadata, external_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING discovered_at, updated_at
	`, o.ID, o.Source, o.Type, o.Title, o.Description, o.PotentialRevenue, o.CompetitionLevel, o.Status, metadataJSON, o.ExternalURL,
	).Scan(&o.DiscoveredAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert failed: %w", err)
	}

	return nil
}

// UpsertScanned saves a scan-discovered opportunity, deduplicating on
// (source, external_url). Returns true when a new row was created.
func (s *Store) UpsertScanned(ctx context.Context, o *models.Opportunity) (bool, error) {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.Metadata == nil {
		o.Metadata = map[string]interface{}{}
	}

	metadataJSON, err := json.Marshal(o.Metadata)
	if err != nil {
		return false, fmt.Errorf("metadata encode failed: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO opportunities (id, source, type, title, description, potential_revenue, competition_level, status, metadata, external_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'new', $8, $9)
		ON CONFLICT (source, external_url) WHERE external_url <> '' DO NOTHING
	`, o.ID, o.Source, o.Type, o.Title, o.Description, o.PotentialRevenue, o.CompetitionLevel, metadataJSON, o.ExternalURL)
	if err != nil {
		return false, fmt.Errorf("upsert failed: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

func (s *Store) GetOpportunity(ctx context.Context, id uuid.UUID) (*models.Opportunity, error) {
	sql := fmt.Sprintf("SELECT %s FROM opportunities WHERE id = $1", selectCols)
	row := s.pool.QueryRow(ctx, sql, id)

	o, err := scanOpportunity(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("not found: %w", err)
	}

	return &o, nil
}

func (s *Store) ListOpportunities(ctx context.Context, params ListParams) (*ListResult, error) {
	where := "WHERE 1=1"
	var args []interface{}
	argIdx := 1

	if params.Status != "" && params.Status != "all" {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, params.Status)
		argIdx++
	}
	if params.Source != "" {
		where += fmt.Sprintf(" AND source = $%d", argIdx)
		args = append(args, params.Source)
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM opportunities "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count failed: %w", err)
	}

	limit := params.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}

	sql := fmt.Sprintf("SELECT %s FROM opportunities %s ORDER BY discovered_at DESC LIMIT $%d OFFSET $%d",
		selectCols, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var opps []models.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		opps = append(opps, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}
	if opps == nil {
		opps = []models.Opportunity{}
	}

	return &ListResult{Opportunities: opps, Total: total, Limit: limit, Offset: offset}, nil
}

// ListByStatus returns up to limit opportunities in the given lifecycle state,
// oldest first so the enhancement sweep works through the backlog in order.
func (s *Store) ListByStatus(ctx context.Context, status models.Status, limit int) ([]models.Opportunity, error) {
	if limit <= 0 {
		limit = 50
	}
	sql := fmt.Sprintf("SELECT %s FROM opportunities WHERE status = $1 ORDER BY discovered_at ASC LIMIT $2", selectCols)
	rows, err := s.pool.Query(ctx, sql, status, limit)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var opps []models.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		opps = append(opps, o)
	}
	return opps, rows.Err()
}

// TryMarkEnhancing claims an opportunity for enhancement. The conditional
// UPDATE makes the claim race-free even with multiple service instances
// sharing a database: only rows currently in 'new' or 'enhancement_failed'
// can move to 'enhancing', and exactly one caller wins.
func (s *Store) TryMarkEnhancing(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE opportunities
		SET status = 'enhancing', updated_at = NOW()
		WHERE id = $1 AND status IN ('new', 'enhancement_failed')
	`, id)
	if err != nil {
		return false, fmt.Errorf("claim failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// enhancementPatch builds the metadata fragment merged in on write-back.
func enhancementPatch(analysis map[string]interface{}, confidence float64, at time.Time) map[string]interface{} {
	return map[string]interface{}{
		"ai_analysis":           analysis,
		"ai_confidence_score":   confidence,
		"enhancement_timestamp": at.UTC().Format(time.RFC3339),
	}
}

// SaveEnhancement merges the analysis results into metadata and advances the
// opportunity to 'enhanced'. The status guard keeps the write idempotent.
func (s *Store) SaveEnhancement(ctx context.Context, id uuid.UUID, analysis map[string]interface{}, confidence float64) error {
	patch, err := json.Marshal(enhancementPatch(analysis, confidence, time.Now()))
	if err != nil {
		return fmt.Errorf("analysis encode failed: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE opportunities
		SET metadata = metadata || $2::jsonb, status = 'enhanced', updated_at = NOW()
		WHERE id = $1 AND status = 'enhancing'
	`, id, patch)
	if err != nil {
		return fmt.Errorf("enhancement write failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("opportunity %s not in enhancing state", id)
	}
	return nil
}

// MarkEnhancementFailed records a failed pass. The row stays retryable.
func (s *Store) MarkEnhancementFailed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE opportunities
		SET status = 'enhancement_failed', updated_at = NOW()
		WHERE id = $1 AND status = 'enhancing'
	`, id)
	if err != nil {
		return fmt.Errorf("failure write failed: %w", err)
	}
	return nil
}

// MergeMetadata patches arbitrary keys into an opportunity's metadata.
// Used for the deployment sub-status, which is independent of the
// enhancement lifecycle column.
func (s *Store) MergeMetadata(ctx context.Context, id uuid.UUID, patch map[string]interface{}) error {
	raw, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("patch encode failed: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE opportunities SET metadata = metadata || $2::jsonb, updated_at = NOW() WHERE id = $1
	`, id, raw)
	if err != nil {
		return fmt.Errorf("metadata merge failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("opportunity %s not found", id)
	}
	return nil
}

// StartScanRun records the beginning of a scan cycle.
func (s *Store) StartScanRun(ctx context.Context, cycle string) (uuid.UUID, error) {
	var runID uuid.UUID
	err := s.pool.QueryRow(ctx,
		"INSERT INTO scan_runs (cycle, status) VALUES ($1, 'running') RETURNING run_id",
		cycle).Scan(&runID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create scan run: %w", err)
	}
	return runID, nil
}

// FinishScanRun closes out a scan cycle record.
func (s *Store) FinishScanRun(ctx context.Context, runID uuid.UUID, status string, found, saved, errCount int, duration time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scan_runs SET
			status = $1,
			items_found = $2,
			items_saved = $3,
			errors = $4,
			completed_at = NOW(),
			details = $5
		WHERE run_id = $6`,
		status, found, saved, errCount,
		fmt.Sprintf(`{"duration_ms": %d}`, duration.Milliseconds()),
		runID,
	)
	if err != nil {
		return fmt.Errorf("failed to update scan run %s: %w", runID, err)
	}
	return nil
}

func (s *Store) RecentScanRuns(ctx context.Context, limit int) ([]models.ScanRun, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, cycle, status, items_found, items_saved, errors, started_at, completed_at
		FROM scan_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var runs []models.ScanRun
	for rows.Next() {
		var r models.ScanRun
		if err := rows.Scan(&r.RunID, &r.Cycle, &r.Status, &r.ItemsFound, &r.ItemsSaved, &r.Errors, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *Store) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM opportunities").Scan(&total); err != nil {
		return nil, fmt.Errorf("stats query failed: %w", err)
	}
	stats["total"] = total

	statusCounts := map[string]int{}
	rows, err := s.pool.Query(ctx, "SELECT status, COUNT(*) FROM opportunities GROUP BY status")
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var status string
			var count int
			if scanErr := rows.Scan(&status, &count); scanErr == nil {
				statusCounts[status] = count
			}
		}
	}
	stats["status_counts"] = statusCounts

	var sources int
	s.pool.QueryRow(ctx, "SELECT COUNT(DISTINCT source) FROM opportunities").Scan(&sources)
	stats["sources"] = sources

	return stats, nil
}
