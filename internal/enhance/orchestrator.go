// Package enhance runs the AI enhancement fan-out for discovered
// opportunities: research, competitor analysis, content strategy, and trend
// analysis issued concurrently, merged under partial-failure tolerance.
package enhance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/david/opportunity-orchestrator/internal/bridge"
	"github.com/david/opportunity-orchestrator/internal/models"
	"github.com/google/uuid"
)

// Store is the slice of the opportunity store the orchestrator needs.
type Store interface {
	GetOpportunity(ctx context.Context, id uuid.UUID) (*models.Opportunity, error)
	ListByStatus(ctx context.Context, status models.Status, limit int) ([]models.Opportunity, error)
	TryMarkEnhancing(ctx context.Context, id uuid.UUID) (bool, error)
	SaveEnhancement(ctx context.Context, id uuid.UUID, analysis map[string]interface{}, confidence float64) error
	MarkEnhancementFailed(ctx context.Context, id uuid.UUID) error
}

// Bridge is the analysis-engine surface used by the fan-out.
type Bridge interface {
	Research(ctx context.Context, req bridge.ResearchRequest) (bridge.Payload, error)
	Competitors(ctx context.Context, req bridge.CompetitorRequest) (bridge.Payload, error)
	ContentStrategy(ctx context.Context, req bridge.ContentStrategyRequest) (bridge.Payload, error)
	Trends(ctx context.Context, req bridge.TrendRequest) (bridge.Payload, error)
}

type Orchestrator struct {
	store  Store
	bridge Bridge

	// DefaultConfidence is assumed for a successful sub-task whose payload
	// carries no explicit confidence field.
	DefaultConfidence float64

	// TaskTimeout bounds each sub-task independently of the bridge's own
	// per-call timeout.
	TaskTimeout time.Duration
}

func NewOrchestrator(store Store, b Bridge, defaultConfidence float64) *Orchestrator {
	if defaultConfidence <= 0 || defaultConfidence > 1 {
		defaultConfidence = 0.5
	}
	return &Orchestrator{
		store:             store,
		bridge:            b,
		DefaultConfidence: defaultConfidence,
		TaskTimeout:       2 * time.Minute,
	}
}

type subTaskResult struct {
	name       string
	payload    bridge.Payload
	confidence float64
	err        error
}

// Enhance runs one enhancement pass for the opportunity. If another pass has
// already claimed the row, the call is a no-op and returns the current state.
// Write-back happens only after every sub-task has settled.
func (o *Orchestrator) Enhance(ctx context.Context, id uuid.UUID) (*models.Opportunity, error) {
	claimed, err := o.store.TryMarkEnhancing(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to claim opportunity: %w", err)
	}
	if !claimed {
		return o.store.GetOpportunity(ctx, id)
	}

	opp, err := o.store.GetOpportunity(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load opportunity: %w", err)
	}

	results := o.fanOut(ctx, opp)

	analysis := map[string]interface{}{}
	var confidenceSum float64
	successes := 0
	unavailable := 0

	for _, r := range results {
		if r.err != nil {
			if errors.Is(r.err, bridge.ErrEngineUnavailable) {
				unavailable++
			}
			log.Printf("[enhance] %s sub-task failed for %s: %v", r.name, id, r.err)
			continue
		}
		analysis[r.name] = map[string]interface{}(r.payload)
		confidenceSum += r.confidence
		successes++
	}

	if successes == 0 {
		if unavailable == len(results) {
			log.Printf("[enhance] engine unavailable; marking %s failed without attempts", id)
		}
		if err := o.store.MarkEnhancementFailed(ctx, id); err != nil {
			return nil, err
		}
		return o.store.GetOpportunity(ctx, id)
	}

	confidence := confidenceSum / float64(successes)
	if err := o.store.SaveEnhancement(ctx, id, analysis, confidence); err != nil {
		return nil, err
	}

	log.Printf("[enhance] %s enhanced: %d/%d sub-tasks, confidence %.2f", id, successes, len(results), confidence)
	return o.store.GetOpportunity(ctx, id)
}

// fanOut issues the four sub-tasks concurrently and waits for all to settle.
func (o *Orchestrator) fanOut(ctx context.Context, opp *models.Opportunity) []subTaskResult {
	topic := opp.Title
	if opp.Type != "" {
		topic = fmt.Sprintf("%s (%s)", opp.Title, opp.Type)
	}

	tasks := []struct {
		name          string
		confidenceKey string
		run           func(ctx context.Context) (bridge.Payload, error)
	}{
		{
			name:          "research",
			confidenceKey: "confidence",
			run: func(ctx context.Context) (bridge.Payload, error) {
				return o.bridge.Research(ctx, bridge.ResearchRequest{
					Topic:                  topic,
					Depth:                  "deep",
					IncludeCompetitors:     true,
					IncludeMarketSentiment: true,
				})
			},
		},
		{
			name:          "competitors",
			confidenceKey: "analysis_confidence",
			run: func(ctx context.Context) (bridge.Payload, error) {
				return o.bridge.Competitors(ctx, bridge.CompetitorRequest{Topic: topic, TopN: 5})
			},
		},
		{
			name:          "content_strategy",
			confidenceKey: "strategy_confidence",
			run: func(ctx context.Context) (bridge.Payload, error) {
				return o.bridge.ContentStrategy(ctx, bridge.ContentStrategyRequest{Topic: topic})
			},
		},
		{
			name:          "trends",
			confidenceKey: "trend_confidence",
			run: func(ctx context.Context) (bridge.Payload, error) {
				return o.bridge.Trends(ctx, bridge.TrendRequest{Topic: topic})
			},
		},
	}

	results := make([]subTaskResult, len(tasks))
	var wg sync.WaitGroup
	wg.Add(len(tasks))

	for i, task := range tasks {
		go func(i int, name, confidenceKey string, run func(ctx context.Context) (bridge.Payload, error)) {
			defer wg.Done()
			taskCtx, cancel := context.WithTimeout(ctx, o.TaskTimeout)
			defer cancel()

			payload, err := run(taskCtx)
			if err != nil {
				results[i] = subTaskResult{name: name, err: err}
				return
			}
			results[i] = subTaskResult{
				name:       name,
				payload:    payload,
				confidence: payload.Confidence(confidenceKey, o.DefaultConfidence),
			}
		}(i, task.name, task.confidenceKey, task.run)
	}

	wg.Wait()
	return results
}

// EnhancePending sweeps opportunities still in 'new' and enhances each.
// Per-item failures are logged and do not abort the sweep.
func (o *Orchestrator) EnhancePending(ctx context.Context, limit int) {
	opps, err := o.store.ListByStatus(ctx, models.StatusNew, limit)
	if err != nil {
		log.Printf("[enhance] failed to list pending opportunities: %v", err)
		return
	}

	for _, opp := range opps {
		if ctx.Err() != nil {
			return
		}
		if _, err := o.Enhance(ctx, opp.ID); err != nil {
			log.Printf("[enhance] %s failed: %v", opp.ID, err)
		}
	}
}
