// Package scan discovers opportunities from configured web sources. The
// quick cycle parses listing pages only; the full cycle crawls pagination
// and detail pages.
package scan

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/david/opportunity-orchestrator/internal/models"
	"github.com/gocolly/colly/v2"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
)

// Saver is the slice of the store the scanner writes through.
type Saver interface {
	UpsertScanned(ctx context.Context, o *models.Opportunity) (bool, error)
	StartScanRun(ctx context.Context, cycle string) (uuid.UUID, error)
	FinishScanRun(ctx context.Context, runID uuid.UUID, status string, found, saved, errCount int, duration time.Duration) error
}

type Stats struct {
	Found  int
	Saved  int
	Errors int
}

type Scanner struct {
	store    Saver
	registry *Registry
	client   *http.Client
	policy   *bluemonday.Policy
}

func NewScanner(store Saver, registry *Registry) *Scanner {
	return &Scanner{
		store:    store,
		registry: registry,
		client:   &http.Client{Timeout: 30 * time.Second},
		policy:   bluemonday.StrictPolicy(),
	}
}

// QuickScan fetches each quick-cycle source's listing page once.
func (s *Scanner) QuickScan(ctx context.Context) error {
	return s.runCycle(ctx, "quick", s.quickScanSource)
}

// FullScan crawls each full-cycle source through pagination and detail pages.
func (s *Scanner) FullScan(ctx context.Context) error {
	return s.runCycle(ctx, "full", s.fullScanSource)
}

func (s *Scanner) runCycle(ctx context.Context, cycle string, scanSource func(ctx context.Context, cfg SourceConfig) (Stats, error)) error {
	start := time.Now()
	runID, err := s.store.StartScanRun(ctx, cycle)
	if err != nil {
		log.Printf("[scan] failed to record %s run: %v", cycle, err)
	}

	total := Stats{}
	for _, cfg := range s.registry.Sources {
		if !cfg.InCycle(cycle) {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		stats, err := scanSource(ctx, cfg)
		total.Found += stats.Found
		total.Saved += stats.Saved
		total.Errors += stats.Errors
		if err != nil {
			// One broken source never aborts the cycle.
			total.Errors++
			log.Printf("[scan] %s source %s failed: %v", cycle, cfg.ID, err)
			continue
		}
		log.Printf("[scan] %s source %s: found=%d saved=%d", cycle, cfg.ID, stats.Found, stats.Saved)
	}

	if runID != uuid.Nil {
		status := "completed"
		if total.Saved == 0 && total.Errors > 0 {
			status = "failed"
		}
		if err := s.store.FinishScanRun(ctx, runID, status, total.Found, total.Saved, total.Errors, time.Since(start)); err != nil {
			log.Printf("[scan] failed to close %s run: %v", cycle, err)
		}
	}

	log.Printf("[scan] %s cycle complete: found=%d saved=%d errors=%d", cycle, total.Found, total.Saved, total.Errors)
	return nil
}

// quickScanSource parses a single listing page with goquery.
func (s *Scanner) quickScanSource(ctx context.Context, cfg SourceConfig) (Stats, error) {
	stats := Stats{}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL, nil)
	if err != nil {
		return stats, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return stats, fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stats, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return stats, fmt.Errorf("parse failed: %w", err)
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return stats, fmt.Errorf("invalid base URL: %w", err)
	}

	doc.Find(cfg.Selectors.Container).Each(func(_ int, sel *goquery.Selection) {
		opp, ok := s.extractItem(cfg, base, sel)
		if !ok {
			return
		}
		stats.Found++

		created, err := s.store.UpsertScanned(ctx, opp)
		if err != nil {
			stats.Errors++
			log.Printf("[scan] failed to save %q: %v", opp.Title, err)
			return
		}
		if created {
			stats.Saved++
		}
	})

	return stats, nil
}

// extractItem pulls one opportunity out of a listing container element.
func (s *Scanner) extractItem(cfg SourceConfig, base *url.URL, sel *goquery.Selection) (*models.Opportunity, bool) {
	title := strings.TrimSpace(sel.Find(cfg.Selectors.Title).First().Text())
	if title == "" {
		return nil, false
	}

	linkAttr := cfg.Selectors.LinkAttr
	if linkAttr == "" {
		linkAttr = "href"
	}
	var externalURL string
	if cfg.Selectors.Link != "" {
		if href, ok := sel.Find(cfg.Selectors.Link).First().Attr(linkAttr); ok {
			externalURL = resolveURL(base, href)
		}
	}

	var description string
	if cfg.Selectors.Content != "" {
		raw, _ := sel.Find(cfg.Selectors.Content).First().Html()
		description = strings.TrimSpace(s.policy.Sanitize(raw))
	}

	return &models.Opportunity{
		Source:           cfg.ID,
		Type:             cfg.Type,
		Title:            title,
		Description:      description,
		PotentialRevenue: cfg.RevenueHint,
		Status:           models.StatusNew,
		ExternalURL:      externalURL,
	}, true
}

// fullScanSource crawls listing pagination with colly, optionally visiting
// detail pages for richer descriptions.
func (s *Scanner) fullScanSource(ctx context.Context, cfg SourceConfig) (Stats, error) {
	stats := Stats{}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return stats, fmt.Errorf("invalid base URL: %w", err)
	}

	maxPages := cfg.MaxPages
	if maxPages == 0 {
		maxPages = 3
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(base.Host),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(30 * time.Second)
	collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       500 * time.Millisecond,
	})

	pagesVisited := 0
	pending := map[string]*models.Opportunity{}

	collector.OnHTML(cfg.Selectors.Container, func(e *colly.HTMLElement) {
		opp, ok := s.extractItem(cfg, base, e.DOM)
		if !ok {
			return
		}
		stats.Found++

		if cfg.Detail.Enabled && opp.ExternalURL != "" {
			// Defer the save until the detail page fills in the description.
			pending[opp.ExternalURL] = opp
			e.Request.Visit(opp.ExternalURL)
			return
		}

		s.saveScanned(ctx, opp, &stats)
	})

	if cfg.Detail.Enabled && cfg.Detail.Description != "" {
		collector.OnHTML(cfg.Detail.Description, func(e *colly.HTMLElement) {
			opp, ok := pending[e.Request.URL.String()]
			if !ok {
				return
			}
			delete(pending, e.Request.URL.String())

			raw, _ := e.DOM.Html()
			if desc := strings.TrimSpace(s.policy.Sanitize(raw)); desc != "" {
				opp.Description = desc
			}
			s.saveScanned(ctx, opp, &stats)
		})
	}

	if cfg.Pagination.Next != "" {
		collector.OnHTML(cfg.Pagination.Next, func(e *colly.HTMLElement) {
			if pagesVisited >= maxPages {
				return
			}
			pagesVisited++
			e.Request.Visit(e.Attr("href"))
		})
	}

	collector.OnError(func(r *colly.Response, err error) {
		stats.Errors++
		log.Printf("[scan] crawl error on %s: %v", r.Request.URL, err)
	})

	if err := collector.Visit(cfg.BaseURL); err != nil {
		return stats, fmt.Errorf("crawl failed: %w", err)
	}
	collector.Wait()

	// Detail pages that never produced a description still get saved.
	for _, opp := range pending {
		s.saveScanned(ctx, opp, &stats)
	}

	return stats, nil
}

func (s *Scanner) saveScanned(ctx context.Context, opp *models.Opportunity, stats *Stats) {
	created, err := s.store.UpsertScanned(ctx, opp)
	if err != nil {
		stats.Errors++
		log.Printf("[scan] failed to save %q: %v", opp.Title, err)
		return
	}
	if created {
		stats.Saved++
	}
}

func resolveURL(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
