package scan

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/david/opportunity-orchestrator/internal/models"
	"github.com/google/uuid"
)

type fakeSaver struct {
	mu     sync.Mutex
	saved  []*models.Opportunity
	runs   []string
	closed int
}

func (f *fakeSaver) UpsertScanned(ctx context.Context, o *models.Opportunity) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.saved {
		if existing.Source == o.Source && existing.ExternalURL == o.ExternalURL && o.ExternalURL != "" {
			return false, nil
		}
	}
	f.saved = append(f.saved, o)
	return true, nil
}

func (f *fakeSaver) StartScanRun(ctx context.Context, cycle string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, cycle)
	return uuid.New(), nil
}

func (f *fakeSaver) FinishScanRun(ctx context.Context, runID uuid.UUID, status string, found, saved, errCount int, duration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

const listingHTML = `<html><body>
<div class="opportunity-card">
  <a class="card-title" href="/opp/1">AI scheduling for dog groomers</a>
  <p class="card-summary">Underserved niche with <script>alert('x')</script><b>strong</b> demand.</p>
</div>
<div class="opportunity-card">
  <a class="card-title" href="/opp/2">Local SEO audit tool</a>
  <p class="card-summary">Agencies pay monthly.</p>
</div>
<div class="opportunity-card">
  <a class="card-title" href="/opp/3">   </a>
</div>
</body></html>`

func testRegistry(baseURL string) *Registry {
	return &Registry{Sources: []SourceConfig{{
		ID:          "test_source",
		Name:        "Test Source",
		Type:        "saas",
		BaseURL:     baseURL,
		RevenueHint: 1200,
		Cycles:      []string{"quick"},
		Selectors: SelectorConfig{
			Container: "div.opportunity-card",
			Link:      "a.card-title",
			Title:     "a.card-title",
			Content:   "p.card-summary",
		},
	}}}
}

func TestQuickScanExtractsAndSanitizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(listingHTML))
	}))
	defer srv.Close()

	saver := &fakeSaver{}
	s := NewScanner(saver, testRegistry(srv.URL))

	if err := s.QuickScan(context.Background()); err != nil {
		t.Fatalf("quick scan failed: %v", err)
	}

	if len(saver.saved) != 2 {
		t.Fatalf("saved %d opportunities, want 2 (blank title skipped)", len(saver.saved))
	}

	first := saver.saved[0]
	if first.Title != "AI scheduling for dog groomers" {
		t.Errorf("title = %q", first.Title)
	}
	if first.Source != "test_source" || first.Type != "saas" {
		t.Errorf("source/type = %q/%q", first.Source, first.Type)
	}
	if first.PotentialRevenue != 1200 {
		t.Errorf("revenue hint = %v", first.PotentialRevenue)
	}
	if first.Status != models.StatusNew {
		t.Errorf("status = %s, want new", first.Status)
	}
	if !strings.HasSuffix(first.ExternalURL, "/opp/1") || !strings.HasPrefix(first.ExternalURL, "http") {
		t.Errorf("external URL not resolved: %q", first.ExternalURL)
	}
	if strings.Contains(first.Description, "script") || strings.Contains(first.Description, "<b>") {
		t.Errorf("description not sanitized: %q", first.Description)
	}
	if !strings.Contains(first.Description, "strong") {
		t.Errorf("description text lost: %q", first.Description)
	}

	if len(saver.runs) != 1 || saver.runs[0] != "quick" {
		t.Errorf("scan runs recorded: %v", saver.runs)
	}
	if saver.closed != 1 {
		t.Errorf("scan run not closed: %d", saver.closed)
	}
}

func TestQuickScanDeduplicates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listingHTML))
	}))
	defer srv.Close()

	saver := &fakeSaver{}
	s := NewScanner(saver, testRegistry(srv.URL))

	s.QuickScan(context.Background())
	s.QuickScan(context.Background())

	if len(saver.saved) != 2 {
		t.Errorf("saved %d opportunities after two scans, want 2", len(saver.saved))
	}
}

func TestQuickScanSurvivesBrokenSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listingHTML))
	}))
	defer srv.Close()

	reg := testRegistry(srv.URL)
	reg.Sources = append([]SourceConfig{{
		ID:      "broken",
		BaseURL: "http://127.0.0.1:1/nothing-here",
		Cycles:  []string{"quick"},
		Selectors: SelectorConfig{
			Container: "div", Title: "a",
		},
	}}, reg.Sources...)

	saver := &fakeSaver{}
	s := NewScanner(saver, reg)

	if err := s.QuickScan(context.Background()); err != nil {
		t.Fatalf("cycle must not fail on one broken source: %v", err)
	}
	if len(saver.saved) != 2 {
		t.Errorf("healthy source should still be scanned, saved=%d", len(saver.saved))
	}
}

func TestInCycle(t *testing.T) {
	cfg := SourceConfig{Cycles: []string{"quick"}}
	if !cfg.InCycle("quick") || cfg.InCycle("full") {
		t.Error("explicit cycle list not honored")
	}
	both := SourceConfig{}
	if !both.InCycle("quick") || !both.InCycle("full") {
		t.Error("empty cycle list should mean both cycles")
	}
}

func TestLoadRegistryEmbedded(t *testing.T) {
	reg, err := LoadRegistry("")
	if err != nil {
		t.Fatalf("failed to load embedded registry: %v", err)
	}
	if len(reg.Sources) == 0 {
		t.Fatal("embedded registry has no sources")
	}
	for _, src := range reg.Sources {
		if src.ID == "" || src.BaseURL == "" || src.Selectors.Container == "" {
			t.Errorf("incomplete source config: %+v", src)
		}
	}
}
