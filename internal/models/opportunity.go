package models

import (
	"time"

	"github.com/google/uuid"
)

// Status is the enhancement lifecycle state of an opportunity.
type Status string

const (
	StatusNew               Status = "new"
	StatusEnhancing         Status = "enhancing"
	StatusEnhanced          Status = "enhanced"
	StatusEnhancementFailed Status = "enhancement_failed"
)

// Deployment sub-statuses live in metadata, independent of Status.
const (
	DeploymentDeploying = "deploying"
	DeploymentDeployed  = "deployed"
	DeploymentFailed    = "failed"
)

// CompetitionLevel is an optional low/medium/high rating. Empty means unset.
type CompetitionLevel string

const (
	CompetitionUnset  CompetitionLevel = ""
	CompetitionLow    CompetitionLevel = "low"
	CompetitionMedium CompetitionLevel = "medium"
	CompetitionHigh   CompetitionLevel = "high"
)

func (c CompetitionLevel) Valid() bool {
	switch c {
	case CompetitionUnset, CompetitionLow, CompetitionMedium, CompetitionHigh:
		return true
	}
	return false
}

// CanTransitionTo reports whether the status graph allows moving from s to next.
// Transitions are one-directional except that a failed enhancement may be retried.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusNew:
		return next == StatusEnhancing
	case StatusEnhancing:
		return next == StatusEnhanced || next == StatusEnhancementFailed
	case StatusEnhancementFailed:
		return next == StatusEnhancing
	}
	return false
}

type Opportunity struct {
	ID               uuid.UUID              `json:"id"`
	Source           string                 `json:"source"`
	Type             string                 `json:"type"`
	Title            string                 `json:"title"`
	Description      string                 `json:"description"`
	PotentialRevenue float64                `json:"potential_revenue"`
	CompetitionLevel CompetitionLevel       `json:"competition_level"`
	Status           Status                 `json:"status"`
	Metadata         map[string]interface{} `json:"metadata"`
	ExternalURL      string                 `json:"external_url,omitempty"`
	DiscoveredAt     time.Time              `json:"discovered_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// ScanRun records one execution of a scan cycle.
type ScanRun struct {
	RunID       uuid.UUID  `json:"run_id"`
	Cycle       string     `json:"cycle"` // "quick" or "full"
	Status      string     `json:"status"`
	ItemsFound  int        `json:"items_found"`
	ItemsSaved  int        `json:"items_saved"`
	Errors      int        `json:"errors"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}
