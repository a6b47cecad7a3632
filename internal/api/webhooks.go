package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/david/opportunity-orchestrator/internal/models"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const deployCallbackAction = "deployment-status"

type newOpportunityRequest struct {
	Opportunity struct {
		Source           string                 `json:"source"`
		Type             string                 `json:"type"`
		Title            string                 `json:"title"`
		Description      string                 `json:"description"`
		PotentialRevenue float64                `json:"potential_revenue"`
		CompetitionLevel string                 `json:"competition_level"`
		Metadata         map[string]interface{} `json:"metadata"`
	} `json:"opportunity"`
}

// handleNewOpportunity persists an externally reported opportunity and
// replies with the rule-based automation plan plus the follow-up webhook
// URLs the workflow engine can call next. Enhancement is kicked off in the
// background; the response never waits on the analysis engine.
func (s *Server) handleNewOpportunity(c echo.Context) error {
	var req newOpportunityRequest
	if err := c.Bind(&req); err != nil {
		return webhookError(c, http.StatusBadRequest, "invalid JSON body")
	}

	in := req.Opportunity
	if strings.TrimSpace(in.Title) == "" {
		return webhookError(c, http.StatusBadRequest, "opportunity.title is required")
	}
	if in.PotentialRevenue < 0 {
		return webhookError(c, http.StatusBadRequest, "opportunity.potential_revenue must be >= 0")
	}
	level := models.CompetitionLevel(in.CompetitionLevel)
	if !level.Valid() {
		return webhookError(c, http.StatusBadRequest, "opportunity.competition_level must be low, medium, or high")
	}

	source := strings.TrimSpace(in.Source)
	if source == "" {
		source = "webhook"
	}

	opp := &models.Opportunity{
		Source:           source,
		Type:             strings.TrimSpace(in.Type),
		Title:            strings.TrimSpace(s.sanitizer.Sanitize(in.Title)),
		Description:      strings.TrimSpace(s.sanitizer.Sanitize(in.Description)),
		PotentialRevenue: in.PotentialRevenue,
		CompetitionLevel: level,
		Status:           models.StatusNew,
		Metadata:         in.Metadata,
	}

	if err := s.Store.CreateOpportunity(c.Request().Context(), opp); err != nil {
		c.Logger().Errorf("Failed to create opportunity: %v", err)
		return webhookError(c, http.StatusInternalServerError, "failed to persist opportunity")
	}

	if s.Enhancer != nil {
		// Detached from the request so a closed connection can't cancel it.
		bg := context.WithoutCancel(c.Request().Context())
		go func(id uuid.UUID) {
			ctx, cancel := context.WithTimeout(bg, 10*time.Minute)
			defer cancel()
			if _, err := s.Enhancer.Enhance(ctx, id); err != nil {
				log.Printf("[webhook] background enhancement for %s failed: %v", id, err)
			}
		}(opp.ID)
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"success":          true,
		"opportunityId":    opp.ID,
		"automatedActions": computeAutomatedActions(opp),
		"webhookTriggered": map[string]string{
			"deployWebsite":    s.publicBaseURL + "/webhook/deploy-website",
			"generateContent":  s.publicBaseURL + "/webhook/generate-content",
			"distributeSocial": s.publicBaseURL + "/webhook/distribute-social",
		},
	})
}

// computeAutomatedActions maps an opportunity's business fields to the
// downstream actions the workflow engine should run for it.
func computeAutomatedActions(opp *models.Opportunity) []string {
	actions := []string{}

	if opp.PotentialRevenue > 5000 {
		actions = append(actions, "priority_content_creation", "immediate_site_generation")
	}
	if opp.CompetitionLevel == models.CompetitionLow {
		actions = append(actions, "aggressive_marketing")
	}
	switch strings.ToLower(opp.Type) {
	case "saas", "software":
		actions = append(actions, "technical_demo_content")
	}

	return actions
}

type deployWebsiteRequest struct {
	OpportunityID string `json:"opportunityId"`
	Domain        string `json:"domain"`
}

// handleDeployWebsite records the deploying sub-status and hands back the
// declarative step list. The actual build and deploy are run by the caller;
// the final step reports back through the signed status callback.
func (s *Server) handleDeployWebsite(c echo.Context) error {
	var req deployWebsiteRequest
	if err := c.Bind(&req); err != nil {
		return webhookError(c, http.StatusBadRequest, "invalid JSON body")
	}

	id, err := uuid.Parse(req.OpportunityID)
	if err != nil {
		return webhookError(c, http.StatusBadRequest, "invalid opportunityId")
	}
	domain := strings.TrimSpace(req.Domain)
	if domain == "" {
		return webhookError(c, http.StatusBadRequest, "domain is required")
	}

	opp, err := s.Store.GetOpportunity(c.Request().Context(), id)
	if err != nil {
		return webhookError(c, http.StatusNotFound, "opportunity not found")
	}

	patch := map[string]interface{}{
		"deployment": map[string]interface{}{
			"status":       models.DeploymentDeploying,
			"domain":       domain,
			"requested_at": time.Now().UTC().Format(time.RFC3339),
		},
	}
	if err := s.Store.MergeMetadata(c.Request().Context(), id, patch); err != nil {
		c.Logger().Errorf("Failed to record deployment status for %s: %v", id, err)
		return webhookError(c, http.StatusInternalServerError, "failed to record deployment status")
	}

	token, err := s.tokens.mint(id, deployCallbackAction)
	if err != nil {
		c.Logger().Errorf("Failed to mint callback token for %s: %v", id, err)
		return webhookError(c, http.StatusInternalServerError, "failed to mint callback token")
	}

	siteName := slugify(opp.Title)
	steps := []map[string]interface{}{
		{
			"action":  "build",
			"command": fmt.Sprintf("site-builder build --name %s --domain %s", siteName, domain),
			"environment": map[string]string{
				"OPPORTUNITY_ID": id.String(),
				"SITE_DOMAIN":    domain,
			},
		},
		{
			"action":  "deploy",
			"command": fmt.Sprintf("site-builder deploy --name %s --domain %s", siteName, domain),
		},
		{
			"action":  "status-callback",
			"webhook": s.publicBaseURL + "/webhook/deployment-status",
			"token":   token,
		},
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":         true,
		"opportunityId":   id,
		"deploymentSteps": steps,
	})
}

type generateContentRequest struct {
	OpportunityID string `json:"opportunityId"`
	ContentType   string `json:"contentType"`
}

// handleGenerateContent derives a content plan from the stored record.
// Read and compute only; no content API is called here.
func (s *Server) handleGenerateContent(c echo.Context) error {
	var req generateContentRequest
	if err := c.Bind(&req); err != nil {
		return webhookError(c, http.StatusBadRequest, "invalid JSON body")
	}

	id, err := uuid.Parse(req.OpportunityID)
	if err != nil {
		return webhookError(c, http.StatusBadRequest, "invalid opportunityId")
	}

	opp, err := s.Store.GetOpportunity(c.Request().Context(), id)
	if err != nil {
		return webhookError(c, http.StatusNotFound, "opportunity not found")
	}

	contentType := strings.TrimSpace(req.ContentType)
	if contentType == "" {
		contentType = "article"
	}

	formats := []string{"long_form_article", "social_thread"}
	if opp.PotentialRevenue > 5000 {
		formats = append(formats, "landing_page", "email_sequence")
	}

	plan := map[string]interface{}{
		"contentType": contentType,
		"topic":       opp.Title,
		"angle":       contentAngle(opp),
		"formats":     formats,
		"aiEnhanced":  opp.Metadata["ai_analysis"] != nil,
	}

	nextSteps := []string{
		"generate draft with the content pipeline",
		"review against the stored research analysis",
		"publish and call /webhook/distribute-social",
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":       true,
		"opportunityId": id,
		"contentPlan":   plan,
		"nextSteps":     nextSteps,
	})
}

func contentAngle(opp *models.Opportunity) string {
	switch opp.CompetitionLevel {
	case models.CompetitionLow:
		return "first-mover authority piece"
	case models.CompetitionHigh:
		return "differentiation and comparison content"
	default:
		return "problem-solution walkthrough"
	}
}

type distributeSocialRequest struct {
	Content   string   `json:"content"`
	Platforms []string `json:"platforms"`
}

var platformReach = map[string]int{
	"twitter":  5000,
	"linkedin": 3000,
	"reddit":   8000,
	"facebook": 2000,
}

// handleDistributeSocial returns a per-platform posting plan with reach and
// engagement estimates. Nothing is posted from here.
func (s *Server) handleDistributeSocial(c echo.Context) error {
	var req distributeSocialRequest
	if err := c.Bind(&req); err != nil {
		return webhookError(c, http.StatusBadRequest, "invalid JSON body")
	}
	if strings.TrimSpace(req.Content) == "" {
		return webhookError(c, http.StatusBadRequest, "content is required")
	}

	platforms := req.Platforms
	if len(platforms) == 0 {
		platforms = []string{"twitter", "linkedin", "reddit"}
	}

	now := time.Now().UTC()
	schedule := make([]map[string]interface{}, 0, len(platforms))
	estimatedReach := 0
	for i, platform := range platforms {
		platform = strings.ToLower(strings.TrimSpace(platform))
		reach, known := platformReach[platform]
		if !known {
			reach = 1000
		}
		estimatedReach += reach

		// Posts are staggered so platforms don't all fire at once.
		schedule = append(schedule, map[string]interface{}{
			"platform": platform,
			"postAt":   now.Add(time.Duration(i) * 30 * time.Minute).Format(time.RFC3339),
			"content":  strings.TrimSpace(s.sanitizer.Sanitize(req.Content)),
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"distributionPlan": map[string]interface{}{
			"platforms": platforms,
			"schedule":  schedule,
		},
		"estimatedReach":     estimatedReach,
		"expectedEngagement": fmt.Sprintf("%d-%d interactions", estimatedReach/100, estimatedReach/20),
	})
}

type deploymentStatusRequest struct {
	Token  string `json:"token"`
	Status string `json:"status"`
	URL    string `json:"url"`
	Error  string `json:"error"`
}

// handleDeploymentStatus is the signed callback the deployment pipeline hits
// when a deploy finishes. The token pins the update to the opportunity it was
// minted for.
func (s *Server) handleDeploymentStatus(c echo.Context) error {
	var req deploymentStatusRequest
	if err := c.Bind(&req); err != nil {
		return webhookError(c, http.StatusBadRequest, "invalid JSON body")
	}

	id, err := s.tokens.verify(req.Token, deployCallbackAction)
	if err != nil {
		return webhookError(c, http.StatusUnauthorized, "invalid or expired callback token")
	}

	if req.Status != models.DeploymentDeployed && req.Status != models.DeploymentFailed {
		return webhookError(c, http.StatusBadRequest, "status must be deployed or failed")
	}

	deployment := map[string]interface{}{
		"status":       req.Status,
		"completed_at": time.Now().UTC().Format(time.RFC3339),
	}
	if req.URL != "" {
		deployment["url"] = req.URL
	}
	if req.Error != "" {
		deployment["error"] = req.Error
	}

	if err := s.Store.MergeMetadata(c.Request().Context(), id, map[string]interface{}{"deployment": deployment}); err != nil {
		c.Logger().Errorf("Failed to merge deployment status for %s: %v", id, err)
		return webhookError(c, http.StatusInternalServerError, "failed to record deployment status")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":       true,
		"opportunityId": id,
	})
}

func webhookError(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]interface{}{"success": false, "error": msg})
}

func slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "opportunity"
	}
	if len(slug) > 40 {
		slug = strings.Trim(slug[:40], "-")
	}
	return slug
}
