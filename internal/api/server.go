package api

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/david/opportunity-orchestrator/internal/bridge"
	"github.com/david/opportunity-orchestrator/internal/db"
	"github.com/david/opportunity-orchestrator/internal/models"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/microcosm-cc/bluemonday"
)

// OpportunityStore is the store surface the HTTP layer needs.
type OpportunityStore interface {
	CreateOpportunity(ctx context.Context, o *models.Opportunity) error
	GetOpportunity(ctx context.Context, id uuid.UUID) (*models.Opportunity, error)
	ListOpportunities(ctx context.Context, params db.ListParams) (*db.ListResult, error)
	MergeMetadata(ctx context.Context, id uuid.UUID, patch map[string]interface{}) error
	GetStats(ctx context.Context) (map[string]interface{}, error)
}

// Enhancer triggers an enhancement pass for a newly reported opportunity.
type Enhancer interface {
	Enhance(ctx context.Context, id uuid.UUID) (*models.Opportunity, error)
}

// EngineState reports analysis-engine liveness for the health endpoint.
type EngineState interface {
	Running() bool
	Available() bool
}

// StatusReporter is the bridge's never-failing status call.
type StatusReporter interface {
	Status(ctx context.Context) bridge.StatusInfo
}

type ServerConfig struct {
	WebhookSecret string
	PublicBaseURL string
	TokenTTL      time.Duration // callback token lifetime; zero means 1 hour
}

type Server struct {
	Store    OpportunityStore
	Enhancer Enhancer
	Engine   EngineState
	Bridge   StatusReporter
	Echo     *echo.Echo

	secret        string
	publicBaseURL string
	tokens        *callbackTokens
	sanitizer     *bluemonday.Policy
}

func NewServer(store OpportunityStore, enhancer Enhancer, engine EngineState, statusReporter StatusReporter, cfg ServerConfig) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	allowedOrigins := []string{"http://localhost:4200"}
	if extra := os.Getenv("CORS_ORIGINS"); extra != "" {
		for _, o := range strings.Split(extra, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				allowedOrigins = append(allowedOrigins, o)
			}
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Webhook-Secret"},
	}))

	baseURL := strings.TrimRight(cfg.PublicBaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:8090"
	}

	s := &Server{
		Store:         store,
		Enhancer:      enhancer,
		Engine:        engine,
		Bridge:        statusReporter,
		Echo:          e,
		secret:        cfg.WebhookSecret,
		publicBaseURL: baseURL,
		tokens:        newCallbackTokens(cfg.WebhookSecret, cfg.TokenTTL),
		sanitizer:     bluemonday.StrictPolicy(),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)

	api := s.Echo.Group("/api/v1")
	api.GET("/opportunities", s.handleListOpportunities)
	api.GET("/opportunities/:id", s.handleGetOpportunity)
	api.GET("/stats", s.handleGetStats)

	hooks := s.Echo.Group("/webhook")
	hooks.Use(s.webhookSecretMiddleware)
	hooks.POST("/new-opportunity", s.handleNewOpportunity)
	hooks.POST("/deploy-website", s.handleDeployWebsite)
	hooks.POST("/generate-content", s.handleGenerateContent)
	hooks.POST("/distribute-social", s.handleDistributeSocial)
	hooks.POST("/deployment-status", s.handleDeploymentStatus)
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := map[string]interface{}{"status": "ok"}
	if s.Engine != nil {
		resp["engine_running"] = s.Engine.Running()
		resp["engine_available"] = s.Engine.Available()
	}
	if s.Bridge != nil {
		resp["engine_status"] = s.Bridge.Status(c.Request().Context())
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListOpportunities(c echo.Context) error {
	params := db.ListParams{
		Status: c.QueryParam("status"),
		Source: c.QueryParam("source"),
	}
	if v := c.QueryParam("limit"); v != "" {
		params.Limit = atoiOr(v, 20)
	}
	if v := c.QueryParam("offset"); v != "" {
		params.Offset = atoiOr(v, 0)
	}

	result, err := s.Store.ListOpportunities(c.Request().Context(), params)
	if err != nil {
		c.Logger().Errorf("Failed to list opportunities: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleGetOpportunity(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid opportunity ID"})
	}

	opp, err := s.Store.GetOpportunity(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
	}
	return c.JSON(http.StatusOK, opp)
}

func (s *Server) handleGetStats(c echo.Context) error {
	stats, err := s.Store.GetStats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, stats)
}

// webhookSecretMiddleware guards the webhook surface with a shared secret,
// accepted as X-Webhook-Secret or a Bearer token. An empty configured secret
// disables the check for local development.
func (s *Server) webhookSecretMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.secret == "" {
			return next(c)
		}

		if c.Request().Header.Get("X-Webhook-Secret") == s.secret {
			return next(c)
		}
		authHeader := c.Request().Header.Get("Authorization")
		if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") && authHeader[7:] == s.secret {
			return next(c)
		}

		return c.JSON(http.StatusUnauthorized, map[string]interface{}{"success": false, "error": "Unauthorized"})
	}
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}

func atoiOr(v string, fallback int) int {
	n := 0
	for _, ch := range v {
		if ch < '0' || ch > '9' {
			return fallback
		}
		n = n*10 + int(ch-'0')
	}
	if v == "" {
		return fallback
	}
	return n
}
