package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ulule/limiter/v3"

	"github.com/ignatzorin/gig-escrow/internal/config"
	"github.com/ignatzorin/gig-escrow/internal/http/handlers"
	"github.com/ignatzorin/gig-escrow/internal/http/middleware"
	"github.com/ignatzorin/gig-escrow/internal/service"
)

// Handlers - все HTTP обработчики приложения.
type Handlers struct {
	Health   *handlers.HealthHandler
	Gigs     *handlers.GigHandler
	Projects *handlers.ProjectHandler
	Disputes *handlers.DisputeHandler
	Webhooks *handlers.WebhookHandler
	WS       *handlers.WSHandler
}

func SetupRouter(cfg *config.Config, h Handlers, tokenManager *service.TokenManager, limitStore limiter.Store) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())

	r.GET("/health", h.Health.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Вебхуки без CORS и авторизации: подлинность проверяется подписью.
	// Лимит выше API, провайдеры шлют пачками.
	hooks := r.Group("/webhooks")
	hooks.Use(middleware.RateLimitMiddleware(limitStore, cfg.RateLimitLimit*10, cfg.RateLimitPeriod))
	{
		hooks.POST("/escrow", h.Webhooks.Escrow)
		hooks.GET("/payout", h.Webhooks.PayoutVerify)
		hooks.POST("/payout", h.Webhooks.Payout)
	}

	api := r.Group("/api")
	api.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))
	api.GET("/ws", h.WS.Handle)

	protected := api.Group("/")
	protected.Use(middleware.RateLimitMiddleware(limitStore, cfg.RateLimitLimit, cfg.RateLimitPeriod))
	protected.Use(middleware.AuthMiddleware(tokenManager))
	{
		protected.POST("/gigs", h.Gigs.PostGig)
		protected.GET("/gigs/:id", middleware.UUIDValidator("id"), h.Gigs.GetGig)
		protected.POST("/gigs/:id/cancel", middleware.UUIDValidator("id"), h.Gigs.CancelGig)
		protected.GET("/gigs/:id/responses", middleware.UUIDValidator("id"), h.Gigs.ListResponses)
		protected.POST("/gigs/:id/responses", middleware.UUIDValidator("id"), h.Gigs.Respond)
		protected.POST("/gigs/:id/select", middleware.UUIDValidator("id"), h.Gigs.SelectProvider)

		protected.GET("/projects/my", h.Projects.ListMine)
		protected.GET("/projects/:id", middleware.UUIDValidator("id"), h.Projects.Get)
		protected.POST("/projects/:id/payment", middleware.UUIDValidator("id"), h.Projects.StartPayment)
		protected.POST("/projects/:id/capture", middleware.UUIDValidator("id"), h.Projects.Capture)
		protected.POST("/projects/:id/complete", middleware.UUIDValidator("id"), h.Projects.Complete)
		protected.GET("/projects/:id/payouts", middleware.UUIDValidator("id"), h.Projects.Payouts)
		protected.GET("/projects/:id/ledger", middleware.UUIDValidator("id"), h.Projects.Ledger)

		protected.POST("/projects/:id/dispute", middleware.UUIDValidator("id"), h.Disputes.Raise)
		protected.GET("/projects/:id/dispute", middleware.UUIDValidator("id"), h.Disputes.GetByProject)
		protected.GET("/disputes", h.Disputes.ListMine)
		protected.POST("/disputes/:id/respond", middleware.UUIDValidator("id"), h.Disputes.Respond)
	}

	admin := protected.Group("/admin")
	admin.Use(middleware.AdminOnly())
	{
		admin.POST("/disputes/:id/resolve", middleware.UUIDValidator("id"), h.Disputes.Resolve)
	}

	return r
}
