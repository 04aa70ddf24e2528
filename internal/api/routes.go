package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sinkobela/ecmr-backend-sub000/internal/api/handlers"
	"github.com/sinkobela/ecmr-backend-sub000/internal/api/middleware"
	"github.com/sinkobela/ecmr-backend-sub000/internal/repository"
	"github.com/sinkobela/ecmr-backend-sub000/internal/services"
	"github.com/sinkobela/ecmr-backend-sub000/pkg/metrics"
	"go.uber.org/zap"
)

// Services bundles what the handlers call into.
type Services struct {
	Repo       repository.Repository
	Resolver   *services.RoleResolver
	Sessions   *services.SessionService
	Documents  *services.DocumentService
	Sealing    *services.SealingService
	Federation *services.FederationService
	Parties    *services.ExternalPartyService
}

type Options struct {
	SessionMaxAge int
	SecureCookie  bool
	ReleaseMode   bool
}

type Router struct {
	engine         *gin.Engine
	logger         *zap.Logger
	metrics        *metrics.MetricsCollector
	authHandler    *handlers.AuthHandler
	userHandler    *handlers.UserHandler
	docHandler     *handlers.DocumentHandler
	sealHandler    *handlers.SealHandler
	fedHandler     *handlers.FederationHandler
	partyHandler   *handlers.ExternalPartyHandler
	authMiddleware *middleware.AuthMiddleware
	reqMiddleware  *middleware.RequestMiddleware
}

func NewRouter(
	logger *zap.Logger,
	metrics *metrics.MetricsCollector,
	tracker *middleware.IPAttemptTracker,
	svc Services,
	opts Options,
) *Router {
	if opts.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()

	reqMiddleware := middleware.NewRequestMiddleware(logger, metrics, tracker)
	authMiddleware := middleware.NewAuthMiddleware(svc.Sessions, svc.Resolver, logger)

	engine.Use(reqMiddleware.ProcessRequest())
	engine.Use(reqMiddleware.RecoverPanic())
	engine.NoRoute(func(c *gin.Context) {
		middleware.AbortWithError(c, http.StatusNotFound, "not_found", "route not found", nil)
	})

	return &Router{
		engine:         engine,
		logger:         logger,
		metrics:        metrics,
		authHandler:    handlers.NewAuthHandler(svc.Sessions, opts.SessionMaxAge, opts.SecureCookie, logger),
		userHandler:    handlers.NewUserHandler(svc.Repo, logger),
		docHandler:     handlers.NewDocumentHandler(svc.Documents, logger),
		sealHandler:    handlers.NewSealHandler(svc.Sealing, logger),
		fedHandler:     handlers.NewFederationHandler(svc.Federation, logger),
		partyHandler:   handlers.NewExternalPartyHandler(svc.Parties, svc.Resolver, logger),
		authMiddleware: authMiddleware,
		reqMiddleware:  reqMiddleware,
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "up", "name": "ecmr-backend"})
	})

	r.engine.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"counters":  r.metrics.GetCounters(),
			"latencies": r.metrics.GetLatencies(),
			"sizes":     r.metrics.GetSizes(),
		})
	})

	r.engine.POST("/login", r.reqMiddleware.AttemptLimit(), r.authHandler.Login)
	r.engine.POST("/logout", r.authHandler.Logout)
	r.engine.GET("/anonymous/is-tan-valid", r.reqMiddleware.AttemptLimit(), r.partyHandler.IsTANValid)
	r.engine.GET("/external/document/:id/export", r.fedHandler.Export)

	internal := r.engine.Group("/")
	internal.Use(r.authMiddleware.RequireAuth(false))
	{
		internal.GET("/me", r.userHandler.Profile)
		internal.POST("/document", r.docHandler.Create)
		internal.POST("/external/document/import", r.fedHandler.Import)
		internal.POST("/external-party", r.partyHandler.Register)
		internal.POST("/external-party/:id/tan", r.partyHandler.IssueTAN)
		internal.DELETE("/external-party/:id", r.partyHandler.Deactivate)
	}

	// External parties reach document routes with user token and TAN;
	// the services decide what each principal may do.
	document := r.engine.Group("/document/:id")
	document.Use(r.authMiddleware.RequireAuth(true))
	{
		document.GET("", r.docHandler.Get)
		document.PUT("", r.docHandler.Update)
		document.DELETE("", r.docHandler.Delete)
		document.POST("/assignment", r.docHandler.AddAssignment)
		document.POST("/seal", r.sealHandler.Create)
		document.GET("/seals", r.sealHandler.List)
		document.GET("/verify", r.sealHandler.Verify)
		document.POST("/arrived", r.docHandler.MarkArrived)
		document.GET("/share-token", r.fedHandler.ShareToken)
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

func (r *Router) Run(addr string) error {
	r.logger.Info("Starting HTTP server", zap.String("address", addr))
	return r.engine.Run(addr)
}
