package router

import (
	"vpool/app/handler"
	"vpool/app/middleware"

	"github.com/gin-gonic/gin"
)

// Router Router
type Router struct {
	invitationHandler *handler.InvitationHandler
	workerHandler     *handler.WorkerHandler
	stageHandler      *handler.StageHandler
	poolHandler       *handler.PoolHandler
	healthHandler     *handler.HealthHandler
	apiKey            string
}

// NewRouter creates a new Router. apiKey guards the worker self-report routes.
func NewRouter(invitationHandler *handler.InvitationHandler, workerHandler *handler.WorkerHandler, stageHandler *handler.StageHandler, poolHandler *handler.PoolHandler, healthHandler *handler.HealthHandler, apiKey string) *Router {
	return &Router{
		invitationHandler: invitationHandler,
		workerHandler:     workerHandler,
		stageHandler:      stageHandler,
		poolHandler:       poolHandler,
		healthHandler:     healthHandler,
		apiKey:            apiKey,
	}
}

// Setup sets up routes
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Recovery())
	engine.Use(middleware.TraceID())
	engine.Use(middleware.Logger())

	// Worker-facing interface
	v1 := engine.Group("/v1")
	v1.Use(middleware.AuthMiddleware(r.apiKey))
	{
		v1.PUT("/workers/:id/status", r.workerHandler.ReportStatus)
	}

	// Management API
	api := engine.Group("/api/v1")
	{
		api.POST("/invitations", r.invitationHandler.CreateInvitation)
		api.POST("/kick", r.invitationHandler.Kick)

		workers := api.Group("/workers")
		{
			workers.GET("", r.workerHandler.ListWorkers)
			workers.POST("/stop-all", r.workerHandler.StopAllWorkers)
			workers.GET("/:id", r.workerHandler.GetWorker)
			workers.GET("/:id/events", r.workerHandler.GetWorkerEvents)
		}

		if r.stageHandler != nil {
			stages := api.Group("/stages")
			{
				stages.POST("", r.stageHandler.CreateStage)
				stages.GET("", r.stageHandler.ListStages)
				stages.GET("/:id", r.stageHandler.GetStage)
			}
		}

		api.POST("/pool/reconcile", r.poolHandler.Reconcile)
		api.GET("/pool/jobs", r.poolHandler.Jobs)
	}

	engine.GET("/health", r.healthHandler.Health)
}
