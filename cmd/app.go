package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"vpool/app/handler"
	"vpool/internal/jobs"
	"vpool/internal/service"
	"vpool/pkg/config"
	"vpool/pkg/deploy/k8s"
	"vpool/pkg/interfaces"
	"vpool/pkg/logger"
	asynqqueue "vpool/pkg/queue/asynq"
	mysqlstore "vpool/pkg/store/mysql"
	redisstore "vpool/pkg/store/redis"

	"github.com/gin-gonic/gin"
)

// startupGrace how long Start waits for the listener to fail fast
const startupGrace = 200 * time.Millisecond

// Application manages the lifecycle of the entire application
type Application struct {
	// Infrastructure components
	config      *config.Config
	mysqlRepo   *mysqlstore.Repository
	redisClient *redisstore.RedisClient
	workerStore *redisstore.WorkerRepository
	queue       *asynqqueue.Manager

	// Orchestrator
	k8sManager   *k8s.Manager
	orchestrator *k8s.Orchestrator
	assets       interfaces.AssetProber

	// Service layer
	poolService        *service.PoolService
	invitationService  *service.InvitationService
	evictionService    *service.EvictionService
	workerService      *service.WorkerService
	workerEventService *service.WorkerEventService
	stageService       *service.StageService
	reconciler         *service.Reconciler
	notifier           *service.Notifier

	// Handler layer
	invitationHandler *handler.InvitationHandler
	workerHandler     *handler.WorkerHandler
	stageHandler      *handler.StageHandler
	poolHandler       *handler.PoolHandler
	healthHandler     *handler.HealthHandler

	// HTTP server
	httpServer *http.Server
	ginEngine  *gin.Engine
	serveErr   chan error

	// Background tasks
	jobsManager *jobs.Manager

	// Context management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Background task cleanup functions
	cleanupFuncs []func()
}

// NewApplication creates a new Application instance
func NewApplication() *Application {
	ctx, cancel := context.WithCancel(context.Background())
	return &Application{
		ctx:          ctx,
		cancel:       cancel,
		serveErr:     make(chan error, 1),
		cleanupFuncs: make([]func(), 0),
	}
}

// Initialize initializes all application components
func (app *Application) Initialize() error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"Configuration", app.initConfig},
		{"Logging", app.initLogger},
		{"MySQL", app.initMySQL},
		{"Redis", app.initRedis},
		{"Task Queue", app.initQueue},
		{"Orchestrator", app.initOrchestrator},
		{"Asset Store", app.initAssets},
		{"Service Layer", app.initServices},
		{"Change Notifier", app.initNotifier},
		{"Task Watcher", app.initTaskWatcher},
		{"Background Tasks", app.initJobs},
		{"Handler Layer", app.initHandlers},
		{"HTTP Server", app.initHTTPServer},
	}

	for _, step := range steps {
		started := time.Now()
		if err := step.fn(); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		logger.InfoCtx(app.ctx, "%s ready (%v)", step.name, time.Since(started).Round(time.Millisecond))
	}
	return nil
}

// Start brings components up in dependency order: the task state consumer
// before pod informers can publish to it, jobs, then the HTTP listener.
func (app *Application) Start() error {
	if err := app.queue.Start(); err != nil {
		return fmt.Errorf("failed to start task queue: %w", err)
	}

	app.k8sManager.Start()

	if app.jobsManager != nil {
		logger.InfoCtx(app.ctx, "starting background jobs: %v", app.jobsManager.Names())
		app.jobsManager.Start()
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.jobsManager.Wait()
		}()
	}

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		logger.InfoCtx(app.ctx, "HTTP server listening on %s", app.httpServer.Addr)
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.serveErr <- err
		}
	}()

	// A bind failure surfaces here instead of after startup is reported
	select {
	case err := <-app.serveErr:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-time.After(startupGrace):
	}

	logger.InfoCtx(app.ctx, "vpool started, pool bounds [%d, %d]",
		app.config.Pool.MinWarmWorkers, app.config.Pool.MaxWarmWorkers)
	return nil
}

// Shutdown stops intake first, then waits for in-flight work, then releases
// connections in reverse registration order.
func (app *Application) Shutdown(timeout time.Duration) error {
	logger.InfoCtx(app.ctx, "graceful shutdown, timeout %v", timeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	app.cancel()
	if app.jobsManager != nil {
		app.jobsManager.Stop()
	}

	var errs []error
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}

	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		errs = append(errs, fmt.Errorf("background work still running after %v", timeout))
	}

	for i := len(app.cleanupFuncs) - 1; i >= 0; i-- {
		app.cleanupFuncs[i]()
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	logger.InfoCtx(app.ctx, "graceful shutdown completed")
	return nil
}

// registerCleanup registers a release step run at shutdown
func (app *Application) registerCleanup(cleanup func()) {
	app.cleanupFuncs = append(app.cleanupFuncs, cleanup)
}
