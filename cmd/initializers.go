package main

import (
	"fmt"
	"net/http"

	"vpool/app/handler"
	"vpool/app/router"
	"vpool/internal/service"
	"vpool/pkg/asset"
	"vpool/pkg/config"
	"vpool/pkg/deploy/k8s"
	"vpool/pkg/interfaces"
	"vpool/pkg/logger"
	"vpool/pkg/notification"
	asynqqueue "vpool/pkg/queue/asynq"
	mysqlstore "vpool/pkg/store/mysql"
	redisstore "vpool/pkg/store/redis"

	"github.com/gin-gonic/gin"
)

// initConfig initializes configuration
func (app *Application) initConfig() error {
	if err := config.Init(); err != nil {
		return err
	}
	app.config = config.GlobalConfig
	return nil
}

// initLogger initializes logging
func (app *Application) initLogger() error {
	if err := logger.Init(); err != nil {
		return err
	}
	app.registerCleanup(func() {
		logger.InfoCtx(app.ctx, "Logging system has been closed")
		_ = logger.Sync()
	})
	return nil
}

// initMySQL initializes MySQL (stages, worker event audit)
func (app *Application) initMySQL() error {
	repo, err := mysqlstore.NewRepository(app.ctx, app.config.MySQL)
	if err != nil {
		return err
	}

	app.mysqlRepo = repo
	app.registerCleanup(func() {
		_ = repo.Close()
		logger.InfoCtx(app.ctx, "MySQL connection has been closed")
	})

	return nil
}

// initRedis initializes Redis, the worker record store
func (app *Application) initRedis() error {
	client, err := redisstore.NewRedisClient(app.ctx, app.config.Redis)
	if err != nil {
		return err
	}

	app.redisClient = client
	app.workerStore = redisstore.NewWorkerRepository(client)
	app.registerCleanup(func() {
		_ = client.Close()
		logger.InfoCtx(app.ctx, "Redis connection has been closed")
	})

	return nil
}

// initQueue initializes the asynq queue carrying task state changes
func (app *Application) initQueue() error {
	queue, err := asynqqueue.NewManager(app.config)
	if err != nil {
		return err
	}

	app.queue = queue
	app.registerCleanup(func() {
		queue.Stop()
		_ = queue.Close()
		logger.InfoCtx(app.ctx, "Task queue has been closed")
	})
	return nil
}

// initOrchestrator initializes the K8s pod orchestrator
func (app *Application) initOrchestrator() error {
	cfg := app.config.K8s

	template, err := k8s.LoadPodTemplate(cfg.PodTemplate, cfg.Image)
	if err != nil {
		return err
	}

	manager, err := k8s.NewManager(cfg.Namespace)
	if err != nil {
		return err
	}

	app.k8sManager = manager
	app.orchestrator = k8s.NewOrchestrator(manager, template, cfg)
	app.registerCleanup(func() {
		manager.Close()
		logger.InfoCtx(app.ctx, "K8s manager has been closed")
	})

	logger.InfoCtx(app.ctx, "worker pods will be launched in namespace %s with prefix %s", cfg.Namespace, cfg.NamePrefix)
	return nil
}

// initAssets initializes the asset existence probe. Invitations naming an
// asset fail with BucketNameMissing when no bucket is configured.
func (app *Application) initAssets() error {
	if app.config.Asset.Bucket == "" {
		logger.InfoCtx(app.ctx, "asset bucket not configured, asset invitations are disabled")
		return nil
	}

	prober, err := asset.NewMinioProber(app.config.Asset)
	if err != nil {
		return err
	}
	app.assets = prober
	return nil
}

// initServices initializes service layer
func (app *Application) initServices() error {
	poolCfg := app.config.Pool

	app.stageService = service.NewStageService(app.mysqlRepo.Stage)
	app.poolService = service.NewPoolService(app.workerStore, app.orchestrator, poolCfg)
	app.invitationService = service.NewInvitationService(app.workerStore, app.mysqlRepo.Stage, app.assets)
	app.evictionService = service.NewEvictionService(app.workerStore, app.mysqlRepo.Stage, poolCfg)
	app.workerService = service.NewWorkerService(app.workerStore, app.orchestrator, poolCfg)
	app.workerEventService = service.NewWorkerEventService(app.mysqlRepo.WorkerEvent)

	app.reconciler = service.NewReconciler(app.workerStore, poolCfg)
	app.queue.RegisterTaskStateHandler(app.reconciler)

	logger.InfoCtx(app.ctx, "warm pool bounds: min=%d max=%d", poolCfg.MinWarmWorkers, poolCfg.MaxWarmWorkers)
	return nil
}

// initNotifier builds the change notifier subscribers
func (app *Application) initNotifier() error {
	cfg := app.config.Notifier
	if !cfg.Enabled {
		logger.InfoCtx(app.ctx, "change notifier disabled")
		return nil
	}

	subscribers := []interfaces.Subscriber{
		notification.NewAuditSubscriber(app.mysqlRepo.WorkerEvent),
	}

	if cfg.WebhookURL != "" {
		subscribers = append(subscribers, notification.NewWebhookSubscriber(cfg.WebhookURL))
	}

	if cfg.MQTT.Broker != "" {
		mqttSub, err := notification.NewMQTTSubscriber(cfg.MQTT)
		if err != nil {
			return err
		}
		subscribers = append(subscribers, mqttSub)
		app.registerCleanup(func() {
			mqttSub.Close()
			logger.InfoCtx(app.ctx, "MQTT subscriber has been closed")
		})
	}

	app.notifier = service.NewNotifier(cfg.Timeout, subscribers...)
	logger.InfoCtx(app.ctx, "change notifier subscribers: %v", app.notifier.Subscribers())
	return nil
}

// initTaskWatcher publishes pod lifecycle changes onto the task queue
func (app *Application) initTaskWatcher() error {
	watcher := k8s.NewTaskWatcher(app.k8sManager, app.orchestrator, app.queue)
	return watcher.Register()
}

func (app *Application) initHandlers() error {
	app.invitationHandler = handler.NewInvitationHandler(app.invitationService, app.evictionService)
	app.workerHandler = handler.NewWorkerHandler(app.workerService, app.workerEventService)
	app.stageHandler = handler.NewStageHandler(app.stageService)
	var jobStatus handler.JobStatusSource
	if app.jobsManager != nil {
		jobStatus = app.jobsManager
	}
	app.poolHandler = handler.NewPoolHandler(app.poolService, jobStatus)
	app.healthHandler = handler.NewHealthHandler(app.k8sManager, app.queue)
	return nil
}

func (app *Application) initHTTPServer() error {
	r := router.NewRouter(app.invitationHandler, app.workerHandler, app.stageHandler, app.poolHandler, app.healthHandler, app.config.Server.APIKey)

	// Set Gin mode
	if app.config.Server.Mode != "" {
		gin.SetMode(app.config.Server.Mode)
	}

	app.ginEngine = gin.New()
	r.Setup(app.ginEngine)

	app.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", app.config.Server.Port),
		Handler: app.ginEngine,
	}

	return nil
}
