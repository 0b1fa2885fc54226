package main

import (
	"context"
	"fmt"
	"time"

	"vpool/internal/jobs"
	"vpool/internal/service"
	"vpool/pkg/interfaces"
	"vpool/pkg/lock"
	"vpool/pkg/logger"
	redisstore "vpool/pkg/store/redis"
)

const purgeInterval = 10 * time.Minute

func (app *Application) initJobs() error {
	if app.poolService == nil {
		logger.WarnCtx(app.ctx, "Service layer not fully initialized yet, skipping background task registration")
		return nil
	}

	manager := jobs.NewManager(app.ctx)
	redisClient := app.redisClient.GetClient()

	// Locks keep replicas from running the same pass concurrently.
	// Correctness never depends on them, records are only changed through conditional writes.
	poolLock := lock.NewRedisDistributedLock(redisClient, "vpool:lock:pool-sizing")
	purgeLock := lock.NewRedisDistributedLock(redisClient, "vpool:lock:worker-purge")

	manager.Register(newPoolSizingJob(app.config.Pool.Interval, app.poolService, poolLock))
	manager.Register(newWorkerPurgeJob(purgeInterval, app.workerStore, app.poolService, app.workerEventService,
		app.config.Notifier.AuditRetention, app.config.Notifier.StreamMaxLen, purgeLock))

	if app.notifier != nil {
		// Consumer groups already split the stream between replicas, so no lock here
		feed := redisstore.NewChangeFeed(app.redisClient, redisstore.ChangeFeedOptions{
			Consumer:      app.config.Notifier.Consumer,
			BatchSize:     app.config.Notifier.BatchSize,
			MaxDeliveries: app.config.Queue.MaxRetry + 1,
			MinIdle:       app.config.Notifier.ClaimIdle,
		})
		logger.InfoCtx(app.ctx, "change feed consuming as %s", feed.Consumer())
		manager.Register(newChangeFeedJob(app.config.Notifier.PollInterval, app.notifier, feed))
	}

	app.jobsManager = manager
	return nil
}

// poolSizingJob keeps the warm pool within its bounds.
type poolSizingJob struct {
	interval        time.Duration
	poolService     *service.PoolService
	distributedLock lock.DistributedLock
}

func newPoolSizingJob(interval time.Duration, svc *service.PoolService, l lock.DistributedLock) jobs.Job {
	return &poolSizingJob{
		interval:        interval,
		poolService:     svc,
		distributedLock: l,
	}
}

func (j *poolSizingJob) Name() string {
	return "pool-sizing"
}

func (j *poolSizingJob) Interval() time.Duration {
	return j.interval
}

func (j *poolSizingJob) Run(ctx context.Context) error {
	acquired, err := j.distributedLock.TryLock(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire pool sizing lock: %w", err)
	}
	if !acquired {
		logger.DebugCtx(ctx, "another instance is running pool sizing, skipping this cycle")
		return nil
	}
	defer func() {
		if err := j.distributedLock.Unlock(ctx); err != nil {
			logger.WarnCtx(ctx, "failed to release pool sizing lock: %v", err)
		}
	}()

	result, err := j.poolService.Reconcile(ctx)
	if err != nil {
		return err
	}
	if result.Shortfall > 0 || result.StartFailed > 0 || result.StopFailed > 0 {
		logger.WarnCtx(ctx, "pool sizing incomplete: %+v", *result)
	}
	return nil
}

// indexPruner is the part of the worker store the purge job needs
type indexPruner interface {
	PruneDanglingIndexes(ctx context.Context) (int, error)
	TrimChangeStream(ctx context.Context, maxLen int64) error
}

// taskSweeper stops launched tasks that no worker record tracks
type taskSweeper interface {
	SweepUntrackedTasks(ctx context.Context) (*service.SweepResult, error)
}

// eventCleaner prunes the audit trail
type eventCleaner interface {
	Cleanup(ctx context.Context, retention time.Duration) error
}

// workerPurgeJob removes what expired records leave behind.
type workerPurgeJob struct {
	interval        time.Duration
	store           indexPruner
	tasks           taskSweeper
	events          eventCleaner
	retention       time.Duration
	streamMaxLen    int64
	distributedLock lock.DistributedLock
}

func newWorkerPurgeJob(interval time.Duration, store indexPruner, tasks taskSweeper, events eventCleaner, retention time.Duration, streamMaxLen int64, l lock.DistributedLock) jobs.Job {
	return &workerPurgeJob{
		interval:        interval,
		store:           store,
		tasks:           tasks,
		events:          events,
		retention:       retention,
		streamMaxLen:    streamMaxLen,
		distributedLock: l,
	}
}

func (j *workerPurgeJob) Name() string {
	return "worker-purge"
}

func (j *workerPurgeJob) Interval() time.Duration {
	return j.interval
}

func (j *workerPurgeJob) Run(ctx context.Context) error {
	acquired, err := j.distributedLock.TryLock(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire worker purge lock: %w", err)
	}
	if !acquired {
		logger.DebugCtx(ctx, "another instance is running worker purge, skipping this cycle")
		return nil
	}
	defer func() {
		if err := j.distributedLock.Unlock(ctx); err != nil {
			logger.WarnCtx(ctx, "failed to release worker purge lock: %v", err)
		}
	}()

	pruned, err := j.store.PruneDanglingIndexes(ctx)
	if err != nil {
		return err
	}
	if pruned > 0 {
		logger.InfoCtx(ctx, "pruned %d index entries of expired workers", pruned)
	}

	if err := j.store.TrimChangeStream(ctx, j.streamMaxLen); err != nil {
		return err
	}

	if j.tasks != nil {
		swept, err := j.tasks.SweepUntrackedTasks(ctx)
		if err != nil {
			return err
		}
		if swept.StopFailed > 0 {
			logger.WarnCtx(ctx, "untracked task sweep incomplete: %+v", *swept)
		}
	}

	if j.events != nil {
		return j.events.Cleanup(ctx, j.retention)
	}
	return nil
}

// changeSourceNotifier is the notifier surface the change feed job drives
type changeSourceNotifier interface {
	PollOnce(ctx context.Context, source interfaces.ChangeSource) (*service.PollResult, error)
}

// changeFeedJob fans worker changes out to subscribers.
type changeFeedJob struct {
	interval time.Duration
	notifier changeSourceNotifier
	source   interfaces.ChangeSource
}

func newChangeFeedJob(interval time.Duration, notifier changeSourceNotifier, source interfaces.ChangeSource) jobs.Job {
	return &changeFeedJob{
		interval: interval,
		notifier: notifier,
		source:   source,
	}
}

func (j *changeFeedJob) Name() string {
	return "change-feed"
}

func (j *changeFeedJob) Interval() time.Duration {
	return j.interval
}

func (j *changeFeedJob) Run(ctx context.Context) error {
	// Drain whatever accumulated since the last tick
	for {
		result, err := j.notifier.PollOnce(ctx, j.source)
		if err != nil {
			return err
		}
		if result.Read == 0 || result.Failed > 0 || ctx.Err() != nil {
			return nil
		}
	}
}
