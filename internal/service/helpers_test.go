package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"vpool/internal/model"
	"vpool/pkg/config"
	"vpool/pkg/constants"
	redisstore "vpool/pkg/store/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

var testPoolConfig = config.PoolConfig{
	MinWarmWorkers: 2,
	MaxWarmWorkers: 4,
	Interval:       time.Minute,
	StoppedTTL:     time.Hour,
	KickTTL:        time.Hour,
}

func newTestStore(t *testing.T) *redisstore.WorkerRepository {
	t.Helper()
	store, _ := newTestStoreWithClient(t)
	return store
}

func newTestStoreWithClient(t *testing.T) (*redisstore.WorkerRepository, *redisstore.RedisClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	redisClient := redisstore.NewRedisClientFromClient(client)
	return redisstore.NewWorkerRepository(redisClient), redisClient
}

// seedWorker creates a record in status; createdAt orders it among its peers
func seedWorker(t *testing.T, store *redisstore.WorkerRepository, id string, status constants.WorkerStatus, createdAt time.Time) *model.WorkerRecord {
	t.Helper()
	rec := &model.WorkerRecord{
		ID:               id,
		Status:           status,
		TaskID:           "task-" + id,
		AssignedStageArn: constants.UnassignedStage,
		LastUpdateSource: constants.SourcePoolController,
		CreatedAt:        createdAt,
	}
	require.NoError(t, store.Create(context.Background(), rec))
	return rec
}

type mockOrchestrator struct {
	mu       sync.Mutex
	started  []string
	stopped  []string
	startErr func(workerID string) error
	stopErr  func(taskID string) error
}

func (m *mockOrchestrator) StartWorker(_ context.Context, workerID string, _ map[string]string) (string, error) {
	if m.startErr != nil {
		if err := m.startErr(workerID); err != nil {
			return "", err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, workerID)
	return "task-" + workerID, nil
}

func (m *mockOrchestrator) StopWorker(_ context.Context, taskID, _ string) error {
	if m.stopErr != nil {
		if err := m.stopErr(taskID); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = append(m.stopped, taskID)
	return nil
}

func (m *mockOrchestrator) startCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.started)
}

func (m *mockOrchestrator) stopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stopped)
}

type mockStageStore struct {
	stages map[string]*model.StageRecord
}

func newMockStageStore(stages ...*model.StageRecord) *mockStageStore {
	m := &mockStageStore{stages: make(map[string]*model.StageRecord)}
	for _, s := range stages {
		m.stages[s.ID] = s
	}
	return m
}

func (m *mockStageStore) GetByID(_ context.Context, id string) (*model.StageRecord, error) {
	if s, ok := m.stages[id]; ok {
		return s, nil
	}
	return nil, model.ErrStageNotFound
}

func (m *mockStageStore) GetByARN(_ context.Context, arn string) (*model.StageRecord, error) {
	for _, s := range m.stages {
		if s.Arn == arn {
			return s, nil
		}
	}
	return nil, model.ErrStageNotFound
}

func (m *mockStageStore) Create(_ context.Context, stage *model.StageRecord) error {
	if _, ok := m.stages[stage.ID]; ok {
		return model.ErrAlreadyExists
	}
	m.stages[stage.ID] = stage
	return nil
}

func (m *mockStageStore) List(_ context.Context) ([]*model.StageRecord, error) {
	result := make([]*model.StageRecord, 0, len(m.stages))
	for _, s := range m.stages {
		result = append(result, s)
	}
	return result, nil
}

type mockAssetProber struct {
	missing map[string]bool
}

func (m *mockAssetProber) Exists(_ context.Context, assetName string) error {
	if m.missing[assetName] {
		return model.ErrAssetNotFound
	}
	return nil
}

func testStage(n int) *model.StageRecord {
	return &model.StageRecord{
		ID:        fmt.Sprintf("S%d", n),
		Arn:       fmt.Sprintf("arn:aws:ivs:us-west-2:123456789012:stage/S%d", n),
		Endpoints: map[string]string{"whip": fmt.Sprintf("https://whip.example/S%d", n)},
	}
}
