package service

import (
	"context"
	"testing"
	"time"

	"vpool/internal/model"
	"vpool/pkg/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconciler_TransitionTable(t *testing.T) {
	tests := []struct {
		name        string
		initial     constants.WorkerStatus
		taskStatus  constants.TaskStatus
		wantStatus  constants.WorkerStatus
		wantRunning bool
	}{
		{"pending from provisioning", constants.WorkerStatusProvisioning, constants.TaskStatusPending, constants.WorkerStatusPending, false},
		{"pending ignored once available", constants.WorkerStatusAvailable, constants.TaskStatusPending, constants.WorkerStatusAvailable, false},
		{"running from provisioning", constants.WorkerStatusProvisioning, constants.TaskStatusRunning, constants.WorkerStatusRunning, true},
		{"running from pending", constants.WorkerStatusPending, constants.TaskStatusRunning, constants.WorkerStatusRunning, true},
		{"running keeps available", constants.WorkerStatusAvailable, constants.TaskStatusRunning, constants.WorkerStatusAvailable, true},
		{"running keeps invited", constants.WorkerStatusInvited, constants.TaskStatusRunning, constants.WorkerStatusInvited, true},
		{"running ignored once stopped", constants.WorkerStatusStopped, constants.TaskStatusRunning, constants.WorkerStatusStopped, false},
		{"deprovisioning", constants.WorkerStatusAvailable, constants.TaskStatusDeprovisioning, constants.WorkerStatusDeprovisioning, false},
		{"deprovisioning skipped once stopped", constants.WorkerStatusStopped, constants.TaskStatusDeprovisioning, constants.WorkerStatusStopped, false},
		{"provisioning is a no-op", constants.WorkerStatusProvisioning, constants.TaskStatusProvisioning, constants.WorkerStatusProvisioning, false},
		{"stopped", constants.WorkerStatusRunning, constants.TaskStatusStopped, constants.WorkerStatusStopped, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			ctx := context.Background()
			seedWorker(t, store, "w1", tt.initial, time.Now())

			r := NewReconciler(store, testPoolConfig)
			require.NoError(t, r.HandleTaskStateChange(ctx, &model.TaskStateChange{
				TaskID:     "task-w1",
				LastStatus: tt.taskStatus,
			}))

			w, err := store.Get(ctx, "w1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, w.Status)
			assert.Equal(t, tt.wantRunning, w.Running)
		})
	}
}

func TestReconciler_StoppedClearsStageAndSetsTTL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedWorker(t, store, "w1", constants.WorkerStatusAvailable, time.Now())
	require.NoError(t, store.Update(ctx, "w1", model.UpdateRequest{
		Set: map[string]interface{}{
			model.FieldStatus:           constants.WorkerStatusJoined,
			model.FieldAssignedStageArn: "arn:stage/1",
			model.FieldStageEndpoints:   map[string]string{"whip": "https://whip"},
			model.FieldRunning:          true,
		},
	}))

	stoppedAt := time.Now().Add(-5 * time.Minute).Truncate(time.Millisecond)
	r := NewReconciler(store, testPoolConfig)
	require.NoError(t, r.HandleTaskStateChange(ctx, &model.TaskStateChange{
		TaskID:     "task-w1",
		LastStatus: constants.TaskStatusStopped,
		StopCode:   constants.StopCodeEssentialExit,
		StoppedAt:  stoppedAt,
	}))

	w, err := store.Get(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, constants.WorkerStatusStopped, w.Status)
	assert.Equal(t, constants.UnassignedStage, w.AssignedStageArn)
	assert.Empty(t, w.StageEndpoints)
	assert.False(t, w.Running)
	assert.Equal(t, constants.SourceReconciler, w.LastUpdateSource)
	require.NotNil(t, w.TTL)
	assert.True(t, w.TTL.Equal(stoppedAt.Add(testPoolConfig.StoppedTTL)))
}

func TestReconciler_DuplicateStopIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedWorker(t, store, "w1", constants.WorkerStatusRunning, time.Now())

	r := NewReconciler(store, testPoolConfig)
	clock := time.Now().Truncate(time.Millisecond)
	r.now = func() time.Time { return clock }

	change := &model.TaskStateChange{TaskID: "task-w1", LastStatus: constants.TaskStatusStopped}
	require.NoError(t, r.HandleTaskStateChange(ctx, change))
	first, err := store.Get(ctx, "w1")
	require.NoError(t, err)

	// Redelivered later: the ttl is not pushed out
	clock = clock.Add(10 * time.Minute)
	require.NoError(t, r.HandleTaskStateChange(ctx, change))
	second, err := store.Get(ctx, "w1")
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.AssignedStageArn, second.AssignedStageArn)
	assert.Equal(t, first.Running, second.Running)
	require.NotNil(t, second.TTL)
	assert.True(t, first.TTL.Equal(*second.TTL))
}

func TestReconciler_RunningSurvivesConcurrentStatusChange(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedWorker(t, store, "w1", constants.WorkerStatusPending, time.Now())

	// The worker reports ready between the lookup and the write
	raced := &hookStore{WorkerStore: store, beforeUpdate: func() {
		require.NoError(t, store.Update(ctx, "w1", model.UpdateRequest{
			Set: map[string]interface{}{model.FieldStatus: constants.WorkerStatusAvailable},
		}))
	}}
	r := NewReconciler(raced, testPoolConfig)
	require.NoError(t, r.HandleTaskStateChange(ctx, &model.TaskStateChange{
		TaskID:     "task-w1",
		LastStatus: constants.TaskStatusRunning,
	}))

	w, err := store.Get(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, constants.WorkerStatusAvailable, w.Status)
	assert.True(t, w.Running)
	assert.Equal(t, constants.SourceReconciler, w.LastUpdateSource)
}

func TestReconciler_RunningNotAppliedAfterConcurrentStop(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedWorker(t, store, "w1", constants.WorkerStatusProvisioning, time.Now())

	raced := &hookStore{WorkerStore: store, beforeUpdate: func() {
		require.NoError(t, store.Update(ctx, "w1", model.UpdateRequest{
			Set: stoppedFields(time.Now().Add(time.Hour), constants.SourcePoolController),
		}))
	}}
	r := NewReconciler(raced, testPoolConfig)
	require.NoError(t, r.HandleTaskStateChange(ctx, &model.TaskStateChange{
		TaskID:     "task-w1",
		LastStatus: constants.TaskStatusRunning,
	}))

	w, err := store.Get(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, constants.WorkerStatusStopped, w.Status)
	assert.False(t, w.Running)
}

func TestReconciler_UnknownTaskIsDropped(t *testing.T) {
	store := newTestStore(t)
	r := NewReconciler(store, testPoolConfig)

	err := r.HandleTaskStateChange(context.Background(), &model.TaskStateChange{
		TaskID:     "not-ours",
		LastStatus: constants.TaskStatusStopped,
	})
	assert.NoError(t, err)
}
