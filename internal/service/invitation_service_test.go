package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"vpool/internal/model"
	"vpool/pkg/constants"
	"vpool/pkg/interfaces"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// barrierStore holds every caller of the AVAILABLE query until all parties have read,
// so the claims race on the same snapshot. With spread set, party k gets the k-th candidate.
type barrierStore struct {
	interfaces.WorkerStore
	barrier sync.WaitGroup
	spread  bool
	mu      sync.Mutex
	calls   int
}

func newBarrierStore(store interfaces.WorkerStore, parties int) *barrierStore {
	b := &barrierStore{WorkerStore: store}
	b.barrier.Add(parties)
	return b
}

func (b *barrierStore) QueryByIndex(ctx context.Context, index, value string, limit int) ([]*model.WorkerRecord, error) {
	if index != constants.IndexStatus {
		return b.WorkerStore.QueryByIndex(ctx, index, value, limit)
	}

	records, err := b.WorkerStore.QueryByIndex(ctx, index, value, 0)
	if err == nil && b.spread && len(records) > 0 {
		b.mu.Lock()
		k := b.calls % len(records)
		b.calls++
		b.mu.Unlock()
		records = records[k : k+1]
	} else if len(records) > limit && limit > 0 {
		records = records[:limit]
	}

	b.barrier.Done()
	b.barrier.Wait()
	return records, err
}

func TestInvitationService_Scenario(t *testing.T) {
	store := newTestStore(t)
	stage := testStage(1)
	svc := NewInvitationService(store, newMockStageStore(stage), &mockAssetProber{})
	ctx := context.Background()

	_, err := svc.CreateInvitation(ctx, &model.CreateInvitationRequest{StageID: "S1"})
	assert.ErrorIs(t, err, model.ErrVpNotAvailable)

	seedWorker(t, store, "W1", constants.WorkerStatusAvailable, time.Now())

	claimed, err := svc.CreateInvitation(ctx, &model.CreateInvitationRequest{StageID: "S1", AssetName: "intro.mp4"})
	require.NoError(t, err)
	assert.Equal(t, "W1", claimed.ID)

	w1, err := store.Get(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, constants.WorkerStatusInvited, w1.Status)
	assert.Equal(t, stage.Arn, w1.AssignedStageArn)
	assert.Equal(t, stage.Endpoints, w1.StageEndpoints)
	assert.Equal(t, "intro.mp4", w1.AssetName)
	assert.Equal(t, constants.SourceInvitation, w1.LastUpdateSource)
}

func TestInvitationService_Errors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		setup   func(t *testing.T) *InvitationService
		req     *model.CreateInvitationRequest
		wantErr error
		status  int
	}{
		{
			name: "unknown stage",
			setup: func(t *testing.T) *InvitationService {
				return NewInvitationService(newTestStore(t), newMockStageStore(), &mockAssetProber{})
			},
			req:     &model.CreateInvitationRequest{StageID: "nope"},
			wantErr: model.ErrStageNotFound,
			status:  404,
		},
		{
			name: "stage already has a worker",
			setup: func(t *testing.T) *InvitationService {
				store := newTestStore(t)
				stage := testStage(1)
				seedWorker(t, store, "W1", constants.WorkerStatusAvailable, time.Now())
				seedWorker(t, store, "W2", constants.WorkerStatusAvailable, time.Now())
				require.NoError(t, store.Update(context.Background(), "W1", model.UpdateRequest{
					Set: map[string]interface{}{model.FieldStatus: constants.WorkerStatusJoined, model.FieldAssignedStageArn: stage.Arn},
				}))
				return NewInvitationService(store, newMockStageStore(stage), &mockAssetProber{})
			},
			req:     &model.CreateInvitationRequest{StageID: "S1"},
			wantErr: model.ErrStageOccupied,
			status:  404,
		},
		{
			name: "asset missing",
			setup: func(t *testing.T) *InvitationService {
				store := newTestStore(t)
				seedWorker(t, store, "W1", constants.WorkerStatusAvailable, time.Now())
				return NewInvitationService(store, newMockStageStore(testStage(1)), &mockAssetProber{missing: map[string]bool{"gone.mp4": true}})
			},
			req:     &model.CreateInvitationRequest{StageID: "S1", AssetName: "gone.mp4"},
			wantErr: model.ErrAssetNotFound,
			status:  404,
		},
		{
			name: "no asset store configured",
			setup: func(t *testing.T) *InvitationService {
				store := newTestStore(t)
				seedWorker(t, store, "W1", constants.WorkerStatusAvailable, time.Now())
				return NewInvitationService(store, newMockStageStore(testStage(1)), nil)
			},
			req:     &model.CreateInvitationRequest{StageID: "S1", AssetName: "intro.mp4"},
			wantErr: model.ErrBucketNameMissing,
			status:  404,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := tt.setup(t)
			_, err := svc.CreateInvitation(ctx, tt.req)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.status, model.AsAPIError(err).HTTPStatus)
		})
	}
}

func TestInvitationService_ClaimRaceHasOneWinner(t *testing.T) {
	const parties = 8
	store := newTestStore(t)
	seedWorker(t, store, "W1", constants.WorkerStatusAvailable, time.Now())

	stages := make([]*model.StageRecord, 0, parties)
	for i := 0; i < parties; i++ {
		stages = append(stages, testStage(i))
	}
	svc := NewInvitationService(newBarrierStore(store, parties), newMockStageStore(stages...), nil)

	errs := make([]error, parties)
	var wg sync.WaitGroup
	for i := 0; i < parties; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.CreateInvitation(context.Background(), &model.CreateInvitationRequest{StageID: stages[i].ID})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.ErrorIs(t, err, model.ErrVpAlreadyAssigned)
		assert.Equal(t, 409, model.AsAPIError(err).HTTPStatus)
	}
	assert.Equal(t, 1, winners)
}

func TestInvitationService_StageHoldsOneWorker(t *testing.T) {
	const parties = 4
	store := newTestStore(t)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < parties; i++ {
		seedWorker(t, store, fmt.Sprintf("W%d", i), constants.WorkerStatusAvailable, base.Add(time.Duration(i)*time.Second))
	}
	stage := testStage(1)

	// Each request claims a different worker for the same stage
	barrier := newBarrierStore(store, parties)
	barrier.spread = true
	svc := NewInvitationService(barrier, newMockStageStore(stage), nil)

	var wg sync.WaitGroup
	errs := make([]error, parties)
	for i := 0; i < parties; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.CreateInvitation(context.Background(), &model.CreateInvitationRequest{StageID: stage.ID})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		}
	}
	assert.Equal(t, 1, winners)

	holders, err := store.QueryByIndex(context.Background(), constants.IndexAssignedStage, stage.Arn, 0)
	require.NoError(t, err)
	assert.Len(t, holders, 1)

	available, err := store.QueryByIndex(context.Background(), constants.IndexStatus, string(constants.WorkerStatusAvailable), 0)
	require.NoError(t, err)
	assert.Len(t, available, parties-1)
}

// TestProperty_ClaimAtomicity races N invitations for N stages over one worker
func TestProperty_ClaimAtomicity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("exactly one claim wins and the rest conflict", prop.ForAll(
		func(parties int) bool {
			store := newTestStore(t)
			seedWorker(t, store, "W1", constants.WorkerStatusAvailable, time.Now())

			stages := make([]*model.StageRecord, 0, parties)
			for i := 0; i < parties; i++ {
				stages = append(stages, testStage(i))
			}
			svc := NewInvitationService(newBarrierStore(store, parties), newMockStageStore(stages...), nil)

			var wg sync.WaitGroup
			var mu sync.Mutex
			winners, conflicts := 0, 0
			for i := 0; i < parties; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := svc.CreateInvitation(context.Background(), &model.CreateInvitationRequest{StageID: stages[i].ID})
					mu.Lock()
					defer mu.Unlock()
					if err == nil {
						winners++
					} else if model.AsAPIError(err).HTTPStatus == 409 {
						conflicts++
					}
				}(i)
			}
			wg.Wait()

			w1, err := store.Get(context.Background(), "W1")
			if err != nil {
				return false
			}
			return winners == 1 && conflicts == parties-1 && w1.Status == constants.WorkerStatusInvited
		},
		gen.IntRange(2, 10),
	))

	properties.TestingRun(t)
}
