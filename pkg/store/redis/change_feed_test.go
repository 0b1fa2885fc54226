package redis

import (
	"context"
	"testing"
	"time"

	"vpool/internal/model"
	"vpool/pkg/constants"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeFeed_RedeliversOnlyUnacked(t *testing.T) {
	repo, _, client := newTestRepository(t)
	ctx := context.Background()
	feed := NewChangeFeed(NewRedisClientFromClient(client), ChangeFeedOptions{
		Consumer:      "test",
		MaxDeliveries: 2,
	})

	require.NoError(t, repo.Create(ctx, availableRecord("w1", "vp-1", time.Now())))
	require.NoError(t, repo.Update(ctx, "w1", model.UpdateRequest{
		Set: map[string]interface{}{model.FieldStatus: constants.WorkerStatusInvited},
	}))

	first, err := feed.Next(ctx)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Nil(t, first[0].Before)
	assert.Equal(t, constants.WorkerStatusInvited, first[1].After.Status)

	// Only the insert is delivered
	require.NoError(t, feed.Ack(ctx, []string{first[0].ID}))

	second, err := feed.Next(ctx)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[1].ID, second[0].ID)

	// Third delivery exceeds MaxDeliveries, the change is dropped
	third, err := feed.Next(ctx)
	require.NoError(t, err)
	assert.Empty(t, third)
}

func TestChangeFeed_PicksUpNewWrites(t *testing.T) {
	repo, _, client := newTestRepository(t)
	ctx := context.Background()
	feed := NewChangeFeed(NewRedisClientFromClient(client), ChangeFeedOptions{Consumer: "test"})

	empty, err := feed.Next(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, repo.Create(ctx, availableRecord("w1", "vp-1", time.Now())))

	changes, err := feed.Next(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "w1", changes[0].WorkerID)
	assert.False(t, changes[0].At.IsZero())
	require.NoError(t, feed.Ack(ctx, []string{changes[0].ID}))

	changes, err = feed.Next(ctx)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestChangeFeed_RestartResumesOwnPending(t *testing.T) {
	repo, _, client := newTestRepository(t)
	ctx := context.Background()
	opts := ChangeFeedOptions{Consumer: "replica-a", MaxDeliveries: 3}

	require.NoError(t, repo.Create(ctx, availableRecord("w1", "vp-1", time.Now())))
	require.NoError(t, repo.Create(ctx, availableRecord("w2", "vp-2", time.Now())))

	before := NewChangeFeed(NewRedisClientFromClient(client), opts)
	first, err := before.Next(ctx)
	require.NoError(t, err)
	require.Len(t, first, 2)

	// Same name after a restart, nothing acked
	after := NewChangeFeed(NewRedisClientFromClient(client), opts)
	resumed, err := after.Next(ctx)
	require.NoError(t, err)
	require.Len(t, resumed, 2)
	assert.Equal(t, first[0].ID, resumed[0].ID)
	assert.Equal(t, first[1].ID, resumed[1].ID)
	assert.Equal(t, "w1", resumed[0].WorkerID)
}

func TestChangeFeed_TakesOverIdleChangesOfAnotherConsumer(t *testing.T) {
	repo, mr, client := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()
	mr.SetTime(now)

	require.NoError(t, repo.Create(ctx, availableRecord("w1", "vp-1", now)))
	require.NoError(t, repo.Create(ctx, availableRecord("w2", "vp-2", now)))

	gone := NewChangeFeed(NewRedisClientFromClient(client), ChangeFeedOptions{
		Consumer: "replica-a", MaxDeliveries: 3, MinIdle: time.Minute,
	})
	first, err := gone.Next(ctx)
	require.NoError(t, err)
	require.Len(t, first, 2)

	successor := NewChangeFeed(NewRedisClientFromClient(client), ChangeFeedOptions{
		Consumer: "replica-b", MaxDeliveries: 3, MinIdle: time.Minute,
	})

	// Not idle long enough, could still be in flight on replica-a
	early, err := successor.Next(ctx)
	require.NoError(t, err)
	assert.Empty(t, early)

	mr.SetTime(now.Add(2 * time.Minute))
	taken, err := successor.Next(ctx)
	require.NoError(t, err)
	require.Len(t, taken, 2)
	assert.Equal(t, first[0].ID, taken[0].ID)
	assert.Equal(t, first[1].ID, taken[1].ID)

	require.NoError(t, successor.Ack(ctx, []string{taken[0].ID, taken[1].ID}))
	pending, err := client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: ChangeStreamKey, Group: defaultFeedGroup, Start: "-", End: "+", Count: 10,
	}).Result()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestChangeFeed_DeliveryCountSurvivesRestart(t *testing.T) {
	repo, _, client := newTestRepository(t)
	ctx := context.Background()
	opts := ChangeFeedOptions{Consumer: "replica-a", MaxDeliveries: 2}

	require.NoError(t, repo.Create(ctx, availableRecord("w1", "vp-1", time.Now())))

	first, err := NewChangeFeed(NewRedisClientFromClient(client), opts).Next(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := NewChangeFeed(NewRedisClientFromClient(client), opts).Next(ctx)
	require.NoError(t, err)
	require.Len(t, second, 1)

	// Two deliveries already counted by the group, a fresh process drops it
	third, err := NewChangeFeed(NewRedisClientFromClient(client), opts).Next(ctx)
	require.NoError(t, err)
	assert.Empty(t, third)
}

func TestNextStreamID(t *testing.T) {
	assert.Equal(t, "1700000000000-1", nextStreamID("1700000000000-0"))
	assert.True(t, streamIDLess("1700000000000-9", "1700000000000-10"))
	assert.True(t, streamIDLess("999-5", "1000-0"))
	assert.False(t, streamIDLess("1000-0", "1000-0"))
}
