package redis

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"vpool/internal/model"
	"vpool/pkg/logger"

	"github.com/go-redis/redis/v8"
)

const (
	defaultFeedGroup     = "vpool-notifier"
	defaultFeedBatchSize = 100
	defaultFeedMinIdle   = time.Minute
)

// ChangeFeedOptions consumer group settings for the change stream
type ChangeFeedOptions struct {
	Group         string
	Consumer      string // Keep stable across restarts so a process resumes its own pending changes; defaults to the hostname
	BatchSize     int
	MaxDeliveries int           // Attempts before a change is acknowledged and dropped; <= 0 retries forever
	MinIdle       time.Duration // Idle time after which another consumer's pending changes are taken over
}

// ChangeFeed reads worker changes from the change stream through a consumer group.
// Unacknowledged entries stay pending in the group and are delivered again on a
// later pass, by this consumer or by whichever consumer takes them over, so only
// failed changes are redelivered and none are lost to a restart.
type ChangeFeed struct {
	redis  *redis.Client
	stream string
	opts   ChangeFeedOptions
	mu     sync.Mutex
	ready  bool
}

// NewChangeFeed creates a change feed consumer
func NewChangeFeed(redisClient *RedisClient, opts ChangeFeedOptions) *ChangeFeed {
	if opts.Group == "" {
		opts.Group = defaultFeedGroup
	}
	if opts.Consumer == "" {
		opts.Consumer = defaultConsumerName()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultFeedBatchSize
	}
	if opts.MinIdle <= 0 {
		opts.MinIdle = defaultFeedMinIdle
	}
	return &ChangeFeed{
		redis:  redisClient.GetClient(),
		stream: ChangeStreamKey,
		opts:   opts,
	}
}

func defaultConsumerName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "consumer-" + strconv.FormatInt(time.Now().UnixNano(), 36)
}

// Consumer returns the consumer name this feed reads as
func (f *ChangeFeed) Consumer() string {
	return f.opts.Consumer
}

func (f *ChangeFeed) ensureGroup(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ready {
		return nil
	}
	err := f.redis.XGroupCreateMkStream(ctx, f.stream, f.opts.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	f.ready = true
	return nil
}

// Next returns pending changes this consumer may retry, followed by new ones, up to the batch size
func (f *ChangeFeed) Next(ctx context.Context) ([]model.WorkerChange, error) {
	if err := f.ensureGroup(ctx); err != nil {
		return nil, err
	}

	changes, err := f.reclaim(ctx)
	if err != nil {
		return nil, err
	}

	room := f.opts.BatchSize - len(changes)
	if room <= 0 {
		return changes, nil
	}
	fresh, err := f.read(ctx, ">", room)
	if err != nil {
		return nil, err
	}
	for _, msg := range fresh {
		changes = append(changes, decodeChange(msg))
	}
	return changes, nil
}

// reclaim takes over pending changes: this consumer's own, left unacknowledged by an
// earlier pass or an earlier run under the same name, and other consumers' once they
// have been idle for MinIdle. Delivery counts come from the group's pending list, so
// a change already delivered MaxDeliveries times is acknowledged and dropped.
func (f *ChangeFeed) reclaim(ctx context.Context) ([]model.WorkerChange, error) {
	var own, others, exhausted []string
	start := "-"
scan:
	for {
		page, err := f.redis.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: f.stream,
			Group:  f.opts.Group,
			Start:  start,
			End:    "+",
			Count:  int64(f.opts.BatchSize),
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list pending changes: %w", err)
		}

		for _, p := range page {
			mine := p.Consumer == f.opts.Consumer
			if !mine && p.Idle < f.opts.MinIdle {
				continue // likely still being handled elsewhere
			}
			switch {
			case f.opts.MaxDeliveries > 0 && p.RetryCount >= int64(f.opts.MaxDeliveries):
				exhausted = append(exhausted, p.ID)
			case len(own)+len(others) >= f.opts.BatchSize:
				break scan
			case mine:
				own = append(own, p.ID)
			default:
				others = append(others, p.ID)
			}
		}
		if len(page) < f.opts.BatchSize {
			break
		}
		start = nextStreamID(page[len(page)-1].ID)
	}

	if len(exhausted) > 0 {
		logger.WarnCtx(ctx, "dropping %d worker changes after %d deliveries: %v",
			len(exhausted), f.opts.MaxDeliveries, exhausted)
		if err := f.Ack(ctx, exhausted); err != nil {
			return nil, err
		}
	}

	claimed, err := f.claim(ctx, own, 0)
	if err != nil {
		return nil, err
	}
	// Redis rechecks idleness, so a change another consumer just took over stays with it
	taken, err := f.claim(ctx, others, f.opts.MinIdle)
	if err != nil {
		return nil, err
	}
	if len(taken) > 0 {
		logger.InfoCtx(ctx, "consumer %s took over %d idle worker changes", f.opts.Consumer, len(taken))
	}

	msgs := append(claimed, taken...)
	sort.Slice(msgs, func(i, j int) bool { return streamIDLess(msgs[i].ID, msgs[j].ID) })

	changes := make([]model.WorkerChange, 0, len(msgs))
	for _, msg := range msgs {
		changes = append(changes, decodeChange(msg))
	}
	return changes, nil
}

// claim moves pending entries to this consumer, counting a delivery for each
func (f *ChangeFeed) claim(ctx context.Context, ids []string, minIdle time.Duration) ([]redis.XMessage, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	msgs, err := f.redis.XClaim(ctx, &redis.XClaimArgs{
		Stream:   f.stream,
		Group:    f.opts.Group,
		Consumer: f.opts.Consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to claim pending changes: %w", err)
	}
	return msgs, nil
}

func (f *ChangeFeed) read(ctx context.Context, start string, count int) ([]redis.XMessage, error) {
	streams, err := f.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    f.opts.Group,
		Consumer: f.opts.Consumer,
		Streams:  []string{f.stream, start},
		Count:    int64(count),
		Block:    -1, // never block, the caller polls
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read change stream: %w", err)
	}

	msgs := make([]redis.XMessage, 0)
	for _, s := range streams {
		msgs = append(msgs, s.Messages...)
	}
	return msgs, nil
}

// Ack acknowledges delivered changes
func (f *ChangeFeed) Ack(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := f.redis.XAck(ctx, f.stream, f.opts.Group, ids...).Err(); err != nil {
		return fmt.Errorf("failed to ack changes: %w", err)
	}
	return nil
}

// decodeChange splits a stream entry into its before/after records
func decodeChange(msg redis.XMessage) model.WorkerChange {
	change := model.WorkerChange{ID: msg.ID, At: streamIDTime(msg.ID)}

	before := make(map[string]string)
	after := make(map[string]string)
	for k, v := range msg.Values {
		s, _ := v.(string)
		switch {
		case k == "worker_id":
			change.WorkerID = s
		case k == "source":
			change.Source = s
		case strings.HasPrefix(k, "old."):
			before[strings.TrimPrefix(k, "old.")] = s
		case strings.HasPrefix(k, "new."):
			after[strings.TrimPrefix(k, "new.")] = s
		}
	}

	// A malformed snapshot decodes as absent; the change is still delivered as insert/remove
	change.Before, _ = decodeRecord(before)
	change.After, _ = decodeRecord(after)
	return change
}

// parseStreamID splits a stream entry id into its millisecond and sequence parts
func parseStreamID(id string) (ms, seq uint64) {
	parts := strings.SplitN(id, "-", 2)
	ms, _ = strconv.ParseUint(parts[0], 10, 64)
	if len(parts) == 2 {
		seq, _ = strconv.ParseUint(parts[1], 10, 64)
	}
	return ms, seq
}

func streamIDLess(a, b string) bool {
	aMs, aSeq := parseStreamID(a)
	bMs, bSeq := parseStreamID(b)
	if aMs != bMs {
		return aMs < bMs
	}
	return aSeq < bSeq
}

// nextStreamID the smallest id after id, used as an exclusive range start
func nextStreamID(id string) string {
	ms, seq := parseStreamID(id)
	return strconv.FormatUint(ms, 10) + "-" + strconv.FormatUint(seq+1, 10)
}

// streamIDTime extracts the millisecond timestamp from a stream entry id
func streamIDTime(id string) time.Time {
	ms, err := strconv.ParseInt(strings.SplitN(id, "-", 2)[0], 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
