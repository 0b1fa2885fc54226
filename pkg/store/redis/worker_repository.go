package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"vpool/internal/model"
	"vpool/pkg/constants"
	"vpool/pkg/logger"

	"github.com/go-redis/redis/v8"
)

const (
	workerKeyPrefix  = "vp:"                  // Key namespace for records and indexes
	workerKeySegment = "worker:"              // vp:worker:{id} hash
	workerSetAll     = "workers:all"          // vp:workers:all set of every id ever written
	ChangeStreamKey  = "vpool:worker-changes" // Before/after snapshots of every write
)

// Index name -> set key segment (vp:workers:{segment}:{value})
var indexSegments = map[string]string{
	constants.IndexStatus:        "status",
	constants.IndexAssignedStage: "stage",
	constants.IndexTaskID:        "task",
}

// Index name -> record field it mirrors
var indexFields = map[string]string{
	constants.IndexStatus:        model.FieldStatus,
	constants.IndexAssignedStage: model.FieldAssignedStageArn,
	constants.IndexTaskID:        model.FieldTaskID,
}

// writeScript applies a create or conditional update to one record hash, keeps the
// secondary index sets in step, sets or clears the expiry and appends the before/after
// snapshot to the change stream. Returns OK, CONFLICT or EXISTS.
//
// KEYS: record hash, change stream
// ARGV: prefix, id, mode, expireAt, vacantStage,
//
//	ncond, {field, expected}..., nset, {field, value}..., nremove, {field}...
var writeScript = redis.NewScript(`
local key = KEYS[1]
local stream = KEYS[2]
local prefix = ARGV[1]
local id = ARGV[2]
local mode = ARGV[3]
local expireAt = ARGV[4]
local vacant = ARGV[5]
local i = 6

local exists = redis.call('EXISTS', key) == 1
if mode == 'create' and exists then
	return 'EXISTS'
end
if mode == 'update' and not exists then
	return 'CONFLICT'
end

local ncond = tonumber(ARGV[i])
i = i + 1
for _ = 1, ncond do
	local current = redis.call('HGET', key, ARGV[i]) or ''
	if current ~= ARGV[i + 1] then
		return 'CONFLICT'
	end
	i = i + 2
end

if vacant ~= '' then
	local holders = redis.call('SMEMBERS', prefix .. 'workers:stage:' .. vacant)
	for _, holder in ipairs(holders) do
		if holder ~= id then
			local held = redis.call('HGET', prefix .. 'worker:' .. holder, 'assigned_stage_arn')
			if held == vacant then
				return 'CONFLICT'
			end
		end
	end
end

local before = redis.call('HGETALL', key)
local old = {}
for j = 1, #before, 2 do
	old[before[j]] = before[j + 1]
end

local nset = tonumber(ARGV[i])
i = i + 1
if nset > 0 then
	local args = {}
	for j = 0, nset * 2 - 1 do
		args[#args + 1] = ARGV[i + j]
	end
	redis.call('HSET', key, unpack(args))
	i = i + nset * 2
end

local nremove = tonumber(ARGV[i])
i = i + 1
for _ = 1, nremove do
	redis.call('HDEL', key, ARGV[i])
	i = i + 1
end

local after = redis.call('HGETALL', key)
local new = {}
for j = 1, #after, 2 do
	new[after[j]] = after[j + 1]
end

local function reindex(segment, field, skip)
	local o = old[field] or ''
	local n = new[field] or ''
	if o == n then
		return
	end
	if o ~= '' and o ~= skip then
		redis.call('SREM', prefix .. 'workers:' .. segment .. ':' .. o, id)
	end
	if n ~= '' and n ~= skip then
		redis.call('SADD', prefix .. 'workers:' .. segment .. ':' .. n, id)
	end
end

reindex('status', 'status', '')
reindex('stage', 'assigned_stage_arn', 'unassigned')
reindex('task', 'task_id', '')
redis.call('SADD', prefix .. 'workers:all', id)

if expireAt == '0' then
	redis.call('PERSIST', key)
elseif expireAt ~= '' then
	redis.call('EXPIREAT', key, expireAt)
end

local entry = {'worker_id', id, 'source', new['last_update_source'] or ''}
for j = 1, #before, 2 do
	entry[#entry + 1] = 'old.' .. before[j]
	entry[#entry + 1] = before[j + 1]
end
for j = 1, #after, 2 do
	entry[#entry + 1] = 'new.' .. after[j]
	entry[#entry + 1] = after[j + 1]
end
redis.call('XADD', stream, '*', unpack(entry))

return 'OK'
`)

// WorkerRepository worker records in Redis hashes, indexed by status, stage and task id.
// Every write goes through writeScript so conditions, indexes and the change stream
// are updated atomically.
type WorkerRepository struct {
	redis  *redis.Client
	prefix string
	stream string
	now    func() time.Time
}

// NewWorkerRepository creates Worker repository
func NewWorkerRepository(redisClient *RedisClient) *WorkerRepository {
	return &WorkerRepository{
		redis:  redisClient.GetClient(),
		prefix: workerKeyPrefix,
		stream: ChangeStreamKey,
		now:    time.Now,
	}
}

func (r *WorkerRepository) workerKey(id string) string {
	return r.prefix + workerKeySegment + id
}

func (r *WorkerRepository) indexKey(index, value string) (string, error) {
	segment, ok := indexSegments[index]
	if !ok {
		return "", fmt.Errorf("unknown index %q", index)
	}
	return r.prefix + "workers:" + segment + ":" + value, nil
}

// Create inserts a new record, failing with model.ErrAlreadyExists on id collision
func (r *WorkerRepository) Create(ctx context.Context, record *model.WorkerRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("%w: worker id is required", model.ErrInvalidField)
	}

	now := r.now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}
	if record.AssignedStageArn == "" {
		record.AssignedStageArn = constants.UnassignedStage
	}

	pairs, err := encodeRecord(record)
	if err != nil {
		return err
	}

	expireAt := ""
	if record.TTL != nil {
		expireAt = strconv.FormatInt(record.TTL.Unix(), 10)
	}

	args := []interface{}{r.prefix, record.ID, "create", expireAt, "", 0, len(pairs) / 2}
	for _, p := range pairs {
		args = append(args, p)
	}
	args = append(args, 0)

	return r.runWrite(ctx, record.ID, args)
}

// Update applies req atomically. A missing record or a failed condition returns model.ErrConditionFailed.
func (r *WorkerRepository) Update(ctx context.Context, id string, req model.UpdateRequest) error {
	if id == "" {
		return fmt.Errorf("%w: worker id is required", model.ErrInvalidField)
	}

	condPairs, err := encodeFieldMap(req.Condition, true)
	if err != nil {
		return err
	}

	set := make(map[string]interface{}, len(req.Set)+1)
	removeSet := make(map[string]bool, len(req.Remove))
	for _, field := range req.Remove {
		if !writableFields[field] {
			return fmt.Errorf("%w: cannot remove %q", model.ErrInvalidField, field)
		}
		removeSet[field] = true
	}
	for field, value := range req.Set {
		if value == nil {
			if !writableFields[field] {
				return fmt.Errorf("%w: cannot remove %q", model.ErrInvalidField, field)
			}
			removeSet[field] = true
			continue
		}
		set[field] = value
	}
	set[model.FieldUpdatedAt] = r.now()

	expireAt := ""
	if ttl, ok := set[model.FieldTTL]; ok {
		switch t := ttl.(type) {
		case time.Time:
			expireAt = strconv.FormatInt(t.Unix(), 10)
		case *time.Time:
			if t == nil {
				delete(set, model.FieldTTL)
				removeSet[model.FieldTTL] = true
			} else {
				expireAt = strconv.FormatInt(t.Unix(), 10)
			}
		default:
			return fmt.Errorf("%w: ttl must be a time, got %T", model.ErrInvalidField, ttl)
		}
	}
	if _, setTTL := set[model.FieldTTL]; removeSet[model.FieldTTL] && !setTTL {
		expireAt = "0"
	}

	setPairs, err := encodeFieldMap(set, false)
	if err != nil {
		return err
	}

	remove := make([]string, 0, len(removeSet))
	for field := range removeSet {
		if _, overwritten := set[field]; !overwritten {
			remove = append(remove, field)
		}
	}
	sort.Strings(remove)

	args := []interface{}{r.prefix, id, "update", expireAt, req.StageVacant, len(condPairs) / 2}
	for _, p := range condPairs {
		args = append(args, p)
	}
	args = append(args, len(setPairs)/2)
	for _, p := range setPairs {
		args = append(args, p)
	}
	args = append(args, len(remove))
	for _, f := range remove {
		args = append(args, f)
	}

	return r.runWrite(ctx, id, args)
}

// UpdateIf compare-and-set on expected field values
func (r *WorkerRepository) UpdateIf(ctx context.Context, id string, expected, set map[string]interface{}) (model.UpdateResult, error) {
	err := r.Update(ctx, id, model.UpdateRequest{Set: set, Condition: expected})
	if err == nil {
		return model.UpdateApplied, nil
	}
	if errors.Is(err, model.ErrConditionFailed) {
		return model.UpdateConflict, nil
	}
	return model.UpdateConflict, err
}

func (r *WorkerRepository) runWrite(ctx context.Context, id string, args []interface{}) error {
	res, err := writeScript.Run(ctx, r.redis, []string{r.workerKey(id), r.stream}, args...).Result()
	if err != nil {
		return fmt.Errorf("failed to write worker %s: %w", id, err)
	}

	switch res {
	case "OK":
		return nil
	case "CONFLICT":
		return model.ErrConditionFailed
	case "EXISTS":
		return model.ErrAlreadyExists
	default:
		return fmt.Errorf("unexpected write result for worker %s: %v", id, res)
	}
}

// encodeFieldMap flattens a field map into sorted pairs
func encodeFieldMap(fields map[string]interface{}, isCondition bool) ([]string, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		if !writableFields[name] && !(isCondition && name == model.FieldID) {
			return nil, fmt.Errorf("%w: %q", model.ErrInvalidField, name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names)*2)
	for _, name := range names {
		value, err := encodeValue(fields[name])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		pairs = append(pairs, name, value)
	}
	return pairs, nil
}

// Get retrieves a worker record
func (r *WorkerRepository) Get(ctx context.Context, id string) (*model.WorkerRecord, error) {
	fields, err := r.redis.HGetAll(ctx, r.workerKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get worker: %w", err)
	}

	record, err := decodeRecord(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to decode worker %s: %w", id, err)
	}
	if record == nil {
		return nil, model.ErrWorkerNotFound
	}
	return record, nil
}

// QueryByIndex returns the live records in an index set, oldest first
func (r *WorkerRepository) QueryByIndex(ctx context.Context, index, value string, limit int) ([]*model.WorkerRecord, error) {
	if index == constants.IndexAssignedStage && value == constants.UnassignedStage {
		return nil, fmt.Errorf("%w: the unassigned sentinel is not indexed", model.ErrInvalidField)
	}
	setKey, err := r.indexKey(index, value)
	if err != nil {
		return nil, err
	}

	records, err := r.fetchSet(ctx, setKey)
	if err != nil {
		return nil, err
	}

	// The set is read before the hashes, so drop records that moved on in between
	field := indexFields[index]
	matched := records[:0]
	for _, rec := range records {
		if fieldValue(rec, field) == value {
			matched = append(matched, rec)
		}
	}

	sortOldestFirst(matched)
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// ScanByStatusSet fetches every record in any of the given statuses
func (r *WorkerRepository) ScanByStatusSet(ctx context.Context, statuses []constants.WorkerStatus) ([]*model.WorkerRecord, error) {
	seen := make(map[string]bool)
	result := make([]*model.WorkerRecord, 0)
	for _, status := range statuses {
		records, err := r.QueryByIndex(ctx, constants.IndexStatus, string(status), 0)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if seen[rec.ID] {
				continue
			}
			seen[rec.ID] = true
			result = append(result, rec)
		}
	}
	sortOldestFirst(result)
	return result, nil
}

// List returns every live record
func (r *WorkerRepository) List(ctx context.Context) ([]*model.WorkerRecord, error) {
	records, err := r.fetchSet(ctx, r.prefix+workerSetAll)
	if err != nil {
		return nil, err
	}
	sortOldestFirst(records)
	return records, nil
}

// fetchSet loads every record referenced by an index set. Members whose hash has
// expired are skipped and removed from the set.
func (r *WorkerRepository) fetchSet(ctx context.Context, setKey string) ([]*model.WorkerRecord, error) {
	ids, err := r.redis.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read index %s: %w", setKey, err)
	}
	if len(ids) == 0 {
		return []*model.WorkerRecord{}, nil
	}

	pipe := r.redis.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, pipe.HGetAll(ctx, r.workerKey(id)))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to fetch workers: %w", err)
	}

	records := make([]*model.WorkerRecord, 0, len(ids))
	dangling := make([]interface{}, 0)
	for i, cmd := range cmds {
		record, err := decodeRecord(cmd.Val())
		if err != nil {
			logger.WarnCtx(ctx, "skipping malformed worker record %s in %s: %v", ids[i], setKey, err)
			continue
		}
		if record == nil {
			dangling = append(dangling, ids[i])
			continue
		}
		records = append(records, record)
	}

	if len(dangling) > 0 {
		// The purge job prunes whatever is left behind here
		if err := r.redis.SRem(ctx, setKey, dangling...).Err(); err != nil {
			logger.WarnCtx(ctx, "failed to drop %d expired workers from %s: %v", len(dangling), setKey, err)
		}
	}
	return records, nil
}

// PruneDanglingIndexes removes index members whose record has expired and returns how many were removed
func (r *WorkerRepository) PruneDanglingIndexes(ctx context.Context) (int, error) {
	removed := 0
	var cursor uint64
	for {
		keys, next, err := r.redis.Scan(ctx, cursor, r.prefix+"workers:*", 100).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to scan index keys: %w", err)
		}

		for _, setKey := range keys {
			ids, err := r.redis.SMembers(ctx, setKey).Result()
			if err != nil {
				return removed, fmt.Errorf("failed to read index %s: %w", setKey, err)
			}
			if len(ids) == 0 {
				continue
			}

			pipe := r.redis.Pipeline()
			cmds := make([]*redis.IntCmd, 0, len(ids))
			for _, id := range ids {
				cmds = append(cmds, pipe.Exists(ctx, r.workerKey(id)))
			}
			if _, err := pipe.Exec(ctx); err != nil {
				return removed, fmt.Errorf("failed to check workers in %s: %w", setKey, err)
			}

			dangling := make([]interface{}, 0)
			for i, cmd := range cmds {
				if cmd.Val() == 0 {
					dangling = append(dangling, ids[i])
				}
			}
			if len(dangling) == 0 {
				continue
			}
			n, err := r.redis.SRem(ctx, setKey, dangling...).Result()
			if err != nil {
				return removed, fmt.Errorf("failed to prune %s: %w", setKey, err)
			}
			removed += int(n)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}
	return removed, nil
}

// TrimChangeStream caps the change stream length
func (r *WorkerRepository) TrimChangeStream(ctx context.Context, maxLen int64) error {
	if maxLen <= 0 {
		return nil
	}
	if err := r.redis.XTrimMaxLen(ctx, r.stream, maxLen).Err(); err != nil {
		return fmt.Errorf("failed to trim change stream: %w", err)
	}
	return nil
}

func fieldValue(rec *model.WorkerRecord, field string) string {
	switch field {
	case model.FieldStatus:
		return string(rec.Status)
	case model.FieldAssignedStageArn:
		return rec.AssignedStageArn
	case model.FieldTaskID:
		return rec.TaskID
	}
	return ""
}

func sortOldestFirst(records []*model.WorkerRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return strings.Compare(records[i].ID, records[j].ID) < 0
	})
}
