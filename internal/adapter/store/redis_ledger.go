package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"fineas-core/internal/domain/entity"

	"github.com/redis/go-redis/v9"
)

// Each account is a hash at account:<user_key>. All read-check-write
// sequences run as Lua scripts, which Redis executes atomically.
const (
	accountPrefix      = "account:"
	customerPrefix     = "customer:"
	conversationPrefix = "conversation:"
	convNamesPrefix    = "conversations:"
	reportPrefix       = "report:"
)

// Replies are {allowed, credits, is_member, created_at, customer_ref, created}.
var enforceScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then
  redis.call('HSET', key, 'credits', ARGV[1], 'is_member', 0, 'created_at', ARGV[2])
  return {1, tonumber(ARGV[1]), 0, tonumber(ARGV[2]), '', 1}
end
local credits = tonumber(redis.call('HGET', key, 'credits') or '0')
local member = tonumber(redis.call('HGET', key, 'is_member') or '0')
local created = tonumber(redis.call('HGET', key, 'created_at') or '0')
local ref = redis.call('HGET', key, 'customer_ref') or ''
if credits > 0 then
  credits = redis.call('HINCRBY', key, 'credits', -1)
  return {1, credits, member, created, ref, 0}
end
if member == 1 then
  return {1, credits, member, created, ref, 0}
end
return {0, credits, member, created, ref, 0}
`)

// Replies are {credits, is_member, created_at, customer_ref}.
var getOrCreateScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then
  redis.call('HSET', key, 'credits', ARGV[1], 'is_member', 0, 'created_at', ARGV[2])
end
return {
  tonumber(redis.call('HGET', key, 'credits') or '0'),
  tonumber(redis.call('HGET', key, 'is_member') or '0'),
  tonumber(redis.call('HGET', key, 'created_at') or '0'),
  redis.call('HGET', key, 'customer_ref') or ''
}
`)

// moveRef points KEYS[2] at the user and drops the index key of a ref the
// account held before, so a stale ref no longer resolves to it.
const moveRef = `
local function moveRef(key, refKey, ref, user)
  local old = redis.call('HGET', key, 'customer_ref')
  if old and old ~= '' and old ~= ref and redis.call('GET', '` + customerPrefix + `' .. old) == user then
    redis.call('DEL', '` + customerPrefix + `' .. old)
  end
  redis.call('HSET', key, 'customer_ref', ref)
  redis.call('SET', refKey, user)
end
`

var setMembershipScript = redis.NewScript(moveRef + `
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then
  redis.call('HSET', key, 'created_at', ARGV[3])
end
redis.call('HSET', key, 'is_member', ARGV[1], 'credits', ARGV[2])
if ARGV[4] ~= '' then
  moveRef(key, KEYS[2], ARGV[4], ARGV[5])
end
return {
  tonumber(redis.call('HGET', key, 'credits') or '0'),
  tonumber(redis.call('HGET', key, 'is_member') or '0'),
  tonumber(redis.call('HGET', key, 'created_at') or '0'),
  redis.call('HGET', key, 'customer_ref') or ''
}
`)

var setCustomerRefScript = redis.NewScript(moveRef + `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
moveRef(KEYS[1], KEYS[2], ARGV[1], ARGV[2])
return 1
`)

type RedisLedger struct {
	client *redis.Client
}

func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

func (r *RedisLedger) Enforce(ctx context.Context, userKey string, defaultCredits int) (entity.EnforceResult, error) {
	vals, err := enforceScript.Run(ctx, r.client, []string{accountPrefix + userKey},
		defaultCredits, time.Now().Unix()).Slice()
	if err != nil {
		return entity.EnforceResult{}, fmt.Errorf("redis enforce: %w", err)
	}
	if len(vals) != 6 {
		return entity.EnforceResult{}, fmt.Errorf("redis enforce: unexpected reply %v", vals)
	}
	res := entity.EnforceResult{
		Outcome: entity.Rejected,
		Account: accountFromReply(userKey, vals[1:5]),
		Created: toInt64(vals[5]) == 1,
	}
	if toInt64(vals[0]) == 1 {
		res.Outcome = entity.Allowed
	}
	return res, nil
}

func (r *RedisLedger) GetOrCreate(ctx context.Context, userKey string, defaultCredits int) (*entity.Account, error) {
	vals, err := getOrCreateScript.Run(ctx, r.client, []string{accountPrefix + userKey},
		defaultCredits, time.Now().Unix()).Slice()
	if err != nil {
		return nil, fmt.Errorf("redis get account: %w", err)
	}
	acc := accountFromReply(userKey, vals)
	return &acc, nil
}

func (r *RedisLedger) SetMembership(ctx context.Context, userKey string, member bool, credits int, customerRef string) (*entity.Account, error) {
	memberFlag := 0
	if member {
		memberFlag = 1
	}
	keys := []string{accountPrefix + userKey, customerPrefix + customerRef}
	vals, err := setMembershipScript.Run(ctx, r.client, keys,
		memberFlag, credits, time.Now().Unix(), customerRef, userKey).Slice()
	if err != nil {
		return nil, fmt.Errorf("redis set membership: %w", err)
	}
	acc := accountFromReply(userKey, vals)
	return &acc, nil
}

func (r *RedisLedger) SetCustomerRef(ctx context.Context, userKey, customerRef string) error {
	keys := []string{accountPrefix + userKey, customerPrefix + customerRef}
	n, err := setCustomerRefScript.Run(ctx, r.client, keys, customerRef, userKey).Int()
	if err != nil {
		return fmt.Errorf("redis set customer ref: %w", err)
	}
	if n == 0 {
		return entity.ErrAccountNotFound
	}
	return nil
}

func (r *RedisLedger) FindByCustomerRef(ctx context.Context, customerRef string) (*entity.Account, error) {
	if customerRef == "" {
		return nil, entity.ErrAccountNotFound
	}
	userKey, err := r.client.Get(ctx, customerPrefix+customerRef).Result()
	if err == redis.Nil {
		return nil, entity.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis customer lookup: %w", err)
	}
	fields, err := r.client.HGetAll(ctx, accountPrefix+userKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis account lookup: %w", err)
	}
	if len(fields) == 0 || fields["customer_ref"] != customerRef {
		return nil, entity.ErrAccountNotFound
	}
	credits, _ := strconv.Atoi(fields["credits"])
	created, _ := strconv.ParseInt(fields["created_at"], 10, 64)
	return &entity.Account{
		UserKey:            userKey,
		Credits:            credits,
		IsMember:           fields["is_member"] == "1",
		BillingCustomerRef: fields["customer_ref"],
		CreatedAt:          time.Unix(created, 0).UTC(),
	}, nil
}

func (r *RedisLedger) SaveConversation(ctx context.Context, conv entity.Conversation) error {
	conv.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encoding conversation: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, conversationKey(conv.Owner, conv.Name), data, 0)
		pipe.SAdd(ctx, convNamesPrefix+conv.Owner, conv.Name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save conversation: %w", err)
	}
	return nil
}

func (r *RedisLedger) LoadConversation(ctx context.Context, owner, name string) (*entity.Conversation, error) {
	data, err := r.client.Get(ctx, conversationKey(owner, name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, entity.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis load conversation: %w", err)
	}
	var conv entity.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("decoding conversation: %w", err)
	}
	return &conv, nil
}

func (r *RedisLedger) DeleteConversation(ctx context.Context, owner, name string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, conversationKey(owner, name))
		pipe.SRem(ctx, convNamesPrefix+owner, name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete conversation: %w", err)
	}
	return nil
}

func (r *RedisLedger) ListConversations(ctx context.Context, owner string) ([]string, error) {
	names, err := r.client.SMembers(ctx, convNamesPrefix+owner).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list conversations: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func conversationKey(owner, name string) string {
	return conversationPrefix + owner + ":" + name
}

// accountFromReply decodes {credits, is_member, created_at, customer_ref}.
func accountFromReply(userKey string, vals []interface{}) entity.Account {
	acc := entity.Account{UserKey: userKey}
	if len(vals) < 4 {
		return acc
	}
	acc.Credits = int(toInt64(vals[0]))
	acc.IsMember = toInt64(vals[1]) == 1
	acc.CreatedAt = time.Unix(toInt64(vals[2]), 0).UTC()
	if ref, ok := vals[3].(string); ok {
		acc.BillingCustomerRef = ref
	}
	return acc
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}

func (r *RedisLedger) SaveReport(ctx context.Context, report entity.QuoteSummary) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := r.client.Set(ctx, reportPrefix+report.Ticker, data, 0).Err(); err != nil {
		return fmt.Errorf("redis save report: %w", err)
	}
	return nil
}

func (r *RedisLedger) LoadReport(ctx context.Context, ticker string) (*entity.QuoteSummary, error) {
	data, err := r.client.Get(ctx, reportPrefix+ticker).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, entity.ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis load report: %w", err)
	}
	var report entity.QuoteSummary
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decoding report: %w", err)
	}
	return &report, nil
}
