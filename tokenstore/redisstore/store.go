// Package redisstore keeps ephemeral tokens in Redis. Every mutation is a
// Lua script so replace and consume stay atomic across processes.
package redisstore

import (
	"context"
	"errors"
	"strconv"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/ovigia/authd"
	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "authd:"

// Keys:
//
//	<prefix>tok:<value>             hash with the token fields
//	<prefix>own:<owner>:<purpose>   value of the owner's live token
//	<prefix>exp                     sorted set of values by expiry (ms)
//
// The scripts derive token keys from the prefix, so the store needs a
// single node or a prefix wrapped in a hash tag on cluster deployments.

var replaceScript = redis.NewScript(`
local tokKey = ARGV[1] .. 'tok:' .. ARGV[2]
if redis.call('EXISTS', tokKey) == 1 then
  return 0
end
local prior = redis.call('GET', KEYS[1])
if prior then
  redis.call('DEL', ARGV[1] .. 'tok:' .. prior)
  redis.call('ZREM', KEYS[2], prior)
end
redis.call('HSET', tokKey,
  'id', ARGV[3], 'value', ARGV[2], 'purpose', ARGV[4], 'owner_id', ARGV[5],
  'expires_at', ARGV[6], 'issued_at', ARGV[7], 'consumed', '0')
redis.call('SET', KEYS[1], ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[6], ARGV[2])
return 1
`)

var consumeScript = redis.NewScript(`
local f = redis.call('HMGET', KEYS[1], 'id', 'value', 'purpose', 'owner_id', 'expires_at', 'issued_at', 'consumed')
if not f[1] or f[3] ~= ARGV[1] then
  return {0}
end
if f[7] == '1' then
  return {2}
end
if tonumber(ARGV[2]) >= tonumber(f[5]) then
  return {3}
end
redis.call('HSET', KEYS[1], 'consumed', '1')
f[7] = '1'
return {1, f[1], f[2], f[3], f[4], f[5], f[6], f[7]}
`)

var pruneScript = redis.NewScript(`
local vals = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
for _, v in ipairs(vals) do
  local tokKey = ARGV[1] .. 'tok:' .. v
  local f = redis.call('HMGET', tokKey, 'owner_id', 'purpose')
  if f[1] then
    local ownKey = ARGV[1] .. 'own:' .. f[1] .. ':' .. f[2]
    if redis.call('GET', ownKey) == v then
      redis.call('DEL', ownKey)
    end
  end
  redis.call('DEL', tokKey)
  redis.call('ZREM', KEYS[1], v)
end
return #vals
`)

const (
	consumeNotFound = 0
	consumeOK       = 1
	consumeUsed     = 2
	consumeExpired  = 3
)

// Store implements auth.TokenStore on Redis
type Store struct {
	client redis.UniversalClient
	prefix string
}

var _ auth.TokenStore = (*Store)(nil)

type Option func(*Store)

// WithPrefix namespaces every key
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Connect creates a client for addr and pings it
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to connect to redis").
			WithMetadata(map[string]any{"addr": addr})
	}

	return client, nil
}

func (s *Store) tokenKey(value string) string {
	return s.prefix + "tok:" + value
}

func (s *Store) ownerKey(owner uuid.UUID, purpose auth.TokenPurpose) string {
	return s.prefix + "own:" + owner.String() + ":" + string(purpose)
}

func (s *Store) expiryKey() string {
	return s.prefix + "exp"
}

func (s *Store) Replace(ctx context.Context, token *auth.EphemeralToken) error {
	res, err := replaceScript.Run(ctx, s.client,
		[]string{s.ownerKey(token.OwnerID, token.Purpose), s.expiryKey()},
		s.prefix,
		token.Value,
		token.ID.String(),
		string(token.Purpose),
		token.OwnerID.String(),
		token.ExpiresAt.UnixMilli(),
		token.IssuedAt.UnixMilli(),
	).Int64()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store ephemeral token")
	}

	if res == 0 {
		return auth.ErrTokenCollision
	}
	return nil
}

func (s *Store) Find(ctx context.Context, value string, purpose auth.TokenPurpose) (*auth.EphemeralToken, error) {
	fields, err := s.client.HGetAll(ctx, s.tokenKey(value)).Result()
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load ephemeral token")
	}

	if len(fields) == 0 || fields["purpose"] != string(purpose) {
		return nil, auth.ErrTokenNotFound
	}

	return decode(
		fields["id"], fields["value"], fields["purpose"], fields["owner_id"],
		fields["expires_at"], fields["issued_at"], fields["consumed"],
	)
}

func (s *Store) Consume(ctx context.Context, value string, purpose auth.TokenPurpose, now time.Time) (*auth.EphemeralToken, error) {
	res, err := consumeScript.Run(ctx, s.client,
		[]string{s.tokenKey(value)},
		string(purpose),
		now.UnixMilli(),
	).Slice()
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to consume ephemeral token")
	}

	status, _ := res[0].(int64)
	switch status {
	case consumeOK:
	case consumeUsed:
		return nil, auth.ErrTokenConsumed
	case consumeExpired:
		return nil, auth.ErrTokenExpired
	default:
		return nil, auth.ErrTokenNotFound
	}

	if len(res) != 8 {
		return nil, goerrors.New("unexpected consume script reply", goerrors.CategoryInternal).
			WithMetadata(map[string]any{"len": len(res)})
	}

	f := make([]string, 7)
	for i := range f {
		f[i], _ = res[i+1].(string)
	}
	return decode(f[0], f[1], f[2], f[3], f[4], f[5], f[6])
}

func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	n, err := pruneScript.Run(ctx, s.client,
		[]string{s.expiryKey()},
		s.prefix,
		before.UnixMilli(),
	).Int64()
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to prune ephemeral tokens")
	}
	return n, nil
}

var errCorruptToken = errors.New("corrupt token record")

func decode(id, value, purpose, owner, expiresAt, issuedAt, consumed string) (*auth.EphemeralToken, error) {
	tokenID, err := uuid.Parse(id)
	if err != nil {
		return nil, corrupt(err, value)
	}
	ownerID, err := uuid.Parse(owner)
	if err != nil {
		return nil, corrupt(err, value)
	}
	expMs, err := strconv.ParseInt(expiresAt, 10, 64)
	if err != nil {
		return nil, corrupt(err, value)
	}
	issMs, err := strconv.ParseInt(issuedAt, 10, 64)
	if err != nil {
		return nil, corrupt(err, value)
	}

	return &auth.EphemeralToken{
		ID:        tokenID,
		Value:     value,
		Purpose:   auth.TokenPurpose(purpose),
		OwnerID:   ownerID,
		ExpiresAt: time.UnixMilli(expMs).UTC(),
		IssuedAt:  time.UnixMilli(issMs).UTC(),
		Consumed:  consumed == "1",
	}, nil
}

func corrupt(err error, value string) error {
	return goerrors.Wrap(errors.Join(errCorruptToken, err), goerrors.CategoryInternal, "failed to decode ephemeral token").
		WithMetadata(map[string]any{"value_len": len(value)})
}
