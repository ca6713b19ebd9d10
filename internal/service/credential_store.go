package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"go-receipt-verification-service/internal/domain"
)

// CredentialStore is the shared, TTL-capable store for hashed one-time
// credentials. Every conditional mutation runs as a single redis script so
// concurrent service instances observe the same consumed/locked state. An
// in-process map is not an acceptable substitute: verify-then-consume must
// be atomic across all replicas.
type CredentialStore interface {
	// Put stores the credential for its subject, atomically invalidating any
	// prior live credential for the same subject.
	Put(ctx context.Context, cred domain.Credential, ttl time.Duration) error
	Get(ctx context.Context, subject string) (*domain.Credential, error)
	// ConsumeIfCurrent deletes the subject's credential only when it still is
	// the one identified by credID. Returns false when another caller consumed
	// it first or a newer credential replaced it.
	ConsumeIfCurrent(ctx context.Context, subject, credID string) (bool, error)
	// RegisterFailure bumps the failed-attempt counter for credID and flips
	// the locked flag at the ceiling. Returns the resulting attempt count and
	// locked state.
	RegisterFailure(ctx context.Context, subject, credID string, ceiling int) (int, bool, error)
	Delete(ctx context.Context, subject string) error
}

var ErrCredentialGone = errors.New("credential no longer present")

// The scripts key off the credential id so that a concurrent Issue (which
// overwrites the hash) can never be consumed or locked by a verification
// race against the previous credential.
var credentialConsumeScript = redis.NewScript(`
local key = KEYS[1]
local cred_id = ARGV[1]

if redis.call("EXISTS", key) == 0 then
  return 0
end
if redis.call("HGET", key, "id") ~= cred_id then
  return 0
end
redis.call("DEL", key)
return 1
`)

var credentialFailureScript = redis.NewScript(`
local key = KEYS[1]
local cred_id = ARGV[1]
local ceiling = tonumber(ARGV[2])

if redis.call("EXISTS", key) == 0 then
  return {-1, 0}
end
if redis.call("HGET", key, "id") ~= cred_id then
  return {-1, 0}
end

local attempts = redis.call("HINCRBY", key, "attempts", 1)
local locked = 0
if attempts >= ceiling then
  redis.call("HSET", key, "locked", "1")
  locked = 1
elseif redis.call("HGET", key, "locked") == "1" then
  locked = 1
end
return {attempts, locked}
`)

type RedisCredentialStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisCredentialStore(client redis.UniversalClient, prefix string) *RedisCredentialStore {
	if prefix == "" {
		prefix = "otp"
	}
	return &RedisCredentialStore{client: client, prefix: prefix}
}

func (s *RedisCredentialStore) key(subject string) string {
	return fmt.Sprintf("%s:cred:%s", s.prefix, subject)
}

func (s *RedisCredentialStore) Put(ctx context.Context, cred domain.Credential, ttl time.Duration) error {
	key := s.key(cred.Subject)
	// HSET on a deleted key plus PEXPIRE inside one transaction: the
	// overwrite is the invalidation of the prior credential.
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"id", cred.ID,
			"subject", cred.Subject,
			"role", string(cred.Role),
			"hash", cred.Hash,
			"salt", cred.Salt,
			"scope", cred.Scope,
			"issued_at", cred.IssuedAt.UnixMilli(),
			"expires_at", cred.ExpiresAt.UnixMilli(),
			"attempts", 0,
			"locked", "0",
		)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	return nil
}

func (s *RedisCredentialStore) Get(ctx context.Context, subject string) (*domain.Credential, error) {
	vals, err := s.client.HGetAll(ctx, s.key(subject)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, ErrCredentialGone
	}
	issuedMS, err := strconv.ParseInt(vals["issued_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse issued_at: %w", err)
	}
	expiresMS, err := strconv.ParseInt(vals["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	attempts, err := strconv.Atoi(vals["attempts"])
	if err != nil {
		return nil, fmt.Errorf("parse attempts: %w", err)
	}
	return &domain.Credential{
		ID:        vals["id"],
		Subject:   vals["subject"],
		Role:      domain.Role(vals["role"]),
		Hash:      vals["hash"],
		Salt:      vals["salt"],
		Scope:     vals["scope"],
		IssuedAt:  time.UnixMilli(issuedMS).UTC(),
		ExpiresAt: time.UnixMilli(expiresMS).UTC(),
		Attempts:  attempts,
		Locked:    vals["locked"] == "1",
	}, nil
}

func (s *RedisCredentialStore) ConsumeIfCurrent(ctx context.Context, subject, credID string) (bool, error) {
	raw, err := credentialConsumeScript.Run(ctx, s.client, []string{s.key(subject)}, credID).Result()
	if err != nil {
		return false, err
	}
	n, ok := raw.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected consume script result type %T", raw)
	}
	return n == 1, nil
}

func (s *RedisCredentialStore) RegisterFailure(ctx context.Context, subject, credID string, ceiling int) (int, bool, error) {
	raw, err := credentialFailureScript.Run(ctx, s.client, []string{s.key(subject)}, credID, ceiling).Result()
	if err != nil {
		return 0, false, err
	}
	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 2 {
		return 0, false, fmt.Errorf("unexpected failure script result %v", raw)
	}
	attempts, ok := vals[0].(int64)
	if !ok {
		return 0, false, fmt.Errorf("unexpected attempts type %T", vals[0])
	}
	if attempts < 0 {
		return 0, false, ErrCredentialGone
	}
	locked, _ := vals[1].(int64)
	return int(attempts), locked == 1, nil
}

func (s *RedisCredentialStore) Delete(ctx context.Context, subject string) error {
	return s.client.Del(ctx, s.key(subject)).Err()
}
