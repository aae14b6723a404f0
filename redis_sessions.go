package credentials

import (
	"context"
	"encoding/json"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisSessionPrefix = "credentials:session:"
const redisSessionIndexPrefix = "credentials:session-index:"

// rotateScript is the compare half of the swap: it only succeeds while the
// old credential key still exists, so two concurrent refreshes of the same
// credential cannot both win.
var rotateScript = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
	return 0
end
redis.call('DEL', KEYS[1])
redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[2])
redis.call('SREM', KEYS[3], ARGV[3])
redis.call('SADD', KEYS[3], ARGV[4])
return 1
`)

// RedisSessionRegistry is a SessionRegistry on Redis. Each session lives in
// its own key with a TTL matching the credential expiry, so expiry is
// enforced by the store itself; a per identity set indexes the values.
type RedisSessionRegistry struct {
	client *redis.Client
	logger Logger
	now    func() time.Time
}

// NewRedisSessionRegistry will create a new RedisSessionRegistry
func NewRedisSessionRegistry(client *redis.Client) *RedisSessionRegistry {
	return &RedisSessionRegistry{
		client: client,
		logger: defLogger{},
		now:    time.Now,
	}
}

func (r *RedisSessionRegistry) WithLogger(l Logger) *RedisSessionRegistry {
	if l != nil {
		r.logger = l
	}
	return r
}

// WithClock injects a custom clock (useful for tests).
func (r *RedisSessionRegistry) WithClock(clock func() time.Time) *RedisSessionRegistry {
	if clock != nil {
		r.now = clock
	}
	return r
}

func sessionKey(identityID uuid.UUID, value string) string {
	return redisSessionPrefix + identityID.String() + ":" + value
}

func sessionIndexKey(identityID uuid.UUID) string {
	return redisSessionIndexPrefix + identityID.String()
}

func (r *RedisSessionRegistry) Add(ctx context.Context, session *Session) error {
	ttl := session.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return errors.New("session is already expired", errors.CategoryBadInput)
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to encode session")
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, sessionKey(session.UserID, session.Value), payload, ttl)
	pipe.SAdd(ctx, sessionIndexKey(session.UserID), session.Value)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisSessionRegistry) Rotate(ctx context.Context, identityID uuid.UUID, oldValue, newValue string, expiresAt time.Time, device string) (bool, error) {
	now := r.now()
	ttl := expiresAt.Sub(now)
	if ttl <= 0 {
		return false, errors.New("session is already expired", errors.CategoryBadInput)
	}

	next := Session{
		ID:        uuid.New(),
		UserID:    identityID,
		Value:     newValue,
		Device:    device,
		ExpiresAt: expiresAt,
		CreatedAt: &now,
	}
	if next.Device == "" {
		next.Device = "Unknown"
	}

	payload, err := json.Marshal(next)
	if err != nil {
		return false, errors.Wrap(err, errors.CategoryInternal, "failed to encode session")
	}

	res, err := rotateScript.Run(ctx, r.client,
		[]string{
			sessionKey(identityID, oldValue),
			sessionKey(identityID, newValue),
			sessionIndexKey(identityID),
		},
		payload, ttl.Milliseconds(), oldValue, newValue,
	).Int()

	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (r *RedisSessionRegistry) Revoke(ctx context.Context, identityID uuid.UUID, value string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, sessionKey(identityID, value))
	pipe.SRem(ctx, sessionIndexKey(identityID), value)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisSessionRegistry) RevokeAll(ctx context.Context, identityID uuid.UUID, exceptValue string) (int, error) {
	values, err := r.client.SMembers(ctx, sessionIndexKey(identityID)).Result()
	if err != nil {
		return 0, err
	}

	removed := 0
	pipe := r.client.TxPipeline()
	for _, value := range values {
		if exceptValue != "" && value == exceptValue {
			continue
		}
		pipe.Del(ctx, sessionKey(identityID, value))
		pipe.SRem(ctx, sessionIndexKey(identityID), value)
		removed++
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return removed, nil
}

func (r *RedisSessionRegistry) ListActive(ctx context.Context, identityID uuid.UUID) ([]Session, error) {
	values, err := r.client.SMembers(ctx, sessionIndexKey(identityID)).Result()
	if err != nil {
		return nil, err
	}

	out := []Session{}
	for _, value := range values {
		payload, err := r.client.Get(ctx, sessionKey(identityID, value)).Bytes()
		if err == redis.Nil {
			// the key expired out from under the index
			if err := r.client.SRem(ctx, sessionIndexKey(identityID), value).Err(); err != nil {
				r.logger.Warn("failed to prune expired session index entry: %v", err)
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		var session Session
		if err := json.Unmarshal(payload, &session); err != nil {
			r.logger.Error("failed to decode session payload: %v", err)
			continue
		}
		out = append(out, session)
	}
	return out, nil
}

var _ SessionRegistry = (*RedisSessionRegistry)(nil)
