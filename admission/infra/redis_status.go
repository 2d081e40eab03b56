package infra

import (
	"context"
	"strconv"
	"time"

	"serial-allocator/admission/domain"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// statusScript grava os campos do hash e renova o TTL, exceto se o estado atual
// for terminal. KEYS[1]=hash, ARGV[1]=ttl em ms, ARGV[2..]=pares campo/valor.
var statusScript = redis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "state")
if cur == "completed" or cur == "failed" then
	return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV, 2))
redis.call("PEXPIRE", KEYS[1], ARGV[1])
return 1
`)

// RedisStatusTracker guarda o status de cada referência em um hash com TTL.
type RedisStatusTracker struct {
	rdb  redis.UniversalClient
	keys KeySpace
	ttl  time.Duration
	now  func() time.Time
}

type RedisStatusOption func(*RedisStatusTracker)

func WithStatusTTL(d time.Duration) RedisStatusOption {
	return func(s *RedisStatusTracker) { s.ttl = d }
}

func NewRedisStatusTracker(rdb redis.UniversalClient, keys KeySpace, opts ...RedisStatusOption) *RedisStatusTracker {
	s := &RedisStatusTracker{rdb: rdb, keys: keys, ttl: 24 * time.Hour, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.ttl <= 0 {
		s.ttl = 24 * time.Hour
	}
	return s
}

func (s *RedisStatusTracker) write(ctx context.Context, ref domain.Reference, fields ...any) error {
	args := append([]any{s.ttl.Milliseconds()}, fields...)
	args = append(args, "updated_at", s.now().UnixMilli())
	err := statusScript.Run(ctx, s.rdb, []string{s.keys.Status(ref)}, args...).Err()
	return errors.Wrapf(err, "write status %s", ref)
}

func (s *RedisStatusTracker) SetPending(ctx context.Context, ref domain.Reference) error {
	return s.write(ctx, ref, "state", string(domain.StatePending), "attempts", 0)
}

func (s *RedisStatusTracker) SetRetrying(ctx context.Context, ref domain.Reference, attempt int, cause error) error {
	return s.write(ctx, ref,
		"state", string(domain.StatePending),
		"attempts", attempt,
		"error", errString(cause))
}

func (s *RedisStatusTracker) SetCompleted(ctx context.Context, ref domain.Reference, id domain.DurableID) error {
	return s.write(ctx, ref,
		"state", string(domain.StateCompleted),
		"durable_id", int64(id),
		"error", "")
}

func (s *RedisStatusTracker) SetFailed(ctx context.Context, ref domain.Reference, cause error) error {
	return s.write(ctx, ref, "state", string(domain.StateFailed), "error", errString(cause))
}

func (s *RedisStatusTracker) GetStatus(ctx context.Context, ref domain.Reference) (domain.Status, error) {
	m, err := s.rdb.HGetAll(ctx, s.keys.Status(ref)).Result()
	if err != nil {
		return domain.Status{}, errors.Wrapf(err, "read status %s", ref)
	}
	st := domain.Status{Reference: ref, State: domain.StateUnknown}
	if len(m) == 0 {
		return st, nil
	}
	if v := m["state"]; v != "" {
		st.State = domain.State(v)
	}
	st.Error = m["error"]
	if id, err := strconv.ParseInt(m["durable_id"], 10, 64); err == nil {
		st.DurableID = domain.DurableID(id)
	}
	if n, err := strconv.Atoi(m["attempts"]); err == nil {
		st.Attempts = n
	}
	if ms, err := strconv.ParseInt(m["updated_at"], 10, 64); err == nil {
		st.UpdatedAt = time.UnixMilli(ms)
	}
	return st, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	if len(s) > 512 {
		s = s[:512]
	}
	return s
}
