package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// allowScript checks every window before counting, so a request denied by
// one window leaves all counters untouched. KEYS holds one counter per
// window; ARGV holds limit and TTL seconds per window, interleaved. The reply
// is the denied flag followed by the counters.
var allowScript = redis.NewScript(`
local counts = {}
local denied = 0
for i, key in ipairs(KEYS) do
	counts[i] = tonumber(redis.call('GET', key) or '0')
	if counts[i] >= tonumber(ARGV[2*i-1]) then
		denied = 1
	end
end
if denied == 0 then
	for i, key in ipairs(KEYS) do
		counts[i] = redis.call('INCR', key)
		if counts[i] == 1 then
			redis.call('EXPIRE', key, ARGV[2*i])
		end
	end
end
table.insert(counts, 1, denied)
return counts
`)

// RedisLimiter keeps fixed-window counters in Redis so several replicas share
// one budget per client.
type RedisLimiter struct {
	client  redis.Cmdable
	prefix  string
	windows []Window
	now     func() time.Time
}

func NewRedisLimiter(client redis.Cmdable, prefix string, windows []Window) (*RedisLimiter, error) {
	if len(windows) == 0 {
		return nil, errors.New("no rate limit windows configured")
	}
	return &RedisLimiter{
		client:  client,
		prefix:  prefix,
		windows: windows,
		now:     time.Now,
	}, nil
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.now()

	keys := make([]string, len(l.windows))
	args := make([]interface{}, 0, 2*len(l.windows))
	starts := make([]time.Time, len(l.windows))
	for i, w := range l.windows {
		starts[i] = now.Truncate(w.Period)
		keys[i] = fmt.Sprintf("%s:%s:%d:%d", l.prefix, key, int64(w.Period.Seconds()), starts[i].Unix())
		args = append(args, w.Limit, int64(w.Period.Seconds()))
	}

	reply, err := allowScript.Run(ctx, l.client, keys, args...).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(reply) != len(l.windows)+1 {
		return Decision{}, fmt.Errorf("rate limit script: unexpected reply %v", reply)
	}
	denied := reply[0] == 1

	var result Decision
	for i, w := range l.windows {
		count := int(reply[i+1])
		d := Decision{Allowed: true, Limit: w.Limit, Remaining: max(w.Limit-count, 0)}
		if denied && count >= w.Limit {
			d.Allowed = false
			d.RetryAfter = starts[i].Add(w.Period).Sub(now)
		}
		if i == 0 || tighter(d, result) {
			result = d
		}
	}
	return result, nil
}
