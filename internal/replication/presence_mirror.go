// internal/replication/presence_mirror.go
// PresenceMirror is an optional cross-instance record of recent presence
// transitions (swindon.user online/offline flips), backed by a capped Redis
// list per user with a TTL. It exists for operational visibility across a
// multi-node deployment -- "when did user X last go offline, on any node"
// -- which the in-memory, per-node Lattice Engine cannot answer once a
// connection's node has restarted. Adapted from the teacher's
// internal/gateway/retention/redis.go capped-list store: same
// LPUSH+LTRIM+EXPIRE pipeline, repurposed from flamegraph chunks to
// presence events.
package replication

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/swindon-rs/swindon-gateway/internal/logging"
)

const presenceHistoryLen = 20

// PresenceMirror writes a bounded history of presence flips per user to
// Redis. A nil *PresenceMirror is valid and a no-op, so wiring it is
// optional per gatewaycfg.Config.RedisAddr.
type PresenceMirror struct {
	cli *redis.Client
	ttl time.Duration
}

// NewPresenceMirror returns a PresenceMirror using cli, retaining each
// user's history for ttl (recommended: a few multiples of the expected
// reconnect grace period).
func NewPresenceMirror(cli *redis.Client, ttl time.Duration) *PresenceMirror {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &PresenceMirror{cli: cli, ttl: ttl}
}

type presenceEvent struct {
	Online bool  `json:"online"`
	AtNano int64 `json:"at_nano"`
}

func presenceKey(userID string) string { return "swindon:presence:" + userID }

// Record appends one presence transition for userID. Fire-and-forget: write
// failures are logged and swallowed so a Redis outage never blocks the
// Lattice Engine's own, authoritative presence state.
func (m *PresenceMirror) Record(ctx context.Context, userID string, online bool) {
	if m == nil {
		return
	}
	evt, err := json.Marshal(presenceEvent{Online: online, AtNano: time.Now().UnixNano()})
	if err != nil {
		return
	}
	key := presenceKey(userID)
	pipe := m.cli.Pipeline()
	pipe.LPush(ctx, key, evt)
	pipe.LTrim(ctx, key, 0, presenceHistoryLen-1)
	pipe.Expire(ctx, key, m.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		logging.Sugar().Warnw("presence mirror write failed", "user_id", userID, "err", err)
	}
}

// History returns userID's recent presence transitions, newest first.
func (m *PresenceMirror) History(ctx context.Context, userID string) []presenceEvent {
	if m == nil {
		return nil
	}
	vals, err := m.cli.LRange(ctx, presenceKey(userID), 0, -1).Result()
	if err != nil {
		logging.Sugar().Warnw("presence mirror read failed", "user_id", userID, "err", err)
		return nil
	}
	out := make([]presenceEvent, 0, len(vals))
	for _, v := range vals {
		var evt presenceEvent
		if json.Unmarshal([]byte(v), &evt) == nil {
			out = append(out, evt)
		}
	}
	return out
}
