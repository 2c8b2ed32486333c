// internal/gateway/inactivity.go
// Implements the Active/Inactive sub-state timers (spec.md §4.1): a
// connection that sends nothing for InactivityTimeout is notified via a
// POST to the handler's session_inactive backend, and one that stays silent
// past ClientTimeout is closed outright. Either timer resets whenever a
// client frame arrives. A session_inactive reply whose JSON body carries a
// positive "active" field resets the idle clock to now; the number of
// seconds it names is not used, and responses to RPC Router calls do not
// affect the timers.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/swindon-rs/swindon-gateway/internal/backend"
	"github.com/swindon-rs/swindon-gateway/internal/logging"
	"github.com/swindon-rs/swindon-gateway/internal/protocol"
)

const inactivityPollInterval = 5 * time.Second

// inactivityLoop runs for the lifetime of the connection, polling its last
// activity timestamp against the configured timeouts. It is started from
// readPump so it shares the connection's cancellation context.
func (c *Connection) inactivityLoop(ctx context.Context) {
	if c.cfg.InactivityTimeout <= 0 && c.cfg.ClientTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(inactivityPollInterval)
	defer ticker.Stop()

	notifiedInactive := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case <-ticker.C:
			idle := time.Since(c.lastActivity())

			if c.cfg.ClientTimeout > 0 && idle >= c.cfg.ClientTimeout {
				c.Close(protocol.CloseInternal, "client_timeout")
				return
			}

			if c.cfg.InactivityTimeout > 0 && idle >= c.cfg.InactivityTimeout {
				if !notifiedInactive {
					notifiedInactive = true
					c.state.Store(int32(stateInactive))
					c.notifySessionInactive(ctx, c.deps.sessionInactiveDest())
				}
			} else if notifiedInactive {
				notifiedInactive = false
				c.state.Store(int32(stateActive))
			}
		}
	}
}

// sessionInactiveDest is nil-safe: some Deps (e.g. in tests) may not wire a
// destination, in which case the notification is skipped.
func (d Deps) sessionInactiveDest() backend.HttpDestination { return d.InactiveDest }

func (c *Connection) notifySessionInactive(ctx context.Context, dest backend.HttpDestination) {
	if dest == nil {
		return
	}
	path := c.cfg.SessionInactivePath
	if path == "" {
		path = "/tangle/session_inactive"
	}
	body, err := json.Marshal([]json.RawMessage{json.RawMessage("{}"), json.RawMessage("[]"), json.RawMessage("{}")})
	if err != nil {
		return
	}
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	if tok := c.tangleToken.Load(); tok != "" {
		headers.Set("Authorization", "Tangle "+tok)
	}
	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	resp, err := dest.Do(callCtx, backend.Request{
		Destination: c.cfg.AuthorizerDest,
		Method:      http.MethodPost,
		Path:        path,
		Headers:     headers,
		Body:        body,
	})
	if err != nil {
		logging.Sugar().Debugw("session_inactive call failed", "connection_id", c.id, "err", err)
		return
	}
	if resp.StatusCode != http.StatusOK {
		return
	}
	var parsed struct {
		Active int64 `json:"active"`
	}
	if json.Unmarshal(resp.Body, &parsed) == nil && parsed.Active > 0 {
		c.touch()
	}
}
