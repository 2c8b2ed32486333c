// internal/gateway/handshake.go
// Implements the Authorizing state of the Connection FSM (spec.md §4.1,
// §6.3): on upgrade, the Gateway calls the configured authorizer backend
// with the client's cookies/Authorization header/query string, and either
// closes the socket with a mapped 4000+status code or emits a "hello" frame
// carrying the authorizer's response verbatim and retains a Tangle token
// for subsequent backend calls.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/swindon-rs/swindon-gateway/internal/backend"
	"github.com/swindon-rs/swindon-gateway/internal/protocol"
)

type authMeta struct {
	ConnectionID      string `json:"connection_id"`
	HTTPCookie        string `json:"http_cookie"`
	HTTPAuthorization string `json:"http_authorization"`
	URLQuerystring    string `json:"url_querystring"`
}

type authResult struct {
	UserID string `json:"user_id"`
}

// authorize performs the Authorizing-state backend call. On success it
// returns the raw authorizer response body (to echo in the hello frame),
// a Tangle token derived from it, and the declared user id (empty for an
// anonymous session). On failure it returns the WebSocket close code to use
// and a false ok.
func (c *Connection) authorize(ctx context.Context, dest backend.HttpDestination, upgradeReq *http.Request) (raw json.RawMessage, tangleToken, userID string, closeCode int, ok bool) {
	meta := authMeta{
		ConnectionID:      c.id,
		HTTPCookie:        upgradeReq.Header.Get("Cookie"),
		HTTPAuthorization: upgradeReq.Header.Get("Authorization"),
		URLQuerystring:    upgradeReq.URL.RawQuery,
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, "", "", protocol.CloseInternal, false
	}
	body, err := json.Marshal([]json.RawMessage{metaJSON, json.RawMessage("[]"), json.RawMessage("{}")})
	if err != nil {
		return nil, "", "", protocol.CloseInternal, false
	}

	authPath := c.cfg.AuthorizerPath
	if authPath == "" {
		authPath = "/tangle/authorize_connection"
	}

	resp, err := dest.Do(ctx, backend.Request{
		Destination: c.cfg.AuthorizerDest,
		Method:      http.MethodPost,
		Path:        authPath,
		Body:        body,
	})
	if err != nil {
		return nil, "", "", protocol.CloseInternal, false
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", "", protocol.AuthCloseCode(resp.StatusCode), false
	}

	var parsed authResult
	_ = json.Unmarshal(resp.Body, &parsed)

	token := base64.StdEncoding.EncodeToString(resp.Body)
	return json.RawMessage(resp.Body), token, parsed.UserID, 0, true
}
