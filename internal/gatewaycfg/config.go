// internal/gatewaycfg/config.go
// Centralised loader for the Gateway's configuration. spec.md treats the
// RouterConfig as an opaque, immutable object delivered to the core at
// startup and on reload; this package is that object's concrete Go shape and
// the loader that produces it.
//
// Precedence (highest wins):
//  1. Environment variables prefixed with SWINDON_ (only REPLICATION_SECRET,
//     REDIS_ADDR and TLS_CERT/TLS_KEY are read)
//  2. Optional YAML/TOML/JSON config file path
//  3. The Config struct passed by the caller (typically DefaultConfig())
//
// The loader uses spf13/viper.
package gatewaycfg

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// DestinationConfig names one backend pool the RPC Router, authorizer or
// Admin API may address. The actual HTTP transport is supplied by the
// caller via backend.HttpDestination; this struct only carries the routing
// metadata (Host header override) that spec.md §6.3 requires on every call.
type DestinationConfig struct {
    Name               string `mapstructure:"name"`
    OverrideHostHeader string `mapstructure:"override_host_header"`
}

// MessageHandlerRule maps one glob method pattern to a backend destination,
// per spec.md §4.5. Patterns are matched longest-prefix-first; "*" is the
// fallback matched last.
type MessageHandlerRule struct {
    Pattern     string        `mapstructure:"pattern"`
    Destination string        `mapstructure:"destination"`
    PathPrefix  string        `mapstructure:"path_prefix"`
    Timeout     time.Duration `mapstructure:"timeout"`
}

// HandlerConfig is one named WebSocket route (spec.md §C.1: a process may
// expose several, e.g. "/swindon-chat" and "/presence", each with its own
// authorizer and routing table).
type HandlerConfig struct {
    Path                string               `mapstructure:"path"`
    Subprotocol         string               `mapstructure:"subprotocol"` // "" => legacy unnamed subprotocol
    AuthorizerDest      string               `mapstructure:"authorizer_destination"`
    AuthorizerPath      string               `mapstructure:"authorizer_path"`       // default /tangle/authorize_connection
    SessionInactivePath string               `mapstructure:"session_inactive_path"` // default /tangle/session_inactive
    ClientTimeout       time.Duration        `mapstructure:"client_timeout"`
    InactivityTimeout   time.Duration        `mapstructure:"inactivity_timeout"`
    MessageHandlers     []MessageHandlerRule `mapstructure:"message_handlers"`
    OutboundHighWater   int                  `mapstructure:"outbound_high_water"`
}

// PeerConfig is one statically-configured replication mesh member.
type PeerConfig struct {
    NodeTag string `mapstructure:"node_tag"`
    Address string `mapstructure:"address"`
}

// Config is the immutable, process-wide configuration handed to the core.
type Config struct {
    NodeTag      string                        `mapstructure:"node_tag"`
    ListenAddr   string                        `mapstructure:"listen_addr"`
    AdminPrefix  string                        `mapstructure:"admin_prefix"` // default /v1
    Handlers     map[string]HandlerConfig      `mapstructure:"handlers"`
    Destinations map[string]DestinationConfig  `mapstructure:"destinations"`

    ReplicationListenAddr string       `mapstructure:"replication_listen_addr"`
    ReplicationPeers       []PeerConfig `mapstructure:"replication_peers"`
    ReplicationSecret      string       `mapstructure:"replication_secret"`

    RedisAddr string `mapstructure:"redis_addr"` // optional presence mirror, "" disables

    EnableMetrics bool   `mapstructure:"enable_metrics"`
    TLSCertPath   string `mapstructure:"tls_cert"`
    TLSKeyPath    string `mapstructure:"tls_key"`

    TLSConfig *tls.Config `mapstructure:"-"`
}

// DefaultConfig returns production-shaped defaults suitable for local dev: a
// single legacy handler mounted at "/" with a permissive fallback route and
// no replication peers.
func DefaultConfig() Config {
    return Config{
        NodeTag:     "gw1",
        ListenAddr:  ":8080",
        AdminPrefix: "/v1",
        Handlers: map[string]HandlerConfig{
            "/": {
                Path:                "/",
                AuthorizerPath:      "/tangle/authorize_connection",
                SessionInactivePath: "/tangle/session_inactive",
                ClientTimeout:       10 * time.Minute,
                InactivityTimeout:   5 * time.Minute,
                OutboundHighWater:   1024,
                MessageHandlers: []MessageHandlerRule{
                    {Pattern: "*", Destination: "default", Timeout: 5 * time.Second},
                },
            },
        },
        Destinations:  map[string]DestinationConfig{"default": {Name: "default"}},
        EnableMetrics: true,
    }
}

// Load merges file + env into cfg (caller typically passes DefaultConfig()).
// filePath may be empty. envPrefix is typically "SWINDON".
func Load(cfg Config, filePath, envPrefix string) (Config, error) {
    v := viper.New()
    v.SetEnvPrefix(envPrefix)
    v.AutomaticEnv()

    if filePath != "" {
        v.SetConfigFile(filePath)
        if err := v.ReadInConfig(); err != nil {
            return cfg, fmt.Errorf("gatewaycfg: read config file: %w", err)
        }
        if err := v.Unmarshal(&cfg); err != nil {
            return cfg, fmt.Errorf("gatewaycfg: unmarshal config file: %w", err)
        }
    }

    if tok := v.GetString("REPLICATION_SECRET"); tok != "" {
        cfg.ReplicationSecret = tok
    }
    if addr := v.GetString("REDIS_ADDR"); addr != "" {
        cfg.RedisAddr = addr
    }
    if certPath, keyPath := v.GetString("TLS_CERT"), v.GetString("TLS_KEY"); certPath != "" && keyPath != "" {
        cert, err := tls.LoadX509KeyPair(certPath, keyPath)
        if err == nil {
            cfg.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
        }
    }

    return cfg, nil
}
