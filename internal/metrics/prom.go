// internal/metrics/prom.go
// Package metrics centralises Prometheus metric registration for the
// swindon-gateway process. It exposes typed collectors so that session,
// pub/sub, lattice and replication code can remain import-cycle-free. The
// package registers with the global prometheus.DefaultRegisterer, which
// callers typically expose via the /metrics HTTP handler from the
// Prometheus client library.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
    once sync.Once

    // Gauge metrics ---------------------------------------------------------
    ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "swindon",
        Subsystem: "session",
        Name:      "active_connections",
        Help:      "Number of WebSocket connections currently registered in the Session Pool.",
    })

    ActiveUsers = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "swindon",
        Subsystem: "session",
        Name:      "active_users",
        Help:      "Number of distinct user-ids with at least one live connection.",
    })

    TopicSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "swindon",
        Subsystem: "pubsub",
        Name:      "topic_subscriptions",
        Help:      "Current number of (topic, connection) subscription pairs.",
    })

    LatticeKeys = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "swindon",
        Subsystem: "lattice",
        Name:      "keys",
        Help:      "Total number of distinct lattice keys across all namespaces.",
    })

    ReplicationPeers = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "swindon",
        Subsystem: "replication",
        Name:      "connected_peers",
        Help:      "Number of replication peers with an established stream.",
    })

    // Counter metrics -------------------------------------------------------
    FramesSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "swindon",
        Subsystem: "session",
        Name:      "frames_sent_total",
        Help:      "Total number of server->client frames sent, by frame kind.",
    }, []string{"kind"})

    FramesDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "swindon",
        Subsystem: "session",
        Name:      "frames_dropped_total",
        Help:      "Total number of frames dropped because a connection's outbound queue overflowed.",
    })

    PublishTotal = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "swindon",
        Subsystem: "pubsub",
        Name:      "publish_total",
        Help:      "Total number of publishes fanned out to local subscribers, local and replicated.",
    })

    LatticeMergesTotal = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "swindon",
        Subsystem: "lattice",
        Name:      "merges_total",
        Help:      "Total number of register merges performed by the Lattice Engine.",
    })

    RPCCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "swindon",
        Subsystem: "rpc",
        Name:      "calls_total",
        Help:      "Total backend RPC calls dispatched by the RPC Router, by outcome.",
    }, []string{"outcome"})

    ReplicationFramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "swindon",
        Subsystem: "replication",
        Name:      "frames_total",
        Help:      "Total replication frames exchanged with peers, by kind and direction.",
    }, []string{"kind", "direction"})
)

// Register exports all metrics; safe to call multiple times.
func Register() {
    once.Do(func() {
        prometheus.MustRegister(
            ActiveConnections,
            ActiveUsers,
            TopicSubscriptions,
            LatticeKeys,
            ReplicationPeers,
            FramesSentTotal,
            FramesDroppedTotal,
            PublishTotal,
            LatticeMergesTotal,
            RPCCallsTotal,
            ReplicationFramesTotal,
        )
    })
}
