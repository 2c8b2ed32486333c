// internal/replication/mesh.go
// Mesh implements the Replicator (spec.md §4.7): a gossip-style mesh of
// Gateway nodes exchanging pub/sub publishes and lattice deltas so that a
// client attached to node B sees a message published via node A's Admin
// API, and a lattice write on A eventually converges on B. Reconnect uses
// cenkalti/backoff/v4, the exact pattern the teacher's (now-removed)
// internal/agent/exporter/grpc_exporter.go used for its own outbound gRPC
// stream: dial, open the stream, and on any stream error fall back to
// bo.NextBackOff() before redialing. Peer identity is asserted with a
// short-lived JWT (pkg/auth), reusing the HMAC signer/verifier the teacher
// built for its UI/agent bearer tokens.
package replication

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/swindon-rs/swindon-gateway/internal/gatewaycfg"
	"github.com/swindon-rs/swindon-gateway/internal/lattice"
	"github.com/swindon-rs/swindon-gateway/internal/logging"
	"github.com/swindon-rs/swindon-gateway/internal/pubsub"
	"github.com/swindon-rs/swindon-gateway/internal/replication/wire"
	"github.com/swindon-rs/swindon-gateway/internal/session"
	"github.com/swindon-rs/swindon-gateway/pkg/auth"
)

// syncStream is the shape both the client and server half of wire's Sync
// RPC share; Mesh drives either one identically.
type syncStream interface {
	Send(*structpb.Struct) error
	Recv() (*structpb.Struct, error)
	Context() context.Context
}

type peerConn struct {
	nodeTag string
	out     chan *structpb.Struct
	cancel  context.CancelFunc
}

// Mesh is the process-wide Replicator for one Gateway node.
type Mesh struct {
	wire.UnimplementedPeerServiceServer

	nodeTag  string
	peersCfg []gatewaycfg.PeerConfig
	signer   *auth.Signer
	verifier *auth.Verifier

	pool    *session.Pool
	topics  *pubsub.Index
	lattice *lattice.Engine

	mu    sync.Mutex
	peers map[string]*peerConn

	seqMu   sync.Mutex
	nextSeq uint64
	seen    map[string]uint64 // "origin|topic" -> highest seq applied
}

// NewMesh constructs a Mesh. secret is the shared cluster replication
// secret (gatewaycfg.Config.ReplicationSecret); an empty secret disables
// peer auth, which is only acceptable for local development.
func NewMesh(nodeTag string, peersCfg []gatewaycfg.PeerConfig, secret string, pool *session.Pool, topics *pubsub.Index, engine *lattice.Engine) *Mesh {
	m := &Mesh{
		nodeTag:  nodeTag,
		peersCfg: peersCfg,
		pool:     pool,
		topics:   topics,
		lattice:  engine,
		peers:    make(map[string]*peerConn),
		seen:     make(map[string]uint64),
	}
	if secret != "" {
		m.signer = auth.NewSigner([]byte(secret), nodeTag, 5*time.Minute)
		m.verifier = auth.NewVerifier([]byte(secret), "")
	}

	topics.OnLocalPublish = m.BroadcastPublish
	engine.OnLocalChange = m.BroadcastLatticeDelta
	return m
}

// Start dials every configured peer this node is responsible for
// initiating, per a deterministic tie-break: the lexicographically smaller
// node tag dials, the larger one waits to accept. This avoids both nodes
// opening redundant duplicate streams to each other on startup.
func (m *Mesh) Start(ctx context.Context) {
	peers := make([]gatewaycfg.PeerConfig, len(m.peersCfg))
	copy(peers, m.peersCfg)
	sort.Slice(peers, func(i, j int) bool { return peers[i].NodeTag < peers[j].NodeTag })

	for _, p := range peers {
		if m.nodeTag < p.NodeTag {
			go m.dialLoop(ctx, p)
		}
	}
}

func (m *Mesh) dialLoop(ctx context.Context, p gatewaycfg.PeerConfig) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 0 // retry forever

	for {
		if ctx.Err() != nil {
			return
		}
		if err := m.dialOnce(ctx, p); err != nil {
			logging.Sugar().Warnw("replication dial failed", "peer", p.NodeTag, "err", err)
		}
		wait := bo.NextBackOff()
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (m *Mesh) dialOnce(ctx context.Context, p gatewaycfg.PeerConfig) error {
	cc, err := grpc.NewClient(p.Address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.Address, err)
	}
	defer cc.Close()

	callCtx := ctx
	if m.signer != nil {
		token, err := m.signer.Sign(m.signer.Claims(m.nodeTag, nil))
		if err != nil {
			return fmt.Errorf("sign peer token: %w", err)
		}
		callCtx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	}

	client := wire.NewPeerServiceClient(cc)
	stream, err := client.Sync(callCtx)
	if err != nil {
		return fmt.Errorf("open sync stream: %w", err)
	}
	logging.Sugar().Infow("replication peer connected (dialed)", "peer", p.NodeTag)
	return m.run(p.NodeTag, stream)
}

// Sync is the gRPC server-side handler for inbound peer connections.
func (m *Mesh) Sync(stream wire.PeerService_SyncServer) error {
	peerTag, err := m.authenticateInbound(stream.Context())
	if err != nil {
		return err
	}
	logging.Sugar().Infow("replication peer connected (accepted)", "peer", peerTag)
	return m.run(peerTag, stream)
}

func (m *Mesh) authenticateInbound(ctx context.Context) (string, error) {
	if m.verifier == nil {
		return "unknown", nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok || len(md.Get("authorization")) == 0 {
		return "", fmt.Errorf("replication: missing peer auth token")
	}
	tok := md.Get("authorization")[0]
	const prefix = "Bearer "
	if len(tok) > len(prefix) {
		tok = tok[len(prefix):]
	}
	claims, err := m.verifier.ParseAndVerify(tok)
	if err != nil {
		return "", fmt.Errorf("replication: peer auth failed: %w", err)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", fmt.Errorf("replication: peer token missing subject")
	}
	return sub, nil
}

// run drives one peer connection's send/receive loop until the stream
// errors or the mesh shuts down. It registers the peer so Broadcast* can
// reach it, and on connect sends a hello frame carrying this node's tag;
// the hello's topic and namespace lists are empty and no lattice snapshot
// is sent.
func (m *Mesh) run(peerTag string, stream syncStream) error {
	ctx, cancel := context.WithCancel(stream.Context())
	pc := &peerConn{nodeTag: peerTag, out: make(chan *structpb.Struct, 256), cancel: cancel}

	m.mu.Lock()
	m.peers[peerTag] = pc
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		if m.peers[peerTag] == pc {
			delete(m.peers, peerTag)
		}
		m.mu.Unlock()
		cancel()
	}()

	if err := stream.Send(helloFrame(m.nodeTag, nil, nil)); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case frame := <-pc.out:
				if err := stream.Send(frame); err != nil {
					errCh <- err
					return
				}
			}
		}
	}()

	for {
		frame, err := stream.Recv()
		if err != nil {
			return err
		}
		m.handleFrame(peerTag, frame)
		select {
		case sendErr := <-errCh:
			return sendErr
		default:
		}
	}
}

func (m *Mesh) handleFrame(peerTag string, frame *structpb.Struct) {
	kind, err := kindOf(frame)
	if err != nil {
		return
	}
	switch kind {
	case kindHello, kindSubscribeInterest:
		// This node does no interest-based filtering: it gossips every
		// local publish/delta to every connected peer. Hello and
		// subscribe_interest frames are accepted and ignored; they are not
		// forwarded to other peers.
	case kindPublish:
		origin := frame.Fields["origin_node"].GetStringValue()
		seq := uint64(frame.Fields["seq"].GetNumberValue())
		topic := frame.Fields["topic"].GetStringValue()
		if !m.shouldApply(origin, topic, seq) {
			return
		}
		payload := json.RawMessage(frame.Fields["payload"].GetStringValue())
		if err := m.topics.DeliverRemote(m.pool, topic, payload); err != nil {
			logging.Sugar().Warnw("replication: deliver remote publish failed", "err", err)
		}
		m.forwardExcept(peerTag, frame)
	case kindLatticeDelta:
		namespace := frame.Fields["namespace"].GetStringValue()
		key := frame.Fields["key"].GetStringValue()
		register := frame.Fields["register"].GetStringValue()
		private := frame.Fields["private"].GetBoolValue()
		userID := frame.Fields["user_id"].GetStringValue()
		valueJSON := []byte(frame.Fields["value"].GetStringValue())

		var v lattice.Value
		switch lattice.KindForRegister(register) {
		case lattice.KindCounter:
			var n uint64
			if json.Unmarshal(valueJSON, &n) == nil {
				v = lattice.Value{Kind: lattice.KindCounter, Counter: n}
			}
		case lattice.KindSet:
			var items []string
			if json.Unmarshal(valueJSON, &items) == nil {
				set := make(map[string]struct{}, len(items))
				for _, it := range items {
					set[it] = struct{}{}
				}
				v = lattice.Value{Kind: lattice.KindSet, Set: set}
			}
		default:
			v = lattice.Value{Kind: lattice.KindRegister, Reg: &lattice.LWW{Timestamp: time.Now().UnixNano(), Payload: valueJSON}}
		}
		m.lattice.Merge(m.pool, namespace, key, register, private, userID, v)
		m.forwardExcept(peerTag, frame)
	}
}

// shouldApply implements the replicated-publish dedup policy (one of
// spec.md's open questions): dedup by (origin_node, topic, seq), tracking
// only the highest seq seen per pair rather than a full id set. This
// deliberately accepts replaying an already-applied seq after a peer
// restarts and resets its counter from zero -- a bounded amount of
// duplicate delivery -- in exchange for O(1) memory per (origin, topic)
// instead of an unbounded per-message id cache.
func (m *Mesh) shouldApply(origin, topic string, seq uint64) bool {
	key := origin + "|" + topic
	m.seqMu.Lock()
	defer m.seqMu.Unlock()
	if last, ok := m.seen[key]; ok && seq <= last {
		return false
	}
	m.seen[key] = seq
	return true
}

// forwardExcept re-gossips a frame received from one peer to every other
// connected peer, implementing the mesh's multi-hop propagation.
func (m *Mesh) forwardExcept(exclude string, frame *structpb.Struct) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for tag, pc := range m.peers {
		if tag == exclude {
			continue
		}
		select {
		case pc.out <- frame:
		default:
		}
	}
}

// BroadcastPublish gossips a locally-published message to every connected
// peer. Wired to pubsub.Index.OnLocalPublish.
func (m *Mesh) BroadcastPublish(topic string, payload json.RawMessage) {
	m.seqMu.Lock()
	m.nextSeq++
	seq := m.nextSeq
	m.seqMu.Unlock()

	frame := publishFrame(m.nodeTag, seq, topic, payload)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pc := range m.peers {
		select {
		case pc.out <- frame:
		default:
		}
	}
}

// BroadcastLatticeDelta gossips a locally-merged lattice write to every
// connected peer. Wired to lattice.Engine.OnLocalChange.
func (m *Mesh) BroadcastLatticeDelta(namespace, key, register string, private bool, userID string, v lattice.Value) {
	valueJSON, err := v.MarshalJSON()
	if err != nil {
		return
	}
	frame := latticeDeltaFrame(m.nodeTag, namespace, key, register, private, userID, valueJSON)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pc := range m.peers {
		select {
		case pc.out <- frame:
		default:
		}
	}
}
