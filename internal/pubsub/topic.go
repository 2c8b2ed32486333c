// internal/pubsub/topic.go
// Package pubsub implements the Topic Index (spec.md §4.3): a sharded
// topic -> {ConnectionId} index supporting idempotent subscribe/unsubscribe
// and a publish fan-out that never blocks on a slow subscriber. The fan-out
// pattern -- snapshot the subscriber set under a read lock, then push to
// each connection's own outbound queue outside the lock -- is grounded on
// the teacher's internal/gateway/server.go Subscribe/broadcast loop, which
// uses the identical "never hold a lock across a channel send" shape.
package pubsub

import (
	"encoding/json"
	"hash/fnv"
	"sync"

	"github.com/swindon-rs/swindon-gateway/internal/metrics"
	"github.com/swindon-rs/swindon-gateway/internal/protocol"
	"github.com/swindon-rs/swindon-gateway/internal/session"
)

const numShards = 32

type shard struct {
	mu     sync.RWMutex
	topics map[string]map[string]struct{} // topic -> set of connID
}

// Index is the process-wide Topic Index for one Gateway node.
type Index struct {
	shards [numShards]*shard

	// connTopicsMu/connTopics track the reverse mapping (connID -> topics)
	// so that UnsubscribeAll on disconnect is O(subscriptions) rather than
	// O(all topics).
	connTopicsMu sync.Mutex
	connTopics   map[string]map[string]struct{}

	// OnLocalPublish, if set, is invoked after a locally-originated Publish
	// delivers to this node's own subscribers, so internal/replication can
	// gossip the message onward. DeliverRemote does not trigger it, which
	// is what keeps a replicated publish from bouncing back out to peers.
	OnLocalPublish func(topic string, payload json.RawMessage)
}

// NewIndex constructs an empty Index.
func NewIndex() *Index {
	idx := &Index{connTopics: make(map[string]map[string]struct{})}
	for i := range idx.shards {
		idx.shards[i] = &shard{topics: make(map[string]map[string]struct{})}
	}
	return idx
}

func (idx *Index) shardFor(topic string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	return idx.shards[h.Sum32()%numShards]
}

// Subscribe adds connID as a subscriber of topic. Idempotent.
func (idx *Index) Subscribe(connID, topic string) {
	sh := idx.shardFor(topic)
	sh.mu.Lock()
	set, ok := sh.topics[topic]
	if !ok {
		set = make(map[string]struct{})
		sh.topics[topic] = set
	}
	_, already := set[connID]
	set[connID] = struct{}{}
	sh.mu.Unlock()

	idx.connTopicsMu.Lock()
	ct, ok := idx.connTopics[connID]
	if !ok {
		ct = make(map[string]struct{})
		idx.connTopics[connID] = ct
	}
	ct[topic] = struct{}{}
	idx.connTopicsMu.Unlock()

	if !already {
		metrics.TopicSubscriptions.Inc()
	}
}

// Unsubscribe removes connID from topic's subscriber set. Idempotent.
func (idx *Index) Unsubscribe(connID, topic string) {
	sh := idx.shardFor(topic)
	sh.mu.Lock()
	removed := false
	if set, ok := sh.topics[topic]; ok {
		if _, present := set[connID]; present {
			delete(set, connID)
			removed = true
		}
		if len(set) == 0 {
			delete(sh.topics, topic)
		}
	}
	sh.mu.Unlock()

	idx.connTopicsMu.Lock()
	if ct, ok := idx.connTopics[connID]; ok {
		delete(ct, topic)
		if len(ct) == 0 {
			delete(idx.connTopics, connID)
		}
	}
	idx.connTopicsMu.Unlock()

	if removed {
		metrics.TopicSubscriptions.Dec()
	}
}

// UnsubscribeAll removes connID from every topic it was subscribed to,
// called when a connection closes.
func (idx *Index) UnsubscribeAll(connID string) {
	idx.connTopicsMu.Lock()
	topics := make([]string, 0, len(idx.connTopics[connID]))
	for t := range idx.connTopics[connID] {
		topics = append(topics, t)
	}
	delete(idx.connTopics, connID)
	idx.connTopicsMu.Unlock()

	for _, t := range topics {
		idx.Unsubscribe(connID, t)
	}
}

// Subscribers returns a snapshot of the connection ids subscribed to topic.
func (idx *Index) Subscribers(topic string) []string {
	sh := idx.shardFor(topic)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	set := sh.topics[topic]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// Publish delivers payload on topic to every currently-subscribed
// connection known to pool. Delivery is best-effort and never blocks: a
// connection whose outbound queue is full drops the frame and closes itself
// (spec.md §5); Publish does not retry or report per-subscriber failures.
func (idx *Index) Publish(pool *session.Pool, topic string, payload json.RawMessage) error {
	if err := idx.DeliverRemote(pool, topic, payload); err != nil {
		return err
	}
	if idx.OnLocalPublish != nil {
		idx.OnLocalPublish(topic, payload)
	}
	return nil
}

// DeliverRemote fans payload out to this node's local subscribers of topic
// without invoking OnLocalPublish. internal/replication calls this directly
// for messages that arrived from a peer, since re-announcing them would
// create a gossip echo loop.
func (idx *Index) DeliverRemote(pool *session.Pool, topic string, payload json.RawMessage) error {
	frame, err := protocol.MessageFrame(topic, payload)
	if err != nil {
		return err
	}
	metrics.PublishTotal.Inc()
	for _, connID := range idx.Subscribers(topic) {
		conn, ok := pool.Lookup(connID)
		if !ok {
			continue
		}
		conn.Enqueue(frame)
	}
	return nil
}
