// internal/replication/frames.go
// Replication frame envelopes. Each frame exchanged over wire.PeerService's
// Sync stream is a structpb.Struct with a "kind" discriminator; this file
// is the only place that packs/unpacks that convention.
package replication

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

const (
	kindHello             = "hello"
	kindSubscribeInterest = "subscribe_interest"
	kindPublish           = "publish"
	kindLatticeDelta      = "lattice_delta"
)

// helloFrame announces this node's identity and its current subscription
// interest on connect, so a freshly-joined peer knows which topics/
// namespaces are even worth gossiping about (spec.md's replication Hello
// exchange, grounded on original_source/tests/replication_test.py).
func helloFrame(nodeTag string, topics, namespaces []string) *structpb.Struct {
	s, _ := structpb.NewStruct(map[string]any{
		"kind":       kindHello,
		"node_tag":   nodeTag,
		"topics":     toAnySlice(topics),
		"namespaces": toAnySlice(namespaces),
	})
	return s
}

func subscribeInterestFrame(topics, namespaces []string) *structpb.Struct {
	s, _ := structpb.NewStruct(map[string]any{
		"kind":       kindSubscribeInterest,
		"topics":     toAnySlice(topics),
		"namespaces": toAnySlice(namespaces),
	})
	return s
}

// publishFrame carries one already-locally-delivered pub/sub message onward
// to a peer. originNode+seq let every peer dedup a message that might reach
// it by more than one path through the mesh.
func publishFrame(originNode string, seq uint64, topic string, payload json.RawMessage) *structpb.Struct {
	s, _ := structpb.NewStruct(map[string]any{
		"kind":        kindPublish,
		"origin_node": originNode,
		"seq":         float64(seq),
		"topic":       topic,
		"payload":     string(payload),
	})
	return s
}

func latticeDeltaFrame(originNode string, namespace, key, register string, private bool, userID string, valueJSON []byte) *structpb.Struct {
	s, _ := structpb.NewStruct(map[string]any{
		"kind":        kindLatticeDelta,
		"origin_node": originNode,
		"namespace":   namespace,
		"key":         key,
		"register":    register,
		"private":     private,
		"user_id":     userID,
		"value":       string(valueJSON),
	})
	return s
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func stringsField(s *structpb.Struct, field string) []string {
	lv := s.Fields[field].GetListValue()
	if lv == nil {
		return nil
	}
	out := make([]string, 0, len(lv.Values))
	for _, v := range lv.Values {
		out = append(out, v.GetStringValue())
	}
	return out
}

func kindOf(s *structpb.Struct) (string, error) {
	k := s.Fields["kind"].GetStringValue()
	if k == "" {
		return "", fmt.Errorf("replication: frame missing kind")
	}
	return k, nil
}
