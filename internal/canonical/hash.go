package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for a future algorithm change.
const (
	DomainEvent = "hlcsim/event/v1"
	DomainTrace = "hlcsim/trace/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EventID computes the content-addressed ID of one clock event.
// The same run, node, position and timestamp always hash to the same ID.
func EventID(runID, nodeID string, nodeSeq int64, kind string, physical, logical int64) (string, error) {
	obj := map[string]any{
		"run_id":   runID,
		"node_id":  nodeID,
		"node_seq": nodeSeq,
		"kind":     kind,
		"physical": physical,
		"logical":  logical,
	}

	data, err := Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("EventID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainEvent, data), nil
}

// Digest hashes an arbitrary canonical value, e.g. a whole trace snapshot.
func Digest(v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("Digest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainTrace, data), nil
}
