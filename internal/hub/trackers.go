package hub

import (
	"context"
	"fmt"
)

// nodeTracker follows one node signal through a post-command burst:
// fetch the node, watch the signal until it stops moving, push every
// fresh reading to subscribers.
type nodeTracker struct {
	svc    *Service
	nodeID int
	signal string
}

func (t *nodeTracker) FetchValue(ctx context.Context) error {
	_, err := t.svc.fetchNodeLive(ctx, t.nodeID)
	return err
}

func (t *nodeTracker) TrackedValue() (any, bool) {
	t.svc.mu.Lock()
	var raw any
	found := false
	for _, node := range t.svc.liveNodes {
		if node.ID == t.nodeID {
			raw, found = node.SignalValue(t.signal)
			break
		}
	}
	t.svc.mu.Unlock()

	if !found || raw == nil {
		return nil, false
	}
	return normalizeTracked(raw), true
}

func (t *nodeTracker) WriteState() {
	t.svc.publishNodeUpdate(t.nodeID)
}

// normalizeTracked flattens the decoded JSON value into a comparable
// form so 30 and 30.0 read as the same position across fetches.
func normalizeTracked(raw any) any {
	switch v := raw.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case bool:
		return v
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
