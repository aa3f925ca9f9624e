package relay

import (
	"context"

	"go.uber.org/zap"

	"pairchat/internal/observability"
)

// Broadcaster delivers a framed event to every session in the named delivery
// groups. Injected into each handler at construction time; there is no
// ambient broadcast handle.
type Broadcaster interface {
	Broadcast(ctx context.Context, userIDs []string, payload []byte)
}

// RemotePublisher forwards a broadcast to peer relay instances hosting other
// sessions of the same users.
type RemotePublisher interface {
	Publish(ctx context.Context, userIDs []string, payload []byte) error
}

// Fanout broadcasts locally through the registry, exactly once per session,
// and hands the record to the remote publisher when one is configured.
type Fanout struct {
	registry    *Registry
	remote      RemotePublisher
	serviceName string
}

func NewFanout(registry *Registry, remote RemotePublisher, serviceName string) *Fanout {
	return &Fanout{registry: registry, remote: remote, serviceName: serviceName}
}

func (f *Fanout) Broadcast(ctx context.Context, userIDs []string, payload []byte) {
	f.DeliverLocal(userIDs, payload)

	if f.remote != nil {
		if err := f.remote.Publish(ctx, userIDs, payload); err != nil {
			observability.GetLogger(ctx).Error("broadcast: remote publish failed", zap.Error(err))
		}
	}
}

// DeliverLocal fans a payload out to the local sessions of each group. Groups
// are deduplicated first so a pair like [receiver, sender] with
// receiver == sender delivers once per session, never twice.
func (f *Fanout) DeliverLocal(userIDs []string, payload []byte) {
	seen := make(map[string]struct{}, len(userIDs))
	for _, userID := range userIDs {
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}

		for _, s := range f.registry.GroupSessions(userID) {
			if s.TrySend(payload) {
				observability.BroadcastDeliveriesTotal.WithLabelValues(f.serviceName, "local").Inc()
			}
		}
	}
}
