// Package router fans broadcasts out across relay instances over Redis
// pub/sub, so delivery groups span every instance a user's sessions landed on.
package router

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"pairchat/internal/observability"
)

const channel = "pairchat:relay"

type record struct {
	Origin  string          `json:"origin"`
	Users   []string        `json:"users"`
	Payload json.RawMessage `json:"payload"`
}

type Router struct {
	client     *redis.Client
	instanceID string
}

func New(client *redis.Client, instanceID string) *Router {
	return &Router{client: client, instanceID: instanceID}
}

// Publish shares a broadcast with every peer instance. Records carry the
// origin instance id; the publisher's own copy is filtered on receipt so a
// session is never served the same broadcast twice.
func (r *Router) Publish(ctx context.Context, userIDs []string, payload []byte) error {
	rec, err := json.Marshal(record{
		Origin:  r.instanceID,
		Users:   userIDs,
		Payload: payload,
	})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, channel, rec).Err()
}

// Subscribe delivers remote broadcasts to the local sessions via deliver.
func (r *Router) Subscribe(ctx context.Context, deliver func(userIDs []string, payload []byte)) {
	pubsub := r.client.Subscribe(ctx, channel)

	go func() {
		log := observability.GetLogger(ctx)
		log.Info("router: subscribed to channel", zap.String("channel", channel))
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				log.Info("router: subscription loop stopping: context canceled")
				return
			case msg, ok := <-ch:
				if !ok {
					log.Warn("router: pubsub channel closed")
					return
				}

				var rec record
				if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
					log.Error("router: malformed record", zap.Error(err))
					continue
				}
				if rec.Origin == r.instanceID {
					continue
				}
				deliver(rec.Users, rec.Payload)
			}
		}
	}()
}
