package broker

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/quickserve-pos/api/internal/ws"
)

const channelPrefix = "room:"

// Bridge routes room events through Redis pub/sub so that every gateway
// process delivers them to its local hub. Publishing goes to the Redis
// channel for the location; the subscription loop replays incoming
// messages into the in-process hub, including our own publishes.
// Delivery stays at-least-once; consumers dedupe by order id.
type Bridge struct {
	rdb *redis.Client
	hub *ws.Hub
}

func New(redisURL string, hub *ws.Hub) (*Bridge, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &Bridge{rdb: rdb, hub: hub}, nil
}

// Publish sends the event to the location's Redis channel. On a broker
// error the event is delivered to the local hub anyway so a Redis
// outage degrades to single-process fan-out instead of silence.
func (b *Bridge) Publish(locationID uuid.UUID, event ws.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		logrus.WithError(err).Error("broker: encode event")
		return
	}
	if err := b.rdb.Publish(context.Background(), channelPrefix+locationID.String(), data).Err(); err != nil {
		logrus.WithError(err).Warn("broker: publish, falling back to local hub")
		b.hub.Publish(locationID, event)
	}
}

// Run subscribes to all room channels and pumps messages into the local
// hub until ctx is cancelled. Call as a goroutine.
func (b *Bridge) Run(ctx context.Context) {
	sub := b.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			locationID, err := uuid.Parse(strings.TrimPrefix(msg.Channel, channelPrefix))
			if err != nil {
				logrus.WithField("channel", msg.Channel).Warn("broker: unparseable room channel")
				continue
			}
			var event ws.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				logrus.WithError(err).Warn("broker: decode event")
				continue
			}
			b.hub.Publish(locationID, event)
		}
	}
}

func (b *Bridge) Close() error {
	return b.rdb.Close()
}
