package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Bridge relays broadcast payloads between server replicas over a Redis
// pub/sub channel so that clients attached to any replica see every event.
// It adds no delivery guarantees: events published while a replica is down
// are lost, matching the local fan-out semantics.
type Bridge struct {
	client  *redis.Client
	channel string
	origin  string
	hub     *Hub
	cancel  context.CancelFunc
	logger  *slog.Logger
}

// envelope wraps relayed payloads with the publishing replica's identity
// so a replica can ignore its own messages.
type envelope struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

type BridgeConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

func NewBridge(cfg BridgeConfig, hub *Hub, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		channel: cfg.Channel,
		origin:  uuid.NewString(),
		hub:     hub,
		logger:  logger,
	}
}

// Start verifies connectivity, wires the hub's relay to Publish, and
// begins re-injecting events published by other replicas.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return err
	}

	b.hub.SetRelay(func(payload []byte) {
		b.publish(context.Background(), payload)
	})

	subCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	sub := b.client.Subscribe(subCtx, b.channel)
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					b.logger.Error("dropping malformed bridge message", "error", err)
					continue
				}
				if env.Origin == b.origin {
					continue
				}
				b.hub.broadcastLocal(env.Payload)
			case <-subCtx.Done():
				return
			}
		}
	}()

	return nil
}

func (b *Bridge) publish(ctx context.Context, payload []byte) {
	data, err := json.Marshal(envelope{Origin: b.origin, Payload: payload})
	if err != nil {
		b.logger.Error("failed to marshal bridge envelope", "error", err)
		return
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		b.logger.Error("failed to publish event to redis", "error", err)
	}
}

func (b *Bridge) Stop() error {
	if b.cancel != nil {
		b.cancel()
	}
	return b.client.Close()
}
