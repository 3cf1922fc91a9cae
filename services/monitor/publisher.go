package monitor

import (
	"context"
	"encoding/json"

	"pointsplane/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type redisPublisher struct {
	rdb     *redis.Client
	channel string
}

type PublisherParams struct {
	fx.In
	Config *config.Config
	Redis  *redis.Client `optional:"true"`
}

func NewPublisher(p PublisherParams) Publisher {
	if p.Redis == nil {
		return LogPublisher{}
	}

	channel := p.Config.Monitor.EventChannel
	if channel == "" {
		channel = "loyalty:product:events"
	}
	return &redisPublisher{rdb: p.Redis, channel: channel}
}

func (p *redisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, p.channel, payload).Err()
}

// LogPublisher stands in when no broker is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, event Event) error {
	zap.L().Info("product event",
		zap.String("type", string(event.Type)),
		zap.String("product_id", event.ProductID),
	)
	return nil
}
