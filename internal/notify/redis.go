package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"marketplace/internal/config"
	"marketplace/internal/models"

	"github.com/redis/go-redis/v9"
)

const defaultInboxSize = 100

// RedisPublisher publishes each notification on the user's channel and keeps a
// short per-user inbox list for clients that were not subscribed at the time.
type RedisPublisher struct {
	client    *redis.Client
	prefix    string
	inboxSize int64
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix, inboxSize: defaultInboxSize}
}

func (p *RedisPublisher) Name() string {
	return config.BackendRedis
}

func (p *RedisPublisher) Publish(ctx context.Context, n *models.Notification) error {
	if p.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	inbox := p.inboxKey(n.UserID)
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, p.channelFor(n.UserID), data)
		pipe.LPush(ctx, inbox, data)
		pipe.LTrim(ctx, inbox, 0, p.inboxSize-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish notification to redis: %w", err)
	}
	return nil
}

// Recent returns up to limit inbox entries for the user, newest first.
func (p *RedisPublisher) Recent(ctx context.Context, userID int64, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = models.DefaultNotificationsLimit
	}
	raw, err := p.client.LRange(ctx, p.inboxKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox from redis: %w", err)
	}

	out := make([]*models.Notification, 0, len(raw))
	for _, item := range raw {
		var n models.Notification
		if err := json.Unmarshal([]byte(item), &n); err != nil {
			return nil, fmt.Errorf("failed to unmarshal notification: %w", err)
		}
		out = append(out, &n)
	}
	return out, nil
}

// Subscribe listens on the user's pub/sub channel. The subscription is confirmed
// before returning so nothing published afterwards is missed.
func (p *RedisPublisher) Subscribe(ctx context.Context, userID int64) (<-chan *models.Notification, func(), error) {
	if p.client == nil {
		return nil, nil, fmt.Errorf("redis client is nil")
	}
	ps := p.client.Subscribe(ctx, p.channelFor(userID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to redis: %w", err)
	}

	out := make(chan *models.Notification, subscriberBuffer)
	done := make(chan struct{})
	msgs := ps.Channel()
	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var n models.Notification
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					continue
				}
				select {
				case out <- &n:
				default:
				}
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}, nil
}

func (p *RedisPublisher) channelFor(userID int64) string {
	return (&models.Notification{UserID: userID}).Channel(p.prefix)
}

func (p *RedisPublisher) inboxKey(userID int64) string {
	return fmt.Sprintf("%s:inbox:%d", p.prefix, userID)
}
