package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
)

const redisChannelPrefix = "rulebook:"

// RedisBroker carries events over Redis pub/sub so every server replica sees them.
type RedisBroker struct {
	client *redis.Client
	logger *logrus.Logger
}

// NewRedisBroker connects to the Redis server at url.
func NewRedisBroker(ctx context.Context, url string, logger *logrus.Logger) (*RedisBroker, error) {
	if strings.TrimSpace(url) == "" {
		return nil, eris.New("redis url is required")
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "parsing redis url")
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrap(err, "pinging redis")
	}

	return &RedisBroker{client: client, logger: logger}, nil
}

// Client exposes the underlying connection for other Redis consumers.
func (b *RedisBroker) Client() *redis.Client {
	return b.client
}

// Publish sends event to every replica subscribed to topic.
func (b *RedisBroker) Publish(ctx context.Context, topic string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return eris.Wrap(err, "encoding realtime event")
	}

	if err := b.client.Publish(ctx, redisChannelPrefix+topic, payload).Err(); err != nil {
		b.logError(topic, err, "publishing realtime event")
		return eris.Wrapf(err, "publishing to %s", topic)
	}
	return nil
}

// Subscribe listens on topic until cancel is called or ctx is done.
func (b *RedisBroker) Subscribe(ctx context.Context, topic string) (<-chan Event, func(), error) {
	pubsub := b.client.Subscribe(ctx, redisChannelPrefix+topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, eris.Wrapf(err, "subscribing to %s", topic)
	}

	out := make(chan Event, defaultBuffer)
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(out)

		messages := pubsub.Channel()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					b.logError(topic, err, "decoding realtime event")
					continue
				}
				select {
				case out <- event:
				default:
					b.logError(topic, eris.New("subscriber buffer full"), "closing slow subscriber")
					return
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(stop)
			<-done
			if err := pubsub.Close(); err != nil {
				b.logError(topic, err, "closing redis subscription")
			}
		})
	}

	return out, cancel, nil
}

// Close releases the Redis connection pool.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}

func (b *RedisBroker) logError(topic string, err error, message string) {
	if b.logger == nil || err == nil {
		return
	}
	b.logger.WithFields(logrus.Fields{
		"component": "realtime",
		"topic":     topic,
		"error":     err.Error(),
	}).Error(message)
}
