package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"message-sync/internal/observability"
)

var errPubSubClosed = errors.New("redis pubsub channel closed")

// RedisSource reads room publications from Redis Pub/Sub channels named
// prefix + room id.
type RedisSource struct {
	client *redis.Client
	prefix string
	hub    *Hub
	log    *slog.Logger

	mu      sync.Mutex
	watched map[string]struct{}
	pubsub  *redis.PubSub
}

func NewRedisSource(client *redis.Client, prefix string, hub *Hub, logger *slog.Logger) *RedisSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisSource{client: client, prefix: prefix, hub: hub, log: logger, watched: make(map[string]struct{})}
}

func (s *RedisSource) Watch(roomID string) {
	s.mu.Lock()
	if _, ok := s.watched[roomID]; ok {
		s.mu.Unlock()
		return
	}
	s.watched[roomID] = struct{}{}
	ps := s.pubsub
	s.mu.Unlock()

	if ps != nil {
		if err := ps.Subscribe(context.Background(), s.channel(roomID)); err != nil {
			s.log.Warn("push subscribe failed", "source", "redis", "room_id", roomID, "err", err)
		}
	}
}

// Run subscribes to every watched room and dispatches until ctx ends. The
// go-redis PubSub reconnects on its own; Run returns only when ctx ends or
// the subscription is closed.
func (s *RedisSource) Run(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	ps := s.client.Subscribe(ctx)
	defer ps.Close()

	s.mu.Lock()
	s.pubsub = ps
	channels := make([]string, 0, len(s.watched))
	for roomID := range s.watched {
		channels = append(channels, s.channel(roomID))
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.pubsub = nil
		s.mu.Unlock()
	}()

	if len(channels) > 0 {
		sort.Strings(channels)
		if err := ps.Subscribe(ctx, channels...); err != nil {
			return fmt.Errorf("redis subscribe: %w", err)
		}
	}

	observability.SetPushConnected("redis", true)
	defer observability.SetPushConnected("redis", false)
	s.log.InfoContext(ctx, "push connected", "source", "redis", "channels", len(channels))

	messages := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return errPubSubClosed
			}
			roomID, ok := s.roomFromChannel(msg.Channel)
			if !ok {
				continue
			}
			s.hub.Dispatch(ctx, roomID, []byte(msg.Payload))
		}
	}
}

func (s *RedisSource) channel(roomID string) string {
	return s.prefix + roomID
}

func (s *RedisSource) roomFromChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, s.prefix) {
		return "", false
	}
	roomID := strings.TrimPrefix(channel, s.prefix)
	return roomID, roomID != ""
}
