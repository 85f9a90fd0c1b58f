package push

import (
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestRedisSourceChannelMapping(t *testing.T) {
	src := NewRedisSource(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "rooms:", NewHub(nil), nil)

	assert.Equal(t, "rooms:r1", src.channel("r1"))

	roomID, ok := src.roomFromChannel("rooms:r1")
	assert.True(t, ok)
	assert.Equal(t, "r1", roomID)

	_, ok = src.roomFromChannel("other:r1")
	assert.False(t, ok)
	_, ok = src.roomFromChannel("rooms:")
	assert.False(t, ok)
}

func TestRedisSourceWatchBeforeRun(t *testing.T) {
	src := NewRedisSource(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "rooms:", NewHub(nil), nil)

	src.Watch("r1")
	src.Watch("r1")

	assert.Len(t, src.watched, 1)
}
