package push

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const createPayload = `{"data":{"status":200,"event":"message_create","plugin_url":"messaging","data":{"message_id":"m1","sender_id":"u2","timestamp":10,"richUiData":{"text":"hi"},"emojis":[]}}}`

func TestHubSubscribeAndUnsubscribe(t *testing.T) {
	hub := NewHub(nil)

	unsubscribe := hub.Subscribe("r1", func(context.Context, string, Event) {})
	assert.Equal(t, []string{"r1"}, hub.Rooms())

	unsubscribe()
	unsubscribe()
	assert.Empty(t, hub.Rooms())
}

func TestHubDispatchDeliversToRoomSubscribers(t *testing.T) {
	hub := NewHub(nil)

	var got []Event
	hub.Subscribe("r1", func(_ context.Context, roomID string, ev Event) {
		assert.Equal(t, "r1", roomID)
		got = append(got, ev)
	})
	hub.Subscribe("r2", func(context.Context, string, Event) {
		t.Fatal("other room must not receive the event")
	})

	hub.Dispatch(context.Background(), "r1", []byte(createPayload))

	require.Len(t, got, 1)
	assert.Equal(t, KindMessageCreate, got[0].Kind)
	assert.Equal(t, "u2", got[0].SenderID)
	assert.Equal(t, "m1", got[0].Message.ID)
}

func TestHubDispatchDropsUndecodablePayload(t *testing.T) {
	hub := NewHub(nil)
	called := false
	hub.Subscribe("r1", func(context.Context, string, Event) { called = true })

	hub.Dispatch(context.Background(), "r1", []byte(`not json`))
	hub.Dispatch(context.Background(), "r1", []byte(`{"data":{"event":"message_create","data":null}}`))

	assert.False(t, called)
}
