package push

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDefaultsKindToCreate(t *testing.T) {
	ev, err := Decode([]byte(`{"data":{"data":{"_id":"m9","sender_id":"u1","timestamp":5,"richUiData":"x"}}}`))
	require.NoError(t, err)

	assert.Equal(t, KindMessageCreate, ev.Kind)
	assert.Equal(t, "m9", ev.Message.ID)
	assert.Equal(t, "u1", ev.SenderID)
}

func TestDecodeUpdate(t *testing.T) {
	ev, err := Decode([]byte(`{"data":{"event":"message_update","data":{"message_id":"m1","sender_id":"u1","timestamp":5,"richUiData":"x","edited":true}}}`))
	require.NoError(t, err)

	assert.Equal(t, KindMessageUpdate, ev.Kind)
	assert.True(t, ev.Message.Edited)
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]byte(`{"data":{}}`))
	assert.ErrorIs(t, err, ErrEmptyEvent)

	_, err = Decode([]byte(`[`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"data":{"data":"not an object"}}`))
	assert.Error(t, err)
}
