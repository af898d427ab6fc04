package callbacks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	tele "gopkg.in/telebot.v4"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		cb      *tele.Callback
		key     string
		payload string
	}{
		{name: "nil", cb: nil},
		{name: "encoded", cb: &tele.Callback{Data: "\fride_confirm|yes"}, key: "ride_confirm", payload: "yes"},
		{name: "no payload", cb: &tele.Callback{Data: "\fride_skip"}, key: "ride_skip"},
		{name: "payload with separator", cb: &tele.Callback{Data: "\fk|a|b"}, key: "k", payload: "a|b"},
		{name: "unique set", cb: &tele.Callback{Unique: "ride_confirm", Data: "no"}, key: "ride_confirm", payload: "no"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, payload := Parse(tt.cb)
			assert.Equal(t, tt.key, key)
			assert.Equal(t, tt.payload, payload)
		})
	}
}

type callbackContext struct {
	tele.Context
	cb *tele.Callback
}

func (c callbackContext) Callback() *tele.Callback { return c.cb }

func TestKeyAndPayload(t *testing.T) {
	c := callbackContext{cb: &tele.Callback{Data: "\fride_confirm|no"}}
	assert.Equal(t, "ride_confirm", Key(c))
	assert.Equal(t, "no", Payload(c))

	empty := callbackContext{}
	assert.Empty(t, Key(empty))
	assert.Empty(t, Payload(empty))
}
