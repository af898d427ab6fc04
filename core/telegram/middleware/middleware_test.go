package middleware

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/ridesbot/core/logger"
	tghelpers "github.com/m3rciful/ridesbot/core/telegram/helpers"
)

// fakeContext implements the handful of tele.Context methods the middleware touches.
type fakeContext struct {
	tele.Context
	mu     sync.Mutex
	sender *tele.User
	update tele.Update
	store  map[string]any
}

func newFakeContext(userID int64, upd tele.Update) *fakeContext {
	var sender *tele.User
	if userID != 0 {
		sender = &tele.User{ID: userID}
	}
	return &fakeContext{sender: sender, update: upd, store: map[string]any{}}
}

func (f *fakeContext) Sender() *tele.User  { return f.sender }
func (f *fakeContext) Chat() *tele.Chat    { return nil }
func (f *fakeContext) Update() tele.Update { return f.update }
func (f *fakeContext) Text() string {
	if f.update.Message != nil {
		return f.update.Message.Text
	}
	return ""
}
func (f *fakeContext) Callback() *tele.Callback { return f.update.Callback }

func (f *fakeContext) Get(key string) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.store[key]
}

func (f *fakeContext) Set(key string, val any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store[key] = val
}

func message() tele.Update  { return tele.Update{ID: 1, Message: &tele.Message{Text: "hi"}} }
func callback() tele.Update { return tele.Update{ID: 2, Callback: &tele.Callback{Data: "x"}} }

func TestRateLimitMiddleware(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	limited := 0
	mw := RateLimitMiddleware(RateLimitOptions{
		Interval:  time.Second,
		Exclude:   map[string]struct{}{"callback": {}},
		OnLimited: func(tele.Context) error { limited++; return nil },
		Now:       func() time.Time { return now },
	})
	calls := 0
	h := mw(func(tele.Context) error { calls++; return nil })

	require.NoError(t, h(newFakeContext(7, message())))
	require.NoError(t, h(newFakeContext(7, message())))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, limited)

	require.NoError(t, h(newFakeContext(7, callback())))
	require.NoError(t, h(newFakeContext(8, message())))
	assert.Equal(t, 3, calls)

	now = now.Add(time.Second)
	require.NoError(t, h(newFakeContext(7, message())))
	assert.Equal(t, 4, calls)
}

func TestAdminOnlyMiddleware(t *testing.T) {
	rejected := 0
	mw := AdminOnlyMiddleware(AdminOptions{
		AdminID:  42,
		OnReject: func(tele.Context) error { rejected++; return nil },
	})
	calls := 0
	h := mw(func(tele.Context) error { calls++; return nil })

	require.NoError(t, h(newFakeContext(42, message())))
	require.NoError(t, h(newFakeContext(7, message())))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, rejected)

	closed := AdminOnlyMiddleware(AdminOptions{})(func(tele.Context) error { calls++; return nil })
	require.NoError(t, closed(newFakeContext(42, message())))
	assert.Equal(t, 1, calls)
}

func TestRecoverMiddleware(t *testing.T) {
	h := RecoverMiddleware(func(tele.Context) error { panic("boom") })
	err := h(newFakeContext(7, message()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	sentinel := errors.New("plain")
	h = RecoverMiddleware(func(tele.Context) error { return sentinel })
	assert.ErrorIs(t, h(newFakeContext(7, message())), sentinel)
}

func TestMessageCounters(t *testing.T) {
	c := newFakeContext(7, message())
	h := MessageMetricsMiddleware(func(c tele.Context) error {
		cc := c.(countingContext)
		require.NoError(t, cc.count(nil, []any{&tele.SendOptions{ReplyMarkup: &tele.ReplyMarkup{}}}))
		require.NoError(t, cc.count(nil, nil))
		require.Error(t, cc.count(errors.New("flood"), nil))
		return nil
	})
	require.NoError(t, h(c))
	msgs, kb := GetCounters(c)
	assert.Equal(t, 2, msgs)
	assert.True(t, kb)

	msgs, kb = GetCounters(newFakeContext(7, message()))
	assert.Zero(t, msgs)
	assert.False(t, kb)
}

func TestLoggerMiddlewareStoresRequestContext(t *testing.T) {
	c := newFakeContext(7, callback())
	var seen bool
	h := LoggerMiddleware(func(c tele.Context) error {
		ctx, ok := tghelpers.ContextFrom(c)
		require.True(t, ok)
		assert.Equal(t, "2:0:7", logger.RIDFrom(ctx))
		assert.Equal(t, int64(7), logger.UserIDFrom(ctx))
		assert.Equal(t, 2, logger.UpdateIDFrom(ctx))
		seen = true
		return nil
	})
	require.NoError(t, h(c))
	assert.True(t, seen)
	assert.Equal(t, "2:0:7", c.Get("rid"))

	var payload string
	for _, a := range receivedAttrs(newFakeContext(7, message())) {
		if a.Key == "payload" {
			payload = a.Value.String()
		}
	}
	assert.Equal(t, "hi", payload)
}
