package bot

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	tg "github.com/m3rciful/ridesbot/core/telegram"
	tghelpers "github.com/m3rciful/ridesbot/core/telegram/helpers"
	"github.com/m3rciful/ridesbot/rides/ride"
	"github.com/m3rciful/ridesbot/rides/service"
	"github.com/m3rciful/ridesbot/rides/session"
	"github.com/m3rciful/ridesbot/rides/store"
)

type sent struct {
	to   string
	text string
	opts []any
}

type fakePusher struct {
	mu   sync.Mutex
	msgs []sent
}

func (p *fakePusher) Send(to tele.Recipient, what any, opts ...any) (*tele.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, sent{to: to.Recipient(), text: what.(string), opts: opts})
	return &tele.Message{}, nil
}

func (p *fakePusher) all() []sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sent(nil), p.msgs...)
}

// chatContext is a private-chat update that records what handlers send back.
type chatContext struct {
	tele.Context
	user    *tele.User
	chat    *tele.Chat
	msg     *tele.Message
	cb      *tele.Callback
	store   map[string]any
	replies []sent
}

func newChat(userID int64, text string) *chatContext {
	msg := &tele.Message{Text: text}
	if payload, ok := commandPayload(text); ok {
		msg.Payload = payload
	}
	return &chatContext{
		user:  &tele.User{ID: userID},
		chat:  &tele.Chat{ID: userID, Type: tele.ChatPrivate},
		msg:   msg,
		store: map[string]any{},
	}
}

func commandPayload(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	_, payload, _ := strings.Cut(text, " ")
	return payload, true
}

func (c *chatContext) Sender() *tele.User        { return c.user }
func (c *chatContext) Chat() *tele.Chat          { return c.chat }
func (c *chatContext) Message() *tele.Message    { return c.msg }
func (c *chatContext) Callback() *tele.Callback  { return c.cb }
func (c *chatContext) Text() string              { return c.msg.Text }
func (c *chatContext) Update() tele.Update       { return tele.Update{ID: 1, Message: c.msg, Callback: c.cb} }
func (c *chatContext) Get(key string) any        { return c.store[key] }
func (c *chatContext) Set(key string, value any) { c.store[key] = value }

func (c *chatContext) Send(what any, opts ...any) error {
	c.replies = append(c.replies, sent{text: what.(string), opts: opts})
	return nil
}

func (c *chatContext) last() sent {
	if len(c.replies) == 0 {
		return sent{}
	}
	return c.replies[len(c.replies)-1]
}

type harness struct {
	reg       *tg.Registry
	handlers  *Handlers
	svc       *service.Service
	announcer *Announcer
	pusher    *fakePusher
	store     *store.Memory
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	tghelpers.SetDispatcher(nil)
	st := store.NewMemory()
	ann := NewAnnouncer("@rides_channel")
	p := &fakePusher{}
	ann.Attach(p)
	svc := service.New(st, session.NewMemoryRegistry(time.Minute, nil), ann, service.Config{})
	reg := tg.NewRegistry()
	h, err := Register(reg, svc)
	require.NoError(t, err)
	return &harness{reg: reg, handlers: h, svc: svc, announcer: ann, pusher: p, store: st}
}

// text routes a message the way the bot does: registered commands first,
// then the open wizard, then the fallback hint.
func (h *harness) text(t *testing.T, userID int64, text string) *chatContext {
	t.Helper()
	c := newChat(userID, text)
	if _, cmd, ok := h.reg.LookupCommand(text); ok {
		require.NoError(t, cmd.Handler(c))
		return c
	}
	if h.handlers.InProgress(context.Background(), userID) {
		require.NoError(t, h.handlers.Handle(c))
		return c
	}
	require.NoError(t, h.reg.TextFallback()(c))
	return c
}

func (h *harness) press(t *testing.T, userID int64, unique, data string) *chatContext {
	t.Helper()
	c := newChat(userID, "")
	c.cb = &tele.Callback{Unique: unique, Data: data}
	handler, ok := h.reg.GetCallback(unique)
	require.True(t, ok)
	require.NoError(t, handler(c))
	return c
}

func TestCreateFlowThroughButtons(t *testing.T) {
	h := newHarness(t)

	c := h.text(t, 5, "/create")
	assert.Contains(t, c.last().text, "departing from")
	h.text(t, 5, "Vake")
	h.text(t, 5, "Airport")
	c = h.text(t, 5, "2")
	assert.Contains(t, c.last().text, "When are you leaving")

	c = h.press(t, 5, service.ActionSkip, "-")
	assert.Contains(t, c.last().text, "comment")
	c = h.press(t, 5, service.ActionSkip, "-")
	require.Len(t, c.last().opts, 1)
	opts, ok := c.last().opts[0].(*tele.SendOptions)
	require.True(t, ok)
	require.NotNil(t, opts.ReplyMarkup)
	assert.Equal(t, service.ActionConfirm, opts.ReplyMarkup.InlineKeyboard[0][0].Unique)

	c = h.press(t, 5, service.ActionConfirm, "yes")
	assert.Contains(t, c.last().text, "published")

	rides, err := h.store.Fetch(context.Background(), 5, true)
	require.NoError(t, err)
	require.Len(t, rides, 1)

	posts := h.pusher.all()
	require.Len(t, posts, 1)
	assert.Equal(t, "@rides_channel", posts[0].to)
	assert.Contains(t, posts[0].text, "Vake → Airport")
}

func TestTextOutsideWizardGetsHint(t *testing.T) {
	h := newHarness(t)
	c := h.text(t, 5, "hello")
	assert.Equal(t, msgFallback, c.last().text)
}

func TestListAndDeleteCommands(t *testing.T) {
	h := newHarness(t)
	id, err := h.store.Create(context.Background(), ride.NewRide{OwnerID: 5, From: "A", To: "B", Capacity: 1})
	require.NoError(t, err)

	c := h.text(t, 5, "/list")
	assert.Contains(t, c.last().text, id)

	c = h.text(t, 5, "/delete "+id)
	assert.Contains(t, c.last().text, "cancelled")

	c = h.text(t, 5, "/list")
	assert.NotContains(t, c.last().text, id)
	c = h.text(t, 5, "/list_all")
	assert.Contains(t, c.last().text, id)
}

func TestGroupChatsAreRefused(t *testing.T) {
	h := newHarness(t)
	c := newChat(5, "/create")
	c.chat.Type = tele.ChatGroup
	_, cmd, ok := h.reg.LookupCommand("/create")
	require.True(t, ok)
	require.NoError(t, cmd.Handler(c))
	assert.Equal(t, msgPrivateOnly, c.last().text)
	assert.False(t, h.handlers.InProgress(context.Background(), 5))
}

func TestHelpListsVisibleCommands(t *testing.T) {
	h := newHarness(t)
	c := h.text(t, 5, "/help")
	assert.Contains(t, c.last().text, "/create - Publish a new ride")
	assert.Contains(t, c.last().text, "/delete <id> [hard]")
	assert.NotContains(t, c.last().text, "/sweep")
}

func TestAnnouncer(t *testing.T) {
	r := ride.Ride{ID: "r-1", OwnerID: 42, From: "Old Town", To: "Mtatsminda", Capacity: 3, TimeRange: "18:00-18:30", Comment: "no smoking."}

	text := FormatAnnouncement(r)
	assert.Contains(t, text, "*Old Town → Mtatsminda*")
	assert.Contains(t, text, `18:00\-18:30`)
	assert.Contains(t, text, `no smoking\.`)
	assert.Contains(t, text, "tg://user?id=42")

	a := NewAnnouncer("-100123")
	assert.ErrorIs(t, a.AnnounceRide(context.Background(), r), ErrNotAttached)
	assert.ErrorIs(t, a.NotifyUser(context.Background(), 42, "hi"), ErrNotAttached)

	p := &fakePusher{}
	a.Attach(p)
	require.NoError(t, a.AnnounceRide(context.Background(), r))
	require.NoError(t, a.NotifyUser(context.Background(), 42, "hi"))
	msgs := p.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, "-100123", msgs[0].to)
	assert.Equal(t, "42", msgs[1].to)

	silent := NewAnnouncer("")
	assert.NoError(t, silent.AnnounceRide(context.Background(), r))
}

func TestAnnouncementFitsOneMessage(t *testing.T) {
	// Every character of a maximal ride needs escaping.
	r := ride.Ride{
		OwnerID:   42,
		From:      strings.Repeat(".", ride.MaxLocationLen),
		To:        strings.Repeat("-", ride.MaxLocationLen),
		Capacity:  9,
		TimeRange: strings.Repeat("(", ride.MaxTimeRangeLen),
		Comment:   strings.Repeat("!", ride.MaxCommentLen),
		Status:    ride.StatusActive,
	}
	require.NoError(t, r.Validate())
	assert.Less(t, len(FormatAnnouncement(r)), 4096)
}

func TestParseRecipient(t *testing.T) {
	assert.Nil(t, ParseRecipient(" "))
	assert.Equal(t, "@rides", ParseRecipient("rides").Recipient())
	assert.Equal(t, "@rides", ParseRecipient("@rides").Recipient())
	assert.Equal(t, "-100500", ParseRecipient("-100500").Recipient())
}

type countingSweeper struct {
	expires atomic.Int32
	reaps   atomic.Int32
}

func (s *countingSweeper) ExpireRides(context.Context) (int, error) {
	s.expires.Add(1)
	return 1, nil
}

func (s *countingSweeper) ReapSessions(context.Context) (int, error) {
	s.reaps.Add(1)
	return 0, nil
}

func TestJanitorRunsAndStops(t *testing.T) {
	s := &countingSweeper{}
	j := NewJanitor(s, 5*time.Millisecond, 0)
	j.Start(context.Background())
	j.Start(context.Background())

	require.Eventually(t, func() bool { return s.expires.Load() >= 2 }, time.Second, time.Millisecond)
	j.Stop()
	after := s.expires.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, s.expires.Load())
	assert.Zero(t, s.reaps.Load())
	j.Stop()
}
