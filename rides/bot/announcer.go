package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/m3rciful/ridesbot/core/telegram/format"
	tghelpers "github.com/m3rciful/ridesbot/core/telegram/helpers"
	"github.com/m3rciful/ridesbot/rides/ride"

	tele "gopkg.in/telebot.v4"
)

// ErrNotAttached is returned while the bot has not started yet.
var ErrNotAttached = errors.New("bot: announcer not attached")

// Announcer posts rides to the announcement channel and sends notices to
// users outside of an update. The bot is attached once it is running.
type Announcer struct {
	channel tele.Recipient

	mu     sync.RWMutex
	pusher tghelpers.Pusher
}

// NewAnnouncer targets channel, given as "@name" or a numeric chat id.
// An empty channel turns channel posts into no-ops.
func NewAnnouncer(channel string) *Announcer {
	return &Announcer{channel: ParseRecipient(channel)}
}

// ParseRecipient turns a configured chat reference into a recipient.
func ParseRecipient(ref string) tele.Recipient {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return tele.ChatID(id)
	}
	if !strings.HasPrefix(ref, "@") {
		ref = "@" + ref
	}
	return tghelpers.ChatRecipient(ref)
}

// Attach sets the sender used for outgoing messages.
func (a *Announcer) Attach(p tghelpers.Pusher) {
	a.mu.Lock()
	a.pusher = p
	a.mu.Unlock()
}

func (a *Announcer) current() tghelpers.Pusher {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.pusher
}

// AnnounceRide posts r to the channel.
func (a *Announcer) AnnounceRide(ctx context.Context, r ride.Ride) error {
	if a.channel == nil {
		return nil
	}
	p := a.current()
	if p == nil {
		return ErrNotAttached
	}
	opts := &tele.SendOptions{ParseMode: tele.ModeMarkdownV2, DisableWebPagePreview: true}
	return tghelpers.Push(ctx, p, a.channel, "announce.ride", FormatAnnouncement(r), opts)
}

// NotifyUser sends text to the user's private chat.
func (a *Announcer) NotifyUser(ctx context.Context, userID int64, text string) error {
	p := a.current()
	if p == nil {
		return ErrNotAttached
	}
	return tghelpers.Push(ctx, p, tele.ChatID(userID), "notify.user", text, nil)
}

// FormatAnnouncement renders the channel post in MarkdownV2.
func FormatAnnouncement(r ride.Ride) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚗 *%s → %s*\n", format.MDV2(r.From), format.MDV2(r.To))
	fmt.Fprintf(&b, "Seats: %d", r.Capacity)
	if r.TimeRange != "" {
		fmt.Fprintf(&b, "\nTime: %s", format.MDV2(r.TimeRange))
	}
	if r.Comment != "" {
		fmt.Fprintf(&b, "\n💬 %s", format.MDV2(r.Comment))
	}
	fmt.Fprintf(&b, "\n\n[Contact the driver](tg://user?id=%d)", r.OwnerID)
	return b.String()
}
