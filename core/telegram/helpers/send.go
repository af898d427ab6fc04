package helpers

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/m3rciful/ridesbot/core/logger"
	"github.com/m3rciful/ridesbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

var globalDispatcher atomic.Pointer[sender.Dispatcher]

// SetDispatcher wires the asynchronous sender used by helper functions.
// Passing nil makes every helper send synchronously.
func SetDispatcher(d *sender.Dispatcher) {
	globalDispatcher.Store(d)
}

// Pusher is the part of *tele.Bot needed to send outside an update,
// e.g. channel posts and user notifications from background jobs.
type Pusher interface {
	Send(to tele.Recipient, what any, opts ...any) (*tele.Message, error)
}

// enqueue hands run to the dispatcher, falling back to a direct call when the
// queue is saturated or already closed.
func enqueue(ctx context.Context, action, endpoint string, run func() error) error {
	disp := globalDispatcher.Load()
	if disp == nil {
		return run()
	}
	err := disp.Enqueue(ctx, action, endpoint, run)
	if errors.Is(err, sender.ErrQueueFull) || errors.Is(err, sender.ErrQueueClosed) {
		logger.Warn(ctx, "tg.sender", "queue.fallback",
			slog.String("action", action),
			slog.String("endpoint", endpoint),
			slog.String("err", err.Error()),
		)
		return run()
	}
	return err
}

// SendText sends raw text (no parse mode) to the current chat.
func SendText(c tele.Context, text string, markup *tele.ReplyMarkup) error {
	opts := &tele.SendOptions{ReplyMarkup: markup, DisableWebPagePreview: true}
	return enqueue(BuildContext(c), "send.text", "sendMessage", func() error {
		return c.Send(text, opts)
	})
}

// Push sends text to an arbitrary recipient outside of an update handler.
// A nil opts sends plain text.
func Push(ctx context.Context, p Pusher, to tele.Recipient, action, text string, opts *tele.SendOptions) error {
	if p == nil || to == nil {
		return errors.New("telegram: push without bot or recipient")
	}
	return enqueue(ctx, action, "sendMessage", func() error {
		var err error
		if opts != nil {
			_, err = p.Send(to, text, opts)
		} else {
			_, err = p.Send(to, text)
		}
		return err
	})
}

// ChatRecipient addresses a chat by "@username" or numeric id.
type ChatRecipient string

// Recipient implements tele.Recipient.
func (r ChatRecipient) Recipient() string { return string(r) }
