// Package bot adapts the ride service to Telegram: commands, inline
// buttons, free text while a wizard is open, and outbound channel posts.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tg "github.com/m3rciful/ridesbot/core/telegram"
	"github.com/m3rciful/ridesbot/core/telegram/callbacks"
	"github.com/m3rciful/ridesbot/core/telegram/commands"
	tghelpers "github.com/m3rciful/ridesbot/core/telegram/helpers"
	"github.com/m3rciful/ridesbot/core/telegram/keyboard"
	"github.com/m3rciful/ridesbot/rides/service"

	tele "gopkg.in/telebot.v4"
)

const (
	msgFallback    = "Send /create to publish a ride or /help to see what I can do."
	msgPrivateOnly = "Please message me in a private chat."
	msgAdminOnly   = "This command is for the bot administrator."
)

// Rides is the part of the service the handlers drive.
type Rides interface {
	Help(commands []string) service.Reply
	BeginCreate(ctx context.Context, userID int64) (service.Reply, error)
	InProgress(ctx context.Context, userID int64) bool
	HandleInput(ctx context.Context, userID int64, input string) (service.Reply, error)
	Skip(ctx context.Context, userID int64) (service.Reply, error)
	Confirm(ctx context.Context, userID int64, yes bool) (service.Reply, error)
	Cancel(ctx context.Context, userID int64) (service.Reply, error)
	List(ctx context.Context, userID int64, activeOnly bool) (service.Reply, error)
	Update(ctx context.Context, userID int64, args string) (service.Reply, error)
	Delete(ctx context.Context, userID int64, args string) (service.Reply, error)
	ExpireRides(ctx context.Context) (int, error)
	ReapSessions(ctx context.Context) (int, error)
}

// Handlers binds the ride service to a command registry.
type Handlers struct {
	rides Rides
	reg   *tg.Registry
}

// Register adds every ride command and callback to reg.
func Register(reg *tg.Registry, rides Rides) (*Handlers, error) {
	h := &Handlers{rides: rides, reg: reg}

	err := errors.Join(
		reg.RegisterCommand("/start", commands.Command{Handler: h.help, Description: "Start the bot", Hidden: true}),
		reg.RegisterCommand("/help", commands.Command{Handler: h.help, Description: "Show available commands"}),
		reg.RegisterCommand("/create", commands.Command{Handler: h.create, Description: "Publish a new ride", Aliases: []string{"new"}}),
		reg.RegisterCommand("/cancel", commands.Command{Handler: h.cancel, Description: "Stop creating a ride"}),
		reg.RegisterCommand("/list", commands.Command{Handler: h.listActive, Description: "Your active rides"}),
		reg.RegisterCommand("/list_all", commands.Command{Handler: h.listAll, Description: "All your rides"}),
		reg.RegisterCommand("/update", commands.Command{
			Handler:     h.update,
			Description: "Change a ride",
			Usage:       "<id> <field> <value>",
		}),
		reg.RegisterCommand("/delete", commands.Command{
			Handler:     h.delete,
			Description: "Cancel a ride, or remove it with hard",
			Usage:       "<id> [hard]",
		}),
		reg.RegisterCommand("/sweep", commands.Command{Handler: h.sweep, Description: "Run expiry and idle sweeps", AdminOnly: true}),
		reg.RegisterCallback(service.ActionConfirm, h.confirm),
		reg.RegisterCallback(service.ActionSkip, h.skip),
	)
	if err != nil {
		return nil, err
	}
	reg.SetTextFallback(func(c tele.Context) error {
		return tghelpers.SendText(c, msgFallback, nil)
	})
	return h, nil
}

// InProgress reports whether text from userID belongs to an open wizard.
func (h *Handlers) InProgress(ctx context.Context, userID int64) bool {
	return h.rides.InProgress(ctx, userID)
}

// Handle feeds a text message to the sender's wizard.
func (h *Handlers) Handle(c tele.Context) error {
	return h.respond(c, func(ctx context.Context, uid int64) (service.Reply, error) {
		return h.rides.HandleInput(ctx, uid, c.Text())
	})
}

// AdminRejected answers non-admin callers of admin commands.
func (h *Handlers) AdminRejected(c tele.Context) error {
	return tghelpers.SendText(c, msgAdminOnly, nil)
}

func (h *Handlers) help(c tele.Context) error {
	return send(c, h.rides.Help(h.reg.HelpLines()))
}

func (h *Handlers) create(c tele.Context) error {
	return h.respond(c, h.rides.BeginCreate)
}

func (h *Handlers) cancel(c tele.Context) error {
	return h.respond(c, h.rides.Cancel)
}

func (h *Handlers) listActive(c tele.Context) error {
	return h.respond(c, func(ctx context.Context, uid int64) (service.Reply, error) {
		return h.rides.List(ctx, uid, true)
	})
}

func (h *Handlers) listAll(c tele.Context) error {
	return h.respond(c, func(ctx context.Context, uid int64) (service.Reply, error) {
		return h.rides.List(ctx, uid, false)
	})
}

func (h *Handlers) update(c tele.Context) error {
	return h.respond(c, func(ctx context.Context, uid int64) (service.Reply, error) {
		return h.rides.Update(ctx, uid, commandArgs(c))
	})
}

func (h *Handlers) delete(c tele.Context) error {
	return h.respond(c, func(ctx context.Context, uid int64) (service.Reply, error) {
		return h.rides.Delete(ctx, uid, commandArgs(c))
	})
}

func (h *Handlers) sweep(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	expired, err := h.rides.ExpireRides(ctx)
	if err != nil {
		_ = tghelpers.SendText(c, "Expiry sweep failed, see logs.", nil)
		return err
	}
	reaped, err := h.rides.ReapSessions(ctx)
	if err != nil {
		_ = tghelpers.SendText(c, "Session sweep failed, see logs.", nil)
		return err
	}
	return tghelpers.SendText(c, fmt.Sprintf("Expired %d rides, dropped %d idle drafts.", expired, reaped), nil)
}

func (h *Handlers) confirm(c tele.Context) error {
	yes := strings.EqualFold(callbacks.Payload(c), "yes")
	return h.respond(c, func(ctx context.Context, uid int64) (service.Reply, error) {
		return h.rides.Confirm(ctx, uid, yes)
	})
}

func (h *Handlers) skip(c tele.Context) error {
	return h.respond(c, h.rides.Skip)
}

// respond runs fn for the sender in a private chat and sends its reply. The
// reply goes out even when fn fails so the user is never left without an answer.
func (h *Handlers) respond(c tele.Context, fn func(ctx context.Context, userID int64) (service.Reply, error)) error {
	if chat := c.Chat(); chat != nil && chat.Type != tele.ChatPrivate {
		return tghelpers.SendText(c, msgPrivateOnly, nil)
	}
	uid := tghelpers.SenderID(c)
	if uid == 0 {
		return nil
	}
	reply, err := fn(tghelpers.BuildContext(c), uid)
	if sendErr := send(c, reply); sendErr != nil && err == nil {
		err = sendErr
	}
	return err
}

func send(c tele.Context, r service.Reply) error {
	if r.Text == "" {
		return nil
	}
	return tghelpers.SendText(c, r.Text, Markup(r.Keyboard))
}

// Markup converts a transport-neutral keyboard into inline buttons.
func Markup(kb service.Keyboard) *tele.ReplyMarkup {
	rows := make([][]keyboard.InlineBtn, 0, len(kb))
	for _, row := range kb {
		btns := make([]keyboard.InlineBtn, 0, len(row))
		for _, b := range row {
			btns = append(btns, keyboard.InlineBtn{Text: b.Text, Unique: b.Action, Data: b.Payload})
		}
		rows = append(rows, btns)
	}
	return keyboard.InlineButtonsRows(rows...)
}

func commandArgs(c tele.Context) string {
	if m := c.Message(); m != nil {
		return strings.TrimSpace(m.Payload)
	}
	return ""
}
