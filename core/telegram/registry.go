package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/m3rciful/ridesbot/core/logger"
	"github.com/m3rciful/ridesbot/core/telegram/commands"

	tele "gopkg.in/telebot.v4"
)

var errInvalidRegistration = errors.New("telegram: invalid registration")

// Registry holds commands, their aliases and callback handlers. Command keys
// are lowercase with a leading slash, e.g. "/create".
type Registry struct {
	mu               sync.RWMutex
	commands         map[string]commands.Command
	aliases          map[string]string
	callbacks        map[string]tele.HandlerFunc
	callbackNotFound tele.HandlerFunc
	textFallback     tele.HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{
		commands:  make(map[string]commands.Command),
		aliases:   make(map[string]string),
		callbacks: make(map[string]tele.HandlerFunc),
		callbackNotFound: func(c tele.Context) error {
			return c.Respond(&tele.CallbackResponse{Text: "Unsupported action"})
		},
	}
}

// CommandKey normalizes a command or alias to its registry key.
func CommandKey(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	return name
}

// RegisterCommand adds cmd under name, which must start with a slash.
// Names and aliases share one namespace.
func (r *Registry) RegisterCommand(name string, cmd commands.Command) error {
	if !strings.HasPrefix(name, "/") || cmd.Handler == nil || cmd.Description == "" {
		return r.refuse("command", name, fmt.Errorf("%w: command %q", errInvalidRegistration, name))
	}
	key := CommandKey(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	names := append([]string{key}, aliasKeys(cmd.Aliases)...)
	for _, n := range names {
		if r.taken(n) {
			return r.refuse("command", n, fmt.Errorf("telegram: command %s already registered", n))
		}
	}
	r.commands[key] = cmd
	for _, alias := range names[1:] {
		r.aliases[alias] = key
	}
	return nil
}

func aliasKeys(aliases []string) []string {
	keys := make([]string, 0, len(aliases))
	for _, a := range aliases {
		keys = append(keys, CommandKey(a))
	}
	return keys
}

func (r *Registry) taken(key string) bool {
	_, cmd := r.commands[key]
	_, alias := r.aliases[key]
	return cmd || alias
}

func (r *Registry) refuse(kind, name string, err error) error {
	logger.Warn(context.Background(), "tg.wire", "register.skip",
		slog.String("op", kind),
		slog.String("payload", name),
		slog.String("err", err.Error()),
	)
	return err
}

// ListCommands returns menu entries sorted by name, without the slash as
// Telegram expects. visibleOnly drops hidden and admin commands.
func (r *Registry) ListCommands(visibleOnly bool) []tele.Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]tele.Command, 0, len(r.commands))
	for _, key := range slices.Sorted(maps.Keys(r.commands)) {
		meta := r.commands[key]
		if visibleOnly && (meta.Hidden || meta.AdminOnly) {
			continue
		}
		list = append(list, tele.Command{Text: strings.TrimPrefix(key, "/"), Description: meta.Description})
	}
	return list
}

// HelpLines renders "/cmd usage - description" for every visible command.
func (r *Registry) HelpLines() []string {
	menu := r.ListCommands(true)
	r.mu.RLock()
	defer r.mu.RUnlock()
	lines := make([]string, 0, len(menu))
	for _, c := range menu {
		head := "/" + c.Text
		if usage := r.commands[head].Usage; usage != "" {
			head += " " + usage
		}
		lines = append(lines, head+" - "+c.Description)
	}
	return lines
}

// LookupCommand resolves the first word of text, minus any @botname suffix,
// to a command by name or alias. Words without a slash never match.
func (r *Registry) LookupCommand(text string) (string, commands.Command, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", commands.Command{}, false
	}
	word, _, _ := strings.Cut(fields[0], "@")
	key := CommandKey(word)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if target, ok := r.aliases[key]; ok {
		key = target
	}
	cmd, ok := r.commands[key]
	if !ok {
		return "", commands.Command{}, false
	}
	return key, cmd, true
}

// Commands returns a copy of the registered commands keyed by name.
func (r *Registry) Commands() map[string]commands.Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.commands)
}

// RegisterCallback maps an inline button's unique key to handler.
func (r *Registry) RegisterCallback(key string, handler tele.HandlerFunc) error {
	if key == "" || handler == nil {
		return r.refuse("callback", key, fmt.Errorf("%w: callback %q", errInvalidRegistration, key))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.callbacks[key]; exists {
		return r.refuse("callback", key, fmt.Errorf("telegram: callback %s already registered", key))
	}
	r.callbacks[key] = handler
	return nil
}

func (r *Registry) GetCallback(key string) (tele.HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.callbacks[key]
	return h, ok
}

// ListCallbacks returns the registered callback keys, sorted.
func (r *Registry) ListCallbacks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.callbacks))
}

func (r *Registry) CallbackNotFound() tele.HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.callbackNotFound
}

// SetTextFallback handles text that is neither a command nor conversation input.
func (r *Registry) SetTextFallback(h tele.HandlerFunc) {
	r.mu.Lock()
	r.textFallback = h
	r.mu.Unlock()
}

func (r *Registry) TextFallback() tele.HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.textFallback
}

// InitBotCommands publishes the visible commands as the bot menu.
func InitBotCommands(bot *tele.Bot, reg *Registry) {
	list := reg.ListCommands(true)
	if err := bot.SetCommands(list); err != nil {
		logger.Error(context.Background(), "tg.wire", "register.commands",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return
	}
	logger.Info(context.Background(), "tg.wire", "register.commands",
		slog.String("status", "ok"),
		slog.Int("count", len(list)),
	)
}
