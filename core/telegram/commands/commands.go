// Package commands describes bot commands for the registry and menu.
package commands

import (
	tele "gopkg.in/telebot.v4"
)

// Command represents a bot command with its handler, description, and metadata.
type Command struct {
	Handler     tele.HandlerFunc
	Description string
	// Usage lists the arguments shown in help, e.g. "<id> [hard]".
	Usage     string
	AdminOnly bool
	Hidden    bool
	Aliases   []string
}
