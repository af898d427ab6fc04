package service

import (
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/m3rciful/ridesbot/rides/ride"
	"github.com/m3rciful/ridesbot/rides/wizard"
)

// Callback actions the transport maps inline buttons to.
const (
	ActionConfirm = "ride_confirm"
	ActionSkip    = "ride_skip"
)

// Button is an inline button; Action selects the handler and Payload its input.
type Button struct {
	Text    string
	Action  string
	Payload string
}

// Keyboard is rows of inline buttons.
type Keyboard [][]Button

// Reply is what the transport should send back to the user.
type Reply struct {
	Text     string
	Keyboard Keyboard
}

// maxMessageLen keeps replies under Telegram's 4096 UTF-16 unit message limit
// with some headroom for the transport's formatting.
const maxMessageLen = 4000

// messageLen measures s the way Telegram does, in UTF-16 code units.
func messageLen(s string) int {
	n := 0
	for _, r := range s {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}

// truncate cuts s to at most limit UTF-16 units, marking the cut with "…".
func truncate(s string, limit int) string {
	if messageLen(s) <= limit {
		return s
	}
	var b strings.Builder
	n := 0
	for _, r := range s {
		l := max(utf16.RuneLen(r), 1)
		if n+l > limit-1 {
			break
		}
		b.WriteRune(r)
		n += l
	}
	b.WriteString("…")
	return b.String()
}

func text(format string, args ...any) Reply {
	return Reply{Text: fmt.Sprintf(format, args...)}
}

const (
	msgStorageFailure = "Something went wrong on our side. Please try again later."
	msgCommitFailure  = "Could not publish your ride right now. Send \"yes\" to retry or /cancel to drop it."
	msgNoWizard       = "You have no ride draft open. Send /create to publish a ride."
	msgCancelled      = "Ride creation cancelled."
	msgNothingToStop  = "There is nothing to cancel."
	msgBusy           = "Your ride is being published, hold on a second."
	msgStaleButton    = "That button belongs to an earlier question."
)

var fieldLabels = map[string]string{
	ride.FieldFrom:      "Departure",
	ride.FieldTo:        "Destination",
	ride.FieldCapacity:  "Seats",
	ride.FieldTimeRange: "Time",
	ride.FieldComment:   "Comment",
	ride.FieldStatus:    "Status",
	ride.FieldConfirm:   "Confirmation",
}

func validationReply(ve *ride.ValidationError) string {
	label, ok := fieldLabels[ve.Field]
	if !ok {
		label = ve.Field
	}
	return fmt.Sprintf("⚠️ %s: %s.", label, ve.Reason)
}

func skipKeyboard() Keyboard {
	return Keyboard{{{Text: "Skip", Action: ActionSkip, Payload: "-"}}}
}

func confirmKeyboard() Keyboard {
	return Keyboard{{
		{Text: "✅ Publish", Action: ActionConfirm, Payload: "yes"},
		{Text: "❌ Discard", Action: ActionConfirm, Payload: "no"},
	}}
}

// prompt asks the question for step; draft feeds the confirmation summary.
func prompt(step wizard.Step, draft ride.NewRide) Reply {
	switch step {
	case wizard.AwaitingFrom:
		return Reply{Text: "Where are you departing from?"}
	case wizard.AwaitingTo:
		return Reply{Text: "Where are you heading?"}
	case wizard.AwaitingCapacity:
		return Reply{Text: "How many seats are free?"}
	case wizard.AwaitingTimeRange:
		return Reply{Text: "When are you leaving? For example 18:00-18:30. Send - to skip.", Keyboard: skipKeyboard()}
	case wizard.AwaitingComment:
		return Reply{Text: "Any comment for passengers? Send - to skip.", Keyboard: skipKeyboard()}
	case wizard.AwaitingConfirm:
		return Reply{Text: summarizeDraft(draft) + "\n\nPublish this ride? (yes/no)", Keyboard: confirmKeyboard()}
	}
	return Reply{Text: msgNoWizard}
}

func summarizeDraft(n ride.NewRide) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚗 %s → %s\n", n.From, n.To)
	fmt.Fprintf(&b, "Seats: %d", n.Capacity)
	if n.TimeRange != "" {
		fmt.Fprintf(&b, "\nTime: %s", n.TimeRange)
	}
	if n.Comment != "" {
		fmt.Fprintf(&b, "\nComment: %s", n.Comment)
	}
	return b.String()
}

// FormatRide renders one ride for list output.
func FormatRide(r ride.Ride) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚗 %s → %s [%s]\n", r.From, r.To, r.Status)
	fmt.Fprintf(&b, "Seats: %d", r.Capacity)
	if r.TimeRange != "" {
		fmt.Fprintf(&b, " · Time: %s", r.TimeRange)
	}
	if r.Comment != "" {
		fmt.Fprintf(&b, "\n💬 %s", r.Comment)
	}
	fmt.Fprintf(&b, "\nID: %s", r.ID)
	return b.String()
}
