// Package wizard implements the ride-creation conversation as a pure
// transition function over a per-user Session.
package wizard

import (
	"strconv"
	"strings"
	"time"

	"github.com/m3rciful/ridesbot/rides/ride"
)

// Step is the question the wizard is currently waiting on.
type Step string

const (
	AwaitingFrom      Step = "awaiting_from"
	AwaitingTo        Step = "awaiting_to"
	AwaitingCapacity  Step = "awaiting_capacity"
	AwaitingTimeRange Step = "awaiting_time_range"
	AwaitingComment   Step = "awaiting_comment"
	AwaitingConfirm   Step = "awaiting_confirm"
)

// Valid reports whether s is a known step.
func (s Step) Valid() bool {
	switch s {
	case AwaitingFrom, AwaitingTo, AwaitingCapacity, AwaitingTimeRange, AwaitingComment, AwaitingConfirm:
		return true
	}
	return false
}

// Optional reports whether the step accepts an empty answer.
func (s Step) Optional() bool {
	return s == AwaitingTimeRange || s == AwaitingComment
}

// SkipInputs are the answers treated as "leave empty" for optional steps.
var SkipInputs = []string{"-", "/skip"}

// CancelInput aborts the wizard from any step.
const CancelInput = "/cancel"

// Session is one user's in-progress ride. Collected fields stay nil until
// their step has been passed.
type Session struct {
	UserID     int64     `json:"user_id"`
	Step       Step      `json:"step"`
	From       *string   `json:"from,omitempty"`
	To         *string   `json:"to,omitempty"`
	Capacity   *int      `json:"capacity,omitempty"`
	TimeRange  *string   `json:"time_range,omitempty"`
	Comment    *string   `json:"comment,omitempty"`
	Committing bool      `json:"committing,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// New returns a fresh session waiting for the departure point.
func New(userID int64, now time.Time) *Session {
	return &Session{UserID: userID, Step: AwaitingFrom, StartedAt: now, UpdatedAt: now}
}

// Clone returns a deep copy so callers never share pointer fields.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.From = cloneString(s.From)
	c.To = cloneString(s.To)
	c.TimeRange = cloneString(s.TimeRange)
	c.Comment = cloneString(s.Comment)
	if s.Capacity != nil {
		v := *s.Capacity
		c.Capacity = &v
	}
	return &c
}

// Draft assembles the collected fields into a NewRide. Missing fields are zero.
func (s *Session) Draft() ride.NewRide {
	n := ride.NewRide{OwnerID: s.UserID}
	if s.From != nil {
		n.From = *s.From
	}
	if s.To != nil {
		n.To = *s.To
	}
	if s.Capacity != nil {
		n.Capacity = *s.Capacity
	}
	if s.TimeRange != nil {
		n.TimeRange = *s.TimeRange
	}
	if s.Comment != nil {
		n.Comment = *s.Comment
	}
	return n
}

// ReleaseCommit clears the in-flight flag after a failed create.
func (s *Session) ReleaseCommit() {
	s.Committing = false
}

// Outcome classifies what Advance did with the input.
type Outcome int

const (
	// Advanced moved the session to the next step.
	Advanced Outcome = iota
	// Rejected kept the step unchanged; Err explains which field failed.
	Rejected
	// Commit means the user confirmed; Ride is ready for the store.
	Commit
	// Aborted means the session must be destroyed without storing anything.
	Aborted
	// Busy means a confirm is already being committed.
	Busy
)

func (o Outcome) String() string {
	switch o {
	case Advanced:
		return "advanced"
	case Rejected:
		return "rejected"
	case Commit:
		return "commit"
	case Aborted:
		return "aborted"
	case Busy:
		return "busy"
	}
	return "unknown"
}

// Result is the effect of one Advance call. Ride carries the draft when the
// session reaches AwaitingConfirm and the final values on Commit. StartedAt
// identifies the committed session so the caller can end exactly that one.
type Result struct {
	Outcome   Outcome
	Step      Step
	Err       *ride.ValidationError
	Ride      ride.NewRide
	StartedAt time.Time
}

// Advance applies input to s in place. While a confirm is being committed
// every input, /cancel included, yields Busy.
func Advance(s *Session, input string, now time.Time) Result {
	text := strings.TrimSpace(input)
	if s.Committing {
		return Result{Outcome: Busy, Step: s.Step}
	}
	if isCancel(text) {
		return Result{Outcome: Aborted, Step: s.Step}
	}

	switch s.Step {
	case AwaitingFrom:
		if res, bad := checkLocation(s, ride.FieldFrom, text, "please send the departure point"); bad {
			return res
		}
		s.From = &text
		return s.moveTo(AwaitingTo, now)

	case AwaitingTo:
		if res, bad := checkLocation(s, ride.FieldTo, text, "please send the destination"); bad {
			return res
		}
		s.To = &text
		return s.moveTo(AwaitingCapacity, now)

	case AwaitingCapacity:
		n, err := strconv.Atoi(text)
		if err != nil || n < 1 {
			return reject(s, ride.FieldCapacity, "must be a whole number of at least 1")
		}
		s.Capacity = &n
		return s.moveTo(AwaitingTimeRange, now)

	case AwaitingTimeRange:
		v := optional(text)
		if err := ride.ValidateText(ride.FieldTimeRange, v); err != nil {
			return rejectErr(s, err)
		}
		s.TimeRange = &v
		return s.moveTo(AwaitingComment, now)

	case AwaitingComment:
		v := optional(text)
		if err := ride.ValidateText(ride.FieldComment, v); err != nil {
			return rejectErr(s, err)
		}
		s.Comment = &v
		res := s.moveTo(AwaitingConfirm, now)
		res.Ride = s.Draft()
		return res

	case AwaitingConfirm:
		yes, ok := ParseConfirm(text)
		if !ok {
			return reject(s, ride.FieldConfirm, "answer yes or no")
		}
		if !yes {
			return Result{Outcome: Aborted, Step: s.Step}
		}
		draft := s.Draft()
		if err := draft.Validate(); err != nil {
			return rejectErr(s, err)
		}
		s.Committing = true
		s.UpdatedAt = now
		return Result{Outcome: Commit, Step: s.Step, Ride: draft, StartedAt: s.StartedAt}
	}

	// An unknown step means the stored session is corrupt; start over.
	return Result{Outcome: Aborted, Step: s.Step}
}

// ParseConfirm maps a confirmation answer; ok is false for anything else.
func ParseConfirm(text string) (yes bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "yes", "y", "да":
		return true, true
	case "no", "n", "нет":
		return false, true
	}
	return false, false
}

func (s *Session) moveTo(next Step, now time.Time) Result {
	s.Step = next
	s.UpdatedAt = now
	return Result{Outcome: Advanced, Step: next}
}

func reject(s *Session, field, reason string) Result {
	return Result{Outcome: Rejected, Step: s.Step, Err: ride.NewValidationError(field, reason)}
}

func rejectErr(s *Session, err error) Result {
	ve, _ := ride.AsValidation(err)
	return Result{Outcome: Rejected, Step: s.Step, Err: ve}
}

// checkLocation rejects empty answers, command-looking answers such as /skip
// and answers over the length limit.
func checkLocation(s *Session, field, text, prompt string) (Result, bool) {
	switch {
	case text == "":
		return reject(s, field, prompt), true
	case strings.HasPrefix(text, "/"):
		return reject(s, field, "looks like a command, send a place name"), true
	}
	if err := ride.ValidateText(field, text); err != nil {
		return rejectErr(s, err), true
	}
	return Result{}, false
}

func optional(text string) string {
	for _, skip := range SkipInputs {
		if strings.EqualFold(text, skip) {
			return ""
		}
	}
	return text
}

func isCancel(text string) bool {
	cmd, _, _ := strings.Cut(text, "@")
	return strings.EqualFold(cmd, CancelInput)
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
