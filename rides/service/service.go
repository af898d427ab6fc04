// Package service implements the ride use cases independently of the chat
// transport: the creation wizard, listing, updates, deletes and the periodic
// expiry and idle-session sweeps.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/m3rciful/ridesbot/core/logger"
	"github.com/m3rciful/ridesbot/rides/events"
	"github.com/m3rciful/ridesbot/rides/ride"
	"github.com/m3rciful/ridesbot/rides/session"
	"github.com/m3rciful/ridesbot/rides/wizard"
)

const component = "service.rides"

// Announcer is the outbound side of the transport.
type Announcer interface {
	// AnnounceRide posts a freshly published ride to the shared channel.
	AnnounceRide(ctx context.Context, r ride.Ride) error
	// NotifyUser sends a plain message to a user's private chat.
	NotifyUser(ctx context.Context, userID int64, text string) error
}

// Config tunes list output and the expiry policy.
type Config struct {
	// ExpireAfter is how long a ride stays active after creation; 0 disables expiry.
	ExpireAfter time.Duration
	// ListLimit caps the number of rides rendered by List.
	ListLimit int
	// IdleTimeout is only used to word the idle-session notice.
	IdleTimeout time.Duration
}

// Service wires the ride store, the session registry and the transport.
type Service struct {
	store     ride.Store
	sessions  *session.Registry
	announcer Announcer
	events    events.Publisher
	cfg       Config
	now       func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithEvents sets the ride event publisher.
func WithEvents(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.events = p
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds a Service.
func New(store ride.Store, sessions *session.Registry, announcer Announcer, cfg Config, opts ...Option) *Service {
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = 20
	}
	s := &Service{
		store:     store,
		sessions:  sessions,
		announcer: announcer,
		events:    events.Noop{},
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Help introduces the bot; commands are pre-rendered "/cmd - description" lines.
func (s *Service) Help(commands []string) Reply {
	var b strings.Builder
	b.WriteString("Hi! I help drivers share free seats.\n\n")
	b.WriteString("Publish a ride with /create and I will post it to the channel. ")
	b.WriteString("You can list, edit and withdraw your own rides at any time.")
	if len(commands) > 0 {
		b.WriteString("\n\n")
		b.WriteString(strings.Join(commands, "\n"))
	}
	return Reply{Text: b.String()}
}

// BeginCreate opens a new wizard, restarting any open one.
func (s *Service) BeginCreate(ctx context.Context, userID int64) (Reply, error) {
	if _, err := s.sessions.Begin(ctx, userID); err != nil {
		logger.Error(ctx, component, "wizard.begin",
			slog.String("status", "fail"),
			slog.Int64("user_id", userID),
			slog.String("err", err.Error()),
		)
		return Reply{Text: msgStorageFailure}, ride.Storage("session begin", err)
	}
	r := prompt(wizard.AwaitingFrom, ride.NewRide{})
	r.Text = "Let's publish a ride. Send /cancel at any time to stop.\n\n" + r.Text
	return r, nil
}

// InProgress reports whether the user has an open wizard.
func (s *Service) InProgress(ctx context.Context, userID int64) bool {
	return s.sessions.InProgress(ctx, userID)
}

// HandleInput feeds one text message to the user's wizard.
func (s *Service) HandleInput(ctx context.Context, userID int64, input string) (Reply, error) {
	res, err := s.sessions.Advance(ctx, userID, input)
	return s.handleResult(ctx, userID, res, err)
}

// Skip answers the current optional question with an empty value. Pressed on
// any other step it only repeats the current question.
func (s *Service) Skip(ctx context.Context, userID int64) (Reply, error) {
	res, err := s.sessions.AdvanceAt(ctx, userID, wizard.Step.Optional, wizard.SkipInputs[0])
	return s.handleResult(ctx, userID, res, err)
}

// Confirm answers the final publish question from the inline buttons.
func (s *Service) Confirm(ctx context.Context, userID int64, yes bool) (Reply, error) {
	input := "no"
	if yes {
		input = "yes"
	}
	atConfirm := func(st wizard.Step) bool { return st == wizard.AwaitingConfirm }
	res, err := s.sessions.AdvanceAt(ctx, userID, atConfirm, input)
	return s.handleResult(ctx, userID, res, err)
}

func (s *Service) handleResult(ctx context.Context, userID int64, res wizard.Result, err error) (Reply, error) {
	if errors.Is(err, session.ErrNoSession) {
		return Reply{Text: msgNoWizard}, nil
	}
	if errors.Is(err, session.ErrStaleStep) {
		again := prompt(res.Step, res.Ride)
		again.Text = msgStaleButton + "\n" + again.Text
		return again, nil
	}
	if err != nil {
		logger.Error(ctx, component, "wizard.advance",
			slog.String("status", "fail"),
			slog.Int64("user_id", userID),
			slog.String("err", err.Error()),
		)
		return Reply{Text: msgStorageFailure}, ride.Storage("session advance", err)
	}

	switch res.Outcome {
	case wizard.Advanced:
		return prompt(res.Step, res.Ride), nil
	case wizard.Rejected:
		again := prompt(res.Step, res.Ride)
		if res.Step == wizard.AwaitingConfirm {
			again = Reply{Text: "Publish this ride? (yes/no)", Keyboard: confirmKeyboard()}
		}
		again.Text = validationReply(res.Err) + "\n" + again.Text
		return again, nil
	case wizard.Commit:
		return s.commit(ctx, userID, res.Ride, res.StartedAt)
	case wizard.Aborted:
		logger.Info(ctx, component, "wizard.aborted",
			slog.String("status", "ok"),
			slog.Int64("user_id", userID),
			slog.String("step", string(res.Step)),
		)
		return Reply{Text: msgCancelled}, nil
	case wizard.Busy:
		return Reply{Text: msgBusy}, nil
	}
	return Reply{Text: msgNoWizard}, nil
}

func (s *Service) commit(ctx context.Context, userID int64, draft ride.NewRide, startedAt time.Time) (Reply, error) {
	id, err := s.store.Create(ctx, draft)
	if err != nil {
		if relErr := s.sessions.ReleaseCommit(ctx, userID); relErr != nil {
			logger.Warn(ctx, component, "wizard.release",
				slog.String("status", "fail"),
				slog.Int64("user_id", userID),
				slog.String("err", relErr.Error()),
			)
		}
		if ve, ok := ride.AsValidation(err); ok {
			return Reply{Text: validationReply(ve) + "\nSend /create to start over."}, nil
		}
		logger.Error(ctx, component, "ride.create",
			slog.String("status", "fail"),
			slog.Int64("owner_id", userID),
			slog.String("err", err.Error()),
		)
		return Reply{Text: msgCommitFailure}, err
	}

	if err := s.sessions.Finish(ctx, userID, startedAt); err != nil {
		logger.Warn(ctx, component, "wizard.end",
			slog.String("status", "fail"),
			slog.Int64("user_id", userID),
			slog.String("err", err.Error()),
		)
	}

	now := s.now().UTC()
	created, ok := s.findRide(ctx, userID, id)
	if !ok {
		draft = draft.Normalize()
		created = ride.Ride{
			ID:        id,
			OwnerID:   userID,
			From:      draft.From,
			To:        draft.To,
			Capacity:  draft.Capacity,
			TimeRange: draft.TimeRange,
			Comment:   draft.Comment,
			Status:    ride.StatusActive,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	logger.Info(ctx, component, "ride.created",
		slog.String("status", "ok"),
		slog.String("ride_id", id),
		slog.Int64("owner_id", userID),
	)
	s.publish(ctx, events.For(events.RideCreated, created, now))

	reply := fmt.Sprintf("✅ Your ride is published.\nID: %s", id)
	if s.announcer != nil {
		if err := s.announcer.AnnounceRide(ctx, created); err != nil {
			logger.Warn(ctx, component, "ride.announce",
				slog.String("status", "fail"),
				slog.String("ride_id", id),
				slog.String("err", err.Error()),
			)
			reply += "\nThe channel post is delayed, it will show up shortly."
		}
	}
	return Reply{Text: reply}, nil
}

// Cancel aborts the user's open wizard.
func (s *Service) Cancel(ctx context.Context, userID int64) (Reply, error) {
	res, err := s.sessions.Advance(ctx, userID, wizard.CancelInput)
	if errors.Is(err, session.ErrNoSession) {
		return Reply{Text: msgNothingToStop}, nil
	}
	if err != nil {
		return Reply{Text: msgStorageFailure}, ride.Storage("session cancel", err)
	}
	switch res.Outcome {
	case wizard.Aborted:
		return Reply{Text: msgCancelled}, nil
	case wizard.Busy:
		return Reply{Text: msgBusy}, nil
	}
	return Reply{Text: msgNothingToStop}, nil
}

// List renders the user's rides, newest first.
func (s *Service) List(ctx context.Context, userID int64, activeOnly bool) (Reply, error) {
	rides, err := s.store.Fetch(ctx, userID, activeOnly)
	if err != nil {
		return Reply{Text: msgStorageFailure}, err
	}
	if len(rides) == 0 {
		if activeOnly {
			return Reply{Text: "You have no active rides. Send /create to publish one."}, nil
		}
		return Reply{Text: "You have not published any rides yet."}, nil
	}

	title := "Your active rides:"
	if !activeOnly {
		title = "All your rides:"
	}
	limit := min(len(rides), s.cfg.ListLimit)
	// Room for the "… and N more" footer.
	budget := maxMessageLen - 32
	var b strings.Builder
	b.WriteString(title)
	shown := 0
	for _, r := range rides[:limit] {
		entry := "\n\n" + FormatRide(r)
		if shown > 0 && messageLen(b.String())+messageLen(entry) > budget {
			break
		}
		b.WriteString(entry)
		shown++
	}
	out := truncate(b.String(), budget)
	if extra := len(rides) - shown; extra > 0 {
		out += fmt.Sprintf("\n\n… and %d more", extra)
	}
	return Reply{Text: out}, nil
}

const (
	usageDelete = "Usage: /delete <ride_id> [hard]"
	usageUpdate = "Usage: /update <ride_id> <from|to|capacity|time|comment|status> <value>"
)

// Delete handles "/delete <ride_id> [hard]"; the default is a soft delete.
func (s *Service) Delete(ctx context.Context, userID int64, args string) (Reply, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 || len(fields) > 2 {
		return Reply{Text: usageDelete}, nil
	}
	rideID := fields[0]
	hard := false
	if len(fields) == 2 {
		if !strings.EqualFold(fields[1], "hard") {
			return Reply{Text: usageDelete}, nil
		}
		hard = true
	}

	if !hard {
		if cur, found := s.findRide(ctx, userID, rideID); found && cur.Status == ride.StatusCancelled {
			return text("Ride %s is already cancelled.", rideID), nil
		}
	}
	ok, err := s.store.Delete(ctx, userID, rideID, !hard)
	if err != nil {
		return Reply{Text: msgStorageFailure}, err
	}
	if !ok {
		return text("Ride %s was not found among your rides.", rideID), nil
	}

	evType := events.RideCancelled
	msg := "Ride %s is cancelled. It stays in /list_all."
	if hard {
		evType = events.RideDeleted
		msg = "Ride %s is deleted."
	}
	s.publish(ctx, events.Event{Type: evType, RideID: rideID, OwnerID: userID, OccurredAt: s.now().UTC()})
	logger.Info(ctx, component, "ride.delete",
		slog.String("status", "ok"),
		slog.String("ride_id", rideID),
		slog.Int64("owner_id", userID),
		slog.Bool("hard", hard),
	)
	return text(msg, rideID), nil
}

// Update handles "/update <ride_id> <field> <value>".
func (s *Service) Update(ctx context.Context, userID int64, args string) (Reply, error) {
	fields := strings.Fields(args)
	if len(fields) < 3 {
		return Reply{Text: usageUpdate}, nil
	}
	rideID, field := fields[0], strings.ToLower(fields[1])
	value := strings.Join(fields[2:], " ")

	patch, err := parsePatch(field, value)
	if err != nil {
		if ve, ok := ride.AsValidation(err); ok {
			return Reply{Text: validationReply(ve)}, nil
		}
		return Reply{Text: usageUpdate}, nil
	}

	ok, err := s.store.Update(ctx, userID, rideID, patch)
	if ve, isValidation := ride.AsValidation(err); isValidation {
		return Reply{Text: validationReply(ve)}, nil
	}
	if err != nil {
		return Reply{Text: msgStorageFailure}, err
	}
	if !ok {
		return text("Ride %s was not found among your rides.", rideID), nil
	}

	evType := events.RideUpdated
	if patch.Status != nil && *patch.Status == ride.StatusCancelled {
		evType = events.RideCancelled
	}
	if updated, found := s.findRide(ctx, userID, rideID); found {
		s.publish(ctx, events.For(evType, updated, s.now()))
	}
	return text("Ride %s is updated.", rideID), nil
}

var errUnknownField = errors.New("unknown field")

func parsePatch(field, value string) (ride.Patch, error) {
	var p ride.Patch
	switch field {
	case "from":
		p.From = &value
	case "to":
		p.To = &value
	case "capacity", "seats":
		n, err := strconv.Atoi(value)
		if err != nil {
			return p, ride.NewValidationError(ride.FieldCapacity, "must be a whole number of at least 1")
		}
		p.Capacity = &n
	case "time", "time_range":
		v := clearable(value)
		p.TimeRange = &v
	case "comment":
		v := clearable(value)
		p.Comment = &v
	case "status":
		st, ok := ride.ParseStatus(value)
		if !ok {
			return p, ride.NewValidationError(ride.FieldStatus, "must be one of active, cancelled, expired")
		}
		p.Status = &st
	default:
		return p, errUnknownField
	}
	return p, p.Validate()
}

func clearable(v string) string {
	for _, skip := range wizard.SkipInputs {
		if v == skip {
			return ""
		}
	}
	return v
}

func (s *Service) findRide(ctx context.Context, ownerID int64, rideID string) (ride.Ride, bool) {
	rides, err := s.store.Fetch(ctx, ownerID, false)
	if err != nil {
		return ride.Ride{}, false
	}
	for _, r := range rides {
		if r.ID == rideID {
			return r, true
		}
	}
	return ride.Ride{}, false
}

// ExpireRides marks rides older than the configured lifetime as expired and
// tells their owners. It returns the number of expired rides.
func (s *Service) ExpireRides(ctx context.Context) (int, error) {
	if s.cfg.ExpireAfter <= 0 {
		return 0, nil
	}
	now := s.now()
	expired, err := s.store.ExpireBefore(ctx, now.Add(-s.cfg.ExpireAfter))
	if err != nil {
		logger.Error(ctx, component, "ride.expire",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return 0, err
	}
	for _, r := range expired {
		s.publish(ctx, events.For(events.RideExpired, r, now))
		s.notify(ctx, r.OwnerID, fmt.Sprintf("Your ride %s → %s has expired.\nID: %s", r.From, r.To, r.ID))
	}
	if len(expired) > 0 {
		logger.Info(ctx, component, "ride.expire",
			slog.String("status", "ok"),
			slog.Int("expired", len(expired)),
		)
	}
	return len(expired), nil
}

// ReapSessions drops idle wizards and tells their users. No ride is created
// for a reaped session.
func (s *Service) ReapSessions(ctx context.Context) (int, error) {
	reaped, err := s.sessions.Sweep(ctx)
	if err != nil {
		logger.Error(ctx, component, "wizard.sweep",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return 0, err
	}
	msg := "Your ride draft was dropped after a period of inactivity. Send /create to start again."
	if s.cfg.IdleTimeout > 0 {
		msg = fmt.Sprintf("Your ride draft was dropped after %s of inactivity. Send /create to start again.",
			s.cfg.IdleTimeout.Round(time.Minute))
	}
	for _, userID := range reaped {
		s.notify(ctx, userID, msg)
	}
	return len(reaped), nil
}

func (s *Service) notify(ctx context.Context, userID int64, msg string) {
	if s.announcer == nil {
		return
	}
	if err := s.announcer.NotifyUser(ctx, userID, msg); err != nil {
		logger.Warn(ctx, component, "user.notify",
			slog.String("status", "fail"),
			slog.Int64("user_id", userID),
			slog.String("err", err.Error()),
		)
	}
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	if err := s.events.Publish(ctx, ev); err != nil {
		logger.Warn(ctx, component, "event.publish",
			slog.String("status", "fail"),
			slog.String("type", string(ev.Type)),
			slog.String("ride_id", ev.RideID),
			slog.String("err", err.Error()),
		)
	}
}
