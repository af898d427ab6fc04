package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/ridesbot/rides/events"
	"github.com/m3rciful/ridesbot/rides/ride"
	"github.com/m3rciful/ridesbot/rides/session"
	"github.com/m3rciful/ridesbot/rides/store"
)

// recordingStore wraps the memory store, records creates and can fail them.
type recordingStore struct {
	*store.Memory
	mu        sync.Mutex
	creates   []ride.NewRide
	failNext  int
	createErr error
	// gate, when set, holds every Create until it is closed; entered
	// receives one value per held call.
	gate    chan struct{}
	entered chan struct{}
}

func (s *recordingStore) Create(ctx context.Context, n ride.NewRide) (string, error) {
	s.mu.Lock()
	s.creates = append(s.creates, n)
	if s.failNext > 0 {
		s.failNext--
		s.mu.Unlock()
		return "", ride.Storage("create", s.createErr)
	}
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		s.entered <- struct{}{}
		<-gate
	}
	return s.Memory.Create(ctx, n)
}

// holdCreates makes Create block until the returned release is called.
func (s *recordingStore) holdCreates() (release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
	s.entered = make(chan struct{}, 4)
	gate := s.gate
	return func() { close(gate) }
}

func (s *recordingStore) createCalls() []ride.NewRide {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ride.NewRide(nil), s.creates...)
}

type fakeAnnouncer struct {
	mu        sync.Mutex
	announced []ride.Ride
	notified  map[int64][]string
	fail      bool
}

func (a *fakeAnnouncer) AnnounceRide(_ context.Context, r ride.Ride) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return errors.New("channel unavailable")
	}
	a.announced = append(a.announced, r)
	return nil
}

func (a *fakeAnnouncer) NotifyUser(_ context.Context, userID int64, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.notified == nil {
		a.notified = make(map[int64][]string)
	}
	a.notified[userID] = append(a.notified[userID], text)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	svc       *Service
	store     *recordingStore
	sessions  *session.Registry
	announcer *fakeAnnouncer
	events    *recordingPublisher
	clock     *testClock
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
	st := &recordingStore{Memory: store.NewMemory(store.WithClock(clock.Now)), createErr: errors.New("db down")}
	sessions := session.NewMemoryRegistry(30*time.Minute, clock.Now)
	ann := &fakeAnnouncer{}
	pub := &recordingPublisher{}
	svc := New(st, sessions, ann, Config{ExpireAfter: 24 * time.Hour, ListLimit: 2, IdleTimeout: 30 * time.Minute},
		WithEvents(pub), WithClock(clock.Now))
	return &fixture{svc: svc, store: st, sessions: sessions, announcer: ann, events: pub, clock: clock}
}

func (f *fixture) say(t *testing.T, userID int64, inputs ...string) Reply {
	t.Helper()
	var last Reply
	for _, in := range inputs {
		r, err := f.svc.HandleInput(context.Background(), userID, in)
		require.NoError(t, err, "input %q", in)
		last = r
	}
	return last
}

func TestWizardCommitCreatesExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.BeginCreate(ctx, 1)
	require.NoError(t, err)
	confirm := f.say(t, 1, "Vake", "Airport", "3", "08:00-09:00", "no pets")
	assert.Contains(t, confirm.Text, "Vake → Airport")
	require.Len(t, confirm.Keyboard, 1)
	assert.Equal(t, ActionConfirm, confirm.Keyboard[0][0].Action)

	done := f.say(t, 1, "yes")
	assert.Contains(t, done.Text, "published")

	calls := f.store.createCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, ride.NewRide{OwnerID: 1, From: "Vake", To: "Airport", Capacity: 3, TimeRange: "08:00-09:00", Comment: "no pets"}, calls[0])
	assert.False(t, f.svc.InProgress(ctx, 1))

	require.Len(t, f.announcer.announced, 1)
	assert.Equal(t, "Airport", f.announcer.announced[0].To)
	assert.Equal(t, []events.Type{events.RideCreated}, f.events.types())

	// a late duplicate "yes" finds no session and creates nothing
	r := f.say(t, 1, "yes")
	assert.Equal(t, msgNoWizard, r.Text)
	assert.Len(t, f.store.createCalls(), 1)
}

func TestWizardAbortPathsNeverCreate(t *testing.T) {
	answers := []string{"Vake", "Airport", "2", "-", "-"}
	for i := 0; i <= len(answers); i++ {
		for _, stop := range []string{"/cancel", "no"} {
			if stop == "no" && i != len(answers) {
				continue
			}
			t.Run(fmt.Sprintf("%s after %d", stop, i), func(t *testing.T) {
				f := newFixture(t)
				ctx := context.Background()
				_, err := f.svc.BeginCreate(ctx, 1)
				require.NoError(t, err)
				f.say(t, 1, answers[:i]...)

				r := f.say(t, 1, stop)
				assert.Equal(t, msgCancelled, r.Text)
				assert.Empty(t, f.store.createCalls())
				assert.False(t, f.svc.InProgress(ctx, 1))
			})
		}
	}
}

func TestCancelCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svc.Cancel(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, msgNothingToStop, r.Text)

	_, err = f.svc.BeginCreate(ctx, 1)
	require.NoError(t, err)
	f.say(t, 1, "Vake")
	r, err = f.svc.Cancel(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, msgCancelled, r.Text)
	assert.False(t, f.svc.InProgress(ctx, 1))
}

func TestCancelDuringCommitIsRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.BeginCreate(ctx, 1)
	require.NoError(t, err)
	f.say(t, 1, "Vake", "Airport", "2", "-", "-")

	release := f.store.holdCreates()
	done := make(chan Reply, 1)
	go func() {
		r, err := f.svc.Confirm(ctx, 1, true)
		assert.NoError(t, err)
		done <- r
	}()
	<-f.store.entered

	r, err := f.svc.Cancel(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, msgBusy, r.Text)
	assert.Equal(t, msgBusy, f.say(t, 1, "/cancel").Text)
	assert.True(t, f.svc.InProgress(ctx, 1))

	release()
	assert.Contains(t, (<-done).Text, "published")

	rides, err := f.store.Fetch(ctx, 1, true)
	require.NoError(t, err)
	assert.Len(t, rides, 1)
	assert.Len(t, f.announcer.announced, 1)
	assert.False(t, f.svc.InProgress(ctx, 1))
}

func TestRestartDuringCommitKeepsNewWizard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.BeginCreate(ctx, 1)
	require.NoError(t, err)
	f.say(t, 1, "Vake", "Airport", "2", "-", "-")

	release := f.store.holdCreates()
	done := make(chan Reply, 1)
	go func() {
		r, err := f.svc.Confirm(ctx, 1, true)
		assert.NoError(t, err)
		done <- r
	}()
	<-f.store.entered

	f.clock.Add(time.Second)
	_, err = f.svc.BeginCreate(ctx, 1)
	require.NoError(t, err)
	f.say(t, 1, "NewFrom")

	release()
	assert.Contains(t, (<-done).Text, "published")

	s, ok, err := f.sessions.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, s.From)
	assert.Equal(t, "NewFrom", *s.From)
	assert.EqualValues(t, "awaiting_to", s.Step)
}

func TestAnnouncedRideIsTheStoredOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	storeClock := &testClock{now: time.Date(2025, 2, 27, 6, 30, 0, 0, time.UTC)}
	f.store.Memory = store.NewMemory(store.WithClock(storeClock.Now))

	_, err := f.svc.BeginCreate(ctx, 1)
	require.NoError(t, err)
	f.say(t, 1, " Vake ", "Airport", "2", "-", "-", "yes")

	stored, err := f.store.Fetch(ctx, 1, true)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Len(t, f.announcer.announced, 1)
	assert.Equal(t, stored[0], f.announcer.announced[0])
	assert.True(t, f.announcer.announced[0].CreatedAt.Equal(storeClock.Now()))
}

func TestCapacityValidationReprompts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.BeginCreate(ctx, 1)
	require.NoError(t, err)
	f.say(t, 1, "Vake", "Airport")

	for _, bad := range []string{"0", "-1", "abc"} {
		r := f.say(t, 1, bad)
		assert.Contains(t, r.Text, "Seats")
		assert.Contains(t, r.Text, "How many seats are free?")
	}
	s, ok, err := f.sessions.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, "awaiting_capacity", s.Step)

	r := f.say(t, 1, "42")
	assert.Contains(t, r.Text, "When are you leaving?")
}

func TestStorageFailureKeepsSessionForRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.failNext = 1

	_, err := f.svc.BeginCreate(ctx, 1)
	require.NoError(t, err)
	f.say(t, 1, "Vake", "Airport", "2", "-", "-")

	r, err := f.svc.HandleInput(ctx, 1, "yes")
	require.Error(t, err)
	assert.True(t, ride.IsStorage(err))
	assert.Equal(t, msgCommitFailure, r.Text)
	assert.NotContains(t, r.Text, "db down")
	assert.True(t, f.svc.InProgress(ctx, 1))
	assert.Empty(t, f.announcer.announced)

	r = f.say(t, 1, "yes")
	assert.Contains(t, r.Text, "published")
	assert.Len(t, f.store.createCalls(), 2)
	assert.Len(t, f.announcer.announced, 1)
	assert.False(t, f.svc.InProgress(ctx, 1))
}

func TestAnnounceFailureStillPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.announcer.fail = true

	_, err := f.svc.BeginCreate(ctx, 1)
	require.NoError(t, err)
	r := f.say(t, 1, "Vake", "Airport", "2", "-", "-", "yes")
	assert.Contains(t, r.Text, "published")
	assert.Contains(t, r.Text, "delayed")

	rides, err := f.store.Fetch(ctx, 1, true)
	require.NoError(t, err)
	assert.Len(t, rides, 1)
}

func TestRestartDiscardsPartialFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.BeginCreate(ctx, 1)
	require.NoError(t, err)
	f.say(t, 1, "Old origin", "Old destination")

	r, err := f.svc.BeginCreate(ctx, 1)
	require.NoError(t, err)
	assert.Contains(t, r.Text, "Where are you departing from?")

	f.say(t, 1, "New origin", "Airport", "1", "-", "-", "yes")
	calls := f.store.createCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "New origin", calls[0].From)
	assert.Equal(t, "Airport", calls[0].To)
}

func TestInputWithoutWizard(t *testing.T) {
	f := newFixture(t)
	r := f.say(t, 1, "hello")
	assert.Equal(t, msgNoWizard, r.Text)
}

func seedRide(t *testing.T, f *fixture, owner int64, from, to string) string {
	t.Helper()
	id, err := f.store.Memory.Create(context.Background(), ride.NewRide{OwnerID: owner, From: from, To: to, Capacity: 2})
	require.NoError(t, err)
	f.clock.Add(time.Minute)
	return id
}

func TestListAndLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svc.List(ctx, 1, true)
	require.NoError(t, err)
	assert.Contains(t, r.Text, "no active rides")

	seedRide(t, f, 1, "A", "B")
	seedRide(t, f, 1, "C", "D")
	seedRide(t, f, 1, "E", "F")

	r, err = f.svc.List(ctx, 1, true)
	require.NoError(t, err)
	assert.Contains(t, r.Text, "E → F")
	assert.Contains(t, r.Text, "C → D")
	assert.NotContains(t, r.Text, "A → B")
	assert.Contains(t, r.Text, "… and 1 more")
	assert.Less(t, strings.Index(r.Text, "E → F"), strings.Index(r.Text, "C → D"))
}

func TestListFitsOneMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.cfg.ListLimit = 20
	comment := strings.Repeat("ø", 400)
	for i := 0; i < 25; i++ {
		_, err := f.store.Memory.Create(ctx, ride.NewRide{
			OwnerID: 1, From: fmt.Sprintf("From %d", i), To: "Airport", Capacity: 2, Comment: comment,
		})
		require.NoError(t, err)
	}

	r, err := f.svc.List(ctx, 1, true)
	require.NoError(t, err)
	assert.LessOrEqual(t, messageLen(r.Text), maxMessageLen)
	assert.Contains(t, r.Text, "more")
	assert.Contains(t, r.Text, "From 24")
}

func TestTruncateCountsUTF16(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab…", truncate("abcd", 3))
	// Each emoji is two UTF-16 units.
	assert.Equal(t, "🚗…", truncate("🚗🚗🚗", 4))
	assert.Equal(t, 6, messageLen("🚗🚗🚗"))
}

func TestRepeatedSoftDeletePublishesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := seedRide(t, f, 1, "A", "B")

	r, err := f.svc.Delete(ctx, 1, id)
	require.NoError(t, err)
	assert.Contains(t, r.Text, "is cancelled")

	r, err = f.svc.Delete(ctx, 1, id)
	require.NoError(t, err)
	assert.Contains(t, r.Text, "already cancelled")
	assert.Equal(t, []events.Type{events.RideCancelled}, f.events.types())

	rides, err := f.store.Fetch(ctx, 1, false)
	require.NoError(t, err)
	require.Len(t, rides, 1)
	assert.Equal(t, int64(2), rides[0].Version)
}

func TestDeleteSoftAndHard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := seedRide(t, f, 1, "A", "B")

	r, err := f.svc.Delete(ctx, 2, id)
	require.NoError(t, err)
	assert.Contains(t, r.Text, "not found")

	r, err = f.svc.Delete(ctx, 1, id)
	require.NoError(t, err)
	assert.Contains(t, r.Text, "cancelled")

	active, _ := f.svc.List(ctx, 1, true)
	assert.NotContains(t, active.Text, id)
	all, _ := f.svc.List(ctx, 1, false)
	assert.Contains(t, all.Text, id)
	assert.Contains(t, all.Text, "[cancelled]")

	r, err = f.svc.Delete(ctx, 1, id+" hard")
	require.NoError(t, err)
	assert.Contains(t, r.Text, "deleted")
	all, _ = f.svc.List(ctx, 1, false)
	assert.NotContains(t, all.Text, id)

	r, err = f.svc.Delete(ctx, 1, "")
	require.NoError(t, err)
	assert.Equal(t, usageDelete, r.Text)
	r, err = f.svc.Delete(ctx, 1, id+" forever")
	require.NoError(t, err)
	assert.Equal(t, usageDelete, r.Text)

	assert.Equal(t, []events.Type{events.RideCancelled, events.RideDeleted}, f.events.types())
}

func TestUpdateCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := seedRide(t, f, 1, "A", "B")

	r, err := f.svc.Update(ctx, 1, id+" capacity 0")
	require.NoError(t, err)
	assert.Contains(t, r.Text, "Seats")

	r, err = f.svc.Update(ctx, 1, id+" to Old Town")
	require.NoError(t, err)
	assert.Contains(t, r.Text, "updated")

	r, err = f.svc.Update(ctx, 2, id+" to Elsewhere")
	require.NoError(t, err)
	assert.Contains(t, r.Text, "not found")

	r, err = f.svc.Update(ctx, 1, id+" colour red")
	require.NoError(t, err)
	assert.Equal(t, usageUpdate, r.Text)

	r, err = f.svc.Update(ctx, 1, id+" status cancelled")
	require.NoError(t, err)
	assert.Contains(t, r.Text, "updated")

	rides, err := f.store.Fetch(ctx, 1, false)
	require.NoError(t, err)
	require.Len(t, rides, 1)
	assert.Equal(t, "Old Town", rides[0].To)
	assert.Equal(t, ride.StatusCancelled, rides[0].Status)
	assert.Equal(t, []events.Type{events.RideUpdated, events.RideCancelled}, f.events.types())
}

func TestExpireRides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := seedRide(t, f, 1, "A", "B")
	f.clock.Add(23 * time.Hour)
	fresh := seedRide(t, f, 1, "C", "D")
	f.clock.Add(2 * time.Hour)

	n, err := f.svc.ExpireRides(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rides, _ := f.store.Fetch(ctx, 1, true)
	require.Len(t, rides, 1)
	assert.Equal(t, fresh, rides[0].ID)
	require.Len(t, f.announcer.notified[1], 1)
	assert.Contains(t, f.announcer.notified[1][0], old)
	assert.Equal(t, []events.Type{events.RideExpired}, f.events.types())
}

func TestReapSessionsNeverCreates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.BeginCreate(ctx, 1)
	require.NoError(t, err)
	f.say(t, 1, "Vake", "Airport", "2", "-", "-")

	f.clock.Add(31 * time.Minute)
	n, err := f.svc.ReapSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, f.announcer.notified[1], 1)
	assert.Contains(t, f.announcer.notified[1][0], "30m")

	r := f.say(t, 1, "yes")
	assert.Equal(t, msgNoWizard, r.Text)
	assert.Empty(t, f.store.createCalls())
}

func TestHelpListsCommands(t *testing.T) {
	f := newFixture(t)
	r := f.svc.Help([]string{"/create - publish a ride", "/list - your active rides"})
	assert.Contains(t, r.Text, "/create - publish a ride")
	assert.Contains(t, r.Text, "/list - your active rides")
}

func TestButtonsOnlyActOnTheirStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.BeginCreate(ctx, 1)
	require.NoError(t, err)

	// a stale "Publish" press while the wizard asks for the departure point
	r, err := f.svc.Confirm(ctx, 1, true)
	require.NoError(t, err)
	assert.Contains(t, r.Text, msgStaleButton)
	assert.Contains(t, r.Text, "departing from")

	r, err = f.svc.Skip(ctx, 1)
	require.NoError(t, err)
	assert.Contains(t, r.Text, msgStaleButton)

	f.say(t, 1, "Vake", "Airport", "2")
	r, err = f.svc.Skip(ctx, 1)
	require.NoError(t, err)
	assert.Contains(t, r.Text, "comment")
	r, err = f.svc.Skip(ctx, 1)
	require.NoError(t, err)
	require.Len(t, r.Keyboard, 1)

	r, err = f.svc.Confirm(ctx, 1, true)
	require.NoError(t, err)
	assert.Contains(t, r.Text, "published")

	calls := f.store.createCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "", calls[0].TimeRange)
	assert.Equal(t, "", calls[0].Comment)

	r, err = f.svc.Confirm(ctx, 1, true)
	require.NoError(t, err)
	assert.Equal(t, msgNoWizard, r.Text)
	assert.Len(t, f.store.createCalls(), 1)
}

func TestConfirmNoDiscards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.BeginCreate(ctx, 1)
	require.NoError(t, err)
	f.say(t, 1, "Vake", "Airport", "2", "-", "-")

	r, err := f.svc.Confirm(ctx, 1, false)
	require.NoError(t, err)
	assert.Equal(t, msgCancelled, r.Text)
	assert.Empty(t, f.store.createCalls())
	assert.False(t, f.svc.InProgress(ctx, 1))
}
