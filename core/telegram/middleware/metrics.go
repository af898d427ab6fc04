package middleware

import (
	"sync"

	tele "gopkg.in/telebot.v4"
)

const keyCounters = "send_counters"

// sendCounters is shared by every send of one update. Queued sends may land
// after the handler returned, so fields are guarded.
type sendCounters struct {
	mu       sync.Mutex
	messages int
	keyboard bool
}

func (s *sendCounters) add(keyboard bool) {
	s.mu.Lock()
	s.messages++
	s.keyboard = s.keyboard || keyboard
	s.mu.Unlock()
}

// countingContext counts successful Send, Reply and Edit calls.
type countingContext struct {
	tele.Context
	counters *sendCounters
}

func withMarkup(opts []any) bool {
	for _, o := range opts {
		switch v := o.(type) {
		case *tele.SendOptions:
			if v != nil && v.ReplyMarkup != nil {
				return true
			}
		case *tele.ReplyMarkup:
			if v != nil {
				return true
			}
		}
	}
	return false
}

func (c countingContext) count(err error, opts []any) error {
	if err == nil {
		c.counters.add(withMarkup(opts))
	}
	return err
}

func (c countingContext) Send(what any, opts ...any) error {
	return c.count(c.Context.Send(what, opts...), opts)
}

func (c countingContext) Reply(what any, opts ...any) error {
	return c.count(c.Context.Reply(what, opts...), opts)
}

func (c countingContext) Edit(what any, opts ...any) error {
	return c.count(c.Context.Edit(what, opts...), opts)
}

// MessageMetricsMiddleware counts outgoing messages for the handler summary.
func MessageMetricsMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		counters := &sendCounters{}
		c.Set(keyCounters, counters)
		return next(countingContext{Context: c, counters: counters})
	}
}

// GetCounters reports how many messages the update produced so far and
// whether any of them carried a keyboard.
func GetCounters(c tele.Context) (int, bool) {
	counters, ok := c.Get(keyCounters).(*sendCounters)
	if !ok {
		return 0, false
	}
	counters.mu.Lock()
	defer counters.mu.Unlock()
	return counters.messages, counters.keyboard
}
