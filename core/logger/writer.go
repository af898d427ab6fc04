package logger

import (
	"errors"
	"io"
	"sync"
)

var errWriterClosed = errors.New("logger: writer closed")

// asyncWriter moves line writes off the caller goroutine. Lines are copied
// on Write and written to every sink in order.
type asyncWriter struct {
	queue   chan []byte
	flushes chan chan struct{}
	done    chan struct{}
	sinks   []io.Writer

	mu     sync.Mutex // guards closed and the queue send
	closed bool

	errMu sync.Mutex
	err   error
}

func newAsyncWriter(sinks []io.Writer, depth int) *asyncWriter {
	if depth <= 0 {
		depth = 256
	}
	w := &asyncWriter{
		queue:   make(chan []byte, depth),
		flushes: make(chan chan struct{}),
		done:    make(chan struct{}),
	}
	for _, s := range sinks {
		if s != nil {
			w.sinks = append(w.sinks, s)
		}
	}
	go w.loop()
	return w
}

func (w *asyncWriter) loop() {
	defer close(w.done)
	for {
		select {
		case line, ok := <-w.queue:
			if !ok {
				return
			}
			w.write(line)
		case ack := <-w.flushes:
			// Drain what is already queued before acknowledging.
			for n := len(w.queue); n > 0; n-- {
				w.write(<-w.queue)
			}
			close(ack)
		}
	}
}

func (w *asyncWriter) write(line []byte) {
	for _, s := range w.sinks {
		if _, err := s.Write(line); err != nil {
			w.errMu.Lock()
			if w.err == nil {
				w.err = err
			}
			w.errMu.Unlock()
		}
	}
}

// Write queues a copy of p. It blocks when the queue is full.
func (w *asyncWriter) Write(p []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errWriterClosed
	}
	if err := w.firstErr(); err != nil {
		return err
	}
	if len(p) > 0 {
		w.queue <- append([]byte(nil), p...)
	}
	return nil
}

// Flush waits until every line queued so far has reached the sinks.
func (w *asyncWriter) Flush() error {
	ack := make(chan struct{})
	select {
	case w.flushes <- ack:
		<-ack
	case <-w.done:
	}
	return w.firstErr()
}

// Close drains the queue and stops the writer goroutine.
func (w *asyncWriter) Close() error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	<-w.done
	return w.firstErr()
}

func (w *asyncWriter) firstErr() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}
