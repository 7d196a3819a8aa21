// Package pagebus models one browser window: a single event loop that
// delivers posted messages and custom events to registered listeners.
package pagebus

import (
	"encoding/json"
	"slices"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

var ErrClosed = errors.New("window closed")

// MessageEvent is what a message listener receives. Data is the JSON clone of
// the posted value, so listeners never share memory with the poster.
type MessageEvent struct {
	Source *Window
	Origin string
	Data   json.RawMessage
}

// CustomEvent carries Detail by reference, like a DOM CustomEvent.
type CustomEvent struct {
	Type   string
	Detail any
}

type MessageListener func(MessageEvent)

type EventListener func(CustomEvent)

type listener[F any] struct {
	id uint64
	fn F
}

// Window serializes every delivery onto one goroutine. Listeners run on that
// goroutine and may post or dispatch without blocking.
type Window struct {
	origin string

	mu       sync.Mutex
	queue    []func()
	closed   bool
	nextID   uint64
	messages []listener[MessageListener]
	events   map[string][]listener[EventListener]

	wake chan struct{}
	done chan struct{}
}

func NewWindow(origin string) *Window {
	w := &Window{
		origin: origin,
		events: make(map[string][]listener[EventListener]),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Window) Origin() string { return w.origin }

// PostMessage delivers data to this window's message listeners with the
// window itself as source.
func (w *Window) PostMessage(data any) error {
	return w.PostMessageFrom(w, data)
}

// PostMessageFrom delivers data as if posted by src, which may be another
// window or nil for an opaque source.
func (w *Window) PostMessageFrom(src *Window, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "clone message")
	}
	origin := ""
	if src != nil {
		origin = src.origin
	}
	ev := MessageEvent{Source: src, Origin: origin, Data: raw}

	return w.enqueue(func() {
		w.mu.Lock()
		ls := slices.Clone(w.messages)
		w.mu.Unlock()
		for _, l := range ls {
			w.run(func() { l.fn(ev) })
		}
	})
}

// DispatchEvent queues a custom event for the listeners of typ.
func (w *Window) DispatchEvent(typ string, detail any) error {
	ev := CustomEvent{Type: typ, Detail: detail}
	return w.enqueue(func() {
		w.mu.Lock()
		ls := slices.Clone(w.events[typ])
		w.mu.Unlock()
		for _, l := range ls {
			w.run(func() { l.fn(ev) })
		}
	})
}

// AddMessageListener registers fn and returns a func that unregisters it.
func (w *Window) AddMessageListener(fn MessageListener) (remove func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	id := w.nextID
	w.messages = append(w.messages, listener[MessageListener]{id: id, fn: fn})

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.messages = slices.DeleteFunc(w.messages, func(l listener[MessageListener]) bool { return l.id == id })
	}
}

func (w *Window) AddEventListener(typ string, fn EventListener) (remove func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	id := w.nextID
	w.events[typ] = append(w.events[typ], listener[EventListener]{id: id, fn: fn})

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.events[typ] = slices.DeleteFunc(w.events[typ], func(l listener[EventListener]) bool { return l.id == id })
		if len(w.events[typ]) == 0 {
			delete(w.events, typ)
		}
	}
}

// Close stops the loop after the deliveries already queued. It must not be
// called from a listener.
func (w *Window) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.closed = true
	w.mu.Unlock()
	w.signal()
	<-w.done
}

func (w *Window) enqueue(task func()) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.queue = append(w.queue, task)
	w.mu.Unlock()
	w.signal()
	return nil
}

func (w *Window) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Window) loop() {
	defer close(w.done)
	for range w.wake {
		for {
			w.mu.Lock()
			if len(w.queue) == 0 {
				closed := w.closed
				w.mu.Unlock()
				if closed {
					return
				}
				break
			}
			task := w.queue[0]
			w.queue[0] = nil
			w.queue = w.queue[1:]
			w.mu.Unlock()

			task()
		}
	}
}

func (w *Window) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("window listener panicked", "origin", w.origin, "panic", r)
		}
	}()
	task()
}
