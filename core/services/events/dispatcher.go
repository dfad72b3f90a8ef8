package events

import (
	"sync"

	"github.com/google/uuid"

	"github.com/lgtm-migrator/web3-events/core/logger"
)

// Handler receives one payload delivered on a Channel. A non-nil
// return routes a ListenerError back to ChannelError (spec §7);
// an error from a handler subscribed to ChannelError itself is only
// logged, never re-dispatched, to avoid recursive dispatch.
type Handler func(payload interface{}) error

// Subscription is the handle returned by Dispatcher.Subscribe. Its
// Unsubscribe method is idempotent, matching chainlink's
// broadcaster.Register return value.
type Subscription struct {
	id      uuid.UUID
	channel Channel
	once    sync.Once
	remove  func(uuid.UUID)
}

// Unsubscribe detaches the handler. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.remove(s.id)
	})
}

type subEntry struct {
	id      uuid.UUID
	handler Handler
}

// Dispatcher is the subscriber registry and emission strategy behind
// every channel an EventsEmitter/AutoEventsEmitter exposes (spec
// §4.6). SerialListeners picks between parallel fan-out (listeners'
// futures not awaited, failures routed to ChannelError without
// blocking the rest) and serial delivery (awaited in registration
// order, a failure stopping the chain for that event only).
type Dispatcher struct {
	mu              sync.RWMutex
	subs            map[Channel][]subEntry
	serialListeners bool
	log             logger.Logger

	// refCount and lifecycle hooks back AutoEventsEmitter's
	// autoStart option: the first ChannelNewEvent subscriber starts
	// the emitter, the last one leaving stops it (spec §4.7).
	refCount          map[Channel]int
	onFirstSubscribe  func(Channel)
	onLastUnsubscribe func(Channel)
}

// NewDispatcher builds a Dispatcher. log may be nil, in which case a
// no-op logger is used.
func NewDispatcher(serialListeners bool, log logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewNop()
	}
	return &Dispatcher{
		subs:     make(map[Channel][]subEntry),
		serialListeners: serialListeners,
		log:      log.Named("dispatcher"),
		refCount: make(map[Channel]int),
	}
}

// Subscribe registers h on channel and returns a handle to remove it.
func (d *Dispatcher) Subscribe(channel Channel, h Handler) *Subscription {
	d.mu.Lock()
	id := uuid.New()
	d.subs[channel] = append(d.subs[channel], subEntry{id: id, handler: h})
	d.refCount[channel]++
	firstSub := d.refCount[channel] == 1
	hook := d.onFirstSubscribe
	d.mu.Unlock()

	if firstSub && hook != nil {
		hook(channel)
	}

	return &Subscription{
		id:      id,
		channel: channel,
		remove:  func(id uuid.UUID) { d.unsubscribe(channel, id) },
	}
}

func (d *Dispatcher) unsubscribe(channel Channel, id uuid.UUID) {
	d.mu.Lock()
	entries := d.subs[channel]
	for i, e := range entries {
		if e.id == id {
			d.subs[channel] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	d.refCount[channel]--
	lastUnsub := d.refCount[channel] == 0
	hook := d.onLastUnsubscribe
	d.mu.Unlock()

	if lastUnsub && hook != nil {
		hook(channel)
	}
}

// Dispatch delivers payload to every handler subscribed to channel,
// per the serialListeners policy. It never blocks on a parallel
// listener; a serial listener's failure ends delivery of this payload,
// so later subscribers of the channel do not receive it.
//
// The returned channel closes once every listener for this dispatch
// has returned. Serial listeners are already awaited synchronously, so
// it is closed by the time Dispatch returns. For parallel fan-out it
// closes asynchronously; EventsEmitter only waits on it when
// SerialProcessing is set (spec §4.6) — otherwise dispatch of the next
// event may begin before this one's listeners finish.
func (d *Dispatcher) Dispatch(channel Channel, payload interface{}) <-chan struct{} {
	d.mu.RLock()
	entries := make([]subEntry, len(d.subs[channel]))
	copy(entries, d.subs[channel])
	d.mu.RUnlock()

	done := make(chan struct{})

	if d.serialListeners {
		for _, e := range entries {
			if err := e.handler(payload); err != nil {
				d.routeListenerError(channel, err)
				break
			}
		}
		close(done)
		return done
	}

	var wg sync.WaitGroup
	wg.Add(len(entries))
	for _, e := range entries {
		e := e
		go func() {
			defer wg.Done()
			if err := e.handler(payload); err != nil {
				d.routeListenerError(channel, err)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

func (d *Dispatcher) routeListenerError(channel Channel, err error) {
	if channel == ChannelError {
		// Never recurse: a failing ChannelError handler is logged,
		// not re-dispatched.
		d.log.Errorw("listener on error channel itself failed", "err", err)
		return
	}
	d.log.Warnw("listener error", "channel", channel, "err", err)
	d.Dispatch(ChannelError, ErrorPayload{Err: &ListenerError{Channel: channel, cause: err}})
}

// withLifecycleHooks wires the autoStart behavior: called once by
// AutoEventsEmitter before Start().
func (d *Dispatcher) withLifecycleHooks(onFirst, onLast func(Channel)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onFirstSubscribe = onFirst
	d.onLastUnsubscribe = onLast
}
