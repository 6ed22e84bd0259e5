package crawler

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/dashcrawl/api/schemas"
)

// Observer receives progress events. OnEvent is called synchronously, in
// emission order, and should return quickly. Page error events arrive on the
// browser event loop, and teardown events are sent while the Crawler holds its
// lock, so an observer must not call back into the Crawler or the page.
type Observer interface {
	OnEvent(schemas.Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(schemas.Event)

func (f ObserverFunc) OnEvent(e schemas.Event) { f(e) }

// ChannelObserver forwards events to a channel without ever blocking the
// producer. Events that do not fit are counted and dropped.
type ChannelObserver struct {
	ch      chan<- schemas.Event
	dropped atomic.Uint64
}

// NewChannelObserver creates an observer writing to ch.
func NewChannelObserver(ch chan<- schemas.Event) *ChannelObserver {
	return &ChannelObserver{ch: ch}
}

func (c *ChannelObserver) OnEvent(e schemas.Event) {
	select {
	case c.ch <- e:
	default:
		c.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the channel was full.
func (c *ChannelObserver) Dropped() uint64 {
	return c.dropped.Load()
}

// LogObserver writes every event to a zap logger.
type LogObserver struct {
	logger *zap.Logger
}

// NewLogObserver creates an observer logging through logger.
func NewLogObserver(logger *zap.Logger) *LogObserver {
	return &LogObserver{logger: logger.Named("events")}
}

func (l *LogObserver) OnEvent(e schemas.Event) {
	fields := []zap.Field{zap.Stringer("phase", e.Phase), zap.Time("event_time", e.Time)}
	if e.Error {
		l.logger.Warn(e.Message, fields...)
		return
	}
	l.logger.Info(e.Message, fields...)
}

type subscription struct {
	id       uint64
	observer Observer
}

// Emitter fans events out to the subscribed observers. With no observers an
// event costs one debug log line and nothing blocks.
type Emitter struct {
	logger *zap.Logger
	now    func() time.Time

	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
}

// NewEmitter creates an emitter that also logs every event at debug level.
func NewEmitter(logger *zap.Logger) *Emitter {
	return &Emitter{logger: logger.Named("events"), now: time.Now}
}

// Subscribe adds o and returns a function removing it again.
func (e *Emitter) Subscribe(o Observer) (unsubscribe func()) {
	if o == nil {
		return func() {}
	}
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.subs = append(e.subs, subscription{id: id, observer: o})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			for i, s := range e.subs {
				if s.id == id {
					e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Clear removes every observer.
func (e *Emitter) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = nil
}

// Len returns the number of subscribed observers.
func (e *Emitter) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}

// Emit sends a formatted event for phase.
func (e *Emitter) Emit(phase schemas.Phase, format string, args ...interface{}) {
	e.emit(phase, false, format, args...)
}

// EmitError sends a formatted event tagged as belonging to an error path.
func (e *Emitter) EmitError(phase schemas.Phase, format string, args ...interface{}) {
	e.emit(phase, true, format, args...)
}

func (e *Emitter) emit(phase schemas.Phase, isErr bool, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	event := schemas.Event{Time: e.now(), Phase: phase, Message: msg, Error: isErr}
	e.logger.Debug(msg, zap.Stringer("phase", phase), zap.Bool("error", isErr))

	e.mu.RLock()
	subs := make([]subscription, len(e.subs))
	copy(subs, e.subs)
	e.mu.RUnlock()

	for _, s := range subs {
		s.observer.OnEvent(event)
	}
}
