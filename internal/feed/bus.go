package feed

import "sync"

// Handler receives events for one subscription.
type Handler func(Event)

type subscriber struct {
	id uint64
	h  Handler
}

// Bus is the per-client handler registry. Handlers for one event name
// are called in registration order on the goroutine that emits.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[EventName][]subscriber
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[EventName][]subscriber)}
}

// Subscription identifies one registered handler. Disposing it removes
// that handler only, even when the same function was registered twice.
type Subscription struct {
	bus  *Bus
	name EventName
	id   uint64
	once sync.Once
}

// Dispose removes the handler. Calling it more than once is a no-op.
func (s *Subscription) Dispose() {
	if s == nil {
		return
	}
	s.once.Do(func() { s.bus.remove(s.name, s.id) })
}

// On registers h for name and returns its disposer.
func (b *Bus) On(name EventName, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.handlers[name] = append(b.handlers[name], subscriber{id: b.nextID, h: h})
	return &Subscription{bus: b, name: name, id: b.nextID}
}

// Off removes exactly the handler behind sub.
func (b *Bus) Off(sub *Subscription) {
	if sub == nil || sub.bus != b {
		return
	}
	sub.Dispose()
}

// ClearAll removes every handler. Used on full teardown.
func (b *Bus) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[EventName][]subscriber)
}

// Count returns the number of handlers registered for name.
func (b *Bus) Count(name EventName) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}

// Emit delivers ev to a snapshot of the handlers registered for its name.
// Handlers may subscribe or unsubscribe while being called.
func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	subs := b.handlers[ev.Name()]
	snapshot := make([]subscriber, len(subs))
	copy(snapshot, subs)
	b.mu.RUnlock()

	for _, s := range snapshot {
		s.h(ev)
	}
}

func (b *Bus) remove(name EventName, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[name]
	for i, s := range subs {
		if s.id == id {
			b.handlers[name] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}
