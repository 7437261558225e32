package game

// Event is an in-game occurrence worth logging or showing to players.
type Event struct {
	Player Player   `json:"player"`
	Type   string   `json:"type"`
	Params []string `json:"params,omitempty"`
}

type EventListener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a function to EventListener.
type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(e Event) { f(e) }

// ListenerID identifies a registration so it can be removed later.
type ListenerID uint64

type listenerEntry struct {
	id      ListenerID
	l       EventListener
	removed bool
}

// Emitter dispatches events synchronously to listeners in registration order.
// The zero value is ready to use. Listeners are runtime wiring and are never
// part of a serialized state.
type Emitter struct {
	next      ListenerID
	listeners []*listenerEntry
}

func (em *Emitter) AddEventListener(l EventListener) ListenerID {
	em.next++
	em.listeners = append(em.listeners, &listenerEntry{id: em.next, l: l})
	return em.next
}

func (em *Emitter) RemoveEventListener(id ListenerID) {
	for i, e := range em.listeners {
		if e.id == id {
			e.removed = true
			em.listeners = append(em.listeners[:i:i], em.listeners[i+1:]...)
			return
		}
	}
}

// Fire delivers an event to the listeners registered at the time of the call.
// A listener removed by an earlier callback is skipped.
func (em *Emitter) Fire(e Event) {
	snapshot := append([]*listenerEntry(nil), em.listeners...)
	for _, entry := range snapshot {
		if entry.removed {
			continue
		}
		entry.l.OnEvent(e)
	}
}

// Emit is Fire with the event built inline.
func (em *Emitter) Emit(p Player, typ string, params ...string) {
	em.Fire(Event{Player: p, Type: typ, Params: params})
}
