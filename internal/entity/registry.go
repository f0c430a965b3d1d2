package entity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var ErrUnknownEntity = errors.New("unknown entity")

// Command is a service call routed to an entity.
type Command struct {
	EntityID string         `json:"entity_id"`
	Action   string         `json:"action"`
	Data     map[string]any `json:"data,omitempty"`
}

// Handler executes commands for the entities it registered.
type Handler interface {
	HandleCommand(ctx context.Context, cmd Command) error
}

// Event is emitted on every state write and removal.
type Event struct {
	Type  string `json:"type"`
	State State  `json:"state"`
}

const (
	EventStateChanged = "state_changed"
	EventRemoved      = "entity_removed"
)

// Registry holds current entity states and fans changes out to
// subscribers. Writes with an unchanged state and attributes still
// produce an event so subscribers see fresh timestamps.
type Registry struct {
	mu       sync.RWMutex
	states   map[string]State
	handlers map[string]Handler
	subs     map[int]chan Event
	nextID   int
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		states:   make(map[string]State),
		handlers: make(map[string]Handler),
		subs:     make(map[int]chan Event),
		now:      time.Now,
	}
}

// Register claims entityID for handler. The entity is listed once its
// first state is written.
func (r *Registry) Register(entityID string, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.handlers[entityID]; ok && existing != handler {
		return fmt.Errorf("entity %s already registered", entityID)
	}
	r.handlers[entityID] = handler
	return nil
}

// Set stores a new state and notifies subscribers.
func (r *Registry) Set(state State) {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = r.now()
	}
	r.mu.Lock()
	r.states[state.EntityID] = state
	r.broadcastLocked(Event{Type: EventStateChanged, State: state})
	r.mu.Unlock()
}

// Remove drops an entity and its handler.
func (r *Registry) Remove(entityID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.states[entityID]
	delete(r.states, entityID)
	delete(r.handlers, entityID)
	if ok {
		r.broadcastLocked(Event{Type: EventRemoved, State: state})
	}
}

func (r *Registry) Get(entityID string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.states[entityID]
	return state, ok
}

// List returns all states sorted by entity id.
func (r *Registry) List() []State {
	r.mu.RLock()
	out := make([]State, 0, len(r.states))
	for _, state := range r.states {
		out = append(out, state)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// Call routes a command to the entity's handler.
func (r *Registry) Call(ctx context.Context, cmd Command) error {
	r.mu.RLock()
	handler, ok := r.handlers[cmd.EntityID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, cmd.EntityID)
	}
	return handler.HandleCommand(ctx, cmd)
}

// Subscribe returns a channel of events and a cancel func. Slow
// subscribers drop events rather than block writers.
func (r *Registry) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
			close(ch)
		})
	}
}

func (r *Registry) broadcastLocked(evt Event) {
	for _, ch := range r.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}
