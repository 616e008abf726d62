package session

import (
	"sync"
)

// Registry maps session IDs to running actors. It only tracks handles;
// lifecycle decisions belong to the actors themselves.
type Registry struct {
	mu     sync.RWMutex
	actors map[string]*Actor
}

// NewRegistry creates an empty actor registry.
func NewRegistry() *Registry {
	return &Registry{
		actors: make(map[string]*Actor),
	}
}

// Add registers an actor. Fails if one already exists for the session.
func (r *Registry) Add(actor *Actor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actors[actor.SessionID()]; exists {
		return ErrActorAlreadyExists
	}
	r.actors[actor.SessionID()] = actor
	return nil
}

// Get returns the actor for a session, or ErrSessionNotFound.
func (r *Registry) Get(sessionID string) (*Actor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	actor, exists := r.actors[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return actor, nil
}

// Remove drops the handle for a session. Safe to call for unknown IDs.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.actors, sessionID)
}

// Count returns the number of registered actors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actors)
}

// Shutdown stops every actor without terminating attempts; in-progress
// sessions resume from the store on the next start.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	actors := make([]*Actor, 0, len(r.actors))
	for _, actor := range r.actors {
		actors = append(actors, actor)
	}
	r.actors = make(map[string]*Actor)
	r.mu.Unlock()

	for _, actor := range actors {
		actor.Stop()
	}
}
