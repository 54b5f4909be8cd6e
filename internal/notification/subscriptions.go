package notification

import (
	"sync"
)

// Handler receives a single inbound notification.
type Handler func(n Inbound)

// BatchHandler receives an ordered group of inbound notifications.
type BatchHandler func(ns []Inbound)

// Subscription registers interest in one or more notification types within a
// category. Either Handler or BatchHandler must be set; when both are set the
// batch handler wins.
type Subscription struct {
	Category Category
	// Types is the set of base types this subscription covers. A single-type
	// subscription has exactly one entry; multi-type subscriptions receive
	// mixed batches per category.
	Types []string
	// AutoAcknowledge controls whether delivery is acknowledged automatically.
	// It is only honored when this is the sole subscription for a type.
	AutoAcknowledge bool
	Handler         Handler
	BatchHandler    BatchHandler
}

type registered struct {
	id  int
	sub Subscription
}

// Registry holds subscriptions for the process lifetime. Modules register
// independently; nothing is dropped except by explicit unsubscribe.
type Registry struct {
	mu     sync.RWMutex
	nextID int
	subs   []registered
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Subscribe adds a subscription and returns its removal function.
func (r *Registry) Subscribe(sub Subscription) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.subs = append(r.subs, registered{id: id, sub: sub})
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i := range r.subs {
			if r.subs[i].id == id {
				r.subs = append(r.subs[:i], r.subs[i+1:]...)
				return
			}
		}
	}
}

// ForType returns the single-type subscriptions registered for exactly this
// category and base type, in registration order.
func (r *Registry) ForType(category Category, baseType string) []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Subscription
	for _, reg := range r.subs {
		if reg.sub.Category == category && len(reg.sub.Types) == 1 && reg.sub.Types[0] == baseType {
			out = append(out, reg.sub)
		}
	}
	return out
}

// MultiType returns subscriptions covering more than one type for a category.
// Each receives the per-category subset of notifications matching its type set.
func (r *Registry) MultiType(category Category) []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Subscription
	for _, reg := range r.subs {
		if reg.sub.Category == category && len(reg.sub.Types) > 1 {
			out = append(out, reg.sub)
		}
	}
	return out
}
