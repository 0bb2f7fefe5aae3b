// Package memory keeps the activity registry in process memory.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"example.com/signup/internal/domain"
)

type entry struct {
	activity domain.Activity
	members  map[string]struct{}
}

// Repository is a mutex-guarded, insertion-ordered activity store.
type Repository struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*entry
}

var _ domain.Repository = (*Repository)(nil)

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{entries: make(map[string]*entry)}
}

// Seed adds activities that are not yet known. Existing rosters are left alone.
func (r *Repository) Seed(ctx context.Context, activities []domain.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range activities {
		if _, ok := r.entries[a.Name]; ok {
			continue
		}
		e := &entry{
			activity: a.Clone(),
			members:  make(map[string]struct{}, len(a.Participants)),
		}
		e.activity.Participants = e.activity.Participants[:0]
		for _, email := range a.Participants {
			if _, dup := e.members[email]; dup {
				return fmt.Errorf("seed %q: duplicate participant %q", a.Name, email)
			}
			e.members[email] = struct{}{}
			e.activity.Participants = append(e.activity.Participants, email)
		}
		r.entries[a.Name] = e
		r.order = append(r.order, a.Name)
	}
	return nil
}

// List returns deep copies of all activities in insertion order.
func (r *Repository) List(ctx context.Context) ([]domain.Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Activity, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].activity.Clone())
	}
	return out, nil
}

// AddParticipant implements domain.Repository.
func (r *Repository) AddParticipant(ctx context.Context, activity, email string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[activity]
	if !ok {
		return domain.ErrActivityNotFound
	}
	if _, ok := e.members[email]; ok {
		return domain.ErrAlreadyEnrolled
	}
	e.members[email] = struct{}{}
	e.activity.Participants = append(e.activity.Participants, email)
	return nil
}

// RemoveParticipant implements domain.Repository.
func (r *Repository) RemoveParticipant(ctx context.Context, activity, email string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[activity]
	if !ok {
		return domain.ErrActivityNotFound
	}
	if _, ok := e.members[email]; !ok {
		return domain.ErrNotEnrolled
	}
	delete(e.members, email)

	kept := e.activity.Participants[:0]
	for _, p := range e.activity.Participants {
		if p != email {
			kept = append(kept, p)
		}
	}
	e.activity.Participants = kept
	return nil
}
