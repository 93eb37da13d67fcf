package recruit

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry is the process-wide session table keyed by id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: map[string]*Session{}}
}

// NewID returns a short random id that fits comfortably in callback data.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

var errDuplicateID = errors.New("duplicate session id")

func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID()]; ok {
		return errDuplicateID
	}
	r.sessions[s.ID()] = s
	return nil
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// all copies the table so callers can take session locks without holding
// the registry lock.
func (r *Registry) all() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// OpenIn lists open sessions announced in chatID, oldest first.
func (r *Registry) OpenIn(chatID int64) []Snapshot {
	var out []Snapshot
	for _, s := range r.all() {
		snap := s.Snapshot()
		if snap.Origin.ChatID == chatID && !snap.Closed() {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// overdue returns open sessions whose deadline passed more than grace ago.
// Their timer was lost; the sweep expires them instead.
func (r *Registry) overdue(now time.Time, grace time.Duration) []*Session {
	var out []*Session
	for _, s := range r.all() {
		snap := s.Snapshot()
		if !snap.Closed() && now.Sub(snap.Deadline) > grace {
			out = append(out, s)
		}
	}
	return out
}
