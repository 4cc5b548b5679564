package telegraph

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/zulandar/tramtram/internal/models"
)

// Store persists one blob per chat. Writes replace the whole blob.
type Store interface {
	Load(chatID string) (*models.UserData, error)
	Save(chatID string, data *models.UserData) error
	LoadAll() (map[string]*models.UserData, error)
}

// Session owns one chat's data. Callers hold Lock while reading or
// changing Data and call Persist after a change.
type Session struct {
	ChatID string

	mu     sync.Mutex
	data   *models.UserData
	store  Store
	wizard *wizard // in-progress /add or /remove, guarded by mu
}

// Lock acquires the session.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the session.
func (s *Session) Unlock() { s.mu.Unlock() }

// Data returns the chat's data. The caller must hold the lock.
func (s *Session) Data() *models.UserData { return s.data }

// Persist writes the chat's data to the store. The caller must hold the
// lock. Failures are logged and returned.
func (s *Session) Persist() error {
	if err := s.store.Save(s.ChatID, s.data); err != nil {
		log.Error().Err(err).Str("chat", s.ChatID).Msg("telegraph: persist session")
		return err
	}
	return nil
}

// Registry holds every known chat session. It is the single owner of
// per-chat state; the scheduler and the router both reach sessions
// through it.
type Registry struct {
	mu       sync.RWMutex
	store    Store
	sessions map[string]*Session
}

// NewRegistry returns an empty Registry backed by store.
func NewRegistry(store Store) (*Registry, error) {
	if store == nil {
		return nil, fmt.Errorf("telegraph: registry: store is required")
	}
	return &Registry{store: store, sessions: make(map[string]*Session)}, nil
}

// LoadAll reads every chat from the store, replacing sessions not yet
// loaded. It returns the number of chats loaded.
func (r *Registry) LoadAll() (int, error) {
	all, err := r.store.LoadAll()
	if err != nil {
		return 0, fmt.Errorf("telegraph: load sessions: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for chatID, data := range all {
		if _, ok := r.sessions[chatID]; ok {
			continue
		}
		r.sessions[chatID] = r.newSession(chatID, data)
	}
	return len(all), nil
}

// Get returns the session for chatID, loading it from the store on first
// use. A load failure yields an empty record.
func (r *Registry) Get(chatID string) *Session {
	r.mu.RLock()
	s, ok := r.sessions[chatID]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[chatID]; ok {
		return s
	}
	data, err := r.store.Load(chatID)
	if err != nil {
		log.Warn().Err(err).Str("chat", chatID).Msg("telegraph: load session, starting empty")
		data = models.NewUserData()
	}
	s = r.newSession(chatID, data)
	r.sessions[chatID] = s
	return s
}

func (r *Registry) newSession(chatID string, data *models.UserData) *Session {
	if data == nil {
		data = models.NewUserData()
	}
	return &Session{ChatID: chatID, data: data, store: r.store}
}

// Snapshot returns the current sessions ordered by chat id.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// FlushAll persists every session, returning the joined errors.
func (r *Registry) FlushAll() error {
	var errs []error
	for _, s := range r.Snapshot() {
		s.Lock()
		if err := s.Persist(); err != nil {
			errs = append(errs, fmt.Errorf("chat %s: %w", s.ChatID, err))
		}
		s.Unlock()
	}
	return errors.Join(errs...)
}
