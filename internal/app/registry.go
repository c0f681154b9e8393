package app

import (
	"context"
	"sort"
	"sync"

	"github.com/dkeye/CallBridge/internal/core"
	"github.com/dkeye/CallBridge/internal/domain"
	"github.com/rs/zerolog/log"
)

const DefaultAccountLabel = "CallBridge User"

type linkEntry struct {
	Session core.LinkSession
	Cancel  context.CancelFunc
}

// Registry tracks application links connected to the host call system and
// the phone account each one calls from.
type Registry struct {
	mu       sync.RWMutex
	links    map[core.SessionID]*linkEntry
	accounts map[core.SessionID]*domain.Account
}

func NewRegistry() *Registry {
	return &Registry{
		links:    make(map[core.SessionID]*linkEntry),
		accounts: make(map[core.SessionID]*domain.Account),
	}
}

// GetOrCreateAccount returns the account registered for sid, registering a
// new one on first use. Reconnects with the same sid keep their account.
func (r *Registry) GetOrCreateAccount(sid core.SessionID) *domain.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[sid]; ok {
		return a
	}
	a, _ := domain.NewAccount(DefaultAccountLabel)
	r.accounts[sid] = a
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("account", string(a.ID)).Msg("registered phone account")
	return a
}

func (r *Registry) UpdateLabel(sid core.SessionID, label string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[sid]
	if !ok {
		return nil
	}
	if err := a.SetLabel(label); err != nil {
		return err
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("label", label).Msg("updated account label")
	return nil
}

func (r *Registry) BindLink(sid core.SessionID, sess core.LinkSession, cancel context.CancelFunc) {
	r.mu.Lock()
	old, replaced := r.links[sid]
	r.links[sid] = &linkEntry{Session: sess, Cancel: cancel}
	r.mu.Unlock()
	if replaced && old.Cancel != nil {
		old.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Bool("replaced", replaced).Msg("bound link")
}

func (r *Registry) GetLink(sid core.SessionID) (core.LinkSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.links[sid]; ok {
		return e.Session, true
	}
	return nil, false
}

// Unbind removes sid only if it is still bound to sess, so a stale
// connection closing late cannot drop its replacement.
func (r *Registry) Unbind(sid core.SessionID, sess core.LinkSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.links[sid]
	if !ok || e.Session != sess {
		return false
	}
	delete(r.links, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind link")
	return true
}

func (r *Registry) Links() []core.SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.SessionID, 0, len(r.links))
	for sid := range r.links {
		out = append(out, sid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.links[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled link")
	return true
}
