package transport

import (
	"sync"

	"github.com/spotsync/client/internal/models"
	"github.com/spotsync/client/internal/observability"
)

// CredentialStore holds the current access/refresh pair. Operations on
// the store itself cannot fail; an absent pair is the valid logged-out
// state. A Set or Clear is fully visible to the next Get.
type CredentialStore struct {
	mu      sync.RWMutex
	pair    models.CredentialPair
	has     bool
	session *SessionFile
	log     *observability.Logger
}

// NewCredentialStore creates an in-memory credential store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{log: observability.GetLogger()}
}

// NewPersistedCredentialStore creates a store backed by an encrypted
// session file so a restarted process stays logged in. A missing or
// unreadable file just means logged out.
func NewPersistedCredentialStore(session *SessionFile) *CredentialStore {
	s := &CredentialStore{session: session, log: observability.GetLogger()}
	pair, ok, err := session.Load()
	if err != nil {
		s.log.Warnf("ignoring unreadable session file: %v", err)
		return s
	}
	if ok {
		s.pair = pair
		s.has = true
	}
	return s
}

// Get returns the current pair and whether one is present.
func (s *CredentialStore) Get() (models.CredentialPair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair, s.has
}

// Set replaces the stored pair. Both tokens are replaced together;
// partial replacement is not possible through this API.
func (s *CredentialStore) Set(pair models.CredentialPair) {
	s.mu.Lock()
	s.pair = pair
	s.has = !pair.IsZero()
	s.mu.Unlock()

	if s.session != nil {
		if err := s.session.Save(pair); err != nil {
			s.log.Warnf("failed to persist session: %v", err)
		}
	}
}

// Clear drops the stored pair, returning the store to the logged-out
// state.
func (s *CredentialStore) Clear() {
	s.mu.Lock()
	s.pair = models.CredentialPair{}
	s.has = false
	s.mu.Unlock()

	if s.session != nil {
		if err := s.session.Remove(); err != nil {
			s.log.Warnf("failed to remove session file: %v", err)
		}
	}
}
