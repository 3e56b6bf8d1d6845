package crypto

import (
	"sync"

	"filippo.io/age"

	"github.com/TheMichaelB/safe/internal/models"
)

// PassphraseSource supplies the identity passphrase. It is implemented by
// the interactive shell and called at most once per Session.
type PassphraseSource func() (string, error)

// Session carries per-process crypto state: whether an agent supplies the
// identity, the cached passphrase and the unlocked identities. A Session
// is owned by one config store and is never shared between processes.
type Session struct {
	mu         sync.Mutex
	useAgent   bool
	source     PassphraseSource
	passphrase string
	cached     bool
	prompts    int
	identities []age.Identity
}

// NewSession creates a session.
func NewSession(useAgent bool, source PassphraseSource) *Session {
	return &Session{
		useAgent: useAgent,
		source:   source,
	}
}

// UseAgent reports whether identities must be usable without a passphrase.
func (s *Session) UseAgent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.useAgent
}

// SetUseAgent switches agent mode. Unlocked identities are dropped because
// they may have come from a different source.
func (s *Session) SetUseAgent(useAgent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.useAgent != useAgent {
		s.identities = nil
	}
	s.useAgent = useAgent
}

// Passphrase returns the cached passphrase, asking the source the first
// time. In agent mode no passphrase is ever requested.
func (s *Session) Passphrase() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached {
		return s.passphrase, nil
	}
	if s.useAgent {
		return "", models.NeedInput(models.InputPassphrase, "identity is passphrase-protected but agent mode is enabled")
	}
	if s.source == nil {
		return "", models.NeedInput(models.InputPassphrase, "identity is passphrase-protected")
	}

	s.prompts++
	passphrase, err := s.source()
	if err != nil {
		return "", err
	}
	if passphrase == "" {
		return "", models.NeedInput(models.InputPassphrase, "empty passphrase")
	}

	s.passphrase = passphrase
	s.cached = true
	return passphrase, nil
}

// PromptCount returns how many times the passphrase source was called.
func (s *Session) PromptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts
}

// Forget drops the cached passphrase and identities.
func (s *Session) Forget() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passphrase = ""
	s.cached = false
	s.identities = nil
}

func (s *Session) cachedIdentities() []age.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identities
}

func (s *Session) cacheIdentities(ids []age.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities = ids
}
