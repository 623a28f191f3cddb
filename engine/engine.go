// Package engine orchestrates message security: it classifies the parts of
// an inbound MIME document, verifies and decrypts through the configured
// crypto backend, splices revealed plaintext back into the tree, and drives
// outbound signing and encryption. The engine holds no crypto of its own.
package engine

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/McFlip/scytale/backend"
	"github.com/McFlip/scytale/discovery"
	"github.com/McFlip/scytale/vault"
)

// Config tunes one Engine instance.
type Config struct {
	// Passwordless skips passphrase collection entirely; keys are assumed
	// to be stored unlocked (agent-style setups).
	Passwordless bool

	// SignKeyCacheTTL bounds how long a resolved signing key is reused
	// before the backend is asked again. Zero caches for the engine's
	// lifetime.
	SignKeyCacheTTL time.Duration

	Logger zerolog.Logger
}

type cachedKey struct {
	key backend.Key
	at  time.Time
}

// Engine wires one crypto backend, the session password vault and an
// optional discovery directory. Not safe for concurrent use.
type Engine struct {
	backend backend.Backend
	vault   *vault.Vault
	dir     *discovery.Directory
	cfg     Config
	log     zerolog.Logger
	now     func() time.Time

	signKeys map[string]cachedKey
}

// New builds an Engine. dir may be nil to disable key discovery.
func New(b backend.Backend, v *vault.Vault, dir *discovery.Directory, cfg Config) *Engine {
	return &Engine{
		backend:  b,
		vault:    v,
		dir:      dir,
		cfg:      cfg,
		log:      cfg.Logger,
		now:      time.Now,
		signKeys: make(map[string]cachedKey),
	}
}

// SetClock overrides the time source. Tests only.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Backend exposes the wired backend for key management surfaces (import,
// export, generate) that need no orchestration.
func (e *Engine) Backend() backend.Backend { return e.backend }

// SubmitPassword stores a collected passphrase in the session vault so
// subsequent operations can use it without re-prompting.
func (e *Engine) SubmitPassword(keyID, secret string) error {
	if e.vault == nil {
		return nil
	}
	return e.vault.Put(keyID, secret)
}

// passphraseFor returns the vault passphrase for key, or a typed
// MissingPasswordError so the host can prompt and retry.
func (e *Engine) passphraseFor(key backend.Key) ([]byte, error) {
	if e.cfg.Passwordless {
		return nil, nil
	}
	if e.vault != nil {
		if s, ok := e.vault.Get(key.ID); ok {
			return []byte(s), nil
		}
	}
	return nil, &MissingPasswordError{KeyIDs: []string{key.ID}}
}

// candidatePasswords are every live vault secret, tried in turn against
// locked keys during decryption.
func (e *Engine) candidatePasswords() [][]byte {
	if e.cfg.Passwordless || e.vault == nil {
		return nil
	}
	return e.vault.Secrets()
}
