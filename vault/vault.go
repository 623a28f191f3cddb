// Package vault is the session-scoped passphrase store. It owns only the
// logical map and the TTL sweep; where and how the blob is persisted and
// encrypted at rest belongs to the host session store behind the Store
// port.
package vault

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// Store is the narrow persistence port. Load returns nil, nil when no blob
// exists yet.
type Store interface {
	Load() ([]byte, error)
	Save(blob []byte) error
}

// Entry is one captured passphrase. The wire shape is the two-element array
// [secret, capturedAtEpochSeconds].
type Entry struct {
	Secret     string
	CapturedAt int64
}

func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{e.Secret, e.CapturedAt})
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[0], &e.Secret); err != nil {
		return err
	}
	return json.Unmarshal(raw[1], &e.CapturedAt)
}

// Vault maps key ids to passphrases with lazy TTL expiry. A ttl of zero
// disables expiry entirely. Not safe for concurrent use; a concurrent host
// must serialize access per session.
type Vault struct {
	store   Store
	ttl     time.Duration
	now     func() time.Time
	entries map[string]Entry
	loaded  bool
}

// New returns a vault backed by store. Entries older than ttl are purged on
// every read.
func New(store Store, ttl time.Duration) *Vault {
	return &Vault{
		store: store,
		ttl:   ttl,
		now:   time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (v *Vault) SetClock(now func() time.Time) { v.now = now }

func (v *Vault) load() error {
	if v.loaded {
		return nil
	}
	v.entries = make(map[string]Entry)
	v.loaded = true
	if v.store == nil {
		return nil
	}
	blob, err := v.store.Load()
	if err != nil {
		return eris.Wrap(err, "load password vault")
	}
	if len(blob) == 0 {
		return nil
	}
	if err := json.Unmarshal(blob, &v.entries); err != nil {
		return eris.Wrap(err, "decode password vault")
	}
	return nil
}

func (v *Vault) persist() error {
	if v.store == nil {
		return nil
	}
	blob, err := json.Marshal(v.entries)
	if err != nil {
		return eris.Wrap(err, "encode password vault")
	}
	if err := v.store.Save(blob); err != nil {
		return eris.Wrap(err, "save password vault")
	}
	return nil
}

// sweep drops entries older than now-ttl and persists when anything fell
// out. Runs on every read so stale secrets never outlive the window.
func (v *Vault) sweep() {
	if v.ttl <= 0 {
		return
	}
	cutoff := v.now().Add(-v.ttl).Unix()
	dirty := false
	for id, e := range v.entries {
		if e.CapturedAt < cutoff {
			delete(v.entries, id)
			dirty = true
		}
	}
	if dirty {
		_ = v.persist()
	}
}

// Get returns the live passphrase for keyID, if any.
func (v *Vault) Get(keyID string) (string, bool) {
	if err := v.load(); err != nil {
		return "", false
	}
	v.sweep()
	e, ok := v.entries[keyID]
	return e.Secret, ok
}

// Put records a passphrase for keyID and persists the whole vault.
func (v *Vault) Put(keyID, secret string) error {
	if err := v.load(); err != nil {
		return err
	}
	v.entries[keyID] = Entry{Secret: secret, CapturedAt: v.now().Unix()}
	return v.persist()
}

// Secrets returns every live passphrase, for use as decryption candidates.
func (v *Vault) Secrets() [][]byte {
	if err := v.load(); err != nil {
		return nil
	}
	v.sweep()
	out := make([][]byte, 0, len(v.entries))
	for _, e := range v.entries {
		out = append(out, []byte(e.Secret))
	}
	return out
}

// Clear wipes the vault, e.g. on logout.
func (v *Vault) Clear() error {
	v.entries = make(map[string]Entry)
	v.loaded = true
	return v.persist()
}
