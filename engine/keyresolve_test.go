package engine

import (
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/McFlip/scytale/backend"
	"github.com/McFlip/scytale/vault"
)

func keyFor(id, email string, created time.Time, typ backend.KeyType) backend.Key {
	return backend.Key{
		ID:     id,
		Name:   "Test User",
		Emails: []string{email},
		Type:   typ,
		Subkeys: []backend.Subkey{{
			Fingerprint:  id,
			Capabilities: backend.CanSign | backend.CanEncrypt,
			CreationTime: created,
		}},
	}
}

func TestFindKeyPrefersNewestSubkey(t *testing.T) {
	t1 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	fb := &fakeBackend{keys: []backend.Key{
		keyFor("OLD", "alice@example.com", t1, backend.TypeKeyPair),
		keyFor("NEW", "alice@example.com", t2, backend.TypeKeyPair),
	}}
	e := newTestEngine(fb)

	key, err := e.FindKey("alice@example.com", true)
	require.NoError(t, err)
	assert.Equal(t, "NEW", key.ID)
}

func TestFindKeyForSigningNeedsKeyPair(t *testing.T) {
	t1 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	fb := &fakeBackend{keys: []backend.Key{
		keyFor("PAIR", "alice@example.com", t1, backend.TypeKeyPair),
		keyFor("PUB", "alice@example.com", t2, backend.TypePublic),
	}}
	e := newTestEngine(fb)

	key, err := e.FindKey("alice@example.com", true)
	require.NoError(t, err)
	assert.Equal(t, "PAIR", key.ID, "public-only keys cannot sign, despite being newer")

	key, err = e.FindKey("alice@example.com", false)
	require.NoError(t, err)
	assert.Equal(t, "PUB", key.ID, "encryption may use the newer public key")
}

func TestFindKeyNotFound(t *testing.T) {
	e := newTestEngine(&fakeBackend{})
	_, err := e.FindKey("nobody@example.com", false)
	require.Error(t, err)
	var knf *KeyNotFoundError
	require.ErrorAs(t, err, &knf)
	assert.Equal(t, "nobody@example.com", knf.Address)
	assert.True(t, eris.Is(err, backend.ErrKeyNotFound))
}

func TestSigningKeyIsCached(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fb := &fakeBackend{keys: []backend.Key{
		keyFor("A1", "alice@example.com", now.Add(-time.Hour), backend.TypeKeyPair),
	}}
	e := New(fb, vault.New(nil, 0), nil, Config{
		Passwordless:    true,
		SignKeyCacheTTL: 10 * time.Minute,
		Logger:          zerolog.Nop(),
	})
	clock := now
	e.SetClock(func() time.Time { return clock })

	_, err := e.FindKey("alice@example.com", true)
	require.NoError(t, err)
	_, err = e.FindKey("alice@example.com", true)
	require.NoError(t, err)
	assert.Equal(t, 1, fb.listCalls, "second signing lookup hits the cache")

	clock = now.Add(11 * time.Minute)
	_, err = e.FindKey("alice@example.com", true)
	require.NoError(t, err)
	assert.Equal(t, 2, fb.listCalls, "expired cache entries re-resolve")
}

func TestEncryptionLookupNotCached(t *testing.T) {
	fb := &fakeBackend{keys: []backend.Key{
		keyFor("A1", "alice@example.com", time.Now(), backend.TypeKeyPair),
	}}
	e := newTestEngine(fb)

	_, err := e.FindKey("alice@example.com", false)
	require.NoError(t, err)
	_, err = e.FindKey("alice@example.com", false)
	require.NoError(t, err)
	assert.Equal(t, 2, fb.listCalls)
}
