package engine

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/McFlip/scytale/backend"
)

// FindKey resolves the key to use for address. forSigning requires a full
// key pair with a signing-capable subkey; otherwise any key with an
// encryption-capable subkey qualifies. When several keys match, the one
// whose qualifying subkey was created most recently wins. Signing lookups
// are cached per address for SignKeyCacheTTL.
func (e *Engine) FindKey(address string, forSigning bool) (backend.Key, error) {
	addr := strings.ToLower(address)
	if forSigning {
		if c, ok := e.signKeys[addr]; ok {
			if e.cfg.SignKeyCacheTTL <= 0 || e.now().Sub(c.at) < e.cfg.SignKeyCacheTTL {
				return c.key, nil
			}
			delete(e.signKeys, addr)
		}
	}
	keys, err := e.backend.ListKeys(address)
	if err != nil {
		return backend.Key{}, eris.Wrapf(err, "list keys for %s", address)
	}
	want := backend.CanEncrypt
	if forSigning {
		want = backend.CanSign
	}
	var best backend.Key
	var bestAt time.Time
	found := false
	for _, k := range keys {
		if !k.Matches(address) {
			continue
		}
		if forSigning && k.Type != backend.TypeKeyPair {
			continue
		}
		sk, ok := k.BestSubkey(want)
		if !ok {
			continue
		}
		if !found || sk.CreationTime.After(bestAt) {
			best, bestAt, found = k, sk.CreationTime, true
		}
	}
	if !found {
		return backend.Key{}, &KeyNotFoundError{Address: address}
	}
	if forSigning {
		e.signKeys[addr] = cachedKey{key: best, at: e.now()}
	}
	return best, nil
}
