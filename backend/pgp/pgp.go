// Package pgp implements the backend contract over ProtonMail's maintained
// openpgp fork. Keys live in an in-memory keyring owned by the backend; the
// host imports key material through ImportKeys.
package pgp

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
	pgperrors "github.com/ProtonMail/go-crypto/openpgp/errors"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/rotisserie/eris"

	"github.com/McFlip/scytale/backend"
)

const (
	publicKeyType  = "PGP PUBLIC KEY BLOCK"
	privateKeyType = "PGP PRIVATE KEY BLOCK"
	messageType    = "PGP MESSAGE"
)

// Backend is an OpenPGP crypto backend.
type Backend struct {
	entities openpgp.EntityList
}

// New returns an empty PGP backend. Call ImportKeys to load a keyring.
func New() *Backend {
	return &Backend{}
}

func (b *Backend) Init() error    { return nil }
func (b *Backend) Scheme() string { return "pgp" }

func (b *Backend) Capabilities() map[string]bool {
	return map[string]bool{
		backend.FeatureSign:     true,
		backend.FeatureEncrypt:  true,
		backend.FeatureGenerate: true,
		backend.FeatureImport:   true,
		backend.FeatureExport:   true,
	}
}

// ListKeys returns the keys whose identities match pattern. An empty
// pattern lists everything. Matching is a case-insensitive substring check
// against the identity name/email, the way gpg treats a bare pattern.
func (b *Backend) ListKeys(pattern string) ([]backend.Key, error) {
	pattern = strings.ToLower(pattern)
	var keys []backend.Key
	for _, ent := range b.entities {
		if pattern != "" && !entityMatches(ent, pattern) {
			continue
		}
		keys = append(keys, toKey(ent))
	}
	return keys, nil
}

func (b *Backend) GetKey(id string) (backend.Key, error) {
	ent := b.entityByID(id)
	if ent == nil {
		return backend.Key{}, eris.Wrapf(backend.ErrKeyNotFound, "pgp key %q", id)
	}
	return toKey(ent), nil
}

func (b *Backend) DeleteKey(id string) error {
	for i, ent := range b.entities {
		if fingerprint(ent) == normalizeID(id) {
			b.entities = append(b.entities[:i], b.entities[i+1:]...)
			return nil
		}
	}
	return eris.Wrapf(backend.ErrKeyNotFound, "pgp key %q", id)
}

func (b *Backend) GenerateKey(params backend.GenParams) (backend.Key, error) {
	cfg := &packet.Config{RSABits: params.Bits}
	ent, err := openpgp.NewEntity(params.Name, "", params.Email, cfg)
	if err != nil {
		return backend.Key{}, eris.Wrap(err, "generate pgp key")
	}
	b.entities = append(b.entities, ent)
	return toKey(ent), nil
}

// ImportKeys merges armored or binary key material into the keyring and
// reports how many public/private keys were new versus already present.
func (b *Backend) ImportKeys(data []byte) (backend.ImportResult, error) {
	var res backend.ImportResult
	var ents openpgp.EntityList
	var err error
	if bytes.Contains(data, []byte("-----BEGIN PGP")) {
		ents, err = openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	} else {
		ents, err = openpgp.ReadKeyRing(bytes.NewReader(data))
	}
	if err != nil {
		return res, eris.Wrap(backend.ErrMalformedInput, err.Error())
	}
	for _, ent := range ents {
		existing := b.entityByID(fingerprint(ent))
		if existing == nil {
			b.entities = append(b.entities, ent)
			res.PublicImported++
			if ent.PrivateKey != nil {
				res.PrivateImported++
			}
			continue
		}
		res.PublicUnchanged++
		if ent.PrivateKey != nil {
			if existing.PrivateKey == nil {
				existing.PrivateKey = ent.PrivateKey
				res.PrivateImported++
			} else {
				res.PrivateUnchanged++
			}
		}
	}
	return res, nil
}

func (b *Backend) ExportKey(id string, includePrivate bool) ([]byte, error) {
	ent := b.entityByID(id)
	if ent == nil {
		return nil, eris.Wrapf(backend.ErrKeyNotFound, "pgp key %q", id)
	}
	var buf bytes.Buffer
	blockType := publicKeyType
	if includePrivate {
		if ent.PrivateKey == nil {
			return nil, eris.Wrapf(backend.ErrKeyNotFound, "no private key for %q", id)
		}
		blockType = privateKeyType
	}
	aw, err := armor.Encode(&buf, blockType, nil)
	if err != nil {
		return nil, eris.Wrap(err, "armor writer")
	}
	if includePrivate {
		err = ent.SerializePrivate(aw, nil)
	} else {
		err = ent.Serialize(aw)
	}
	if err != nil {
		return nil, eris.Wrap(backend.ErrBackendFailure, err.Error())
	}
	if err := aw.Close(); err != nil {
		return nil, eris.Wrap(backend.ErrBackendFailure, err.Error())
	}
	return buf.Bytes(), nil
}

// Sign clear-signs or detach-signs body with the key's private material.
func (b *Backend) Sign(body []byte, key backend.Key, mode backend.SignMode, passphrase []byte) ([]byte, error) {
	ent := b.entityByID(key.ID)
	if ent == nil || ent.PrivateKey == nil {
		return nil, eris.Wrapf(backend.ErrKeyNotFound, "signing key %q", key.ID)
	}
	if err := unlock(ent, passphrase); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	switch mode {
	case backend.SignClear:
		w, err := clearsign.Encode(&buf, ent.PrivateKey, nil)
		if err != nil {
			return nil, eris.Wrap(backend.ErrBackendFailure, err.Error())
		}
		if _, err := w.Write(body); err != nil {
			return nil, eris.Wrap(backend.ErrBackendFailure, err.Error())
		}
		if err := w.Close(); err != nil {
			return nil, eris.Wrap(backend.ErrBackendFailure, err.Error())
		}
	case backend.SignDetached:
		if err := openpgp.ArmoredDetachSign(&buf, ent, bytes.NewReader(body), nil); err != nil {
			return nil, eris.Wrap(backend.ErrBackendFailure, err.Error())
		}
	}
	return buf.Bytes(), nil
}

// Verify checks a clear-signed body, or a detached armored signature over
// body when detachedSig is non-nil.
func (b *Backend) Verify(body []byte, detachedSig []byte) (backend.Signature, error) {
	if detachedSig != nil {
		signer, err := openpgp.CheckArmoredDetachedSignature(
			b.entities, bytes.NewReader(body), bytes.NewReader(detachedSig), nil)
		return sigResult(signer, err), nil
	}
	block, _ := clearsign.Decode(body)
	if block == nil {
		return backend.Signature{Status: backend.SigError},
			eris.Wrap(backend.ErrMalformedInput, "no clear-signed block")
	}
	_, signer, err := openpgp.VerifyDetachedSignature(
		b.entities, bytes.NewReader(block.Bytes), block.ArmoredSignature.Body, nil)
	return sigResult(signer, err), nil
}

// Encrypt encrypts body to the recipient keys, armored, optionally signed.
func (b *Backend) Encrypt(body []byte, to []backend.Key, signKey *backend.Key, passphrase []byte) ([]byte, error) {
	var recipients []*openpgp.Entity
	for _, k := range to {
		ent := b.entityByID(k.ID)
		if ent == nil {
			return nil, eris.Wrapf(backend.ErrKeyNotFound, "recipient key %q", k.ID)
		}
		recipients = append(recipients, ent)
	}
	var signer *openpgp.Entity
	if signKey != nil {
		signer = b.entityByID(signKey.ID)
		if signer == nil || signer.PrivateKey == nil {
			return nil, eris.Wrapf(backend.ErrKeyNotFound, "signing key %q", signKey.ID)
		}
		if err := unlock(signer, passphrase); err != nil {
			return nil, err
		}
	}
	var buf bytes.Buffer
	aw, err := armor.Encode(&buf, messageType, nil)
	if err != nil {
		return nil, eris.Wrap(err, "armor writer")
	}
	ew, err := openpgp.Encrypt(aw, recipients, signer, nil, nil)
	if err != nil {
		return nil, eris.Wrap(backend.ErrBackendFailure, err.Error())
	}
	if _, err := ew.Write(body); err != nil {
		return nil, eris.Wrap(backend.ErrBackendFailure, err.Error())
	}
	if err := ew.Close(); err != nil {
		return nil, eris.Wrap(backend.ErrBackendFailure, err.Error())
	}
	if err := aw.Close(); err != nil {
		return nil, eris.Wrap(backend.ErrBackendFailure, err.Error())
	}
	return buf.Bytes(), nil
}

// Decrypt decrypts an armored or binary PGP message, trying each candidate
// passphrase against locked private keys. A wrong passphrase surfaces as
// ErrBadPassword so callers can re-prompt instead of failing hard.
func (b *Backend) Decrypt(body []byte, candidatePasswords [][]byte) ([]byte, *backend.Signature, error) {
	var in io.Reader = bytes.NewReader(body)
	if bytes.Contains(body, []byte("-----BEGIN "+messageType+"-----")) {
		block, err := armor.Decode(bytes.NewReader(body))
		if err != nil {
			return nil, nil, eris.Wrap(backend.ErrMalformedInput, err.Error())
		}
		in = block.Body
	}

	badPass := false
	prompt := func(keys []openpgp.Key, symmetric bool) ([]byte, error) {
		for _, k := range keys {
			if k.PrivateKey == nil || !k.PrivateKey.Encrypted {
				continue
			}
			for _, pw := range candidatePasswords {
				if err := k.PrivateKey.Decrypt(pw); err == nil {
					return nil, nil
				}
			}
		}
		badPass = len(candidatePasswords) > 0
		return nil, eris.New("no usable passphrase")
	}

	md, err := openpgp.ReadMessage(in, b.entities, prompt, nil)
	if err != nil {
		switch {
		case badPass:
			return nil, nil, eris.Wrap(backend.ErrBadPassword, err.Error())
		case eris.Is(err, pgperrors.ErrKeyIncorrect):
			return nil, nil, eris.Wrap(backend.ErrKeyNotFound, "no decryption key for message")
		default:
			return nil, nil, eris.Wrap(backend.ErrBackendFailure, err.Error())
		}
	}
	plaintext, err := io.ReadAll(md.UnverifiedBody)
	if err != nil {
		return nil, nil, eris.Wrap(backend.ErrBackendFailure, err.Error())
	}
	var sig *backend.Signature
	if md.IsSigned {
		s := backend.Signature{Status: backend.SigValid}
		if md.SignedBy == nil {
			s.Status = backend.SigKeyMissing
		} else {
			s.SignerID = fmt.Sprintf("%X", md.SignedBy.PublicKey.Fingerprint)
			if md.SignedBy.Entity != nil {
				s.SignerName = primaryName(md.SignedBy.Entity)
			}
			if md.SignatureError != nil {
				s.Status = backend.SigInvalid
			}
		}
		sig = &s
	}
	return plaintext, sig, nil
}

// unlock decrypts the entity's private material in place. Wrong passphrases
// map to ErrBadPassword.
func unlock(ent *openpgp.Entity, passphrase []byte) error {
	if ent.PrivateKey == nil || !ent.PrivateKey.Encrypted {
		return nil
	}
	if len(passphrase) == 0 {
		return eris.Wrap(backend.ErrBadPassword, "key is locked and no passphrase given")
	}
	if err := ent.PrivateKey.Decrypt(passphrase); err != nil {
		return eris.Wrap(backend.ErrBadPassword, err.Error())
	}
	for _, sk := range ent.Subkeys {
		if sk.PrivateKey != nil && sk.PrivateKey.Encrypted {
			// subkeys share the passphrase; a failure here is not fatal
			_ = sk.PrivateKey.Decrypt(passphrase)
		}
	}
	return nil
}

func sigResult(signer *openpgp.Entity, err error) backend.Signature {
	switch {
	case err == nil:
		sig := backend.Signature{Status: backend.SigValid}
		if signer != nil {
			sig.SignerID = fingerprint(signer)
			sig.SignerName = primaryName(signer)
		}
		return sig
	case eris.Is(err, pgperrors.ErrUnknownIssuer):
		return backend.Signature{Status: backend.SigKeyMissing}
	default:
		if _, ok := err.(pgperrors.SignatureError); ok {
			return backend.Signature{Status: backend.SigInvalid}
		}
		return backend.Signature{Status: backend.SigError}
	}
}

func (b *Backend) entityByID(id string) *openpgp.Entity {
	id = normalizeID(id)
	for _, ent := range b.entities {
		fpr := fingerprint(ent)
		if fpr == id || strings.HasSuffix(fpr, id) {
			return ent
		}
	}
	return nil
}

func entityMatches(ent *openpgp.Entity, lowered string) bool {
	for _, ident := range ent.Identities {
		if strings.Contains(strings.ToLower(ident.Name), lowered) {
			return true
		}
		if ident.UserId != nil && strings.Contains(strings.ToLower(ident.UserId.Email), lowered) {
			return true
		}
	}
	return false
}

func fingerprint(ent *openpgp.Entity) string {
	return fmt.Sprintf("%X", ent.PrimaryKey.Fingerprint)
}

func normalizeID(id string) string {
	return strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(id)), "0X")
}

func primaryName(ent *openpgp.Entity) string {
	if ident := ent.PrimaryIdentity(); ident != nil {
		return ident.Name
	}
	return ""
}

// toKey snapshots an entity into the backend key model. The primary key and
// each subkey become Subkey entries with capabilities taken from their
// self-signature flags.
func toKey(ent *openpgp.Entity) backend.Key {
	k := backend.Key{
		ID:   fingerprint(ent),
		Name: primaryName(ent),
		Type: backend.TypePublic,
	}
	if ent.PrivateKey != nil {
		k.Type = backend.TypeKeyPair
	}
	for _, ident := range ent.Identities {
		if ident.UserId != nil && ident.UserId.Email != "" {
			k.Emails = append(k.Emails, ident.UserId.Email)
		}
	}

	var primaryCaps backend.Capability
	if ident := ent.PrimaryIdentity(); ident != nil && ident.SelfSignature != nil {
		primaryCaps = capsFromSig(ident.SelfSignature)
	}
	if primaryCaps == 0 {
		primaryCaps = backend.CanSign
	}
	k.Subkeys = append(k.Subkeys, backend.Subkey{
		Fingerprint:  k.ID,
		Capabilities: primaryCaps,
		CreationTime: ent.PrimaryKey.CreationTime,
	})
	for _, sk := range ent.Subkeys {
		k.Subkeys = append(k.Subkeys, backend.Subkey{
			Fingerprint:  fmt.Sprintf("%X", sk.PublicKey.Fingerprint),
			Capabilities: capsFromSig(sk.Sig),
			CreationTime: sk.PublicKey.CreationTime,
		})
	}
	return k
}

func capsFromSig(sig *packet.Signature) backend.Capability {
	var caps backend.Capability
	if sig == nil || !sig.FlagsValid {
		return caps
	}
	if sig.FlagSign {
		caps |= backend.CanSign
	}
	if sig.FlagEncryptCommunications || sig.FlagEncryptStorage {
		caps |= backend.CanEncrypt
	}
	return caps
}

var _ backend.Backend = (*Backend)(nil)
