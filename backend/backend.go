// Package backend defines the crypto backend contract shared by the PGP and
// S/MIME implementations, plus the key and signature value types the engine
// works with. The engine never touches crypto primitives directly; it only
// talks to a Backend.
package backend

import (
	"crypto/x509"
	"strings"
	"time"
)

// KeyType distinguishes public-only keys from full key pairs.
type KeyType int

const (
	TypePublic KeyType = iota
	TypeKeyPair
)

// Capability is a subkey capability bit set.
type Capability uint8

const (
	CanSign Capability = 1 << iota
	CanEncrypt
)

// Subkey is one signing or encryption subkey of a Key. For S/MIME there is
// exactly one, synthesized from the certificate.
type Subkey struct {
	Fingerprint  string
	Capabilities Capability
	CreationTime time.Time
}

// Key is an immutable per-operation snapshot of a backend key.
type Key struct {
	ID      string
	Name    string
	Emails  []string
	Type    KeyType
	Subkeys []Subkey
}

// Matches reports whether the key carries the given email address.
func (k Key) Matches(address string) bool {
	for _, e := range k.Emails {
		if strings.EqualFold(e, address) {
			return true
		}
	}
	return false
}

// BestSubkey returns the most recently created subkey carrying want.
// Recency, not insertion order, breaks ties between qualifying subkeys.
func (k Key) BestSubkey(want Capability) (Subkey, bool) {
	var best Subkey
	found := false
	for _, sk := range k.Subkeys {
		if sk.Capabilities&want == 0 {
			continue
		}
		if !found || sk.CreationTime.After(best.CreationTime) {
			best = sk
			found = true
		}
	}
	return best, found
}

// SigStatus is the outcome of a signature verification.
type SigStatus int

const (
	SigValid SigStatus = iota
	SigInvalid
	SigKeyMissing
	SigError
)

func (s SigStatus) String() string {
	switch s {
	case SigValid:
		return "valid"
	case SigInvalid:
		return "invalid"
	case SigKeyMissing:
		return "key not found"
	default:
		return "error"
	}
}

// Signature is a verification outcome. Partial is set when only a suffix of
// the original text was covered by the signature (inline clear-sign with
// leading unprotected text). SignerCerts carries the harvested signer chain
// for S/MIME so callers can persist discovered certificates.
type Signature struct {
	Status      SigStatus
	SignerID    string
	SignerName  string
	Partial     bool
	SignerCerts []*x509.Certificate
}

// SignMode selects between inline clear-signing and a detached signature.
type SignMode int

const (
	SignClear SignMode = iota
	SignDetached
)

// GenParams are the inputs to key generation.
type GenParams struct {
	Name  string
	Email string
	Bits  int
}

// ImportResult counts the effect of a key import.
type ImportResult struct {
	PublicImported   int
	PrivateImported  int
	PublicUnchanged  int
	PrivateUnchanged int
}

// Feature flags reported by Capabilities.
const (
	FeatureSign     = "sign"
	FeatureEncrypt  = "encrypt"
	FeatureGenerate = "generate"
	FeatureImport   = "import"
	FeatureExport   = "export"
)

// Backend is the per-scheme crypto contract. PGP and S/MIME implement it
// independently behind the same shape; the engine is handed exactly one.
//
// All fallible operations return errors classifiable with eris.Is against
// the sentinels in errors.go: ErrKeyNotFound, ErrBadPassword and
// ErrBackendFailure at minimum.
type Backend interface {
	Init() error
	Scheme() string
	ListKeys(pattern string) ([]Key, error)
	GetKey(id string) (Key, error)
	DeleteKey(id string) error
	GenerateKey(params GenParams) (Key, error)
	ImportKeys(data []byte) (ImportResult, error)
	ExportKey(id string, includePrivate bool) ([]byte, error)

	// Sign signs body with the private key identified by key.ID. The
	// passphrase unlocks the key when it is stored encrypted.
	Sign(body []byte, key Key, mode SignMode, passphrase []byte) ([]byte, error)

	// Verify checks an inline signature in body, or, when detachedSig is
	// non-nil, the detached signature over body.
	Verify(body []byte, detachedSig []byte) (Signature, error)

	// Encrypt encrypts body to the recipient keys, optionally co-signing
	// with signKey.
	Encrypt(body []byte, to []Key, signKey *Key, passphrase []byte) ([]byte, error)

	// Decrypt decrypts body, trying each candidate passphrase against
	// locked private keys. The returned Signature is non-zero only when
	// the plaintext carried an embedded signature.
	Decrypt(body []byte, candidatePasswords [][]byte) ([]byte, *Signature, error)

	Capabilities() map[string]bool
}
