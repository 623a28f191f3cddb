package engine

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/McFlip/scytale/backend"
	"github.com/McFlip/scytale/mimetree"
	"github.com/McFlip/scytale/vault"
)

// fakeBackend is a scriptable Backend that records what it was asked to do.
type fakeBackend struct {
	scheme    string
	keys      []backend.Key
	listErr   error
	listCalls int

	plaintext  []byte
	decryptSig *backend.Signature
	decryptErr error
	decrypted  [][]byte

	sigResult backend.Signature
	sigQueue  []backend.Signature
	verifyErr error
	verified  [][]byte
	verSigs   [][]byte

	signOut  []byte
	signErr  error
	signBody []byte
	signMode backend.SignMode
	signPw   []byte

	encryptOut     []byte
	encryptErr     error
	encryptTo      []backend.Key
	encryptBody    []byte
	encryptSignKey *backend.Key

	exportOut []byte
	exportErr error
}

func (f *fakeBackend) Init() error { return nil }

func (f *fakeBackend) Scheme() string {
	if f.scheme == "" {
		return "pgp"
	}
	return f.scheme
}

func (f *fakeBackend) ListKeys(pattern string) ([]backend.Key, error) {
	f.listCalls++
	return f.keys, f.listErr
}

func (f *fakeBackend) GetKey(id string) (backend.Key, error) {
	for _, k := range f.keys {
		if k.ID == id {
			return k, nil
		}
	}
	return backend.Key{}, backend.ErrKeyNotFound
}

func (f *fakeBackend) DeleteKey(id string) error { return nil }

func (f *fakeBackend) GenerateKey(params backend.GenParams) (backend.Key, error) {
	return backend.Key{}, eris.New("not scripted")
}

func (f *fakeBackend) ImportKeys(data []byte) (backend.ImportResult, error) {
	return backend.ImportResult{}, nil
}

func (f *fakeBackend) ExportKey(id string, includePrivate bool) ([]byte, error) {
	return f.exportOut, f.exportErr
}

func (f *fakeBackend) Sign(body []byte, key backend.Key, mode backend.SignMode, passphrase []byte) ([]byte, error) {
	f.signBody = body
	f.signMode = mode
	f.signPw = passphrase
	return f.signOut, f.signErr
}

func (f *fakeBackend) Verify(body, detachedSig []byte) (backend.Signature, error) {
	f.verified = append(f.verified, body)
	f.verSigs = append(f.verSigs, detachedSig)
	if len(f.sigQueue) > 0 {
		sig := f.sigQueue[0]
		f.sigQueue = f.sigQueue[1:]
		return sig, f.verifyErr
	}
	return f.sigResult, f.verifyErr
}

func (f *fakeBackend) Encrypt(body []byte, to []backend.Key, signKey *backend.Key, passphrase []byte) ([]byte, error) {
	if f.encryptErr != nil {
		return nil, f.encryptErr
	}
	f.encryptBody = body
	f.encryptTo = to
	f.encryptSignKey = signKey
	return f.encryptOut, nil
}

func (f *fakeBackend) Decrypt(body []byte, candidatePasswords [][]byte) ([]byte, *backend.Signature, error) {
	f.decrypted = append(f.decrypted, body)
	if f.decryptErr != nil {
		return nil, nil, f.decryptErr
	}
	return f.plaintext, f.decryptSig, nil
}

func (f *fakeBackend) Capabilities() map[string]bool { return map[string]bool{} }

func newTestEngine(fb *fakeBackend) *Engine {
	return New(fb, vault.New(nil, 0), nil, Config{Passwordless: true, Logger: zerolog.Nop()})
}

func parseDoc(t *testing.T, raw string) *mimetree.Document {
	t.Helper()
	root, err := mimetree.ReadTree([]byte(raw))
	require.NoError(t, err)
	return mimetree.NewDocument(root, nil)
}

func armoredMessage(label string) string {
	return "-----BEGIN PGP MESSAGE-----\r\n" + label + "\r\n-----END PGP MESSAGE-----\r\n"
}
