// Package smime implements the backend contract for S/MIME on top of
// mozilla's pkcs7 package. Key material arrives either as cert/key files
// (PKCS8, possibly password-protected) or as .p12 containers, the same two
// paths the getkeys workflow supports.
package smime

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"math/big"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/youmark/pkcs8"
	"go.mozilla.org/pkcs7"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/McFlip/scytale/backend"
)

// identity pairs a certificate with its private key, when we hold one.
type identity struct {
	cert *x509.Certificate
	key  crypto.PrivateKey
}

// Backend is an S/MIME crypto backend over an in-memory cert store.
type Backend struct {
	ids []identity
}

// New returns an empty S/MIME backend.
func New() *Backend {
	return &Backend{}
}

func (b *Backend) Init() error {
	// GCM keeps us off the pkcs7 default DES-CBC-EDE3.
	pkcs7.ContentEncryptionAlgorithm = pkcs7.EncryptionAlgorithmAES128GCM
	return nil
}

func (b *Backend) Scheme() string { return "smime" }

func (b *Backend) Capabilities() map[string]bool {
	return map[string]bool{
		backend.FeatureSign:     true,
		backend.FeatureEncrypt:  true,
		backend.FeatureGenerate: true,
		backend.FeatureImport:   true,
		backend.FeatureExport:   true,
	}
}

func (b *Backend) ListKeys(pattern string) ([]backend.Key, error) {
	pattern = strings.ToLower(pattern)
	var keys []backend.Key
	for _, id := range b.ids {
		k := toKey(id)
		if pattern == "" || matches(k, pattern) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (b *Backend) GetKey(id string) (backend.Key, error) {
	if i := b.find(id); i >= 0 {
		return toKey(b.ids[i]), nil
	}
	return backend.Key{}, eris.Wrapf(backend.ErrKeyNotFound, "smime key %q", id)
}

func (b *Backend) DeleteKey(id string) error {
	if i := b.find(id); i >= 0 {
		b.ids = append(b.ids[:i], b.ids[i+1:]...)
		return nil
	}
	return eris.Wrapf(backend.ErrKeyNotFound, "smime key %q", id)
}

// GenerateKey makes a self-signed email certificate. Real deployments get
// certs from a registration authority; self-signed covers tests and local
// use.
func (b *Backend) GenerateKey(params backend.GenParams) (backend.Key, error) {
	bits := params.Bits
	if bits == 0 {
		bits = 2048
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return backend.Key{}, eris.Wrap(err, "generate rsa key")
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return backend.Key{}, eris.Wrap(err, "generate serial")
	}
	tmpl := &x509.Certificate{
		SerialNumber:   serial,
		Subject:        pkix.Name{CommonName: params.Name},
		EmailAddresses: []string{params.Email},
		NotBefore:      time.Now().Add(-time.Hour),
		NotAfter:       time.Now().AddDate(3, 0, 0),
		KeyUsage:       x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageDataEncipherment,
		ExtKeyUsage:    []x509.ExtKeyUsage{x509.ExtKeyUsageEmailProtection},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		return backend.Key{}, eris.Wrap(err, "self-sign certificate")
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return backend.Key{}, eris.Wrap(err, "parse generated certificate")
	}
	id := identity{cert: cert, key: priv}
	b.ids = append(b.ids, id)
	return toKey(id), nil
}

// ImportKeys loads public certificates from PEM or raw DER. Private key
// import goes through ImportPKCS12 or ImportPKCS8 because both need a
// password alongside the data.
func (b *Backend) ImportKeys(data []byte) (backend.ImportResult, error) {
	var res backend.ImportResult
	rest := data
	sawPEM := false
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		sawPEM = true
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return res, eris.Wrap(backend.ErrMalformedInput, err.Error())
		}
		b.addCert(cert, &res)
	}
	if sawPEM {
		return res, nil
	}
	cert, err := x509.ParseCertificate(data)
	if err != nil {
		return res, eris.Wrap(backend.ErrMalformedInput, err.Error())
	}
	b.addCert(cert, &res)
	return res, nil
}

// ImportPKCS12 unpacks a .p12 container holding one cert/key pair, the way
// the getkeys workflow receives custodian credentials.
func (b *Backend) ImportPKCS12(data []byte, password string) (backend.ImportResult, error) {
	var res backend.ImportResult
	key, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "password") ||
			strings.Contains(strings.ToLower(err.Error()), "decryption") {
			return res, eris.Wrap(backend.ErrBadPassword, err.Error())
		}
		return res, eris.Wrap(backend.ErrMalformedInput, err.Error())
	}
	b.addPair(cert, key, &res)
	return res, nil
}

// ImportPKCS8 pairs a DER certificate with a (possibly password-protected)
// PKCS8 private key.
func (b *Backend) ImportPKCS8(certDER, keyDER []byte, password string) (backend.ImportResult, error) {
	var res backend.ImportResult
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return res, eris.Wrap(backend.ErrMalformedInput, err.Error())
	}
	var key interface{}
	if password == "" {
		key, err = pkcs8.ParsePKCS8PrivateKey(keyDER)
	} else {
		key, err = pkcs8.ParsePKCS8PrivateKey(keyDER, []byte(password))
	}
	if err != nil {
		return res, eris.Wrap(backend.ErrBadPassword, err.Error())
	}
	b.addPair(cert, key, &res)
	return res, nil
}

func (b *Backend) addCert(cert *x509.Certificate, res *backend.ImportResult) {
	if i := b.find(certID(cert)); i >= 0 {
		res.PublicUnchanged++
		return
	}
	b.ids = append(b.ids, identity{cert: cert})
	res.PublicImported++
}

func (b *Backend) addPair(cert *x509.Certificate, key crypto.PrivateKey, res *backend.ImportResult) {
	if i := b.find(certID(cert)); i >= 0 {
		res.PublicUnchanged++
		if b.ids[i].key == nil {
			b.ids[i].key = key
			res.PrivateImported++
		} else {
			res.PrivateUnchanged++
		}
		return
	}
	b.ids = append(b.ids, identity{cert: cert, key: key})
	res.PublicImported++
	res.PrivateImported++
}

// ExportKey emits the certificate as PEM; with includePrivate the PKCS8 key
// is appended (unencrypted — protecting the export is the caller's job).
func (b *Backend) ExportKey(id string, includePrivate bool) ([]byte, error) {
	i := b.find(id)
	if i < 0 {
		return nil, eris.Wrapf(backend.ErrKeyNotFound, "smime key %q", id)
	}
	out := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: b.ids[i].cert.Raw})
	if includePrivate {
		if b.ids[i].key == nil {
			return nil, eris.Wrapf(backend.ErrKeyNotFound, "no private key for %q", id)
		}
		der, err := x509.MarshalPKCS8PrivateKey(b.ids[i].key)
		if err != nil {
			return nil, eris.Wrap(backend.ErrBackendFailure, err.Error())
		}
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})...)
	}
	return out, nil
}

// Sign produces a PKCS7 signed-data blob over body; detached mode drops the
// content for transport as a multipart/signed second part.
func (b *Backend) Sign(body []byte, key backend.Key, mode backend.SignMode, _ []byte) ([]byte, error) {
	i := b.find(key.ID)
	if i < 0 || b.ids[i].key == nil {
		return nil, eris.Wrapf(backend.ErrKeyNotFound, "signing key %q", key.ID)
	}
	sd, err := pkcs7.NewSignedData(body)
	if err != nil {
		return nil, eris.Wrap(backend.ErrBackendFailure, err.Error())
	}
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	signer, ok := b.ids[i].key.(crypto.Signer)
	if !ok {
		return nil, eris.Wrap(backend.ErrBackendFailure, "private key cannot sign")
	}
	if err := sd.AddSigner(b.ids[i].cert, signer, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, eris.Wrap(backend.ErrBackendFailure, err.Error())
	}
	if mode == backend.SignDetached {
		sd.Detach()
	}
	out, err := sd.Finish()
	if err != nil {
		return nil, eris.Wrap(backend.ErrBackendFailure, err.Error())
	}
	return out, nil
}

// Verify checks a signed-data blob. For detached signatures body is the
// signed content and detachedSig the DER signature; for opaque signatures
// body is the whole blob. The signer chain is handed back so callers can
// harvest discovered certificates.
func (b *Backend) Verify(body []byte, detachedSig []byte) (backend.Signature, error) {
	der := body
	if detachedSig != nil {
		der = detachedSig
	}
	p7, err := pkcs7.Parse(der)
	if err != nil {
		return backend.Signature{Status: backend.SigError},
			eris.Wrap(backend.ErrMalformedInput, err.Error())
	}
	if detachedSig != nil {
		p7.Content = body
	}
	sig := backend.Signature{SignerCerts: p7.Certificates}
	if err := p7.Verify(); err != nil {
		sig.Status = backend.SigInvalid
		return sig, nil
	}
	sig.Status = backend.SigValid
	if signer := p7.GetOnlySigner(); signer != nil {
		sig.SignerID = certID(signer)
		sig.SignerName = signer.Subject.CommonName
	}
	return sig, nil
}

func (b *Backend) Encrypt(body []byte, to []backend.Key, signKey *backend.Key, passphrase []byte) ([]byte, error) {
	var certs []*x509.Certificate
	for _, k := range to {
		i := b.find(k.ID)
		if i < 0 {
			return nil, eris.Wrapf(backend.ErrKeyNotFound, "recipient key %q", k.ID)
		}
		certs = append(certs, b.ids[i].cert)
	}
	content := body
	if signKey != nil {
		signed, err := b.Sign(body, *signKey, backend.SignClear, passphrase)
		if err != nil {
			return nil, err
		}
		content = signed
	}
	out, err := pkcs7.Encrypt(content, certs)
	if err != nil {
		return nil, eris.Wrap(backend.ErrBackendFailure, err.Error())
	}
	return out, nil
}

// Decrypt opens an enveloped-data blob by trying every identity that holds
// a private key, the same walk the decipher loop does over its keyring.
func (b *Backend) Decrypt(body []byte, _ [][]byte) ([]byte, *backend.Signature, error) {
	p7, err := pkcs7.Parse(body)
	if err != nil {
		return nil, nil, eris.Wrap(backend.ErrMalformedInput, err.Error())
	}
	var lastErr error
	for _, id := range b.ids {
		if id.key == nil {
			continue
		}
		pt, err := p7.Decrypt(id.cert, id.key)
		if err == nil {
			return b.unwrapSigned(pt)
		}
		lastErr = err
	}
	if lastErr == nil {
		return nil, nil, eris.Wrap(backend.ErrKeyNotFound, "no private key can open envelope")
	}
	return nil, nil, eris.Wrap(backend.ErrKeyNotFound, lastErr.Error())
}

// unwrapSigned peels an inner signed-data layer (sign-then-encrypt) and
// reports its verification outcome alongside the plaintext.
func (b *Backend) unwrapSigned(pt []byte) ([]byte, *backend.Signature, error) {
	p7, err := pkcs7.Parse(pt)
	if err != nil || len(p7.Signers) == 0 {
		return pt, nil, nil
	}
	sig := backend.Signature{SignerCerts: p7.Certificates}
	if err := p7.Verify(); err != nil {
		sig.Status = backend.SigInvalid
	} else {
		sig.Status = backend.SigValid
		if signer := p7.GetOnlySigner(); signer != nil {
			sig.SignerID = certID(signer)
			sig.SignerName = signer.Subject.CommonName
		}
	}
	return p7.Content, &sig, nil
}

func (b *Backend) find(id string) int {
	id = strings.ToLower(strings.TrimSpace(id))
	for i, cand := range b.ids {
		if certID(cand.cert) == id {
			return i
		}
	}
	return -1
}

// certID is the lowercase hex SHA1 of the DER certificate, matching the
// fingerprint filenames the key extraction workflow writes.
func certID(cert *x509.Certificate) string {
	sum := sha1.Sum(cert.Raw)
	return hex.EncodeToString(sum[:])
}

func matches(k backend.Key, lowered string) bool {
	if strings.Contains(strings.ToLower(k.Name), lowered) {
		return true
	}
	for _, e := range k.Emails {
		if strings.Contains(strings.ToLower(e), lowered) {
			return true
		}
	}
	return false
}

func toKey(id identity) backend.Key {
	k := backend.Key{
		ID:     certID(id.cert),
		Name:   id.cert.Subject.CommonName,
		Emails: id.cert.EmailAddresses,
		Type:   backend.TypePublic,
	}
	if id.key != nil {
		k.Type = backend.TypeKeyPair
	}
	var caps backend.Capability
	if id.cert.KeyUsage&x509.KeyUsageDigitalSignature != 0 {
		caps |= backend.CanSign
	}
	if id.cert.KeyUsage&(x509.KeyUsageKeyEncipherment|x509.KeyUsageDataEncipherment) != 0 {
		caps |= backend.CanEncrypt
	}
	if caps == 0 {
		caps = backend.CanSign | backend.CanEncrypt
	}
	k.Subkeys = []backend.Subkey{{
		Fingerprint:  k.ID,
		Capabilities: caps,
		CreationTime: id.cert.NotBefore,
	}}
	return k
}

var _ backend.Backend = (*Backend)(nil)
