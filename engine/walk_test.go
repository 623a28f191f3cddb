package engine

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/McFlip/scytale/backend"
	"github.com/McFlip/scytale/discovery"
	"github.com/McFlip/scytale/vault"
)

var twoEncrypted = "From: mallory@example.org\r\n" +
	"Content-Type: multipart/mixed; boundary=\"mix\"\r\n" +
	"\r\n" +
	"--mix\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	armoredMessage("FIRST") +
	"--mix\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	armoredMessage("SECOND") +
	"--mix--\r\n"

func TestComposeGuardStopsAfterFirstContent(t *testing.T) {
	fb := &fakeBackend{plaintext: []byte("SECRET")}
	e := newTestEngine(fb)
	doc := parseDoc(t, twoEncrypted)

	res := e.ProcessDocument(context.Background(), doc, NewWalkContext(true))

	require.Len(t, fb.decrypted, 1, "only the first envelope may reach the backend")
	assert.Contains(t, string(fb.decrypted[0]), "FIRST")
	assert.Equal(t, DecryptionSuccess, res.Decryption["1"])
	_, touched := res.Decryption["2"]
	assert.False(t, touched, "the appended envelope must stay untouched in compose")
}

func TestReadWalkProcessesEveryNode(t *testing.T) {
	fb := &fakeBackend{plaintext: []byte("SECRET")}
	e := newTestEngine(fb)

	res := e.ProcessDocument(context.Background(), parseDoc(t, twoEncrypted), NewWalkContext(false))

	require.Len(t, fb.decrypted, 2)
	assert.Equal(t, DecryptionSuccess, res.Decryption["1"])
	assert.Equal(t, DecryptionSuccess, res.Decryption["2"])
}

func TestSenderRecordedFromEnvelope(t *testing.T) {
	e := newTestEngine(&fakeBackend{})
	wctx := NewWalkContext(false)
	e.ProcessDocument(context.Background(), parseDoc(t, twoEncrypted), wctx)
	assert.Equal(t, "mallory@example.org", wctx.Sender)
}

var singleEncrypted = "From: alice@example.com\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	armoredMessage("CIPHER")

func TestInlineDecryptSplices(t *testing.T) {
	fb := &fakeBackend{plaintext: []byte("the plan")}
	e := newTestEngine(fb)
	doc := parseDoc(t, singleEncrypted)

	res := e.ProcessDocument(context.Background(), doc, NewWalkContext(false))

	assert.Equal(t, DecryptionSuccess, res.Decryption[""])
	assert.Equal(t, "the plan", string(doc.Root.Body))
	assert.True(t, doc.Root.BodyModified)
	assert.Equal(t, []string{""}, doc.WasDecrypted)
	assert.Equal(t, "alice@example.com", doc.Root.Header.Get("From"),
		"envelope headers survive the graft")
}

func TestInlineDecryptWithPrefixIsPartial(t *testing.T) {
	raw := "Content-Type: text/plain\r\n\r\n" +
		"FYI see below\r\n" +
		armoredMessage("CIPHER")
	fb := &fakeBackend{plaintext: []byte("the plan")}
	e := newTestEngine(fb)
	doc := parseDoc(t, raw)

	res := e.ProcessDocument(context.Background(), doc, NewWalkContext(false))

	assert.Equal(t, DecryptionPartial, res.Decryption[""])
	body := string(doc.Root.Body)
	assert.True(t, strings.HasPrefix(body, "FYI see below"))
	assert.True(t, strings.HasSuffix(body, "the plan"))
}

func TestInlineSignedPrefixMarksPartial(t *testing.T) {
	raw := "Content-Type: text/plain\r\n\r\n" +
		"intro the attacker added\r\n" +
		"-----BEGIN PGP SIGNED MESSAGE-----\r\n" +
		"Hash: SHA256\r\n" +
		"\r\n" +
		"hi\r\n" +
		"-----BEGIN PGP SIGNATURE-----\r\n" +
		"SIG\r\n" +
		"-----END PGP SIGNATURE-----\r\n"
	fb := &fakeBackend{sigResult: backend.Signature{Status: backend.SigValid, SignerID: "AB12"}}
	e := newTestEngine(fb)

	res := e.ProcessDocument(context.Background(), parseDoc(t, raw), NewWalkContext(false))

	sig, ok := res.Signatures[""]
	require.True(t, ok)
	assert.Equal(t, backend.SigValid, sig.Status)
	assert.True(t, sig.Partial, "unsigned leading text must be flagged")
}

var mixEncrypted = "Content-Type: multipart/mixed; boundary=\"mix\"\r\n" +
	"\r\n" +
	"--mix\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	armoredMessage("CIPHER") +
	"--mix\r\n" +
	"Content-Type: application/octet-stream; name=\"report.pdf.pgp\"\r\n" +
	"Content-Disposition: attachment; filename=\"report.pdf.pgp\"\r\n" +
	"\r\n" +
	"BLOB\r\n" +
	"--mix\r\n" +
	"Content-Type: application/pdf; name=\"notes.pdf.pgp\"\r\n" +
	"Content-Disposition: attachment; filename=\"notes.pdf.pgp\"\r\n" +
	"\r\n" +
	"PDFDATA\r\n" +
	"--mix--\r\n"

func TestDecryptFlagsEncryptedSiblings(t *testing.T) {
	fb := &fakeBackend{plaintext: []byte("the plan")}
	e := newTestEngine(fb)
	doc := parseDoc(t, mixEncrypted)

	e.ProcessDocument(context.Background(), doc, NewWalkContext(false))

	att := doc.Part("2")
	require.NotNil(t, att)
	assert.Equal(t, "report.pdf", att.Filename)
	assert.True(t, att.NeedsDecryption)

	// a typed part is not a separately encrypted companion, despite the name
	typed := doc.Part("3")
	require.NotNil(t, typed)
	assert.Equal(t, "notes.pdf.pgp", typed.Filename)
	assert.False(t, typed.NeedsDecryption)
}

func TestFailedDecryptRollsBackSiblings(t *testing.T) {
	fb := &fakeBackend{decryptErr: backend.ErrBadPassword}
	e := newTestEngine(fb)
	doc := parseDoc(t, mixEncrypted)
	att := doc.Part("2")
	att.Filename = "report.pdf"
	att.NeedsDecryption = true

	res := e.ProcessDocument(context.Background(), doc, NewWalkContext(false))

	assert.Equal(t, DecryptionFailure, res.Decryption["1"])
	assert.True(t, doc.Part("1").TreatAsContent)
	assert.Equal(t, "report.pdf.pgp", att.Filename)
	assert.False(t, att.NeedsDecryption)

	// a second failed pass must leave the tree exactly as it is
	e.ProcessDocument(context.Background(), doc, NewWalkContext(false))
	assert.Equal(t, "report.pdf.pgp", att.Filename)
	assert.False(t, att.NeedsDecryption)
}

var pgpMime = "From: alice@example.com\r\n" +
	"Subject: secret plans\r\n" +
	"Content-Type: multipart/encrypted; protocol=\"application/pgp-encrypted\"; boundary=\"enc\"\r\n" +
	"\r\n" +
	"--enc\r\n" +
	"Content-Type: application/pgp-encrypted\r\n" +
	"\r\n" +
	"Version: 1\r\n" +
	"--enc\r\n" +
	"Content-Type: application/octet-stream\r\n" +
	"\r\n" +
	"CIPHERTEXT\r\n" +
	"--enc--\r\n"

var revealedMixed = "Content-Type: multipart/mixed; boundary=\"in\"\r\n" +
	"\r\n" +
	"--in\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"the plan\r\n" +
	"--in\r\n" +
	"Content-Type: application/pdf; name=\"plan.pdf\"\r\n" +
	"\r\n" +
	"PDF\r\n" +
	"--in--\r\n"

func TestEncryptedMIMEGraftsRevealedTree(t *testing.T) {
	fb := &fakeBackend{
		plaintext:  []byte(revealedMixed),
		decryptSig: &backend.Signature{Status: backend.SigValid, SignerID: "CAFE"},
	}
	e := newTestEngine(fb)
	doc := parseDoc(t, pgpMime)

	res := e.ProcessDocument(context.Background(), doc, NewWalkContext(false))

	require.Len(t, fb.decrypted, 1)
	assert.Equal(t, "CIPHERTEXT", string(fb.decrypted[0]))
	assert.Equal(t, DecryptionSuccess, res.Decryption[""])
	assert.Equal(t, "CAFE", res.Signatures[""].SignerID)
	assert.Equal(t, "multipart/mixed", doc.Root.ContentType)
	assert.Equal(t, "secret plans", doc.Root.Header.Get("Subject"))
	assert.Equal(t, []string{"", "1", "2"}, doc.WasDecrypted)
}

func TestNestedSignedInsideEncrypted(t *testing.T) {
	revealedSigned := "Content-Type: multipart/signed; protocol=\"application/pgp-signature\"; boundary=\"sig\"\r\n" +
		"\r\n" +
		"--sig\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"signed plan\r\n" +
		"--sig\r\n" +
		"Content-Type: application/pgp-signature\r\n" +
		"\r\n" +
		"SIGDATA\r\n" +
		"--sig--\r\n"
	fb := &fakeBackend{
		plaintext: []byte(revealedSigned),
		sigResult: backend.Signature{Status: backend.SigValid, SignerID: "AB12"},
	}
	e := newTestEngine(fb)
	doc := parseDoc(t, pgpMime)

	res := e.ProcessDocument(context.Background(), doc, NewWalkContext(false))

	require.Len(t, fb.verified, 1, "revealed tree gets re-walked")
	assert.Equal(t, "Content-Type: text/plain\r\n\r\nsigned plan", string(fb.verified[0]))
	assert.Equal(t, "SIGDATA", string(fb.verSigs[0]))
	assert.Equal(t, backend.SigValid, res.Signatures[""].Status)
}

func TestSignedContainerVerifiesExactBytes(t *testing.T) {
	raw := "Content-Type: multipart/signed; protocol=\"application/pkcs7-signature\"; micalg=sha-256; boundary=\"b\"\r\n" +
		"\r\n" +
		"--b\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"hello\r\n" +
		"--b\r\n" +
		"Content-Type: application/pkcs7-signature; name=\"smime.p7s\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		base64.StdEncoding.EncodeToString([]byte("DERSIG")) + "\r\n" +
		"--b--\r\n"
	fb := &fakeBackend{sigResult: backend.Signature{Status: backend.SigValid}}
	e := newTestEngine(fb)
	doc := parseDoc(t, raw)

	res := e.ProcessDocument(context.Background(), doc, NewWalkContext(false))

	require.Len(t, fb.verified, 1)
	assert.Equal(t, "Content-Type: text/plain\r\n\r\nhello", string(fb.verified[0]),
		"the backend must see the exact signed octets, headers included")
	assert.Equal(t, "DERSIG", string(fb.verSigs[0]), "p7s travels base64 encoded")
	assert.Equal(t, backend.SigValid, res.Signatures[""].Status)
}

func TestOpaqueSignedData(t *testing.T) {
	raw := "Content-Type: application/pkcs7-mime; smime-type=signed-data; name=\"smime.p7m\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		base64.StdEncoding.EncodeToString([]byte("SIGNEDBLOB"))
	fb := &fakeBackend{sigResult: backend.Signature{Status: backend.SigValid, SignerID: "C0DE"}}
	e := newTestEngine(fb)
	doc := parseDoc(t, raw)

	res := e.ProcessDocument(context.Background(), doc, NewWalkContext(false))

	require.Len(t, fb.verified, 1)
	assert.Equal(t, "SIGNEDBLOB", string(fb.verified[0]))
	assert.Equal(t, "C0DE", res.Signatures[""].SignerID)
	assert.True(t, doc.Root.TreatAsContent)
}

func TestEnvelopedP7MDecryptsAndGrafts(t *testing.T) {
	raw := "Content-Type: application/pkcs7-mime; smime-type=enveloped-data; name=\"smime.p7m\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		base64.StdEncoding.EncodeToString([]byte("ENVBLOB"))
	fb := &fakeBackend{plaintext: []byte("Content-Type: text/plain\r\n\r\nfrom smime")}
	e := newTestEngine(fb)
	doc := parseDoc(t, raw)

	res := e.ProcessDocument(context.Background(), doc, NewWalkContext(false))

	require.Len(t, fb.decrypted, 1)
	assert.Equal(t, "ENVBLOB", string(fb.decrypted[0]))
	assert.Equal(t, DecryptionSuccess, res.Decryption[""])
	assert.Equal(t, "text/plain", doc.Root.ContentType)
	assert.Equal(t, "from smime", string(doc.Root.Body))
}

func TestDecryptAttachmentOnOpen(t *testing.T) {
	fb := &fakeBackend{plaintext: []byte("attachment plaintext")}
	e := newTestEngine(fb)
	doc := parseDoc(t, mixEncrypted)

	got, err := e.DecryptAttachment(doc, "2")
	require.NoError(t, err)
	assert.Equal(t, "attachment plaintext", string(got))
	assert.Equal(t, "BLOB", string(fb.decrypted[0]))

	_, err = e.DecryptAttachment(doc, "9")
	assert.Error(t, err)
}

var clearSignedFromMallory = "From: mallory@example.org\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"-----BEGIN PGP SIGNED MESSAGE-----\r\n" +
	"Hash: SHA256\r\n" +
	"\r\n" +
	"hi\r\n" +
	"-----BEGIN PGP SIGNATURE-----\r\n" +
	"SIG\r\n" +
	"-----END PGP SIGNATURE-----\r\n"

func TestMissingSignerKeyTriggersDiscovery(t *testing.T) {
	fb := &fakeBackend{sigQueue: []backend.Signature{
		{Status: backend.SigKeyMissing},
		{Status: backend.SigValid, SignerID: "AB12"},
	}}
	dir := discovery.New(grantResolver{payload: []byte("KEY")}, fb,
		[]string{"example.org"}, zerolog.Nop())
	e := New(fb, vault.New(nil, 0), dir, Config{Passwordless: true, Logger: zerolog.Nop()})

	res := e.ProcessDocument(context.Background(), parseDoc(t, clearSignedFromMallory), NewWalkContext(false))

	require.Len(t, fb.verified, 2, "sender key discovery earns one retry")
	assert.Equal(t, backend.SigValid, res.Signatures[""].Status)
	assert.Equal(t, "AB12", res.Signatures[""].SignerID)
}

func TestMissingSignerKeyWithoutDirectory(t *testing.T) {
	fb := &fakeBackend{sigResult: backend.Signature{Status: backend.SigKeyMissing}}
	e := newTestEngine(fb)

	res := e.ProcessDocument(context.Background(), parseDoc(t, clearSignedFromMallory), NewWalkContext(false))

	require.Len(t, fb.verified, 1)
	assert.Equal(t, backend.SigKeyMissing, res.Signatures[""].Status)
}

func TestSenderFollowsRevealedMessage(t *testing.T) {
	revealed := "From: bob@example.org\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"hi"
	fb := &fakeBackend{plaintext: []byte(revealed)}
	e := newTestEngine(fb)
	wctx := NewWalkContext(false)

	e.ProcessDocument(context.Background(), parseDoc(t, pgpMime), wctx)

	assert.Equal(t, "bob@example.org", wctx.Sender, "nested message carries its own sender")
}

func TestEncryptedMIMEWrongSecondPartType(t *testing.T) {
	raw := "Content-Type: multipart/encrypted; protocol=\"application/pgp-encrypted\"; boundary=\"enc\"\r\n" +
		"\r\n" +
		"--enc\r\n" +
		"Content-Type: application/pgp-encrypted\r\n" +
		"\r\n" +
		"Version: 1\r\n" +
		"--enc\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"not a ciphertext part\r\n" +
		"--enc--\r\n"
	fb := &fakeBackend{plaintext: []byte("SECRET")}
	e := newTestEngine(fb)
	doc := parseDoc(t, raw)

	res := e.ProcessDocument(context.Background(), doc, NewWalkContext(false))

	assert.Empty(t, fb.decrypted, "a malformed container must never reach the backend")
	assert.Empty(t, res.Decryption)
	assert.NotNil(t, doc.Part("2"), "structure left intact")
}
