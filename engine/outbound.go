package engine

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"mime"
	"strings"

	"github.com/emersion/go-message/textproto"
	"github.com/rotisserie/eris"

	"github.com/McFlip/scytale/backend"
)

// Mode picks the outbound framing.
type Mode int

const (
	// ModeAuto: container framing for multipart messages, inline armor for
	// single text bodies.
	ModeAuto Mode = iota
	ModeInline
	ModeContainer
)

// Attachment is a file added after security processing, e.g. the sender's
// exported public key.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Outgoing is a composed message on its way out. Body holds the content
// serialization the framing wraps: for multipart content it includes the
// content part's own header block, for simple text it is the bare text.
type Outgoing struct {
	From  string
	To    []string
	Cc    []string
	Draft bool

	Header    textproto.Header
	Body      []byte
	Multipart bool
	Flowed    bool

	Attachments []Attachment
}

// SignMessage signs msg in place. Auto mode clear-signs simple text bodies
// and wraps multipart content in multipart/signed with a detached
// signature. format=flowed text is flattened first; soft line breaks do not
// reliably survive transport under a signature.
func (e *Engine) SignMessage(msg *Outgoing, mode Mode) error {
	key, err := e.FindKey(msg.From, true)
	if err != nil {
		return err
	}
	pw, err := e.passphraseFor(key)
	if err != nil {
		return err
	}
	if mode == ModeAuto {
		if msg.Multipart {
			mode = ModeContainer
		} else {
			mode = ModeInline
		}
	}
	switch mode {
	case ModeInline:
		body := msg.Body
		if msg.Flowed {
			body = unflow(body)
		}
		signed, err := e.backend.Sign(body, key, backend.SignClear, pw)
		if err != nil {
			return e.signError(err, key)
		}
		msg.Body = signed
		if msg.Flowed {
			msg.Flowed = false
			stripFlowedParam(&msg.Header)
		}
	default:
		part := canonicalCRLF(msg.Body)
		sig, err := e.backend.Sign(part, key, backend.SignDetached, pw)
		if err != nil {
			return e.signError(err, key)
		}
		e.wrapSigned(msg, part, sig)
	}
	return nil
}

// EncryptMessage encrypts msg in place to every recipient plus the sender,
// so the sent copy stays readable. Drafts encrypt to the sender only. The
// message is not touched until every recipient resolved and the payload
// encrypted; a missing key aborts cleanly with the recipient's address in
// the error.
func (e *Engine) EncryptMessage(ctx context.Context, msg *Outgoing, mode Mode, alsoSign bool) error {
	recipients := e.recipientList(msg)
	keys := make([]backend.Key, 0, len(recipients))
	for _, addr := range recipients {
		key, err := e.FindKey(addr, false)
		if err != nil && e.dir != nil && e.dir.LookupAddress(ctx, addr) {
			key, err = e.FindKey(addr, false)
		}
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}
	var signKey *backend.Key
	var pw []byte
	if alsoSign {
		k, err := e.FindKey(msg.From, true)
		if err != nil {
			return err
		}
		if pw, err = e.passphraseFor(k); err != nil {
			return err
		}
		signKey = &k
	}
	if mode == ModeAuto {
		if msg.Multipart {
			mode = ModeContainer
		} else {
			mode = ModeInline
		}
	}
	payload := msg.Body
	if mode == ModeContainer {
		payload = canonicalCRLF(msg.Body)
	}
	ciphertext, err := e.backend.Encrypt(payload, keys, signKey, pw)
	if err != nil {
		if eris.Is(err, backend.ErrBadPassword) && signKey != nil {
			return &BadPasswordError{KeyID: signKey.ID}
		}
		return eris.Wrap(err, "encrypt message")
	}
	if mode == ModeInline {
		msg.Body = ciphertext
		return nil
	}
	e.wrapEncrypted(msg, ciphertext)
	return nil
}

// AttachPublicKey appends the sender's exported public key as an
// attachment. Best effort: a failed resolve or export is logged and the
// message goes out without the key.
func (e *Engine) AttachPublicKey(msg *Outgoing) bool {
	key, err := e.FindKey(msg.From, false)
	if err != nil {
		e.log.Debug().Str("from", msg.From).Err(err).Msg("no own key to attach")
		return false
	}
	data, err := e.backend.ExportKey(key.ID, false)
	if err != nil {
		e.log.Debug().Str("key", key.ID).Err(err).Msg("public key export failed")
		return false
	}
	name, ctype := "publickey.asc", "application/pgp-keys"
	if e.backend.Scheme() == "smime" {
		name, ctype = "certificate.pem", "application/x-x509-user-cert"
	}
	msg.Attachments = append(msg.Attachments, Attachment{Name: name, ContentType: ctype, Data: data})
	return true
}

func (e *Engine) signError(err error, key backend.Key) error {
	if eris.Is(err, backend.ErrBadPassword) {
		return &BadPasswordError{KeyID: key.ID}
	}
	return err
}

// recipientList is sender first, then To and Cc deduplicated case
// insensitively. Drafts keep only the sender.
func (e *Engine) recipientList(msg *Outgoing) []string {
	out := []string{msg.From}
	if msg.Draft {
		return out
	}
	seen := map[string]bool{strings.ToLower(msg.From): true}
	for _, addr := range append(append([]string{}, msg.To...), msg.Cc...) {
		if addr == "" || seen[strings.ToLower(addr)] {
			continue
		}
		seen[strings.ToLower(addr)] = true
		out = append(out, addr)
	}
	return out
}

func (e *Engine) wrapSigned(msg *Outgoing, part, sig []byte) {
	boundary := newBoundary()
	proto := "application/pgp-signature"
	sigCT := `application/pgp-signature; name="signature.asc"`
	micalg := "pgp-sha256"
	cte := ""
	sigBody := sig
	if e.backend.Scheme() == "smime" {
		proto = "application/pkcs7-signature"
		sigCT = `application/pkcs7-signature; name="smime.p7s"`
		micalg = "sha-256"
		cte = "base64"
		sigBody = wrapBase64(sig)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	buf.Write(part)
	fmt.Fprintf(&buf, "\r\n--%s\r\n", boundary)
	fmt.Fprintf(&buf, "Content-Type: %s\r\n", sigCT)
	if cte != "" {
		fmt.Fprintf(&buf, "Content-Transfer-Encoding: %s\r\n", cte)
	}
	buf.WriteString("\r\n")
	buf.Write(sigBody)
	fmt.Fprintf(&buf, "\r\n--%s--\r\n", boundary)
	msg.Body = buf.Bytes()
	msg.Multipart = true
	msg.Header.Set("Content-Type", fmt.Sprintf(
		`multipart/signed; micalg=%s; protocol="%s"; boundary="%s"`, micalg, proto, boundary))
}

func (e *Engine) wrapEncrypted(msg *Outgoing, ciphertext []byte) {
	if e.backend.Scheme() == "smime" {
		msg.Body = wrapBase64(ciphertext)
		msg.Multipart = false
		msg.Header.Set("Content-Type",
			`application/pkcs7-mime; smime-type=enveloped-data; name="smime.p7m"`)
		msg.Header.Set("Content-Transfer-Encoding", "base64")
		msg.Header.Set("Content-Disposition", `attachment; filename="smime.p7m"`)
		return
	}
	boundary := newBoundary()
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	buf.WriteString("Content-Type: application/pgp-encrypted\r\n\r\nVersion: 1\r\n")
	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	buf.WriteString("Content-Type: application/octet-stream; name=\"encrypted.asc\"\r\n\r\n")
	buf.Write(ciphertext)
	fmt.Fprintf(&buf, "\r\n--%s--\r\n", boundary)
	msg.Body = buf.Bytes()
	msg.Multipart = true
	msg.Header.Set("Content-Type", fmt.Sprintf(
		`multipart/encrypted; protocol="application/pgp-encrypted"; boundary="%s"`, boundary))
}

// unflow flattens format=flowed soft line breaks (trailing space plus line
// break) so the signed text cannot be reflowed in transit. The "-- "
// signature separator keeps its line break.
func unflow(b []byte) []byte {
	lines := strings.Split(string(b), "\n")
	var out strings.Builder
	for i, line := range lines {
		l := strings.TrimSuffix(line, "\r")
		if i < len(lines)-1 && l != "-- " && strings.HasSuffix(l, " ") {
			out.WriteString(l)
			continue
		}
		out.WriteString(l)
		if i < len(lines)-1 {
			out.WriteString("\n")
		}
	}
	return []byte(out.String())
}

func stripFlowedParam(h *textproto.Header) {
	ct := h.Get("Content-Type")
	if ct == "" {
		return
	}
	mt, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return
	}
	delete(params, "format")
	delete(params, "delsp")
	h.Set("Content-Type", mime.FormatMediaType(mt, params))
}

func canonicalCRLF(b []byte) []byte {
	b = bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(b, []byte("\n"), []byte("\r\n"))
}

func newBoundary() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return "scytale-" + hex.EncodeToString(b[:])
}

func wrapBase64(b []byte) []byte {
	enc := base64.StdEncoding.EncodeToString(b)
	var buf bytes.Buffer
	for len(enc) > 76 {
		buf.WriteString(enc[:76])
		buf.WriteString("\r\n")
		enc = enc[76:]
	}
	buf.WriteString(enc)
	return buf.Bytes()
}
