package engine

import (
	"context"
	"net/mail"
	"strings"

	"github.com/McFlip/scytale/armor"
	"github.com/McFlip/scytale/backend"
	"github.com/McFlip/scytale/mimetree"
)

// WalkContext carries per-walk state. Compose marks walks over drafts being
// re-opened for editing, where the decryption oracle guard applies: once a
// node has been classified as content, every later node in the same walk is
// skipped unprocessed, so ciphertext appended by a third party is never
// decrypted into a reply. Sender tracks the nearest enclosing sender
// address for key discovery during nested operations.
type WalkContext struct {
	Compose bool
	Sender  string

	contentSeen bool
}

// NewWalkContext builds a context for one document walk.
func NewWalkContext(compose bool) *WalkContext { return &WalkContext{Compose: compose} }

// ContentSeen reports whether a content part was already classified.
func (w *WalkContext) ContentSeen() bool { return w.contentSeen }

func (w *WalkContext) markContent() { w.contentSeen = true }

// ProcessDocument walks the document depth first, verifying and decrypting
// as it goes. Inbound handling never fails the walk; per-node problems are
// recorded in the Result or logged and the walk continues.
func (e *Engine) ProcessDocument(ctx context.Context, doc *mimetree.Document, wctx *WalkContext) *Result {
	res := newResult()
	e.classify(ctx, doc, doc.Root, wctx, res)
	return res
}

func (e *Engine) classify(ctx context.Context, doc *mimetree.Document, p *mimetree.Part, wctx *WalkContext, res *Result) {
	if wctx.Compose && wctx.contentSeen {
		return
	}
	if from := senderOf(p); from != "" {
		wctx.Sender = from
	}
	switch {
	case p.ContentType == "multipart/signed":
		e.handleSigned(ctx, doc, p, wctx, res)
	case p.ContentType == "multipart/encrypted":
		e.handleEncryptedMIME(ctx, doc, p, wctx, res)
	case strings.Contains(p.ContentType, "pkcs7-mime") || isP7MAttachment(p):
		e.handlePKCS7(ctx, doc, p, wctx, res)
	case p.ContentType == "text/plain" || p.ContentType == "application/pgp":
		e.handleInline(ctx, doc, p, wctx, res)
	case p.IsMultipart():
		for _, c := range p.Children {
			e.classify(ctx, doc, c, wctx, res)
		}
	default:
		// Any other leaf renders as-is and still counts as content for the
		// compose guard.
		wctx.markContent()
	}
}

// handleInline scans a text body for an armored block and verifies or
// decrypts it. Plain text without armor is just content.
func (e *Engine) handleInline(ctx context.Context, doc *mimetree.Document, p *mimetree.Part, wctx *WalkContext, res *Result) {
	raw, err := doc.Body(p)
	if err != nil {
		e.log.Warn().Str("part", p.Path).Err(err).Msg("body fetch failed")
		return
	}
	text, err := p.DecodeBody(raw)
	if err != nil {
		e.log.Warn().Str("part", p.Path).Err(err).Msg("transfer decode failed")
		wctx.markContent()
		return
	}
	blk := armor.Scan(string(text))
	switch blk.Mode {
	case armor.ModeSigned:
		sig := e.verify(ctx, []byte(blk.Text), nil, wctx)
		// Leading unprotected text means the signature covers only part of
		// what the reader sees.
		sig.Partial = blk.Prefix != ""
		res.Signatures[p.Path] = sig
		wctx.markContent()
	case armor.ModeEncrypted:
		e.decryptInline(ctx, doc, p, blk, wctx, res)
	default:
		wctx.markContent()
	}
}

// handleSigned verifies a multipart/signed container. The signed body is
// cut from the raw container bytes, not re-serialized from the tree, so the
// exact octets the signer covered reach the backend.
func (e *Engine) handleSigned(ctx context.Context, doc *mimetree.Document, p *mimetree.Part, wctx *WalkContext, res *Result) {
	content, sigPart := signedChildren(p)
	if content == nil {
		for _, c := range p.Children {
			e.classify(ctx, doc, c, wctx, res)
		}
		return
	}
	raw, err := doc.Body(p)
	if err != nil {
		e.log.Warn().Str("part", p.Path).Err(err).Msg("body fetch failed")
		return
	}
	body, sigRange := mimetree.SplitSigned(raw, p.Boundary())
	if body == nil {
		e.log.Warn().Str("part", p.Path).Msg("signed container could not be split")
		e.classify(ctx, doc, content, wctx, res)
		return
	}
	sigBytes, err := sigPart.DecodeBody(sigRange)
	if err != nil {
		sigBytes = sigRange
	}
	res.Signatures[p.Path] = e.verify(ctx, body, sigBytes, wctx)
	e.classify(ctx, doc, content, wctx, res)
}

// handleEncryptedMIME decrypts an RFC 3156 multipart/encrypted container
// and grafts the revealed subtree in its place. The container must carry
// exactly two parts, application/pgp-encrypted then application/octet-stream;
// anything else is walked as plain structure.
func (e *Engine) handleEncryptedMIME(ctx context.Context, doc *mimetree.Document, p *mimetree.Part, wctx *WalkContext, res *Result) {
	if len(p.Children) != 2 ||
		p.Children[0].ContentType != "application/pgp-encrypted" ||
		p.Children[1].ContentType != "application/octet-stream" {
		for _, c := range p.Children {
			e.classify(ctx, doc, c, wctx, res)
		}
		return
	}
	ctPart := p.Children[1]
	raw, err := doc.Body(ctPart)
	if err != nil {
		e.log.Warn().Str("part", ctPart.Path).Err(err).Msg("body fetch failed")
		return
	}
	ciphertext, err := ctPart.DecodeBody(raw)
	if err != nil {
		e.log.Warn().Str("part", ctPart.Path).Err(err).Msg("transfer decode failed")
		wctx.markContent()
		return
	}
	e.decryptContainer(ctx, doc, p, ciphertext, wctx, res)
}

// handlePKCS7 processes an S/MIME application/pkcs7-mime blob: opaque
// signed-data is verified in place, anything else is treated as an
// enveloped message and decrypted.
func (e *Engine) handlePKCS7(ctx context.Context, doc *mimetree.Document, p *mimetree.Part, wctx *WalkContext, res *Result) {
	raw, err := doc.Body(p)
	if err != nil {
		e.log.Warn().Str("part", p.Path).Err(err).Msg("body fetch failed")
		return
	}
	der, err := p.DecodeBody(raw)
	if err != nil {
		e.log.Warn().Str("part", p.Path).Err(err).Msg("transfer decode failed")
		wctx.markContent()
		return
	}
	if strings.Contains(strings.ToLower(p.Params["smime-type"]), "signed-data") {
		res.Signatures[p.Path] = e.verify(ctx, der, nil, wctx)
		p.TreatAsContent = true
		wctx.markContent()
		return
	}
	e.decryptContainer(ctx, doc, p, der, wctx, res)
}

// verify runs backend verification. When the signer's key is unknown and a
// discovery directory is wired, the recorded sender is looked up once and
// the verification retried with the imported key.
func (e *Engine) verify(ctx context.Context, body, detachedSig []byte, wctx *WalkContext) backend.Signature {
	sig, err := e.backend.Verify(body, detachedSig)
	if err != nil {
		return backend.Signature{Status: backend.SigError}
	}
	if sig.Status == backend.SigKeyMissing && e.dir != nil && wctx.Sender != "" &&
		e.dir.LookupAddress(ctx, wctx.Sender) {
		if again, err := e.backend.Verify(body, detachedSig); err == nil {
			sig = again
		}
	}
	return sig
}

// signedChildren returns the content and signature parts of a well-formed
// multipart/signed container, nils otherwise.
func signedChildren(p *mimetree.Part) (content, sig *mimetree.Part) {
	if len(p.Children) != 2 {
		return nil, nil
	}
	second := p.Children[1]
	switch {
	case second.ContentType == "application/pgp-signature",
		strings.Contains(second.ContentType, "pkcs7-signature"):
		return p.Children[0], second
	}
	return nil, nil
}

// isP7MAttachment matches opaque S/MIME blobs sent as generic attachments,
// the usual smime.p7m shape.
func isP7MAttachment(p *mimetree.Part) bool {
	return strings.HasSuffix(strings.ToLower(p.Filename), ".p7m")
}

func senderOf(p *mimetree.Part) string {
	from := p.Header.Get("From")
	if from == "" {
		return ""
	}
	if a, err := mail.ParseAddress(from); err == nil {
		return a.Address
	}
	return strings.TrimSpace(from)
}
