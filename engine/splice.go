package engine

import (
	"context"
	"strings"

	"github.com/emersion/go-message/textproto"
	"github.com/rotisserie/eris"

	"github.com/McFlip/scytale/armor"
	"github.com/McFlip/scytale/backend"
	"github.com/McFlip/scytale/mimetree"
)

// decryptInline decrypts an armored block found inside a text body and
// splices the plaintext, with any unprotected prefix kept in front of it,
// over the original part.
func (e *Engine) decryptInline(ctx context.Context, doc *mimetree.Document, p *mimetree.Part, blk armor.Block, wctx *WalkContext, res *Result) {
	pt, sig, err := e.backend.Decrypt([]byte(blk.Text), e.candidatePasswords())
	if err != nil {
		e.failDecrypt(doc, p, res, err)
		wctx.markContent()
		return
	}
	status := DecryptionSuccess
	if blk.Prefix != "" {
		status = DecryptionPartial
	}
	path := p.Path
	doc.ReplaceSubtree(path, inlinePart(blk.Prefix, pt))
	e.flagEncryptedSiblings(doc, doc.Part(path))
	res.Decryption[path] = status
	if sig != nil {
		res.Signatures[path] = *sig
	}
	wctx.markContent()
}

// decryptContainer decrypts a whole-envelope ciphertext (PGP/MIME part two
// or an S/MIME p7m blob), grafts the revealed MIME subtree over the
// container, then re-walks the graft so nested signatures and envelopes get
// the same treatment.
func (e *Engine) decryptContainer(ctx context.Context, doc *mimetree.Document, p *mimetree.Part, ciphertext []byte, wctx *WalkContext, res *Result) {
	pt, sig, err := e.backend.Decrypt(ciphertext, e.candidatePasswords())
	if err != nil {
		e.failDecrypt(doc, p, res, err)
		wctx.markContent()
		return
	}
	path := p.Path
	repl, err := mimetree.ReadTree(pt)
	if err != nil {
		// Plaintext without a header block; render it as bare text.
		repl = inlinePart("", pt)
	}
	doc.ReplaceSubtree(path, repl)
	e.flagEncryptedSiblings(doc, doc.Part(path))
	res.Decryption[path] = DecryptionSuccess
	if sig != nil {
		res.Signatures[path] = *sig
	}
	e.classify(ctx, doc, doc.Part(path), wctx, res)
	wctx.markContent()
}

// failDecrypt records the failure and rolls the tree back to its
// pre-attempt state. Wrong-passphrase outcomes are expected and stay out of
// the log.
func (e *Engine) failDecrypt(doc *mimetree.Document, p *mimetree.Part, res *Result, err error) {
	p.TreatAsContent = true
	res.Decryption[p.Path] = DecryptionFailure
	e.unflagEncryptedSiblings(doc, p)
	if !eris.Is(err, backend.ErrBadPassword) {
		e.log.Warn().Str("part", p.Path).Err(err).Msg("decryption failed")
	}
}

// inlinePart wraps decrypted text, preceded by any unprotected prefix, as a
// plain text leaf ready for grafting.
func inlinePart(prefix string, plaintext []byte) *mimetree.Part {
	var h textproto.Header
	h.Set("Content-Type", "text/plain; charset=utf-8")
	return &mimetree.Part{
		Header:      h,
		ContentType: "text/plain",
		Params:      map[string]string{"charset": "utf-8"},
		Body:        append([]byte(prefix), plaintext...),
	}
}

// flagEncryptedSiblings marks sibling attachments that travel encrypted
// alongside a decrypted body: a generic octet-stream named "report.pdf.pgp"
// displays as "report.pdf" and decrypts when opened. Parts carrying a real
// content type are not separately encrypted companions and stay untouched.
func (e *Engine) flagEncryptedSiblings(doc *mimetree.Document, p *mimetree.Part) {
	parent := doc.Part(mimetree.ParentPath(p.Path))
	if parent == nil || parent == p {
		return
	}
	for _, sib := range parent.Children {
		if sib == p || sib.NeedsDecryption {
			continue
		}
		if sib.ContentType == "application/octet-stream" &&
			strings.HasSuffix(strings.ToLower(sib.Filename), ".pgp") {
			sib.Filename = sib.Filename[:len(sib.Filename)-len(".pgp")]
			sib.NeedsDecryption = true
		}
	}
}

// unflagEncryptedSiblings is the rollback: restore names and clear flags so
// a failed attempt leaves the tree exactly as before. Safe to run when
// nothing was flagged.
func (e *Engine) unflagEncryptedSiblings(doc *mimetree.Document, p *mimetree.Part) {
	parent := doc.Part(mimetree.ParentPath(p.Path))
	if parent == nil || parent == p {
		return
	}
	for _, sib := range parent.Children {
		if sib == p || !sib.NeedsDecryption {
			continue
		}
		sib.Filename += ".pgp"
		sib.NeedsDecryption = false
	}
}

// DecryptAttachment decrypts a deferred attachment body when it is opened.
// The tree is not modified; the caller gets the plaintext for rendering or
// saving.
func (e *Engine) DecryptAttachment(doc *mimetree.Document, path string) ([]byte, error) {
	p := doc.Part(path)
	if p == nil {
		return nil, eris.Errorf("no part at %q", path)
	}
	raw, err := doc.Body(p)
	if err != nil {
		return nil, err
	}
	data, err := p.DecodeBody(raw)
	if err != nil {
		return nil, err
	}
	pt, _, err := e.backend.Decrypt(data, e.candidatePasswords())
	if err != nil {
		return nil, err
	}
	return pt, nil
}
