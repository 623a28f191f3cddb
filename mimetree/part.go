// Package mimetree models a parsed MIME document as a path-indexed tree of
// parts. The index makes the splicer's "remove descendants, then graft"
// step auditable instead of ad hoc pointer rewriting.
package mimetree

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"mime/quotedprintable"
	"strings"

	"github.com/emersion/go-message/textproto"
	"github.com/rotisserie/eris"
)

// Part is one node of the MIME tree. Path is the dot-separated position id
// ("" for the root, "1", "1.2", ...). Body holds the raw, still
// transfer-encoded bytes and may be nil until fetched through the owning
// Document. A parent exclusively owns its Children.
type Part struct {
	Path        string
	Header      textproto.Header
	ContentType string
	Params      map[string]string
	Filename    string

	// Body is raw part content. BodyModified marks a body produced by the
	// engine (e.g. decrypted); the host must never serve a cached copy for
	// such a part.
	Body         []byte
	BodyModified bool

	// NeedsDecryption defers decryption of a separately encrypted
	// attachment until it is explicitly opened.
	NeedsDecryption bool

	// TreatAsContent forces the part to render as a content leaf, carrying
	// its security status, instead of falling through to generic
	// attachment/"cannot render" handling.
	TreatAsContent bool

	Children []*Part
}

// IsMultipart reports whether the part is a multipart container.
func (p *Part) IsMultipart() bool {
	return strings.HasPrefix(p.ContentType, "multipart/")
}

// Boundary returns the multipart boundary, falling back to a regex scan of
// the raw Content-Type header when the structured parameter is gone. The
// structured value disappears when a signed message was forwarded as an
// attachment and re-parsed without its parameters.
func (p *Part) Boundary() string {
	if b := p.Params["boundary"]; b != "" {
		return b
	}
	return FindBoundary(p.Header.Get("Content-Type"))
}

// DecodeBody applies the part's Content-Transfer-Encoding to raw.
func (p *Part) DecodeBody(raw []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(p.Header.Get("Content-Transfer-Encoding"))) {
	case "base64":
		dst := make([]byte, base64.StdEncoding.DecodedLen(len(raw)))
		n, err := base64.StdEncoding.Decode(dst, bytes.TrimSpace(raw))
		if err != nil {
			// tolerate unpadded or whitespace-damaged transfer encoding
			clean := strings.Map(func(r rune) rune {
				if r == '\r' || r == '\n' || r == ' ' || r == '\t' {
					return -1
				}
				return r
			}, string(raw))
			dec, err2 := base64.StdEncoding.DecodeString(clean)
			if err2 != nil {
				return nil, eris.Wrap(err, "decode base64 body")
			}
			return dec, nil
		}
		return dst[:n], nil
	case "quoted-printable":
		dec, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(raw)))
		if err != nil {
			return nil, eris.Wrap(err, "decode quoted-printable body")
		}
		return dec, nil
	default:
		return raw, nil
	}
}

// filenameOf pulls a display name from Content-Disposition or the
// Content-Type name parameter.
func filenameOf(h textproto.Header) string {
	if cd := h.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if fn := params["filename"]; fn != "" {
				return fn
			}
		}
	}
	if ct := h.Get("Content-Type"); ct != "" {
		if _, params, err := mime.ParseMediaType(ct); err == nil {
			return params["name"]
		}
	}
	return ""
}
