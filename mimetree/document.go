package mimetree

import (
	"strings"

	"github.com/emersion/go-message/textproto"
	"github.com/rotisserie/eris"
)

// BodyFetcher is the host port for lazily retrieving a part's raw body,
// IMAP-style. Implementations may block.
type BodyFetcher interface {
	FetchBody(path string) ([]byte, error)
}

// Document owns one parsed message for the lifetime of a single request.
// Index is the flat path→part map the splicer keeps consistent across
// replace/remove operations.
type Document struct {
	Root    *Part
	Index   map[string]*Part
	Fetcher BodyFetcher

	// WasDecrypted lists, in graft order, every part path that came out of
	// a decryption splice.
	WasDecrypted []string
}

// NewDocument indexes root and attaches the body fetcher.
func NewDocument(root *Part, fetcher BodyFetcher) *Document {
	d := &Document{
		Root:    root,
		Index:   make(map[string]*Part),
		Fetcher: fetcher,
	}
	d.register(root)
	return d
}

func (d *Document) register(p *Part) {
	d.Index[p.Path] = p
	for _, c := range p.Children {
		d.register(c)
	}
}

// Part looks a part up by its dot path.
func (d *Document) Part(path string) *Part {
	return d.Index[path]
}

// Body returns the part's raw body, fetching it through the host port when
// it was not parsed eagerly. Bodies the engine rewrote are never re-fetched.
func (d *Document) Body(p *Part) ([]byte, error) {
	if p.Body != nil || p.BodyModified {
		return p.Body, nil
	}
	if d.Fetcher == nil {
		return nil, nil
	}
	b, err := d.Fetcher.FetchBody(p.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch body for part %q", p.Path)
	}
	p.Body = b
	return b, nil
}

// RemoveSubtree drops the part at path and every descendant from the index.
// The parent's child slice is left to the caller (ReplaceSubtree splices).
func (d *Document) RemoveSubtree(path string) {
	if path == "" {
		d.Index = make(map[string]*Part)
		return
	}
	for k := range d.Index {
		if k == path || strings.HasPrefix(k, path+".") {
			delete(d.Index, k)
		}
	}
}

// ReplaceSubtree grafts repl into the tree in place of the part at path:
//
//  1. every index entry at path or below is removed;
//  2. the original envelope headers are merged under the new subtree's
//     headers (envelope is the base, the revealed part overrides);
//  3. the new root is marked BodyModified so no stale cache is ever read;
//  4. the new subtree is re-pathed under path and re-registered, and every
//     new path is recorded in the WasDecrypted audit list.
func (d *Document) ReplaceSubtree(path string, repl *Part) {
	old := d.Index[path]
	d.RemoveSubtree(path)

	if old != nil {
		repl.Header = mergeHeaders(old.Header, repl.Header)
	}
	repl.BodyModified = true

	rewritePaths(repl, path)
	d.register(repl)
	d.recordDecrypted(repl)

	if path == "" {
		d.Root = repl
		return
	}
	parent := d.Index[ParentPath(path)]
	if parent == nil {
		return
	}
	if n := lastSegment(path); n >= 1 && n <= len(parent.Children) {
		parent.Children[n-1] = repl
	} else {
		parent.Children = append(parent.Children, repl)
	}
}

func (d *Document) recordDecrypted(p *Part) {
	d.WasDecrypted = append(d.WasDecrypted, p.Path)
	for _, c := range p.Children {
		d.recordDecrypted(c)
	}
}

// mergeHeaders layers over on top of base: the revealed part's own headers
// (Content-Type, Content-Transfer-Encoding, ...) win, everything else the
// envelope carried (From, Subject, Date, ...) survives.
func mergeHeaders(base, over textproto.Header) textproto.Header {
	merged := over.Copy()
	fields := base.Fields()
	for fields.Next() {
		if !merged.Has(fields.Key()) {
			merged.Add(fields.Key(), fields.Value())
		}
	}
	return merged
}

// rewritePaths assigns the subtree fresh positional dot paths rooted at
// base.
func rewritePaths(p *Part, base string) {
	p.Path = base
	for i, c := range p.Children {
		rewritePaths(c, childPath(base, i+1))
	}
}
