package mimetree

import (
	"bufio"
	"bytes"
	"io"
	"mime"
	"strconv"
	"strings"

	"github.com/emersion/go-message/textproto"
	"github.com/rotisserie/eris"
)

// ReadTree parses a raw RFC822 message into a Part tree. Bodies are kept
// raw and transfer-encoded so byte ranges survive for signature checks.
func ReadTree(raw []byte) (*Part, error) {
	br := bufio.NewReader(bytes.NewReader(raw))
	h, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, eris.Wrap(err, "read message header")
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return nil, eris.Wrap(err, "read message body")
	}
	return buildPart(h, body, "")
}

func buildPart(h textproto.Header, body []byte, path string) (*Part, error) {
	ctype, params, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		// Missing or broken Content-Type defaults to text/plain, the part
		// still renders. Only the boundary fallback can recover multiparts.
		ctype = "text/plain"
		params = map[string]string{}
	}
	p := &Part{
		Path:        path,
		Header:      h,
		ContentType: strings.ToLower(ctype),
		Params:      params,
		Filename:    filenameOf(h),
		Body:        body,
	}
	if !p.IsMultipart() {
		return p, nil
	}
	boundary := p.Boundary()
	if boundary == "" {
		return p, nil
	}
	mr := textproto.NewMultipartReader(bytes.NewReader(body), boundary)
	n := 0
	for {
		sub, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Keep whatever children parsed so far; a truncated trailing
			// part should not discard the whole container.
			break
		}
		subBody, err := io.ReadAll(sub)
		if err != nil {
			return nil, eris.Wrap(err, "read subpart body")
		}
		n++
		child, err := buildPart(sub.Header, subBody, childPath(path, n))
		if err != nil {
			return nil, err
		}
		p.Children = append(p.Children, child)
	}
	return p, nil
}

func childPath(parent string, n int) string {
	if parent == "" {
		return strconv.Itoa(n)
	}
	return parent + "." + strconv.Itoa(n)
}

// ParentPath returns the dot path of the enclosing part, "" for top level.
func ParentPath(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[:i]
	}
	return ""
}

func lastSegment(path string) int {
	seg := path
	if i := strings.LastIndex(path, "."); i >= 0 {
		seg = path[i+1:]
	}
	n, err := strconv.Atoi(seg)
	if err != nil {
		return 0
	}
	return n
}
