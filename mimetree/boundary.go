package mimetree

import (
	"bytes"
	"regexp"
)

var boundaryRe = regexp.MustCompile(`(?i)boundary="?([^";\r\n]+)"?`)

// FindBoundary scrapes the boundary token out of a raw Content-Type header
// value. Used as a fallback when the structured parameter is unavailable.
func FindBoundary(rawContentType string) string {
	m := boundaryRe.FindStringSubmatch(rawContentType)
	if m == nil {
		return ""
	}
	return m[1]
}

// SplitSigned splits the raw byte range of a multipart/signed body into the
// exact signed body (the first part, headers included) and the detached
// signature bytes (the second part with its own MIME header block
// stripped). Both slices are cut so the signed body stays byte-identical to
// what the sender signed.
//
// Returns nil, nil when the boundary marker cannot be located: verification
// is skipped for malformed input, not attempted on garbage.
func SplitSigned(raw []byte, boundary string) (signedBody, signature []byte) {
	if boundary == "" {
		return nil, nil
	}
	marker := []byte("--" + boundary)

	i := bytes.Index(raw, marker)
	if i < 0 {
		return nil, nil
	}
	bodyStart := i + len(marker)
	bodyStart += skipEOL(raw[bodyStart:])

	rel := bytes.Index(raw[bodyStart:], marker)
	if rel < 0 {
		return nil, nil
	}
	bodyEnd := bodyStart + rel
	signedBody = trimTrailingEOL(raw[bodyStart:bodyEnd])

	sigStart := bodyEnd + len(marker)
	if sigStart >= len(raw) {
		return signedBody, nil
	}
	sigStart += skipEOL(raw[sigStart:])
	sigRegion := raw[sigStart:]
	if j := bytes.Index(sigRegion, marker); j >= 0 {
		sigRegion = sigRegion[:j]
	}
	// Drop the signature part's MIME headers: everything up to the first
	// blank line.
	if k := bytes.Index(sigRegion, []byte("\r\n\r\n")); k >= 0 {
		sigRegion = sigRegion[k+4:]
	} else if k := bytes.Index(sigRegion, []byte("\n\n")); k >= 0 {
		sigRegion = sigRegion[k+2:]
	}
	return signedBody, trimTrailingEOL(sigRegion)
}

// skipEOL returns how many bytes of one line ending sit at the head of b.
func skipEOL(b []byte) int {
	if bytes.HasPrefix(b, []byte("\r\n")) {
		return 2
	}
	if bytes.HasPrefix(b, []byte("\n")) {
		return 1
	}
	return 0
}

// trimTrailingEOL removes the single line ending that belongs to the
// following boundary marker, not to the content.
func trimTrailingEOL(b []byte) []byte {
	if bytes.HasSuffix(b, []byte("\r\n")) {
		return b[:len(b)-2]
	}
	if bytes.HasSuffix(b, []byte("\n")) {
		return b[:len(b)-1]
	}
	return b
}
