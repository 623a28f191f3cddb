/*
Copyright © 2024 McFlip <grady.c.denton@yahoo.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/package cmd

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/mail"
	"os"
	"strings"

	"github.com/emersion/go-message/textproto"

	"github.com/McFlip/scytale/engine"
	"github.com/McFlip/scytale/mimetree"
)

// loadOutgoing reads a composed .eml file into the shape the engine's
// outbound operations work on. For a multipart message the body carries the
// content entity's own header block, so container framing signs and
// encrypts the exact entity.
func loadOutgoing(path, from string) (*engine.Outgoing, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	root, err := mimetree.ReadTree(raw)
	if err != nil {
		return nil, err
	}
	if from == "" {
		if a, err := mail.ParseAddress(root.Header.Get("From")); err == nil {
			from = a.Address
		}
	}
	msg := &engine.Outgoing{
		From:      from,
		To:        addressList(root.Header.Get("To")),
		Cc:        addressList(root.Header.Get("Cc")),
		Header:    root.Header,
		Body:      root.Body,
		Multipart: root.IsMultipart(),
		Flowed:    strings.EqualFold(root.Params["format"], "flowed"),
	}
	if msg.Multipart {
		var buf bytes.Buffer
		var ph textproto.Header
		ph.Set("Content-Type", root.Header.Get("Content-Type"))
		if cte := root.Header.Get("Content-Transfer-Encoding"); cte != "" {
			ph.Set("Content-Transfer-Encoding", cte)
		}
		textproto.WriteHeader(&buf, ph)
		buf.Write(root.Body)
		msg.Body = buf.Bytes()
	}
	return msg, nil
}

// writeOutgoing serializes the processed message, folding any pending
// attachments into a multipart/mixed wrapper first.
func writeOutgoing(path string, msg *engine.Outgoing) error {
	if len(msg.Attachments) > 0 {
		wrapAttachments(msg)
	}
	var buf bytes.Buffer
	if err := textproto.WriteHeader(&buf, msg.Header); err != nil {
		return err
	}
	buf.Write(msg.Body)
	return os.WriteFile(path, buf.Bytes(), 0644)
}

func wrapAttachments(msg *engine.Outgoing) {
	boundary := randomBoundary()
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	var ph textproto.Header
	ph.Set("Content-Type", msg.Header.Get("Content-Type"))
	if cte := msg.Header.Get("Content-Transfer-Encoding"); cte != "" {
		ph.Set("Content-Transfer-Encoding", cte)
	}
	textproto.WriteHeader(&buf, ph)
	buf.Write(msg.Body)
	for _, att := range msg.Attachments {
		fmt.Fprintf(&buf, "\r\n--%s\r\n", boundary)
		var ah textproto.Header
		ah.Set("Content-Type", fmt.Sprintf("%s; name=%q", att.ContentType, att.Name))
		ah.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.Name))
		ah.Set("Content-Transfer-Encoding", "base64")
		textproto.WriteHeader(&buf, ah)
		buf.WriteString(foldBase64(att.Data))
	}
	fmt.Fprintf(&buf, "\r\n--%s--\r\n", boundary)
	msg.Body = buf.Bytes()
	msg.Header.Set("Content-Type", fmt.Sprintf("multipart/mixed; boundary=%q", boundary))
	msg.Header.Del("Content-Transfer-Encoding")
	msg.Attachments = nil
	msg.Multipart = true
}

func addressList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	addrs, err := mail.ParseAddressList(v)
	if err != nil {
		var out []string
		for _, a := range strings.Split(v, ",") {
			if a = strings.TrimSpace(a); a != "" {
				out = append(out, a)
			}
		}
		return out
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Address)
	}
	return out
}

func parseFraming(s string) engine.Mode {
	switch strings.ToLower(s) {
	case "inline":
		return engine.ModeInline
	case "container":
		return engine.ModeContainer
	default:
		return engine.ModeAuto
	}
}

func randomBoundary() string {
	var b [12]byte
	rand.Read(b[:])
	return "scytale-" + hex.EncodeToString(b[:])
}

func foldBase64(data []byte) string {
	enc := base64.StdEncoding.EncodeToString(data)
	var buf strings.Builder
	for len(enc) > 76 {
		buf.WriteString(enc[:76])
		buf.WriteString("\r\n")
		enc = enc[76:]
	}
	buf.WriteString(enc)
	return buf.String()
}
