package mimetree

import (
	"bytes"
	"fmt"

	"github.com/emersion/go-message/textproto"
	"github.com/rotisserie/eris"
)

// Bytes serializes the document back to wire format. Multipart containers
// are re-framed from their children; leaf bodies are written raw, exactly
// as parsed or grafted.
func (d *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.writePart(&buf, d.Root); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d *Document) writePart(buf *bytes.Buffer, p *Part) error {
	if err := textproto.WriteHeader(buf, p.Header); err != nil {
		return eris.Wrapf(err, "write header for part %q", p.Path)
	}
	if p.IsMultipart() && len(p.Children) > 0 {
		boundary := p.Boundary()
		if boundary == "" {
			return eris.Errorf("multipart %q has no boundary", p.Path)
		}
		for _, c := range p.Children {
			fmt.Fprintf(buf, "--%s\r\n", boundary)
			if err := d.writePart(buf, c); err != nil {
				return err
			}
			buf.WriteString("\r\n")
		}
		fmt.Fprintf(buf, "--%s--\r\n", boundary)
		return nil
	}
	body, err := d.Body(p)
	if err != nil {
		return err
	}
	buf.Write(body)
	return nil
}
