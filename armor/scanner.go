// Package armor slices inline PGP armor blocks out of plain text bodies.
package armor

import "strings"

// Mode reports which kind of armored block the scanner found.
type Mode int

const (
	ModeNone Mode = iota
	ModeSigned
	ModeEncrypted
)

// Armor delimiter lines. These must match byte for byte on their own line;
// leading/trailing whitespace other than CR is not tolerated.
const (
	BeginSigned  = "-----BEGIN PGP SIGNED MESSAGE-----"
	EndSignature = "-----END PGP SIGNATURE-----"
	BeginMessage = "-----BEGIN PGP MESSAGE-----"
	EndMessage   = "-----END PGP MESSAGE-----"
)

// Block is the result of scanning one text body. Text holds the armored
// block inclusive of both delimiter lines. Prefix holds any plain text that
// preceded the block. When Mode is ModeNone no armor was found and Text is
// empty.
type Block struct {
	Mode   Mode
	Text   string
	Prefix string
}

// Scan walks text line by line looking for one armored block. Everything
// before the begin delimiter accumulates into Prefix, everything from the
// begin delimiter up to and including the matching end delimiter becomes
// Text, and anything after the end delimiter is dropped. A second armored
// block in the same body is not a second message.
//
// An end delimiter seen before any begin delimiter is ordinary text. This
// keeps a spoofed end marker from truncating a real block that follows it.
func Scan(text string) Block {
	var block, prefix []string
	mode := ModeNone
	for _, line := range strings.Split(text, "\n") {
		switch strings.TrimRight(line, "\r") {
		case BeginSigned:
			if mode == ModeNone {
				mode = ModeSigned
				block = append(block, line)
				continue
			}
		case BeginMessage:
			if mode == ModeNone {
				mode = ModeEncrypted
				block = append(block, line)
				continue
			}
		case EndSignature:
			if mode == ModeSigned {
				block = append(block, line)
				return result(mode, block, prefix)
			}
		case EndMessage:
			if mode == ModeEncrypted {
				block = append(block, line)
				return result(mode, block, prefix)
			}
		}
		if mode == ModeNone {
			prefix = append(prefix, line)
		} else {
			block = append(block, line)
		}
	}
	// Either no armor at all, or a begin delimiter without a matching end;
	// both render as-is instead of verifying garbage.
	return Block{Mode: ModeNone, Prefix: text}
}

func result(mode Mode, block, prefix []string) Block {
	b := Block{Mode: mode, Text: strings.Join(block, "\n") + "\n"}
	if len(prefix) > 0 {
		p := strings.Join(prefix, "\n")
		if strings.TrimSpace(p) != "" {
			b.Prefix = p + "\n"
		}
	}
	return b
}
