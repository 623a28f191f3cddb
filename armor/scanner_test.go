package armor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const signedBlock = `-----BEGIN PGP SIGNED MESSAGE-----
Hash: SHA256

the protected text
-----BEGIN PGP SIGNATURE-----

iQEzBAEBCAAdFiEE
-----END PGP SIGNATURE-----
`

func TestScanSignedWithPrefixAndSuffix(t *testing.T) {
	text := "intro line one\nintro line two\n" + signedBlock + "trailing junk\nmore junk\n"
	got := Scan(text)
	assert.Equal(t, ModeSigned, got.Mode)
	assert.Equal(t, signedBlock, got.Text)
	assert.Equal(t, "intro line one\nintro line two\n", got.Prefix)
}

func TestScanSignedNoPrefix(t *testing.T) {
	got := Scan(signedBlock)
	assert.Equal(t, ModeSigned, got.Mode)
	assert.Equal(t, signedBlock, got.Text)
	assert.Equal(t, "", got.Prefix)
}

func TestScanEncrypted(t *testing.T) {
	block := "-----BEGIN PGP MESSAGE-----\n\nhQEMA2FvY2s=\n-----END PGP MESSAGE-----\n"
	got := Scan("see attached\n" + block)
	assert.Equal(t, ModeEncrypted, got.Mode)
	assert.Equal(t, block, got.Text)
	assert.Equal(t, "see attached\n", got.Prefix)
}

func TestScanDropsTrailingData(t *testing.T) {
	got := Scan(signedBlock + "-----BEGIN PGP MESSAGE-----\nsecond block\n-----END PGP MESSAGE-----\n")
	assert.Equal(t, ModeSigned, got.Mode)
	assert.Equal(t, signedBlock, got.Text)
	assert.NotContains(t, got.Text, "second block")
}

func TestScanSpoofedEndMarkerIsPlainText(t *testing.T) {
	// An end delimiter with no preceding begin must not start or end anything.
	text := "-----END PGP SIGNATURE-----\nstill plain\n"
	got := Scan(text)
	assert.Equal(t, ModeNone, got.Mode)
	assert.Equal(t, "", got.Text)
	assert.Equal(t, text, got.Prefix)
}

func TestScanSpoofedEndBeforeRealBlock(t *testing.T) {
	text := "-----END PGP SIGNATURE-----\n" + signedBlock
	got := Scan(text)
	assert.Equal(t, ModeSigned, got.Mode)
	assert.Equal(t, signedBlock, got.Text)
	assert.True(t, strings.HasPrefix(got.Prefix, "-----END PGP SIGNATURE-----"))
}

func TestScanPlainTextOnly(t *testing.T) {
	got := Scan("nothing to see here\n")
	assert.Equal(t, ModeNone, got.Mode)
	assert.Equal(t, "nothing to see here\n", got.Prefix)
}

func TestScanUnterminatedBlock(t *testing.T) {
	got := Scan("hi\n-----BEGIN PGP MESSAGE-----\ndata without end\n")
	assert.Equal(t, ModeNone, got.Mode)
	assert.Equal(t, "", got.Text)
}

func TestScanCRLFLines(t *testing.T) {
	text := strings.ReplaceAll(signedBlock, "\n", "\r\n")
	got := Scan(text)
	assert.Equal(t, ModeSigned, got.Mode)
	assert.Contains(t, got.Text, "the protected text")
}
