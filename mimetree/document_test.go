package mimetree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const encryptedEnvelope = "From: alice@example.com\r\n" +
	"Subject: secret plans\r\n" +
	"Content-Type: multipart/encrypted; protocol=\"application/pgp-encrypted\"; boundary=\"enc\"\r\n" +
	"\r\n" +
	"--enc\r\n" +
	"Content-Type: application/pgp-encrypted\r\n" +
	"\r\n" +
	"Version: 1\r\n" +
	"--enc\r\n" +
	"Content-Type: application/octet-stream\r\n" +
	"\r\n" +
	"CIPHERTEXT\r\n" +
	"--enc--\r\n"

const revealedPlain = "Content-Type: multipart/mixed; boundary=\"inner\"\r\n" +
	"\r\n" +
	"--inner\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"the plan\r\n" +
	"--inner\r\n" +
	"Content-Type: application/pdf; name=\"plan.pdf\"\r\n" +
	"\r\n" +
	"PDFDATA\r\n" +
	"--inner--\r\n"

func TestReadTreePaths(t *testing.T) {
	root, err := ReadTree([]byte(encryptedEnvelope))
	require.NoError(t, err)
	assert.Equal(t, "multipart/encrypted", root.ContentType)
	require.Len(t, root.Children, 2)
	assert.Equal(t, "1", root.Children[0].Path)
	assert.Equal(t, "2", root.Children[1].Path)
	assert.Equal(t, "application/pgp-encrypted", root.Children[0].ContentType)
	assert.Equal(t, "application/octet-stream", root.Children[1].ContentType)

	doc := NewDocument(root, nil)
	assert.Same(t, root.Children[1], doc.Part("2"))
}

func TestReplaceSubtreeAtRoot(t *testing.T) {
	root, err := ReadTree([]byte(encryptedEnvelope))
	require.NoError(t, err)
	doc := NewDocument(root, nil)
	oldCipher := doc.Part("2")

	repl, err := ReadTree([]byte(revealedPlain))
	require.NoError(t, err)
	doc.ReplaceSubtree("", repl)

	// the old ciphertext part left the index; "2" is the revealed pdf now
	assert.NotSame(t, oldCipher, doc.Part("2"))
	assert.Same(t, repl.Children[1], doc.Part("2"))

	got := doc.Root
	require.Len(t, got.Children, 2)
	assert.Equal(t, "multipart/mixed", got.ContentType)
	assert.Equal(t, "text/plain", got.Children[0].ContentType)
	assert.Same(t, got.Children[0], doc.Part("1"))

	// envelope headers survive, revealed headers override
	assert.Equal(t, "secret plans", got.Header.Get("Subject"))
	assert.Equal(t, "alice@example.com", got.Header.Get("From"))
	assert.Contains(t, got.Header.Get("Content-Type"), "multipart/mixed")

	assert.True(t, got.BodyModified, "grafted root must never be served from cache")
	assert.Equal(t, []string{"", "1", "2"}, doc.WasDecrypted)
}

func TestReplaceSubtreeNested(t *testing.T) {
	outer := "Content-Type: multipart/mixed; boundary=\"outer\"\r\n" +
		"\r\n" +
		"--outer\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"cover letter\r\n" +
		"--outer\r\n" +
		encryptedEnvelope +
		"--outer--\r\n"
	root, err := ReadTree([]byte(outer))
	require.NoError(t, err)
	doc := NewDocument(root, nil)
	require.NotNil(t, doc.Part("2.1"))

	repl, err := ReadTree([]byte(revealedPlain))
	require.NoError(t, err)
	doc.ReplaceSubtree("2", repl)

	// new subtree re-pathed under the replaced node's path
	assert.Same(t, repl, doc.Part("2"))
	require.Len(t, repl.Children, 2)
	assert.Equal(t, "2.1", repl.Children[0].Path)
	assert.Equal(t, "2.2", repl.Children[1].Path)
	assert.Same(t, repl.Children[1], doc.Part("2.2"))

	// the parent's child slice points at the graft
	assert.Same(t, repl, doc.Root.Children[1])

	// sibling untouched
	assert.Equal(t, "1", doc.Root.Children[0].Path)
	assert.NotNil(t, doc.Part("1"))

	assert.Equal(t, []string{"2", "2.1", "2.2"}, doc.WasDecrypted)
}

func TestRemoveSubtreePrefixSafety(t *testing.T) {
	// removing "1" must not remove "10"
	a := &Part{Path: "1"}
	b := &Part{Path: "10"}
	root := &Part{Path: "", Children: []*Part{a, b}}
	doc := NewDocument(root, nil)
	doc.RemoveSubtree("1")
	assert.Nil(t, doc.Part("1"))
	assert.NotNil(t, doc.Part("10"))
}

func TestSerializeAfterGraft(t *testing.T) {
	root, err := ReadTree([]byte(encryptedEnvelope))
	require.NoError(t, err)
	doc := NewDocument(root, nil)
	repl, err := ReadTree([]byte(revealedPlain))
	require.NoError(t, err)
	doc.ReplaceSubtree("", repl)

	out, err := doc.Bytes()
	require.NoError(t, err)
	s := string(out)
	assert.Contains(t, s, "Subject: secret plans")
	assert.Contains(t, s, "the plan")
	assert.NotContains(t, s, "CIPHERTEXT")

	again, err := ReadTree(out)
	require.NoError(t, err)
	require.Len(t, again.Children, 2)
	assert.Equal(t, "text/plain", again.Children[0].ContentType)
	assert.Equal(t, "the plan", string(again.Children[0].Body))
}

type mapFetcher map[string][]byte

func (m mapFetcher) FetchBody(path string) ([]byte, error) { return m[path], nil }

func TestLazyBodyFetch(t *testing.T) {
	p := &Part{Path: "1"}
	root := &Part{Path: "", Children: []*Part{p}}
	doc := NewDocument(root, mapFetcher{"1": []byte("fetched")})

	got, err := doc.Body(p)
	require.NoError(t, err)
	assert.Equal(t, "fetched", string(got))

	// modified bodies are never re-fetched
	p.Body = nil
	p.BodyModified = true
	got, err = doc.Body(p)
	require.NoError(t, err)
	assert.Nil(t, got)
}
