package backend

import "github.com/rotisserie/eris"

// Sentinel errors shared by all backends. Callers classify with eris.Is.
var (
	// ErrKeyNotFound: no usable key for the requested address or id.
	ErrKeyNotFound = eris.New("key not found")

	// ErrBadPassword: the backend rejected the supplied passphrase. This is
	// an expected, recoverable condition — callers re-prompt instead of
	// logging or aborting.
	ErrBadPassword = eris.New("bad password")

	// ErrMalformedInput: the input bytes are not a recognizable envelope.
	// Verification/decryption is skipped for the node, never escalated.
	ErrMalformedInput = eris.New("malformed input")

	// ErrBackendFailure: any other failure inside the crypto layer.
	ErrBackendFailure = eris.New("backend failure")
)
