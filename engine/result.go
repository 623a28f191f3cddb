package engine

import "github.com/McFlip/scytale/backend"

// DecryptionStatus is the per-part outcome of a decryption attempt.
type DecryptionStatus int

const (
	// DecryptionSuccess: the whole node decrypted and was spliced in.
	DecryptionSuccess DecryptionStatus = iota

	// DecryptionPartial: the node decrypted but unprotected text preceded
	// the encrypted block, so only part of what the reader sees was
	// protected.
	DecryptionPartial

	// DecryptionFailure: the node could not be decrypted and renders as an
	// opaque content leaf instead.
	DecryptionFailure
)

func (s DecryptionStatus) String() string {
	switch s {
	case DecryptionSuccess:
		return "decrypted"
	case DecryptionPartial:
		return "partially encrypted"
	default:
		return "decryption failed"
	}
}

// Result collects the security outcomes of one document walk, keyed by part
// path. Signature paths refer to the node the signature covers; decryption
// paths refer to the grafted subtree root.
type Result struct {
	Signatures map[string]backend.Signature
	Decryption map[string]DecryptionStatus
}

func newResult() *Result {
	return &Result{
		Signatures: make(map[string]backend.Signature),
		Decryption: make(map[string]DecryptionStatus),
	}
}
