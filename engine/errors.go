package engine

import (
	"fmt"
	"strings"

	"github.com/McFlip/scytale/backend"
)

// MissingPasswordError reports that an operation needs passphrases the
// session vault does not hold. The host prompts for the named keys and
// retries.
type MissingPasswordError struct {
	KeyIDs []string
}

func (e *MissingPasswordError) Error() string {
	return fmt.Sprintf("no passphrase on hand for key(s) %s", strings.Join(e.KeyIDs, ", "))
}

// BadPasswordError reports that the backend rejected a supplied passphrase
// for the named key. Recoverable; never logged as a failure.
type BadPasswordError struct {
	KeyID string
}

func (e *BadPasswordError) Error() string {
	return fmt.Sprintf("wrong passphrase for key %s", e.KeyID)
}

func (e *BadPasswordError) Unwrap() error { return backend.ErrBadPassword }

// KeyNotFoundError names the address no usable key could be resolved for.
// Outbound encryption aborts with this before any message mutation.
type KeyNotFoundError struct {
	Address string
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("no key found for %s", e.Address)
}

func (e *KeyNotFoundError) Unwrap() error { return backend.ErrKeyNotFound }
