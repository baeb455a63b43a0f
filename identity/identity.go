// Package identity derives and generates sequence identifiers.
//
// Internal sequence identities are computed locally from the destination endpoint and an
// application-chosen sequence key, so callers can address a sequence before the peer has
// assigned its protocol identifier. Protocol identifiers and message identifiers are
// random UUIDs in urn:uuid form.
package identity

import (
	"errors"

	"github.com/google/uuid"
)

// URNPrefix prefixes every identifier produced by this package.
const URNPrefix = "urn:uuid:"

// namespace scopes the name-based internal identities so they never collide with
// identities derived by unrelated systems using the same inputs.
var namespace = uuid.MustParse("6f3c2a9e-41d7-5b0c-9e8f-2d1a7c4b5e60")

// ErrEmptyAddress is returned when neither a destination nor a key is given.
var ErrEmptyAddress = errors.New("destination and sequence key cannot both be empty")

// InternalSequenceID deterministically maps (destination, key) to an internal sequence
// identity. The same inputs always produce the same identity.
//
// An empty key hashes the destination alone and an empty destination hashes the key
// alone; the two are separated so that ("a:b", "") and ("a", "b") stay distinct.
func InternalSequenceID(destination, key string) (string, error) {
	if destination == "" && key == "" {
		return "", ErrEmptyAddress
	}

	var name string
	switch {
	case key == "":
		name = "to:" + destination
	case destination == "":
		name = "key:" + key
	default:
		name = "to:" + destination + "\x00key:" + key
	}

	return URNPrefix + uuid.NewSHA1(namespace, []byte(name)).String(), nil
}

// NewProtocolID returns a fresh protocol sequence identifier.
func NewProtocolID() string {
	return URNPrefix + uuid.NewString()
}

// NewMessageID returns a fresh message identifier used for request correlation.
func NewMessageID() string {
	return URNPrefix + uuid.NewString()
}
