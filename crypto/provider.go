package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/flynn/noise"
	"github.com/sirupsen/logrus"
)

// KeyProvider produces the shared symmetric key for a pair of
// participant identities. The contract is the only fixed part of the
// design: given two identities, obtain one symmetric key, the same on
// both sides.
type KeyProvider interface {
	SharedKey(selfID, peerID string) (Key, error)
}

// IdentityKeyProvider is the default provider. It derives key material
// from the identity pair alone (DeriveSharedKey), which keeps the
// system stateless but offers no secrecy against anyone who learns both
// ids.
type IdentityKeyProvider struct{}

// SharedKey implements KeyProvider.
func (IdentityKeyProvider) SharedKey(selfID, peerID string) (Key, error) {
	return DeriveSharedKey(selfID, peerID), nil
}

// PublicKeyLookup resolves a user's published static X25519 public key,
// typically from the PublicKey field of their profile document.
type PublicKeyLookup func(userID string) ([]byte, error)

// ECDHKeyProvider derives conversation keys by X25519 between a local
// static keypair and the peer's published public key, hashed to the key
// size. It satisfies the same contract as IdentityKeyProvider while
// requiring an attacker to hold a private key rather than two user ids.
type ECDHKeyProvider struct {
	keyPair noise.DHKey
	lookup  PublicKeyLookup
}

// GenerateKeyPair creates a static X25519 keypair for ECDHKeyProvider.
func GenerateKeyPair() (noise.DHKey, error) {
	return noise.DH25519.GenerateKeypair(rand.Reader)
}

// NewECDHKeyProvider builds a provider around a local keypair and a
// lookup for peer public keys.
func NewECDHKeyProvider(keyPair noise.DHKey, lookup PublicKeyLookup) (*ECDHKeyProvider, error) {
	if len(keyPair.Private) == 0 || len(keyPair.Public) == 0 {
		return nil, errors.New("incomplete keypair")
	}
	if lookup == nil {
		return nil, errors.New("nil public key lookup")
	}
	return &ECDHKeyProvider{keyPair: keyPair, lookup: lookup}, nil
}

// PublicKey returns the local static public key for publication on the
// user's profile.
func (p *ECDHKeyProvider) PublicKey() []byte {
	out := make([]byte, len(p.keyPair.Public))
	copy(out, p.keyPair.Public)
	return out
}

// SharedKey implements KeyProvider.
func (p *ECDHKeyProvider) SharedKey(selfID, peerID string) (Key, error) {
	peerPub, err := p.lookup(peerID)
	if err != nil {
		return Key{}, fmt.Errorf("failed to resolve public key for %s: %w", peerID, err)
	}

	secret, err := noise.DH25519.DH(p.keyPair.Private, peerPub)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "SharedKey",
			"error":    err.Error(),
		}).Error("X25519 computation failed")
		return Key{}, fmt.Errorf("failed to compute shared secret: %w", err)
	}

	key := Key(sha256.Sum256(secret))
	for i := range secret {
		secret[i] = 0
	}
	return key, nil
}
