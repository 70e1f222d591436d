package crypto

import (
	"crypto/sha256"

	"github.com/sirupsen/logrus"
)

// Key is the 32-byte symmetric key protecting one conversation.
// Keys are never stored; they are recomputed on demand.
type Key [32]byte

// pairSeparator joins the two sorted participant ids before hashing.
const pairSeparator = "_"

// wrapPassphrasePrefix seeds the per-recipient key-wrapping passphrase.
const wrapPassphrasePrefix = "secure_pass_"

// DeriveSharedKey computes the conversation key for a pair of users.
// The two ids are sorted lexicographically before hashing, so the result
// is symmetric: DeriveSharedKey(a, b) == DeriveSharedKey(b, a).
func DeriveSharedKey(userA, userB string) Key {
	a, b := userA, userB
	if b < a {
		a, b = b, a
	}

	logrus.WithFields(logrus.Fields{
		"function": "DeriveSharedKey",
	}).Debug("Deriving conversation key from identity pair")

	return Key(sha256.Sum256([]byte(a + pairSeparator + b)))
}

// passphraseKey derives the secretbox key used to wrap and unwrap the
// shared key for a single user. The passphrase contains no secret
// material; see the package documentation for the consequences.
func passphraseKey(userID string) Key {
	return Key(sha256.Sum256([]byte(wrapPassphrasePrefix + userID)))
}
