package crypto

import (
	"encoding/base64"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/nacl/secretbox"
)

// WrapKey encrypts the shared key so that only the holder of
// recipientID's identity can recover it. The wrapped form travels with
// each message document; the sender's own copy is never wrapped because
// the sender can re-derive the key directly.
func WrapKey(key Key, recipientID string) (string, error) {
	nonce, err := GenerateNonce()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "WrapKey",
			"error":    err.Error(),
		}).Error("Nonce generation failed")
		return "", err
	}

	pass := passphraseKey(recipientID)
	sealed := secretbox.Seal(nonce[:], key[:], (*[24]byte)(&nonce), (*[32]byte)(&pass))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// UnwrapKey recovers a key wrapped for userID. Unwrapping with the
// wrong id, or from malformed input, reports ok=false with a zero key
// rather than failing, so message-render paths stay non-fatal.
func UnwrapKey(wrapped string, userID string) (Key, bool) {
	raw, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil || len(raw) != 24+32+secretbox.Overhead {
		return Key{}, false
	}

	var nonce [24]byte
	copy(nonce[:], raw[:24])

	pass := passphraseKey(userID)
	out, ok := secretbox.Open(nil, raw[24:], &nonce, (*[32]byte)(&pass))
	if !ok || len(out) != 32 {
		logrus.WithFields(logrus.Fields{
			"function": "UnwrapKey",
		}).Debug("Key unwrap failed")
		return Key{}, false
	}

	var key Key
	copy(key[:], out)
	return key, true
}
