package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/nacl/secretbox"
)

// Nonce is a 24-byte value used for encryption.
type Nonce [24]byte

// MaxMessageSize bounds plaintext size (1MB) to prevent excessive
// memory usage.
const MaxMessageSize = 1024 * 1024

// UndecryptablePlaceholder is returned by Decrypt whenever the
// ciphertext cannot be recovered, so timelines can render a placeholder
// instead of failing.
const UndecryptablePlaceholder = "Unable to decrypt message"

// ErrMessageTooLarge indicates a plaintext above MaxMessageSize.
var ErrMessageTooLarge = errors.New("message too large")

// GenerateNonce creates a cryptographically secure random nonce.
// Failure here is fatal to the send path: no message can be encrypted
// without a working entropy source.
func GenerateNonce() (Nonce, error) {
	var nonce Nonce
	if _, err := rand.Read(nonce[:]); err != nil {
		return Nonce{}, err
	}
	return nonce, nil
}

// Encrypt seals a plaintext under the conversation key using
// authenticated symmetric encryption. The output is base64 of
// nonce||box, suitable for storage in a message document.
func Encrypt(plaintext string, key Key) (string, error) {
	if len(plaintext) > MaxMessageSize {
		return "", ErrMessageTooLarge
	}

	nonce, err := GenerateNonce()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Encrypt",
			"error":    err.Error(),
		}).Error("Nonce generation failed")
		return "", err
	}

	sealed := secretbox.Seal(nonce[:], []byte(plaintext), (*[24]byte)(&nonce), (*[32]byte)(&key))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt recovers a plaintext sealed by Encrypt. It never fails to the
// caller: bad keys, truncated input, and corrupted ciphertext all yield
// UndecryptablePlaceholder.
func Decrypt(ciphertext string, key Key) string {
	plaintext, err := open(ciphertext, key)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Decrypt",
			"error":    err.Error(),
		}).Debug("Decryption failed, rendering placeholder")
		return UndecryptablePlaceholder
	}
	return plaintext
}

func open(ciphertext string, key Key) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}
	if len(raw) < 24+secretbox.Overhead {
		return "", errors.New("ciphertext too short")
	}

	var nonce [24]byte
	copy(nonce[:], raw[:24])

	out, ok := secretbox.Open(nil, raw[24:], &nonce, (*[32]byte)(&key))
	if !ok {
		return "", errors.New("message authentication failed")
	}
	return string(out), nil
}
