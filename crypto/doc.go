// Package crypto implements the key derivation and message cipher layer
// for CipherChat conversations.
//
// Every conversation between two users is protected by a symmetric key
// derived from the pair of participant identities. The same key is
// recomputable by either side without an exchange round-trip, and the
// recipient's copy travels with each message as a wrapped (encrypted)
// key that only the recipient's identity can open.
//
// Example:
//
//	key := crypto.DeriveSharedKey("u1", "u2")
//	ciphertext, err := crypto.Encrypt("hello", key)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	wrapped, err := crypto.WrapKey(key, "u2")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// On the recipient's side:
//	if k, ok := crypto.UnwrapKey(wrapped, "u2"); ok {
//	    fmt.Println(crypto.Decrypt(ciphertext, k))
//	}
//
// Decrypt never fails to the caller: undecryptable input yields
// UndecryptablePlaceholder so message rendering stays non-fatal.
//
// The identity-derived scheme is deliberately weak: anyone holding both
// user ids can recompute the key offline. Key material acquisition is
// therefore behind the KeyProvider interface, and ECDHKeyProvider offers
// an X25519-based alternative for deployments that publish static public
// keys on user profiles.
package crypto
