package crypto

import (
	"testing"
)

func TestDeriveSharedKey_Symmetric(t *testing.T) {
	testCases := []struct {
		name string
		a, b string
	}{
		{"Simple ids", "u1", "u2"},
		{"Reversed sort order", "zeta", "alpha"},
		{"Identical ids", "u1", "u1"},
		{"UUID-shaped ids", "680a7b98-0029-7b2c-c88c-000000000001", "680a7b98-0029-7b2c-c88c-000000000002"},
		{"Unicode ids", "ユーザー1", "ユーザー2"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			k1 := DeriveSharedKey(tc.a, tc.b)
			k2 := DeriveSharedKey(tc.b, tc.a)
			if k1 != k2 {
				t.Errorf("DeriveSharedKey(%q, %q) != DeriveSharedKey(%q, %q)", tc.a, tc.b, tc.b, tc.a)
			}

			// Deterministic across calls.
			if k1 != DeriveSharedKey(tc.a, tc.b) {
				t.Error("DeriveSharedKey is not deterministic")
			}
		})
	}
}

func TestDeriveSharedKey_DistinctPairs(t *testing.T) {
	if DeriveSharedKey("u1", "u2") == DeriveSharedKey("u1", "u3") {
		t.Error("Distinct pairs produced the same key")
	}

	// Sorting must not glue ids together ambiguously.
	if DeriveSharedKey("ab", "c") == DeriveSharedKey("a", "bc") {
		t.Error("Pair separator failed to disambiguate id boundaries")
	}
}

func TestWrapKey_RoundTrip(t *testing.T) {
	key := DeriveSharedKey("u1", "u2")

	wrapped, err := WrapKey(key, "u2")
	if err != nil {
		t.Fatalf("WrapKey failed: %v", err)
	}

	got, ok := UnwrapKey(wrapped, "u2")
	if !ok {
		t.Fatal("UnwrapKey reported failure for the intended recipient")
	}
	if got != key {
		t.Error("Unwrapped key does not match the original")
	}
}

func TestUnwrapKey_WrongIdentity(t *testing.T) {
	key := DeriveSharedKey("u1", "u2")
	wrapped, err := WrapKey(key, "u2")
	if err != nil {
		t.Fatalf("WrapKey failed: %v", err)
	}

	got, ok := UnwrapKey(wrapped, "u3")
	if ok {
		t.Error("UnwrapKey succeeded with the wrong identity")
	}
	if got != (Key{}) {
		t.Error("Failed unwrap must return a zero key")
	}
}

func TestUnwrapKey_MalformedInput(t *testing.T) {
	testCases := []struct {
		name    string
		wrapped string
	}{
		{"Empty input", ""},
		{"Not base64", "!!not-base64!!"},
		{"Too short", "aGVsbG8="},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, ok := UnwrapKey(tc.wrapped, "u1"); ok {
				t.Errorf("UnwrapKey(%q) succeeded on malformed input", tc.wrapped)
			}
		})
	}
}

func TestWrapKey_NondeterministicWrapping(t *testing.T) {
	key := DeriveSharedKey("u1", "u2")

	w1, err := WrapKey(key, "u2")
	if err != nil {
		t.Fatalf("WrapKey failed: %v", err)
	}
	w2, err := WrapKey(key, "u2")
	if err != nil {
		t.Fatalf("WrapKey failed: %v", err)
	}

	// Fresh nonce per wrap: identical keys must not produce identical
	// wire forms.
	if w1 == w2 {
		t.Error("WrapKey reused a nonce")
	}
}
