package tiered

import (
	"strings"
	"testing"
)

func TestGenerateKeyShape(t *testing.T) {
	key := GenerateKey("user", "profile", "42")

	if !strings.HasPrefix(key, "user:profile:42:") {
		t.Fatalf("key %q missing prefix and parts", key)
	}
	hash := key[strings.LastIndex(key, ":")+1:]
	if hash == "" {
		t.Fatalf("key %q missing hash suffix", key)
	}
	for _, r := range hash {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'z') {
			t.Fatalf("hash %q contains non-base36 rune %q", hash, r)
		}
	}
}

func TestGenerateKeyDeterministic(t *testing.T) {
	a := GenerateKey("user", "profile", "42")
	b := GenerateKey("user", "profile", "42")
	if a != b {
		t.Fatalf("same inputs produced %q and %q", a, b)
	}
}

func TestGenerateKeyDistinguishesInputs(t *testing.T) {
	if GenerateKey("user", "a", "b") == GenerateKey("user", "b", "a") {
		t.Fatal("part order should change the key")
	}
	if GenerateKey("user", "x") == GenerateKey("session", "x") {
		t.Fatal("prefix should change the key")
	}
}

func TestGenerateKeyNoParts(t *testing.T) {
	key := GenerateKey("ping")
	if !strings.HasPrefix(key, "ping:") {
		t.Fatalf("key %q missing prefix", key)
	}
	// Empty part list hashes to zero.
	if key != "ping::0" {
		t.Fatalf("key with no parts = %q, want %q", key, "ping::0")
	}
}
