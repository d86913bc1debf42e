package security

import (
	"testing"
	"unicode"
)

func TestGenerateNumericCode(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		code, err := GenerateNumericCode(6)
		if err != nil {
			t.Fatalf("GenerateNumericCode returned error: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("expected 6 digits, got %q", code)
		}
		for _, r := range code {
			if !unicode.IsDigit(r) {
				t.Fatalf("expected only digits, got %q", code)
			}
		}
		seen[code] = struct{}{}
	}
	if len(seen) < 40 {
		t.Fatalf("codes look predictable: %d distinct out of 50", len(seen))
	}

	if _, err := GenerateNumericCode(0); err == nil {
		t.Fatal("expected error for zero length")
	}
}

func TestGenerateSecureToken(t *testing.T) {
	token, err := GenerateSecureToken(32)
	if err != nil {
		t.Fatalf("GenerateSecureToken returned error: %v", err)
	}
	if len(token) != 43 {
		t.Fatalf("expected 43 base64url characters, got %d", len(token))
	}
	if _, err := GenerateSecureToken(-1); err == nil {
		t.Fatal("expected error for negative length")
	}
}

func TestHashTokenIsStable(t *testing.T) {
	if HashToken("123456") != HashToken("123456") {
		t.Fatal("expected deterministic hash")
	}
	if HashToken("123456") == HashToken("123457") {
		t.Fatal("expected different codes to hash differently")
	}
	if len(HashToken("x")) != 64 {
		t.Fatal("expected hex sha256 digest")
	}
}
