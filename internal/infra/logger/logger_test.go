package logger

import (
	"context"
	"testing"
)

func TestMaskEmail(t *testing.T) {
	cases := map[string]string{
		"":                       "",
		"joao.silva@example.com": "joa***@example.com",
		"ab@example.com":         "ab***@example.com",
		"@example.com":           "***@example.com",
		"not-an-email":           "***",
	}
	for in, want := range cases {
		if got := MaskEmail(in); got != want {
			t.Fatalf("MaskEmail(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMaskIP(t *testing.T) {
	cases := map[string]string{
		"":                                "",
		"192.168.1.100":                   "192.168.*.*",
		"2001:db8:85a3:0:0:8a2e:370:7334": "2001:db8:85a3:0:*:*:*:*",
		"garbage":                         "***",
	}
	for in, want := range cases {
		if got := MaskIP(in); got != want {
			t.Fatalf("MaskIP(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMaskPhoneAndString(t *testing.T) {
	if got := MaskPhone("+5511987654321"); got != "***4321" {
		t.Fatalf("unexpected phone mask %q", got)
	}
	if got := MaskString("secret123"); got != "se***23" {
		t.Fatalf("unexpected string mask %q", got)
	}
	if got := MaskString("abc"); got != "***" {
		t.Fatalf("short strings must be fully masked, got %q", got)
	}
}

func TestWithContextWithoutLogger(t *testing.T) {
	ctx := context.WithValue(context.Background(), RequestIDKey{}, "req-1")
	if WithContext(ctx) == nil {
		t.Fatal("expected a usable logger")
	}
}
