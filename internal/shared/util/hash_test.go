package util

import "testing"

func TestFingerprint(t *testing.T) {
	got := Fingerprint("eyJhbGciOiJIUzI1NiJ9.payload.sig")
	if got != Fingerprint("eyJhbGciOiJIUzI1NiJ9.payload.sig") {
		t.Fatalf("expected stable fingerprint, got %s", got)
	}
	for _, ch := range got {
		if !((ch >= 'a' && ch <= 'f') || (ch >= '0' && ch <= '9')) {
			t.Fatalf("fingerprint contains non-hex character: %c", ch)
		}
	}
	if len(got) != 12 {
		t.Fatalf("expected 12 hex characters, got %d", len(got))
	}
	if Fingerprint("") != "" {
		t.Fatalf("expected empty fingerprint for empty input")
	}
}

func TestMaskToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: "***"},
		{in: "short", want: "***"},
		{in: "abcdefghijklmnop", want: "abcdefgh***"},
	}
	for _, tt := range tests {
		if got := MaskToken(tt.in); got != tt.want {
			t.Fatalf("MaskToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeFileNameTraversalAndSeparators(t *testing.T) {
	if _, err := SanitizeFileName("../etc/passwd"); err == nil {
		t.Fatalf("expected traversal to be rejected")
	}
	got, err := SanitizeFileName(" a/b\\c.pdf ")
	if err != nil {
		t.Fatalf("SanitizeFileName: %v", err)
	}
	if got != "a_b_c.pdf" {
		t.Fatalf("unexpected sanitized name %q", got)
	}
}
