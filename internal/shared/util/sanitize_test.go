package util

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "resume.pdf", want: "resume.pdf"},
		{in: " a/b\\c.png ", want: "a_b_c.png"},
		{in: "../secret", wantErr: true},
		{in: "   ", wantErr: true},
	}
	for _, tt := range tests {
		got, err := SanitizeFileName(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("SanitizeFileName(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("SanitizeFileName(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestSanitizeMessageTruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("é", 400)
	got := SanitizeMessage(long)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated message is not valid UTF-8")
	}
	if len(got) > maxMessageLen+len("…") {
		t.Fatalf("message too long: %d bytes", len(got))
	}
	if SanitizeMessage("  a \n\t b ") != "a b" {
		t.Fatalf("expected whitespace to collapse")
	}
}
