package util

import (
	"errors"
	"strings"
)

const maxMessageLen = 500

// SanitizeFileName removes path separators and rejects traversal patterns.
func SanitizeFileName(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", errors.New("invalid file name")
	}
	s := strings.TrimSpace(name)
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	if s == "" {
		return "", errors.New("invalid file name")
	}
	return s, nil
}

// SanitizeMessage collapses whitespace and truncates text for logs and API payloads.
func SanitizeMessage(msg string) string {
	msg = strings.Join(strings.Fields(msg), " ")
	if len(msg) <= maxMessageLen {
		return msg
	}
	cut := maxMessageLen
	// avoid splitting a multi-byte rune
	for cut > 0 && !isRuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut] + "…"
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
