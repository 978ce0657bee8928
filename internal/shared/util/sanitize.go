package util

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxFileNameBytes = 200

var errInvalidFileName = errors.New("invalid file name")

// SanitizeFileName turns a case or document number into one storage-key segment.
// Separators and control characters become "_"; traversal and empty results are
// rejected. Court numbers such as "(2026)沪0101民初1号" pass through unchanged.
func SanitizeFileName(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", errInvalidFileName
	}
	s := strings.Map(func(r rune) rune {
		switch {
		case r == '/', r == '\\', r == ':':
			return '_'
		case unicode.IsControl(r):
			return '_'
		default:
			return r
		}
	}, strings.TrimSpace(name))
	s = strings.Trim(s, ". ")
	if s == "" {
		return "", errInvalidFileName
	}
	for len(s) > maxFileNameBytes {
		_, size := utf8.DecodeLastRuneInString(s)
		s = s[:len(s)-size]
	}
	return s, nil
}
