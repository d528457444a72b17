package marketplace

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var controlCharPattern = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)

// boundedText normalizes caller supplied text and enforces a byte limit.
func boundedText(field, value string, limit int) (string, error) {
	if !utf8.ValidString(value) {
		return "", fmt.Errorf("%w: %s is not valid utf-8", ErrInvalidInput, field)
	}
	value = norm.NFC.String(strings.TrimSpace(value))
	if controlCharPattern.MatchString(value) {
		return "", fmt.Errorf("%w: %s contains control characters", ErrInvalidInput, field)
	}
	if len(value) > limit {
		return "", fmt.Errorf("%w: %s is %d bytes, max %d", ErrTextTooLong, field, len(value), limit)
	}
	return value, nil
}

// boundedBytes enforces a size limit on opaque payloads.
func boundedBytes(field string, value []byte, limit int) ([]byte, error) {
	if len(value) > limit {
		return nil, fmt.Errorf("%w: %s is %d bytes, max %d", ErrTextTooLong, field, len(value), limit)
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// account validates a caller or counterparty identifier.
func account(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%w: %s required", ErrInvalidInput, field)
	}
	if len(value) > MaxAccountLen {
		return "", fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidInput, field, MaxAccountLen)
	}
	if !utf8.ValidString(value) || controlCharPattern.MatchString(value) || strings.ContainsAny(value, " \t\r\n") {
		return "", fmt.Errorf("%w: %s has invalid characters", ErrInvalidInput, field)
	}
	return value, nil
}
