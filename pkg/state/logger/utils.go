package logger

import (
	"strings"
	"unicode/utf8"
)

func maskedValue(v string) string {
	if v == "" {
		return ""
	}
	// keep first and last rune, mask the middle with fixed asterisks
	l := utf8.RuneCountInString(v)
	if l <= 2 {
		return "<redacted>"
	}
	first, _ := utf8.DecodeRuneInString(v)
	last, _ := utf8.DecodeLastRuneInString(v)
	return string(first) + "*****" + string(last)
}

func redactHeaderValue(k string, v string) string {
	if v == "" {
		return ""
	}
	if _, ok := sensitiveHeaders[strings.ToLower(k)]; !ok {
		return v
	}
	return maskedValue(v)
}

// Token shortens a session token for log lines.
func Token(tok string) string {
	return maskedValue(tok)
}
