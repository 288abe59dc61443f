package util

import "strings"

// SafeTruncate returns at most maxLen bytes of s. It is used when only a
// prefix of a code or token may appear in debug logs.
//
//	SafeTruncate("very-long-token-abc123", 8) // "very-lon"
//	SafeTruncate("short", 10)                  // "short"
//	SafeTruncate("test", -1)                   // ""
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL removes trailing slashes so that "<issuer>/token" never
// contains a double slash.
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}
