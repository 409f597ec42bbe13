package protocol

import "strings"

// IsAck reports whether a host reply accepts the offered secret.
// The reply is trimmed before comparison.
func IsAck(reply []byte) bool {
	return strings.TrimSpace(string(reply)) == AckToken
}

// IsReject reports whether a host reply is an explicit rejection.
func IsReject(reply []byte) bool {
	return strings.HasPrefix(strings.TrimSpace(string(reply)), RejectPrefix)
}

// SecretMatches compares an offered secret with the expected one after
// trimming surrounding whitespace from the offer. The comparison is
// case-sensitive and byte-exact.
func SecretMatches(offered []byte, secret string) bool {
	return strings.TrimSpace(string(offered)) == secret
}
