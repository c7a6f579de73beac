package server

import (
	"math/rand"
	"strconv"
	"strings"
)

const base36Chars = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewSessionID builds an id whose first character is a shard index in
// [1, shardCount] followed by a short base36 suffix. The shard digit
// routes tournament rehydration; the suffix is not guaranteed unique.
func NewSessionID() string {
	shard := rand.Intn(shardCount) + 1
	var b strings.Builder
	b.WriteString(strconv.Itoa(shard))
	for i := 0; i < 5; i++ {
		b.WriteByte(base36Chars[rand.Intn(len(base36Chars))])
	}
	return b.String()
}

// ShardOf extracts the shard index from a session id, or 0 when the id
// does not start with a valid shard digit.
func ShardOf(id string) int {
	if id == "" {
		return 0
	}
	shard := int(id[0] - '0')
	if shard < 1 || shard > shardCount {
		return 0
	}
	return shard
}

// SanitizeToken strips everything outside the allowed identifier
// charset and trims surrounding whitespace.
func SanitizeToken(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '.', r == ',', r == '_', r == '-':
			b.WriteRune(r)
		case strings.ContainsRune("áéíóúñü", r):
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
