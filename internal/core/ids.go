package core

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

const originalMarker = "/originalSource"

// GeneratedToOriginalID derives the id of the original source url mapped
// from the generated source generatedID.
func GeneratedToOriginalID(generatedID, url string) string {
	sum := md5.Sum([]byte(url))
	return generatedID + originalMarker + "-" + hex.EncodeToString(sum[:])
}

// OriginalToGeneratedID returns the generated source an original id came from.
func OriginalToGeneratedID(originalID string) string {
	i := strings.LastIndex(originalID, originalMarker)
	if i < 0 {
		return originalID
	}
	return originalID[:i]
}

// IsOriginalID reports whether id names an original (source-mapped) source.
func IsOriginalID(id string) bool {
	return strings.Contains(id, originalMarker)
}

// IsGeneratedID reports whether id names a generated source.
func IsGeneratedID(id string) bool {
	return !IsOriginalID(id)
}
