package parsing

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns the SHA-256 of the transcript as 64 lowercase hex characters.
func Fingerprint(transcript string) string {
	digest := sha256.Sum256([]byte(transcript))
	return hex.EncodeToString(digest[:])
}
