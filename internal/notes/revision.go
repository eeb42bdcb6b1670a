package notes

import (
	"crypto/sha3"
	"encoding/hex"
)

// RevisionHash computes SHA3-256 for title+content. Updates that leave the
// hash unchanged skip re-embedding.
func RevisionHash(title, content string) string {
	sum := sha3.Sum256([]byte(title + "\x00" + content))
	return hex.EncodeToString(sum[:])
}
