// Package fingerprint computes stable content hashes used for change
// detection and deterministic chunk identity.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Of returns the hex-encoded SHA-256 digest of text.
func Of(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Short returns the 16-character prefix of Of(text), for storage paths where
// the full 64-char digest would be wasteful.
func Short(text string) string {
	f := Of(text)
	return f[:16]
}

// Namespace discriminates the source-unit kind a chunk id was derived from.
type Namespace string

const (
	NamespaceDoc   Namespace = "doc"
	NamespaceForum Namespace = "forum"
)

// ChunkID derives a deterministic, idempotent chunk identifier from the
// owning source unit's key, the chunk's position within that unit, and the
// embedding model it was produced for. Re-ingesting identical content under
// the same model always yields the same id, so upserts overwrite in place
// rather than accumulating duplicates.
func ChunkID(ns Namespace, sourceKey string, subIndex int, embeddingModel string) string {
	raw := fmt.Sprintf("%s::%s::%d::%s", ns, sourceKey, subIndex, embeddingModel)
	sum := sha256.Sum256([]byte(raw))
	full := hex.EncodeToString(sum[:])
	return full[:32]
}
