// Package fileid provides deterministic identity for imported manuscript files.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash returns a stable hex digest of file content. Same bytes always
// yield the same hash. The inbox watcher uses it to decide whether a dropped
// file was already imported.
func ContentHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
