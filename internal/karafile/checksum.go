package karafile

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
)

// SubChecksum computes the checksum used for subtitle-content change
// detection: sha256 over the raw bytes after line-ending normalization,
// so a CRLF/LF round-trip through an editor does not count as a change.
func SubChecksum(data []byte) string {
	normalized := bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:])
}
