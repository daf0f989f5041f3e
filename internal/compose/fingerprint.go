package compose

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Fingerprint identifies the compose file a run used. Line endings and a
// leading byte order mark are normalized first, so the same file checked out
// on Windows and Linux reports the same value in run notifications.
func Fingerprint(body []byte) (string, error) {
	normalized := bytes.TrimPrefix(body, utf8BOM)
	normalized = bytes.ReplaceAll(normalized, []byte("\r\n"), []byte("\n"))
	if len(bytes.TrimSpace(normalized)) == 0 {
		return "", errors.New("compose file is empty")
	}
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:]), nil
}
