package suspicion

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Fingerprint returns a stable identity for one finding, used to deduplicate
// persisted findings across scan runs of the same image. The process
// identifier is deliberately excluded: the same injected region observed in
// two runs of one program is the same finding.
func Fingerprint(imagePath string, s *Suspicion) string {
	data := fmt.Sprintf("%s:%s:0x%x:0x%x:%t",
		normalizePath(imagePath),
		s.Kind,
		s.Entity.StartVA(),
		s.Subregion.BaseVA(),
		s.EntityScope,
	)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// normalizePath lower-cases and forward-slashes a path so fingerprints match
// across case-insensitive filesystems.
func normalizePath(p string) string {
	p = strings.TrimSpace(strings.ToLower(p))
	return strings.ReplaceAll(p, `\`, "/")
}
