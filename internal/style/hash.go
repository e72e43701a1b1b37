package style

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// canonicalHash renders the descriptor's canonical serialisation (Go's
// %+v of a struct visits fields in declaration order and is therefore
// deterministic across calls) and hashes it with SHA-256. This is the
// "stable style id" of spec §4.6: two cells are style-equal iff their ids
// match.
func canonicalHash(d Descriptor) string {
	serialised := fmt.Sprintf("%+v", d)
	sum := sha256.Sum256([]byte(serialised))
	return hex.EncodeToString(sum[:])[:16]
}
