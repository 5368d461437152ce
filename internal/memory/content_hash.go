package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// ContentHash computes H(value ⊕ sorted(tags) ⊕ scope), the dedup key for
// remember's write path (spec §4.5.3).
func ContentHash(value any, tags []string, scope string) string {
	sorted := append([]string(nil), tags...)
	sort.Strings(sorted)
	valueJSON, _ := json.Marshal(value)
	h := sha256.New()
	h.Write(valueJSON)
	h.Write([]byte{0})
	for _, t := range sorted {
		h.Write([]byte(t))
		h.Write([]byte{0})
	}
	h.Write([]byte(scope))
	return hex.EncodeToString(h.Sum(nil))
}
