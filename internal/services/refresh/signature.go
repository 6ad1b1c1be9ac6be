package refresh

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/ternarybob/tenderwatch/internal/models"
)

// Signature computes the listing fingerprint for change detection: SHA-1 over
// the sorted (serial, lowercased name, count text) tuples of the valid
// departments. Direct URLs are excluded on purpose; portals rotate session
// tokens inside them on every page load.
func Signature(departments []models.Department) string {
	tuples := make([]string, 0, len(departments))
	for _, dept := range departments {
		if !dept.IsValid() {
			continue
		}
		tuples = append(tuples, fmt.Sprintf("%s\x1f%s\x1f%s",
			strings.TrimSpace(dept.SerialNo),
			dept.NormalizedName(),
			strings.TrimSpace(dept.TenderCount)))
	}
	sort.Strings(tuples)

	h := sha1.New()
	for _, tuple := range tuples {
		h.Write([]byte(tuple))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
