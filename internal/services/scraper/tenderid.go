package scraper

import (
	"regexp"
	"strings"

	"github.com/ternarybob/tenderwatch/internal/models"
)

// The NIC canonical id shape: year, org code, serial, optional stage.
// e.g. 2026_DCKUL_128804_1
var (
	nicBracketed  = regexp.MustCompile(`(?i)\[(\d{4}_[A-Z0-9_]+(?:_\d+)?)\]`)
	nicBare       = regexp.MustCompile(`(?i)(\d{4}_[A-Z0-9_]+(?:_\d+)?)`)
	bracketToken  = regexp.MustCompile(`\[([^\[\]]+)\]`)
	idPrefix      = regexp.MustCompile(`(?i)^\s*(tender\s*id|id)\s*[:\-]\s*`)
	separatorRuns = regexp.MustCompile(`[ \-\./]+`)
	underscoreRun = regexp.MustCompile(`_+`)
)

// ExtractTenderID pulls the canonical tender id out of a title/ref cell.
// Portal serials ("1", "138") are never returned; only ids satisfying the
// canonical invariant. Returns "" when no id can be extracted.
//
// Order of preference:
//  1. the first bracketed NIC-shaped token
//  2. bracketed tokens right to left, first that normalizes to [A-Z0-9_]{5,}
//  3. the rightmost NIC-shaped substring anywhere in the title
func ExtractTenderID(title string) string {
	if m := nicBracketed.FindStringSubmatch(title); m != nil {
		return NormalizeTenderID(m[1])
	}

	brackets := bracketToken.FindAllStringSubmatch(title, -1)
	for i := len(brackets) - 1; i >= 0; i-- {
		candidate := NormalizeTenderID(brackets[i][1])
		if models.IsCanonicalTenderID(candidate) {
			return candidate
		}
	}

	if matches := nicBare.FindAllString(title, -1); len(matches) > 0 {
		return NormalizeTenderID(matches[len(matches)-1])
	}

	return ""
}

// NormalizeTenderID canonicalizes a raw tender id: strips "tender id:"/"id:"
// prefixes, unwraps brackets, uppercases, turns separator runs into single
// underscores and collapses/trims underscores. Idempotent.
func NormalizeTenderID(s string) string {
	s = strings.TrimSpace(s)
	s = idPrefix.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") && len(s) >= 2 {
		s = s[1 : len(s)-1]
	}

	s = strings.ToUpper(s)
	s = separatorRuns.ReplaceAllString(s, "_")
	s = underscoreRun.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}
