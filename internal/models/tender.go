package models

import (
	"regexp"
	"strings"
	"time"
)

// TenderLifecycle represents the lifecycle state of a stored tender
type TenderLifecycle string

const (
	TenderActive    TenderLifecycle = "active"
	TenderExpired   TenderLifecycle = "expired"
	TenderCancelled TenderLifecycle = "cancelled"
)

// Tender is one scraped tender row. Keyed in the store by
// (portal name normalized, canonical tender id).
type Tender struct {
	PortalName        string          `json:"portal_name"`
	TenderID          string          `json:"tender_id"` // canonical form
	RawTenderID       string          `json:"raw_tender_id,omitempty"`
	DepartmentName    string          `json:"department_name"`
	PublishedDate     string          `json:"published_date"`
	ClosingDate       string          `json:"closing_date"`
	OpeningDate       string          `json:"opening_date"`
	OrganisationChain string          `json:"organisation_chain"`
	TitleRef          string          `json:"title_ref"`
	DirectURL         string          `json:"direct_url,omitempty"`
	StatusURL         string          `json:"status_url,omitempty"`
	EMDRaw            string          `json:"emd_raw,omitempty"`
	EMDAmount         float64         `json:"emd_amount,omitempty"`
	Lifecycle         TenderLifecycle `json:"lifecycle"`
	FirstSeenAt       time.Time       `json:"first_seen_at"`
	LastSeenAt        time.Time       `json:"last_seen_at"`
	RunID             int64           `json:"run_id"`
}

var (
	canonicalIDPattern = regexp.MustCompile(`^[A-Z0-9_]{5,}$`)
	whitespaceRun      = regexp.MustCompile(`\s+`)
)

// HasCanonicalID reports whether the tender carries a valid canonical id:
// non-empty, uppercase, [A-Z0-9_] only, length >= 5.
func (t Tender) HasCanonicalID() bool {
	return IsCanonicalTenderID(t.TenderID)
}

// IsCanonicalTenderID checks the canonical-id invariant
func IsCanonicalTenderID(id string) bool {
	return canonicalIDPattern.MatchString(id)
}

// NormalizeClosingDate canonicalizes a closing-date string for comparison:
// uppercase, '-' and '.' become '/', whitespace runs collapse to one space,
// trimmed. Idempotent.
func NormalizeClosingDate(s string) string {
	s = strings.ToUpper(s)
	s = strings.ReplaceAll(s, "-", "/")
	s = strings.ReplaceAll(s, ".", "/")
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
