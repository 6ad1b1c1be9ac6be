package models

import (
	"strconv"
	"strings"

	"github.com/ternarybob/tenderwatch/internal/common"
)

// Department is one row of a portal's organisation listing: the unit of
// iteration inside a portal run.
type Department struct {
	SerialNo    string `json:"serial_no"`
	Name        string `json:"name"`
	TenderCount string `json:"tender_count"` // advertised count; may be non-numeric
	DirectURL   string `json:"direct_url,omitempty"`
}

// headerNames are department names that mark a header row, not a department
var headerNames = map[string]struct{}{
	"organisation name": {},
	"department name":   {},
	"organization":      {},
	"organization name": {},
}

// headerSerials are serial cells that mark a header row
var headerSerials = map[string]struct{}{
	"s.no":   {},
	"sr.no":  {},
	"serial": {},
	"#":      {},
}

// NewDepartment builds a Department, stripping session tokens from the
// direct URL before it is stored.
func NewDepartment(serialNo, name, tenderCount, directURL string) Department {
	return Department{
		SerialNo:    strings.TrimSpace(serialNo),
		Name:        strings.TrimSpace(name),
		TenderCount: strings.TrimSpace(tenderCount),
		DirectURL:   common.StripSessionParams(strings.TrimSpace(directURL)),
	}
}

// IsValid reports whether this row is a real department: the serial parses
// as a positive integer and neither cell looks like a listing header.
func (d Department) IsValid() bool {
	serial := strings.ToLower(strings.TrimSpace(d.SerialNo))
	if _, header := headerSerials[serial]; header {
		return false
	}
	n, err := strconv.Atoi(serial)
	if err != nil || n <= 0 {
		return false
	}
	name := strings.ToLower(strings.TrimSpace(d.Name))
	if name == "" {
		return false
	}
	if _, header := headerNames[name]; header {
		return false
	}
	return true
}

// NormalizedName returns the lowercased, trimmed department name used in
// checkpoint processed-department sets.
func (d Department) NormalizedName() string {
	return strings.ToLower(strings.TrimSpace(d.Name))
}

// AdvertisedCount parses the advertised tender count, returning 0 when the
// cell is non-numeric.
func (d Department) AdvertisedCount() int {
	n, err := strconv.Atoi(strings.TrimSpace(d.TenderCount))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
