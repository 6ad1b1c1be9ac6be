package models

import (
	"strings"

	"github.com/ternarybob/tenderwatch/internal/common"
)

// PortalSkill selects the parser family used for a portal
type PortalSkill string

const (
	PortalSkillNIC     PortalSkill = "nic"
	PortalSkillGeneric PortalSkill = "generic"
)

// nicMarkers identify NIC-family portals from name or URL fragments
var nicMarkers = []string{"eprocure", "tenders.gov.in", "nic.in", "tendershimachal", "etenders"}

// Portal is a configured e-procurement site. Immutable during a run.
type Portal struct {
	Name       string      `json:"name"`
	BaseURL    string      `json:"base_url"`
	OrgListURL string      `json:"org_list_url"`
	Keyword    string      `json:"keyword"`
	Skill      PortalSkill `json:"skill"`
}

// NewPortal builds a Portal from configuration values, deriving the
// organisation-list URL and keyword slug when absent.
func NewPortal(name, baseURL, keyword string) Portal {
	p := Portal{
		Name:    strings.TrimSpace(name),
		BaseURL: strings.TrimSpace(baseURL),
		Keyword: strings.TrimSpace(keyword),
	}
	p.OrgListURL = common.DeriveOrgListURL(p.BaseURL)
	if p.Keyword == "" {
		p.Keyword = common.KeywordFromURL(p.BaseURL)
	}
	p.Skill = detectSkill(p.Name, p.BaseURL, p.OrgListURL)
	return p
}

// NormalizedName returns the portal name key used for store lookups:
// case-insensitive, whitespace-trimmed.
func (p Portal) NormalizedName() string {
	return NormalizePortalName(p.Name)
}

// Hostname returns the portal's hostname for the domain limiter
func (p Portal) Hostname() string {
	return common.ExtractHostname(p.BaseURL)
}

// NormalizePortalName lowercases and trims a portal name for matching
func NormalizePortalName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func detectSkill(name, baseURL, orgListURL string) PortalSkill {
	haystack := strings.ToLower(name + " " + baseURL + " " + orgListURL)
	for _, marker := range nicMarkers {
		if strings.Contains(haystack, marker) {
			return PortalSkillNIC
		}
	}
	return PortalSkillGeneric
}
