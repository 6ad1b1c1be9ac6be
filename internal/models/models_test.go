package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDepartmentIsValid(t *testing.T) {
	tests := []struct {
		name   string
		dept   Department
		expect bool
	}{
		{"real row", NewDepartment("1", "Public Works Department", "12", ""), true},
		{"header by serial", NewDepartment("S.No", "Public Works", "12", ""), false},
		{"header by name", NewDepartment("1", "Organisation Name", "", ""), false},
		{"non-numeric serial", NewDepartment("abc", "Public Works", "12", ""), false},
		{"zero serial", NewDepartment("0", "Public Works", "12", ""), false},
		{"empty name", NewDepartment("1", "  ", "12", ""), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, tt.dept.IsValid())
		})
	}
}

func TestDepartmentAdvertisedCount(t *testing.T) {
	assert.Equal(t, 12, NewDepartment("1", "PWD", " 12 ", "").AdvertisedCount())
	assert.Equal(t, 0, NewDepartment("1", "PWD", "N/A", "").AdvertisedCount())
	assert.Equal(t, 0, NewDepartment("1", "PWD", "-3", "").AdvertisedCount())
}

func TestNewDepartmentStripsSessionTokens(t *testing.T) {
	d := NewDepartment("1", "PWD", "5",
		"https://hptenders.gov.in/nicgep/app;jsessionid=AB12?page=FrontEndTendersByOrganisation&orgid=7")
	assert.NotContains(t, d.DirectURL, "jsessionid")
	assert.Contains(t, d.DirectURL, "orgid=7")
}

func TestNewPortalDerivations(t *testing.T) {
	p := NewPortal("HP Tenders", "https://hptenders.gov.in/nicgep/app", "")

	assert.Equal(t, "hptenders_gov_in", p.Keyword)
	assert.Contains(t, p.OrgListURL, "FrontEndTendersByOrganisation")
	assert.Equal(t, PortalSkillNIC, p.Skill)
	assert.Equal(t, "hp tenders", p.NormalizedName())
	assert.Equal(t, "hptenders.gov.in", p.Hostname())
}

func TestNewPortalKeywordOverride(t *testing.T) {
	p := NewPortal("Kerala Tenders", "https://etenders.kerala.gov.in/nicgep/app", "kerala")
	assert.Equal(t, "kerala", p.Keyword)
}

func TestDetectSkillGeneric(t *testing.T) {
	p := NewPortal("Acme Procurement", "https://procure.acme.example", "acme")
	assert.Equal(t, PortalSkillGeneric, p.Skill)
}

func TestIsCanonicalTenderID(t *testing.T) {
	assert.True(t, IsCanonicalTenderID("2026_PWD_10001_1"))
	assert.True(t, IsCanonicalTenderID("ABCDE"))
	assert.False(t, IsCanonicalTenderID("abc_1"), "lowercase is not canonical")
	assert.False(t, IsCanonicalTenderID("AB12"), "too short")
	assert.False(t, IsCanonicalTenderID("2026-PWD-1"), "hyphens are not canonical")
	assert.False(t, IsCanonicalTenderID(""))
}

func TestNormalizeClosingDate(t *testing.T) {
	tests := []struct{ in, out string }{
		{"15-09-2026 03:00 pm", "15/09/2026 03:00 PM"},
		{"15.09.2026   03:00 PM ", "15/09/2026 03:00 PM"},
		{" 15/09/2026\t03:00 PM", "15/09/2026 03:00 PM"},
		{"", ""},
	}
	for _, tt := range tests {
		got := NormalizeClosingDate(tt.in)
		assert.Equal(t, tt.out, got)
		assert.Equal(t, got, NormalizeClosingDate(got), "normalization is idempotent")
	}
}
