package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tenderwatch/internal/models"
)

func writePortalCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "portals.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadPortalList(t *testing.T) {
	path := writePortalCSV(t, `Name,BaseURL,Keyword
Kerala Tenders,https://etenders.kerala.gov.in/nicgep/app,kerala
HP Tenders,https://hptenders.gov.in/nicgep/app,
# commented out,https://ignored.example.in,
Broken Portal,,
`)

	portals, err := LoadPortalList(path, arbor.NewLogger())
	require.NoError(t, err)
	require.Len(t, portals, 2, "rows without a base URL and comments are dropped")

	// Sorted case-insensitively by name
	assert.Equal(t, "HP Tenders", portals[0].Name)
	assert.Equal(t, "Kerala Tenders", portals[1].Name)

	// Keyword derives from the host when absent
	assert.Equal(t, "hptenders_gov_in", portals[0].Keyword)
	assert.Equal(t, "kerala", portals[1].Keyword)

	// NIC markers drive the skill
	assert.Equal(t, models.PortalSkillNIC, portals[0].Skill)
	assert.NotEmpty(t, portals[0].OrgListURL)
	assert.Contains(t, portals[0].OrgListURL, "FrontEndTendersByOrganisation")
}

func TestLoadPortalList_MissingFile(t *testing.T) {
	_, err := LoadPortalList(filepath.Join(t.TempDir(), "nope.csv"), arbor.NewLogger())
	assert.Error(t, err)
}

func TestSelectPortals(t *testing.T) {
	portals := []models.Portal{
		models.NewPortal("HP Tenders", "https://hptenders.gov.in/nicgep/app", ""),
		models.NewPortal("Kerala Tenders", "https://etenders.kerala.gov.in/nicgep/app", ""),
	}

	selected, unknown := SelectPortals(portals, []string{"hp tenders", "Goa Tenders"})
	require.Len(t, selected, 1)
	assert.Equal(t, "HP Tenders", selected[0].Name)
	assert.Equal(t, []string{"Goa Tenders"}, unknown)
}
