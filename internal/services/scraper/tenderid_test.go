package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ternarybob/tenderwatch/internal/models"
)

func TestExtractTenderID_BracketedNICShape(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{
			name:  "standard NIC id",
			title: "Construction of road [2026_DCKUL_128804_1]",
			want:  "2026_DCKUL_128804_1",
		},
		{
			name:  "first NIC bracket wins over later brackets",
			title: "[2025_PWD_99182_2] widening works [extra note]",
			want:  "2025_PWD_99182_2",
		},
		{
			name:  "lowercase id uppercased",
			title: "supply of pipes [2024_phed_55010_1]",
			want:  "2024_PHED_55010_1",
		},
		{
			name:  "no stage suffix",
			title: "Annual maintenance [2026_HPSEB_120450]",
			want:  "2026_HPSEB_120450",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractTenderID(tt.title))
		})
	}
}

func TestExtractTenderID_FallbackBrackets(t *testing.T) {
	// No NIC-shaped token; rightmost bracket that normalizes canonically wins
	got := ExtractTenderID("Tender for supplies [Ref: ABC] [NIT-45/2026-HP]")
	assert.Equal(t, "NIT_45_2026_HP", got)
	assert.True(t, models.IsCanonicalTenderID(got))
}

func TestExtractTenderID_BareNICShape(t *testing.T) {
	// Unbracketed id anywhere in the title; rightmost match is used
	got := ExtractTenderID("e-tender 2025_GAD_11111_1 superseded by 2026_GAD_22222_1")
	assert.Equal(t, "2026_GAD_22222_1", got)
}

func TestExtractTenderID_NoID(t *testing.T) {
	assert.Empty(t, ExtractTenderID("Corrigendum to earlier notice"))
	assert.Empty(t, ExtractTenderID(""))
	// A bare serial never qualifies
	assert.Empty(t, ExtractTenderID("138"))
}

func TestNormalizeTenderID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"tender id: 2026_ABC_1", "2026_ABC_1"},
		{"ID- 2026_ABC_1", "2026_ABC_1"},
		{"[2026_ABC_1]", "2026_ABC_1"},
		{"2026 abc 1", "2026_ABC_1"},
		{"2026-abc/1.0", "2026_ABC_1_0"},
		{"__2026__ABC__1__", "2026_ABC_1"},
		{"  2026_abc_1  ", "2026_ABC_1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeTenderID(tt.in), "input %q", tt.in)
	}
}

func TestNormalizeTenderID_Idempotent(t *testing.T) {
	inputs := []string{
		"tender id: [2026-DC KUL/128804.1]",
		"2025_PWD_99182_2",
		"id: nit-45/2026",
	}
	for _, in := range inputs {
		once := NormalizeTenderID(in)
		assert.Equal(t, once, NormalizeTenderID(once), "normalize not idempotent for %q", in)
	}
}
