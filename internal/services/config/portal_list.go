package config

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tenderwatch/internal/models"
)

// LoadPortalList reads the portal configuration CSV: Name, BaseURL, Keyword
// (header optional, extra columns ignored). Rows without a base URL are
// dropped with a warning. The result is sorted case-insensitively by name so
// batch order is stable across runs.
func LoadPortalList(path string, logger arbor.ILogger) ([]models.Portal, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening portal list: %w", err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var portals []models.Portal
	line := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading portal list line %d: %w", line+1, err)
		}
		line++

		if len(record) == 0 {
			continue
		}
		name := strings.TrimSpace(record[0])
		if name == "" || strings.HasPrefix(name, "#") {
			continue
		}
		if line == 1 && strings.EqualFold(name, "name") {
			continue // header row
		}

		baseURL := ""
		if len(record) > 1 {
			baseURL = strings.TrimSpace(record[1])
		}
		if baseURL == "" {
			logger.Warn().Str("portal", name).Int("line", line).Msg("Portal has no base URL, dropping")
			continue
		}

		keyword := ""
		if len(record) > 2 {
			keyword = strings.TrimSpace(record[2])
		}

		portals = append(portals, models.NewPortal(name, baseURL, keyword))
	}

	sort.Slice(portals, func(i, j int) bool {
		return strings.ToLower(portals[i].Name) < strings.ToLower(portals[j].Name)
	})

	logger.Info().Int("portals", len(portals)).Str("path", path).Msg("Portal list loaded")
	return portals, nil
}

// SelectPortals filters portals by name (case-insensitive exact match).
// Unknown names are reported back so the caller can warn.
func SelectPortals(portals []models.Portal, names []string) (selected []models.Portal, unknown []string) {
	byName := make(map[string]models.Portal, len(portals))
	for _, p := range portals {
		byName[p.NormalizedName()] = p
	}
	for _, name := range names {
		p, ok := byName[models.NormalizePortalName(name)]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		selected = append(selected, p)
	}
	return selected, unknown
}
