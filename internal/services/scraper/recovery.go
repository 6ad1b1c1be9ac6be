package scraper

import (
	"context"
	"errors"
	"strings"

	"github.com/ternarybob/tenderwatch/internal/interfaces"
)

// sessionDeadMarkers are error-text fragments that mean the fetch session is
// gone rather than the page being slow
var sessionDeadMarkers = []string{
	"session",
	"invalid session",
	"timeout",
	"connection",
	"disconnected",
	"chrome not reachable",
	"target window already closed",
	"unable to discover open pages",
	"net::",
}

// isSessionDead classifies a fetch error as requiring session recovery
func isSessionDead(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, interfaces.ErrSessionDead) || errors.Is(err, interfaces.ErrFetchTimeout) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	lower := strings.ToLower(err.Error())
	for _, marker := range sessionDeadMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
