package fetcher

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tenderwatch/internal/common"
	"github.com/ternarybob/tenderwatch/internal/interfaces"
	"github.com/ternarybob/tenderwatch/internal/models"
)

// maxListingPages bounds the pagination walk; NIC departments rarely exceed
// a handful of pages and a broken next link must not loop forever
const maxListingPages = 50

// NICFetcher implements PortalFetcher for NIC-family portals through a
// chromedp browser session. The generic skill shares it; the parsers are
// marker-driven rather than position-fixed.
type NICFetcher struct {
	portal  models.Portal
	session *browserSession
	logger  arbor.ILogger
}

// NewNICFetcher builds a fetcher for one portal. The browser starts lazily
// on first fetch.
func NewNICFetcher(portal models.Portal, cfg common.FetcherConfig, logger arbor.ILogger) *NICFetcher {
	return &NICFetcher{
		portal:  portal,
		session: newBrowserSession(cfg, logger),
		logger:  logger,
	}
}

// FetchDepartments loads the organisation listing and returns its rows,
// header rows included
func (f *NICFetcher) FetchDepartments(ctx context.Context, orgListURL string) ([]models.Department, error) {
	html, err := f.session.fetchHTML(ctx, orgListURL)
	if err != nil {
		return nil, err
	}

	departments, err := ParseDepartmentTable(html, orgListURL)
	if err != nil {
		return nil, err
	}

	f.logger.Debug().
		Str("portal", f.portal.Name).
		Int("rows", len(departments)).
		Msg("Organisation listing fetched")
	return departments, nil
}

// FetchDepartmentRows loads a department's tender listing, walking pagination
// unless shallow is set.
func (f *NICFetcher) FetchDepartmentRows(ctx context.Context, dept models.Department, shallow bool) ([]models.Tender, error) {
	pageURL := dept.DirectURL
	if pageURL == "" {
		return nil, fmt.Errorf("department %q has no listing link", dept.Name)
	}

	var all []models.Tender
	for page := 0; page < maxListingPages; page++ {
		if ctx.Err() != nil {
			return all, ctx.Err()
		}

		html, err := f.session.fetchHTML(ctx, pageURL)
		if err != nil {
			return all, err
		}

		rows, next, err := ParseTenderTable(html, pageURL)
		if err != nil {
			return all, err
		}
		all = append(all, rows...)

		if shallow || next == "" || next == pageURL {
			break
		}
		pageURL = next
	}

	f.logger.Debug().
		Str("portal", f.portal.Name).
		Str("department", dept.Name).
		Int("rows", len(all)).
		Bool("shallow", shallow).
		Msg("Department listing fetched")
	return all, nil
}

// Reinitialize rebuilds the browser session after a watchdog alarm or
// session-dead error
func (f *NICFetcher) Reinitialize(ctx context.Context) error {
	f.logger.Info().Str("portal", f.portal.Name).Msg("Rebuilding browser session")
	if err := f.session.reinitialize(ctx); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrSessionDead, err)
	}
	return nil
}

// Close shuts the browser down
func (f *NICFetcher) Close() error {
	f.session.close()
	return nil
}

// NewFactory returns the fetcher factory used by the scheduler and the
// refresh watcher. Both portal skills currently share the NIC fetcher; the
// skill split is kept so a portal family needing different navigation can
// get its own implementation.
func NewFactory(cfg common.FetcherConfig, logger arbor.ILogger) interfaces.FetcherFactory {
	return func(portal models.Portal) (interfaces.PortalFetcher, error) {
		switch portal.Skill {
		case models.PortalSkillNIC, models.PortalSkillGeneric:
			return NewNICFetcher(portal, cfg, logger), nil
		default:
			return nil, fmt.Errorf("unknown portal skill %q", portal.Skill)
		}
	}
}
