package fetcher

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/tenderwatch/internal/common"
	"github.com/ternarybob/tenderwatch/internal/models"
)

// deptHeaderMarkers identify the organisation-list table among the page's
// layout tables. Synonyms: a listing carries exactly one of these.
var deptHeaderMarkers = []string{"organisation name", "department name", "organization"}

// tenderHeaderMarkers identify a tender listing table; all of them co-occur
// on a real listing
var tenderHeaderMarkers = []string{"closing date", "e-published", "title"}

// ParseDepartmentTable extracts the organisation rows from a
// TendersByOrganisation listing page. Header rows are returned too; the
// caller filters with Department.IsValid. Relative count links resolve
// against pageURL with session tokens stripped.
func ParseDepartmentTable(html, pageURL string) ([]models.Department, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing listing page: %w", err)
	}

	table := findTable(doc, deptHeaderMarkers, true)
	if table == nil {
		return nil, nil
	}

	base, _ := url.Parse(pageURL)

	var departments []models.Department
	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td, th")
		if cells.Length() < 2 {
			return
		}

		serial := cellText(cells.Eq(0))
		name := cellText(cells.Eq(1))

		count := ""
		link := ""
		if cells.Length() >= 3 {
			countCell := cells.Eq(cells.Length() - 1)
			count = cellText(countCell)
			if href, ok := countCell.Find("a").First().Attr("href"); ok {
				link = resolveHref(base, href)
			}
		}
		if link == "" {
			if href, ok := row.Find("a").First().Attr("href"); ok {
				link = resolveHref(base, href)
			}
		}

		departments = append(departments, models.NewDepartment(serial, name, count, link))
	})

	return departments, nil
}

// ParseTenderTable extracts tender rows from a department listing page. Rows
// are raw: tender id canonicalization happens in the scraper. Returns the
// href of the next-page link when pagination continues, empty otherwise.
func ParseTenderTable(html, pageURL string) ([]models.Tender, string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, "", fmt.Errorf("parsing tender page: %w", err)
	}

	table := findTable(doc, tenderHeaderMarkers, false)
	if table == nil {
		return nil, "", nil
	}

	base, _ := url.Parse(pageURL)

	var tenders []models.Tender
	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 5 {
			return
		}

		serial := cellText(cells.Eq(0))
		if serial == "" || looksLikeHeader(serial) {
			return
		}

		t := models.Tender{
			RawTenderID:   serial,
			PublishedDate: cellText(cells.Eq(1)),
			ClosingDate:   cellText(cells.Eq(2)),
			OpeningDate:   cellText(cells.Eq(3)),
			TitleRef:      cellText(cells.Eq(4)),
		}
		if cells.Length() >= 6 {
			t.OrganisationChain = cellText(cells.Eq(5))
		}
		if href, ok := cells.Eq(4).Find("a").First().Attr("href"); ok {
			t.DirectURL = common.StripSessionParams(resolveHref(base, href))
		}
		row.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			href, ok := a.Attr("href")
			if !ok || !strings.Contains(strings.ToLower(href), "status") {
				return true
			}
			t.StatusURL = common.StripSessionParams(resolveHref(base, href))
			return false
		})
		tenders = append(tenders, t)
	})

	next := nextPageHref(doc, base)
	return tenders, next, nil
}

// findTable returns the first table matching the markers. anyOf selects
// synonym matching (one marker suffices); otherwise every marker must appear.
func findTable(doc *goquery.Document, markers []string, anyOf bool) *goquery.Selection {
	var found *goquery.Selection
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		if !markersMatch(strings.ToLower(table.Text()), markers, anyOf) {
			return true
		}
		// Prefer the innermost matching table; NIC pages nest layout tables
		if inner := table.Find("table"); inner.Length() > 0 &&
			markersMatch(strings.ToLower(inner.First().Text()), markers, anyOf) {
			return true
		}
		found = table
		return false
	})
	return found
}

func markersMatch(text string, markers []string, anyOf bool) bool {
	for _, marker := range markers {
		hit := strings.Contains(text, marker)
		if anyOf && hit {
			return true
		}
		if !anyOf && !hit {
			return false
		}
	}
	return !anyOf
}

// nextPageHref finds the pagination link for NIC-style listings
func nextPageHref(doc *goquery.Document, base *url.URL) string {
	next := ""
	doc.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		id, _ := a.Attr("id")
		text := strings.TrimSpace(a.Text())
		if id == "loadNext" || id == "linkFwd" || text == ">" || strings.EqualFold(text, "next") {
			if href, ok := a.Attr("href"); ok && href != "" && !strings.HasPrefix(href, "javascript") {
				next = resolveHref(base, href)
				return false
			}
		}
		return true
	})
	return next
}

func resolveHref(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func cellText(sel *goquery.Selection) string {
	return strings.Join(strings.Fields(sel.Text()), " ")
}

func looksLikeHeader(serial string) bool {
	lower := strings.ToLower(serial)
	return strings.Contains(lower, "s.no") || strings.Contains(lower, "sr.no") || lower == "#" || lower == "serial"
}
