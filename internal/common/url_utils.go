package common

import (
	"net/url"
	"strings"
)

// sessionParamKeys are query keys that carry volatile session tokens. Any of
// these (or any key containing "session") is removed before a department URL
// is stored or compared.
var sessionParamKeys = map[string]struct{}{
	"session":    {},
	"sp":         {},
	"jsessionid": {},
	"sid":        {},
	"phpsessid":  {},
}

// ExtractHostname parses the hostname from a URL. Returns "" when the URL
// cannot be parsed.
func ExtractHostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// StripSessionParams removes session-bearing query parameters from a URL so
// stored URLs stay stable across runs. Path-embedded ;jsessionid segments are
// removed as well.
func StripSessionParams(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	// jsessionid can ride in the path: /page;jsessionid=ABC123?x=1
	if idx := strings.Index(u.Path, ";jsessionid="); idx >= 0 {
		u.Path = u.Path[:idx]
	}

	q := u.Query()
	for key := range q {
		lower := strings.ToLower(key)
		if _, drop := sessionParamKeys[lower]; drop || strings.Contains(lower, "session") {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()

	return u.String()
}

// KeywordFromURL derives a filename-safe slug from a URL's host.
// "https://hptenders.gov.in/nicgep/app" -> "hptenders_gov_in"
func KeywordFromURL(rawURL string) string {
	host := ExtractHostname(rawURL)
	if host == "" {
		host = rawURL
	}
	var b strings.Builder
	for _, r := range strings.ToLower(host) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

// DeriveOrgListURL builds the TendersByOrganisation listing URL from a portal
// base URL when the configuration does not supply one.
func DeriveOrgListURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "page=FrontEndTendersByOrganisation&service=page"
}
