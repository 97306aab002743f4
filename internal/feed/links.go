package feed

import (
	"net/url"
	"regexp"
)

// hrefPattern is deliberately a simple regex over anchor href attributes,
// not a full HTML parser — link extraction is explicitly out of scope
// for this codebase's coordination layer, specified only by this
// contract.
var hrefPattern = regexp.MustCompile(`(?i)<a\s+[^>]*href\s*=\s*["']([^"']+)["']`)

// ExtractLinks returns every href found in html, resolved against
// baseURL so relative links become absolute.
func ExtractLinks(html, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	matches := hrefPattern.FindAllStringSubmatch(html, -1)
	links := make([]string, 0, len(matches))
	for _, m := range matches {
		ref, err := url.Parse(m[1])
		if err != nil {
			continue
		}
		links = append(links, base.ResolveReference(ref).String())
	}
	return links
}

// SameHost reports whether candidate shares its host with parent.
func SameHost(parent, candidate string) bool {
	p, err := url.Parse(parent)
	if err != nil {
		return false
	}
	c, err := url.Parse(candidate)
	if err != nil {
		return false
	}
	return p.Hostname() == c.Hostname()
}
