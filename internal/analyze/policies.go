package analyze

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"siteintel/pkg/types"
)

// PolicyLinks is the payload for the policy_links data point. Each field
// holds the first discovered URL for that policy category, empty when
// none was found.
type PolicyLinks struct {
	Privacy  string `json:"privacy"`
	Terms    string `json:"terms"`
	Refund   string `json:"refund"`
	Shipping string `json:"shipping"`
}

// Found reports how many policy categories resolved to a link.
func (p PolicyLinks) Found() int {
	n := 0
	for _, v := range []string{p.Privacy, p.Terms, p.Refund, p.Shipping} {
		if v != "" {
			n++
		}
	}
	return n
}

// Ordered so ambiguous text resolves the same way every run.
var policyCategories = []struct {
	name     string
	keywords []string
}{
	{"privacy", []string{"privacy"}},
	{"terms", []string{"terms", "conditions", "tos"}},
	{"refund", []string{"refund", "return", "cancellation"}},
	{"shipping", []string{"shipping", "delivery"}},
}

// ExtractPolicyLinks locates policy pages across the crawled set. A
// crawled page whose own URL matches a category counts as that policy
// page even when no anchor points at it.
func ExtractPolicyLinks(pages map[string]*types.Page) (*types.DataPoint, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages to extract policy links from")
	}

	found := map[string]string{}
	sources := map[string]struct{}{}

	for _, pageURL := range sortedPageURLs(pages) {
		if category := matchPolicyURL(pageURL); category != "" {
			if _, ok := found[category]; !ok {
				found[category] = pageURL
				sources[pageURL] = struct{}{}
			}
		}

		doc, err := parseDoc(pages[pageURL])
		if err != nil {
			continue
		}
		base, _ := url.Parse(pageURL)
		doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			label := strings.ToLower(collapseWhitespace(s.Text()))
			category := matchPolicyLabel(label, href)
			if category == "" {
				return
			}
			if _, ok := found[category]; ok {
				return
			}
			resolved := href
			if base != nil {
				if u, err := base.Parse(href); err == nil {
					u.Fragment = ""
					resolved = u.String()
				}
			}
			found[category] = resolved
			sources[pageURL] = struct{}{}
		})
	}

	links := PolicyLinks{
		Privacy:  found["privacy"],
		Terms:    found["terms"],
		Refund:   found["refund"],
		Shipping: found["shipping"],
	}
	payload, err := json.Marshal(links)
	if err != nil {
		return nil, fmt.Errorf("marshal policy links: %w", err)
	}

	return &types.DataPoint{
		Key:         types.KeyPolicyLinks,
		Label:       "Policy pages",
		Payload:     payload,
		Sources:     setToSlice(sources),
		ExtractedAt: time.Now(),
	}, nil
}

func matchPolicyURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return matchPolicyPath(strings.ToLower(u.Path))
}

func matchPolicyLabel(label, href string) string {
	if c := matchPolicyPath(strings.ToLower(href)); c != "" {
		return c
	}
	return matchPolicyPath(label)
}

func matchPolicyPath(text string) string {
	for _, category := range policyCategories {
		for _, kw := range category.keywords {
			if strings.Contains(text, kw) {
				return category.name
			}
		}
	}
	return ""
}
