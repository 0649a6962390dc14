package analyze

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"siteintel/pkg/types"
)

// ContactDetails is the payload for the contact_details data point.
type ContactDetails struct {
	Emails      []string `json:"emails"`
	Phones      []string `json:"phones"`
	Addresses   []string `json:"addresses"`
	SocialLinks []string `json:"social_links"`
}

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?[0-9][0-9()\-\s.]{7,18}[0-9]`)
)

var socialHosts = []string{
	"facebook.com",
	"instagram.com",
	"linkedin.com",
	"x.com",
	"twitter.com",
	"youtube.com",
	"tiktok.com",
	"pinterest.com",
}

// ExtractContacts pulls contact data out of the crawled pages. Pages
// whose URL looks like a contact page are scanned for free-text matches
// as well; everywhere else only explicit mailto/tel links and address
// elements are trusted, so a random digit run in a footer does not
// become a phone number.
func ExtractContacts(pages map[string]*types.Page) (*types.DataPoint, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages to extract contacts from")
	}

	emails := map[string]struct{}{}
	phones := map[string]struct{}{}
	addresses := map[string]struct{}{}
	social := map[string]struct{}{}
	sources := map[string]struct{}{}

	for _, pageURL := range sortedPageURLs(pages) {
		doc, err := parseDoc(pages[pageURL])
		if err != nil {
			continue
		}
		found := false

		doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			href = strings.TrimSpace(href)
			switch {
			case strings.HasPrefix(href, "mailto:"):
				addr := strings.SplitN(strings.TrimPrefix(href, "mailto:"), "?", 2)[0]
				if emailRe.MatchString(addr) {
					emails[strings.ToLower(addr)] = struct{}{}
					found = true
				}
			case strings.HasPrefix(href, "tel:"):
				num := normalizePhone(strings.TrimPrefix(href, "tel:"))
				if num != "" {
					phones[num] = struct{}{}
					found = true
				}
			default:
				if host := linkHost(href); host != "" && isSocialHost(host) {
					social[href] = struct{}{}
					found = true
				}
			}
		})

		doc.Find("address").Each(func(_ int, s *goquery.Selection) {
			text := collapseWhitespace(s.Text())
			if len(text) >= 10 {
				addresses[text] = struct{}{}
				found = true
			}
		})

		if isContactPath(pageURL) {
			text := visibleText(doc)
			for _, m := range emailRe.FindAllString(text, 10) {
				emails[strings.ToLower(m)] = struct{}{}
				found = true
			}
			for _, m := range phoneRe.FindAllString(text, 10) {
				if num := normalizePhone(m); num != "" {
					phones[num] = struct{}{}
					found = true
				}
			}
		}

		if found {
			sources[pageURL] = struct{}{}
		}
	}

	details := ContactDetails{
		Emails:      setToSlice(emails),
		Phones:      setToSlice(phones),
		Addresses:   setToSlice(addresses),
		SocialLinks: setToSlice(social),
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("marshal contact details: %w", err)
	}

	return &types.DataPoint{
		Key:         types.KeyContactDetails,
		Label:       "Contact details",
		Payload:     payload,
		Sources:     setToSlice(sources),
		ExtractedAt: time.Now(),
	}, nil
}

func isContactPath(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	return strings.Contains(path, "contact") || strings.Contains(path, "about") || strings.Contains(path, "impressum")
}

func normalizePhone(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' || r == '+' {
			return r
		}
		return -1
	}, raw)
	digits := strings.TrimPrefix(cleaned, "+")
	if len(digits) < 7 || len(digits) > 15 {
		return ""
	}
	return cleaned
}

func linkHost(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
}

func isSocialHost(host string) bool {
	for _, s := range socialHosts {
		if host == s || strings.HasSuffix(host, "."+s) {
			return true
		}
	}
	return false
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
