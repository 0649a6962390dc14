package analyze

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"siteintel/pkg/types"
)

// SKUSummary is the payload for the homepage_skus_summary data point.
type SKUSummary struct {
	Count    int       `json:"count"`
	Listings []Listing `json:"listings"`
}

// Listing is a single detected product offer.
type Listing struct {
	Name  string `json:"name"`
	Price string `json:"price"`
}

var priceRe = regexp.MustCompile(`(?:[$€£₹]|USD|EUR|GBP)\s?\d{1,3}(?:[,.\s]\d{3})*(?:[.,]\d{2})?`)

const maxListings = 40

// ExtractHomepageSKUs detects product listings on the homepage. A
// listing is any card-like element that carries both a price pattern and
// a short name nearby.
func ExtractHomepageSKUs(homepage *types.Page) (*types.DataPoint, error) {
	doc, err := parseDoc(homepage)
	if err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	var listings []Listing

	doc.Find("[class*='product'],[class*='item'],[class*='card'],li,article").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := collapseWhitespace(s.Text())
		if text == "" || len(text) > 600 {
			return true
		}
		price := priceRe.FindString(text)
		if price == "" {
			return true
		}
		name := listingName(s, price)
		if name == "" {
			return true
		}
		key := name + "|" + price
		if _, dup := seen[key]; dup {
			return true
		}
		seen[key] = struct{}{}
		listings = append(listings, Listing{Name: name, Price: collapseWhitespace(price)})
		return len(listings) < maxListings
	})

	summary := SKUSummary{Count: len(listings), Listings: listings}
	payload, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("marshal sku summary: %w", err)
	}

	var sources []string
	if homepage.URL != nil {
		sources = []string{homepage.URL.String()}
	}
	return &types.DataPoint{
		Key:         types.KeyHomepageSKUs,
		Label:       "Homepage product listings",
		Payload:     payload,
		Sources:     sources,
		ExtractedAt: time.Now(),
	}, nil
}

func listingName(s *goquery.Selection, price string) string {
	for _, sel := range []string{"h1", "h2", "h3", "h4", "[class*='title']", "[class*='name']", "a"} {
		candidate := collapseWhitespace(s.Find(sel).First().Text())
		candidate = strings.TrimSpace(strings.ReplaceAll(candidate, price, ""))
		if len(candidate) >= 3 && len(candidate) <= 120 {
			return candidate
		}
	}
	return ""
}
