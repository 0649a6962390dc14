// Package analyze holds the extraction heuristics run over crawled
// pages. Each analyzer is independent: it consumes whatever pages it was
// given (an empty page map is valid) and produces one labeled data point.
package analyze

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"siteintel/pkg/types"
)

func parseDoc(page *types.Page) (*goquery.Document, error) {
	if page == nil || len(page.Body) == 0 {
		return nil, fmt.Errorf("page body empty")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// visibleText returns the page's rendered text with scripts, styles, and
// noscript blocks removed and whitespace collapsed.
func visibleText(doc *goquery.Document) string {
	clone := doc.Clone()
	clone.Find("script,style,noscript,iframe").Remove()
	text := clone.Find("body").Text()
	if strings.TrimSpace(text) == "" {
		text = clone.Text()
	}
	return collapseWhitespace(text)
}

var whitespaceRe = regexp.MustCompile(`\s+`)

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// sortedPageURLs returns the page map's keys in a stable order so
// analyzers visit pages deterministically.
func sortedPageURLs(pages map[string]*types.Page) []string {
	urls := make([]string, 0, len(pages))
	for u := range pages {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}
