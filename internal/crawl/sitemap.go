package crawl

import (
	"encoding/xml"
	"fmt"
)

type sitemapURLSet struct {
	XMLName xml.Name     `xml:"urlset"`
	URLs    []sitemapLoc `xml:"url"`
}

type sitemapIndex struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Sitemaps []sitemapLoc `xml:"sitemap"`
}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

// parseSitemap decodes either a <urlset> or a <sitemapindex> document.
// For an index it returns the child sitemap URLs with nested=true so the
// caller can fetch one level deeper.
func parseSitemap(body []byte, limit int) (urls []string, nested bool, err error) {
	if limit <= 0 {
		limit = 500
	}

	var set sitemapURLSet
	if err := xml.Unmarshal(body, &set); err == nil && len(set.URLs) > 0 {
		for _, entry := range set.URLs {
			if entry.Loc == "" {
				continue
			}
			urls = append(urls, entry.Loc)
			if len(urls) >= limit {
				break
			}
		}
		return urls, false, nil
	}

	var index sitemapIndex
	if err := xml.Unmarshal(body, &index); err == nil && len(index.Sitemaps) > 0 {
		for _, entry := range index.Sitemaps {
			if entry.Loc == "" {
				continue
			}
			urls = append(urls, entry.Loc)
			if len(urls) >= limit {
				break
			}
		}
		return urls, true, nil
	}

	return nil, false, fmt.Errorf("not a recognisable sitemap document")
}
