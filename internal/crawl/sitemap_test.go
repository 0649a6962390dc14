package crawl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSitemapURLSet(t *testing.T) {
	body := []byte(`<?xml version="1.0" encoding="UTF-8"?>
		<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
			<url><loc>https://example.com/</loc></url>
			<url><loc>https://example.com/products</loc></url>
			<url><loc></loc></url>
		</urlset>`)

	urls, nested, err := parseSitemap(body, 10)
	require.NoError(t, err)
	assert.False(t, nested)
	assert.Equal(t, []string{"https://example.com/", "https://example.com/products"}, urls)
}

func TestParseSitemapIndex(t *testing.T) {
	body := []byte(`<?xml version="1.0"?>
		<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
			<sitemap><loc>https://example.com/sitemap-pages.xml</loc></sitemap>
			<sitemap><loc>https://example.com/sitemap-posts.xml</loc></sitemap>
		</sitemapindex>`)

	urls, nested, err := parseSitemap(body, 10)
	require.NoError(t, err)
	assert.True(t, nested)
	assert.Len(t, urls, 2)
}

func TestParseSitemapLimit(t *testing.T) {
	body := []byte(`<urlset>
		<url><loc>https://example.com/a</loc></url>
		<url><loc>https://example.com/b</loc></url>
		<url><loc>https://example.com/c</loc></url>
	</urlset>`)

	urls, _, err := parseSitemap(body, 2)
	require.NoError(t, err)
	assert.Len(t, urls, 2)
}

func TestParseSitemapRejectsJunk(t *testing.T) {
	_, _, err := parseSitemap([]byte("<html><body>not a sitemap</body></html>"), 10)
	assert.Error(t, err)
}
