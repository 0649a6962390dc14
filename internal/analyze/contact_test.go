package analyze

import (
	"encoding/json"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siteintel/pkg/types"
)

func htmlPage(t *testing.T, rawURL, body string) *types.Page {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return &types.Page{
		URL:         u,
		Body:        []byte(body),
		ContentType: "text/html",
		StatusCode:  200,
	}
}

func TestExtractContactsFromLinks(t *testing.T) {
	pages := map[string]*types.Page{
		"https://example.com/": htmlPage(t, "https://example.com/", `
			<html><body>
				<a href="mailto:Sales@Example.com?subject=hi">Email us</a>
				<a href="tel:+1 (555) 123-4567">Call</a>
				<a href="https://www.facebook.com/examplestore">Facebook</a>
				<address>1 Main Street, Springfield, USA</address>
			</body></html>`),
	}

	dp, err := ExtractContacts(pages)
	require.NoError(t, err)
	assert.Equal(t, types.KeyContactDetails, dp.Key)
	assert.Equal(t, []string{"https://example.com/"}, dp.Sources)

	var details ContactDetails
	require.NoError(t, json.Unmarshal(dp.Payload, &details))
	assert.Equal(t, []string{"sales@example.com"}, details.Emails)
	assert.Equal(t, []string{"+15551234567"}, details.Phones)
	assert.Equal(t, []string{"1 Main Street, Springfield, USA"}, details.Addresses)
	assert.Equal(t, []string{"https://www.facebook.com/examplestore"}, details.SocialLinks)
}

func TestExtractContactsFreeTextOnlyOnContactPages(t *testing.T) {
	body := `<html><body><p>Reach us at info@example.com or 555 123 4567 today.</p></body></html>`
	pages := map[string]*types.Page{
		"https://example.com/pricing": htmlPage(t, "https://example.com/pricing", body),
	}

	dp, err := ExtractContacts(pages)
	require.NoError(t, err)
	var details ContactDetails
	require.NoError(t, json.Unmarshal(dp.Payload, &details))
	assert.Empty(t, details.Emails, "free text on a non-contact page must be ignored")

	pages = map[string]*types.Page{
		"https://example.com/contact-us": htmlPage(t, "https://example.com/contact-us", body),
	}
	dp, err = ExtractContacts(pages)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(dp.Payload, &details))
	assert.Equal(t, []string{"info@example.com"}, details.Emails)
	assert.NotEmpty(t, details.Phones)
}

func TestExtractContactsNoPages(t *testing.T) {
	_, err := ExtractContacts(nil)
	assert.Error(t, err)
}

func TestNormalizePhoneBounds(t *testing.T) {
	assert.Equal(t, "+15551234567", normalizePhone("+1 (555) 123-4567"))
	assert.Equal(t, "", normalizePhone("12345"), "too short")
	assert.Equal(t, "", normalizePhone("12345678901234567890"), "too long")
}
