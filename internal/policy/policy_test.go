package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"siteintel/pkg/types"
)

func TestResolveUnknownHostIsNotAuthorized(t *testing.T) {
	r := NewResolver([]types.Policy{{Hostname: "example.com"}})

	d := r.Resolve("other.com")
	assert.False(t, d.Authorized)

	d = r.Resolve("")
	assert.False(t, d.Authorized)
}

func TestResolveExactMatch(t *testing.T) {
	r := NewResolver([]types.Policy{
		{Hostname: "example.com", MaxPagesPerScan: 50, RespectRobots: true, CrawlDelay: time.Second},
	})

	d := r.Resolve("WWW.Example.com")
	assert.True(t, d.Authorized)
	assert.Equal(t, 50, d.Policy.MaxPagesPerScan)
	assert.True(t, d.Policy.RespectRobots)
	assert.Equal(t, time.Second, d.Policy.CrawlDelay)
}

func TestResolveSubdomain(t *testing.T) {
	r := NewResolver([]types.Policy{
		{Hostname: "example.com", AllowSubdomains: true, MaxPagesPerScan: 30},
	})

	d := r.Resolve("shop.example.com")
	assert.True(t, d.Authorized)
	assert.Equal(t, 30, d.Policy.MaxPagesPerScan)

	// Suffix tricks do not count as subdomains.
	d = r.Resolve("evilexample.com")
	assert.False(t, d.Authorized)
}

func TestResolveExactEntryWinsOverSubdomainGrant(t *testing.T) {
	r := NewResolver([]types.Policy{
		{Hostname: "example.com", AllowSubdomains: true, MaxPagesPerScan: 100},
		{Hostname: "shop.example.com", MaxPagesPerScan: 5},
	})

	d := r.Resolve("shop.example.com")
	assert.True(t, d.Authorized)
	assert.Equal(t, 5, d.Policy.MaxPagesPerScan)
}

func TestResolveAppliesDefaultPageLimit(t *testing.T) {
	r := NewResolver([]types.Policy{{Hostname: "example.com"}})

	d := r.Resolve("example.com")
	assert.True(t, d.Authorized)
	assert.Equal(t, 25, d.Policy.MaxPagesPerScan)
}
