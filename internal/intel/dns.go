package intel

import (
	"context"
	"strconv"
	"strings"

	"siteintel/pkg/types"
)

// DNSGroup inventories the target's DNS posture.
type DNSGroup struct {
	Addresses []string `json:"addresses"`
	HasMX     bool     `json:"has_mx"`
	HasNS     bool     `json:"has_ns"`
	HasSPF    bool     `json:"has_spf"`
	HasDMARC  bool     `json:"has_dmarc"`
}

func (c *Collector) collectDNS(ctx context.Context, in Input, rec *recorder) *DNSGroup {
	if in.Target == nil {
		return nil
	}
	host := types.NormalizeHostname(in.Target.Hostname())
	if host == "" {
		return nil
	}
	group := &DNSGroup{}

	addrs, err := c.resolver.LookupHost(ctx, host)
	if err != nil {
		c.logger.Debug("dns lookup failed", "host", host, "error", err)
		return nil
	}
	group.Addresses = addrs

	if mx, err := c.resolver.LookupMX(ctx, host); err == nil && len(mx) > 0 {
		group.HasMX = true
	}
	if ns, err := c.resolver.LookupNS(ctx, host); err == nil && len(ns) > 0 {
		group.HasNS = true
	}
	if txts, err := c.resolver.LookupTXT(ctx, host); err == nil {
		for _, txt := range txts {
			if strings.HasPrefix(strings.ToLower(strings.TrimSpace(txt)), "v=spf1") {
				group.HasSPF = true
				break
			}
		}
	}
	if txts, err := c.resolver.LookupTXT(ctx, "_dmarc."+host); err == nil {
		for _, txt := range txts {
			if strings.HasPrefix(strings.ToLower(strings.TrimSpace(txt)), "v=dmarc1") {
				group.HasDMARC = true
				break
			}
		}
	}

	rec.add("dns", "address_count", strconv.Itoa(len(group.Addresses)), types.SeverityInfo)
	rec.add("dns", "has_mx", strconv.FormatBool(group.HasMX), boolSeverity(!group.HasMX, types.SeverityWarning))
	rec.add("dns", "has_spf", strconv.FormatBool(group.HasSPF), boolSeverity(!group.HasSPF, types.SeverityWarning))
	rec.add("dns", "has_dmarc", strconv.FormatBool(group.HasDMARC), boolSeverity(!group.HasDMARC, types.SeverityWarning))

	return group
}
