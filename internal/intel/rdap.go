package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"siteintel/pkg/types"
)

// RegistrationGroup holds domain-registration facts from RDAP. Many
// country TLDs have no RDAP service; that is reported as
// rdap_available=false, never an error.
type RegistrationGroup struct {
	RDAPAvailable bool      `json:"rdap_available"`
	RegisteredAt  time.Time `json:"registered_at,omitempty"`
	AgeDays       int       `json:"age_days"`
	Registrar     string    `json:"registrar,omitempty"`
}

type rdapResponse struct {
	Events []struct {
		EventAction string `json:"eventAction"`
		EventDate   string `json:"eventDate"`
	} `json:"events"`
	Entities []struct {
		Roles      []string `json:"roles"`
		VCardArray []any    `json:"vcardArray"`
	} `json:"entities"`
}

func (c *Collector) collectRegistration(ctx context.Context, in Input, rec *recorder) *RegistrationGroup {
	if in.Target == nil {
		return nil
	}
	domain := registrableDomain(in.Target.Hostname())
	if domain == "" {
		return nil
	}

	group := &RegistrationGroup{}
	resp, err := c.rdapLookup(ctx, domain)
	if err != nil || resp == nil {
		rec.add("registration", "rdap_available", "false", types.SeverityInfo)
		return group
	}
	group.RDAPAvailable = true

	for _, event := range resp.Events {
		if event.EventAction != "registration" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, event.EventDate); err == nil {
			group.RegisteredAt = t
			group.AgeDays = int(time.Since(t).Hours() / 24)
		}
		break
	}
	for _, entity := range resp.Entities {
		for _, role := range entity.Roles {
			if role == "registrar" {
				group.Registrar = vcardName(entity.VCardArray)
			}
		}
	}

	rec.add("registration", "rdap_available", "true", types.SeverityInfo)
	if !group.RegisteredAt.IsZero() {
		rec.add("registration", "age_days", strconv.Itoa(group.AgeDays), boolSeverity(group.AgeDays < 180, types.SeverityWarning))
	}
	return group
}

func (c *Collector) rdapLookup(ctx context.Context, domain string) (*rdapResponse, error) {
	endpoint := fmt.Sprintf("%s/domain/%s", c.rdapEndpoint, domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/rdap+json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rdap returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return nil, err
	}
	var parsed rdapResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse rdap response: %w", err)
	}
	return &parsed, nil
}

// registrableDomain approximates the registrable domain as the last two
// labels. Multi-part public suffixes (co.uk etc.) will query one label
// short; rdap.org redirects most of those correctly anyway.
func registrableDomain(hostname string) string {
	host := types.NormalizeHostname(hostname)
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return ""
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

// vcardName digs the formatted name out of a jCard structure.
func vcardName(vcard []any) string {
	if len(vcard) < 2 {
		return ""
	}
	props, ok := vcard[1].([]any)
	if !ok {
		return ""
	}
	for _, raw := range props {
		prop, ok := raw.([]any)
		if !ok || len(prop) < 4 {
			continue
		}
		if name, ok := prop[0].(string); !ok || name != "fn" {
			continue
		}
		if value, ok := prop[3].(string); ok {
			return value
		}
	}
	return ""
}
