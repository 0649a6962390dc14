package intel

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"siteintel/pkg/types"
)

// FormGroup inventories forms and inputs on the homepage.
type FormGroup struct {
	FormCount          int  `json:"form_count"`
	PasswordInputs     int  `json:"password_inputs"`
	PaymentInputs      int  `json:"payment_inputs"`
	ExternalFormAction bool `json:"external_form_action"`
}

var paymentFieldHints = []string{"card", "cvv", "cvc", "iban", "account_number", "routing"}

func (c *Collector) collectForms(in Input, rec *recorder) *FormGroup {
	if in.Homepage == nil || len(in.Homepage.Body) == 0 {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(in.Homepage.Body))
	if err != nil {
		return nil
	}

	origin := ""
	if in.Target != nil {
		origin = types.NormalizeHostname(in.Target.Hostname())
	}

	group := &FormGroup{}
	doc.Find("form").Each(func(_ int, form *goquery.Selection) {
		group.FormCount++
		if action, ok := form.Attr("action"); ok {
			if host := hostnameOf(strings.TrimSpace(action)); host != "" && origin != "" && host != origin {
				group.ExternalFormAction = true
			}
		}
		form.Find("input").Each(func(_ int, input *goquery.Selection) {
			typ, _ := input.Attr("type")
			name, _ := input.Attr("name")
			if strings.EqualFold(typ, "password") {
				group.PasswordInputs++
			}
			lowered := strings.ToLower(name)
			for _, hint := range paymentFieldHints {
				if strings.Contains(lowered, hint) {
					group.PaymentInputs++
					break
				}
			}
		})
	})

	rec.add("forms", "form_count", strconv.Itoa(group.FormCount), types.SeverityInfo)
	rec.add("forms", "password_inputs", strconv.Itoa(group.PasswordInputs), types.SeverityInfo)
	rec.add("forms", "payment_inputs", strconv.Itoa(group.PaymentInputs), boolSeverity(group.PaymentInputs > 0, types.SeverityWarning))
	rec.add("forms", "external_form_action", strconv.FormatBool(group.ExternalFormAction), boolSeverity(group.ExternalFormAction, types.SeverityCritical))

	return group
}
