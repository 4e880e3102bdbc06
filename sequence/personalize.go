package sequence

import (
	"regexp"
	"strings"

	"leadpilot/models"
)

var (
	angleBrackets = regexp.MustCompile(`[<>]`)
	jsScheme      = regexp.MustCompile(`(?i)javascript:`)
	eventHandler  = regexp.MustCompile(`(?i)\bon\w+\s*=`)
)

// Sanitize strips angle brackets, javascript: schemes and on*= handlers from a
// merge value. It is a denylist, not an HTML sanitizer.
func Sanitize(value string) string {
	value = angleBrackets.ReplaceAllString(value, "")
	value = jsScheme.ReplaceAllString(value, "")
	value = eventHandler.ReplaceAllString(value, "")
	return strings.TrimSpace(value)
}

// FirstName is the first word of the decision maker's name, or "there".
func FirstName(lead *models.Lead) string {
	fields := strings.Fields(lead.DecisionMakerName)
	if len(fields) == 0 {
		return "there"
	}
	return fields[0]
}

// Personalize fills the merge tokens in template from lead. Unknown tokens are left as is.
func Personalize(template string, lead *models.Lead) string {
	r := strings.NewReplacer(
		"{{business_name}}", Sanitize(lead.BusinessName),
		"{{email}}", Sanitize(lead.Email),
		"{{first_name}}", Sanitize(FirstName(lead)),
		"{{website}}", Sanitize(lead.Website),
		"{{phone}}", Sanitize(lead.Phone),
	)
	return r.Replace(template)
}
