// internal/service/template_service.go
package service

import (
	"html"
	"strings"
)

// RecipientEmailVar is replaced by the recipient address in issue bodies,
// e.g. for "you are receiving this at {email}" footers.
const RecipientEmailVar = "email"

func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}

// personalize fills recipient placeholders in both bodies of an issue.
// Values are escaped in the HTML body.
func personalize(textBody, htmlBody, recipient string) (string, string) {
	return RenderTemplate(textBody, map[string]string{RecipientEmailVar: recipient}),
		RenderTemplate(htmlBody, map[string]string{RecipientEmailVar: html.EscapeString(recipient)})
}
