// Package render implements the two-stage body templating used for
// outbound mail. Rendering is pure string substitution; templates never
// execute code.
package render

import (
	"strings"

	"github.com/pushkindt/pushkind-hedwig/internal/models"
)

// Render substitutes {key} placeholders from ctx in a single left-to-right
// scan. Unknown placeholders are left literally intact, braces included, and
// substituted values are never re-scanned, so a value containing {…} cannot
// trigger further expansion.
func Render(tpl string, ctx map[string]string) string {
	var b strings.Builder
	b.Grow(len(tpl))

	for i := 0; i < len(tpl); {
		if tpl[i] != '{' {
			b.WriteByte(tpl[i])
			i++
			continue
		}

		end := i + 1
		for end < len(tpl) && isTokenChar(tpl[end]) {
			end++
		}
		// A placeholder is "{", a non-empty token, "}".
		if end > i+1 && end < len(tpl) && tpl[end] == '}' {
			if val, ok := ctx[tpl[i+1:end]]; ok {
				b.WriteString(val)
				i = end + 1
				continue
			}
		}

		b.WriteByte('{')
		i++
	}

	return b.String()
}

func isTokenChar(c byte) bool {
	return c == '_' ||
		('a' <= c && c <= 'z') ||
		('A' <= c && c <= 'Z') ||
		('0' <= c && c <= '9')
}

// Body produces the final HTML body for one recipient.
//
// Stage A renders the email's body template against the recipient's fields.
// Stage B renders the hub's outer template with the reserved keys {message},
// {name} and {unsubscribe_url}; business data substituted in stage A cannot
// reach these. A hub without an outer template gets the stage-A output
// unchanged, and an outer template that never mentions {message} has the
// stage-A output appended as a trailing paragraph so no content is lost.
func Body(hub *models.Hub, email *models.Email, r *models.Recipient) string {
	message := Render(email.Body, r.Fields)

	outer := hub.Template
	if outer == "" {
		outer = "{message}"
	}

	out := Render(outer, map[string]string{
		"message":         message,
		"name":            r.Name,
		"unsubscribe_url": hub.UnsubscribeURL,
	})

	if !strings.Contains(outer, "{message}") {
		out += "<p>" + message + "</p>"
	}

	return out
}
