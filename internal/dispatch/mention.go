package dispatch

import (
	"fmt"
	"strings"

	"predictbot/internal/registry"
)

// Mention renders a Markdown mention: @username when known, otherwise an inline
// user link labelled with the first name (or "User <id>").
func Mention(p registry.UserProfile) string {
	if p.Username != nil && *p.Username != "" {
		return "@" + *p.Username
	}
	name := fmt.Sprintf("User %d", p.ID)
	if p.FirstName != nil && *p.FirstName != "" {
		name = *p.FirstName
	}
	name = strings.NewReplacer("[", "", "]", "").Replace(name)
	return fmt.Sprintf("[%s](tg://user?id=%d)", name, p.ID)
}

// DisplayName is the plain label used in logs and listings.
func DisplayName(p registry.UserProfile) string {
	if p.Username != nil && *p.Username != "" {
		return "@" + *p.Username
	}
	if p.FirstName != nil && *p.FirstName != "" {
		return *p.FirstName
	}
	return fmt.Sprintf("User %d", p.ID)
}

// Render fills the {mention} and {text} placeholders of tmpl.
func Render(tmpl string, p registry.UserProfile, text string) string {
	if tmpl == "" {
		tmpl = DefaultTemplate
	}
	return strings.NewReplacer("{mention}", Mention(p), "{text}", text).Replace(tmpl)
}

const DefaultTemplate = "{mention}, ваше предсказание на сегодня: {text}"
