package commands

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

// Command represents a bot command with its handler, description, and metadata.
type Command struct {
	Handler     tele.HandlerFunc
	Description string
	AdminOnly   bool
	Hidden      bool
	Aliases     []string
}

// Public reports whether the command belongs in the menu shown to users.
func (c Command) Public() bool { return !c.Hidden && !c.AdminOnly }

// Endpoints returns name followed by every alias, all in slash form.
func (c Command) Endpoints(name string) []string {
	out := make([]string, 0, 1+len(c.Aliases))
	out = append(out, Normalize(name))
	for _, a := range c.Aliases {
		if a = Normalize(a); a != "/" {
			out = append(out, a)
		}
	}
	return out
}

// Normalize maps typed text such as " Apply " to "/apply".
func Normalize(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	return "/" + strings.TrimPrefix(text, "/")
}
