package status

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DisplayLabel renders a human label for the status. When lastAction is set the
// date of the latest transition is appended.
func DisplayLabel(s Status, lastAction *time.Time) string {
	def, ok := registry[s]
	label := def.label
	if !ok {
		label = fallbackLabel(s)
	}
	if lastAction == nil || lastAction.IsZero() {
		return label
	}
	return label + " (" + lastAction.Format("Jan 2, 2006") + ")"
}

func fallbackLabel(s Status) string {
	if s == "" {
		return "Unknown"
	}
	return cases.Title(language.AmericanEnglish).String(strings.ReplaceAll(strings.ToLower(string(s)), "_", " "))
}
