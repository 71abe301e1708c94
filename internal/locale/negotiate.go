package locale

import (
	"strings"

	"golang.org/x/text/language"
)

var (
	supported = []Formatter{Bangla, English}
	matcher   = language.NewMatcher([]language.Tag{Bangla.Tag, English.Tag})
)

// ForLanguage returns the formatter for a BCP 47 tag such as "bn-BD" or "en".
func ForLanguage(tag string) (Formatter, bool) {
	parsed, err := language.Parse(strings.TrimSpace(tag))
	if err != nil {
		return Formatter{}, false
	}
	_, idx, conf := matcher.Match(parsed)
	if conf == language.No {
		return Formatter{}, false
	}
	return supported[idx], true
}

// Negotiate picks a formatter from an Accept-Language header, using fallback
// when nothing matches.
func Negotiate(acceptLanguage string, fallback Formatter) Formatter {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return fallback
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return fallback
	}
	return supported[idx]
}
