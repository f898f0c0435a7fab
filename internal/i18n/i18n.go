package i18n

import (
	"fmt"
	"strings"

	"github.com/leonelquinteros/gotext"
	"golang.org/x/text/language"
)

// Domain is the gettext domain of the bot's catalogue.
const Domain = "default"

// Catalog translates user-facing strings. Message IDs are the English texts, so a
// missing translation falls back to English. A nil Catalog is valid and untranslated.
type Catalog struct {
	lang   string
	locale *gotext.Locale
}

// New loads <dir>/<lang>/LC_MESSAGES/default.po (or .mo) when present.
func New(dir, lang string) *Catalog {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" || lang == "und" {
		lang = "en"
	}
	locale := gotext.NewLocale(dir, lang)
	locale.AddDomain(Domain)
	return &Catalog{lang: lang, locale: locale}
}

// T returns the translation of msgid formatted with vars.
func (c *Catalog) T(msgid string, vars ...interface{}) string {
	if c == nil || c.locale == nil {
		if len(vars) == 0 {
			return msgid
		}
		return fmt.Sprintf(msgid, vars...)
	}
	return c.locale.Get(msgid, vars...)
}

// Lang returns the configured language code.
func (c *Catalog) Lang() string {
	if c == nil {
		return "en"
	}
	return c.lang
}

// Tag returns the language tag used for number formatting.
func (c *Catalog) Tag() language.Tag {
	tag, err := language.Parse(c.Lang())
	if err != nil {
		return language.English
	}
	return tag
}
