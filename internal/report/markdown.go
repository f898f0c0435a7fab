package report

import "strings"

var markdownV2Replacer = func() *strings.Replacer {
	special := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	pairs := make([]string, 0, len(special)*2)
	for _, ch := range special {
		pairs = append(pairs, ch, "\\"+ch)
	}
	return strings.NewReplacer(pairs...)
}()

// Escape escapes text for Telegram MarkdownV2.
func Escape(text string) string {
	return markdownV2Replacer.Replace(text)
}

// Bold wraps escaped text in bold markers.
func Bold(text string) string {
	return "*" + Escape(text) + "*"
}

// Link renders an inline link; an empty url renders the escaped label only.
func Link(label, url string) string {
	if url == "" {
		return Escape(label)
	}
	url = strings.NewReplacer("\\", "\\\\", ")", "\\)").Replace(url)
	return "[" + Escape(label) + "](" + url + ")"
}
