package bgg

import (
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

const summaryLength = 300

var blankLines = regexp.MustCompile(`\n{3,}`)

// CleanDescription strips markup from a description and decodes its entities.
func CleanDescription(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}

	var builder strings.Builder
	tokenizer := html.NewTokenizer(strings.NewReader(raw))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			if tokenizer.Err() != io.EOF {
				return strings.TrimSpace(raw)
			}
			return strings.TrimSpace(blankLines.ReplaceAllString(builder.String(), "\n\n"))
		case html.TextToken:
			builder.Write(tokenizer.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := tokenizer.TagName()
			switch string(name) {
			case "br", "p", "li", "div":
				builder.WriteByte('\n')
			}
		}
	}
}

// Summary shortens text to at most 300 runes, marking the cut with "...".
func Summary(text string) string {
	runes := []rune(text)
	if len(runes) <= summaryLength {
		return text
	}
	return string(runes[:summaryLength]) + "..."
}
