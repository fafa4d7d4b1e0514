package enrich

import (
	"bytes"
	"net/url"
	"strings"

	readability "codeberg.org/readeck/go-readability/v2"
	"golang.org/x/net/html"
)

const maxDescriptionRunes = 20000

var fallbackBaseURL = &url.URL{Scheme: "https", Host: "notices.invalid", Path: "/"}

// DescriptionText turns an upstream description, which may be an HTML
// fragment or a full page, into plain paragraphs. pageURL resolves relative
// links and may be empty.
func DescriptionText(raw, pageURL string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if !looksLikeHTML(trimmed) {
		return clip(cleanText(trimmed))
	}

	if text := readabilityText(trimmed, baseURL(pageURL)); text != "" {
		return clip(text)
	}
	return clip(cleanText(stripTags(trimmed)))
}

func readabilityText(doc string, base *url.URL) string {
	article, err := readability.FromReader(strings.NewReader(doc), base)
	if err != nil {
		return ""
	}
	var rendered bytes.Buffer
	if err := article.RenderText(&rendered); err != nil {
		return ""
	}
	return cleanText(rendered.String())
}

// stripTags keeps text nodes and turns block boundaries into line breaks.
func stripTags(doc string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(doc))
	var b strings.Builder
	skip := 0
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			// io.EOF or a malformed tail; either way keep what was read.
			return b.String()
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			switch string(name) {
			case "script", "style":
				skip++
			case "p", "div", "br", "li", "tr", "h1", "h2", "h3", "h4":
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			switch string(name) {
			case "script", "style":
				if skip > 0 {
					skip--
				}
			case "p", "div", "li", "tr":
				b.WriteByte('\n')
			}
		case html.SelfClosingTagToken:
			name, _ := tokenizer.TagName()
			if string(name) == "br" {
				b.WriteByte('\n')
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(tokenizer.Text())
			}
		}
	}
}

func baseURL(raw string) *url.URL {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fallbackBaseURL
	}
	return parsed
}

func looksLikeHTML(s string) bool {
	lt := strings.IndexByte(s, '<')
	return lt >= 0 && strings.IndexByte(s[lt:], '>') > 0
}

// cleanText normalizes line endings and collapses in-line whitespace.
func cleanText(raw string) string {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	lines := strings.Split(normalized, "\n")
	paragraphs := make([]string, 0, len(lines))
	for _, line := range lines {
		clean := strings.Join(strings.Fields(line), " ")
		if clean == "" {
			continue
		}
		paragraphs = append(paragraphs, clean)
	}
	return strings.Join(paragraphs, "\n\n")
}

func clip(text string) string {
	runes := []rune(text)
	if len(runes) <= maxDescriptionRunes {
		return text
	}
	return strings.TrimSpace(string(runes[:maxDescriptionRunes]))
}
