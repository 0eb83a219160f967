package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/net/html"
)

// skipped elements contribute no text.
var skipped = map[string]bool{"script": true, "style": true, "noscript": true, "template": true, "svg": true}

// block elements are separated by line breaks in the output.
var block = map[string]bool{
	"p": true, "div": true, "br": true, "hr": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"title": true, "section": true, "article": true, "blockquote": true, "pre": true, "table": true,
}

// extractHTML returns the visible text of an HTML document.
func extractHTML(_ context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	text, err := htmlText(f)
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}
	return text, nil
}

func htmlText(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	var sb strings.Builder
	depth := 0 // nesting inside skipped elements

	for {
		switch z.Next() {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return collapseLines(sb.String()), nil
			}
			return "", z.Err()
		case html.StartTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipped[tag] {
				depth++
			} else if block[tag] {
				sb.WriteString("\n")
			}
		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			if block[string(name)] {
				sb.WriteString("\n")
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipped[tag] && depth > 0 {
				depth--
			} else if block[tag] {
				sb.WriteString("\n")
			}
		case html.TextToken:
			if depth == 0 {
				sb.Write(z.Text())
			}
		}
	}
}

// collapseLines trims every line, collapses runs of spaces, and drops blank lines.
func collapseLines(s string) string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
