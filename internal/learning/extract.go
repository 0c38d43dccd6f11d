package learning

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	maxContentChars = 1000
	minContentChars = 50
)

var skippedElements = map[atom.Atom]bool{
	atom.Script: true,
	atom.Style:  true,
	atom.Nav:    true,
	atom.Header: true,
	atom.Footer: true,
}

// ExtractText returns the readable text of an HTML document with script,
// style and page chrome removed and whitespace collapsed. Text of 50
// characters or fewer is discarded (""), longer text is cut to 1000.
func ExtractText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}

	var words []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skippedElements[n.DataAtom] {
			return
		}
		if n.Type == html.TextNode {
			words = append(words, strings.Fields(n.Data)...)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	text := []rune(strings.Join(words, " "))
	if len(text) <= minContentChars {
		return "", nil
	}
	if len(text) > maxContentChars {
		text = text[:maxContentChars]
	}
	return string(text), nil
}

// Validate reports whether content is free of every blocked keyword, and
// the first keyword found otherwise.
func Validate(content string, keywords []string) (bool, string) {
	lower := strings.ToLower(content)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, kw) {
			return false, kw
		}
	}
	return true, ""
}
