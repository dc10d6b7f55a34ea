package fetch

import (
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	horizontalSpace = regexp.MustCompile(`[ \t\f\r\v\x{00a0}]+`)
	spaceAroundNL   = regexp.MustCompile(` *\n *`)
	manyNewlines    = regexp.MustCompile(`\n{3,}`)
)

var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
}

var blockElems = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Li: true, atom.Br: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Section: true, atom.Article: true, atom.Tr: true, atom.Header: true, atom.Footer: true,
}

// HTMLToText parses an HTML document and returns its title and visible text.
// Script, style and noscript contents are dropped, block elements end with a
// newline, whitespace is collapsed and the text is truncated to maxChars
// runes (no limit when maxChars <= 0).
func HTMLToText(r io.Reader, maxChars int) (title, text string, err error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", "", eris.Wrap(err, "fetch: parse html")
	}

	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			return
		case html.ElementNode:
			if skipped[n.DataAtom] {
				return
			}
			if n.DataAtom == atom.Title && title == "" && n.FirstChild != nil {
				title = strings.TrimSpace(n.FirstChild.Data)
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElems[n.DataAtom] {
			sb.WriteByte('\n')
		}
	}
	walk(doc)

	return collapseSpace(title), Truncate(CleanText(sb.String()), maxChars), nil
}

// CleanText collapses horizontal whitespace, squeezes runs of three or more
// newlines to two and trims.
func CleanText(s string) string {
	s = horizontalSpace.ReplaceAllString(s, " ")
	s = spaceAroundNL.ReplaceAllString(s, "\n")
	s = manyNewlines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
