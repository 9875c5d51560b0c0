package fetch

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skipped elements contribute no text.
var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Header:   true,
	atom.Aside:    true,
	atom.Form:     true,
}

var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.Main: true, atom.H1: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.H5: true, atom.H6: true, atom.Blockquote: true,
	atom.Pre: true, atom.Ul: true, atom.Ol: true, atom.Table: true,
	atom.Tr: true, atom.Dl: true, atom.Dt: true, atom.Dd: true,
	atom.Figure: true, atom.Figcaption: true, atom.Hr: true,
}

// extractor walks a parsed document once, collecting the title and the
// visible text.
type extractor struct {
	title string
	text  strings.Builder
}

// extractHTML returns the page title and its readable text.
func extractHTML(raw string) (title, text string) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", tidy(raw)
	}

	var e extractor
	e.walk(doc)
	return strings.TrimSpace(e.title), tidy(e.text.String())
}

func (e *extractor) walk(n *html.Node) {
	switch n.Type {
	case html.ElementNode:
		if n.DataAtom == atom.Title {
			if e.title == "" && n.FirstChild != nil {
				e.title = n.FirstChild.Data
			}
			return
		}
		if skipped[n.DataAtom] {
			return
		}
		if blocks[n.DataAtom] {
			e.text.WriteString("\n\n")
		}
	case html.TextNode:
		if s := strings.TrimSpace(n.Data); s != "" {
			e.text.WriteString(s)
			e.text.WriteByte(' ')
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		e.walk(c)
	}

	if n.Type == html.ElementNode && (n.DataAtom == atom.Br || n.DataAtom == atom.Li) {
		e.text.WriteByte('\n')
	}
}

// tidy collapses runs of spaces within lines and runs of blank lines.
func tidy(s string) string {
	var out []string
	blank := false
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
