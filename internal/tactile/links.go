package tactile

import (
	"bytes"
	"strings"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"notegraph/internal/types"
)

// Section headings links are inserted under, in order of preference.
const (
	HeadingRelatedNotes = "Related Notes"
	HeadingSeeAlso      = "See Also"
)

var markdown = goldmark.New()

// FormatLink renders the wiki-link line for conn's target.
func FormatLink(conn *types.Connection) string {
	link := "- [[" + types.DisplayName(conn.Target) + "]]"
	if s := strings.TrimSpace(conn.SuggestedLink); s != "" {
		link += " - " + s
	}
	return link
}

// InsertLink adds link directly under the first "## Related Notes" heading,
// else under the first "## See Also" heading, else appends a new Related
// Notes section to the end of the document. Inserted lines use the
// document's own line ending.
func InsertLink(src []byte, link string) []byte {
	eol := lineEnding(src)
	headings := levelTwoHeadings(src)
	for _, want := range []string{HeadingRelatedNotes, HeadingSeeAlso} {
		for _, h := range headings {
			if strings.EqualFold(h.title, want) {
				out := make([]byte, 0, len(src)+len(link)+len(eol))
				out = append(out, src[:h.lineEnd]...)
				out = append(out, eol...)
				out = append(out, link...)
				out = append(out, src[h.lineEnd:]...)
				return out
			}
		}
	}

	trimmed := bytes.TrimRightFunc(src, unicode.IsSpace)
	out := make([]byte, 0, len(trimmed)+len(link)+30)
	out = append(out, trimmed...)
	out = append(out, eol+eol+"## "+HeadingRelatedNotes+eol+eol+link+eol...)
	return out
}

// lineEnding returns "\r\n" when the first line of src ends that way.
func lineEnding(src []byte) string {
	if i := bytes.IndexByte(src, '\n'); i > 0 && src[i-1] == '\r' {
		return "\r\n"
	}
	return "\n"
}

type heading struct {
	title   string
	lineEnd int // offset of the line break ending the heading line, or len(src)
}

// levelTwoHeadings returns the ATX level-2 headings of src in document
// order. Headings inside code blocks are not headings to the parser.
func levelTwoHeadings(src []byte) []heading {
	doc := markdown.Parser().Parse(text.NewReader(src))

	var out []heading
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		if h.Level != 2 || h.Lines().Len() == 0 {
			return ast.WalkSkipChildren, nil
		}
		seg := h.Lines().At(0)
		lineStart := bytes.LastIndexByte(src[:seg.Start], '\n') + 1
		if !bytes.HasPrefix(bytes.TrimLeft(src[lineStart:seg.Start], " "), []byte("##")) {
			return ast.WalkSkipChildren, nil // setext
		}
		end := bytes.IndexByte(src[seg.Stop:], '\n')
		if end < 0 {
			end = len(src)
		} else {
			end += seg.Stop
			if end > 0 && src[end-1] == '\r' {
				end--
			}
		}
		title := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(string(seg.Value(src))), "# "))
		out = append(out, heading{title: title, lineEnd: end})
		return ast.WalkSkipChildren, nil
	})
	return out
}
