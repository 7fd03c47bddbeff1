package replies

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

var markdownParser = goldmark.New(goldmark.WithExtensions(extension.GFM))

var outerFencePattern = regexp.MustCompile("(?s)^```(?:markdown|md)?\\s*\\n(.*?)\\n?```\\s*$")

// FlattenMarkdown renders markdown as the plain text Instagram will actually
// display. Links render as "text (url)", structure collapses to line breaks,
// everything else keeps only its visible text.
func FlattenMarkdown(input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}

	// Models sometimes wrap the whole reply in a code fence.
	if matches := outerFencePattern.FindStringSubmatch(input); len(matches) > 1 {
		input = strings.TrimSpace(matches[1])
	}

	source := []byte(input)
	doc := markdownParser.Parser().Parse(text.NewReader(source))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(source))
				if node.SoftLineBreak() || node.HardLineBreak() {
					b.WriteByte('\n')
				}
			}

		case *ast.Link:
			if !entering {
				if dest := strings.TrimSpace(string(node.Destination)); dest != "" {
					b.WriteString(" (" + dest + ")")
				}
			}

		case *ast.AutoLink:
			if entering {
				b.Write(node.URL(source))
			}

		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				writeCodeLines(&b, n, source)
				return ast.WalkSkipChildren, nil
			}

		case *ast.ListItem:
			if entering && b.Len() > 0 {
				ensureNewline(&b)
			}

		case *ast.Paragraph, *ast.Heading, *ast.Blockquote, *ast.ThematicBreak:
			if !entering {
				ensureBlankLine(&b)
			}
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(collapseBlankLines(b.String()))
}

func writeCodeLines(b *strings.Builder, n ast.Node, source []byte) {
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		segment := lines.At(i)
		b.Write(segment.Value(source))
	}
	ensureBlankLine(b)
}

func ensureNewline(b *strings.Builder) {
	if s := b.String(); !strings.HasSuffix(s, "\n") {
		b.WriteByte('\n')
	}
}

func ensureBlankLine(b *strings.Builder) {
	s := b.String()
	switch {
	case strings.HasSuffix(s, "\n\n"):
	case strings.HasSuffix(s, "\n"):
		b.WriteByte('\n')
	case s != "":
		b.WriteString("\n\n")
	}
}

var blankRunPattern = regexp.MustCompile(`\n{3,}`)

func collapseBlankLines(s string) string {
	return blankRunPattern.ReplaceAllString(s, "\n\n")
}
