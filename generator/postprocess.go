package generator

import (
	"bytes"
	"errors"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var ErrEmptyDraft = errors.New("model returned an empty draft")

var markdown = goldmark.New()

// markdownHint matches constructs that plain prose does not produce: ATX
// headings, strong emphasis, fenced code, inline links and HTML tags.
var markdownHint = regexp.MustCompile("(?m)^#{1,6}[ \t]|\\*\\*\\S|__\\S|^(```|~~~)|\\]\\([^)]*\\)|^[ \t]*</?[a-zA-Z][a-zA-Z0-9-]*[\\s/>]")

// PostProcess 校验并补全 Draft 基础字段。启用 stripMarkup 时，只有明显含
// Markdown 的输出才会被展平为纯文本，普通文本原样保留。
func PostProcess(raw string, version int, stripMarkup bool) (Draft, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return Draft{}, ErrEmptyDraft
	}
	if stripMarkup && looksLikeMarkdown(content) {
		content = flattenMarkdown(content)
		if content == "" {
			return Draft{}, ErrEmptyDraft
		}
	}
	return Draft{
		Version: version,
		Title:   extractTitle(content),
		Content: content,
	}, nil
}

func extractTitle(content string) string {
	first, _, _ := strings.Cut(content, "\n")
	return strings.TrimSpace(first)
}

func looksLikeMarkdown(s string) bool {
	return markdownHint.MatchString(s)
}

// flattenMarkdown renders md as plain text. List markers are kept as written.
func flattenMarkdown(md string) string {
	src := []byte(md)
	doc := markdown.Parser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	// set between a list marker and the item's first text
	itemOpen := false
	separate := func(sep string) {
		if buf.Len() > 0 {
			buf.WriteString(sep)
		}
	}
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			first := buf.Len() == 0
			separate("\n\n")
			line := inlineText(node, src)
			if first {
				line = strings.ToUpper(line)
			}
			buf.WriteString(line)
			return ast.WalkSkipChildren, nil
		case *ast.ListItem:
			list, ok := node.Parent().(*ast.List)
			opensList := node.PreviousSibling() == nil && !(ok && nestedInItem(list))
			if opensList || ok && !list.IsTight {
				separate("\n\n")
			} else {
				separate("\n")
			}
			buf.WriteString(listMarker(node, src))
			itemOpen = true
			return ast.WalkContinue, nil
		case *ast.Paragraph, *ast.TextBlock:
			switch {
			case itemOpen:
				itemOpen = false
			case nestedInItem(n):
				separate("\n")
			default:
				separate("\n\n")
			}
			buf.WriteString(inlineText(n, src))
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			separate("\n\n")
			lines := node.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				buf.Write(seg.Value(src))
			}
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock, *ast.ThematicBreak:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(buf.String())
}

// listMarker returns the marker that introduced item in src, such as "-" or
// "2024.", followed by a space.
func listMarker(item *ast.ListItem, src []byte) string {
	if first := item.FirstChild(); first != nil && first.Lines().Len() > 0 {
		start := first.Lines().At(0).Start
		lineStart := bytes.LastIndexByte(src[:start], '\n') + 1
		if m := strings.TrimSpace(string(src[lineStart:start])); m != "" {
			return m + " "
		}
	}
	if list, ok := item.Parent().(*ast.List); ok {
		return string(list.Marker) + " "
	}
	return "- "
}

// nestedInItem reports whether n sits inside a list item.
func nestedInItem(n ast.Node) bool {
	for p := n.Parent(); p != nil; p = p.Parent() {
		if _, ok := p.(*ast.ListItem); ok {
			return true
		}
	}
	return false
}

// inlineText collects the visible text below n, dropping emphasis, links and raw HTML.
func inlineText(n ast.Node, src []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := c.(type) {
		case *ast.Text:
			sb.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				sb.WriteString("\n")
			}
		case *ast.String:
			sb.Write(node.Value)
		case *ast.AutoLink:
			sb.Write(node.Label(src))
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}
