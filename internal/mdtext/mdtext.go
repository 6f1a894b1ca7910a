// Package mdtext turns markdown documents into speakable sentences.
// Formatting is parsed with goldmark rather than stripped with regexes, so
// structure the voice should acknowledge (headings, list items, quotes)
// survives while noise (URLs, badges, fences) does not.
package mdtext

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
)

// Options control which document parts become speech.
type Options struct {
	// IncludeCode includes code spans and code blocks, announced as code.
	IncludeCode bool

	// AnnounceLinks reads links as "link to <text>" instead of bare text.
	AnnounceLinks bool

	// MinLength drops fragments shorter than this many runes after
	// normalization; stray list bullets and lone punctuation say nothing
	// useful.
	MinLength int
}

// DefaultOptions skips code, announces links and drops fragments under
// three runes.
func DefaultOptions() Options {
	return Options{AnnounceLinks: true, MinLength: 3}
}

var md = goldmark.New()

// Extract parses the markdown and returns its speakable sentences in
// document order.
func Extract(markdown string, opts Options) ([]string, error) {
	source := []byte(markdown)
	doc := md.Parser().Parse(gmtext.NewReader(source))

	var blocks []string
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			blocks = append(blocks, inlineText(node, source, opts))
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph:
			blocks = append(blocks, inlineText(node, source, opts))
			return ast.WalkSkipChildren, nil
		case *ast.ListItem:
			blocks = append(blocks, inlineText(node, source, opts))
			return ast.WalkSkipChildren, nil
		case *ast.Blockquote:
			if quote := blockLines(node, source, opts); quote != "" {
				blocks = append(blocks, "Quote: "+quote)
			}
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock:
			if opts.IncludeCode {
				blocks = append(blocks, announceCode(rawLines(node, source), codeLanguage(node, source)))
			}
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock:
			if opts.IncludeCode {
				blocks = append(blocks, announceCode(rawLines(node, source), ""))
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk markdown: %w", err)
	}

	var sentences []string
	for _, block := range blocks {
		for _, s := range SplitSentences(Normalize(block)) {
			if len([]rune(s)) >= opts.MinLength {
				sentences = append(sentences, s)
			}
		}
	}
	return sentences, nil
}

// inlineText flattens the inline content of a block node into one string.
func inlineText(node ast.Node, source []byte, opts Options) string {
	var b strings.Builder
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		switch c := child.(type) {
		case *ast.Text:
			b.Write(c.Segment.Value(source))
			if c.SoftLineBreak() || c.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.CodeSpan:
			if opts.IncludeCode {
				b.WriteString("code ")
				b.WriteString(inlineText(c, source, opts))
			}
		case *ast.Link:
			text := inlineText(c, source, opts)
			if opts.AnnounceLinks && text != "" {
				b.WriteString("link to ")
			}
			b.WriteString(text)
		case *ast.Image:
			if alt := inlineText(c, source, opts); alt != "" {
				b.WriteString("image: ")
				b.WriteString(alt)
			}
		case *ast.AutoLink:
			// Bare URLs say nothing worth hearing.
		default:
			b.WriteString(inlineText(c, source, opts))
		}
	}
	return strings.TrimSpace(b.String())
}

// blockLines flattens the block children of a container, space separated.
func blockLines(node ast.Node, source []byte, opts Options) string {
	var parts []string
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		if text := inlineText(child, source, opts); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// rawLines reassembles the literal lines of a code block.
func rawLines(node ast.Node, source []byte) string {
	var b strings.Builder
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		b.Write(lines.At(i).Value(source))
	}
	return strings.TrimSpace(b.String())
}

func codeLanguage(node *ast.FencedCodeBlock, source []byte) string {
	if node.Info == nil {
		return ""
	}
	return string(node.Info.Segment.Value(source))
}

func announceCode(code, language string) string {
	if language != "" {
		return fmt.Sprintf("Code block in %s: %s", language, code)
	}
	return "Code block: " + code
}

var (
	protectRe = regexp.MustCompile(
		`\b(?:Mr|Mrs|Ms|Dr|Prof|Sr|Jr|St|vs|etc|e\.g|i\.e)\.|\d+\.\d+`)
	boundaryRe   = regexp.MustCompile(`([.!?]+)(\s+|$)`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	urlRe        = regexp.MustCompile(`https?://\S+`)
)

// SplitSentences splits prose on sentence-ending punctuation. Periods
// inside common abbreviations and decimal numbers do not end sentences.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	// Hide protected periods behind a byte that never occurs in text,
	// split, then restore.
	const mark = "\x00"
	protected := protectRe.ReplaceAllStringFunc(text, func(m string) string {
		return strings.ReplaceAll(m, ".", mark)
	})
	split := boundaryRe.ReplaceAllString(protected, "$1\n")

	var out []string
	for _, line := range strings.Split(split, "\n") {
		line = strings.TrimSpace(strings.ReplaceAll(line, mark, "."))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// speakable symbol replacements, longest first so compound operators win.
var symbolWords = []struct{ from, to string }{
	{">=", " greater than or equal to "},
	{"<=", " less than or equal to "},
	{"!=", " not equals "},
	{"==", " equals "},
	{"->", " arrow "},
	{"=>", " arrow "},
	{"&&", " and "},
	{"&", " and "},
	{"@", " at "},
	{"#", " hash "},
	{"%", " percent "},
}

// Normalize prepares prose for synthesis: URLs vanish, symbols become
// words, whitespace collapses.
func Normalize(text string) string {
	text = urlRe.ReplaceAllString(text, "")
	for _, s := range symbolWords {
		text = strings.ReplaceAll(text, s.from, s.to)
	}
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}
