package content

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/klauern/confsync/internal/model"
	"github.com/klauern/confsync/internal/scanner"
)

// MarkdownConverter renders a pragmatic subset of Markdown into Confluence
// storage format: ATX headings, paragraphs, unordered and ordered lists,
// fenced code blocks, emphasis, inline code, links and images. Local image
// references are rewritten to attachment references and reported for upload.
type MarkdownConverter struct{}

// NewMarkdownConverter returns the default converter.
func NewMarkdownConverter() *MarkdownConverter {
	return &MarkdownConverter{}
}

var (
	markerLine  = regexp.MustCompile(`(?m)^<!--\s*confluence-(?:page-id|space-key):[^>]*-->\s*\n?`)
	imageRef    = regexp.MustCompile(`!\[([^\]]*)\]\(([^)\s]+)\)`)
	linkRef     = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
	strongSpan  = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	emSpan      = regexp.MustCompile(`\*([^*]+)\*`)
	codeSpan    = regexp.MustCompile("`([^`]+)`")
	headingLine = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	bulletLine  = regexp.MustCompile(`^[-*]\s+(.*)$`)
	orderedLine = regexp.MustCompile(`^\d+\.\s+(.*)$`)
)

// Convert reads the document at path and produces its storage-format body
// along with declared metadata and referenced local images.
func (c *MarkdownConverter) Convert(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("converting document: %w", err)
	}

	meta, err := scanner.Scan(string(raw))
	if err != nil {
		return nil, err
	}

	doc := &Document{Title: meta.Title}
	for _, tag := range meta.Tags {
		doc.Labels = append(doc.Labels, model.Label{Name: tag, Prefix: model.LabelPrefixGlobal})
	}
	for key, value := range meta.Properties {
		doc.Properties = append(doc.Properties, model.ContentProperty{Key: key, Value: value})
	}

	body := stripMetadata(string(raw))
	doc.Content = c.render(body, doc)
	return doc, nil
}

// stripMetadata removes the front matter block and identity markers; neither
// belongs in the published body.
func stripMetadata(text string) string {
	for _, delim := range []string{"---", "+++"} {
		open := delim + "\n"
		if !strings.HasPrefix(text, open) {
			continue
		}
		rest := text[len(open):]
		if idx := strings.Index(rest, "\n"+delim); idx >= 0 {
			text = strings.TrimPrefix(rest[idx+1+len(delim):], "\n")
			break
		}
	}
	return markerLine.ReplaceAllString(text, "")
}

type listKind int

const (
	listNone listKind = iota
	listBullet
	listOrdered
)

func (c *MarkdownConverter) render(text string, doc *Document) string {
	var b strings.Builder
	var paragraph []string
	list := listNone

	flushParagraph := func() {
		if len(paragraph) == 0 {
			return
		}
		b.WriteString("<p>")
		b.WriteString(c.inline(strings.Join(paragraph, " "), doc))
		b.WriteString("</p>")
		paragraph = paragraph[:0]
	}
	closeList := func() {
		switch list {
		case listBullet:
			b.WriteString("</ul>")
		case listOrdered:
			b.WriteString("</ol>")
		}
		list = listNone
	}

	lines := strings.Split(text, "\n")
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			flushParagraph()
			closeList()
			language := strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
			var code []string
			for i++; i < len(lines); i++ {
				if strings.HasPrefix(strings.TrimSpace(lines[i]), "```") {
					break
				}
				code = append(code, lines[i])
			}
			b.WriteString(codeMacro(language, strings.Join(code, "\n")))
			continue
		}

		if trimmed == "" {
			flushParagraph()
			closeList()
			continue
		}

		if match := headingLine.FindStringSubmatch(trimmed); match != nil {
			flushParagraph()
			closeList()
			level := len(match[1])
			fmt.Fprintf(&b, "<h%d>%s</h%d>", level, c.inline(match[2], doc), level)
			continue
		}

		if match := bulletLine.FindStringSubmatch(trimmed); match != nil {
			flushParagraph()
			if list == listOrdered {
				closeList()
			}
			if list == listNone {
				b.WriteString("<ul>")
				list = listBullet
			}
			fmt.Fprintf(&b, "<li>%s</li>", c.inline(match[1], doc))
			continue
		}
		if match := orderedLine.FindStringSubmatch(trimmed); match != nil {
			flushParagraph()
			if list == listBullet {
				closeList()
			}
			if list == listNone {
				b.WriteString("<ol>")
				list = listOrdered
			}
			fmt.Fprintf(&b, "<li>%s</li>", c.inline(match[1], doc))
			continue
		}

		closeList()
		paragraph = append(paragraph, trimmed)
	}
	flushParagraph()
	closeList()
	return b.String()
}

// inline renders span-level markup within a line of already trusted text.
func (c *MarkdownConverter) inline(text string, doc *Document) string {
	text = escapeText(text)

	text = imageRef.ReplaceAllStringFunc(text, func(match string) string {
		groups := imageRef.FindStringSubmatch(match)
		return c.image(groups[2], groups[1], doc)
	})
	text = linkRef.ReplaceAllStringFunc(text, func(match string) string {
		groups := linkRef.FindStringSubmatch(match)
		return fmt.Sprintf(`<a href="%s">%s</a>`, escapeAttribute(groups[2]), groups[1])
	})
	text = strongSpan.ReplaceAllString(text, "<strong>$1</strong>")
	text = emSpan.ReplaceAllString(text, "<em>$1</em>")
	text = codeSpan.ReplaceAllString(text, "<code>$1</code>")
	return text
}

// image renders an image reference. External URLs stay remote references;
// anything else becomes an attachment reference and is queued for upload.
func (c *MarkdownConverter) image(ref, alt string, doc *Document) string {
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" {
		return fmt.Sprintf(`<ac:image ac:alt="%s"><ri:url ri:value="%s" /></ac:image>`,
			escapeAttribute(alt), escapeAttribute(ref))
	}
	doc.Images = append(doc.Images, Image{Path: ref, AltText: alt})
	return fmt.Sprintf(`<ac:image ac:alt="%s"><ri:attachment ri:filename="%s" /></ac:image>`,
		escapeAttribute(alt), escapeAttribute(AttachmentName(ref)))
}

func codeMacro(language, code string) string {
	var b strings.Builder
	b.WriteString(`<ac:structured-macro ac:name="code">`)
	if language != "" {
		fmt.Fprintf(&b, `<ac:parameter ac:name="language">%s</ac:parameter>`, escapeText(language))
	}
	fmt.Fprintf(&b, `<ac:plain-text-body><![CDATA[%s]]></ac:plain-text-body>`, code)
	b.WriteString(`</ac:structured-macro>`)
	return b.String()
}

func escapeText(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

func escapeAttribute(s string) string {
	return strings.ReplaceAll(escapeText(s), `"`, "&quot;")
}
