package content

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Attributes assigned by the server on save. They differ between the
// generated and the stored body of an otherwise identical page and must not
// defeat the skip-unchanged check.
var volatileAttributes = map[string]struct{}{
	"ac:macro-id":        {},
	"ri:version-at-save": {},
	"ac:schema-version":  {},
}

// Elements that wrap content without changing it; their children are
// compared in place.
var unwrappedElements = map[string]struct{}{
	"ac:inline-comment-marker": {},
}

// Equal reports whether two storage-format bodies are structurally equal:
// element-wise, attributes as unordered sets, ignoring volatile attributes,
// inline comment wrappers, comments and insignificant whitespace. This is
// the gate that keeps repeated runs from bumping page versions.
func Equal(a, b string) (bool, error) {
	left, err := canonical(a)
	if err != nil {
		return false, err
	}
	right, err := canonical(b)
	if err != nil {
		return false, err
	}
	return left == right, nil
}

// canonical parses a storage fragment and renders it into a normalized
// string form suitable for direct comparison.
func canonical(fragment string) (string, error) {
	context := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), context)
	if err != nil {
		return "", fmt.Errorf("parsing storage content: %w", err)
	}

	var b strings.Builder
	for _, node := range nodes {
		renderCanonical(&b, node)
	}
	return b.String(), nil
}

func renderCanonical(b *strings.Builder, node *html.Node) {
	switch node.Type {
	case html.TextNode:
		if text := strings.TrimSpace(node.Data); text != "" {
			fmt.Fprintf(b, "%q", collapseSpace(node.Data))
		}
	case html.CommentNode:
		// CDATA sections inside macro bodies surface as comment nodes; the
		// code they carry is significant.
		if strings.HasPrefix(node.Data, "[CDATA[") {
			fmt.Fprintf(b, "%q", node.Data)
		}
	case html.ElementNode:
		if _, unwrap := unwrappedElements[node.Data]; unwrap {
			renderChildren(b, node)
			return
		}
		b.WriteByte('<')
		b.WriteString(node.Data)
		for _, attr := range sortedAttributes(node) {
			fmt.Fprintf(b, " %s=%q", attr.Key, attr.Val)
		}
		b.WriteByte('>')
		renderChildren(b, node)
		b.WriteString("</")
		b.WriteString(node.Data)
		b.WriteByte('>')
	case html.DocumentNode:
		renderChildren(b, node)
	}
}

func renderChildren(b *strings.Builder, node *html.Node) {
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		renderCanonical(b, child)
	}
}

func sortedAttributes(node *html.Node) []html.Attribute {
	attrs := make([]html.Attribute, 0, len(node.Attr))
	for _, attr := range node.Attr {
		key := attr.Key
		if attr.Namespace != "" {
			key = attr.Namespace + ":" + attr.Key
		}
		if _, volatile := volatileAttributes[key]; volatile {
			continue
		}
		attrs = append(attrs, html.Attribute{Key: key, Val: attr.Val})
	}
	sort.Slice(attrs, func(i, j int) bool { return attrs[i].Key < attrs[j].Key })
	return attrs
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
