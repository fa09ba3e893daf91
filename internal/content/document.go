// Package content turns local documents into Confluence storage format and
// decides whether generated content differs from what the wiki already holds.
package content

import (
	"strings"

	"github.com/klauern/confsync/internal/model"
)

// Image is a local image reference found in a document body.
type Image struct {
	// Path is the reference as written in the document, relative to the
	// document's directory.
	Path string
	// AltText is the alternative text, used as the attachment comment.
	AltText string
}

// Document is the conversion result for one source file.
type Document struct {
	// Title declared in the document, or "" when none.
	Title string
	// Content is the page body in Confluence storage format.
	Content string
	// Labels declared in the document.
	Labels []model.Label
	// Properties declared in the document.
	Properties []model.ContentProperty
	// Images referenced by the body; uploaded as attachments before the
	// body is written.
	Images []Image
	// EmbeddedFiles maps attachment names to generated binary content.
	EmbeddedFiles map[string][]byte
}

// Converter produces Confluence storage content from a source file. The
// synchronization engine treats the output as opaque.
type Converter interface {
	Convert(path string) (*Document, error)
}

// AttachmentName maps a document-relative file reference to a filename the
// wiki accepts. Allowed characters are alphanumerics, dash, underscore and
// dot; parent references collapse to "PAR" and everything else becomes an
// underscore, keeping distinct paths distinct in the common case.
func AttachmentName(ref string) string {
	ref = strings.ReplaceAll(ref, "..", "PAR")
	var b strings.Builder
	b.Grow(len(ref))
	for _, r := range ref {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
