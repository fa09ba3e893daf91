// Package scanner extracts page identity and publishing metadata from
// Markdown sources. Identity lives either in HTML comment markers or in a
// leading front matter block; the scanner reads both and can write resolved
// identity back without disturbing existing front matter.
package scanner

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Front matter keys understood by the scanner.
const (
	KeyPageID       = "confluence-page-id"
	KeySpaceKey     = "confluence-space-key"
	KeyTitle        = "title"
	KeyTags         = "tags"
	KeyProperties   = "properties"
	KeySynchronized = "synchronized"
)

var (
	pageIDMarker   = regexp.MustCompile(`<!--\s*confluence-page-id:\s*(\S+)\s*-->`)
	spaceKeyMarker = regexp.MustCompile(`<!--\s*confluence-space-key:\s*(\S+)\s*-->`)
)

// ValidationError reports a front matter value of the wrong type. Fatal for
// the document it occurs in.
type ValidationError struct {
	Path    string
	Key     string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: front matter key %q: %s", e.Path, e.Key, e.Message)
	}
	return fmt.Sprintf("front matter key %q: %s", e.Key, e.Message)
}

// Metadata is the publishing metadata extracted from a single document.
type Metadata struct {
	// PageID is the explicit page ID, or "" when the document is unbound.
	PageID string
	// SpaceKey is the explicit space key, or "" to use the site default.
	SpaceKey string
	// Title is the declared page title, or "" to derive one.
	Title string
	// Tags become page labels.
	Tags []string
	// Properties become content properties.
	Properties map[string]any
	// Synchronized controls whether content updates apply; defaults to true.
	Synchronized bool
}

// ScanFile extracts metadata from the document at path.
func ScanFile(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	meta, err := Scan(string(data))
	if err != nil {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) && validationErr.Path == "" {
			validationErr.Path = path
		}
		return nil, err
	}
	return meta, nil
}

// Scan extracts metadata from document content. Comment markers take
// precedence over front matter for page ID and space key.
func Scan(content string) (*Metadata, error) {
	meta := &Metadata{Synchronized: true}

	block, _, delim := frontMatter(content)
	if block != "" {
		fields := make(map[string]any)
		var err error
		switch delim {
		case "+++":
			err = toml.Unmarshal([]byte(block), &fields)
		default:
			err = yaml.Unmarshal([]byte(block), &fields)
		}
		if err != nil {
			return nil, &ValidationError{Key: "front matter", Message: err.Error()}
		}
		if err := meta.apply(fields); err != nil {
			return nil, err
		}
	}

	if match := pageIDMarker.FindStringSubmatch(content); match != nil {
		meta.PageID = match[1]
	}
	if match := spaceKeyMarker.FindStringSubmatch(content); match != nil {
		meta.SpaceKey = match[1]
	}
	return meta, nil
}

func (m *Metadata) apply(fields map[string]any) error {
	for key, value := range fields {
		switch key {
		case KeyPageID:
			id, err := scalarString(key, value)
			if err != nil {
				return err
			}
			m.PageID = id
		case KeySpaceKey:
			spaceKey, err := scalarString(key, value)
			if err != nil {
				return err
			}
			m.SpaceKey = spaceKey
		case KeyTitle:
			title, ok := value.(string)
			if !ok {
				return &ValidationError{Key: key, Message: fmt.Sprintf("expected string, got %T", value)}
			}
			m.Title = title
		case KeyTags:
			tags, err := stringList(key, value)
			if err != nil {
				return err
			}
			m.Tags = tags
		case KeyProperties:
			properties, err := stringMap(key, value)
			if err != nil {
				return err
			}
			m.Properties = properties
		case KeySynchronized:
			synchronized, ok := value.(bool)
			if !ok {
				return &ValidationError{Key: key, Message: fmt.Sprintf("expected bool, got %T", value)}
			}
			m.Synchronized = synchronized
		}
	}
	return nil
}

func scalarString(key string, value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case int:
		return fmt.Sprintf("%d", v), nil
	case int64:
		return fmt.Sprintf("%d", v), nil
	default:
		return "", &ValidationError{Key: key, Message: fmt.Sprintf("expected string or integer, got %T", value)}
	}
}

func stringList(key string, value any) ([]string, error) {
	items, ok := value.([]any)
	if !ok {
		return nil, &ValidationError{Key: key, Message: fmt.Sprintf("expected list of strings, got %T", value)}
	}
	list := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, &ValidationError{Key: key, Message: fmt.Sprintf("expected list of strings, got element %T", item)}
		}
		list = append(list, s)
	}
	return list, nil
}

func stringMap(key string, value any) (map[string]any, error) {
	fields, ok := value.(map[string]any)
	if !ok {
		return nil, &ValidationError{Key: key, Message: fmt.Sprintf("expected mapping, got %T", value)}
	}
	return fields, nil
}

// frontMatter splits a leading front matter block off the content. It
// returns the block body, the remaining content and the delimiter ("---" for
// YAML, "+++" for TOML), or ("", content, "") when no block is present.
func frontMatter(content string) (block, rest, delim string) {
	for _, d := range []string{"---", "+++"} {
		open := d + "\n"
		if !strings.HasPrefix(content, open) {
			continue
		}
		body := content[len(open):]
		idx := strings.Index(body, "\n"+d)
		if idx < 0 {
			continue
		}
		after := body[idx+1+len(d):]
		if after != "" && !strings.HasPrefix(after, "\n") {
			continue
		}
		return body[:idx+1], strings.TrimPrefix(after, "\n"), d
	}
	return "", content, ""
}

// WriteBack injects resolved page identity markers into the document at
// path. Existing markers are updated in place; otherwise markers are
// inserted directly after any front matter block, which is left untouched.
func WriteBack(path, pageID, spaceKey string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("writing back identity: %w", err)
	}
	updated := InjectMarkers(string(data), pageID, spaceKey)
	if updated == string(data) {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("writing back identity: %w", err)
	}
	if err := os.WriteFile(path, []byte(updated), info.Mode().Perm()); err != nil {
		return fmt.Errorf("writing back identity: %w", err)
	}
	return nil
}

// InjectMarkers returns content with identity markers set to pageID and
// spaceKey. The space key marker is only emitted when spaceKey is non-empty.
func InjectMarkers(content, pageID, spaceKey string) string {
	pageMarker := fmt.Sprintf("<!-- confluence-page-id: %s -->", pageID)
	if pageIDMarker.MatchString(content) {
		content = pageIDMarker.ReplaceAllString(content, pageMarker)
	} else {
		content = insertAfterFrontMatter(content, pageMarker)
	}

	if spaceKey != "" {
		keyMarker := fmt.Sprintf("<!-- confluence-space-key: %s -->", spaceKey)
		if spaceKeyMarker.MatchString(content) {
			content = spaceKeyMarker.ReplaceAllString(content, keyMarker)
		} else {
			content = insertAfterFrontMatter(content, keyMarker)
		}
	}
	return content
}

func insertAfterFrontMatter(content, line string) string {
	block, rest, delim := frontMatter(content)
	if delim == "" {
		return line + "\n" + content
	}
	return delim + "\n" + block + delim + "\n" + line + "\n" + rest
}
