package model

// ContentProperty is an arbitrary key/JSON-value pair attached to a page.
// Value identity is by key.
type ContentProperty struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// VersionedContentProperty is a content property with version information,
// used when updating an existing property. A property's version is
// per-property, not per-page.
type VersionedContentProperty struct {
	Key     string         `json:"key"`
	Value   any            `json:"value"`
	Version ContentVersion `json:"version"`
}

// IdentifiedContentProperty is a content property with the server-assigned ID
// and current version.
type IdentifiedContentProperty struct {
	ID      string         `json:"id"`
	Key     string         `json:"key"`
	Value   any            `json:"value"`
	Version ContentVersion `json:"version"`
}
