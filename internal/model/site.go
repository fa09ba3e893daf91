package model

// SiteMetadata holds data associated with a Confluence wiki site. It is
// immutable per session and created once at session open.
type SiteMetadata struct {
	// Domain is the Confluence organization domain (e.g. "example.atlassian.net").
	Domain string
	// BasePath is the base path for Confluence (default: "/wiki/").
	BasePath string
	// SpaceKey is the default Confluence space key for new pages, if any.
	SpaceKey string
}
