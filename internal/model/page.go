// Package model defines the shared data model for Confluence synchronization.
package model

import "time"

// Status is the lifecycle status of a Confluence content object.
type Status string

const (
	StatusCurrent  Status = "current"
	StatusDraft    Status = "draft"
	StatusArchived Status = "archived"
)

// ParentType identifies the content type of a page's parent.
type ParentType string

const (
	ParentPage       ParentType = "page"
	ParentWhiteboard ParentType = "whiteboard"
	ParentDatabase   ParentType = "database"
	ParentEmbed      ParentType = "embed"
	ParentFolder     ParentType = "folder"
)

// Representation is the content representation used in a page body.
type Representation string

const (
	RepresentationStorage Representation = "storage"
	RepresentationAtlas   Representation = "atlas_doc_format"
	RepresentationWiki    Representation = "wiki"
)

// ContentVersion holds version information for a page, attachment or property.
// Number is the optimistic-concurrency token: every update must submit the
// current number plus one, and the remote store rejects stale values.
type ContentVersion struct {
	Number    int        `json:"number"`
	MinorEdit bool       `json:"minorEdit,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	Message   string     `json:"message,omitempty"`
	AuthorID  string     `json:"authorId,omitempty"`
}

// PageProperties holds Confluence page properties used for page synchronization.
type PageProperties struct {
	ID          string         `json:"id"`
	Status      Status         `json:"status"`
	Title       string         `json:"title"`
	SpaceID     string         `json:"spaceId"`
	ParentID    string         `json:"parentId,omitempty"`
	ParentType  ParentType     `json:"parentType,omitempty"`
	Position    *int           `json:"position,omitempty"`
	AuthorID    string         `json:"authorId,omitempty"`
	OwnerID     string         `json:"ownerId,omitempty"`
	LastOwnerID string         `json:"lastOwnerId,omitempty"`
	CreatedAt   time.Time      `json:"createdAt,omitzero"`
	Version     ContentVersion `json:"version"`
}

// PageStorage encapsulates body content with its representation.
type PageStorage struct {
	Representation Representation `json:"representation"`
	Value          string         `json:"value"`
}

// PageBody holds Confluence page content.
type PageBody struct {
	Storage PageStorage `json:"storage"`
}

// Page holds Confluence page data including body content. The engine owns the
// generated body; the remote store owns the version counter.
type Page struct {
	PageProperties
	Body PageBody `json:"body"`
}

// Content returns the storage-format body of the page.
func (p *Page) Content() string {
	return p.Body.Storage.Value
}

// Properties returns the page metadata without body content.
func (p *Page) Properties() PageProperties {
	return p.PageProperties
}
