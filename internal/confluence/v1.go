package confluence

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/klauern/confsync/internal/config"
	"github.com/klauern/confsync/internal/logging"
	"github.com/klauern/confsync/internal/model"
)

// v1API implements the classic Confluence REST API, the only generation
// available on Data Center and Server deployments. The classic API has no
// separate space ID namespace; the space key doubles as the identifier, so
// the key<->ID mappings are the identity function.
type v1API struct {
	client *Client
	site   model.SiteMetadata
}

func newV1API(client *Client, site model.SiteMetadata) *v1API {
	return &v1API{client: client, site: site}
}

func (a *v1API) Site() model.SiteMetadata { return a.site }

func (a *v1API) Version() config.APIVersion { return config.APIVersionV1 }

// Classic wire shapes. The classic API nests space, ancestry and history
// inside the content object; these are flattened into the shared model.

type versionV1 struct {
	Number    int        `json:"number"`
	MinorEdit bool       `json:"minorEdit,omitempty"`
	When      *time.Time `json:"when,omitempty"`
	Message   string     `json:"message,omitempty"`
}

type pageV1 struct {
	ID        string       `json:"id"`
	Status    model.Status `json:"status"`
	Title     string       `json:"title"`
	Space     struct {
		Key string `json:"key"`
	} `json:"space"`
	Ancestors []struct {
		ID string `json:"id"`
	} `json:"ancestors"`
	Version versionV1 `json:"version"`
	History *struct {
		CreatedDate time.Time `json:"createdDate"`
		CreatedBy   struct {
			AccountID string `json:"accountId"`
		} `json:"createdBy"`
	} `json:"history"`
	Body *struct {
		Storage struct {
			Value          string               `json:"value"`
			Representation model.Representation `json:"representation"`
		} `json:"storage"`
	} `json:"body"`
}

func (p *pageV1) properties() model.PageProperties {
	props := model.PageProperties{
		ID:      p.ID,
		Status:  p.Status,
		Title:   p.Title,
		SpaceID: p.Space.Key,
		Version: model.ContentVersion{
			Number:    p.Version.Number,
			MinorEdit: p.Version.MinorEdit,
			CreatedAt: p.Version.When,
			Message:   p.Version.Message,
		},
	}
	if len(p.Ancestors) > 0 {
		props.ParentID = p.Ancestors[len(p.Ancestors)-1].ID
		props.ParentType = model.ParentPage
	}
	if p.History != nil {
		props.CreatedAt = p.History.CreatedDate
		props.AuthorID = p.History.CreatedBy.AccountID
	}
	return props
}

func (p *pageV1) page() *model.Page {
	page := &model.Page{PageProperties: p.properties()}
	if p.Body != nil {
		page.Body.Storage.Value = p.Body.Storage.Value
		page.Body.Storage.Representation = p.Body.Storage.Representation
	}
	return page
}

type attachmentV1 struct {
	ID       string       `json:"id"`
	Status   model.Status `json:"status"`
	Title    string       `json:"title"`
	Metadata struct {
		MediaType string `json:"mediaType"`
		Comment   string `json:"comment"`
	} `json:"metadata"`
	Extensions struct {
		MediaType string `json:"mediaType"`
		FileSize  int64  `json:"fileSize"`
		FileID    string `json:"fileId"`
		Comment   string `json:"comment"`
	} `json:"extensions"`
	Version versionV1 `json:"version"`
	Links   struct {
		WebUI    string `json:"webui"`
		Download string `json:"download"`
	} `json:"_links"`
}

func (att *attachmentV1) attachment(pageID string) *model.Attachment {
	mediaType := att.Extensions.MediaType
	if mediaType == "" {
		mediaType = att.Metadata.MediaType
	}
	comment := att.Extensions.Comment
	if comment == "" {
		comment = att.Metadata.Comment
	}
	return &model.Attachment{
		ID:           att.ID,
		Status:       att.Status,
		Title:        att.Title,
		PageID:       pageID,
		MediaType:    mediaType,
		Comment:      comment,
		FileID:       att.Extensions.FileID,
		FileSize:     att.Extensions.FileSize,
		WebUILink:    att.Links.WebUI,
		DownloadLink: att.Links.Download,
		Version:      model.ContentVersion{Number: att.Version.Number},
	}
}

type propertyV1 struct {
	ID      string    `json:"id"`
	Key     string    `json:"key"`
	Value   any       `json:"value"`
	Version versionV1 `json:"version"`
}

func (p *propertyV1) identified() model.IdentifiedContentProperty {
	return model.IdentifiedContentProperty{
		ID:      p.ID,
		Key:     p.Key,
		Value:   p.Value,
		Version: model.ContentVersion{Number: p.Version.Number},
	}
}

func (a *v1API) SpaceKeyToID(_ context.Context, key string) (string, error) {
	if key == "" {
		return "", argumentErrorf("expected: non-empty space key")
	}
	return key, nil
}

func (a *v1API) SpaceIDToKey(_ context.Context, id string) (string, error) {
	if id == "" {
		return "", argumentErrorf("expected: non-empty space ID")
	}
	return id, nil
}

func (a *v1API) ResolveSpaceID(_ context.Context, spaceID string) (string, error) {
	if spaceID != "" {
		return spaceID, nil
	}
	return a.site.SpaceKey, nil
}

func (a *v1API) HomepageID(ctx context.Context, spaceID string) (string, error) {
	spaceID, err := a.ResolveSpaceID(ctx, spaceID)
	if err != nil {
		return "", err
	}
	if spaceID == "" {
		return "", argumentErrorf("expected: space key to look up homepage")
	}

	query := url.Values{}
	query.Set("expand", "homepage")
	var data struct {
		Homepage struct {
			ID string `json:"id"`
		} `json:"homepage"`
	}
	path := fmt.Sprintf("/space/%s", spaceID)
	if err := a.client.Get(ctx, prefixV1, path, query, &data); err != nil {
		return "", err
	}
	if data.Homepage.ID == "" {
		return "", &IdentityError{Kind: "homepage", Value: spaceID, Matches: 0}
	}
	return data.Homepage.ID, nil
}

// findByTitle runs the shared title lookup used by PagePropertiesByTitle and
// PageExists; the two differ only in how zero matches is treated.
func (a *v1API) findByTitle(ctx context.Context, title, spaceID string) ([]pageV1, error) {
	if title == "" {
		return nil, argumentErrorf("expected: non-empty page title")
	}
	spaceID, err := a.ResolveSpaceID(ctx, spaceID)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("type", "page")
	query.Set("title", title)
	query.Set("expand", "space,ancestors,version,history")
	if spaceID != "" {
		query.Set("spaceKey", spaceID)
	}
	var data struct {
		Results []pageV1 `json:"results"`
	}
	if err := a.client.Get(ctx, prefixV1, "/content", query, &data); err != nil {
		return nil, err
	}
	return data.Results, nil
}

func (a *v1API) PagePropertiesByTitle(ctx context.Context, title, spaceID string) (*model.PageProperties, error) {
	results, err := a.findByTitle(ctx, title, spaceID)
	if err != nil {
		return nil, err
	}
	if len(results) != 1 {
		return nil, &IdentityError{Kind: "page", Value: title, Matches: len(results)}
	}
	props := results[0].properties()
	return &props, nil
}

func (a *v1API) PageExists(ctx context.Context, title, spaceID string) (string, error) {
	results, err := a.findByTitle(ctx, title, spaceID)
	if err != nil {
		return "", err
	}
	switch len(results) {
	case 0:
		return "", nil
	case 1:
		return results[0].ID, nil
	default:
		return "", &IdentityError{Kind: "page", Value: title, Matches: len(results)}
	}
}

func (a *v1API) GetPage(ctx context.Context, pageID string) (*model.Page, error) {
	return retryPageFetch(ctx, pageID, func() (*model.Page, error) {
		query := url.Values{}
		query.Set("expand", "body.storage,space,ancestors,version,history")
		var data pageV1
		path := fmt.Sprintf("/content/%s", pageID)
		if err := a.client.Get(ctx, prefixV1, path, query, &data); err != nil {
			return nil, err
		}
		return data.page(), nil
	})
}

func (a *v1API) GetPageProperties(ctx context.Context, pageID string) (*model.PageProperties, error) {
	query := url.Values{}
	query.Set("expand", "space,ancestors,version,history")
	var data pageV1
	path := fmt.Sprintf("/content/%s", pageID)
	if err := a.client.Get(ctx, prefixV1, path, query, &data); err != nil {
		return nil, err
	}
	props := data.properties()
	return &props, nil
}

func (a *v1API) UpdatePage(ctx context.Context, pageID, content, title string, version int, message string) error {
	logging.Info("updating page", logging.Page(pageID), "version", version)

	request := map[string]any{
		"id":    pageID,
		"type":  "page",
		"title": title,
		"version": map[string]any{
			"number":    version,
			"minorEdit": true,
			"message":   message,
		},
		"body": map[string]any{
			"storage": map[string]any{
				"value":          content,
				"representation": model.RepresentationStorage,
			},
		},
	}
	path := fmt.Sprintf("/content/%s", pageID)
	return a.client.Put(ctx, prefixV1, path, request, nil)
}

func (a *v1API) CreatePage(ctx context.Context, title, content, parentID, spaceID string) (*model.Page, error) {
	if parentID == "" {
		return nil, argumentErrorf("expected: parent page ID for page creation")
	}
	spaceID, err := a.ResolveSpaceID(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	logging.Info("creating page", logging.Title(title), "parent_id", parentID)

	request := map[string]any{
		"type":      "page",
		"title":     title,
		"space":     map[string]any{"key": spaceID},
		"ancestors": []map[string]any{{"id": parentID}},
		"body": map[string]any{
			"storage": map[string]any{
				"value":          content,
				"representation": model.RepresentationStorage,
			},
		},
	}
	var data pageV1
	if err := a.client.Post(ctx, prefixV1, "/content", request, &data); err != nil {
		return nil, err
	}
	return data.page(), nil
}

func (a *v1API) DeletePage(ctx context.Context, pageID string, purge bool) error {
	logging.Info("deleting page", logging.Page(pageID), "purge", purge)

	path := fmt.Sprintf("/content/%s", pageID)
	if err := a.client.Delete(ctx, prefixV1, path, nil); err != nil {
		return err
	}
	if purge {
		// First delete trashes the page; second delete with trashed status
		// removes it permanently.
		query := url.Values{}
		query.Set("status", "trashed")
		return a.client.Delete(ctx, prefixV1, path, query)
	}
	return nil
}

func (a *v1API) AttachmentByName(ctx context.Context, pageID, filename string) (*model.Attachment, error) {
	query := url.Values{}
	query.Set("filename", filename)
	query.Set("expand", "metadata,extensions,version")
	var data struct {
		Results []attachmentV1 `json:"results"`
	}
	path := fmt.Sprintf("/content/%s/child/attachment", pageID)
	if err := a.client.Get(ctx, prefixV1, path, query, &data); err != nil {
		return nil, err
	}
	if len(data.Results) == 0 {
		return nil, fmt.Errorf("%w: %s on page %s", ErrAttachmentNotFound, filename, pageID)
	}
	return data.Results[0].attachment(pageID), nil
}

func (a *v1API) Labels(ctx context.Context, pageID string) ([]model.IdentifiedLabel, error) {
	path := fmt.Sprintf("/content/%s/label", pageID)
	items, err := a.client.fetchOffset(ctx, path, nil)
	if err != nil {
		return nil, err
	}

	labels := make([]model.IdentifiedLabel, 0, len(items))
	for _, item := range items {
		var label model.IdentifiedLabel
		if err := json.Unmarshal(item, &label); err != nil {
			return nil, fmt.Errorf("decoding label: %w", err)
		}
		labels = append(labels, label)
	}
	return labels, nil
}

func (a *v1API) ContentProperty(ctx context.Context, pageID, key string) (*model.IdentifiedContentProperty, error) {
	var data propertyV1
	path := fmt.Sprintf("/content/%s/property/%s", pageID, key)
	err := a.client.Get(ctx, prefixV1, path, nil, &data)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	prop := data.identified()
	return &prop, nil
}

func (a *v1API) ContentProperties(ctx context.Context, pageID string) ([]model.IdentifiedContentProperty, error) {
	path := fmt.Sprintf("/content/%s/property", pageID)
	items, err := a.client.fetchOffset(ctx, path, nil)
	if err != nil {
		return nil, err
	}

	properties := make([]model.IdentifiedContentProperty, 0, len(items))
	for _, item := range items {
		var prop propertyV1
		if err := json.Unmarshal(item, &prop); err != nil {
			return nil, fmt.Errorf("decoding content property: %w", err)
		}
		properties = append(properties, prop.identified())
	}
	return properties, nil
}

func (a *v1API) AddContentProperty(ctx context.Context, pageID string, property model.ContentProperty) (*model.IdentifiedContentProperty, error) {
	var data propertyV1
	path := fmt.Sprintf("/content/%s/property", pageID)
	if err := a.client.Post(ctx, prefixV1, path, property, &data); err != nil {
		return nil, err
	}
	prop := data.identified()
	return &prop, nil
}

// propertyKeyByID resolves a property ID to its key. The classic API
// addresses properties by key, while the shared reconciliation logic carries
// the server-assigned ID.
func (a *v1API) propertyKeyByID(ctx context.Context, pageID, propertyID string) (string, error) {
	properties, err := a.ContentProperties(ctx, pageID)
	if err != nil {
		return "", err
	}
	for _, prop := range properties {
		if prop.ID == propertyID {
			return prop.Key, nil
		}
	}
	return "", &IdentityError{Kind: "content property", Value: propertyID, Matches: 0}
}

func (a *v1API) RemoveContentProperty(ctx context.Context, pageID, propertyID string) error {
	key, err := a.propertyKeyByID(ctx, pageID, propertyID)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/content/%s/property/%s", pageID, key)
	return a.client.Delete(ctx, prefixV1, path, nil)
}

func (a *v1API) UpdateContentProperty(ctx context.Context, pageID, propertyID string, version int, property model.ContentProperty) (*model.IdentifiedContentProperty, error) {
	request := model.VersionedContentProperty{
		Key:     property.Key,
		Value:   property.Value,
		Version: model.ContentVersion{Number: version},
	}
	var data propertyV1
	path := fmt.Sprintf("/content/%s/property/%s", pageID, property.Key)
	if err := a.client.Put(ctx, prefixV1, path, request, &data); err != nil {
		return nil, err
	}
	prop := data.identified()
	return &prop, nil
}
