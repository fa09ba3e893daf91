package confluence

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/klauern/confsync/internal/config"
	"github.com/klauern/confsync/internal/logging"
	"github.com/klauern/confsync/internal/model"
)

// v2API implements the Confluence Cloud REST API v2. Spaces have a numeric
// ID distinct from their key; both directions of the mapping are resolved
// lazily and cached for the session lifetime.
type v2API struct {
	client   *Client
	site     model.SiteMetadata
	siteBase string

	mu        sync.Mutex
	keyToID   map[string]string
	idToKey   map[string]string
	homepages map[string]string
}

func newV2API(client *Client, site model.SiteMetadata) *v2API {
	siteBase := "https://" + site.Domain
	if site.Domain == "" {
		if u, err := url.Parse(client.apiURL); err == nil {
			siteBase = u.Scheme + "://" + u.Host
		}
	}
	return &v2API{
		client:    client,
		site:      site,
		siteBase:  siteBase,
		keyToID:   make(map[string]string),
		idToKey:   make(map[string]string),
		homepages: make(map[string]string),
	}
}

func (a *v2API) Site() model.SiteMetadata { return a.site }

func (a *v2API) Version() config.APIVersion { return config.APIVersionV2 }

type spaceV2 struct {
	ID         string `json:"id"`
	Key        string `json:"key"`
	Name       string `json:"name"`
	HomepageID string `json:"homepageId"`
}

// cacheSpace records both directions of the space identity mapping.
func (a *v2API) cacheSpace(space spaceV2) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keyToID[space.Key] = space.ID
	a.idToKey[space.ID] = space.Key
	if space.HomepageID != "" {
		a.homepages[space.ID] = space.HomepageID
	}
}

func (a *v2API) SpaceKeyToID(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", argumentErrorf("expected: non-empty space key")
	}
	a.mu.Lock()
	id, ok := a.keyToID[key]
	a.mu.Unlock()
	if ok {
		return id, nil
	}

	query := url.Values{}
	query.Set("keys", key)
	var data struct {
		Results []spaceV2 `json:"results"`
	}
	if err := a.client.Get(ctx, prefixV2, "/spaces", query, &data); err != nil {
		return "", err
	}
	if len(data.Results) != 1 {
		return "", &IdentityError{Kind: "space", Value: key, Matches: len(data.Results)}
	}
	a.cacheSpace(data.Results[0])
	return data.Results[0].ID, nil
}

func (a *v2API) SpaceIDToKey(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", argumentErrorf("expected: non-empty space ID")
	}
	a.mu.Lock()
	key, ok := a.idToKey[id]
	a.mu.Unlock()
	if ok {
		return key, nil
	}

	var space spaceV2
	path := fmt.Sprintf("/spaces/%s", id)
	if err := a.client.Get(ctx, prefixV2, path, nil, &space); err != nil {
		return "", err
	}
	a.cacheSpace(space)
	return space.Key, nil
}

func (a *v2API) ResolveSpaceID(ctx context.Context, spaceID string) (string, error) {
	if spaceID != "" {
		return spaceID, nil
	}
	if a.site.SpaceKey == "" {
		return "", nil
	}
	return a.SpaceKeyToID(ctx, a.site.SpaceKey)
}

func (a *v2API) HomepageID(ctx context.Context, spaceID string) (string, error) {
	spaceID, err := a.ResolveSpaceID(ctx, spaceID)
	if err != nil {
		return "", err
	}
	if spaceID == "" {
		return "", argumentErrorf("expected: space ID to look up homepage")
	}

	a.mu.Lock()
	homepage, ok := a.homepages[spaceID]
	a.mu.Unlock()
	if ok {
		return homepage, nil
	}

	var space spaceV2
	path := fmt.Sprintf("/spaces/%s", spaceID)
	if err := a.client.Get(ctx, prefixV2, path, nil, &space); err != nil {
		return "", err
	}
	a.cacheSpace(space)
	if space.HomepageID == "" {
		return "", &IdentityError{Kind: "homepage", Value: spaceID, Matches: 0}
	}
	return space.HomepageID, nil
}

// findByTitle runs the shared title lookup behind PagePropertiesByTitle and
// PageExists. The v2 endpoint is paginated even for exact-title queries.
func (a *v2API) findByTitle(ctx context.Context, title, spaceID string) ([]model.PageProperties, error) {
	if title == "" {
		return nil, argumentErrorf("expected: non-empty page title")
	}
	spaceID, err := a.ResolveSpaceID(ctx, spaceID)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("title", title)
	if spaceID != "" {
		query.Set("space-id", spaceID)
	}
	items, err := a.client.fetchCursor(ctx, a.siteBase, "/pages", query)
	if err != nil {
		return nil, err
	}

	pages := make([]model.PageProperties, 0, len(items))
	for _, item := range items {
		var props model.PageProperties
		if err := json.Unmarshal(item, &props); err != nil {
			return nil, fmt.Errorf("decoding page properties: %w", err)
		}
		pages = append(pages, props)
	}
	return pages, nil
}

func (a *v2API) PagePropertiesByTitle(ctx context.Context, title, spaceID string) (*model.PageProperties, error) {
	results, err := a.findByTitle(ctx, title, spaceID)
	if err != nil {
		return nil, err
	}
	if len(results) != 1 {
		return nil, &IdentityError{Kind: "page", Value: title, Matches: len(results)}
	}
	return &results[0], nil
}

func (a *v2API) PageExists(ctx context.Context, title, spaceID string) (string, error) {
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

func (a *v2API) GetPage(ctx context.Context, pageID string) (*model.Page, error) {
	return retryPageFetch(ctx, pageID, func() (*model.Page, error) {
		query := url.Values{}
		query.Set("body-format", string(model.RepresentationStorage))
		var page model.Page
		path := fmt.Sprintf("/pages/%s", pageID)
		if err := a.client.Get(ctx, prefixV2, path, query, &page); err != nil {
			return nil, err
		}
		return &page, nil
	})
}

func (a *v2API) GetPageProperties(ctx context.Context, pageID string) (*model.PageProperties, error) {
	var props model.PageProperties
	path := fmt.Sprintf("/pages/%s", pageID)
	if err := a.client.Get(ctx, prefixV2, path, nil, &props); err != nil {
		return nil, err
	}
	return &props, nil
}

func (a *v2API) UpdatePage(ctx context.Context, pageID, content, title string, version int, message string) error {
	logging.Info("updating page", logging.Page(pageID), "version", version)

	request := map[string]any{
		"id":     pageID,
		"status": model.StatusCurrent,
		"title":  title,
		"body": map[string]any{
			"representation": model.RepresentationStorage,
			"value":          content,
		},
		"version": map[string]any{
			"number":  version,
			"message": message,
		},
	}
	path := fmt.Sprintf("/pages/%s", pageID)
	return a.client.Put(ctx, prefixV2, path, request, nil)
}

func (a *v2API) CreatePage(ctx context.Context, title, content, parentID, spaceID string) (*model.Page, error) {
	if parentID == "" {
		return nil, argumentErrorf("expected: parent page ID for page creation")
	}
	spaceID, err := a.ResolveSpaceID(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	if spaceID == "" {
		return nil, argumentErrorf("expected: space ID for page creation")
	}
	logging.Info("creating page", logging.Title(title), "parent_id", parentID)

	request := map[string]any{
		"spaceId":  spaceID,
		"status":   model.StatusCurrent,
		"title":    title,
		"parentId": parentID,
		"body": map[string]any{
			"representation": model.RepresentationStorage,
			"value":          content,
		},
	}
	var page model.Page
	if err := a.client.Post(ctx, prefixV2, "/pages", request, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (a *v2API) DeletePage(ctx context.Context, pageID string, purge bool) error {
	logging.Info("deleting page", logging.Page(pageID), "purge", purge)

	path := fmt.Sprintf("/pages/%s", pageID)
	if err := a.client.Delete(ctx, prefixV2, path, nil); err != nil {
		return err
	}
	if purge {
		query := url.Values{}
		query.Set("purge", "true")
		return a.client.Delete(ctx, prefixV2, path, query)
	}
	return nil
}

func (a *v2API) AttachmentByName(ctx context.Context, pageID, filename string) (*model.Attachment, error) {
	query := url.Values{}
	query.Set("filename", filename)
	var data struct {
		Results []model.Attachment `json:"results"`
	}
	path := fmt.Sprintf("/pages/%s/attachments", pageID)
	if err := a.client.Get(ctx, prefixV2, path, query, &data); err != nil {
		return nil, err
	}
	if len(data.Results) == 0 {
		return nil, fmt.Errorf("%w: %s on page %s", ErrAttachmentNotFound, filename, pageID)
	}
	attachment := data.Results[0]
	attachment.PageID = pageID
	return &attachment, nil
}

func (a *v2API) Labels(ctx context.Context, pageID string) ([]model.IdentifiedLabel, error) {
	path := fmt.Sprintf("/pages/%s/labels", pageID)
	items, err := a.client.fetchCursor(ctx, a.siteBase, path, nil)
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

func (a *v2API) ContentProperty(ctx context.Context, pageID, key string) (*model.IdentifiedContentProperty, error) {
	query := url.Values{}
	query.Set("key", key)
	var data struct {
		Results []model.IdentifiedContentProperty `json:"results"`
	}
	path := fmt.Sprintf("/pages/%s/properties", pageID)
	if err := a.client.Get(ctx, prefixV2, path, query, &data); err != nil {
		return nil, err
	}
	if len(data.Results) == 0 {
		return nil, nil
	}
	return &data.Results[0], nil
}

func (a *v2API) ContentProperties(ctx context.Context, pageID string) ([]model.IdentifiedContentProperty, error) {
	path := fmt.Sprintf("/pages/%s/properties", pageID)
	items, err := a.client.fetchCursor(ctx, a.siteBase, path, nil)
	if err != nil {
		return nil, err
	}

	properties := make([]model.IdentifiedContentProperty, 0, len(items))
	for _, item := range items {
		var prop model.IdentifiedContentProperty
		if err := json.Unmarshal(item, &prop); err != nil {
			return nil, fmt.Errorf("decoding content property: %w", err)
		}
		properties = append(properties, prop)
	}
	return properties, nil
}

func (a *v2API) AddContentProperty(ctx context.Context, pageID string, property model.ContentProperty) (*model.IdentifiedContentProperty, error) {
	var prop model.IdentifiedContentProperty
	path := fmt.Sprintf("/pages/%s/properties", pageID)
	if err := a.client.Post(ctx, prefixV2, path, property, &prop); err != nil {
		return nil, err
	}
	return &prop, nil
}

func (a *v2API) RemoveContentProperty(ctx context.Context, pageID, propertyID string) error {
	path := fmt.Sprintf("/pages/%s/properties/%s", pageID, propertyID)
	return a.client.Delete(ctx, prefixV2, path, nil)
}

func (a *v2API) UpdateContentProperty(ctx context.Context, pageID, propertyID string, version int, property model.ContentProperty) (*model.IdentifiedContentProperty, error) {
	request := model.VersionedContentProperty{
		Key:     property.Key,
		Value:   property.Value,
		Version: model.ContentVersion{Number: version},
	}
	var prop model.IdentifiedContentProperty
	path := fmt.Sprintf("/pages/%s/properties/%s", pageID, propertyID)
	if err := a.client.Put(ctx, prefixV2, path, request, &prop); err != nil {
		return nil, err
	}
	return &prop, nil
}
