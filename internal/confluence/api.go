package confluence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/klauern/confsync/internal/config"
	"github.com/klauern/confsync/internal/logging"
	"github.com/klauern/confsync/internal/model"
)

// API is the contract implemented once per Confluence REST API generation.
// An adapter is selected at session construction and never mixed mid-run;
// shared logic must not branch on the version.
type API interface {
	// Site returns the immutable site metadata for this session.
	Site() model.SiteMetadata
	// Version identifies the adapter generation.
	Version() config.APIVersion

	// SpaceKeyToID finds the space ID for a space key; cached per session.
	SpaceKeyToID(ctx context.Context, key string) (string, error)
	// SpaceIDToKey finds the space key for a space ID; cached per session.
	SpaceIDToKey(ctx context.Context, id string) (string, error)
	// ResolveSpaceID coalesces an explicit space ID into one, falling back to
	// the site default space. Returns "" when no space can be determined.
	ResolveSpaceID(ctx context.Context, spaceID string) (string, error)
	// HomepageID returns the page ID of the space homepage.
	HomepageID(ctx context.Context, spaceID string) (string, error)

	// PagePropertiesByTitle looks up a page by title, erroring unless exactly
	// one page matches. An empty spaceID falls back to the site default.
	PagePropertiesByTitle(ctx context.Context, title, spaceID string) (*model.PageProperties, error)
	// GetPage retrieves page details and content. An HTTP 404 is retried
	// with exponential backoff to absorb the read-after-write consistency
	// window right after page creation.
	GetPage(ctx context.Context, pageID string) (*model.Page, error)
	// GetPageProperties retrieves page details without body content.
	GetPageProperties(ctx context.Context, pageID string) (*model.PageProperties, error)
	// UpdatePage writes new content to a page. The version must be the
	// current server version plus one; stale versions are rejected.
	UpdatePage(ctx context.Context, pageID, content, title string, version int, message string) error
	// CreatePage creates a new child page under the given parent.
	CreatePage(ctx context.Context, title, content, parentID, spaceID string) (*model.Page, error)
	// DeletePage moves a page to trash; purge additionally performs the
	// irreversible second delete.
	DeletePage(ctx context.Context, pageID string, purge bool) error
	// PageExists returns the ID of the page with the given title, or "" when
	// no page matches. This is the lookup path that avoids duplicate pages.
	PageExists(ctx context.Context, title, spaceID string) (string, error)

	// AttachmentByName retrieves a page attachment by unprefixed filename,
	// returning ErrAttachmentNotFound when absent.
	AttachmentByName(ctx context.Context, pageID, filename string) (*model.Attachment, error)

	// Labels retrieves all labels of a page.
	Labels(ctx context.Context, pageID string) ([]model.IdentifiedLabel, error)

	// ContentProperty retrieves a single content property by key, or nil
	// when not found.
	ContentProperty(ctx context.Context, pageID, key string) (*model.IdentifiedContentProperty, error)
	// ContentProperties retrieves all content properties of a page.
	ContentProperties(ctx context.Context, pageID string) ([]model.IdentifiedContentProperty, error)
	// AddContentProperty adds a new content property to a page.
	AddContentProperty(ctx context.Context, pageID string, property model.ContentProperty) (*model.IdentifiedContentProperty, error)
	// RemoveContentProperty removes a content property by property ID.
	RemoveContentProperty(ctx context.Context, pageID, propertyID string) error
	// UpdateContentProperty assigns new data and version to a property.
	UpdateContentProperty(ctx context.Context, pageID, propertyID string, version int, property model.ContentProperty) (*model.IdentifiedContentProperty, error)
}

// Retry parameters for GetPage. Cloud occasionally returns 404 for a page
// that was created moments earlier.
const (
	getPageRetries      = 3
	getPageInitialDelay = time.Second
	getPageMaxJitter    = time.Second
)

// retryPageFetch wraps a page fetch with the 404 retry policy: exponential
// backoff doubling from the initial delay plus bounded random jitter, up to
// getPageRetries retries, propagating the last error on exhaustion. Only 404
// is retried; other statuses surface immediately.
func retryPageFetch(ctx context.Context, pageID string, fetch func() (*model.Page, error)) (*model.Page, error) {
	attempt := 0
	return retry.DoWithData(
		func() (*model.Page, error) {
			attempt++
			return fetch()
		},
		retry.Context(ctx),
		retry.Attempts(getPageRetries+1),
		retry.RetryIf(IsNotFound),
		retry.Delay(getPageInitialDelay),
		retry.MaxJitter(getPageMaxJitter),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(_ uint, err error) {
			logging.Debug("page not found, retrying",
				logging.Page(pageID),
				"attempt", attempt,
				logging.Err(err),
			)
		}),
	)
}

// Session is an active connection to a Confluence site. It wraps the
// version-specific adapter with the operations shared by both API
// generations: attachment upload, the idempotent get-or-create primitive and
// label/content-property reconciliation.
type Session struct {
	API

	client *Client
}

// NewSession opens a Confluence session from validated configuration,
// selecting the protocol adapter once.
func NewSession(cfg *config.Config) (*Session, error) {
	conn := cfg.Connection

	apiURL := conn.APIURL
	if apiURL == "" {
		if conn.Domain == "" {
			return nil, config.NewConfigError("Confluence domain not specified and cannot be inferred")
		}
		apiURL = "https://" + conn.Domain + conn.BasePath
	}

	site := model.SiteMetadata{
		Domain:   conn.Domain,
		BasePath: conn.BasePath,
		SpaceKey: conn.SpaceKey,
	}
	client := NewClient(apiURL, conn.Username, conn.APIKey, conn.Headers)

	var api API
	switch conn.APIVersion {
	case config.APIVersionV1:
		logging.Info("configuring classic Confluence REST API", "api_url", apiURL)
		api = newV1API(client, site)
	case config.APIVersionV2, "":
		logging.Info("configuring Confluence REST API v2", "api_url", apiURL)
		api = newV2API(client, site)
	default:
		return nil, config.NewConfigError("unsupported Confluence API version: %s", conn.APIVersion)
	}

	return &Session{API: api, client: client}, nil
}

// newSessionWithAPI builds a session around an existing adapter and
// transport. Used by tests and by callers providing custom adapters.
func newSessionWithAPI(api API, client *Client) *Session {
	return &Session{API: api, client: client}
}

// Close releases the session's transport resources.
func (s *Session) Close() {
	s.client.Close()
}

// GetPageVersion retrieves the current version number of a page.
func (s *Session) GetPageVersion(ctx context.Context, pageID string) (int, error) {
	props, err := s.GetPageProperties(ctx, pageID)
	if err != nil {
		return 0, err
	}
	return props.Version.Number, nil
}

// GetOrCreatePage finds a page with the given title in the parent's space,
// or creates a new empty child page when no such page exists. The second
// return value reports whether the page was created. This is the canonical
// idempotent ensure-exists primitive: calling it twice for the same title
// never creates two pages.
func (s *Session) GetOrCreatePage(ctx context.Context, title, parentID string) (*model.Page, bool, error) {
	parent, err := s.GetPageProperties(ctx, parentID)
	if err != nil {
		return nil, false, fmt.Errorf("fetching parent page %s: %w", parentID, err)
	}

	pageID, err := s.PageExists(ctx, title, parent.SpaceID)
	if err != nil {
		return nil, false, err
	}
	if pageID != "" {
		logging.Debug("retrieving existing page", logging.Page(pageID), logging.Title(title))
		page, err := s.GetPage(ctx, pageID)
		return page, false, err
	}

	logging.Debug("creating new page", logging.Title(title))
	page, err := s.CreatePage(ctx, title, "", parentID, parent.SpaceID)
	return page, true, err
}

// AddLabels adds labels to a page. Label mutation is a v1-only endpoint,
// shared by both adapters.
func (s *Session) AddLabels(ctx context.Context, pageID string, labels []model.Label) error {
	path := fmt.Sprintf("/content/%s/label", pageID)
	return s.client.Post(ctx, prefixV1, path, labels, nil)
}

// RemoveLabels removes labels from a page, one delete call per label.
func (s *Session) RemoveLabels(ctx context.Context, pageID string, labels []model.Label) error {
	path := fmt.Sprintf("/content/%s/label", pageID)
	for _, label := range labels {
		query := url.Values{}
		query.Set("name", label.Name)
		if err := s.client.Delete(ctx, prefixV1, path, query); err != nil {
			return err
		}
	}
	return nil
}

// UpdateLabels assigns the desired labels to a page using set algebra over
// the natural key (name, prefix): missing labels are added and, unless
// keepExisting is set, surplus labels are removed. Additions and removals are
// sorted for deterministic request ordering.
func (s *Session) UpdateLabels(ctx context.Context, pageID string, labels []model.Label, keepExisting bool) error {
	current, err := s.Labels(ctx, pageID)
	if err != nil {
		return err
	}

	desired := make(map[model.Label]struct{}, len(labels))
	for _, label := range labels {
		desired[label] = struct{}{}
	}
	existing := make(map[model.Label]struct{}, len(current))
	for _, label := range current {
		existing[label.Label()] = struct{}{}
	}

	var toAdd, toRemove []model.Label
	for label := range desired {
		if _, ok := existing[label]; !ok {
			toAdd = append(toAdd, label)
		}
	}
	for label := range existing {
		if _, ok := desired[label]; !ok {
			toRemove = append(toRemove, label)
		}
	}

	if len(toAdd) > 0 {
		sort.Slice(toAdd, func(i, j int) bool { return toAdd[i].Less(toAdd[j]) })
		if err := s.AddLabels(ctx, pageID, toAdd); err != nil {
			return err
		}
	}
	if !keepExisting && len(toRemove) > 0 {
		sort.Slice(toRemove, func(i, j int) bool { return toRemove[i].Less(toRemove[j]) })
		if err := s.RemoveLabels(ctx, pageID, toRemove); err != nil {
			return err
		}
	}
	return nil
}

// jsonEqual reports whether two property values have the same JSON
// serialization. Property values are decoded as any, so direct comparison
// would miss numerically equal but differently typed values.
func jsonEqual(a, b any) bool {
	left, err := json.Marshal(a)
	if err != nil {
		return false
	}
	right, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(left, right)
}

// UpdateContentProperties reconciles the content properties of a page with
// the desired set, keyed by property key. New keys are added, surplus keys
// removed (unless keepExisting), and changed values updated with the current
// per-property version plus one. Calls are issued in sorted key order.
func (s *Session) UpdateContentProperties(ctx context.Context, pageID string, properties []model.ContentProperty, keepExisting bool) error {
	current, err := s.ContentProperties(ctx, pageID)
	if err != nil {
		return err
	}

	existing := make(map[string]model.IdentifiedContentProperty, len(current))
	for _, prop := range current {
		existing[prop.Key] = prop
	}
	desired := make(map[string]model.ContentProperty, len(properties))
	for _, prop := range properties {
		desired[prop.Key] = prop
	}

	var toAdd, toRemove, toUpdate []string
	for key := range desired {
		if _, ok := existing[key]; !ok {
			toAdd = append(toAdd, key)
		} else {
			toUpdate = append(toUpdate, key)
		}
	}
	for key := range existing {
		if _, ok := desired[key]; !ok {
			toRemove = append(toRemove, key)
		}
	}

	sort.Strings(toAdd)
	for _, key := range toAdd {
		if _, err := s.AddContentProperty(ctx, pageID, desired[key]); err != nil {
			return err
		}
	}
	if !keepExisting {
		sort.Strings(toRemove)
		for _, key := range toRemove {
			if err := s.RemoveContentProperty(ctx, pageID, existing[key].ID); err != nil {
				return err
			}
		}
	}
	sort.Strings(toUpdate)
	for _, key := range toUpdate {
		oldProp := existing[key]
		newProp := desired[key]
		if jsonEqual(oldProp.Value, newProp.Value) {
			continue
		}
		if _, err := s.UpdateContentProperty(ctx, pageID, oldProp.ID, oldProp.Version.Number+1, newProp); err != nil {
			return err
		}
	}
	return nil
}
