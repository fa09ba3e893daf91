// Package publish implements the synchronization engine: it resolves local
// documents to remote pages, creates missing pages, and writes content
// updates only when something actually changed.
package publish

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauern/confsync/internal/confluence"
	"github.com/klauern/confsync/internal/content"
	"github.com/klauern/confsync/internal/logging"
	"github.com/klauern/confsync/internal/model"
	"github.com/klauern/confsync/internal/scanner"
	"github.com/klauern/confsync/internal/util"
)

// PropertyKey is the content property recording the last synchronized state
// of a page: the page version written and the digest of the source file.
const PropertyKey = "confsync"

// childrenMacro is the body given to pages that stand in for directories
// without an index document.
const childrenMacro = `<ac:structured-macro ac:name="children"><ac:parameter ac:name="all">true</ac:parameter></ac:structured-macro>`

// Options controls one synchronization run.
type Options struct {
	// RootPageID is the page the tree root binds to, or the parent for a
	// root document without an explicit page ID.
	RootPageID string
	// TitlePrefix is prepended to every declared or derived title.
	TitlePrefix string
	// DryRun logs intended writes without performing any.
	DryRun bool
	// KeepLabels suppresses removal of remote labels absent locally.
	KeepLabels bool
	// Force re-uploads attachments even when sizes match.
	Force bool
}

// Summary aggregates per-node outcomes of a run.
type Summary struct {
	Created int
	Updated int
	Skipped int
	Failed  int
	Errors  []error
}

// Failed run: at least one node errored.
func (s *Summary) Err() error {
	if len(s.Errors) == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d documents failed, first error: %w",
		s.Failed, s.Created+s.Updated+s.Skipped+s.Failed, s.Errors[0])
}

// Engine synchronizes a document tree against a Confluence site. One engine
// serves one run.
type Engine struct {
	session   *confluence.Session
	converter content.Converter
	opts      Options

	catalog   *ParentCatalog
	index     *model.PageIndex
	summary   *Summary
	rootID    string
	boundRoot *model.DocumentNode

	// Progress, when set, is invoked once per node before it is processed.
	Progress func(path string)
}

// NewEngine builds an engine for one run.
func NewEngine(session *confluence.Session, converter content.Converter, opts Options) *Engine {
	return &Engine{
		session:   session,
		converter: converter,
		opts:      opts,
		catalog:   NewParentCatalog(session.API),
	}
}

// resolved is the identity a node acquired during resolution.
type resolved struct {
	pageID   string
	spaceID  string
	spaceKey string
	title    string
}

// Publish synchronizes the tree depth-first, parents before children.
// Node-local failures abort the failed subtree but let siblings proceed;
// archived pages abort the run. The returned summary is valid even when an
// error is returned.
func (e *Engine) Publish(ctx context.Context, tree *model.DocumentNode, pageIndex *model.PageIndex) (*Summary, error) {
	e.index = pageIndex
	e.summary = &Summary{}

	if tree.PageID == "" && e.opts.RootPageID == "" {
		return e.summary, &PageError{
			Path:    tree.AbsolutePath,
			Message: "no root page: set a root page ID or an explicit page ID on the root document",
		}
	}

	if tree.PageID == "" && !isDocument(tree) {
		// A bare directory root binds to the configured root page. The root
		// page is not owned by this run, so its content stays untouched.
		tree.PageID = e.opts.RootPageID
		e.boundRoot = tree
	}

	if err := e.syncNode(ctx, tree, e.opts.RootPageID); err != nil {
		return e.summary, err
	}
	return e.summary, e.summary.Err()
}

// syncNode resolves one node, updates its content and recurses. A returned
// error is run-fatal; node-local failures are recorded in the summary and
// swallow the subtree instead.
func (e *Engine) syncNode(ctx context.Context, node *model.DocumentNode, parentID string) error {
	if e.Progress != nil {
		e.Progress(node.AbsolutePath)
	}

	identity, err := e.resolve(ctx, node, parentID)
	if err != nil {
		return e.nodeFailure(node, err)
	}
	if identity == nil {
		// Dry run against a page that does not exist yet: children cannot
		// resolve without a real parent ID.
		return nil
	}

	if e.rootID == "" {
		e.rootID = identity.pageID
	}
	e.index.Add(node.AbsolutePath, model.PageMetadata{
		PageID:       identity.pageID,
		SpaceKey:     identity.spaceKey,
		Title:        identity.title,
		Synchronized: node.Synchronized,
	})

	if node.Synchronized && node != e.boundRoot {
		if err := e.updateContent(ctx, node, identity); err != nil {
			return e.nodeFailure(node, err)
		}
	}

	for _, child := range node.Children {
		if err := e.syncNode(ctx, child, identity.pageID); err != nil {
			return err
		}
	}
	return nil
}

// nodeFailure records a node-local error. Archived conflicts are promoted to
// run-fatal.
func (e *Engine) nodeFailure(node *model.DocumentNode, err error) error {
	var archivedErr *ArchivedError
	if errors.As(err, &archivedErr) {
		return err
	}
	logging.Error("document failed", logging.Path(node.AbsolutePath), logging.Err(err))
	e.summary.Failed++
	e.summary.Errors = append(e.summary.Errors, err)
	return nil
}

// resolve determines the remote page identity for a node. A nil identity
// with nil error means the node was skipped (dry-run page creation).
func (e *Engine) resolve(ctx context.Context, node *model.DocumentNode, parentID string) (*resolved, error) {
	if node.PageID != "" {
		props, err := e.session.GetPageProperties(ctx, node.PageID)
		if err != nil {
			return nil, err
		}
		if props.Status == model.StatusArchived {
			return nil, e.archived(node, props.ID)
		}
		spaceKey, err := e.session.SpaceIDToKey(ctx, props.SpaceID)
		if err != nil {
			return nil, err
		}
		e.catalog.Record(props.ID, props.ParentID)
		return &resolved{
			pageID:   props.ID,
			spaceID:  props.SpaceID,
			spaceKey: spaceKey,
			title:    props.Title,
		}, nil
	}

	if parentID == "" {
		return nil, &PageError{
			Path:    node.AbsolutePath,
			Message: "cannot create page without a parent page ID",
		}
	}

	title := e.prefixed(displayTitle(node))

	if e.opts.DryRun {
		pageID, err := e.session.PageExists(ctx, title, "")
		if err != nil {
			return nil, err
		}
		if pageID == "" {
			logging.Info("dry run: would create page", logging.Title(title), logging.Path(node.AbsolutePath))
			e.summary.Created++
			return nil, nil
		}
		page, err := e.session.GetPageProperties(ctx, pageID)
		if err != nil {
			return nil, err
		}
		spaceKey, err := e.session.SpaceIDToKey(ctx, page.SpaceID)
		if err != nil {
			return nil, err
		}
		return &resolved{pageID: page.ID, spaceID: page.SpaceID, spaceKey: spaceKey, title: page.Title}, nil
	}

	page, created, err := e.session.GetOrCreatePage(ctx, title, parentID)
	if err != nil {
		return nil, err
	}
	if page.Status == model.StatusArchived {
		return nil, e.archived(node, page.ID)
	}

	if !created {
		// A looked-up page must live under the root page; adopting a
		// same-titled page from elsewhere in the space would overwrite
		// unrelated content.
		rootID := e.rootID
		if rootID == "" {
			rootID = e.opts.RootPageID
		}
		traceable, err := e.catalog.Traceable(ctx, page.ID, rootID)
		if err != nil {
			return nil, err
		}
		if !traceable {
			return nil, &PageError{
				Path:    node.AbsolutePath,
				PageID:  page.ID,
				Message: fmt.Sprintf("page titled %q exists outside the root page tree", title),
			}
		}
		logging.Info("adopted existing page", logging.Page(page.ID), logging.Title(title))
	} else {
		logging.Info("created page", logging.Page(page.ID), logging.Title(title))
		e.summary.Created++
	}
	e.catalog.Record(page.ID, parentID)

	spaceKey, err := e.session.SpaceIDToKey(ctx, page.SpaceID)
	if err != nil {
		return nil, err
	}
	if isDocument(node) {
		if err := scanner.WriteBack(node.AbsolutePath, page.ID, spaceKey); err != nil {
			return nil, err
		}
	}
	return &resolved{
		pageID:   page.ID,
		spaceID:  page.SpaceID,
		spaceKey: spaceKey,
		title:    page.Title,
	}, nil
}

func (e *Engine) archived(node *model.DocumentNode, pageID string) error {
	return &ArchivedError{PageError{
		Path:    node.AbsolutePath,
		PageID:  pageID,
		Message: "page is archived and will not be resurrected",
	}}
}

// updateContent brings the remote page body, labels and properties in line
// with the local document.
func (e *Engine) updateContent(ctx context.Context, node *model.DocumentNode, identity *resolved) error {
	doc, digest, err := e.generate(node)
	if err != nil {
		return err
	}

	// Short-circuit on the recorded sync state: when the source digest and
	// remote version both match the last publish, nothing can have changed
	// on either side.
	var lastSync *model.IdentifiedContentProperty
	if digest != "" {
		lastSync, err = e.session.ContentProperty(ctx, identity.pageID, PropertyKey)
		if err != nil {
			return err
		}
		version, syncDigest := syncState(lastSync)
		if syncDigest == digest {
			current, err := e.session.GetPageVersion(ctx, identity.pageID)
			if err != nil {
				return err
			}
			if current == version {
				logging.Debug("source and page unchanged since last sync", logging.Page(identity.pageID))
				e.summary.Skipped++
				return nil
			}
			logging.Warn("page edited remotely since last sync, overwriting",
				logging.Page(identity.pageID),
				"last_synced_version", version,
				"current_version", current,
			)
		}
	}

	if err := e.uploadAttachments(ctx, node, identity.pageID, doc); err != nil {
		return err
	}

	title, err := e.selectTitle(ctx, doc, identity)
	if err != nil {
		return err
	}

	remote, err := e.session.GetPage(ctx, identity.pageID)
	if err != nil {
		return err
	}
	equal, err := content.Equal(doc.Content, remote.Content())
	if err != nil {
		return err
	}

	newVersion := remote.Version.Number
	switch {
	case equal && title == remote.Title:
		logging.Debug("content unchanged", logging.Page(identity.pageID))
		e.summary.Skipped++
	case e.opts.DryRun:
		logging.Info("dry run: would update page",
			logging.Page(identity.pageID),
			logging.Title(title),
			"version", remote.Version.Number+1,
		)
		e.summary.Updated++
		return nil
	default:
		newVersion = remote.Version.Number + 1
		if err := e.session.UpdatePage(ctx, identity.pageID, doc.Content, title, newVersion, "synchronized by confsync"); err != nil {
			return err
		}
		e.summary.Updated++
	}

	if e.opts.DryRun {
		return nil
	}

	if len(doc.Labels) > 0 {
		if err := e.session.UpdateLabels(ctx, identity.pageID, doc.Labels, e.opts.KeepLabels); err != nil {
			return err
		}
	}
	if len(doc.Properties) > 0 {
		// Declared properties replace the remote set. The sync-state marker
		// rides along in the desired set so the removal pass keeps it.
		desired := append([]model.ContentProperty(nil), doc.Properties...)
		if digest != "" {
			desired = append(desired, syncProperty(newVersion, digest))
		}
		return e.session.UpdateContentProperties(ctx, identity.pageID, desired, false)
	}
	if digest != "" {
		return e.recordSyncState(ctx, identity.pageID, lastSync, newVersion, digest)
	}
	return nil
}

// generate produces the target body for a node. Directory nodes get a
// children macro and carry no source digest.
func (e *Engine) generate(node *model.DocumentNode) (*content.Document, string, error) {
	if !isDocument(node) {
		return &content.Document{Content: childrenMacro}, "", nil
	}
	raw, err := os.ReadFile(node.AbsolutePath)
	if err != nil {
		return nil, "", fmt.Errorf("reading document: %w", err)
	}
	doc, err := e.converter.Convert(node.AbsolutePath)
	if err != nil {
		return nil, "", err
	}
	return doc, util.Digest(raw), nil
}

func (e *Engine) uploadAttachments(ctx context.Context, node *model.DocumentNode, pageID string, doc *content.Document) error {
	baseDir := filepath.Dir(node.AbsolutePath)
	for _, image := range doc.Images {
		name := content.AttachmentName(image.Path)
		source := filepath.Join(baseDir, filepath.FromSlash(image.Path))
		if e.opts.DryRun {
			logging.Info("dry run: would upload attachment", logging.Page(pageID), "name", name)
			continue
		}
		if err := e.session.UploadAttachment(ctx, pageID, name, source, nil, "", image.AltText, e.opts.Force); err != nil {
			return fmt.Errorf("uploading %s: %w", image.Path, err)
		}
	}
	for name, data := range doc.EmbeddedFiles {
		if e.opts.DryRun {
			logging.Info("dry run: would upload attachment", logging.Page(pageID), "name", name)
			continue
		}
		if err := e.session.UploadAttachment(ctx, pageID, name, "", data, "", "", e.opts.Force); err != nil {
			return fmt.Errorf("uploading embedded %s: %w", name, err)
		}
	}
	return nil
}

// selectTitle adopts a declared title only when no other page in the space
// already holds it.
func (e *Engine) selectTitle(ctx context.Context, doc *content.Document, identity *resolved) (string, error) {
	if doc.Title == "" {
		return identity.title, nil
	}
	declared := e.prefixed(doc.Title)
	if declared == identity.title {
		return identity.title, nil
	}
	otherID, err := e.session.PageExists(ctx, declared, identity.spaceID)
	if err != nil {
		return "", err
	}
	if otherID != "" && otherID != identity.pageID {
		logging.Warn("title already taken, keeping current title",
			logging.Page(identity.pageID),
			logging.Title(declared),
			"holder", otherID,
		)
		return identity.title, nil
	}
	return declared, nil
}

// syncProperty builds the content property recording the published state.
func syncProperty(version int, digest string) model.ContentProperty {
	return model.ContentProperty{Key: PropertyKey, Value: map[string]any{
		"page_version":  version,
		"source_digest": digest,
	}}
}

func (e *Engine) recordSyncState(ctx context.Context, pageID string, lastSync *model.IdentifiedContentProperty, version int, digest string) error {
	property := syncProperty(version, digest)
	if lastSync == nil {
		_, err := e.session.AddContentProperty(ctx, pageID, property)
		return err
	}
	lastVersion, lastDigest := syncState(lastSync)
	if lastVersion == version && lastDigest == digest {
		return nil
	}
	_, err := e.session.UpdateContentProperty(ctx, pageID, lastSync.ID, lastSync.Version.Number+1, property)
	return err
}

// syncState decodes the recorded sync property value.
func syncState(property *model.IdentifiedContentProperty) (version int, digest string) {
	if property == nil {
		return 0, ""
	}
	fields, ok := property.Value.(map[string]any)
	if !ok {
		return 0, ""
	}
	switch v := fields["page_version"].(type) {
	case float64:
		version = int(v)
	case int:
		version = v
	}
	digest, _ = fields["source_digest"].(string)
	return version, digest
}

func (e *Engine) prefixed(title string) string {
	if e.opts.TitlePrefix == "" {
		return title
	}
	return e.opts.TitlePrefix + " " + title
}

// displayTitle derives the title for an unbound node: the declared title or
// the file stem plus a short digest of the absolute path. The digest keeps
// repeated runs stable and same-named files in different directories apart.
func displayTitle(node *model.DocumentNode) string {
	if node.Title != "" {
		return node.Title
	}
	stem := filepath.Base(node.AbsolutePath)
	stem = strings.TrimSuffix(stem, filepath.Ext(stem))
	return fmt.Sprintf("%s [%s]", stem, util.ShortDigest(node.AbsolutePath))
}

// isDocument distinguishes document nodes from implicit directory nodes.
func isDocument(node *model.DocumentNode) bool {
	return strings.EqualFold(filepath.Ext(node.AbsolutePath), ".md")
}
