package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauern/confsync/internal/content"
	"github.com/klauern/confsync/internal/index"
	"github.com/klauern/confsync/internal/model"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func buildTree(t *testing.T, root string) (*model.DocumentNode, *model.PageIndex) {
	t.Helper()
	tree, pageIndex, err := index.Build(root, index.NewMatcher(nil))
	if err != nil {
		t.Fatalf("index.Build() error = %v", err)
	}
	return tree, pageIndex
}

func runEngine(t *testing.T, wiki *fakeWiki, root string, opts Options) (*Summary, error) {
	t.Helper()
	session := newWikiSession(t, wiki)
	engine := NewEngine(session, content.NewMarkdownConverter(), opts)
	tree, pageIndex := buildTree(t, root)
	return engine.Publish(context.Background(), tree, pageIndex)
}

func TestPublish_CreatesTree(t *testing.T) {
	wiki := newFakeWiki(t)
	wiki.addPage("1", "Root", "", "")

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "guide.md"), "---\ntitle: Guide\ntags: [team]\n---\n\n# Guide\n\nHello.\n")
	writeFile(t, filepath.Join(root, "nested", "note.md"), "---\ntitle: Note\n---\n\nNested.\n")

	summary, err := runEngine(t, wiki, root, Options{RootPageID: "1"})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	// guide page, nested directory page, note page.
	if summary.Created != 3 {
		t.Errorf("Created = %d, want 3", summary.Created)
	}
	if summary.Failed != 0 {
		t.Errorf("Failed = %d: %v", summary.Failed, summary.Errors)
	}

	var guide *fakePage
	for _, page := range wiki.pages {
		if page.Title == "Guide" {
			guide = page
		}
	}
	if guide == nil {
		t.Fatal("Guide page not created")
	}
	if guide.ParentID != "1" {
		t.Errorf("Guide parent = %q, want root page", guide.ParentID)
	}
	if !strings.Contains(guide.Body.Storage.Value, "<h1>Guide</h1>") {
		t.Errorf("Guide body = %q", guide.Body.Storage.Value)
	}
	if len(wiki.labels[guide.ID]) != 1 || wiki.labels[guide.ID][0].Name != "team" {
		t.Errorf("Guide labels = %v", wiki.labels[guide.ID])
	}
	if wiki.labels[guide.ID][0].Prefix != model.LabelPrefixGlobal {
		t.Errorf("Guide label prefix = %q", wiki.labels[guide.ID][0].Prefix)
	}

	// Identity was written back for the next run.
	data, err := os.ReadFile(filepath.Join(root, "guide.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "confluence-page-id: "+guide.ID) {
		t.Errorf("write-back missing:\n%s", data)
	}
	if !strings.Contains(string(data), "title: Guide") {
		t.Errorf("front matter disturbed:\n%s", data)
	}
}

func TestPublish_SecondRunIdempotent(t *testing.T) {
	wiki := newFakeWiki(t)
	wiki.addPage("1", "Root", "", "")

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "guide.md"),
		"---\ntitle: Guide\ntags: [team]\nproperties:\n  owner: docs\n---\n\nBody text.\n")

	if _, err := runEngine(t, wiki, root, Options{RootPageID: "1"}); err != nil {
		t.Fatalf("first Publish() error = %v", err)
	}
	writesAfterFirst := wiki.writeCount()

	summary, err := runEngine(t, wiki, root, Options{RootPageID: "1"})
	if err != nil {
		t.Fatalf("second Publish() error = %v", err)
	}
	if got := wiki.writeCount(); got != writesAfterFirst {
		t.Errorf("second run issued %d writes, want 0", got-writesAfterFirst)
	}
	if summary.Skipped == 0 {
		t.Error("second run should skip unchanged documents")
	}
	if summary.Created != 0 || summary.Updated != 0 {
		t.Errorf("second run summary = %+v", summary)
	}
}

func TestPublish_LocalEditBumpsVersion(t *testing.T) {
	wiki := newFakeWiki(t)
	wiki.addPage("1", "Root", "", "")

	root := t.TempDir()
	path := filepath.Join(root, "guide.md")
	writeFile(t, path, "---\ntitle: Guide\ntags: [team]\n---\n\nFirst version.\n")

	if _, err := runEngine(t, wiki, root, Options{RootPageID: "1"}); err != nil {
		t.Fatal(err)
	}

	var guide *fakePage
	for _, page := range wiki.pages {
		if page.Title == "Guide" {
			guide = page
		}
	}
	versionAfterFirst := guide.Version.Number

	// Edit the file; markers from write-back must be preserved by the edit.
	data, _ := os.ReadFile(path)
	writeFile(t, path, strings.Replace(string(data), "First version.", "Second version.", 1))

	summary, err := runEngine(t, wiki, root, Options{RootPageID: "1"})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Updated != 1 {
		t.Errorf("Updated = %d, want 1", summary.Updated)
	}
	if guide.Version.Number != versionAfterFirst+1 {
		t.Errorf("version = %d, want %d", guide.Version.Number, versionAfterFirst+1)
	}
	if !strings.Contains(guide.Body.Storage.Value, "Second version.") {
		t.Errorf("body not updated: %q", guide.Body.Storage.Value)
	}
	// Unchanged labels must survive the re-run without churn.
	if len(wiki.labels[guide.ID]) != 1 || wiki.labels[guide.ID][0].Name != "team" {
		t.Errorf("labels after re-run = %v", wiki.labels[guide.ID])
	}
}

func TestPublish_ExternalEditOverwritten(t *testing.T) {
	wiki := newFakeWiki(t)
	wiki.addPage("1", "Root", "", "")

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "guide.md"), "---\ntitle: Guide\n---\n\nLocal truth.\n")

	if _, err := runEngine(t, wiki, root, Options{RootPageID: "1"}); err != nil {
		t.Fatal(err)
	}

	var guide *fakePage
	for _, page := range wiki.pages {
		if page.Title == "Guide" {
			guide = page
		}
	}
	// Someone edits the page in the wiki UI.
	guide.Body.Storage.Value = "<p>Remote edit.</p>"
	guide.Version.Number++

	summary, err := runEngine(t, wiki, root, Options{RootPageID: "1"})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Updated != 1 {
		t.Errorf("Updated = %d, want 1", summary.Updated)
	}
	if !strings.Contains(guide.Body.Storage.Value, "Local truth.") {
		t.Errorf("local content must win: %q", guide.Body.Storage.Value)
	}
}

func TestPublish_AttachmentUploadedOnceAndSkipped(t *testing.T) {
	wiki := newFakeWiki(t)
	wiki.addPage("1", "Root", "", "")

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "img", "chart.png"), "fake png bytes")
	writeFile(t, filepath.Join(root, "guide.md"), "---\ntitle: Guide\n---\n\n![chart](img/chart.png)\n")

	if _, err := runEngine(t, wiki, root, Options{RootPageID: "1"}); err != nil {
		t.Fatal(err)
	}

	var guideID string
	for id, page := range wiki.pages {
		if page.Title == "Guide" {
			guideID = id
		}
	}
	attachment := wiki.attachments[guideID]["img_chart.png"]
	if attachment == nil {
		t.Fatalf("attachment not uploaded: %v", wiki.attachments)
	}
	if attachment.version != 1 {
		t.Errorf("attachment version = %d, want 1", attachment.version)
	}

	// Unchanged file: the second run must not add an attachment version.
	// Touch the document so content update runs past the digest check.
	writeFile(t, filepath.Join(root, "extra.md"), "# Extra\n")
	data, _ := os.ReadFile(filepath.Join(root, "guide.md"))
	writeFile(t, filepath.Join(root, "guide.md"), string(data)+"\nMore text.\n")

	if _, err := runEngine(t, wiki, root, Options{RootPageID: "1"}); err != nil {
		t.Fatal(err)
	}
	if attachment.version != 1 {
		t.Errorf("unchanged attachment re-uploaded, version = %d", attachment.version)
	}
}

func TestPublish_UndeclaredPropertyRemoved(t *testing.T) {
	wiki := newFakeWiki(t)
	wiki.addPage("1", "Root", "", "")
	wiki.addPage("50", "Doc", "1", "")
	wiki.properties["50"] = []*model.IdentifiedContentProperty{
		{ID: "p1", Key: "stale", Value: "old", Version: model.ContentVersion{Number: 1}},
	}

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "doc.md"),
		"---\ntitle: Doc\nproperties:\n  owner: docs\n---\n<!-- confluence-page-id: 50 -->\n\nBody.\n")

	summary, err := runEngine(t, wiki, root, Options{RootPageID: "1"})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if summary.Failed != 0 {
		t.Fatalf("Failed = %d: %v", summary.Failed, summary.Errors)
	}

	keys := map[string]bool{}
	for _, prop := range wiki.properties["50"] {
		keys[prop.Key] = true
	}
	if keys["stale"] {
		t.Error("undeclared remote property must be removed")
	}
	if !keys["owner"] {
		t.Error("declared property missing")
	}
	if !keys[PropertyKey] {
		t.Error("sync-state property must survive the removal pass")
	}
}

func TestPublish_ArchivedPageFatal(t *testing.T) {
	wiki := newFakeWiki(t)
	wiki.addPage("1", "Root", "", "")
	archived := wiki.addPage("66", "Old", "1", "<p>old</p>")
	archived.Status = "archived"

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.md"), "<!-- confluence-page-id: 66 -->\n\n# A\n")
	writeFile(t, filepath.Join(root, "b.md"), "---\ntitle: B\n---\n\n# B\n")

	_, err := runEngine(t, wiki, root, Options{RootPageID: "1"})
	var archivedErr *ArchivedError
	if !errors.As(err, &archivedErr) {
		t.Fatalf("Publish() error = %v, want ArchivedError", err)
	}
}

func TestPublish_MissingRootFatalBeforeNetwork(t *testing.T) {
	wiki := newFakeWiki(t)

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.md"), "# A\n")

	session := newWikiSession(t, wiki)
	engine := NewEngine(session, content.NewMarkdownConverter(), Options{})
	tree, pageIndex := buildTree(t, root)

	_, err := engine.Publish(context.Background(), tree, pageIndex)
	var pageErr *PageError
	if !errors.As(err, &pageErr) {
		t.Fatalf("Publish() error = %v, want PageError", err)
	}
	if wiki.writeCount() != 0 {
		t.Error("missing root must fail before any write")
	}
}

func TestPublish_DryRunIssuesNoWrites(t *testing.T) {
	wiki := newFakeWiki(t)
	wiki.addPage("1", "Root", "", "")

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "guide.md"), "---\ntitle: Guide\n---\n\n# Guide\n")

	summary, err := runEngine(t, wiki, root, Options{RootPageID: "1", DryRun: true})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if wiki.writeCount() != 0 {
		t.Errorf("dry run issued %d writes", wiki.writeCount())
	}
	if summary.Created != 1 {
		t.Errorf("Created = %d, want 1 (would create)", summary.Created)
	}
	// No identity may be written back either.
	data, _ := os.ReadFile(filepath.Join(root, "guide.md"))
	if strings.Contains(string(data), "confluence-page-id") {
		t.Error("dry run wrote identity markers")
	}
}

func TestPublish_RefusesUntraceableLookup(t *testing.T) {
	wiki := newFakeWiki(t)
	wiki.addPage("1", "Root", "", "")
	// A page with the same title lives somewhere else in the space.
	wiki.addPage("99", "Elsewhere", "", "")
	wiki.addPage("98", "Guide", "99", "<p>unrelated</p>")

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "guide.md"), "---\ntitle: Guide\n---\n\n# Guide\n")

	summary, err := runEngine(t, wiki, root, Options{RootPageID: "1"})
	if err == nil {
		t.Fatal("expected run error for untraceable page")
	}
	if summary.Failed != 1 {
		t.Errorf("Failed = %d, want 1", summary.Failed)
	}
	if wiki.pages["98"].Body.Storage.Value != "<p>unrelated</p>" {
		t.Error("unrelated page was overwritten")
	}
}

func TestPublish_TitleCollisionKeepsCurrentTitle(t *testing.T) {
	wiki := newFakeWiki(t)
	wiki.addPage("1", "Root", "", "")
	wiki.addPage("50", "Old Title", "1", "<p>mine</p>")
	wiki.addPage("60", "Wanted", "1", "<p>other</p>")

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "doc.md"),
		"---\ntitle: Wanted\n---\n<!-- confluence-page-id: 50 -->\n\nBody.\n")

	summary, err := runEngine(t, wiki, root, Options{RootPageID: "1"})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if summary.Failed != 0 {
		t.Fatalf("Failed = %d: %v", summary.Failed, summary.Errors)
	}
	if wiki.pages["50"].Title != "Old Title" {
		t.Errorf("title = %q, want collision to keep current title", wiki.pages["50"].Title)
	}
	if wiki.pages["60"].Title != "Wanted" {
		t.Error("other page's title must be untouched")
	}
}

func TestPublish_TitlePrefix(t *testing.T) {
	wiki := newFakeWiki(t)
	wiki.addPage("1", "Root", "", "")

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "guide.md"), "---\ntitle: Guide\n---\n\n# G\n")

	if _, err := runEngine(t, wiki, root, Options{RootPageID: "1", TitlePrefix: "[docs]"}); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, page := range wiki.pages {
		if page.Title == "[docs] Guide" {
			found = true
		}
	}
	if !found {
		t.Error("title prefix not applied")
	}
}

func TestDisplayTitle(t *testing.T) {
	node := &model.DocumentNode{AbsolutePath: "/src/docs/setup.md"}
	first := displayTitle(node)
	second := displayTitle(node)
	if first != second {
		t.Errorf("derived title unstable: %q vs %q", first, second)
	}
	if !strings.HasPrefix(first, "setup [") || !strings.HasSuffix(first, "]") {
		t.Errorf("derived title = %q", first)
	}

	other := &model.DocumentNode{AbsolutePath: "/src/other/setup.md"}
	if displayTitle(other) == first {
		t.Error("same stem in different directories must derive different titles")
	}

	declared := &model.DocumentNode{AbsolutePath: "/src/docs/setup.md", Title: "Setup"}
	if displayTitle(declared) != "Setup" {
		t.Errorf("declared title ignored: %q", displayTitle(declared))
	}
}

func TestParentCatalog_Traceable(t *testing.T) {
	wiki := newFakeWiki(t)
	wiki.addPage("1", "Root", "", "")
	wiki.addPage("2", "Mid", "1", "")
	wiki.addPage("3", "Leaf", "2", "")
	wiki.addPage("9", "Stray", "", "")

	session := newWikiSession(t, wiki)
	catalog := NewParentCatalog(session.API)

	ok, err := catalog.Traceable(context.Background(), "3", "1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("leaf must be traceable to root via remote lookups")
	}

	ok, err = catalog.Traceable(context.Background(), "9", "1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("stray page must not be traceable")
	}
}
