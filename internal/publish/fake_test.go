package publish

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/klauern/confsync/internal/config"
	"github.com/klauern/confsync/internal/confluence"
	"github.com/klauern/confsync/internal/model"
)

// fakeWiki is an in-memory Confluence site speaking enough of the v2 API,
// plus the v1 label and attachment endpoints, to run the engine end to end.
type fakeWiki struct {
	t *testing.T

	mu          sync.Mutex
	nextID      int
	pages       map[string]*fakePage
	labels      map[string][]model.IdentifiedLabel
	properties  map[string][]*model.IdentifiedContentProperty
	attachments map[string]map[string]*fakeAttachment
	writes      int
}

type fakePage struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Title    string `json:"title"`
	SpaceID  string `json:"spaceId"`
	ParentID string `json:"parentId,omitempty"`
	Version  struct {
		Number int `json:"number"`
	} `json:"version"`
	Body struct {
		Storage struct {
			Representation string `json:"representation"`
			Value          string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
}

type fakeAttachment struct {
	id      string
	size    int64
	version int
}

func newFakeWiki(t *testing.T) *fakeWiki {
	return &fakeWiki{
		t:           t,
		nextID:      100,
		pages:       make(map[string]*fakePage),
		labels:      make(map[string][]model.IdentifiedLabel),
		properties:  make(map[string][]*model.IdentifiedContentProperty),
		attachments: make(map[string]map[string]*fakeAttachment),
	}
}

func (f *fakeWiki) addPage(id, title, parentID, body string) *fakePage {
	f.mu.Lock()
	defer f.mu.Unlock()
	page := &fakePage{ID: id, Status: "current", Title: title, SpaceID: "777", ParentID: parentID}
	page.Version.Number = 1
	page.Body.Storage.Representation = "storage"
	page.Body.Storage.Value = body
	f.pages[id] = page
	return page
}

func (f *fakeWiki) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *fakeWiki) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /wiki/api/v2/spaces", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[{"id":"777","key":"DOC","homepageId":"1"}]}`)
	})
	mux.HandleFunc("GET /wiki/api/v2/spaces/{id}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"777","key":"DOC","homepageId":"1"}`)
	})

	mux.HandleFunc("GET /wiki/api/v2/pages", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		title := r.URL.Query().Get("title")
		results := []*fakePage{}
		for _, page := range f.pages {
			if page.Title == title {
				results = append(results, page)
			}
		}
		writeJSON(w, map[string]any{"results": results})
	})

	mux.HandleFunc("GET /wiki/api/v2/pages/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		page, ok := f.pages[r.PathValue("id")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, page)
	})

	mux.HandleFunc("POST /wiki/api/v2/pages", func(w http.ResponseWriter, r *http.Request) {
		var request struct {
			SpaceID  string `json:"spaceId"`
			Title    string `json:"title"`
			ParentID string `json:"parentId"`
			Body     struct {
				Value string `json:"value"`
			} `json:"body"`
		}
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.nextID++
		id := strconv.Itoa(f.nextID)
		f.writes++
		f.mu.Unlock()
		page := f.addPage(id, request.Title, request.ParentID, request.Body.Value)
		writeJSON(w, page)
	})

	mux.HandleFunc("PUT /wiki/api/v2/pages/{id}", func(w http.ResponseWriter, r *http.Request) {
		var request struct {
			Title string `json:"title"`
			Body  struct {
				Value string `json:"value"`
			} `json:"body"`
			Version struct {
				Number int `json:"number"`
			} `json:"version"`
		}
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		page, ok := f.pages[r.PathValue("id")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if request.Version.Number != page.Version.Number+1 {
			w.WriteHeader(http.StatusConflict)
			fmt.Fprint(w, `{"errors":[{"title":"version must be incremented"}]}`)
			return
		}
		page.Title = request.Title
		page.Body.Storage.Value = request.Body.Value
		page.Version.Number = request.Version.Number
		f.writes++
		writeJSON(w, page)
	})

	mux.HandleFunc("GET /wiki/api/v2/pages/{id}/properties", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		key := r.URL.Query().Get("key")
		results := []*model.IdentifiedContentProperty{}
		for _, prop := range f.properties[r.PathValue("id")] {
			if key == "" || prop.Key == key {
				results = append(results, prop)
			}
		}
		writeJSON(w, map[string]any{"results": results})
	})

	mux.HandleFunc("POST /wiki/api/v2/pages/{id}/properties", func(w http.ResponseWriter, r *http.Request) {
		var request model.ContentProperty
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.nextID++
		prop := &model.IdentifiedContentProperty{
			ID:      strconv.Itoa(f.nextID),
			Key:     request.Key,
			Value:   request.Value,
			Version: model.ContentVersion{Number: 1},
		}
		pageID := r.PathValue("id")
		f.properties[pageID] = append(f.properties[pageID], prop)
		f.writes++
		writeJSON(w, prop)
	})

	mux.HandleFunc("PUT /wiki/api/v2/pages/{id}/properties/{pid}", func(w http.ResponseWriter, r *http.Request) {
		var request model.VersionedContentProperty
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, prop := range f.properties[r.PathValue("id")] {
			if prop.ID == r.PathValue("pid") {
				prop.Value = request.Value
				prop.Version.Number = request.Version.Number
				f.writes++
				writeJSON(w, prop)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	})

	mux.HandleFunc("DELETE /wiki/api/v2/pages/{id}/properties/{pid}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		pageID := r.PathValue("id")
		kept := f.properties[pageID][:0]
		for _, prop := range f.properties[pageID] {
			if prop.ID != r.PathValue("pid") {
				kept = append(kept, prop)
			}
		}
		f.properties[pageID] = kept
		f.writes++
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /wiki/api/v2/pages/{id}/labels", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		labels := f.labels[r.PathValue("id")]
		if labels == nil {
			labels = []model.IdentifiedLabel{}
		}
		writeJSON(w, map[string]any{"results": labels})
	})

	mux.HandleFunc("POST /wiki/rest/api/content/{id}/label", func(w http.ResponseWriter, r *http.Request) {
		var request []model.Label
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		pageID := r.PathValue("id")
		for _, label := range request {
			f.nextID++
			prefix := label.Prefix
			if prefix == "" {
				// The real server stores prefixless labels as global.
				prefix = model.LabelPrefixGlobal
			}
			f.labels[pageID] = append(f.labels[pageID], model.IdentifiedLabel{
				ID:     strconv.Itoa(f.nextID),
				Name:   label.Name,
				Prefix: prefix,
			})
		}
		f.writes++
		fmt.Fprint(w, `{}`)
	})

	mux.HandleFunc("DELETE /wiki/rest/api/content/{id}/label", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		pageID := r.PathValue("id")
		name := r.URL.Query().Get("name")
		kept := f.labels[pageID][:0]
		for _, label := range f.labels[pageID] {
			if label.Name != name {
				kept = append(kept, label)
			}
		}
		f.labels[pageID] = kept
		f.writes++
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /wiki/rest/api/content/{id}/child/attachment", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		name := r.URL.Query().Get("filename")
		attachment, ok := f.attachments[r.PathValue("id")][name]
		if !ok {
			fmt.Fprint(w, `{"results":[]}`)
			return
		}
		fmt.Fprintf(w, `{"results":[{"id":%q,"title":%q,"extensions":{"fileSize":%d},"version":{"number":%d}}]}`,
			attachment.id, name, attachment.size, attachment.version)
	})

	mux.HandleFunc("GET /wiki/api/v2/pages/{id}/attachments", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		name := r.URL.Query().Get("filename")
		attachment, ok := f.attachments[r.PathValue("id")][name]
		if !ok {
			fmt.Fprint(w, `{"results":[]}`)
			return
		}
		fmt.Fprintf(w, `{"results":[{"id":%q,"title":%q,"fileSize":%d,"version":{"number":%d}}]}`,
			attachment.id, name, attachment.size, attachment.version)
	})

	storeAttachment := func(w http.ResponseWriter, r *http.Request, existingID string) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()

		f.mu.Lock()
		defer f.mu.Unlock()
		pageID := r.PathValue("id")
		if f.attachments[pageID] == nil {
			f.attachments[pageID] = make(map[string]*fakeAttachment)
		}
		attachment := f.attachments[pageID][header.Filename]
		if attachment == nil {
			f.nextID++
			attachment = &fakeAttachment{id: "att" + strconv.Itoa(f.nextID)}
			f.attachments[pageID][header.Filename] = attachment
		}
		attachment.size = header.Size
		attachment.version++
		f.writes++

		if existingID == "" {
			fmt.Fprintf(w, `{"results":[{"id":%q,"title":%q,"version":{"number":%d}}]}`,
				attachment.id, header.Filename, attachment.version)
		} else {
			fmt.Fprintf(w, `{"id":%q,"title":%q,"version":{"number":%d}}`,
				attachment.id, header.Filename, attachment.version)
		}
	}
	mux.HandleFunc("POST /wiki/rest/api/content/{id}/child/attachment", func(w http.ResponseWriter, r *http.Request) {
		storeAttachment(w, r, "")
	})
	mux.HandleFunc("POST /wiki/rest/api/content/{id}/child/attachment/{att}/data", func(w http.ResponseWriter, r *http.Request) {
		storeAttachment(w, r, r.PathValue("att"))
	})
	mux.HandleFunc("PUT /wiki/rest/api/content/{id}/child/attachment/{att}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.writes++
		f.mu.Unlock()
		fmt.Fprint(w, `{}`)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// newWikiSession starts the fake wiki and opens a v2 session against it.
func newWikiSession(t *testing.T, wiki *fakeWiki) *confluence.Session {
	t.Helper()
	server := httptest.NewServer(wiki.handler())
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Connection.APIURL = server.URL + "/wiki/"
	cfg.Connection.Username = "user@example.com"
	cfg.Connection.APIKey = "token"
	cfg.Connection.SpaceKey = "DOC"

	session, err := confluence.NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	t.Cleanup(session.Close)
	return session
}
