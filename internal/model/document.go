package model

// DocumentNode is a node in the local document hierarchy built once per
// synchronization run. A node owns its children; the parent pointer is a
// non-owning back-reference used for lookup only.
type DocumentNode struct {
	// AbsolutePath is the absolute path of the document, or of the directory
	// for implicit directory nodes.
	AbsolutePath string
	// PageID is the explicit Confluence page ID extracted from the document,
	// if any.
	PageID string
	// SpaceKey is the explicit Confluence space key extracted from the
	// document, if any.
	SpaceKey string
	// Title is the title declared in front matter, if any.
	Title string
	// Synchronized indicates whether content updates should be applied to
	// this document's page.
	Synchronized bool
	// Children are the node's child documents in deterministic order.
	Children []*DocumentNode
	// Parent is a lookup-only back-reference; nil for the root.
	Parent *DocumentNode
}

// AddChild appends a child node and sets its parent back-reference.
func (n *DocumentNode) AddChild(child *DocumentNode) {
	child.Parent = n
	n.Children = append(n.Children, child)
}

// Walk visits the node and all descendants depth-first in child order.
func (n *DocumentNode) Walk(visit func(*DocumentNode) error) error {
	if err := visit(n); err != nil {
		return err
	}
	for _, child := range n.Children {
		if err := child.Walk(visit); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of nodes in the subtree rooted at n.
func (n *DocumentNode) Count() int {
	total := 1
	for _, child := range n.Children {
		total += child.Count()
	}
	return total
}

// PageMetadata is the resolved identity for a local document.
type PageMetadata struct {
	PageID       string
	SpaceKey     string
	Title        string
	Synchronized bool
}

// PageIndex maps local document paths to resolved page identity. It lives for
// one synchronization run: populated during identity resolution and consulted
// during content updates and title-conflict checks.
type PageIndex struct {
	metadata map[string]PageMetadata
}

// NewPageIndex returns an empty index.
func NewPageIndex() *PageIndex {
	return &PageIndex{metadata: make(map[string]PageMetadata)}
}

// Add records resolved identity for a document path. Entries are written
// exactly once per node.
func (x *PageIndex) Add(path string, data PageMetadata) {
	x.metadata[path] = data
}

// Get returns the resolved identity for a document path.
func (x *PageIndex) Get(path string) (PageMetadata, bool) {
	data, ok := x.metadata[path]
	return data, ok
}

// Len returns the number of indexed documents.
func (x *PageIndex) Len() int {
	return len(x.metadata)
}
