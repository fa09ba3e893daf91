package publish

import (
	"context"
	"sync"

	"github.com/klauern/confsync/internal/confluence"
)

// ParentCatalog records child page to parent page links discovered during a
// run. Before the engine adopts a looked-up page it checks the page is a
// descendant of the root page, so a title collision elsewhere in the space
// cannot redirect writes to an unrelated part of the wiki.
type ParentCatalog struct {
	api confluence.API

	mu      sync.Mutex
	parents map[string]string
}

// NewParentCatalog returns a catalog that falls back to remote lookups for
// pages it has not seen yet.
func NewParentCatalog(api confluence.API) *ParentCatalog {
	return &ParentCatalog{api: api, parents: make(map[string]string)}
}

// Record remembers that childID's parent is parentID.
func (c *ParentCatalog) Record(childID, parentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parents[childID] = parentID
}

// Traceable reports whether pageID is rootID or one of its descendants.
// Unknown links are resolved remotely and cached.
func (c *ParentCatalog) Traceable(ctx context.Context, pageID, rootID string) (bool, error) {
	seen := make(map[string]struct{})
	for current := pageID; current != ""; {
		if current == rootID {
			return true, nil
		}
		if _, cycle := seen[current]; cycle {
			return false, nil
		}
		seen[current] = struct{}{}

		c.mu.Lock()
		parent, ok := c.parents[current]
		c.mu.Unlock()
		if !ok {
			props, err := c.api.GetPageProperties(ctx, current)
			if err != nil {
				return false, err
			}
			parent = props.ParentID
			c.Record(current, parent)
		}
		current = parent
	}
	return false, nil
}
