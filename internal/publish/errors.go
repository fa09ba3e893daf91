package publish

import "fmt"

// PageError reports an identity conflict for one document: an archived page,
// an untraceable lookup result or a title collision. Fatal for the node's
// subtree; whether it aborts the run depends on the conflict.
type PageError struct {
	Path    string
	PageID  string
	Message string
}

func (e *PageError) Error() string {
	if e.PageID != "" {
		return fmt.Sprintf("%s: page %s: %s", e.Path, e.PageID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ArchivedError is a PageError for a page in archived status. Archived pages
// must not be silently resurrected, so this aborts the whole run.
type ArchivedError struct {
	PageError
}
