package confluence

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// APIError is raised when a Confluence REST API call returns a non-2xx
// response. It carries the status code and, when present, the JSON error
// body returned by the server.
type APIError struct {
	StatusCode int
	Body       json.RawMessage
}

func (e *APIError) Error() string {
	if len(e.Body) > 0 {
		return fmt.Sprintf("confluence API error: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), string(e.Body))
	}
	return fmt.Sprintf("confluence API error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// IsNotFound reports whether err is an API error with HTTP status 404. This
// is the only transport error eligible for retry, covering the
// read-after-write window right after page creation.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// ErrAttachmentNotFound is returned when a page has no attachment with the
// requested filename.
var ErrAttachmentNotFound = errors.New("attachment not found")

// IdentityError reports a title lookup that did not match exactly one page
// or space. Title uniqueness within a space is enforced by the remote store,
// but "not exactly one" must still surface as an error rather than silently
// picking a match.
type IdentityError struct {
	Kind    string
	Value   string
	Matches int
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("unique %s not found with %q: %d matches", e.Kind, e.Value, e.Matches)
}

// ArgumentError reports invalid arguments passed to an API operation,
// detected before any network call.
type ArgumentError struct {
	Message string
}

func (e *ArgumentError) Error() string {
	return e.Message
}

func argumentErrorf(format string, args ...any) *ArgumentError {
	return &ArgumentError{Message: fmt.Sprintf(format, args...)}
}
