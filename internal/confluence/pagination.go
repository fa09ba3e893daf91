package confluence

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
)

// pageSize is the number of items requested per page with offset pagination.
const pageSize = 50

// resultSet is the response envelope shared by paginated endpoints.
type resultSet struct {
	Results []json.RawMessage `json:"results"`
	Links   struct {
		Next string `json:"next"`
		Base string `json:"base"`
	} `json:"_links"`
}

// fetchOffset retrieves all results of a paginated v1 result set using
// start/limit parameters. Termination depends only on receiving fewer items
// than the limit, never on a server-declared total.
func (c *Client) fetchOffset(ctx context.Context, path string, query url.Values) ([]json.RawMessage, error) {
	var items []json.RawMessage

	start := 0
	for {
		pageQuery := url.Values{}
		for key, values := range query {
			pageQuery[key] = values
		}
		pageQuery.Set("start", strconv.Itoa(start))
		pageQuery.Set("limit", strconv.Itoa(pageSize))

		var data resultSet
		if err := c.Get(ctx, prefixV1, path, pageQuery, &data); err != nil {
			return nil, err
		}
		items = append(items, data.Results...)

		if len(data.Results) < pageSize {
			break
		}
		start += pageSize
	}

	return items, nil
}

// fetchCursor retrieves all results of a paginated v2 result set by following
// the _links.next cursor. Relative next links are resolved against the site
// domain.
func (c *Client) fetchCursor(ctx context.Context, siteBase, path string, query url.Values) ([]json.RawMessage, error) {
	var items []json.RawMessage

	requestURL, err := c.buildURL(prefixV2, path, query)
	if err != nil {
		return nil, err
	}
	for {
		var data resultSet
		if err := c.GetURL(ctx, requestURL, &data); err != nil {
			return nil, err
		}
		items = append(items, data.Results...)

		link := data.Links.Next
		if link == "" {
			break
		}
		requestURL = resolveLink(siteBase, link)
	}

	return items, nil
}

// resolveLink resolves a next-page link against the site base URL when the
// link is relative.
func resolveLink(siteBase, link string) string {
	u, err := url.Parse(link)
	if err == nil && u.IsAbs() {
		return link
	}
	return siteBase + link
}
