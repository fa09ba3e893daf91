// Package confluence implements the Confluence REST API abstraction layer:
// a transport normalizer, offset- and cursor-based pagination strategies, and
// adapters for the two incompatible API generations behind one interface.
package confluence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/klauern/confsync/internal/logging"
)

// apiPrefix is the versioned URL prefix a request corresponds to. Confluence
// Cloud supports v2 endpoints for most operations, but some operations are
// only available on v1 endpoints; Data Center/Server supports v1 only.
type apiPrefix string

const (
	prefixV1 apiPrefix = "rest/api"
	prefixV2 apiPrefix = "api/v2"
)

// Client issues typed HTTP requests against a Confluence site. It never
// retries; retrying is the caller's responsibility.
type Client struct {
	httpClient *http.Client
	apiURL     string
	username   string
	apiKey     string
	headers    map[string]string
}

// NewClient creates a transport bound to the given API base URL. When
// username is empty the API key is sent as a bearer token, otherwise basic
// authentication is used.
func NewClient(apiURL, username, apiKey string, headers map[string]string) *Client {
	if !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}
	return &Client{
		httpClient: &http.Client{},
		apiURL:     apiURL,
		username:   username,
		apiKey:     apiKey,
		headers:    headers,
	}
}

// buildURL assembles a full request URL from the API base URL, versioned
// prefix, endpoint path and query parameters. Paths that carry their own
// query or fragment components are rejected.
func (c *Client) buildURL(prefix apiPrefix, path string, query url.Values) (string, error) {
	if strings.ContainsAny(path, "?#") {
		return "", argumentErrorf("expected: path with no query string or fragment; got: %s", path)
	}
	raw := c.apiURL + string(prefix) + path
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("malformed request URL %q: %w", raw, err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

func (c *Client) newRequest(ctx context.Context, method, requestURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return nil, err
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.apiKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	return req, nil
}

// do executes the request, logs the response body at debug level, validates
// the status code and decodes the JSON payload into out (when non-nil).
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: reading response: %w", req.Method, req.URL, err)
	}
	if len(data) > 0 {
		logging.Debug("received HTTP payload",
			logging.Status(resp.StatusCode),
			logging.Operation(req.Method),
			"payload", string(data),
		)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Valid(data) {
			apiErr.Body = json.RawMessage(data)
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s %s: decoding response: %w", req.Method, req.URL, err)
		}
	}
	return nil
}

// Get executes an HTTP GET against a versioned endpoint and decodes the JSON
// response into out.
func (c *Client) Get(ctx context.Context, prefix apiPrefix, path string, query url.Values, out any) error {
	requestURL, err := c.buildURL(prefix, path, query)
	if err != nil {
		return err
	}
	return c.GetURL(ctx, requestURL, out)
}

// GetURL executes an HTTP GET against a fully formed URL. Used by the cursor
// pagination strategy, which follows server-provided links.
func (c *Client) GetURL(ctx context.Context, requestURL string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

// Post creates a new object via the Confluence REST API.
func (c *Client) Post(ctx context.Context, prefix apiPrefix, path string, body, out any) error {
	return c.write(ctx, http.MethodPost, prefix, path, body, out)
}

// Put updates an existing object via the Confluence REST API.
func (c *Client) Put(ctx context.Context, prefix apiPrefix, path string, body, out any) error {
	return c.write(ctx, http.MethodPut, prefix, path, body, out)
}

func (c *Client) write(ctx context.Context, method string, prefix apiPrefix, path string, body, out any) error {
	requestURL, err := c.buildURL(prefix, path, nil)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request body: %w", err)
	}
	req, err := c.newRequest(ctx, method, requestURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if out != nil {
		req.Header.Set("Accept", "application/json")
	}
	return c.do(req, out)
}

// Delete removes an existing object via the Confluence REST API.
func (c *Client) Delete(ctx context.Context, prefix apiPrefix, path string, query url.Values) error {
	requestURL, err := c.buildURL(prefix, path, query)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodDelete, requestURL, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// PostForm uploads a multipart form to a versioned endpoint. The build
// callback populates the form parts.
func (c *Client) PostForm(ctx context.Context, prefix apiPrefix, path string, build func(*multipart.Writer) error, out any) error {
	requestURL, err := c.buildURL(prefix, path, nil)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := build(writer); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodPost, requestURL, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	// Confluence rejects form uploads without this header
	req.Header.Set("X-Atlassian-Token", "no-check")
	return c.do(req, out)
}

// Close releases the transport's idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
