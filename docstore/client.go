package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// maxResponseSize bounds how much of a backend response body is buffered.
const maxResponseSize = 16 << 20

// Options configures a Client.
type Options struct {
	// BaseURL is the database root, e.g. https://example-default-rtdb.europe-west1.firebasedatabase.app/
	BaseURL string

	// HTTPClient is shared by all requests. http.DefaultClient is used when nil.
	HTTPClient *http.Client

	// Auth adds credentials to every request. Requests are sent unauthenticated when nil.
	Auth TokenSource
}

// Client talks to a Realtime Database style REST endpoint: every node is reachable as <base>/<path>.json.
// It keeps no session state and may be shared by any number of goroutines.
type Client struct {
	base       *url.URL
	httpClient *http.Client
	auth       TokenSource
}

// NewClient validates opts and returns a ready to use Client.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("docstore: base URL is required")
	}

	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("docstore: invalid base URL: %w", err)
	}

	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("docstore: unsupported URL scheme %q", base.Scheme)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		base:       base,
		httpClient: httpClient,
		auth:       opts.Auth,
	}, nil
}

// Get returns the JSON stored at path.
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	var raw json.RawMessage

	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	return raw, nil
}

// Set pushes doc as a new child of path. The backend generates the child key.
func (c *Client) Set(ctx context.Context, path string, doc any) (string, error) {
	var created struct {
		Name string `json:"name"`
	}

	if err := c.do(ctx, http.MethodPost, path, doc, &created); err != nil {
		return "", err
	}

	return created.Name, nil
}

// Update patches the node at path with the fields of doc.
func (c *Client) Update(ctx context.Context, path string, doc any) error {
	return c.do(ctx, http.MethodPatch, path, doc, nil)
}

// Delete removes the node at path.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// endpoint builds the request URL for path including the authentication parameter.
func (c *Client) endpoint(ctx context.Context, path string) (string, error) {
	cleaned, err := CleanPath(path)
	if err != nil {
		return "", err
	}

	target := *c.base
	target.Path = strings.TrimSuffix(c.base.Path, "/") + "/" + cleaned + ".json"

	query := target.Query()

	if c.auth != nil {
		param, value, err := c.auth.Token(ctx)
		if err != nil {
			return "", fmt.Errorf("docstore: authentication failed: %w", err)
		}

		if param != "" && value != "" {
			query.Set(param, value)
		}
	}

	target.RawQuery = query.Encode()

	return target.String(), nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	target, err := c.endpoint(ctx, path)
	if err != nil {
		return err
	}

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("docstore: could not encode document: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("docstore: could not create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("docstore: %s %s: %w", method, path, err)
	}

	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("docstore: failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{
			Method:  method,
			Path:    path,
			Code:    resp.StatusCode,
			Message: errorMessage(data),
		}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	if err = json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("docstore: failed to unmarshal JSON: %w", err)
	}

	return nil
}

// errorMessage extracts the "error" field the backend puts into failed responses.
func errorMessage(data []byte) string {
	var payload struct {
		Error string `json:"error"`
	}

	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}

	return strings.TrimSpace(string(data))
}

var _ Store = (*Client)(nil)
