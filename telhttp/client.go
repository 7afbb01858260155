package telhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/peterbourgon/telescope"
)

// Client reads entries from a remote Server.
type Client struct {
	client HTTPClient
	uri    string
}

// NewClient returns a client for the server at remoteURI, which should be the
// location where the server is mounted, e.g. localhost:8080/telescope. A nil
// client means http.DefaultClient.
func NewClient(client HTTPClient, remoteURI string) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	if !strings.HasPrefix(remoteURI, "http") {
		remoteURI = "http://" + remoteURI
	}
	return &Client{
		client: client,
		uri:    strings.TrimSuffix(remoteURI, "/"),
	}
}

// Stats returns the number of retained entries per category.
func (c *Client) Stats(ctx context.Context) (telescope.Stats, error) {
	var stats telescope.Stats
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, &stats); err != nil {
		return telescope.Stats{}, err
	}
	return stats, nil
}

// Entries returns the limit most recent entries in the category, oldest first.
func (c *Client) Entries(ctx context.Context, category telescope.Category, limit int) ([]telescope.Record, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	return c.entries(ctx, category, query)
}

// EntriesByParent returns the entries in the category with the given parent.
func (c *Client) EntriesByParent(ctx context.Context, category telescope.Category, parentID string) ([]telescope.Record, error) {
	return c.entries(ctx, category, url.Values{"parent_id": {parentID}})
}

func (c *Client) entries(ctx context.Context, category telescope.Category, query url.Values) ([]telescope.Record, error) {
	var raw []json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/"+url.PathEscape(string(category)), query, &raw); err != nil {
		return nil, err
	}

	res := make([]telescope.Record, 0, len(raw))
	for _, data := range raw {
		rec, err := decodeRecord(category, data)
		if err != nil {
			return nil, fmt.Errorf("decode entry: %w", err)
		}
		res = append(res, rec)
	}
	return res, nil
}

// Entry returns a single entry. If the entry doesn't exist, the error wraps
// ErrNotFound.
func (c *Client) Entry(ctx context.Context, category telescope.Category, id string) (telescope.Record, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/"+url.PathEscape(string(category))+"/"+url.PathEscape(id), nil, &raw); err != nil {
		return nil, err
	}
	return decodeRecord(category, raw)
}

// Children returns every child entry of the given request.
func (c *Client) Children(ctx context.Context, requestID string) (telescope.Children, error) {
	var children telescope.Children
	if err := c.do(ctx, http.MethodGet, "/api/requests/"+url.PathEscape(requestID)+"/children", nil, &children); err != nil {
		return telescope.Children{}, err
	}
	return children, nil
}

// Clear removes every entry from the remote telescope.
func (c *Client) Clear(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/entries", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, dst any) error {
	uri := c.uri + path
	if len(query) > 0 {
		uri += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, uri, nil)
	if err != nil {
		return fmt.Errorf("create HTTP request: %w", err)
	}

	req.Header.Set("accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute HTTP request: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		var res errorResponse
		json.NewDecoder(resp.Body).Decode(&res)
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
		case res.Error != "":
			return fmt.Errorf("HTTP response %d: %s", resp.StatusCode, res.Error)
		default:
			return fmt.Errorf("HTTP response %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		}
	}

	if dst == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
