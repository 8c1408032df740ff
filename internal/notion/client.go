package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hward/sn2n/internal/blocktree"
)

const apiVersion = "2022-06-28"

// Client communicates with the remote document store's HTTP API.
type Client struct {
	baseURL    string
	token      string
	version    string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		version: apiVersion,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Page is the result of creating a page.
type Page struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreatePage creates a page under the given database with an initial
// child list. The same per-call sibling ceiling applies as for appends;
// callers pass at most one batch and append the rest.
func (c *Client) CreatePage(ctx context.Context, databaseID string, properties map[string]any, children []*blocktree.Node) (*Page, error) {
	body := map[string]any{
		"parent":     map[string]any{"database_id": databaseID},
		"properties": properties,
	}
	if len(children) > 0 {
		body["children"] = BlockPayloads(children)
	}

	respBody, err := c.do(ctx, http.MethodPost, "/v1/pages", body)
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	var page Page
	if err := json.Unmarshal(respBody, &page); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}
	return &page, nil
}

// AppendChildren appends blocks as children of the given block. The
// caller is responsible for honoring the per-call sibling ceiling.
func (c *Client) AppendChildren(ctx context.Context, blockID string, children []*blocktree.Node) error {
	body := map[string]any{
		"children": BlockPayloads(children),
	}
	if _, err := c.do(ctx, http.MethodPatch, "/v1/blocks/"+blockID+"/children", body); err != nil {
		return fmt.Errorf("append children to %s: %w", blockID, err)
	}
	return nil
}

// ListChildren returns all direct children of a block, consuming every
// page of the paginated response.
func (c *Client) ListChildren(ctx context.Context, blockID string) ([]*blocktree.RemoteNode, error) {
	var nodes []*blocktree.RemoteNode
	cursor := ""

	for {
		path := "/v1/blocks/" + blockID + "/children?page_size=100"
		if cursor != "" {
			path += "&start_cursor=" + url.QueryEscape(cursor)
		}
		respBody, err := c.do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, fmt.Errorf("list children of %s: %w", blockID, err)
		}

		var result struct {
			Results    []blockJSON `json:"results"`
			HasMore    bool        `json:"has_more"`
			NextCursor string      `json:"next_cursor"`
		}
		if err := json.Unmarshal(respBody, &result); err != nil {
			return nil, fmt.Errorf("decode children of %s: %w", blockID, err)
		}
		for i := range result.Results {
			nodes = append(nodes, result.Results[i].toRemoteNode())
		}
		if !result.HasMore || result.NextCursor == "" {
			break
		}
		cursor = result.NextCursor
	}

	return nodes, nil
}

// UpdateNodeText replaces the visible text of a text-bearing block.
func (c *Client) UpdateNodeText(ctx context.Context, blockID string, kind blocktree.Kind, text string) error {
	body := map[string]any{
		string(kind): map[string]any{
			"rich_text": richText(text),
		},
	}
	if _, err := c.do(ctx, http.MethodPatch, "/v1/blocks/"+blockID, body); err != nil {
		return fmt.Errorf("update text of %s: %w", blockID, err)
	}
	return nil
}

// ArchiveBlock removes a block from the visible tree.
func (c *Client) ArchiveBlock(ctx context.Context, blockID string) error {
	body := map[string]any{"archived": true}
	if _, err := c.do(ctx, http.MethodPatch, "/v1/blocks/"+blockID, body); err != nil {
		return fmt.Errorf("archive %s: %w", blockID, err)
	}
	return nil
}

// do executes one API request and classifies failures into the error
// taxonomy the placement layer retries on.
func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", c.version)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &TransientError{Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
	}
	var errBody struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(respBody, &errBody) == nil {
		apiErr.Code = errBody.Code
		apiErr.Message = errBody.Message
	} else {
		apiErr.Message = string(respBody)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.ParseFloat(s, 64); err == nil && secs > 0 {
				apiErr.RetryAfter = time.Duration(secs * float64(time.Second))
			}
		}
	}
	return nil, apiErr
}

// Close releases any resources.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
