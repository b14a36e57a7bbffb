package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/campushub/campushub/types"
	"github.com/google/uuid"
)

// ReadStateAPI is the durable read-state path used when the push channel
// may be down.
type ReadStateAPI interface {
	MarkRead(ctx context.Context, id uuid.UUID) error
	MarkAllRead(ctx context.Context) error
}

// RESTClient calls the server's read-state endpoints, authenticating with a
// push token as bearer credential.
type RESTClient struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
}

// NewRESTClient creates a client for the server at baseURL.
func NewRESTClient(baseURL string, tokens TokenSource) *RESTClient {
	return &RESTClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		tokens:  tokens,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *RESTClient) MarkRead(ctx context.Context, id uuid.UUID) error {
	_, err := c.do(ctx, http.MethodPost, "/api/notifications/"+id.String()+"/read")
	return err
}

func (c *RESTClient) MarkAllRead(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/api/notifications/read-all")
	return err
}

// List fetches a page of notifications with the unread count.
func (c *RESTClient) List(ctx context.Context, limit, offset int) (*types.NotificationListResponse, error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/notifications?limit=%d&offset=%d", limit, offset))
	if err != nil {
		return nil, err
	}
	var out types.NotificationListResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decoding notification list: %w", err)
	}
	return &out, nil
}

func (c *RESTClient) do(ctx context.Context, method, path string) ([]byte, error) {
	token, err := c.tokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting push token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s %s: %w", method, path, types.ErrNotFound)
	case resp.StatusCode >= 300:
		return nil, types.NewHTTPError(resp.StatusCode, strings.TrimSpace(string(body)), nil)
	}
	return body, nil
}
