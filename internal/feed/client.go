// Package feed implements the activity feed protocol: subscription
// management, content listing and blob fetching.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zaphod7777/Phishfindr/internal/auth"
	"github.com/zaphod7777/Phishfindr/internal/logging"
)

// RawEvent is one decoded record from a content blob. The feed gives no
// shape guarantee, so this is any JSON value; the normalizer sorts it out.
type RawEvent any

// ContentRef locates one batch of raw events. Refs are consumed once per
// poll cycle and never persisted.
type ContentRef struct {
	ContentURI        string `json:"contentUri"`
	ContentID         string `json:"contentId"`
	ContentType       string `json:"contentType"`
	ContentCreated    string `json:"contentCreated"`
	ContentExpiration string `json:"contentExpiration"`
}

// ErrNotArray reports a blob whose body decoded to something other than an
// array of records. The blob yields zero events; the cycle continues.
var ErrNotArray = errors.New("content blob is not an array of events")

// Client talks to the tenant's activity feed API.
type Client struct {
	baseURL    string
	tokens     auth.TokenProvider
	httpClient *http.Client
	log        *logging.Logger
}

// New creates a feed client rooted at baseURL
// (e.g. https://manage.office.com/api/v1.0/<tenant>/activity/feed).
func New(baseURL string, tokens auth.TokenProvider, timeout time.Duration, log *logging.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// EnsureSubscription starts the subscription for a content type. The call
// is idempotent: a response indicating the subscription already exists is
// success, anything else non-2xx is an error the caller treats as a
// per-content-type warning.
func (c *Client) EnsureSubscription(ctx context.Context, contentType string) error {
	endpoint := fmt.Sprintf("%s/subscriptions/start?contentType=%s", c.baseURL, url.QueryEscape(contentType))

	resp, err := c.do(ctx, http.MethodPost, endpoint)
	if err != nil {
		return fmt.Errorf("start subscription for %s: %w", contentType, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if alreadyEnabled(resp.StatusCode, body) {
		c.log.Debug("subscription already active", "content_type", contentType)
		return nil
	}

	return fmt.Errorf("start subscription for %s: status %d: %s", contentType, resp.StatusCode, string(body))
}

// alreadyEnabled recognizes the "subscription already exists" response
// class: a 409, or the feed's AF20024 error body on a 400.
func alreadyEnabled(status int, body []byte) bool {
	if status == http.StatusConflict {
		return true
	}
	return status == http.StatusBadRequest && strings.Contains(string(body), "AF20024")
}

// ListContent returns the available blob references for a content type.
// Transport and auth errors propagate: the whole content type is
// unreachable this cycle.
func (c *Client) ListContent(ctx context.Context, contentType string) ([]ContentRef, error) {
	endpoint := fmt.Sprintf("%s/subscriptions/content?contentType=%s", c.baseURL, url.QueryEscape(contentType))

	resp, err := c.do(ctx, http.MethodGet, endpoint)
	if err != nil {
		return nil, fmt.Errorf("list content for %s: %w", contentType, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("list content for %s: status %d: %s", contentType, resp.StatusCode, string(body))
	}

	var refs []ContentRef
	if err := json.NewDecoder(resp.Body).Decode(&refs); err != nil {
		return nil, fmt.Errorf("decode content list for %s: %w", contentType, err)
	}

	return refs, nil
}

// FetchContent retrieves the raw events behind one blob reference. A body
// that is valid JSON but not an array returns ErrNotArray with zero events.
func (c *Client) FetchContent(ctx context.Context, ref ContentRef) ([]RawEvent, error) {
	resp, err := c.do(ctx, http.MethodGet, ref.ContentURI)
	if err != nil {
		return nil, fmt.Errorf("fetch blob %s: %w", ref.ContentURI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetch blob %s: status %d: %s", ref.ContentURI, resp.StatusCode, string(body))
	}

	var payload any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode blob %s: %w", ref.ContentURI, err)
	}

	items, ok := payload.([]any)
	if !ok {
		return nil, fmt.Errorf("blob %s: %w (got %T)", ref.ContentURI, ErrNotArray, payload)
	}

	events := make([]RawEvent, len(items))
	for i, item := range items {
		events[i] = RawEvent(item)
	}
	return events, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string) (*http.Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	request, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	return resp, nil
}
