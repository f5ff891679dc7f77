// Package graph is a small client for the upstream social-graph API: the
// authenticated user's feed, album continuation pages and post comments.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/iconidentify/postgrabba/internal/config"
	"github.com/iconidentify/postgrabba/internal/domain"
)

const (
	feedFields = "id,message,created_time,link,from{id,name}," +
		"attachments{type,media_type,media,url,title,description," +
		"subattachments{type,media_type,media,url,title,description},target{url}}"
	commentFields = "id,message,created_time,from{id,name},like_count"

	filteredPageLimit   = 100
	unfilteredPageLimit = 20

	// maxBodySize bounds a single API response.
	maxBodySize = 32 << 20
)

// APIError is the error object the upstream returns in place of data.
type APIError struct {
	Message    string `json:"message"`
	Type       string `json:"type"`
	Code       int    `json:"code"`
	Subcode    int    `json:"error_subcode,omitempty"`
	TraceID    string `json:"fbtrace_id,omitempty"`
	HTTPStatus int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph API error %d (%s): %s", e.Code, e.Type, e.Message)
}

// Unwrap maps well-known upstream failures onto domain errors.
func (e *APIError) Unwrap() error {
	switch {
	case strings.Contains(e.Message, "Please reduce the amount of data"):
		return domain.ErrTooMuchData
	case e.Code == 4 || e.Code == 17 || e.Code == 32 || e.Code == 613 || e.HTTPStatus == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	}
	return nil
}

// FeedQuery narrows a feed request. Zero values are omitted.
type FeedQuery struct {
	Since    time.Time
	Until    time.Time
	PostType string
}

func (q FeedQuery) filtered() bool {
	return !q.Since.IsZero() || !q.Until.IsZero() || q.PostType != ""
}

// FeedPage is one page of the feed.
type FeedPage struct {
	Data   []domain.FeedPost `json:"data"`
	Paging *domain.Paging    `json:"paging,omitempty"`
}

// Next returns the continuation URL, or "" on the last page.
func (p *FeedPage) Next() string {
	if p == nil || p.Paging == nil {
		return ""
	}
	return p.Paging.Next
}

// Profile is the authenticated account.
type Profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client talks to the upstream API with a single access token.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// NewClient creates a client from configuration.
func NewClient(cfg config.GraphConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		accessToken: cfg.AccessToken,
		httpClient:  &http.Client{Timeout: timeout},
		limiter:     rate.NewLimiter(limit, burst),
		logger:      logger,
	}
}

// HasAccessToken reports whether a token is configured.
func (c *Client) HasAccessToken() bool {
	return c.accessToken != ""
}

// Me returns the authenticated account.
func (c *Client) Me(ctx context.Context) (*Profile, error) {
	var p Profile
	if err := c.get(ctx, c.endpoint("/me", url.Values{"fields": {"id,name"}}), &p); err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	return &p, nil
}

// FetchFeedPage returns the first feed page for q, or the page at next when
// next is non-empty.
func (c *Client) FetchFeedPage(ctx context.Context, q FeedQuery, next string) (*FeedPage, error) {
	target := next
	if target == "" {
		target = c.feedURL(q)
	}

	var page FeedPage
	if err := c.get(ctx, target, &page); err != nil {
		return nil, fmt.Errorf("fetch feed page: %w", err)
	}
	return &page, nil
}

// FetchAttachmentPage follows an album continuation URL.
func (c *Client) FetchAttachmentPage(ctx context.Context, nextURL string) (*domain.AttachmentPage, error) {
	var page domain.AttachmentPage
	if err := c.get(ctx, nextURL, &page); err != nil {
		return nil, fmt.Errorf("fetch attachment page: %w", err)
	}
	return &page, nil
}

type commentPage struct {
	Data []struct {
		ID          string         `json:"id"`
		Message     string         `json:"message"`
		CreatedTime string         `json:"created_time"`
		From        *domain.Author `json:"from,omitempty"`
		LikeCount   int            `json:"like_count"`
	} `json:"data"`
	Paging *domain.Paging `json:"paging,omitempty"`
}

// FetchComments returns every comment of a post, following pagination.
func (c *Client) FetchComments(ctx context.Context, postID string) ([]domain.Comment, error) {
	target := c.endpoint("/"+url.PathEscape(postID)+"/comments", url.Values{
		"fields": {commentFields},
		"limit":  {strconv.Itoa(filteredPageLimit)},
	})

	var out []domain.Comment
	seen := make(map[string]bool)
	for target != "" && !seen[target] {
		seen[target] = true

		var page commentPage
		if err := c.get(ctx, target, &page); err != nil {
			return nil, fmt.Errorf("fetch comments of %s: %w", postID, err)
		}
		for _, d := range page.Data {
			cm := domain.Comment{
				ID:          d.ID,
				PostID:      postID,
				Message:     d.Message,
				CreatedTime: d.CreatedTime,
				LikeCount:   d.LikeCount,
			}
			if d.From != nil {
				cm.Author = *d.From
			}
			out = append(out, cm)
		}

		target = ""
		if page.Paging != nil {
			target = page.Paging.Next
		}
	}
	return out, nil
}

func (c *Client) feedURL(q FeedQuery) string {
	params := url.Values{"fields": {feedFields}}
	if !q.Since.IsZero() {
		params.Set("since", strconv.FormatInt(startOfDay(q.Since).Unix(), 10))
	}
	if !q.Until.IsZero() {
		params.Set("until", strconv.FormatInt(endOfDay(q.Until).Unix(), 10))
	}
	if q.PostType != "" {
		params.Set("type", q.PostType)
	}
	limit := unfilteredPageLimit
	if q.filtered() {
		limit = filteredPageLimit
	}
	params.Set("limit", strconv.Itoa(limit))
	return c.endpoint("/me/feed", params)
}

func (c *Client) endpoint(path string, params url.Values) string {
	return c.baseURL + path + "?" + params.Encode()
}

// get performs a rate-limited GET and decodes the JSON body into dst. The
// access token is attached as a query parameter unless the URL already
// carries one, which continuation URLs do.
func (c *Client) get(ctx context.Context, rawURL string, dst any) error {
	if c.accessToken == "" {
		return domain.ErrMissingAccessToken
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	if q.Get("access_token") == "" {
		q.Set("access_token", c.accessToken)
		u.RawQuery = q.Encode()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("graph request",
		"path", u.Path,
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration", time.Since(start),
	)

	var envelope struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		envelope.Error.HTTPStatus = resp.StatusCode
		return envelope.Error
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{
			Message:    strings.TrimSpace(string(body)),
			Type:       "http",
			Code:       resp.StatusCode,
			HTTPStatus: resp.StatusCode,
		}
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsTooMuchData reports whether err asks the caller to narrow the range.
func IsTooMuchData(err error) bool {
	return errors.Is(err, domain.ErrTooMuchData)
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func endOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, time.UTC)
}
