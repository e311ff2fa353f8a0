// Package bgg reads board game data from the BoardGameGeek XML API.
package bgg

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	applog "rulebook/app/internal/log"
)

const (
	defaultBaseURL    = "https://boardgamegeek.com/xmlapi2"
	defaultRPS        = 2
	defaultBurst      = 2
	defaultMaxRetries = 4
	defaultRetryDelay = time.Second
	maxRetryDelay     = 16 * time.Second
	maxResponseBytes  = 8 << 20
)

// ErrNotFound indicates BoardGameGeek has no game with the requested id.
var ErrNotFound = eris.New("bgg game not found")

// Options configures the BoardGameGeek client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	RPS        float64
	Burst      int
	Cache      Cache
	CacheTTL   time.Duration
	MaxRetries int
	RetryDelay time.Duration
	Logger     *logrus.Logger
}

// Client talks to the XML API with throttling, retries and an optional response cache.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      Cache
	cacheTTL   time.Duration
	maxRetries int
	retryDelay time.Duration
	logger     *logrus.Entry
}

// NewClient constructs a Client.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, eris.Wrapf(err, "parsing bgg base url %q", baseURL)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	rps := opts.RPS
	if rps <= 0 {
		rps = defaultRPS
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	} else if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		cache:      opts.Cache,
		cacheTTL:   opts.CacheTTL,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		logger:     applog.Component(opts.Logger, "bgg"),
	}, nil
}

// Search looks up board games by name.
func (c *Client) Search(ctx context.Context, query string) ([]SearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, eris.New("search query is required")
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("type", "boardgame")

	body, err := c.get(ctx, "/search", params)
	if err != nil {
		return nil, err
	}
	return decodeSearch(body)
}

// Things fetches full records, including statistics, for every id in one request.
func (c *Client) Things(ctx context.Context, ids []int) ([]Game, error) {
	if len(ids) == 0 {
		return []Game{}, nil
	}

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.Itoa(id))
	}

	params := url.Values{}
	params.Set("id", strings.Join(parts, ","))
	params.Set("stats", "1")

	body, err := c.get(ctx, "/thing", params)
	if err != nil {
		return nil, err
	}
	return decodeThings(body)
}

// Thing fetches one game.
func (c *Client) Thing(ctx context.Context, id int) (*Game, error) {
	if id <= 0 {
		return nil, eris.Errorf("invalid bgg id %d", id)
	}

	found, err := c.Things(ctx, []int{id})
	if err != nil {
		return nil, err
	}
	for i := range found {
		if found[i].ID == id {
			return &found[i], nil
		}
	}
	return nil, eris.Wrapf(ErrNotFound, "bgg id %d", id)
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + path + "?" + params.Encode()

	if c.cache != nil {
		if cached, ok, err := c.cache.Get(ctx, endpoint); err != nil {
			c.logger.WithField("error", err.Error()).Warn("reading bgg cache")
		} else if ok {
			return cached, nil
		}
	}

	body, err := c.fetch(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	if c.cache != nil && c.cacheTTL > 0 {
		if err := c.cache.Set(ctx, endpoint, body, c.cacheTTL); err != nil {
			c.logger.WithField("error", err.Error()).Warn("writing bgg cache")
		}
	}
	return body, nil
}

// fetch retries on 202 (request queued by BGG), 429 and 5xx with exponential backoff.
func (c *Client) fetch(ctx context.Context, endpoint string) ([]byte, error) {
	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.WithFields(logrus.Fields{
				"attempt": attempt,
				"delay":   delay.String(),
				"error":   lastErr.Error(),
			}).Warn("retrying bgg request")

			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
			delay = min(delay*2, maxRetryDelay)
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "waiting for bgg rate limiter")
		}

		body, status, err := c.do(ctx, endpoint)
		if err != nil {
			lastErr = err
			continue
		}

		switch {
		case status == http.StatusOK:
			return body, nil
		case shouldRetry(status):
			lastErr = eris.Errorf("bgg responded %d", status)
			continue
		default:
			return nil, eris.Errorf("bgg request failed: %d", status)
		}
	}

	return nil, eris.Wrapf(lastErr, "bgg request failed after %d attempts", c.maxRetries+1)
}

func (c *Client) do(ctx context.Context, endpoint string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, eris.Wrap(err, "building bgg request")
	}
	req.Header.Set("Accept", "application/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, eris.Wrap(err, "calling bgg")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, eris.Wrap(err, "reading bgg response")
	}
	return body, resp.StatusCode, nil
}

func shouldRetry(status int) bool {
	return status == http.StatusAccepted || status == http.StatusTooManyRequests || status >= 500
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "waiting to retry bgg request")
	case <-timer.C:
		return nil
	}
}
