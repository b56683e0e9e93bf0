package sentinel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/forest-guardian/forest-health-mosaic/internal/log"
	"github.com/forest-guardian/forest-health-mosaic/internal/profile"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

const (
	DefaultMaxRetries = 3
	DefaultTimeout    = 2 * time.Minute
	DefaultPacing     = time.Second

	defaultRetryAfter = 2 * time.Second
	maxServerBackoff  = 16 * time.Second
	maxNetworkBackoff = 8 * time.Second
	maxDetailBytes    = 2048
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Limiter paces outgoing requests. *rate.Limiter implements it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// NewLimiter allows one request per pacing interval. Zero or negative
// pacing disables the limit.
func NewLimiter(pacing time.Duration) *rate.Limiter {
	if pacing <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(pacing), 1)
}

type Options struct {
	ProcessURL string
	Collection string
	Registry   *profile.Registry
	// MaxRetries bounds the number of attempts per request.
	MaxRetries int
	// Timeout applies to each HTTP call separately.
	Timeout    time.Duration
	HTTPClient *http.Client
	Sleep      SleepFunc
	// Limiter is consulted before every attempt, retries included. Share
	// one limiter between clients that talk to the same provider.
	Limiter Limiter
}

// Response is a successful provider answer with its body fully read.
type Response struct {
	StatusCode  int
	ContentType string
	Header      http.Header
	Body        []byte
}

// Client talks to the Process API with an OAuth2 client-credentials token.
type Client struct {
	*RequestBuilder
	processURL string
	maxRetries int
	timeout    time.Duration
	httpClient *http.Client
	oauth      *clientcredentials.Config
	limiter    Limiter
	sleep      SleepFunc
	logTag     string

	mu    sync.Mutex
	token *oauth2.Token
}

func NewClient(creds Credentials, opts Options) (*Client, error) {
	if err := creds.validate(); err != nil {
		return nil, err
	}
	if opts.ProcessURL == "" {
		opts.ProcessURL = DefaultProcessURL
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Limiter == nil {
		opts.Limiter = NewLimiter(DefaultPacing)
	}
	oauth := &clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     creds.TokenURL,
	}

	return &Client{
		RequestBuilder: NewRequestBuilder(opts.Registry, opts.Collection),
		processURL:     opts.ProcessURL,
		maxRetries:     opts.MaxRetries,
		timeout:        opts.Timeout,
		httpClient:     opts.HTTPClient,
		oauth:          oauth,
		limiter:        opts.Limiter,
		sleep:          opts.Sleep,
		logTag:         log.TagSentinelAPI,
	}, nil
}

// Send posts the request, retrying rate limits, server errors and
// transport failures. Every attempt counts against MaxRetries. A transport
// failure on the last attempt is returned as is.
func (c *Client) Send(ctx context.Context, r *Request) (*Response, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	var (
		backoff    int
		lastStatus int
	)
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		var wait time.Duration
		resp, err := c.post(ctx, body)
		switch {
		case err != nil:
			var httpErr *HTTPError
			if errors.As(err, &httpErr) {
				return nil, err
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt == c.maxRetries {
				return nil, err
			}
			wait = min(exp2(backoff), maxNetworkBackoff)
			backoff++
			log.Warn(c.logTag+"request failed", zap.Int("attempt", attempt), zap.Int("maxRetries", c.maxRetries), zap.Error(err))
		case resp.StatusCode == http.StatusOK:
			return resp, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			lastStatus = resp.StatusCode
			wait = retryAfter(resp.Header)
			log.Warn(c.logTag+"rate limit hit", zap.Int("attempt", attempt), zap.Int("maxRetries", c.maxRetries), zap.Duration("wait", wait))
		case retryableStatus(resp.StatusCode):
			lastStatus = resp.StatusCode
			wait = min(exp2(backoff), maxServerBackoff)
			backoff++
			log.Warn(c.logTag+"server error", zap.Int("status", resp.StatusCode), zap.Int("attempt", attempt), zap.Int("maxRetries", c.maxRetries), zap.Duration("wait", wait))
		default:
			return nil, &HTTPError{StatusCode: resp.StatusCode, Detail: detail(resp.Body)}
		}

		if attempt == c.maxRetries {
			break
		}
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, &RetryExhaustedError{Attempts: c.maxRetries, LastStatus: lastStatus}
}

// post performs one attempt: limiter, token, POST, body read. The token is
// fetched here so its failures follow the same retry path as the request.
func (c *Client) post(ctx context.Context, body []byte) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	tok, err := c.accessToken(ctx)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			code := re.Response.StatusCode
			if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
				return nil, &HTTPError{StatusCode: code, Detail: "token request: " + detail(re.Body)}
			}
		}
		return nil, fmt.Errorf("failed to fetch token: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.processURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	tok.SetAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Header:      resp.Header,
		Body:        content,
	}, nil
}

// accessToken returns the cached token or fetches a new one under ctx.
// Concurrent callers share a single fetch.
func (c *Client) accessToken(ctx context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token.Valid() {
		return c.token, nil
	}
	tok, err := c.oauth.Token(context.WithValue(ctx, oauth2.HTTPClient, c.httpClient))
	if err != nil {
		return nil, err
	}
	c.token = tok
	return tok, nil
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryAfter reads the provider's retry-after header, which is in
// milliseconds.
func retryAfter(h http.Header) time.Duration {
	ms, err := strconv.Atoi(strings.TrimSpace(h.Get("Retry-After")))
	if err != nil || ms < 0 {
		return defaultRetryAfter
	}
	return time.Duration(ms) * time.Millisecond
}

func exp2(n int) time.Duration {
	if n > 30 {
		n = 30
	}
	return time.Duration(math.Pow(2, float64(n))) * time.Second
}

// detail prefers the provider's JSON error message and falls back to the
// raw body.
func detail(body []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	s := strings.TrimSpace(string(body))
	if len(s) > maxDetailBytes {
		s = s[:maxDetailBytes]
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
