package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"evledger/internal"
	"evledger/ocpi/codec"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultAttempts = 3
	defaultBackoff  = 10 * time.Second
	requestTimeout  = 5 * time.Second
	maxPages        = 1000
)

var ErrTransport = errors.New("ocpi transport error")

// Response is a decoded envelope with the paging headers of the reply
type Response struct {
	Data          json.RawMessage `json:"data,omitempty"`
	StatusCode    int             `json:"status_code"`
	StatusMessage string          `json:"status_message,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Next          string          `json:"-"`
	TotalCount    string          `json:"-"`
}

type Client struct {
	client   *http.Client
	url      string
	token    string
	attempts int
	backoff  time.Duration
	logger   internal.LogHandler
}

func New(url, token string) *Client {
	return &Client{
		url:      strings.TrimSuffix(url, "/"),
		token:    token,
		client:   &http.Client{Timeout: requestTimeout},
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
	}
}

func (c *Client) SetLogger(logger internal.LogHandler) {
	c.logger = logger
}

// SetRetry changes the number of attempts and the base delay between them
func (c *Client) SetRetry(attempts int, backoff time.Duration) {
	if attempts > 0 {
		c.attempts = attempts
	}
	c.backoff = backoff
}

// Send performs the request and decodes the envelope; transport failures and 5xx replies are
// retried, anything else is returned at once
func (c *Client) Send(ctx context.Context, method, endpoint string, data interface{}) (*Response, error) {
	var body []byte
	if data != nil {
		var err error
		body, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshalling body: %w", err)
		}
	}
	correlationId := uuid.NewString()
	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * c.backoff
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		resp, retry, err := c.doRequest(ctx, method, c.target(endpoint), body, correlationId)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retry {
			return nil, err
		}
		c.warn(fmt.Sprintf("ocpi client: %s %s: %v (attempt %d)", method, endpoint, err, attempt+1))
	}
	return nil, lastErr
}

func (c *Client) target(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	return c.url + endpoint
}

// doRequest reports whether a failed request may be retried
func (c *Client) doRequest(ctx context.Context, method, url string, body []byte, correlationId string) (*Response, bool, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.Header.Set("X-Correlation-ID", correlationId)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("%w: reading body: %v", ErrTransport, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, true, fmt.Errorf("%w: status %d", ErrTransport, resp.StatusCode)
	}

	response := &Response{}
	if err = json.Unmarshal(payload, response); err != nil {
		return nil, false, fmt.Errorf("decoding envelope (http %d): %w", resp.StatusCode, err)
	}
	if response.StatusCode != codec.StatusSuccess {
		return nil, false, codec.NewError(response.StatusCode, "%s", response.StatusMessage)
	}
	if next, ok := codec.ParseNextLink(resp.Header.Get("Link")); ok {
		response.Next = next
	}
	response.TotalCount = resp.Header.Get(codec.TotalCountHeader)
	return response, false, nil
}

// GetPages requests endpoint and follows the next links, passing every page to fn
func (c *Client) GetPages(ctx context.Context, endpoint string, limit int, fn func(data json.RawMessage) error) error {
	next := endpoint
	if limit > 0 {
		separator := "?"
		if strings.Contains(endpoint, "?") {
			separator = "&"
		}
		next = fmt.Sprintf("%s%s%s=%d", endpoint, separator, codec.LimitParam, limit)
	}
	seen := make(map[string]bool)
	for page := 0; next != ""; page++ {
		if page >= maxPages || seen[next] {
			return fmt.Errorf("paging %s: link loop at %s", endpoint, next)
		}
		seen[next] = true
		resp, err := c.Send(ctx, http.MethodGet, next, nil)
		if err != nil {
			return err
		}
		if err = fn(resp.Data); err != nil {
			return err
		}
		next = resp.Next
	}
	return nil
}

func (c *Client) warn(text string) {
	if c.logger != nil {
		c.logger.Warn(text)
	}
}
