package translator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/cuongbtq/alliance-chat/internal/translation/domain"
)

// StatusOverloaded is the non-standard status some providers return when at capacity.
const StatusOverloaded = 529

// Request is the translation API request body.
type Request struct {
	Text           string `json:"text"`
	TargetLanguage string `json:"target_language"`
}

// Response is the translation API response body.
type Response struct {
	TranslatedText string `json:"translated_text"`
}

// Client calls the external translation API over HTTP.
// It makes exactly one attempt per call; retries belong to the queue.
type Client struct {
	baseURL string
	apiKey  string
	http    *fasthttp.Client

	defaultTimeout time.Duration
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 30 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 4},
		defaultTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Translate returns text rendered in targetLanguage.
// 429 and 529 responses wrap domain.ErrRateLimited.
func (c *Client) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.baseURL + "/translate")
	req.Header.SetContentType("application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	payload, err := json.Marshal(Request{Text: text, TargetLanguage: targetLanguage})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req.SetBody(payload)

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx)); err != nil {
		return "", fmt.Errorf("translation request failed: %w", err)
	}

	status := resp.StatusCode()
	if isRateLimitStatus(status) {
		return "", fmt.Errorf("%w: status=%d", domain.ErrRateLimited, status)
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("translation api error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
	}

	var out Response
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.TranslatedText, nil
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func isRateLimitStatus(code int) bool {
	return code == fasthttp.StatusTooManyRequests || code == StatusOverloaded
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
