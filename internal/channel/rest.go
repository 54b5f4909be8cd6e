package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/donkynetwork/donky-core-go/internal/notification"
)

const synchronisePath = "/v1/notification/synchronise"

// TokenSource supplies the current network credential for a request.
type TokenSource interface {
	AuthToken() string
}

// RESTChannel exchanges notifications over the polling HTTP API. It is the
// always-available fallback channel.
type RESTChannel struct {
	baseURL    string
	apiKey     string
	tokens     TokenSource
	httpClient *http.Client
	logger     *slog.Logger
	background func() bool
}

// RESTOption configures a RESTChannel.
type RESTOption func(*RESTChannel)

// WithHTTPClient sets a custom HTTP client; its timeout is the only deadline
// this channel applies.
func WithHTTPClient(hc *http.Client) RESTOption {
	return func(c *RESTChannel) { c.httpClient = hc }
}

// WithBackgroundFn supplies the app-state probe reported to the server.
func WithBackgroundFn(fn func() bool) RESTOption {
	return func(c *RESTChannel) { c.background = fn }
}

func NewRESTChannel(baseURL, apiKey string, tokens TokenSource, logger *slog.Logger, opts ...RESTOption) *RESTChannel {
	c := &RESTChannel{
		baseURL:    baseURL,
		apiKey:     apiKey,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		background: func() bool { return false },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RESTChannel) Name() string    { return "rest" }
func (c *RESTChannel) Available() bool { return true }

func (c *RESTChannel) Exchange(ctx context.Context, outbound []notification.Outbound) (*Result, error) {
	reqBody := syncRequest{
		ClientNotifications: outbound,
		IsBackground:        c.background(),
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal exchange request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+synchronisePath, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	if token := c.tokens.AuthToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, NewConnectivityError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, c.rejectionError(resp)
	}

	var body syncResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode exchange response: %w", err)
	}
	return body.toResult(), nil
}

// rejectionError maps a non-2xx response into the exchange taxonomy,
// harvesting field-level validation detail when the server provides it.
func (c *RESTChannel) rejectionError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	ee := &ExchangeError{
		Status: resp.StatusCode,
		Err:    fmt.Errorf("server returned status %d", resp.StatusCode),
	}
	if resp.StatusCode == http.StatusBadRequest {
		var body struct {
			ValidationFailures []struct {
				Property string `json:"property"`
				Details  string `json:"details"`
			} `json:"validationFailures"`
		}
		if err := json.Unmarshal(raw, &body); err == nil && len(body.ValidationFailures) > 0 {
			ee.Fields = make(map[string][]string, len(body.ValidationFailures))
			for _, f := range body.ValidationFailures {
				ee.Fields[f.Property] = append(ee.Fields[f.Property], f.Details)
			}
		}
	}
	c.logger.Warn("exchange rejected", "status", resp.StatusCode, "validation", len(ee.Fields))
	return ee
}

var _ Channel = (*RESTChannel)(nil)
