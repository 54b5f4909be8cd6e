package account

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const authenticatePath = "/v1/authentication/gettoken"

// TokenGate is the default Gate: it tracks the device's network token and
// re-authenticates against the token endpoint when the account is suspended
// or the token has expired.
type TokenGate struct {
	baseURL    string
	apiKey     string
	deviceID   string
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
	suspended bool
}

func NewTokenGate(baseURL, apiKey, deviceID string, httpClient *http.Client, logger *slog.Logger) *TokenGate {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &TokenGate{
		baseURL:    baseURL,
		apiKey:     apiKey,
		deviceID:   deviceID,
		httpClient: httpClient,
		logger:     logger,
	}
}

// IsInitialized reports whether the gate has enough identity to talk to the
// network at all.
func (g *TokenGate) IsInitialized() bool {
	return g.apiKey != "" && g.deviceID != ""
}

// IsRegistered reports whether the device holds a network token.
func (g *TokenGate) IsRegistered() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.token != ""
}

// IsSuspended reports whether the account was flagged suspended or the token
// has expired.
func (g *TokenGate) IsSuspended() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.suspended {
		return true
	}
	return g.token != "" && !g.expiresAt.IsZero() && time.Now().After(g.expiresAt)
}

// MarkSuspended records a server-side suspension signal, typically a 401/403
// that survived re-authentication, so the next gate check routes through
// Authenticate.
func (g *TokenGate) MarkSuspended() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.suspended = true
}

// AuthToken returns the current bearer token, empty when unregistered.
func (g *TokenGate) AuthToken() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.token
}

type tokenResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresOn   time.Time `json:"expiresOn"`
}

// Authenticate fetches a fresh token for the device. The token's own exp
// claim wins over the response envelope when both are present.
func (g *TokenGate) Authenticate(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"deviceId": g.deviceID,
		"apiKey":   g.apiKey,
	})
	if err != nil {
		return fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+authenticatePath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("authenticate: server returned status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return fmt.Errorf("authenticate: empty token in response")
	}

	expiresAt := tr.ExpiresOn
	if exp, ok := tokenExpiry(tr.AccessToken); ok {
		expiresAt = exp
	}

	g.mu.Lock()
	g.token = tr.AccessToken
	g.expiresAt = expiresAt
	g.suspended = false
	g.mu.Unlock()

	g.logger.Info("device authenticated", "deviceId", g.deviceID, "expiresAt", expiresAt)
	return nil
}

// tokenExpiry reads the exp claim without verifying the signature; the
// client only schedules around expiry, the server remains the authority.
func tokenExpiry(token string) (time.Time, bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

var _ Gate = (*TokenGate)(nil)
