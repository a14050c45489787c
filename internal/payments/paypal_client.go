package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ErrPayPalNotConfigured is returned when API credentials are missing.
var ErrPayPalNotConfigured = errors.New("payments: paypal api credentials not configured")

// PayPalClientConfig configures PayPalClient.
type PayPalClientConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
}

// PayPalSubscription is the subset of the subscriptions API response used for
// enrichment.
type PayPalSubscription struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	PlanID   string `json:"plan_id"`
	CustomID string `json:"custom_id"`
}

// PayPalClient calls the PayPal REST API with a cached client-credentials token.
type PayPalClient struct {
	baseURL      string
	clientID     string
	clientSecret string
	http         *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	now         func() time.Time
}

func NewPayPalClient(cfg PayPalClientConfig) *PayPalClient {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &PayPalClient{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		http:         cfg.HTTPClient,
		now:          time.Now,
	}
}

// Configured reports whether the client has credentials.
func (c *PayPalClient) Configured() bool {
	return c != nil && c.clientID != "" && c.clientSecret != "" && c.baseURL != ""
}

func (c *PayPalClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("payments: build token request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("payments: paypal token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("payments: paypal token status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("payments: decode paypal token: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("payments: paypal token response missing access_token")
	}

	// Refresh a minute early.
	ttl := time.Duration(tokenResp.ExpiresIn)*time.Second - time.Minute
	if ttl < 0 {
		ttl = 0
	}
	c.token = tokenResp.AccessToken
	c.tokenExpiry = c.now().Add(ttl)
	return c.token, nil
}

// GetSubscription fetches a billing subscription by id.
func (c *PayPalClient) GetSubscription(ctx context.Context, id string) (*PayPalSubscription, error) {
	if !c.Configured() {
		return nil, ErrPayPalNotConfigured
	}
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("payments: subscription id required")
	}
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/v1/billing/subscriptions/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("payments: build subscription request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payments: paypal subscription request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("payments: paypal subscription %s: status %d", id, resp.StatusCode)
	}

	var sub PayPalSubscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, fmt.Errorf("payments: decode paypal subscription: %w", err)
	}
	return &sub, nil
}
