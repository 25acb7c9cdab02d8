package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ashita-ai/adpilot/internal/model"
	"github.com/ashita-ai/adpilot/internal/ratelimit"
)

// HTTPProvider reaches each channel through a JSON gateway at a configured
// base URL. Calls are throttled per (channel, account).
type HTTPProvider struct {
	baseURLs   map[string]string
	limiter    ratelimit.Limiter
	httpClient *http.Client
}

// NewHTTPProvider creates a provider. baseURLs maps channel to gateway URL.
func NewHTTPProvider(baseURLs map[string]string, limiter ratelimit.Limiter, timeout time.Duration) *HTTPProvider {
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	urls := make(map[string]string, len(baseURLs))
	for ch, u := range baseURLs {
		if u != "" {
			urls[ch] = strings.TrimRight(u, "/")
		}
	}
	return &HTTPProvider{
		baseURLs:   urls,
		limiter:    limiter,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Client implements Provider.
func (p *HTTPProvider) Client(channel string, creds model.Credentials) (Client, error) {
	base, ok := p.baseURLs[channel]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}
	if creds.AccessToken == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoCredentials, channel)
	}
	return &HTTPClient{
		channel:    channel,
		baseURL:    base,
		token:      creds.AccessToken,
		limiter:    p.limiter,
		httpClient: p.httpClient,
	}, nil
}

// HTTPClient is a Client for one channel's gateway.
type HTTPClient struct {
	channel    string
	baseURL    string
	token      string
	limiter    ratelimit.Limiter
	httpClient *http.Client
}

// APIError is a non-2xx gateway response.
type APIError struct {
	Channel    string
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform: %s %s: status %d: %s", e.Channel, e.Op, e.StatusCode, e.Body)
}

func (c *HTTPClient) call(ctx context.Context, op, accountID string, in, out any) error {
	if err := c.limiter.Wait(ctx, c.channel+":"+accountID); err != nil {
		return fmt.Errorf("platform: %s %s: %w", c.channel, op, err)
	}

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("platform: %s %s: marshal request: %w", c.channel, op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+op, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("platform: %s %s: create request: %w", c.channel, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("platform: %s %s: send request: %w", c.channel, op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{Channel: c.channel, Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("platform: %s %s: decode response: %w", c.channel, op, err)
	}
	return nil
}

func (c *HTTPClient) ListCampaigns(ctx context.Context, accountID, status string) ([]Campaign, error) {
	var out struct {
		Campaigns []Campaign `json:"campaigns"`
	}
	err := c.call(ctx, "campaigns/list", accountID, map[string]any{"account_id": accountID, "status": status}, &out)
	return out.Campaigns, err
}

func (c *HTTPClient) GetInsights(ctx context.Context, q InsightsQuery) ([]Insight, error) {
	var out struct {
		Insights []Insight `json:"insights"`
	}
	err := c.call(ctx, "insights", q.AccountID, q, &out)
	return out.Insights, err
}

func (c *HTTPClient) GetAccountSummary(ctx context.Context, accountID string) (AccountSummary, error) {
	var out AccountSummary
	err := c.call(ctx, "account/summary", accountID, map[string]any{"account_id": accountID}, &out)
	return out, err
}

func (c *HTTPClient) ListCreatives(ctx context.Context, accountID, campaignID string) ([]Creative, error) {
	var out struct {
		Creatives []Creative `json:"creatives"`
	}
	err := c.call(ctx, "creatives/list", accountID, map[string]any{"account_id": accountID, "campaign_id": campaignID}, &out)
	return out.Creatives, err
}

func (c *HTTPClient) UpdateBudget(ctx context.Context, accountID, campaignID string, dailyBudget float64) (Mutation, error) {
	var out Mutation
	err := c.call(ctx, "campaigns/budget", accountID, map[string]any{
		"account_id": accountID, "campaign_id": campaignID, "daily_budget": dailyBudget,
	}, &out)
	return out, err
}

func (c *HTTPClient) UpdateStatus(ctx context.Context, accountID, campaignID, status string) (Mutation, error) {
	var out Mutation
	err := c.call(ctx, "campaigns/status", accountID, map[string]any{
		"account_id": accountID, "campaign_id": campaignID, "status": status,
	}, &out)
	return out, err
}

func (c *HTTPClient) UpdateBid(ctx context.Context, accountID, adSetID string, bid float64) (Mutation, error) {
	var out Mutation
	err := c.call(ctx, "adsets/bid", accountID, map[string]any{
		"account_id": accountID, "ad_set_id": adSetID, "bid_amount": bid,
	}, &out)
	return out, err
}

func (c *HTTPClient) CreateCampaign(ctx context.Context, accountID string, spec CampaignSpec) (Campaign, error) {
	var out Campaign
	err := c.call(ctx, "campaigns/create", accountID, map[string]any{"account_id": accountID, "campaign": spec}, &out)
	return out, err
}

func (c *HTTPClient) CreateCreative(ctx context.Context, accountID string, spec CreativeSpec) (Creative, error) {
	var out Creative
	err := c.call(ctx, "creatives/create", accountID, map[string]any{"account_id": accountID, "creative": spec}, &out)
	return out, err
}

func (c *HTTPClient) UploadMedia(ctx context.Context, accountID string, spec MediaSpec) (MediaAsset, error) {
	var out MediaAsset
	err := c.call(ctx, "media/upload", accountID, map[string]any{"account_id": accountID, "media": spec}, &out)
	return out, err
}
