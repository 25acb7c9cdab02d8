// Package platform abstracts the advertising platforms the agents operate.
//
// Each channel (meta, google, tiktok, ...) is reached through a Client
// resolved per run from the caller's credentials. Record shapes are kept
// deliberately small: the agents reason over them, they do not mirror any
// one platform's API.
package platform

import (
	"context"
	"errors"

	"github.com/ashita-ai/adpilot/internal/model"
)

// Channels known to the catalog.
const (
	ChannelMeta   = "meta"
	ChannelGoogle = "google"
	ChannelTikTok = "tiktok"
)

// ErrNoCredentials is returned when a run has no credentials for a channel.
var ErrNoCredentials = errors.New("platform: no credentials for channel")

// ErrUnknownChannel is returned for a channel with no configured endpoint.
var ErrUnknownChannel = errors.New("platform: unknown channel")

type Campaign struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Status      string  `json:"status"`
	Objective   string  `json:"objective,omitempty"`
	DailyBudget float64 `json:"daily_budget"`
}

type Insight struct {
	EntityID    string  `json:"entity_id"`
	Date        string  `json:"date,omitempty"`
	Spend       float64 `json:"spend"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Conversions float64 `json:"conversions"`
	Revenue     float64 `json:"revenue"`
	CTR         float64 `json:"ctr"`
	CPA         float64 `json:"cpa"`
	ROAS        float64 `json:"roas"`
}

type AccountSummary struct {
	AccountID       string  `json:"account_id"`
	Currency        string  `json:"currency"`
	Spend           float64 `json:"spend"`
	Revenue         float64 `json:"revenue"`
	ROAS            float64 `json:"roas"`
	ActiveCampaigns int     `json:"active_campaigns"`
}

type Creative struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaign_id,omitempty"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Headline   string `json:"headline,omitempty"`
	Body       string `json:"body,omitempty"`
	MediaID    string `json:"media_id,omitempty"`
	LandingURL string `json:"landing_url,omitempty"`
}

type MediaAsset struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Type string `json:"type"`
}

// Mutation reports the before/after of a write.
type Mutation struct {
	EntityID string `json:"entity_id"`
	Field    string `json:"field"`
	Previous any    `json:"previous,omitempty"`
	Current  any    `json:"current"`
}

// InsightsQuery selects performance rows.
type InsightsQuery struct {
	AccountID  string `json:"account_id"`
	CampaignID string `json:"campaign_id,omitempty"`
	DatePreset string `json:"date_preset,omitempty"`
	Breakdown  string `json:"breakdown,omitempty"`
}

type CampaignSpec struct {
	Name        string  `json:"name"`
	Objective   string  `json:"objective"`
	DailyBudget float64 `json:"daily_budget"`
}

type CreativeSpec struct {
	CampaignID string `json:"campaign_id"`
	Name       string `json:"name"`
	Headline   string `json:"headline"`
	Body       string `json:"body,omitempty"`
	MediaID    string `json:"media_id,omitempty"`
	LandingURL string `json:"landing_url,omitempty"`
}

type MediaSpec struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

// Client is one channel's read/write surface.
type Client interface {
	ListCampaigns(ctx context.Context, accountID, status string) ([]Campaign, error)
	GetInsights(ctx context.Context, q InsightsQuery) ([]Insight, error)
	GetAccountSummary(ctx context.Context, accountID string) (AccountSummary, error)
	ListCreatives(ctx context.Context, accountID, campaignID string) ([]Creative, error)

	UpdateBudget(ctx context.Context, accountID, campaignID string, dailyBudget float64) (Mutation, error)
	UpdateStatus(ctx context.Context, accountID, campaignID, status string) (Mutation, error)
	UpdateBid(ctx context.Context, accountID, adSetID string, bid float64) (Mutation, error)
	CreateCampaign(ctx context.Context, accountID string, spec CampaignSpec) (Campaign, error)
	CreateCreative(ctx context.Context, accountID string, spec CreativeSpec) (Creative, error)
	UploadMedia(ctx context.Context, accountID string, spec MediaSpec) (MediaAsset, error)
}

// Provider resolves a Client for a channel using run credentials.
type Provider interface {
	Client(channel string, creds model.Credentials) (Client, error)
}
