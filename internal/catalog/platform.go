// Package catalog defines the concrete tools agents can call: platform
// reads and writes over platform.Provider, and memory tools over the
// knowledge and decision stores.
package catalog

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/adpilot/internal/model"
	"github.com/ashita-ai/adpilot/internal/platform"
	"github.com/ashita-ai/adpilot/internal/tools"
)

var (
	channelArg = mcplib.WithString("channel",
		mcplib.Required(),
		mcplib.Description("Advertising channel"),
		mcplib.Enum(platform.ChannelMeta, platform.ChannelGoogle, platform.ChannelTikTok),
	)
	accountArg = mcplib.WithString("account_id",
		mcplib.Required(),
		mcplib.Description("Ad account id on the channel"),
	)
	reasonArg = mcplib.WithString("reason",
		mcplib.Description("Why this change is being made; recorded with the decision"),
	)
)

// clientFor resolves the platform client for the call's channel/account,
// refusing accounts outside the agent's scope.
func clientFor(p platform.Provider, args map[string]any, ac *model.AgentContext) (platform.Client, string, error) {
	channel := tools.AsString(args["channel"])
	accountID := tools.AsString(args["account_id"])
	if !ac.HasAccount(channel, accountID) {
		return nil, "", fmt.Errorf("account %s on %s is not in this agent's scope", accountID, channel)
	}
	creds, ok := ac.Credentials[channel]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", platform.ErrNoCredentials, channel)
	}
	client, err := p.Client(channel, creds)
	if err != nil {
		return nil, "", err
	}
	return client, accountID, nil
}

// PlatformTools returns the data, campaign and material tools backed by p.
func PlatformTools(p platform.Provider) []tools.Tool {
	return []tools.Tool{
		{
			Spec: mcplib.NewTool("list_campaigns",
				mcplib.WithDescription("List campaigns in an ad account with status and daily budget."),
				channelArg, accountArg,
				mcplib.WithString("status",
					mcplib.Description("Filter by status (default ALL)"),
					mcplib.Enum("ACTIVE", "PAUSED", "ALL"),
				),
			),
			Category: model.CategoryData,
			Handler: func(ctx context.Context, args map[string]any, ac *model.AgentContext) (any, error) {
				c, acct, err := clientFor(p, args, ac)
				if err != nil {
					return nil, err
				}
				status := tools.AsString(args["status"])
				if status == "ALL" {
					status = ""
				}
				return c.ListCampaigns(ctx, acct, status)
			},
		},
		{
			Spec: mcplib.NewTool("get_campaign_insights",
				mcplib.WithDescription("Fetch performance metrics (spend, conversions, CPA, ROAS) for an account or one campaign."),
				channelArg, accountArg,
				mcplib.WithString("campaign_id", mcplib.Description("Restrict to one campaign")),
				mcplib.WithString("date_preset",
					mcplib.Description("Reporting window (default last_7d)"),
					mcplib.Enum("today", "yesterday", "last_7d", "last_14d", "last_30d"),
				),
				mcplib.WithString("breakdown",
					mcplib.Description("Optional breakdown dimension"),
					mcplib.Enum("day", "ad_set", "creative", "placement"),
				),
			),
			Category: model.CategoryData,
			Handler: func(ctx context.Context, args map[string]any, ac *model.AgentContext) (any, error) {
				c, acct, err := clientFor(p, args, ac)
				if err != nil {
					return nil, err
				}
				return c.GetInsights(ctx, platform.InsightsQuery{
					AccountID:  acct,
					CampaignID: tools.AsString(args["campaign_id"]),
					DatePreset: stringOr(args["date_preset"], "last_7d"),
					Breakdown:  tools.AsString(args["breakdown"]),
				})
			},
		},
		{
			Spec: mcplib.NewTool("get_account_summary",
				mcplib.WithDescription("Account-level totals: spend, revenue, ROAS and active campaign count."),
				channelArg, accountArg,
			),
			Category: model.CategoryData,
			Handler: func(ctx context.Context, args map[string]any, ac *model.AgentContext) (any, error) {
				c, acct, err := clientFor(p, args, ac)
				if err != nil {
					return nil, err
				}
				return c.GetAccountSummary(ctx, acct)
			},
		},
		{
			Spec: mcplib.NewTool("list_creatives",
				mcplib.WithDescription("List ad creatives (copy, media, status), optionally for one campaign."),
				channelArg, accountArg,
				mcplib.WithString("campaign_id", mcplib.Description("Restrict to one campaign")),
			),
			Category: model.CategoryMaterial,
			Handler: func(ctx context.Context, args map[string]any, ac *model.AgentContext) (any, error) {
				c, acct, err := clientFor(p, args, ac)
				if err != nil {
					return nil, err
				}
				return c.ListCreatives(ctx, acct, tools.AsString(args["campaign_id"]))
			},
		},
		{
			Spec: mcplib.NewTool("get_creative_performance",
				mcplib.WithDescription("Per-creative performance for a campaign, used to spot creative fatigue."),
				channelArg, accountArg,
				mcplib.WithString("campaign_id", mcplib.Required()),
				mcplib.WithString("date_preset",
					mcplib.Description("Reporting window (default last_14d)"),
					mcplib.Enum("last_7d", "last_14d", "last_30d"),
				),
			),
			Category: model.CategoryMaterial,
			Handler: func(ctx context.Context, args map[string]any, ac *model.AgentContext) (any, error) {
				c, acct, err := clientFor(p, args, ac)
				if err != nil {
					return nil, err
				}
				return c.GetInsights(ctx, platform.InsightsQuery{
					AccountID:  acct,
					CampaignID: tools.AsString(args["campaign_id"]),
					DatePreset: stringOr(args["date_preset"], "last_14d"),
					Breakdown:  "creative",
				})
			},
		},

		// Writes.
		{
			Spec: mcplib.NewTool("update_budget",
				mcplib.WithDescription("Set a campaign's daily budget. Include current_budget so the change size can be checked."),
				channelArg, accountArg,
				mcplib.WithString("campaign_id", mcplib.Required()),
				mcplib.WithNumber("daily_budget", mcplib.Required(), mcplib.Description("New daily budget in account currency"), mcplib.Min(0)),
				mcplib.WithNumber("current_budget", mcplib.Description("Current daily budget"), mcplib.Min(0)),
				reasonArg,
			),
			Category:    model.CategoryCampaign,
			IsWrite:     true,
			EntityType:  model.EntityCampaign,
			EntityField: "campaign_id",
			Guardrails: tools.Guardrails{
				RequiredPermission: model.PermManageBudget,
				CooldownMinutes:    60,
				MaxCallsPerRun:     5,
				MaxChangePercent:   50,
				BudgetField:        "daily_budget",
				CurrentField:       "current_budget",
			},
			Handler: func(ctx context.Context, args map[string]any, ac *model.AgentContext) (any, error) {
				c, acct, err := clientFor(p, args, ac)
				if err != nil {
					return nil, err
				}
				budget, _ := tools.AsFloat(args["daily_budget"])
				return c.UpdateBudget(ctx, acct, tools.AsString(args["campaign_id"]), budget)
			},
		},
		{
			Spec: mcplib.NewTool("update_campaign_status",
				mcplib.WithDescription("Pause or activate a campaign."),
				channelArg, accountArg,
				mcplib.WithString("campaign_id", mcplib.Required()),
				mcplib.WithString("status", mcplib.Required(), mcplib.Enum("ACTIVE", "PAUSED")),
				reasonArg,
			),
			Category:    model.CategoryCampaign,
			IsWrite:     true,
			EntityType:  model.EntityCampaign,
			EntityField: "campaign_id",
			Guardrails: tools.Guardrails{
				RequiredPermission: model.PermManageStatus,
				CooldownMinutes:    30,
				MaxCallsPerRun:     10,
			},
			Handler: func(ctx context.Context, args map[string]any, ac *model.AgentContext) (any, error) {
				c, acct, err := clientFor(p, args, ac)
				if err != nil {
					return nil, err
				}
				return c.UpdateStatus(ctx, acct, tools.AsString(args["campaign_id"]), tools.AsString(args["status"]))
			},
		},
		{
			Spec: mcplib.NewTool("update_bid",
				mcplib.WithDescription("Change an ad set's bid amount. Include current_bid so the change size can be checked."),
				channelArg, accountArg,
				mcplib.WithString("ad_set_id", mcplib.Required()),
				mcplib.WithNumber("bid_amount", mcplib.Required(), mcplib.Min(0)),
				mcplib.WithNumber("current_bid", mcplib.Min(0)),
				reasonArg,
			),
			Category:    model.CategoryCampaign,
			IsWrite:     true,
			EntityType:  model.EntityAdSet,
			EntityField: "ad_set_id",
			Guardrails: tools.Guardrails{
				RequiredPermission: model.PermManageBids,
				CooldownMinutes:    60,
				MaxCallsPerRun:     10,
				MaxChangePercent:   30,
				ValueField:         "bid_amount",
				CurrentField:       "current_bid",
			},
			Handler: func(ctx context.Context, args map[string]any, ac *model.AgentContext) (any, error) {
				c, acct, err := clientFor(p, args, ac)
				if err != nil {
					return nil, err
				}
				bid, _ := tools.AsFloat(args["bid_amount"])
				return c.UpdateBid(ctx, acct, tools.AsString(args["ad_set_id"]), bid)
			},
		},
		{
			Spec: mcplib.NewTool("create_campaign",
				mcplib.WithDescription("Create a new campaign. New campaigns start paused."),
				channelArg, accountArg,
				mcplib.WithString("name", mcplib.Required()),
				mcplib.WithString("objective", mcplib.Required(),
					mcplib.Enum("conversions", "traffic", "awareness", "leads", "sales")),
				mcplib.WithNumber("daily_budget", mcplib.Required(), mcplib.Min(0)),
				reasonArg,
			),
			Category:   model.CategoryCampaign,
			IsWrite:    true,
			EntityType: model.EntityCampaign,
			Guardrails: tools.Guardrails{
				RequiredPermission: model.PermCreateEntities,
				MaxCallsPerRun:     3,
				BudgetField:        "daily_budget",
			},
			Handler: func(ctx context.Context, args map[string]any, ac *model.AgentContext) (any, error) {
				c, acct, err := clientFor(p, args, ac)
				if err != nil {
					return nil, err
				}
				budget, _ := tools.AsFloat(args["daily_budget"])
				return c.CreateCampaign(ctx, acct, platform.CampaignSpec{
					Name:        tools.AsString(args["name"]),
					Objective:   tools.AsString(args["objective"]),
					DailyBudget: budget,
				})
			},
		},
		{
			Spec: mcplib.NewTool("create_creative",
				mcplib.WithDescription("Create an ad creative in a campaign from copy and an uploaded media asset."),
				channelArg, accountArg,
				mcplib.WithString("campaign_id", mcplib.Required()),
				mcplib.WithString("name", mcplib.Required()),
				mcplib.WithString("headline", mcplib.Required()),
				mcplib.WithString("body"),
				mcplib.WithString("media_id", mcplib.Description("Id returned by upload_media")),
				mcplib.WithString("landing_url"),
				reasonArg,
			),
			Category:   model.CategoryMaterial,
			IsWrite:    true,
			EntityType: model.EntityCreative,
			Guardrails: tools.Guardrails{
				RequiredPermission: model.PermManageCreatives,
				MaxCallsPerRun:     5,
			},
			Handler: func(ctx context.Context, args map[string]any, ac *model.AgentContext) (any, error) {
				c, acct, err := clientFor(p, args, ac)
				if err != nil {
					return nil, err
				}
				return c.CreateCreative(ctx, acct, platform.CreativeSpec{
					CampaignID: tools.AsString(args["campaign_id"]),
					Name:       tools.AsString(args["name"]),
					Headline:   tools.AsString(args["headline"]),
					Body:       tools.AsString(args["body"]),
					MediaID:    tools.AsString(args["media_id"]),
					LandingURL: tools.AsString(args["landing_url"]),
				})
			},
		},
		{
			Spec: mcplib.NewTool("upload_media",
				mcplib.WithDescription("Upload an image or video by URL to the account's media library."),
				channelArg, accountArg,
				mcplib.WithString("url", mcplib.Required()),
				mcplib.WithString("type", mcplib.Required(), mcplib.Enum("image", "video")),
				reasonArg,
			),
			Category:   model.CategoryMaterial,
			IsWrite:    true,
			EntityType: model.EntityMedia,
			Guardrails: tools.Guardrails{
				RequiredPermission: model.PermManageCreatives,
				MaxCallsPerRun:     10,
			},
			Handler: func(ctx context.Context, args map[string]any, ac *model.AgentContext) (any, error) {
				c, acct, err := clientFor(p, args, ac)
				if err != nil {
					return nil, err
				}
				return c.UploadMedia(ctx, acct, platform.MediaSpec{
					URL:  tools.AsString(args["url"]),
					Type: tools.AsString(args["type"]),
				})
			},
		},
	}
}

func stringOr(v any, def string) string {
	if s := tools.AsString(v); s != "" {
		return s
	}
	return def
}
