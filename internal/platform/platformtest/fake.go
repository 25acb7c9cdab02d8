// Package platformtest provides an in-memory platform for tests.
package platformtest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ashita-ai/adpilot/internal/model"
	"github.com/ashita-ai/adpilot/internal/platform"
)

// Op is one recorded call against the fake.
type Op struct {
	Channel   string
	Name      string
	AccountID string
	EntityID  string
}

// Fake is a Provider whose clients share one in-memory account state.
// Mutations are applied and recorded; Fail injects errors per operation.
type Fake struct {
	mu        sync.Mutex
	campaigns map[string]map[string]*platform.Campaign // account -> id -> campaign
	creatives map[string][]platform.Creative
	insights  map[string][]platform.Insight
	failures  map[string]error
	ops       []Op
	nextID    int
}

var _ platform.Provider = (*Fake)(nil)

// New creates an empty fake.
func New() *Fake {
	return &Fake{
		campaigns: make(map[string]map[string]*platform.Campaign),
		creatives: make(map[string][]platform.Creative),
		insights:  make(map[string][]platform.Insight),
		failures:  make(map[string]error),
	}
}

// AddCampaign seeds a campaign.
func (f *Fake) AddCampaign(accountID string, c platform.Campaign) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.campaigns[accountID] == nil {
		f.campaigns[accountID] = make(map[string]*platform.Campaign)
	}
	cc := c
	f.campaigns[accountID][c.ID] = &cc
	return f
}

// AddInsight seeds a performance row.
func (f *Fake) AddInsight(accountID string, in platform.Insight) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insights[accountID] = append(f.insights[accountID], in)
	return f
}

// AddCreative seeds a creative.
func (f *Fake) AddCreative(accountID string, c platform.Creative) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creatives[accountID] = append(f.creatives[accountID], c)
	return f
}

// Fail makes the named operation (e.g. "UpdateBudget") return err.
func (f *Fake) Fail(op string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = err
	return f
}

// Ops returns every recorded call.
func (f *Fake) Ops() []Op {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Op(nil), f.ops...)
}

// OpsNamed returns recorded calls of one operation.
func (f *Fake) OpsNamed(name string) []Op {
	var out []Op
	for _, op := range f.Ops() {
		if op.Name == name {
			out = append(out, op)
		}
	}
	return out
}

// Campaign returns a copy of a campaign's current state.
func (f *Fake) Campaign(accountID, id string) (platform.Campaign, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[accountID][id]
	if !ok {
		return platform.Campaign{}, false
	}
	return *c, true
}

// Client implements platform.Provider.
func (f *Fake) Client(channel string, _ model.Credentials) (platform.Client, error) {
	return &client{fake: f, channel: channel}, nil
}

type client struct {
	fake    *Fake
	channel string
}

// record logs the call and returns an injected failure. Caller holds mu.
func (c *client) record(name, accountID, entityID string) error {
	c.fake.ops = append(c.fake.ops, Op{Channel: c.channel, Name: name, AccountID: accountID, EntityID: entityID})
	return c.fake.failures[name]
}

func (c *client) campaign(accountID, id string) (*platform.Campaign, error) {
	camp, ok := c.fake.campaigns[accountID][id]
	if !ok {
		return nil, fmt.Errorf("campaign %s not found in account %s", id, accountID)
	}
	return camp, nil
}

func (c *client) ListCampaigns(_ context.Context, accountID, status string) ([]platform.Campaign, error) {
	c.fake.mu.Lock()
	defer c.fake.mu.Unlock()
	if err := c.record("ListCampaigns", accountID, ""); err != nil {
		return nil, err
	}
	var out []platform.Campaign
	for _, camp := range c.fake.campaigns[accountID] {
		if status == "" || camp.Status == status {
			out = append(out, *camp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *client) GetInsights(_ context.Context, q platform.InsightsQuery) ([]platform.Insight, error) {
	c.fake.mu.Lock()
	defer c.fake.mu.Unlock()
	if err := c.record("GetInsights", q.AccountID, q.CampaignID); err != nil {
		return nil, err
	}
	var out []platform.Insight
	for _, in := range c.fake.insights[q.AccountID] {
		if q.CampaignID == "" || in.EntityID == q.CampaignID {
			out = append(out, in)
		}
	}
	return out, nil
}

func (c *client) GetAccountSummary(_ context.Context, accountID string) (platform.AccountSummary, error) {
	c.fake.mu.Lock()
	defer c.fake.mu.Unlock()
	if err := c.record("GetAccountSummary", accountID, ""); err != nil {
		return platform.AccountSummary{}, err
	}
	s := platform.AccountSummary{AccountID: accountID, Currency: "USD"}
	for _, in := range c.fake.insights[accountID] {
		s.Spend += in.Spend
		s.Revenue += in.Revenue
	}
	if s.Spend > 0 {
		s.ROAS = s.Revenue / s.Spend
	}
	for _, camp := range c.fake.campaigns[accountID] {
		if camp.Status == "ACTIVE" {
			s.ActiveCampaigns++
		}
	}
	return s, nil
}

func (c *client) ListCreatives(_ context.Context, accountID, campaignID string) ([]platform.Creative, error) {
	c.fake.mu.Lock()
	defer c.fake.mu.Unlock()
	if err := c.record("ListCreatives", accountID, campaignID); err != nil {
		return nil, err
	}
	var out []platform.Creative
	for _, cr := range c.fake.creatives[accountID] {
		if campaignID == "" || cr.CampaignID == campaignID {
			out = append(out, cr)
		}
	}
	return out, nil
}

func (c *client) UpdateBudget(_ context.Context, accountID, campaignID string, dailyBudget float64) (platform.Mutation, error) {
	c.fake.mu.Lock()
	defer c.fake.mu.Unlock()
	if err := c.record("UpdateBudget", accountID, campaignID); err != nil {
		return platform.Mutation{}, err
	}
	camp, err := c.campaign(accountID, campaignID)
	if err != nil {
		return platform.Mutation{}, err
	}
	prev := camp.DailyBudget
	camp.DailyBudget = dailyBudget
	return platform.Mutation{EntityID: campaignID, Field: "daily_budget", Previous: prev, Current: dailyBudget}, nil
}

func (c *client) UpdateStatus(_ context.Context, accountID, campaignID, status string) (platform.Mutation, error) {
	c.fake.mu.Lock()
	defer c.fake.mu.Unlock()
	if err := c.record("UpdateStatus", accountID, campaignID); err != nil {
		return platform.Mutation{}, err
	}
	camp, err := c.campaign(accountID, campaignID)
	if err != nil {
		return platform.Mutation{}, err
	}
	prev := camp.Status
	camp.Status = status
	return platform.Mutation{EntityID: campaignID, Field: "status", Previous: prev, Current: status}, nil
}

func (c *client) UpdateBid(_ context.Context, accountID, adSetID string, bid float64) (platform.Mutation, error) {
	c.fake.mu.Lock()
	defer c.fake.mu.Unlock()
	if err := c.record("UpdateBid", accountID, adSetID); err != nil {
		return platform.Mutation{}, err
	}
	return platform.Mutation{EntityID: adSetID, Field: "bid_amount", Current: bid}, nil
}

func (c *client) CreateCampaign(_ context.Context, accountID string, spec platform.CampaignSpec) (platform.Campaign, error) {
	c.fake.mu.Lock()
	defer c.fake.mu.Unlock()
	if err := c.record("CreateCampaign", accountID, ""); err != nil {
		return platform.Campaign{}, err
	}
	c.fake.nextID++
	camp := platform.Campaign{
		ID:          fmt.Sprintf("new-%d", c.fake.nextID),
		Name:        spec.Name,
		Status:      "PAUSED",
		Objective:   spec.Objective,
		DailyBudget: spec.DailyBudget,
	}
	if c.fake.campaigns[accountID] == nil {
		c.fake.campaigns[accountID] = make(map[string]*platform.Campaign)
	}
	stored := camp
	c.fake.campaigns[accountID][camp.ID] = &stored
	return camp, nil
}

func (c *client) CreateCreative(_ context.Context, accountID string, spec platform.CreativeSpec) (platform.Creative, error) {
	c.fake.mu.Lock()
	defer c.fake.mu.Unlock()
	if err := c.record("CreateCreative", accountID, spec.CampaignID); err != nil {
		return platform.Creative{}, err
	}
	c.fake.nextID++
	cr := platform.Creative{
		ID:         fmt.Sprintf("cr-%d", c.fake.nextID),
		CampaignID: spec.CampaignID,
		Name:       spec.Name,
		Status:     "PAUSED",
		Headline:   spec.Headline,
		Body:       spec.Body,
		MediaID:    spec.MediaID,
		LandingURL: spec.LandingURL,
	}
	c.fake.creatives[accountID] = append(c.fake.creatives[accountID], cr)
	return cr, nil
}

func (c *client) UploadMedia(_ context.Context, accountID string, spec platform.MediaSpec) (platform.MediaAsset, error) {
	c.fake.mu.Lock()
	defer c.fake.mu.Unlock()
	if err := c.record("UploadMedia", accountID, ""); err != nil {
		return platform.MediaAsset{}, err
	}
	c.fake.nextID++
	return platform.MediaAsset{ID: fmt.Sprintf("media-%d", c.fake.nextID), URL: spec.URL, Type: spec.Type}, nil
}
