package workflow

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/shopify-store-mcp/internal/persist"
	"github.com/MrWong99/shopify-store-mcp/internal/ratelimit"
	"github.com/MrWong99/shopify-store-mcp/internal/shopify"
)

// RunGraphQLInput is the input of the run_graphql_query tool.
type RunGraphQLInput struct {
	Query     string         `json:"query" jsonschema:"GraphQL query or mutation document"`
	Variables map[string]any `json:"variables,omitempty" jsonschema:"Variables for the document"`
}

// ConfigureInput is the input of the configure tool.
type ConfigureInput struct {
	Tier       string `json:"tier,omitempty" jsonschema:"Rate limit tier: STANDARD, ADVANCED, PLUS or ENTERPRISE"`
	AutoDetect bool   `json:"autoDetect,omitempty" jsonschema:"Detect the tier from the shop plan"`
}

// HistoryInput is the input of the get_history tool.
type HistoryInput struct {
	ToolName      string `json:"toolName,omitempty" jsonschema:"Only operations of this tool"`
	OperationType string `json:"operationType,omitempty" jsonschema:"query or mutation"`
	Success       *bool  `json:"success,omitempty" jsonschema:"Only successful (true) or failed (false) operations"`
	Since         string `json:"since,omitempty" jsonschema:"RFC 3339 timestamp or YYYY-MM-DD date"`
	Limit         int    `json:"limit,omitempty" jsonschema:"Maximum number of operations, 1 to 500 (default 50)"`
}

// StatsInput is the input of the get_stats tool.
type StatsInput struct {
	Period string `json:"period,omitempty" jsonschema:"day, week or month (default day)"`
}

// TierView is the agent-facing view of a tier configuration.
type TierView struct {
	Name        string `json:"name"`
	Concurrency int    `json:"concurrency"`
	IntervalCap int    `json:"intervalCap"`
	IntervalMs  int64  `json:"intervalMs"`
}

// ViewTier converts a [ratelimit.TierConfig].
func ViewTier(c ratelimit.TierConfig) TierView {
	return TierView{
		Name:        c.Name,
		Concurrency: c.Concurrency,
		IntervalCap: c.IntervalCap,
		IntervalMs:  c.IntervalMs(),
	}
}

// StoreSettings is the configuration reported by the configure tool.
type StoreSettings struct {
	StoreDomain  string         `json:"storeDomain"`
	Tier         ratelimit.Tier `json:"tier"`
	TierConfig   TierView       `json:"tierConfig"`
	AutoDetected bool           `json:"autoDetected"`
	ShopName     string         `json:"shopName,omitempty"`
	ShopPlan     string         `json:"shopPlan,omitempty"`
	SessionID    string         `json:"sessionId,omitempty"`
	Persisted    bool           `json:"persisted"`
}

// ConfigureResult is returned by [Runner.Configure].
type ConfigureResult struct {
	Success        bool                        `json:"success"`
	Config         StoreSettings               `json:"config"`
	AvailableTiers map[ratelimit.Tier]TierView `json:"availableTiers"`
}

// HistoryResult is returned by [Runner.History].
type HistoryResult struct {
	Success    bool                `json:"success"`
	Count      int                 `json:"count"`
	Operations []persist.Operation `json:"operations"`
}

// StatsResult is returned by [Runner.Stats].
type StatsResult struct {
	Success     bool          `json:"success"`
	Period      string        `json:"period"`
	Since       time.Time     `json:"since"`
	SuccessRate float64       `json:"successRate"`
	Stats       persist.Stats `json:"stats"`
}

// ShopInfo returns the shop identity and plan.
func (r *Runner) ShopInfo(ctx context.Context) (json.RawMessage, error) {
	var data json.RawMessage
	if err := r.call(ctx, ToolShopInfo, StepQuery, shopify.DocGetShop, nil, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// RunGraphQL executes an arbitrary document and returns its data.
func (r *Runner) RunGraphQL(ctx context.Context, in RunGraphQLInput) (json.RawMessage, error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, precondition("'query' is required.")
	}
	var data json.RawMessage
	if err := r.call(ctx, ToolRunGraphQL, StepQuery, in.Query, in.Variables, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// Configure switches the rate-limit tier, either to an explicit tier or to
// the tier detected from the shop plan, and persists the choice. With
// neither set it reports the current configuration.
func (r *Runner) Configure(ctx context.Context, in ConfigureInput) (*ConfigureResult, error) {
	var target ratelimit.Tier
	if s := strings.TrimSpace(in.Tier); s != "" {
		t, err := ratelimit.ParseTier(s)
		if err != nil {
			return nil, precondition("Invalid tier %q. Valid values: STANDARD, ADVANCED, PLUS, ENTERPRISE.", s)
		}
		target = t
	}

	cfg := persist.StoreConfig{StoreDomain: r.storeDomain}
	persisted := false
	if r.store != nil {
		stored, ok, err := r.store.LoadStoreConfig(ctx, r.storeDomain)
		switch {
		case err != nil:
			slog.Warn("workflow: load store config failed", "store", r.storeDomain, "err", err)
		case ok:
			cfg, persisted = stored, true
		}
	}

	autoDetected := cfg.AutoDetected
	if in.AutoDetect {
		var resp shopResponse
		if err := r.call(ctx, ToolConfigure, StepQuery, shopify.DocGetShop, nil, &resp); err != nil {
			return nil, err
		}
		cfg.ShopName = resp.Shop.Name
		cfg.ShopPlan = resp.Shop.Plan.DisplayName
		if target == "" {
			target = ratelimit.DetectTier(ratelimit.Plan{
				ShopifyPlus: resp.Shop.Plan.ShopifyPlus,
				DisplayName: resp.Shop.Plan.DisplayName,
			})
			autoDetected = true
		}
	}

	if target != "" {
		if in.Tier != "" {
			autoDetected = false
		}
		if err := r.queue.Update(target); err != nil {
			return nil, err
		}
		slog.Info("workflow: tier changed", "tier", target, "auto_detected", autoDetected)

		cfg.Tier = string(target)
		cfg.AutoDetected = autoDetected
		persisted = false
		if r.store != nil {
			if err := r.store.SaveStoreConfig(ctx, cfg); err != nil {
				slog.Warn("workflow: save store config failed", "store", r.storeDomain, "err", err)
			} else {
				persisted = true
			}
		}
	}

	info := r.queue.TierInfo()
	return &ConfigureResult{
		Success: true,
		Config: StoreSettings{
			StoreDomain:  r.storeDomain,
			Tier:         info.Tier,
			TierConfig:   ViewTier(info.Config),
			AutoDetected: autoDetected,
			ShopName:     cfg.ShopName,
			ShopPlan:     cfg.ShopPlan,
			SessionID:    r.sessionID,
			Persisted:    persisted,
		},
		AvailableTiers: AvailableTiers(),
	}, nil
}

// AvailableTiers returns the view of every tier.
func AvailableTiers() map[ratelimit.Tier]TierView {
	available := make(map[ratelimit.Tier]TierView, len(ratelimit.Configs))
	for _, t := range ratelimit.Tiers() {
		available[t] = ViewTier(ratelimit.Configs[t])
	}
	return available
}

// History lists logged operations of this store, newest first. Variables
// and responses are omitted.
func (r *Runner) History(ctx context.Context, in HistoryInput) (*HistoryResult, error) {
	if r.store == nil {
		return nil, precondition("Operation logging is disabled. Set MCP_LOG_OPERATIONS=true to record history.")
	}
	f := persist.HistoryFilter{
		StoreDomain: r.storeDomain,
		ToolName:    strings.TrimSpace(in.ToolName),
		Success:     in.Success,
		Limit:       in.Limit,
	}
	if in.Limit < 0 || in.Limit > persist.MaxHistoryLimit {
		return nil, precondition("'limit' must be between 1 and %d.", persist.MaxHistoryLimit)
	}
	switch t := strings.ToLower(strings.TrimSpace(in.OperationType)); t {
	case "", "query", "mutation":
		f.OperationType = t
	default:
		return nil, precondition("'operationType' must be query or mutation.")
	}
	if s := strings.TrimSpace(in.Since); s != "" {
		since, err := parseSince(s)
		if err != nil {
			return nil, precondition("'since' must be an RFC 3339 timestamp or a YYYY-MM-DD date.")
		}
		f.Since = since
	}

	ops, err := r.store.History(ctx, f)
	if err != nil {
		return nil, err
	}
	for i := range ops {
		ops[i].Variables = ""
		ops[i].Response = ""
	}
	if ops == nil {
		ops = []persist.Operation{}
	}
	return &HistoryResult{Success: true, Count: len(ops), Operations: ops}, nil
}

// Stats aggregates the operation log of this store over a period.
func (r *Runner) Stats(ctx context.Context, in StatsInput) (*StatsResult, error) {
	if r.store == nil {
		return nil, precondition("Operation logging is disabled. Set MCP_LOG_OPERATIONS=true to record statistics.")
	}
	period := strings.ToLower(strings.TrimSpace(in.Period))
	if period == "" {
		period = "day"
	}
	now := r.now().UTC()
	var since time.Time
	switch period {
	case "day":
		since = now.Add(-24 * time.Hour)
	case "week":
		since = now.AddDate(0, 0, -7)
	case "month":
		since = now.AddDate(0, -1, 0)
	default:
		return nil, precondition("'period' must be day, week or month.")
	}

	st, err := r.store.Stats(ctx, r.storeDomain, since)
	if err != nil {
		return nil, err
	}
	res := &StatsResult{Success: true, Period: period, Since: since, Stats: st}
	if st.TotalCalls > 0 {
		res.SuccessRate = float64(st.SuccessCount) / float64(st.TotalCalls)
	}
	return res, nil
}

func parseSince(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

type shopResponse struct {
	Shop shopify.Shop `json:"shop"`
}
