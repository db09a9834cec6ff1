package server

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// promptDef is one canned analysis prompt. render receives the arguments
// with defaults applied.
type promptDef struct {
	prompt *mcpsdk.Prompt
	// defaults fills optional arguments the client left out.
	defaults map[string]string
	// choices restricts arguments to a fixed set of values.
	choices map[string][]string
	render  func(args map[string]string) (string, error)
}

var orderWindows = map[string]string{
	"today": "created_at:>=today",
	"week":  "created_at:>=7_days_ago",
	"month": "created_at:>=30_days_ago",
}

var customerSegments = map[string]string{
	"all":        "",
	"repeat":     "orders_count:>1",
	"high-value": "total_spent:>500",
	"recent":     "updated_at:>=30_days_ago",
}

var prompts = []promptDef{
	{
		prompt: &mcpsdk.Prompt{
			Name:        "analyze-product",
			Title:       "Analyze Product",
			Description: "Analyse a product's variants, pricing, inventory and SEO and suggest improvements.",
			Arguments: []*mcpsdk.PromptArgument{
				{Name: "productId", Description: "Product ID, numeric or gid://shopify/Product/...", Required: true},
			},
		},
		render: func(args map[string]string) (string, error) {
			id := strings.TrimSpace(args["productId"])
			if id == "" {
				return "", errors.New("productId is required")
			}
			if !strings.HasPrefix(id, "gid://") {
				id = "gid://shopify/Product/" + id
			}
			return fmt.Sprintf(`Please analyze the product %q. Use run_graphql_query to fetch product(id: %q) with its title, vendor, productType, status, handle, descriptionHtml, seo and variants (title, sku, price, compareAtPrice, inventoryQuantity). Then provide:

1. **Product Overview**: title, vendor, type and current status
2. **Pricing Analysis**: prices across variants and compare-at prices if set
3. **Inventory Status**: stock levels and variants that are low or out of stock
4. **SEO Review**: handle, title length and description quality
5. **Recommendations**: actionable suggestions to improve the listing

Read shopify://docs/gid-format if the ID is rejected.`, id, id), nil
		},
	},
	{
		prompt: &mcpsdk.Prompt{
			Name:        "summarize-orders",
			Title:       "Summarize Recent Orders",
			Description: "Summarise recent orders: revenue, fulfillment and payment status, top products.",
			Arguments: []*mcpsdk.PromptArgument{
				{Name: "timeframe", Description: "today, week or month (default week)"},
				{Name: "limit", Description: "Number of orders to fetch (default 50)"},
			},
		},
		defaults: map[string]string{"timeframe": "week", "limit": "50"},
		choices:  map[string][]string{"timeframe": {"today", "week", "month"}},
		render: func(args map[string]string) (string, error) {
			limit, err := strconv.Atoi(args["limit"])
			if err != nil || limit < 1 || limit > 250 {
				return "", errors.New("limit must be a number between 1 and 250")
			}
			tf := args["timeframe"]
			return fmt.Sprintf(`Please summarize the orders from the last %s. Use run_graphql_query to fetch orders(first: %d, query: %q) with name, createdAt, displayFinancialStatus, displayFulfillmentStatus, totalPriceSet and lineItems (title, quantity). For larger ranges use bulk_export instead.

Include:
1. **Total Orders**: count and total revenue
2. **Fulfillment Status**: unfulfilled, partially fulfilled and fulfilled
3. **Payment Status**: paid, pending and refunded
4. **Top Products**: most ordered items
5. **Average Order Value**`, tf, limit, orderWindows[tf]), nil
		},
	},
	{
		prompt: &mcpsdk.Prompt{
			Name:        "inventory-health",
			Title:       "Inventory Health Check",
			Description: "Find low-stock, out-of-stock and overstocked items.",
			Arguments: []*mcpsdk.PromptArgument{
				{Name: "threshold", Description: "Low stock threshold (default 10)"},
			},
		},
		defaults: map[string]string{"threshold": "10"},
		render: func(args map[string]string) (string, error) {
			threshold, err := strconv.Atoi(args["threshold"])
			if err != nil || threshold < 0 {
				return "", errors.New("threshold must be a non-negative number")
			}
			return fmt.Sprintf(`Please perform an inventory health check. Use bulk_export with a query over productVariants (sku, inventoryQuantity, product { title }) and inventoryItems with their inventoryLevels per location, then read the JSONL result.

Report:
1. **Low Stock**: variants below %d units
2. **Out of Stock**: variants with zero inventory
3. **Overstock Candidates**: unusually high inventory, if detectable
4. **Distribution**: summary by location if there are several
5. **Action Items**: prioritised restocking list`, threshold), nil
		},
	},
	{
		prompt: &mcpsdk.Prompt{
			Name:        "customer-insights",
			Title:       "Customer Insights",
			Description: "Analyse a customer segment for patterns, VIPs and engagement opportunities.",
			Arguments: []*mcpsdk.PromptArgument{
				{Name: "segment", Description: "all, repeat, high-value or recent (default all)"},
			},
		},
		defaults: map[string]string{"segment": "all"},
		choices:  map[string][]string{"segment": {"all", "repeat", "high-value", "recent"}},
		render: func(args map[string]string) (string, error) {
			seg := args["segment"]
			filter := ""
			if q := customerSegments[seg]; q != "" {
				filter = fmt.Sprintf(" with query %q", q)
			}
			return fmt.Sprintf(`Please analyze the %q customer segment. Use run_graphql_query to fetch customers(first: 100%s) with numberOfOrders, amountSpent, defaultAddress { countryCodeV2 } and tags.

Provide:
1. **Customer Count** in the segment
2. **Engagement**: average orders and total spent
3. **Geography**: where customers are located
4. **VIPs**: top customers by orders or spend
5. **Opportunities** for engagement or retention

Read shopify://docs/query-syntax to refine the filter.`, seg, filter), nil
		},
	},
	{
		prompt: &mcpsdk.Prompt{
			Name:        "custom-query",
			Title:       "Custom GraphQL Query",
			Description: "Build and run a custom Admin API query or mutation for a stated goal.",
			Arguments: []*mcpsdk.PromptArgument{
				{Name: "intent", Description: "What to fetch or change", Required: true},
			},
		},
		render: func(args map[string]string) (string, error) {
			intent := strings.TrimSpace(args["intent"])
			if intent == "" {
				return "", errors.New("intent is required")
			}
			return fmt.Sprintf(`I need a custom Shopify Admin API operation. My goal is: %q

Please:
1. Decide whether this is a query (read) or a mutation (write)
2. Use schema_discover first if custom metafields or metaobjects are involved
3. Build the GraphQL operation and run it with run_graphql_query
4. Explain the result

If unsure of the schema, start with a small query and widen it. Use bulk_export for result sets larger than a few hundred objects.`, intent), nil
		},
	},
}

func (s *Server) registerPrompts() {
	for _, p := range prompts {
		s.sdk.AddPrompt(p.prompt, func(_ context.Context, req *mcpsdk.GetPromptRequest) (*mcpsdk.GetPromptResult, error) {
			args, err := p.arguments(req.Params.Arguments)
			if err != nil {
				return nil, err
			}
			text, err := p.render(args)
			if err != nil {
				return nil, fmt.Errorf("prompt %s: %w", p.prompt.Name, err)
			}
			return &mcpsdk.GetPromptResult{
				Description: p.prompt.Description,
				Messages: []*mcpsdk.PromptMessage{{
					Role:    "user",
					Content: &mcpsdk.TextContent{Text: text},
				}},
			}, nil
		})
	}
}

// arguments applies defaults and checks choices.
func (p promptDef) arguments(in map[string]string) (map[string]string, error) {
	args := make(map[string]string, len(in)+len(p.defaults))
	for k, v := range p.defaults {
		args[k] = v
	}
	for k, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			args[k] = v
		}
	}
	for k, allowed := range p.choices {
		if !slices.Contains(allowed, args[k]) {
			return nil, fmt.Errorf("prompt %s: %s must be one of %s", p.prompt.Name, k, strings.Join(allowed, ", "))
		}
	}
	return args, nil
}
