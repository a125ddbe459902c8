package types

// SearchToolsQuery is a single query object inside a search_tools call.
// Exactly the fields spec.md §4.4 names; all are optional, but at least one
// of Tool/Provider/Category must be set for the bridge server's parameter
// validation to accept the request (the search service itself tolerates an
// empty query by emitting an empty result slot).
type SearchToolsQuery struct {
	Tool        string `json:"tool,omitempty"`
	Provider    string `json:"provider,omitempty"`
	Category    string `json:"category,omitempty"`
	ExpandTools bool   `json:"expand_tools,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	Offset      int    `json:"offset,omitempty"`
}

// SearchToolsParams is the decoded input of a search_tools call.
type SearchToolsParams struct {
	Queries []SearchToolsQuery `json:"queries"`
}

// ProviderSummary is one source's summary-mode entry: its name, how many
// tools it has, and (in detail mode) the tools that matched.
type ProviderSummary struct {
	Name      string `json:"name"`
	Category  string `json:"category,omitempty"`
	ToolCount int    `json:"tool_count"`
	Tools     []Tool `json:"tools"`
}

// SearchResult is the outcome of a single query within a search_tools call.
type SearchResult struct {
	Providers []ProviderSummary `json:"providers"`
	Total     int               `json:"total"`
	Count     int               `json:"count"`
	Remaining int               `json:"remaining"`
}

// SearchToolsResponse is the top-level JSON payload returned as the text
// content of a search_tools call, one SearchResult per input query in order.
type SearchToolsResponse struct {
	Results []SearchResult `json:"results"`
}
