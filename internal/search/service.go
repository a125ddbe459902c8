package search

import (
	"sort"
	"strings"
	"sync"

	"github.com/crabeye/mcp-bridge/internal/config"
	"github.com/crabeye/mcp-bridge/internal/registry"
	"github.com/crabeye/mcp-bridge/pkg/types"
)

// defaultLimit/maxLimit/maxEnabledSet mirror spec.md §4.4's numeric knobs.
const (
	defaultLimit  = 10
	maxLimit      = 50
	maxEnabledSet = 50
	scoreCutoff   = 0.3
)

// PolicyResolver is the search service's view of the Policy Engine: only
// enough to decide whether a page member should be a live tool or a
// disabled placeholder. Kept as an interface so the two packages don't
// need to import each other.
type PolicyResolver interface {
	Resolve(source, toolName string) config.ToolPolicy
}

// VisibleChangedFunc is invoked whenever the enabled set changes.
type VisibleChangedFunc func()

// Service is the Tool Search Service: an index kept in lock-step with the
// registry, plus the enabled-set bookkeeping that drives tools/list_changed
// notifications downstream.
type Service struct {
	reg      *registry.Registry
	policy   PolicyResolver
	unsub    func()

	mu      sync.RWMutex
	idx     *index
	enabled map[string]struct{}

	obsMu     sync.Mutex
	observers []VisibleChangedFunc
}

// New builds a Service subscribed to reg's changed notifications. Call
// Close to unsubscribe.
func New(reg *registry.Registry, policy PolicyResolver) *Service {
	s := &Service{
		reg:     reg,
		policy:  policy,
		enabled: make(map[string]struct{}),
	}
	s.rebuild()
	s.unsub = reg.OnChanged(s.rebuild)
	return s
}

// Close unsubscribes from the registry.
func (s *Service) Close() {
	if s.unsub != nil {
		s.unsub()
	}
}

func (s *Service) rebuild() {
	tools := s.reg.ListRegisteredTools()
	idx := buildIndex(tools, s.reg.GetCategoryForSource)
	s.mu.Lock()
	s.idx = idx
	s.mu.Unlock()
}

// OnVisibleChanged registers an observer fired after the enabled set
// changes. Returns an unsubscribe function.
func (s *Service) OnVisibleChanged(fn func()) func() {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	idx := len(s.observers)
	s.observers = append(s.observers, fn)
	return func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		if idx < len(s.observers) {
			s.observers[idx] = nil
		}
	}
}

func (s *Service) notifyVisibleChanged() {
	s.obsMu.Lock()
	observers := make([]VisibleChangedFunc, len(s.observers))
	copy(observers, s.observers)
	s.obsMu.Unlock()
	for _, fn := range observers {
		if fn == nil {
			continue
		}
		invokeSafely(fn)
	}
}

func invokeSafely(fn VisibleChangedFunc) {
	defer func() { _ = recover() }()
	fn()
}

// candidate is one detail-mode match carried through filtering/paging.
type candidate struct {
	docIdx int
	score  float64
}

// Search runs every query in params.Queries against the current index,
// implementing the summary/detail split, cross-query dedup, paging and
// policy-placeholder substitution of spec.md §4.4.
func (s *Service) Search(params types.SearchToolsParams) types.SearchToolsResponse {
	s.mu.RLock()
	idx := s.idx
	s.mu.RUnlock()
	if idx == nil {
		idx = &index{byName: map[string]int{}, postings: map[string][]int{}}
	}

	seen := make(map[int]struct{})
	results := make([]types.SearchResult, 0, len(params.Queries))
	newEnabled := make(map[string]struct{})

	for _, q := range params.Queries {
		if q.Tool == "" && q.Provider == "" && q.Category == "" {
			results = append(results, types.SearchResult{Providers: []types.ProviderSummary{}})
			continue
		}

		limit := q.Limit
		if limit <= 0 {
			limit = defaultLimit
		}
		if limit > maxLimit {
			limit = maxLimit
		}
		offset := q.Offset
		if offset < 0 {
			offset = 0
		}

		if q.Tool == "" && !q.ExpandTools {
			results = append(results, s.summaryResult(idx, q))
			continue
		}

		matched := s.detailCandidates(idx, q)
		fresh := make([]candidate, 0, len(matched))
		for _, c := range matched {
			if _, ok := seen[c.docIdx]; ok {
				continue
			}
			fresh = append(fresh, c)
		}
		sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].score > fresh[j].score })

		total := len(fresh)
		page := fresh
		if offset < len(page) {
			page = page[offset:]
		} else {
			page = nil
		}
		if len(page) > limit {
			page = page[:limit]
		}
		for _, c := range fresh {
			seen[c.docIdx] = struct{}{}
		}

		byProvider := make(map[string][]types.Tool)
		var order []string
		for _, c := range page {
			d := idx.docs[c.docIdx]
			tool := d.tool
			if s.policy != nil && s.policy.Resolve(d.source, d.originalName) == config.PolicyNever {
				tool = types.Tool{
					Name:        d.tool.Name,
					Description: "",
					InputSchema: types.ToolInputSchema{},
					Disabled:    true,
				}
			} else {
				newEnabled[d.tool.Name] = struct{}{}
			}
			if _, ok := byProvider[d.source]; !ok {
				order = append(order, d.source)
			}
			byProvider[d.source] = append(byProvider[d.source], tool)
		}

		providers := make([]types.ProviderSummary, 0, len(order))
		for _, source := range order {
			cat, _ := s.reg.GetCategoryForSource(source)
			providers = append(providers, types.ProviderSummary{
				Name:      source,
				Category:  cat,
				ToolCount: sourceToolCount(idx, source),
				Tools:     byProvider[source],
			})
		}

		results = append(results, types.SearchResult{
			Providers: providers,
			Total:     total,
			Count:     len(page),
			Remaining: max0(total - offset - len(page)),
		})
	}

	s.updateEnabledSet(newEnabled)
	return types.SearchToolsResponse{Results: results}
}

func (s *Service) summaryResult(idx *index, q types.SearchToolsQuery) types.SearchResult {
	sources := make(map[string]struct{})
	for _, d := range idx.docs {
		if !matchesProvider(d, q.Provider) || !matchesCategory(d, q.Category) {
			continue
		}
		sources[d.source] = struct{}{}
	}
	names := make([]string, 0, len(sources))
	for source := range sources {
		names = append(names, source)
	}
	sort.Strings(names)

	providers := make([]types.ProviderSummary, 0, len(names))
	for _, source := range names {
		cat, _ := s.reg.GetCategoryForSource(source)
		providers = append(providers, types.ProviderSummary{
			Name:      source,
			Category:  cat,
			ToolCount: sourceToolCount(idx, source),
			Tools:     []types.Tool{},
		})
	}
	return types.SearchResult{Providers: providers, Total: len(providers), Count: len(providers)}
}

func (s *Service) detailCandidates(idx *index, q types.SearchToolsQuery) []candidate {
	var byTool map[int]float64
	if q.Tool != "" {
		byTool = s.matchTool(idx, q.Tool)
	}

	var out []candidate
	for docIdx, d := range idx.docs {
		if !matchesProvider(d, q.Provider) || !matchesCategory(d, q.Category) {
			continue
		}
		score := 1.0
		if byTool != nil {
			s, ok := byTool[docIdx]
			if !ok {
				continue
			}
			score = s
		}
		out = append(out, candidate{docIdx: docIdx, score: score})
	}
	return out
}

// matchTool resolves the `tool` filter to a set of matching doc indices
// with their scores. Returns an empty (non-nil) map when the filter
// matched nothing or failed to compile as a regex; callers distinguish
// "matched nothing" from "no tool filter" via detailCandidates' byTool ==
// nil check instead.
func (s *Service) matchTool(idx *index, filter string) map[int]float64 {
	kind, prefix, re, ok := compileFilter(filter)
	out := make(map[int]float64)
	if !ok {
		return out
	}
	if kind == matchRegex {
		for docIdx, d := range idx.docs {
			if regexMatchesAny(re, d.tool.Name, d.originalName, d.tool.Description, d.source) {
				out[docIdx] = 1.0
			}
		}
		return out
	}

	hits := idx.textQuery(prefix)
	if len(hits) == 0 {
		return out
	}
	top := 0.0
	for _, h := range hits {
		if h.score > top {
			top = h.score
		}
	}
	cutoff := scoreCutoff * top
	for _, h := range hits {
		if h.score >= cutoff {
			out[h.docIdx] = h.score
		}
	}
	return out
}

func matchesProvider(d doc, filter string) bool {
	if filter == "" {
		return true
	}
	return matchesFilter(filter, d.source)
}

func matchesCategory(d doc, filter string) bool {
	if filter == "" {
		return true
	}
	if d.category == "" {
		return false
	}
	return matchesFilter(filter, d.category)
}

func matchesFilter(filter, value string) bool {
	kind, prefix, re, ok := compileFilter(filter)
	if !ok {
		return false
	}
	if kind == matchRegex {
		return re.MatchString(value)
	}
	return len(value) >= len(prefix) && strings.EqualFold(value[:len(prefix)], prefix)
}

func sourceToolCount(idx *index, source string) int {
	n := 0
	for _, d := range idx.docs {
		if d.source == source {
			n++
		}
	}
	return n
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// updateEnabledSet replaces the enabled set with newEnabled (capped at
// maxEnabledSet), notifying observers only if the set actually changed
// (spec.md §4.4: "if it differs from the previous enabled set").
func (s *Service) updateEnabledSet(newEnabled map[string]struct{}) {
	if len(newEnabled) > maxEnabledSet {
		names := make([]string, 0, len(newEnabled))
		for name := range newEnabled {
			names = append(names, name)
		}
		sort.Strings(names)
		newEnabled = make(map[string]struct{}, maxEnabledSet)
		for _, name := range names[:maxEnabledSet] {
			newEnabled[name] = struct{}{}
		}
	}

	s.mu.Lock()
	changed := !sameSet(s.enabled, newEnabled)
	s.enabled = newEnabled
	s.mu.Unlock()

	if changed {
		s.notifyVisibleChanged()
	}
}

func sameSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// VisibleTools returns the two synthetic meta-tools followed by the
// currently enabled set, in an unspecified but stable-per-call order
// (spec.md §4.4).
func (s *Service) VisibleTools() []types.Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Tool, 0, len(s.enabled)+2)
	out = append(out, SearchToolsMetaTool(), RunToolMetaTool())
	names := make([]string, 0, len(s.enabled))
	for name := range s.enabled {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if s.idx == nil {
			continue
		}
		if docIdx, ok := s.idx.byName[name]; ok {
			out = append(out, s.idx.docs[docIdx].tool)
		}
	}
	return out
}
