// Package search implements the Tool Search Service (spec.md §4.4): a
// searchable, index-backed view over the Tool Registry, plus the two
// synthetic meta-tools (search_tools, run_tool) the bridge server exposes
// to the downstream client.
package search

import (
	"regexp"
	"strings"

	"github.com/crabeye/mcp-bridge/internal/registry"
	"github.com/crabeye/mcp-bridge/pkg/types"
)

// field weights for the text-query scorer. Name and originalName carry the
// same weight since, for unnamespaced sources, they are often identical.
const (
	weightName     = 3.0
	weightOrigName = 3.0
	weightDesc     = 1.0
	weightSource   = 0.5
)

// doc is one indexed tool: its registry entry plus precomputed weighted
// tokens used by the text scorer. The regex matcher tests the raw field
// strings instead.
type doc struct {
	tool         types.Tool
	source       string
	originalName string
	category     string

	terms map[string]float64 // token -> accumulated field weight
}

// index is a simple in-memory inverted index rebuilt wholesale on every
// registry change (spec.md §4.4: "cost is proportional to the number of
// tools, expected to be low hundreds").
type index struct {
	docs    []doc
	byName  map[string]int // namespaced tool name -> index into docs
	postings map[string][]int // token -> doc indices containing it
}

func buildIndex(tools []registry.RegisteredTool, categoryOf func(source string) (string, bool)) *index {
	idx := &index{
		byName:   make(map[string]int, len(tools)),
		postings: make(map[string][]int),
	}
	for _, rt := range tools {
		_, orig, _ := registry.SplitNamespace(rt.Tool.Name)
		if orig == "" {
			orig = rt.Tool.Name
		}
		cat, _ := categoryOf(rt.Source)

		d := doc{
			tool:         rt.Tool,
			source:       rt.Source,
			originalName: orig,
			category:     cat,
			terms:        make(map[string]float64),
		}
		addTerms(d.terms, rt.Tool.Name, weightName)
		addTerms(d.terms, orig, weightOrigName)
		addTerms(d.terms, rt.Tool.Description, weightDesc)
		addTerms(d.terms, rt.Source, weightSource)

		docIdx := len(idx.docs)
		idx.docs = append(idx.docs, d)
		idx.byName[rt.Tool.Name] = docIdx
		for term := range d.terms {
			idx.postings[term] = append(idx.postings[term], docIdx)
		}
	}
	return idx
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

func addTerms(terms map[string]float64, s string, weight float64) {
	for _, tok := range tokenize(s) {
		terms[tok] += weight
	}
}

// scored is one text-query hit.
type scored struct {
	docIdx int
	score  float64
}

// textQuery scores every doc that has a token equal to a query token or,
// for query tokens of 3 or more characters, a token starting with it. For
// each query token the doc's best-weighted matching token is added to its
// score. Callers apply the "score >= 0.3 * top score" cutoff themselves
// (spec.md §4.4).
func (idx *index) textQuery(query string) []scored {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil
	}
	acc := make(map[int]float64)
	for _, tok := range tokens {
		best := make(map[int]float64)
		for term, docs := range idx.postings {
			if term != tok && (len(tok) < 3 || !strings.HasPrefix(term, tok)) {
				continue
			}
			for _, docIdx := range docs {
				if w := idx.docs[docIdx].terms[term]; w > best[docIdx] {
					best[docIdx] = w
				}
			}
		}
		for docIdx, w := range best {
			acc[docIdx] += w
		}
	}
	out := make([]scored, 0, len(acc))
	for docIdx, score := range acc {
		out = append(out, scored{docIdx: docIdx, score: score})
	}
	return out
}

// matchKind classifies how a filter string should be interpreted, per
// spec.md §4.4's `regex:`/`/pattern/flags` conventions.
type matchKind int

const (
	matchText matchKind = iota
	matchRegex
)

// maxRegexPatternLen caps regex filters at 200 characters (spec.md §4.4).
const maxRegexPatternLen = 200

// compileFilter parses a filter string into either a plain lowercase
// prefix string (matchText) or a compiled regex (matchRegex). Returns
// ok=false if the string was meant as a regex but failed to compile, per
// spec.md's "an invalid regex yields an empty set".
func compileFilter(raw string) (kind matchKind, prefix string, re *regexp.Regexp, ok bool) {
	if strings.HasPrefix(raw, "regex:") {
		pattern := strings.TrimPrefix(raw, "regex:")
		re, ok = tryCompile(pattern)
		return matchRegex, "", re, ok
	}
	if len(raw) >= 2 && raw[0] == '/' {
		if end := strings.LastIndexByte(raw, '/'); end > 0 {
			pattern := raw[1:end]
			flags := raw[end+1:]
			re, ok = tryCompile(applyFlags(pattern, flags))
			return matchRegex, "", re, ok
		}
	}
	return matchText, strings.ToLower(raw), nil, true
}

// applyFlags translates a JS-style /pattern/flags suffix into Go's inline
// flag syntax. Go's regexp/syntax has no "v"/"g" flags; those are silently
// dropped rather than rejected, matching a permissive parser.
func applyFlags(pattern, flags string) string {
	var inline strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			inline.WriteRune(f)
		}
	}
	if inline.Len() == 0 {
		return pattern
	}
	return "(?" + inline.String() + ")" + pattern
}

func tryCompile(pattern string) (*regexp.Regexp, bool) {
	if len(pattern) > maxRegexPatternLen {
		pattern = pattern[:maxRegexPatternLen]
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, false
	}
	return re, true
}

func regexMatchesAny(re *regexp.Regexp, values ...string) bool {
	for _, v := range values {
		if re.MatchString(v) {
			return true
		}
	}
	return false
}
