package registry

import "strings"

// serverToolNameSep is the two-character separator between an upstream
// name and a tool's original name in its namespaced form, e.g.
// "linear__create_issue".
const serverToolNameSep = "__"

// Namespace joins a source name and a tool's original name into its
// externally visible namespaced name.
func Namespace(source, toolName string) string {
	return source + serverToolNameSep + toolName
}

// SplitNamespace splits a namespaced tool name on the first occurrence of
// the separator only, so a tool whose own name contains "__" round-trips
// correctly (spec.md §3, §8 property 1). ok is false if the separator is
// not present at all.
func SplitNamespace(namespaced string) (source, toolName string, ok bool) {
	idx := strings.Index(namespaced, serverToolNameSep)
	if idx < 0 {
		return "", "", false
	}
	return namespaced[:idx], namespaced[idx+len(serverToolNameSep):], true
}
