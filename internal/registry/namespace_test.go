package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNamespaceRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		toolName string
	}{
		{"simple", "linear", "create_issue"},
		{"tool name with double underscore", "github", "list__pulls"},
		{"empty tool name", "linear", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			namespaced := Namespace(tt.source, tt.toolName)
			source, toolName, ok := SplitNamespace(namespaced)
			assert.True(t, ok)
			assert.Equal(t, tt.source, source)
			assert.Equal(t, tt.toolName, toolName)
		})
	}
}

func TestSplitNamespaceNoSeparator(t *testing.T) {
	_, _, ok := SplitNamespace("not_namespaced")
	assert.False(t, ok)
}

func TestSplitNamespaceFirstOccurrenceOnly(t *testing.T) {
	source, toolName, ok := SplitNamespace("linear__create__issue")
	assert.True(t, ok)
	assert.Equal(t, "linear", source)
	assert.Equal(t, "create__issue", toolName)
}
