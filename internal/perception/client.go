// Package perception turns documents into structured analyzer output. It
// owns the LLM backends, the prompts, and the tolerant JSON extraction that
// sits between a free-text model response and typed records.
package perception

import (
	"context"
	"strings"
)

// LLMClient defines the interface for analyzer backends.
type LLMClient interface {
	// Complete sends prompt and returns the raw model response.
	Complete(ctx context.Context, prompt string) (string, error)
	// Name identifies the backend and model for logs and status.
	Name() string
}

// truncateString truncates a string to maxLen bytes, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return strings.ToValidUTF8(s[:maxLen-3], "") + "..."
}
