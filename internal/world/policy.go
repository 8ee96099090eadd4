package world

import (
	"io/fs"
	"path/filepath"
	"strings"

	"notegraph/internal/config"
)

// Policy decides which files under the vault are analyzed.
type Policy struct {
	// Extension is the only file suffix considered (compared case-insensitively).
	Extension string
	// MaxBytes skips documents larger than this size.
	MaxBytes int64
	// SkipPatterns excludes any path containing one of these substrings,
	// compared case-insensitively against the full path.
	SkipPatterns []string
}

// DefaultPolicy returns the policy of a default configuration.
func DefaultPolicy() Policy {
	return PolicyFromConfig(config.DefaultConfig())
}

// PolicyFromConfig builds the inclusion policy from configuration.
func PolicyFromConfig(cfg *config.Config) Policy {
	ext := cfg.Vault.Extension
	if ext == "" {
		ext = ".md"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	patterns := make([]string, 0, len(cfg.Monitoring.SkipPatterns))
	for _, p := range cfg.Monitoring.SkipPatterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			patterns = append(patterns, p)
		}
	}
	return Policy{
		Extension:    ext,
		MaxBytes:     cfg.MaxFileSizeBytes(),
		SkipPatterns: patterns,
	}
}

// Excluded reports whether path matches a skip pattern.
func (p Policy) Excluded(path string) bool {
	lower := strings.ToLower(filepath.ToSlash(path))
	for _, pat := range p.SkipPatterns {
		if strings.Contains(lower, strings.ToLower(pat)) {
			return true
		}
	}
	return false
}

// HasExtension reports whether path carries the document extension.
func (p Policy) HasExtension(path string) bool {
	return strings.EqualFold(filepath.Ext(path), p.Extension)
}

// Includes reports whether a file should be fingerprinted and analyzed.
func (p Policy) Includes(path string, info fs.FileInfo) bool {
	if info == nil || !info.Mode().IsRegular() {
		return false
	}
	if !p.HasExtension(path) {
		return false
	}
	if p.MaxBytes > 0 && info.Size() > p.MaxBytes {
		return false
	}
	return !p.Excluded(path)
}
