// Package types holds the records shared by the scanner, scheduler,
// analyzer gateway, store and link applier.
package types

import (
	"path/filepath"
	"strings"
	"time"
)

// ContentType is the analyzer's coarse category for a document.
type ContentType string

const (
	ContentTemplate    ContentType = "template"
	ContentProject     ContentType = "project"
	ContentSession     ContentType = "session"
	ContentTechnical   ContentType = "technical"
	ContentPersonal    ContentType = "personal"
	ContentProtocol    ContentType = "protocol"
	ContentReference   ContentType = "reference"
	ContentBrainMemory ContentType = "brain_memory"
	ContentUnknown     ContentType = "unknown"
)

var contentTypes = map[ContentType]bool{
	ContentTemplate:    true,
	ContentProject:     true,
	ContentSession:     true,
	ContentTechnical:   true,
	ContentPersonal:    true,
	ContentProtocol:    true,
	ContentReference:   true,
	ContentBrainMemory: true,
	ContentUnknown:     true,
}

// ParseContentType normalizes an analyzer-supplied tag. Anything outside the
// enumerated set maps to ContentUnknown.
func ParseContentType(s string) ContentType {
	ct := ContentType(strings.ToLower(strings.TrimSpace(s)))
	if contentTypes[ct] {
		return ct
	}
	return ContentUnknown
}

// Classification is the structured summary the analyzer produced for one
// document. Path is the identity; the store keeps at most one per path.
type Classification struct {
	Path              string      `json:"path"`
	PrimaryTopic      string      `json:"primary_topic"`
	ContentType       ContentType `json:"content_type"`
	KeyConcepts       []string    `json:"key_concepts"`
	TemporalMarkers   []string    `json:"temporal_markers"`
	ProjectReferences []string    `json:"project_references"`
	RelationshipHints []string    `json:"relationship_hints"`
	Confidence        float64     `json:"confidence"`
	AnalyzedAt        time.Time   `json:"analyzed_at"`
	Fingerprint       string      `json:"fingerprint"`
}

// IsStale reports whether the document changed since it was classified.
func (c *Classification) IsStale(currentFingerprint string) bool {
	return c.Fingerprint != currentFingerprint
}

// Name returns the document's display name (file name without extension).
func (c *Classification) Name() string {
	return DisplayName(c.Path)
}

// DisplayName returns the file stem used for wiki links.
func DisplayName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
